package model

import "time"

// IPBlockEntry represents a blacklisted IP address. At most one active
// entry exists per address; re-blocking reactivates the existing row.
type IPBlockEntry struct {
	IPAddress   string     `json:"ipAddress"`
	Reason      string     `json:"reason"`
	CreatedBy   *string    `json:"createdBy,omitempty"`
	IsAutomatic bool       `json:"isAutomatic"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"` // nil means permanent
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Expired reports whether the block has an expiry in the past
func (e *IPBlockEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// IPWhitelistEntry represents a whitelisted IP address. Whitelisting
// bypasses rate limiting only; it does not override an active block.
type IPWhitelistEntry struct {
	IPAddress   string    `json:"ipAddress"`
	Description string    `json:"description"`
	AddedBy     *string   `json:"addedBy,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}
