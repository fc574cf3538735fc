package model

import "time"

// TwoFactorCredential holds a user's TOTP enrollment. A credential is
// created in the pending state by setup and becomes enabled only after
// the user proves possession of the secret with one valid code.
type TwoFactorCredential struct {
	UserID              string     `json:"userId"`
	SecretKey           string     `json:"-"` // shared TOTP secret, never expose
	IsEnabled           bool       `json:"isEnabled"`
	RecoveryCodeHashes  []string   `json:"-"` // one-way hashes, never expose
	UsedRecoveryCount   int        `json:"usedRecoveryCodeCount"`
	FailedAttemptCount  int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastVerifiedAt      *time.Time `json:"lastVerifiedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Locked reports whether verification attempts are currently rejected
func (c *TwoFactorCredential) Locked(now time.Time) bool {
	return c.LockedUntil != nil && c.LockedUntil.After(now)
}

// TwoFactorSetupResponse is returned once from setup; the plaintext
// recovery codes are never persisted.
type TwoFactorSetupResponse struct {
	QRCodeImage    string   `json:"qrCodeImage"` // base64-encoded PNG
	ManualEntryKey string   `json:"manualEntryKey"`
	RecoveryCodes  []string `json:"recoveryCodes"`
}

// TwoFactorStatusResponse reports a user's two-factor state
type TwoFactorStatusResponse struct {
	IsEnabled              bool       `json:"isEnabled"`
	LastVerifiedAt         *time.Time `json:"lastVerifiedAt,omitempty"`
	RemainingRecoveryCodes int        `json:"remainingRecoveryCodes"`
}

// SessionCredential is issued after a completed two-factor login
type SessionCredential struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
}
