package model

import "time"

// AuditCategory classifies an audit log entry
type AuditCategory string

const (
	AuditCategoryAuth     AuditCategory = "auth"
	AuditCategorySecurity AuditCategory = "security"
	AuditCategoryAdmin    AuditCategory = "admin"
	AuditCategoryOrder    AuditCategory = "order"
	AuditCategoryUser     AuditCategory = "user"
	AuditCategorySystem   AuditCategory = "system"
	AuditCategoryPayment  AuditCategory = "payment"
	AuditCategoryProduct  AuditCategory = "product"
)

// RiskLevel grades the severity of an audit log entry
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AuditLogEntry represents a single append-only audit record. Entries are
// never mutated or deleted by the core.
type AuditLogEntry struct {
	ID           string                 `json:"id"`
	Actor        *string                `json:"actor,omitempty"`
	Action       string                 `json:"action"`
	Category     AuditCategory          `json:"category"`
	EntityType   *string                `json:"entityType,omitempty"`
	EntityID     *string                `json:"entityId,omitempty"`
	BeforeValue  *string                `json:"beforeValue,omitempty"`
	AfterValue   *string                `json:"afterValue,omitempty"`
	IPAddress    *string                `json:"ipAddress,omitempty"`
	UserAgent    *string                `json:"userAgent,omitempty"`
	Endpoint     *string                `json:"endpoint,omitempty"`
	HTTPMethod   *string                `json:"httpMethod,omitempty"`
	IsSuccessful bool                   `json:"isSuccessful"`
	ErrorMessage *string                `json:"errorMessage,omitempty"`
	RiskLevel    RiskLevel              `json:"riskLevel"`
	Details      map[string]interface{} `json:"details,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Audit action constants
const (
	AuditActionLogin                  = "user.login"
	AuditActionLoginFailed            = "user.login_failed"
	AuditActionRateLimitExceeded      = "security.rate_limit_exceeded"
	AuditActionIPBlocked              = "security.ip_blocked"
	AuditActionIPUnblocked            = "security.ip_unblocked"
	AuditActionIPWhitelisted          = "security.ip_whitelisted"
	AuditActionIPWhitelistRemoved     = "security.ip_whitelist_removed"
	AuditActionRateLimitReset         = "security.rate_limit_reset"
	AuditActionTwoFactorSetup         = "two_factor.setup"
	AuditActionTwoFactorEnabled       = "two_factor.enabled"
	AuditActionTwoFactorDisabled      = "two_factor.disabled"
	AuditActionTwoFactorVerified      = "two_factor.verified"
	AuditActionTwoFactorFailed        = "two_factor.verification_failed"
	AuditActionTwoFactorLocked        = "two_factor.locked_out"
	AuditActionRecoveryCodeUsed       = "two_factor.recovery_code_used"
	AuditActionRecoveryCodesGenerated = "two_factor.recovery_codes_generated"
)

// AuditLogFilter narrows an audit log query. Zero values mean "no filter".
type AuditLogFilter struct {
	Actor     string
	Category  AuditCategory
	Action    string
	RiskLevel RiskLevel
	IPAddress string
	// Success filters on the is_successful flag when non-nil
	Success   *bool
	StartDate *time.Time
	EndDate   *time.Time
}

// SecuritySummary aggregates security activity over a period
type SecuritySummary struct {
	TotalLoginAttempts        int64 `json:"totalLoginAttempts"`
	FailedLoginAttempts       int64 `json:"failedLoginAttempts"`
	ActiveBlockedIPs          int64 `json:"activeBlockedIps"`
	RateLimitExceededCount    int64 `json:"rateLimitExceededCount"`
	HighRiskEventCount        int64 `json:"highRiskEventCount"`
	UsersWithTwoFactorEnabled int64 `json:"usersWithTwoFactorEnabled"`
}
