package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopguard/shopguard/internal/auth"
	"github.com/shopguard/shopguard/internal/config"
	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/model"
	"github.com/shopguard/shopguard/internal/repository"
)

// SecurityService is the façade the rest of the platform talks to:
// the login flow, the request-gating middleware, and the admin console
// all go through it. It composes IP reputation, rate limiting, the
// audit trail, and two-factor authentication behind one contract.
type SecurityService struct {
	reputation *IPReputationService
	limiter    *RateLimiterService
	audit      *AuditService
	twoFactor  *TwoFactorService
	tokens     *auth.TokenService
	users      UserStore
	cfg        *config.Config
	log        *logger.Logger
}

// NewSecurityService creates a new SecurityService
func NewSecurityService(
	reputation *IPReputationService,
	limiter *RateLimiterService,
	audit *AuditService,
	twoFactor *TwoFactorService,
	tokens *auth.TokenService,
	users UserStore,
	cfg *config.Config,
	log *logger.Logger,
) *SecurityService {
	return &SecurityService{
		reputation: reputation,
		limiter:    limiter,
		audit:      audit,
		twoFactor:  twoFactor,
		tokens:     tokens,
		users:      users,
		cfg:        cfg,
		log:        log.WithComponent("security"),
	}
}

// --- IP reputation ---

// IsIPBlocked reports whether requests from ip must be refused
func (s *SecurityService) IsIPBlocked(ctx context.Context, ip string) bool {
	return s.reputation.IsBlocked(ctx, ip)
}

// IsIPWhitelisted reports whether ip bypasses rate limiting
func (s *SecurityService) IsIPWhitelisted(ctx context.Context, ip string) bool {
	return s.reputation.IsWhitelisted(ctx, ip)
}

// BlockIP blocks an IP, permanently when durationHours is nil
func (s *SecurityService) BlockIP(ctx context.Context, ip, reason string, blockedBy *string, durationHours *int) error {
	return s.reputation.Block(ctx, ip, reason, blockedBy, durationHours, false)
}

// UnblockIP removes an active block
func (s *SecurityService) UnblockIP(ctx context.Context, ip string, unblockedBy *string) error {
	return s.reputation.Unblock(ctx, ip, unblockedBy)
}

// WhitelistIP adds an IP to the whitelist
func (s *SecurityService) WhitelistIP(ctx context.Context, ip, description string, addedBy *string) error {
	return s.reputation.Whitelist(ctx, ip, description, addedBy)
}

// RemoveFromWhitelist removes an IP from the whitelist
func (s *SecurityService) RemoveFromWhitelist(ctx context.Context, ip string, removedBy *string) error {
	return s.reputation.RemoveFromWhitelist(ctx, ip, removedBy)
}

// ListBlockedIPs returns all active block entries
func (s *SecurityService) ListBlockedIPs(ctx context.Context) ([]*model.IPBlockEntry, error) {
	return s.reputation.ListBlocked(ctx)
}

// ListWhitelistedIPs returns all active whitelist entries
func (s *SecurityService) ListWhitelistedIPs(ctx context.Context) ([]*model.IPWhitelistEntry, error) {
	return s.reputation.ListWhitelisted(ctx)
}

// --- Rate limiting ---

// CheckRateLimit decides whether a request is admitted under the given
// per-endpoint policy
func (s *SecurityService) CheckRateLimit(ctx context.Context, clientIP, endpoint string, maxRequests int, window time.Duration) bool {
	return s.limiter.Allow(ctx, clientIP, endpoint, maxRequests, window)
}

// RateLimitStatus reports window state under the default limits
func (s *SecurityService) RateLimitStatus(ctx context.Context, clientIP, endpoint string) (*RateLimitStatus, error) {
	rl := s.cfg.Security.RateLimiting
	return s.limiter.Status(ctx, clientIP, endpoint, rl.DefaultLimit, rl.DefaultWindow)
}

// RateLimitStatusWith reports window state under an explicit
// per-endpoint policy; used by the gating middleware for headers
func (s *SecurityService) RateLimitStatusWith(ctx context.Context, clientIP, endpoint string, maxRequests int, window time.Duration) (*RateLimitStatus, error) {
	return s.limiter.Status(ctx, clientIP, endpoint, maxRequests, window)
}

// ResetRateLimit clears window state for an IP, optionally scoped to
// one endpoint
func (s *SecurityService) ResetRateLimit(ctx context.Context, clientIP, endpoint string, resetBy *string) error {
	return s.limiter.Reset(ctx, clientIP, endpoint, resetBy)
}

// --- Audit trail ---

// RecordAuditEvent appends an audit entry; it never fails the caller
func (s *SecurityService) RecordAuditEvent(ctx context.Context, entry *model.AuditLogEntry) {
	s.audit.Record(ctx, entry)
}

// QueryAuditLog returns a page of audit entries, newest first
func (s *SecurityService) QueryAuditLog(ctx context.Context, filter model.AuditLogFilter, page, pageSize int) ([]*model.AuditLogEntry, error) {
	return s.audit.Query(ctx, filter, page, pageSize)
}

// SecuritySummary aggregates security activity for a period
func (s *SecurityService) SecuritySummary(ctx context.Context, start, end time.Time) (*model.SecuritySummary, error) {
	return s.audit.Summarize(ctx, start, end)
}

// --- Two-factor authentication ---

// Setup2FA starts two-factor enrollment for a user
func (s *SecurityService) Setup2FA(ctx context.Context, userID string) (*model.TwoFactorSetupResponse, error) {
	return s.twoFactor.Setup(ctx, userID)
}

// Enable2FA completes enrollment with a valid code
func (s *SecurityService) Enable2FA(ctx context.Context, userID, code string) error {
	return s.twoFactor.Enable(ctx, userID, code)
}

// Disable2FA removes two-factor with password and code re-proof
func (s *SecurityService) Disable2FA(ctx context.Context, userID, code, password string) error {
	return s.twoFactor.Disable(ctx, userID, code, password)
}

// VerifyTotp validates a TOTP code
func (s *SecurityService) VerifyTotp(ctx context.Context, userID, code string) error {
	return s.twoFactor.VerifyCode(ctx, userID, code)
}

// VerifyRecoveryCode validates and consumes a recovery code
func (s *SecurityService) VerifyRecoveryCode(ctx context.Context, userID, code string) error {
	return s.twoFactor.VerifyRecoveryCode(ctx, userID, code)
}

// RegenerateRecoveryCodes replaces a user's recovery-code set
func (s *SecurityService) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	return s.twoFactor.RegenerateRecoveryCodes(ctx, userID, code)
}

// TwoFactorStatus reports a user's two-factor state
func (s *SecurityService) TwoFactorStatus(ctx context.Context, userID string) (*model.TwoFactorStatusResponse, error) {
	return s.twoFactor.Status(ctx, userID)
}

// --- Login flow ---

// Login performs first-factor authentication. When the account has
// two-factor enabled it returns ErrTwoFactorRequired instead of a
// session; the caller completes the login with one of the
// CompleteLoginWith* operations.
func (s *SecurityService) Login(ctx context.Context, email, password, clientIP string) (*model.SessionCredential, string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.auditLogin(ctx, email, clientIP, false, "unknown email")
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to get user: %w", err)
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		s.auditLogin(ctx, email, clientIP, false, "wrong password")
		return nil, "", ErrInvalidCredentials
	}
	if user.Status != model.UserStatusActive {
		s.auditLogin(ctx, email, clientIP, false, "account not active")
		return nil, "", ErrAccountNotActive
	}

	status, err := s.twoFactor.Status(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	if status.IsEnabled {
		return nil, user.ID, ErrTwoFactorRequired
	}

	cred, err := s.tokens.IssueSession(user)
	if err != nil {
		return nil, "", err
	}
	s.auditLogin(ctx, email, clientIP, true, "")
	return cred, user.ID, nil
}

// CompleteLoginWithCode finishes a two-factor login with a TOTP code.
// The attempt is audited whether or not it succeeds, and a session
// credential is only issued on success.
func (s *SecurityService) CompleteLoginWithCode(ctx context.Context, userID, code, clientIP string) (*model.SessionCredential, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := s.twoFactor.VerifyCode(ctx, userID, code); err != nil {
		s.auditLogin(ctx, user.Email, clientIP, false, "two-factor code rejected")
		return nil, err
	}

	cred, err := s.tokens.IssueSession(user)
	if err != nil {
		return nil, err
	}
	s.auditLogin(ctx, user.Email, clientIP, true, "")
	return cred, nil
}

// CompleteLoginWithRecoveryCode finishes a two-factor login with a
// single-use recovery code looked up by account email
func (s *SecurityService) CompleteLoginWithRecoveryCode(ctx context.Context, email, code, clientIP string) (*model.SessionCredential, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := s.twoFactor.VerifyRecoveryCode(ctx, user.ID, code); err != nil {
		s.auditLogin(ctx, user.Email, clientIP, false, "recovery code rejected")
		return nil, err
	}

	cred, err := s.tokens.IssueSession(user)
	if err != nil {
		return nil, err
	}
	s.auditLogin(ctx, user.Email, clientIP, true, "")
	return cred, nil
}

// SweepExpiredBlocks deactivates expired IP blocks; used by the
// optional background sweeper
func (s *SecurityService) SweepExpiredBlocks(ctx context.Context) {
	s.reputation.SweepExpired(ctx)
}

func (s *SecurityService) auditLogin(ctx context.Context, email, clientIP string, success bool, failureReason string) {
	entry := &model.AuditLogEntry{
		Actor:        &email,
		Action:       model.AuditActionLogin,
		Category:     model.AuditCategoryAuth,
		IsSuccessful: success,
		RiskLevel:    model.RiskLow,
	}
	if clientIP != "" {
		entry.IPAddress = &clientIP
	}
	if !success {
		entry.Action = model.AuditActionLoginFailed
		entry.RiskLevel = model.RiskMedium
		entry.ErrorMessage = &failureReason
	}
	s.audit.Record(ctx, entry)
}
