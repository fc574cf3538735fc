package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/shopguard/shopguard/internal/auth"
	"github.com/shopguard/shopguard/internal/config"
	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/model"
	"github.com/shopguard/shopguard/internal/repository"
)

const recoveryCodeLength = 8 // characters per code

// TwoFactorStore is the durable credential store.
// Implemented by repository.TwoFactorRepository.
type TwoFactorStore interface {
	GetByUserID(ctx context.Context, userID string) (*model.TwoFactorCredential, error)
	UpsertPending(ctx context.Context, userID, secretKey string, recoveryHashes []string, now time.Time) error
	SetEnabled(ctx context.Context, userID string, now time.Time) error
	Delete(ctx context.Context, userID string) error
	RecordFailure(ctx context.Context, userID string, threshold int, lockedUntil time.Time, now time.Time) (int, *time.Time, error)
	ClearFailures(ctx context.Context, userID string, verifiedAt time.Time) error
	ConsumeRecoveryCode(ctx context.Context, userID, codeHash string, now time.Time) (bool, error)
	ReplaceRecoveryCodes(ctx context.Context, userID string, recoveryHashes []string, now time.Time) error
	CountEnabled(ctx context.Context) (int64, error)
}

// UserStore is the minimal account lookup the two-factor flows need
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// TwoFactorService manages the TOTP credential lifecycle: a credential
// is created pending by Setup, enabled once the user verifies a code,
// and destroyed entirely by Disable. Repeated verification failures
// lock the user out for a configured cool-down.
type TwoFactorService struct {
	repo  TwoFactorStore
	users UserStore
	audit *AuditService
	cfg   config.TwoFactorConfig
	log   *logger.Logger
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(repo TwoFactorStore, users UserStore, audit *AuditService, cfg config.TwoFactorConfig, log *logger.Logger) *TwoFactorService {
	return &TwoFactorService{
		repo:  repo,
		users: users,
		audit: audit,
		cfg:   cfg,
		log:   log.WithComponent("two_factor"),
	}
}

// Setup generates a fresh secret and recovery codes for a user and
// stores the credential in the pending state. Plaintext recovery codes
// are returned exactly once; only their hashes are persisted. Calling
// Setup again while pending replaces the secret; while enabled it is
// rejected, the user must disable first.
func (s *TwoFactorService) Setup(ctx context.Context, userID string) (*model.TwoFactorSetupResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	existing, err := s.repo.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check two-factor state: %w", err)
	}
	if existing != nil && existing.IsEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: user.Email,
		Period:      uint(s.cfg.Period),
		Digits:      otp.Digits(s.cfg.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	plainCodes, hashes, err := generateRecoveryCodes(s.cfg.RecoveryCodeCount)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpsertPending(ctx, userID, key.Secret(), hashes, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to store two-factor credential: %w", err)
	}

	qrPNG, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	s.audit.Record(ctx, &model.AuditLogEntry{
		Actor:        &user.Email,
		Action:       model.AuditActionTwoFactorSetup,
		Category:     model.AuditCategoryAuth,
		EntityType:   strPtr("user"),
		EntityID:     &userID,
		IsSuccessful: true,
		RiskLevel:    model.RiskLow,
	})

	s.log.Info().Str("user_id", userID).Msg("two-factor setup initiated")

	return &model.TwoFactorSetupResponse{
		QRCodeImage:    base64.StdEncoding.EncodeToString(qrPNG),
		ManualEntryKey: key.Secret(),
		RecoveryCodes:  plainCodes,
	}, nil
}

// VerifyCode validates a TOTP code for a user. A locked-out user is
// rejected immediately without consuming an attempt slot. Success
// clears the failure counter; failure increments it atomically, and the
// attempt that reaches the threshold sets the lockout.
func (s *TwoFactorService) VerifyCode(ctx context.Context, userID, code string) error {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTwoFactorNotSetUp
		}
		return fmt.Errorf("failed to get two-factor credential: %w", err)
	}

	now := time.Now()
	if cred.Locked(now) {
		return &LockedError{Until: *cred.LockedUntil}
	}

	if !s.validTOTP(code, cred.SecretKey, now) {
		return s.recordFailedAttempt(ctx, userID, now)
	}

	if err := s.repo.ClearFailures(ctx, userID, now); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to clear two-factor failures")
	}

	s.audit.Record(ctx, &model.AuditLogEntry{
		Action:       model.AuditActionTwoFactorVerified,
		Category:     model.AuditCategoryAuth,
		EntityType:   strPtr("user"),
		EntityID:     &userID,
		IsSuccessful: true,
		RiskLevel:    model.RiskLow,
	})
	return nil
}

// Enable flips a pending credential to enabled after one successful
// code verification
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) error {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTwoFactorNotSetUp
		}
		return fmt.Errorf("failed to get two-factor credential: %w", err)
	}
	if cred.IsEnabled {
		return ErrTwoFactorAlreadyEnabled
	}

	if err := s.VerifyCode(ctx, userID, code); err != nil {
		return err
	}

	if err := s.repo.SetEnabled(ctx, userID, time.Now()); err != nil {
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}

	s.audit.Record(ctx, &model.AuditLogEntry{
		Action:       model.AuditActionTwoFactorEnabled,
		Category:     model.AuditCategoryAuth,
		EntityType:   strPtr("user"),
		EntityID:     &userID,
		IsSuccessful: true,
		RiskLevel:    model.RiskMedium,
	})

	s.log.Info().Str("user_id", userID).Msg("two-factor enabled")
	return nil
}

// Disable removes a user's two-factor credential. It requires re-proof:
// the account password must check out AND the caller must present a
// valid TOTP code or recovery code. The secret and recovery codes are
// hard-deleted, not merely flagged off.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTwoFactorNotSetUp
		}
		return fmt.Errorf("failed to get two-factor credential: %w", err)
	}

	now := time.Now()
	if cred.Locked(now) {
		return &LockedError{Until: *cred.LockedUntil}
	}

	// Either factor proves possession; the recovery path covers a lost
	// authenticator device.
	if !s.validTOTP(code, cred.SecretKey, now) {
		consumed, err := s.repo.ConsumeRecoveryCode(ctx, userID, hashRecoveryCode(code), now)
		if err != nil {
			return fmt.Errorf("failed to consume recovery code: %w", err)
		}
		if !consumed {
			return s.recordFailedAttempt(ctx, userID, now)
		}
	}

	if err := s.repo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete two-factor credential: %w", err)
	}

	s.audit.Record(ctx, &model.AuditLogEntry{
		Actor:        &user.Email,
		Action:       model.AuditActionTwoFactorDisabled,
		Category:     model.AuditCategorySecurity,
		EntityType:   strPtr("user"),
		EntityID:     &userID,
		IsSuccessful: true,
		RiskLevel:    model.RiskHigh,
	})

	s.log.Info().Str("user_id", userID).Msg("two-factor disabled")
	return nil
}

// VerifyRecoveryCode validates and consumes a single-use recovery code.
// Consumption is atomic in the store, so a racing reuse of the same
// code succeeds exactly once. A non-match reveals nothing about how
// many codes remain.
func (s *TwoFactorService) VerifyRecoveryCode(ctx context.Context, userID, code string) error {
	if _, err := s.repo.GetByUserID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTwoFactorNotSetUp
		}
		return fmt.Errorf("failed to get two-factor credential: %w", err)
	}

	consumed, err := s.repo.ConsumeRecoveryCode(ctx, userID, hashRecoveryCode(code), time.Now())
	if err != nil {
		return fmt.Errorf("failed to consume recovery code: %w", err)
	}
	if !consumed {
		return ErrInvalidCode
	}

	s.audit.Record(ctx, &model.AuditLogEntry{
		Action:       model.AuditActionRecoveryCodeUsed,
		Category:     model.AuditCategoryAuth,
		EntityType:   strPtr("user"),
		EntityID:     &userID,
		IsSuccessful: true,
		RiskLevel:    model.RiskMedium,
	})

	s.log.Info().Str("user_id", userID).Msg("recovery code used")
	return nil
}

// RegenerateRecoveryCodes replaces the whole recovery-code set after a
// valid TOTP code and resets the used counter
func (s *TwoFactorService) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	if err := s.VerifyCode(ctx, userID, code); err != nil {
		return nil, err
	}

	plainCodes, hashes, err := generateRecoveryCodes(s.cfg.RecoveryCodeCount)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceRecoveryCodes(ctx, userID, hashes, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to replace recovery codes: %w", err)
	}

	s.audit.Record(ctx, &model.AuditLogEntry{
		Action:       model.AuditActionRecoveryCodesGenerated,
		Category:     model.AuditCategoryAuth,
		EntityType:   strPtr("user"),
		EntityID:     &userID,
		IsSuccessful: true,
		RiskLevel:    model.RiskMedium,
	})

	s.log.Info().Str("user_id", userID).Int("count", len(plainCodes)).Msg("recovery codes regenerated")
	return plainCodes, nil
}

// Status reports a user's two-factor state. An unset user gets the
// zero status rather than an error.
func (s *TwoFactorService) Status(ctx context.Context, userID string) (*model.TwoFactorStatusResponse, error) {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.TwoFactorStatusResponse{}, nil
		}
		return nil, fmt.Errorf("failed to get two-factor credential: %w", err)
	}

	return &model.TwoFactorStatusResponse{
		IsEnabled:              cred.IsEnabled,
		LastVerifiedAt:         cred.LastVerifiedAt,
		RemainingRecoveryCodes: len(cred.RecoveryCodeHashes),
	}, nil
}

func (s *TwoFactorService) validTOTP(code, secret string, now time.Time) bool {
	valid, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    uint(s.cfg.Period),
		Skew:      1, // one step of clock drift either way
		Digits:    otp.Digits(s.cfg.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

func (s *TwoFactorService) recordFailedAttempt(ctx context.Context, userID string, now time.Time) error {
	count, lockedUntil, err := s.repo.RecordFailure(ctx, userID, s.cfg.MaxFailedAttempts, now.Add(s.cfg.LockoutDuration), now)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to record two-factor failure")
		return ErrInvalidCode
	}

	s.audit.Record(ctx, &model.AuditLogEntry{
		Action:       model.AuditActionTwoFactorFailed,
		Category:     model.AuditCategoryAuth,
		EntityType:   strPtr("user"),
		EntityID:     &userID,
		IsSuccessful: false,
		RiskLevel:    model.RiskLow,
		Details:      map[string]interface{}{"failedAttempts": count},
	})

	if count == s.cfg.MaxFailedAttempts && lockedUntil != nil {
		s.audit.Record(ctx, &model.AuditLogEntry{
			Action:       model.AuditActionTwoFactorLocked,
			Category:     model.AuditCategorySecurity,
			EntityType:   strPtr("user"),
			EntityID:     &userID,
			IsSuccessful: false,
			RiskLevel:    model.RiskHigh,
			Details:      map[string]interface{}{"lockedUntil": lockedUntil},
		})
		s.log.Warn().Str("user_id", userID).Time("locked_until", *lockedUntil).Msg("two-factor locked out")
	}

	return ErrInvalidCode
}

// --- Helpers ---

func generateRecoveryCodes(count int) (plain []string, hashes []string, err error) {
	plain = make([]string, count)
	hashes = make([]string, count)
	for i := 0; i < count; i++ {
		code, err := generateRecoveryCode()
		if err != nil {
			return nil, nil, err
		}
		plain[i] = code
		hashes[i] = hashRecoveryCode(code)
	}
	return plain, hashes, nil
}

func generateRecoveryCode() (string, error) {
	const charset = "0123456789abcdefghjkmnpqrstuvwxyz" // no i, l, o to avoid confusion
	b := make([]byte, recoveryCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate recovery code: %w", err)
	}
	code := make([]byte, recoveryCodeLength)
	for i := range code {
		code[i] = charset[int(b[i])%len(charset)]
	}
	// Format as xxxx-xxxx
	return string(code[:4]) + "-" + string(code[4:]), nil
}

func hashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeRecoveryCode(code)))
	return hex.EncodeToString(sum[:])
}

func normalizeRecoveryCode(code string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

func strPtr(s string) *string {
	return &s
}
