package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopguard/shopguard/internal/auth"
	"github.com/shopguard/shopguard/internal/config"
	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/model"
)

const testUserID = "user-1"

func defaultTwoFactorConfig() config.TwoFactorConfig {
	return config.TwoFactorConfig{
		Issuer:            "ShopGuard",
		Digits:            6,
		Period:            30,
		MaxFailedAttempts: 5,
		LockoutDuration:   15 * time.Minute,
		RecoveryCodeCount: 10,
	}
}

func newTwoFactorForTest(t *testing.T, password string) (*TwoFactorService, *fakeTwoFactorStore, *fakeAuditStore) {
	t.Helper()

	hash, err := auth.HashPassword(password, auth.DefaultParams())
	require.NoError(t, err)

	users := &fakeUserStore{users: map[string]*model.User{
		"alice@example.com": {
			ID:           testUserID,
			Email:        "alice@example.com",
			PasswordHash: hash,
			Status:       model.UserStatusActive,
		},
	}}

	repo := &fakeTwoFactorStore{}
	audit := &fakeAuditStore{}
	log := logger.NewNop()
	auditSvc := NewAuditService(audit, &fakeBlockCounter{}, &fakeTwoFactorCounter{}, log)
	return NewTwoFactorService(repo, users, auditSvc, defaultTwoFactorConfig(), log), repo, audit
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestSetupCreatesPendingCredential(t *testing.T) {
	svc, repo, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)

	assert.NotEmpty(t, resp.QRCodeImage)
	assert.NotEmpty(t, resp.ManualEntryKey)
	require.Len(t, resp.RecoveryCodes, 10)

	require.NotNil(t, repo.cred)
	assert.False(t, repo.cred.IsEnabled, "setup leaves the credential pending")
	assert.Equal(t, resp.ManualEntryKey, repo.cred.SecretKey)

	// Only hashes are persisted, never the plaintext codes
	require.Len(t, repo.cred.RecoveryCodeHashes, 10)
	for _, code := range resp.RecoveryCodes {
		assert.NotContains(t, repo.cred.RecoveryCodeHashes, code)
	}
}

func TestSetupWhilePendingReplacesSecret(t *testing.T) {
	svc, _, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	first, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)
	second, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)

	assert.NotEqual(t, first.ManualEntryKey, second.ManualEntryKey)
}

func TestSetupRejectedWhenEnabled(t *testing.T) {
	svc, _, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)
	require.NoError(t, svc.Enable(ctx, testUserID, currentCode(t, resp.ManualEntryKey)))

	_, err = svc.Setup(ctx, testUserID)
	assert.ErrorIs(t, err, ErrTwoFactorAlreadyEnabled)
}

func TestEnableRequiresValidCode(t *testing.T) {
	svc, repo, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)

	err = svc.Enable(ctx, testUserID, "000000")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.False(t, repo.cred.IsEnabled)

	require.NoError(t, svc.Enable(ctx, testUserID, currentCode(t, resp.ManualEntryKey)))
	assert.True(t, repo.cred.IsEnabled)

	err = svc.Enable(ctx, testUserID, currentCode(t, resp.ManualEntryKey))
	assert.ErrorIs(t, err, ErrTwoFactorAlreadyEnabled)
}

func TestVerifyCodeNotSetUp(t *testing.T) {
	svc, _, _ := newTwoFactorForTest(t, "correct horse")
	err := svc.VerifyCode(context.Background(), testUserID, "123456")
	assert.ErrorIs(t, err, ErrTwoFactorNotSetUp)
}

func TestVerifyCodeSuccessClearsFailures(t *testing.T) {
	svc, repo, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)

	require.ErrorIs(t, svc.VerifyCode(ctx, testUserID, "000000"), ErrInvalidCode)
	require.ErrorIs(t, svc.VerifyCode(ctx, testUserID, "111111"), ErrInvalidCode)
	require.Equal(t, 2, repo.cred.FailedAttemptCount)

	require.NoError(t, svc.VerifyCode(ctx, testUserID, currentCode(t, resp.ManualEntryKey)))
	assert.Equal(t, 0, repo.cred.FailedAttemptCount)
	assert.NotNil(t, repo.cred.LastVerifiedAt)
}

func TestVerifyCodeLockoutAfterMaxFailures(t *testing.T) {
	svc, repo, audit := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err := svc.VerifyCode(ctx, testUserID, "000000")
		require.ErrorIs(t, err, ErrInvalidCode, "attempt %d still reports an invalid code", i+1)
	}

	require.NotNil(t, repo.cred.LockedUntil)
	remaining := time.Until(*repo.cred.LockedUntil)
	assert.Greater(t, remaining, 14*time.Minute)
	assert.LessOrEqual(t, remaining, 15*time.Minute)

	// Locked out: even the right code is rejected, without consuming a slot
	var locked *LockedError
	err = svc.VerifyCode(ctx, testUserID, currentCode(t, resp.ManualEntryKey))
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, *repo.cred.LockedUntil, locked.Until)
	assert.Equal(t, 5, repo.cred.FailedAttemptCount)

	// The lockout itself is audited as a high-risk event, exactly once
	lockEvents := audit.byAction(model.AuditActionTwoFactorLocked)
	require.Len(t, lockEvents, 1)
	assert.Equal(t, model.RiskHigh, lockEvents[0].RiskLevel)
}

func TestVerifyCodeAfterLockoutExpires(t *testing.T) {
	svc, repo, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, svc.VerifyCode(ctx, testUserID, "000000"), ErrInvalidCode)
	}

	// Simulate the cool-down having elapsed
	past := time.Now().Add(-time.Second)
	repo.cred.LockedUntil = &past

	require.NoError(t, svc.VerifyCode(ctx, testUserID, currentCode(t, resp.ManualEntryKey)))
	assert.Equal(t, 0, repo.cred.FailedAttemptCount)
}

func TestRecoveryCodeSingleUse(t *testing.T) {
	svc, repo, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)

	code := resp.RecoveryCodes[0]
	require.NoError(t, svc.VerifyRecoveryCode(ctx, testUserID, code))
	assert.Len(t, repo.cred.RecoveryCodeHashes, 9)

	// The same code cannot be consumed twice
	err = svc.VerifyRecoveryCode(ctx, testUserID, code)
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Len(t, repo.cred.RecoveryCodeHashes, 9)
}

func TestRecoveryCodeNormalization(t *testing.T) {
	svc, _, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)

	// Uppercase with the dash stripped still matches
	raw := strings.ToUpper(strings.ReplaceAll(resp.RecoveryCodes[0], "-", ""))
	assert.NoError(t, svc.VerifyRecoveryCode(ctx, testUserID, raw))
}

func TestRegenerateRecoveryCodesInvalidatesOldSet(t *testing.T) {
	svc, repo, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)
	oldCode := resp.RecoveryCodes[0]

	_, err = svc.RegenerateRecoveryCodes(ctx, testUserID, "000000")
	require.ErrorIs(t, err, ErrInvalidCode, "regeneration needs a valid TOTP code")

	fresh, err := svc.RegenerateRecoveryCodes(ctx, testUserID, currentCode(t, resp.ManualEntryKey))
	require.NoError(t, err)
	assert.Len(t, fresh, 10)
	assert.Len(t, repo.cred.RecoveryCodeHashes, 10)

	err = svc.VerifyRecoveryCode(ctx, testUserID, oldCode)
	assert.ErrorIs(t, err, ErrInvalidCode)
	require.NoError(t, svc.VerifyRecoveryCode(ctx, testUserID, fresh[0]))
}

func TestDisableRequiresPassword(t *testing.T) {
	svc, repo, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)
	require.NoError(t, svc.Enable(ctx, testUserID, currentCode(t, resp.ManualEntryKey)))

	err = svc.Disable(ctx, testUserID, currentCode(t, resp.ManualEntryKey), "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotNil(t, repo.cred, "a failed disable leaves the credential intact")
}

func TestDisableWithTOTPCode(t *testing.T) {
	svc, repo, audit := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)
	require.NoError(t, svc.Enable(ctx, testUserID, currentCode(t, resp.ManualEntryKey)))

	require.NoError(t, svc.Disable(ctx, testUserID, currentCode(t, resp.ManualEntryKey), "correct horse"))
	assert.Nil(t, repo.cred, "disable hard-deletes the credential")

	events := audit.byAction(model.AuditActionTwoFactorDisabled)
	require.Len(t, events, 1)
	assert.Equal(t, model.RiskHigh, events[0].RiskLevel)
}

func TestDisableWithRecoveryCode(t *testing.T) {
	svc, repo, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)
	require.NoError(t, svc.Enable(ctx, testUserID, currentCode(t, resp.ManualEntryKey)))

	require.NoError(t, svc.Disable(ctx, testUserID, resp.RecoveryCodes[3], "correct horse"))
	assert.Nil(t, repo.cred)
}

func TestDisableWithBadCodeCountsAsFailure(t *testing.T) {
	svc, repo, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)
	require.NoError(t, svc.Enable(ctx, testUserID, currentCode(t, resp.ManualEntryKey)))

	err = svc.Disable(ctx, testUserID, "not-a-code", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCode)
	require.NotNil(t, repo.cred)
	assert.Equal(t, 1, repo.cred.FailedAttemptCount)
	assert.True(t, repo.cred.IsEnabled)
}

func TestStatus(t *testing.T) {
	svc, _, _ := newTwoFactorForTest(t, "correct horse")
	ctx := context.Background()

	status, err := svc.Status(ctx, testUserID)
	require.NoError(t, err)
	assert.False(t, status.IsEnabled)
	assert.Zero(t, status.RemainingRecoveryCodes)

	resp, err := svc.Setup(ctx, testUserID)
	require.NoError(t, err)
	require.NoError(t, svc.Enable(ctx, testUserID, currentCode(t, resp.ManualEntryKey)))
	require.NoError(t, svc.VerifyRecoveryCode(ctx, testUserID, resp.RecoveryCodes[0]))

	status, err = svc.Status(ctx, testUserID)
	require.NoError(t, err)
	assert.True(t, status.IsEnabled)
	assert.Equal(t, 9, status.RemainingRecoveryCodes)
	assert.NotNil(t, status.LastVerifiedAt)
}
