package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/shopguard/shopguard/internal/database"
	"github.com/shopguard/shopguard/internal/model"
)

// TwoFactorRepository handles two-factor credential persistence.
// Failure counting and recovery-code consumption are single SQL
// statements so that concurrent verification attempts for the same
// user serialize on the row instead of racing in application code.
type TwoFactorRepository struct {
	db *database.Postgres
}

// NewTwoFactorRepository creates a new TwoFactorRepository
func NewTwoFactorRepository(db *database.Postgres) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

// GetByUserID retrieves a user's two-factor credential
func (r *TwoFactorRepository) GetByUserID(ctx context.Context, userID string) (*model.TwoFactorCredential, error) {
	query := `
		SELECT user_id, secret_key, is_enabled, recovery_code_hashes, used_recovery_count,
		    failed_attempt_count, locked_until, last_verified_at, created_at, updated_at
		FROM two_factor_credentials
		WHERE user_id = $1
	`
	var c model.TwoFactorCredential
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&c.UserID,
		&c.SecretKey,
		&c.IsEnabled,
		pq.Array(&c.RecoveryCodeHashes),
		&c.UsedRecoveryCount,
		&c.FailedAttemptCount,
		&c.LockedUntil,
		&c.LastVerifiedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get two-factor credential: %w", err)
	}
	return &c, nil
}

// UpsertPending creates a fresh pending credential, or replaces the
// secret and recovery codes of an existing one. Counters and lockout
// are reset; the credential is not enabled by this call.
func (r *TwoFactorRepository) UpsertPending(ctx context.Context, userID, secretKey string, recoveryHashes []string, now time.Time) error {
	query := `
		INSERT INTO two_factor_credentials
		    (user_id, secret_key, is_enabled, recovery_code_hashes, used_recovery_count,
		     failed_attempt_count, locked_until, last_verified_at, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, 0, 0, NULL, NULL, $4, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			secret_key = EXCLUDED.secret_key,
			is_enabled = FALSE,
			recovery_code_hashes = EXCLUDED.recovery_code_hashes,
			used_recovery_count = 0,
			failed_attempt_count = 0,
			locked_until = NULL,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, userID, secretKey, pq.Array(recoveryHashes), now)
	if err != nil {
		return fmt.Errorf("failed to upsert two-factor credential: %w", err)
	}
	return nil
}

// SetEnabled flips a pending credential to enabled
func (r *TwoFactorRepository) SetEnabled(ctx context.Context, userID string, now time.Time) error {
	query := `UPDATE two_factor_credentials SET is_enabled = TRUE, updated_at = $2 WHERE user_id = $1`
	res, err := r.db.ExecContext(ctx, query, userID, now)
	if err != nil {
		return fmt.Errorf("failed to enable two-factor credential: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a user's credential entirely. Disable is a hard
// invalidation: the secret and recovery codes do not survive it.
func (r *TwoFactorRepository) Delete(ctx context.Context, userID string) error {
	query := `DELETE FROM two_factor_credentials WHERE user_id = $1`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete two-factor credential: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFailure atomically increments the failed-attempt counter and,
// when the counter reaches the threshold, sets the lockout deadline.
// Returns the counter value and lockout as seen by this statement.
func (r *TwoFactorRepository) RecordFailure(ctx context.Context, userID string, threshold int, lockedUntil time.Time, now time.Time) (int, *time.Time, error) {
	query := `
		UPDATE two_factor_credentials
		SET failed_attempt_count = failed_attempt_count + 1,
		    locked_until = CASE WHEN failed_attempt_count + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = $4
		WHERE user_id = $1
		RETURNING failed_attempt_count, locked_until
	`
	var count int
	var lock *time.Time
	err := r.db.QueryRowContext(ctx, query, userID, threshold, lockedUntil, now).Scan(&count, &lock)
	if err == sql.ErrNoRows {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to record two-factor failure: %w", err)
	}
	return count, lock, nil
}

// ClearFailures resets the failure counter and lockout after a
// successful verification and stamps last_verified_at.
func (r *TwoFactorRepository) ClearFailures(ctx context.Context, userID string, verifiedAt time.Time) error {
	query := `
		UPDATE two_factor_credentials
		SET failed_attempt_count = 0, locked_until = NULL, last_verified_at = $2, updated_at = $2
		WHERE user_id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, verifiedAt)
	if err != nil {
		return fmt.Errorf("failed to clear two-factor failures: %w", err)
	}
	return nil
}

// ConsumeRecoveryCode removes a recovery code hash from the stored set
// if present. The removal and the membership check are one statement,
// so a code can be consumed at most once even under concurrent use.
func (r *TwoFactorRepository) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string, now time.Time) (bool, error) {
	query := `
		UPDATE two_factor_credentials
		SET recovery_code_hashes = array_remove(recovery_code_hashes, $2),
		    used_recovery_count = used_recovery_count + 1,
		    updated_at = $3
		WHERE user_id = $1 AND $2 = ANY(recovery_code_hashes)
	`
	res, err := r.db.ExecContext(ctx, query, userID, codeHash, now)
	if err != nil {
		return false, fmt.Errorf("failed to consume recovery code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to consume recovery code: %w", err)
	}
	return n == 1, nil
}

// ReplaceRecoveryCodes swaps in a new recovery code set and resets the
// used counter
func (r *TwoFactorRepository) ReplaceRecoveryCodes(ctx context.Context, userID string, recoveryHashes []string, now time.Time) error {
	query := `
		UPDATE two_factor_credentials
		SET recovery_code_hashes = $2, used_recovery_count = 0, updated_at = $3
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID, pq.Array(recoveryHashes), now)
	if err != nil {
		return fmt.Errorf("failed to replace recovery codes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEnabled counts users with two-factor authentication enabled
func (r *TwoFactorRepository) CountEnabled(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM two_factor_credentials WHERE is_enabled = TRUE`
	var count int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count enabled two-factor credentials: %w", err)
	}
	return count, nil
}
