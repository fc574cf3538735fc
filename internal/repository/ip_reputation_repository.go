package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopguard/shopguard/internal/database"
	"github.com/shopguard/shopguard/internal/model"
)

// IPReputationRepository handles blacklist/whitelist persistence.
// The ip_address column is the primary key of both tables, so a
// re-block or re-whitelist updates the existing row instead of
// creating a duplicate.
type IPReputationRepository struct {
	db *database.Postgres
}

// NewIPReputationRepository creates a new IPReputationRepository
func NewIPReputationRepository(db *database.Postgres) *IPReputationRepository {
	return &IPReputationRepository{db: db}
}

// --- Blocks ---

// UpsertBlock creates or reactivates a block entry for an IP
func (r *IPReputationRepository) UpsertBlock(ctx context.Context, entry *model.IPBlockEntry) error {
	query := `
		INSERT INTO ip_blocks (ip_address, reason, created_by, is_automatic, expires_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		ON CONFLICT (ip_address) DO UPDATE SET
			reason = EXCLUDED.reason,
			created_by = EXCLUDED.created_by,
			is_automatic = EXCLUDED.is_automatic,
			expires_at = EXCLUDED.expires_at,
			is_active = TRUE,
			created_at = EXCLUDED.created_at
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.IPAddress,
		entry.Reason,
		entry.CreatedBy,
		entry.IsAutomatic,
		entry.ExpiresAt,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ip block: %w", err)
	}
	return nil
}

// GetActiveBlock returns the active, non-expired block entry for an IP
func (r *IPReputationRepository) GetActiveBlock(ctx context.Context, ip string, now time.Time) (*model.IPBlockEntry, error) {
	query := `
		SELECT ip_address, reason, created_by, is_automatic, expires_at, is_active, created_at
		FROM ip_blocks
		WHERE ip_address = $1 AND is_active = TRUE
		  AND (expires_at IS NULL OR expires_at > $2)
	`
	var e model.IPBlockEntry
	err := r.db.QueryRowContext(ctx, query, ip, now).Scan(
		&e.IPAddress,
		&e.Reason,
		&e.CreatedBy,
		&e.IsAutomatic,
		&e.ExpiresAt,
		&e.IsActive,
		&e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ip block: %w", err)
	}
	return &e, nil
}

// DeactivateBlock marks the block entry for an IP inactive
func (r *IPReputationRepository) DeactivateBlock(ctx context.Context, ip string) error {
	query := `UPDATE ip_blocks SET is_active = FALSE WHERE ip_address = $1`
	res, err := r.db.ExecContext(ctx, query, ip)
	if err != nil {
		return fmt.Errorf("failed to deactivate ip block: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveBlocks returns all active, non-expired block entries
func (r *IPReputationRepository) ListActiveBlocks(ctx context.Context, now time.Time) ([]*model.IPBlockEntry, error) {
	query := `
		SELECT ip_address, reason, created_by, is_automatic, expires_at, is_active, created_at
		FROM ip_blocks
		WHERE is_active = TRUE AND (expires_at IS NULL OR expires_at > $1)
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list ip blocks: %w", err)
	}
	defer rows.Close()

	var entries []*model.IPBlockEntry
	for rows.Next() {
		var e model.IPBlockEntry
		if err := rows.Scan(
			&e.IPAddress,
			&e.Reason,
			&e.CreatedBy,
			&e.IsAutomatic,
			&e.ExpiresAt,
			&e.IsActive,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ip block: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// CountActiveBlocks counts active, non-expired block entries
func (r *IPReputationRepository) CountActiveBlocks(ctx context.Context, now time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM ip_blocks
		WHERE is_active = TRUE AND (expires_at IS NULL OR expires_at > $1)
	`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count ip blocks: %w", err)
	}
	return count, nil
}

// DeactivateExpiredBlocks marks expired block entries inactive and
// returns how many were swept. Correctness does not depend on this;
// expired entries are already filtered out of reads.
func (r *IPReputationRepository) DeactivateExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE ip_blocks SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired ip blocks: %w", err)
	}
	return res.RowsAffected()
}

// --- Whitelist ---

// UpsertWhitelist creates or reactivates a whitelist entry for an IP
func (r *IPReputationRepository) UpsertWhitelist(ctx context.Context, entry *model.IPWhitelistEntry) error {
	query := `
		INSERT INTO ip_whitelist (ip_address, description, added_by, is_active, created_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (ip_address) DO UPDATE SET
			description = EXCLUDED.description,
			added_by = EXCLUDED.added_by,
			is_active = TRUE,
			created_at = EXCLUDED.created_at
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.IPAddress,
		entry.Description,
		entry.AddedBy,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ip whitelist entry: %w", err)
	}
	return nil
}

// IsWhitelisted reports whether an IP has an active whitelist entry
func (r *IPReputationRepository) IsWhitelisted(ctx context.Context, ip string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM ip_whitelist WHERE ip_address = $1 AND is_active = TRUE)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, ip).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check ip whitelist: %w", err)
	}
	return exists, nil
}

// DeactivateWhitelist marks the whitelist entry for an IP inactive
func (r *IPReputationRepository) DeactivateWhitelist(ctx context.Context, ip string) error {
	query := `UPDATE ip_whitelist SET is_active = FALSE WHERE ip_address = $1`
	res, err := r.db.ExecContext(ctx, query, ip)
	if err != nil {
		return fmt.Errorf("failed to deactivate ip whitelist entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveWhitelist returns all active whitelist entries
func (r *IPReputationRepository) ListActiveWhitelist(ctx context.Context) ([]*model.IPWhitelistEntry, error) {
	query := `
		SELECT ip_address, description, added_by, is_active, created_at
		FROM ip_whitelist
		WHERE is_active = TRUE
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ip whitelist: %w", err)
	}
	defer rows.Close()

	var entries []*model.IPWhitelistEntry
	for rows.Next() {
		var e model.IPWhitelistEntry
		if err := rows.Scan(
			&e.IPAddress,
			&e.Description,
			&e.AddedBy,
			&e.IsActive,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ip whitelist entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
