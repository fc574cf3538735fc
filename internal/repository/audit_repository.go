package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/shopguard/shopguard/internal/database"
	"github.com/shopguard/shopguard/internal/model"
)

// AuditRepository handles audit log persistence. The table is
// append-only: there are no update or delete paths.
type AuditRepository struct {
	db *database.Postgres
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *database.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, entry *model.AuditLogEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_log (id, actor, action, category, entity_type, entity_id,
		    before_value, after_value, ip_address, user_agent, endpoint, http_method,
		    is_successful, error_message, risk_level, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Actor,
		entry.Action,
		entry.Category,
		entry.EntityType,
		entry.EntityID,
		entry.BeforeValue,
		entry.AfterValue,
		entry.IPAddress,
		entry.UserAgent,
		entry.Endpoint,
		entry.HTTPMethod,
		entry.IsSuccessful,
		entry.ErrorMessage,
		entry.RiskLevel,
		detailsJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log entry: %w", err)
	}
	return nil
}

// List returns audit log entries matching the filter, newest first
func (r *AuditRepository) List(ctx context.Context, filter model.AuditLogFilter, offset, limit int) ([]*model.AuditLogEntry, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, actor, action, category, entity_type, entity_id,
		    before_value, after_value, ip_address, user_agent, endpoint, http_method,
		    is_successful, error_message, risk_level, details, created_at
		FROM audit_log
	`)

	where, args := buildAuditWhere(filter)
	sb.WriteString(where)
	sb.WriteString(" ORDER BY created_at DESC")
	sb.WriteString(" OFFSET $" + strconv.Itoa(len(args)+1))
	args = append(args, offset)
	sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)+1))
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		var detailsJSON []byte
		if err := rows.Scan(
			&e.ID,
			&e.Actor,
			&e.Action,
			&e.Category,
			&e.EntityType,
			&e.EntityID,
			&e.BeforeValue,
			&e.AfterValue,
			&e.IPAddress,
			&e.UserAgent,
			&e.Endpoint,
			&e.HTTPMethod,
			&e.IsSuccessful,
			&e.ErrorMessage,
			&e.RiskLevel,
			&detailsJSON,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
		}
		if len(detailsJSON) > 0 {
			json.Unmarshal(detailsJSON, &e.Details)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// CountActions counts entries for the given actions in a date range.
// If failedOnly is true, only unsuccessful entries are counted.
func (r *AuditRepository) CountActions(ctx context.Context, actions []string, failedOnly bool, start, end time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM audit_log
		WHERE action = ANY($1) AND created_at >= $2 AND created_at <= $3
	`
	args := []interface{}{pq.Array(actions), start, end}
	if failedOnly {
		query += " AND is_successful = FALSE"
	}

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit actions: %w", err)
	}
	return count, nil
}

// CountByRisk counts entries at or above the given risk levels in a date range
func (r *AuditRepository) CountByRisk(ctx context.Context, levels []model.RiskLevel, start, end time.Time) (int64, error) {
	strLevels := make([]string, len(levels))
	for i, l := range levels {
		strLevels[i] = string(l)
	}

	query := `
		SELECT COUNT(*) FROM audit_log
		WHERE risk_level = ANY($1) AND created_at >= $2 AND created_at <= $3
	`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, pq.Array(strLevels), start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit entries by risk: %w", err)
	}
	return count, nil
}

func buildAuditWhere(filter model.AuditLogFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.RiskLevel != "" {
		add("risk_level = $%d", filter.RiskLevel)
	}
	if filter.IPAddress != "" {
		add("ip_address = $%d", filter.IPAddress)
	}
	if filter.Success != nil {
		add("is_successful = $%d", *filter.Success)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= $%d", *filter.EndDate)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
