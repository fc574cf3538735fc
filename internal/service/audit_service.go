package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/model"
)

const (
	auditDefaultPageSize = 50
	auditMaxPageSize     = 200
)

// AuditStore is the durable append-only audit log.
// Implemented by repository.AuditRepository.
type AuditStore interface {
	Create(ctx context.Context, entry *model.AuditLogEntry) error
	List(ctx context.Context, filter model.AuditLogFilter, offset, limit int) ([]*model.AuditLogEntry, error)
	CountActions(ctx context.Context, actions []string, failedOnly bool, start, end time.Time) (int64, error)
	CountByRisk(ctx context.Context, levels []model.RiskLevel, start, end time.Time) (int64, error)
}

// BlockCounter supplies the active-block count for summaries
type BlockCounter interface {
	CountActiveBlocks(ctx context.Context, now time.Time) (int64, error)
}

// TwoFactorCounter supplies the enabled-credential count for summaries
type TwoFactorCounter interface {
	CountEnabled(ctx context.Context) (int64, error)
}

// AuditService records security-relevant events. Record is best-effort
// and non-propagating: audit logging must never abort the business
// operation it is describing, so persistence failures are logged here
// and swallowed.
type AuditService struct {
	repo      AuditStore
	blocks    BlockCounter
	twoFactor TwoFactorCounter
	log       *logger.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditStore, blocks BlockCounter, twoFactor TwoFactorCounter, log *logger.Logger) *AuditService {
	return &AuditService{
		repo:      repo,
		blocks:    blocks,
		twoFactor: twoFactor,
		log:       log.WithComponent("audit"),
	}
}

// Record appends one audit entry. It never returns an error.
func (s *AuditService) Record(ctx context.Context, entry *model.AuditLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.RiskLevel == "" {
		entry.RiskLevel = model.RiskLow
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		s.log.Error().
			Err(err).
			Str("action", entry.Action).
			Str("category", string(entry.Category)).
			Msg("failed to persist audit entry")
	}
}

// Query returns a page of audit entries matching the filter, newest
// first. Pages are 1-based.
func (s *AuditService) Query(ctx context.Context, filter model.AuditLogFilter, page, pageSize int) ([]*model.AuditLogEntry, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = auditDefaultPageSize
	}
	if pageSize > auditMaxPageSize {
		pageSize = auditMaxPageSize
	}

	return s.repo.List(ctx, filter, (page-1)*pageSize, pageSize)
}

// Summarize aggregates security activity for the period, combining the
// audit log with the reputation and two-factor stores.
func (s *AuditService) Summarize(ctx context.Context, start, end time.Time) (*model.SecuritySummary, error) {
	loginActions := []string{model.AuditActionLogin, model.AuditActionLoginFailed}

	totalLogins, err := s.repo.CountActions(ctx, loginActions, false, start, end)
	if err != nil {
		return nil, err
	}
	failedLogins, err := s.repo.CountActions(ctx, []string{model.AuditActionLoginFailed}, false, start, end)
	if err != nil {
		return nil, err
	}
	rateLimited, err := s.repo.CountActions(ctx, []string{model.AuditActionRateLimitExceeded}, false, start, end)
	if err != nil {
		return nil, err
	}
	highRisk, err := s.repo.CountByRisk(ctx, []model.RiskLevel{model.RiskHigh, model.RiskCritical}, start, end)
	if err != nil {
		return nil, err
	}
	activeBlocks, err := s.blocks.CountActiveBlocks(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	twoFactorUsers, err := s.twoFactor.CountEnabled(ctx)
	if err != nil {
		return nil, err
	}

	return &model.SecuritySummary{
		TotalLoginAttempts:        totalLogins,
		FailedLoginAttempts:       failedLogins,
		ActiveBlockedIPs:          activeBlocks,
		RateLimitExceededCount:    rateLimited,
		HighRiskEventCount:        highRisk,
		UsersWithTwoFactorEnabled: twoFactorUsers,
	}, nil
}
