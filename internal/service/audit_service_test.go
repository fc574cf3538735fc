package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/model"
)

func TestRecordFillsDefaults(t *testing.T) {
	repo := &fakeAuditStore{}
	svc := NewAuditService(repo, &fakeBlockCounter{}, &fakeTwoFactorCounter{}, logger.NewNop())

	svc.Record(context.Background(), &model.AuditLogEntry{
		Action:   model.AuditActionLogin,
		Category: model.AuditCategoryAuth,
	})

	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Equal(t, model.RiskLow, entry.RiskLevel)
}

func TestRecordKeepsCallerValues(t *testing.T) {
	repo := &fakeAuditStore{}
	svc := NewAuditService(repo, &fakeBlockCounter{}, &fakeTwoFactorCounter{}, logger.NewNop())

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Record(context.Background(), &model.AuditLogEntry{
		ID:        "fixed-id",
		Action:    model.AuditActionIPBlocked,
		Category:  model.AuditCategorySecurity,
		RiskLevel: model.RiskHigh,
		CreatedAt: created,
	})

	require.Len(t, repo.entries, 1)
	assert.Equal(t, "fixed-id", repo.entries[0].ID)
	assert.Equal(t, created, repo.entries[0].CreatedAt)
	assert.Equal(t, model.RiskHigh, repo.entries[0].RiskLevel)
}

func TestRecordSwallowsPersistenceFailure(t *testing.T) {
	repo := &fakeAuditStore{createErr: errors.New("disk full")}
	svc := NewAuditService(repo, &fakeBlockCounter{}, &fakeTwoFactorCounter{}, logger.NewNop())

	// Must not panic and must not propagate anything to the caller
	svc.Record(context.Background(), &model.AuditLogEntry{
		Action:   model.AuditActionLogin,
		Category: model.AuditCategoryAuth,
	})
	assert.Empty(t, repo.entries)
}

func TestQueryPaging(t *testing.T) {
	repo := &fakeAuditStore{}
	svc := NewAuditService(repo, &fakeBlockCounter{}, &fakeTwoFactorCounter{}, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		svc.Record(ctx, &model.AuditLogEntry{Action: model.AuditActionLogin, Category: model.AuditCategoryAuth})
	}

	page1, err := svc.Query(ctx, model.AuditLogFilter{}, 1, 3)
	require.NoError(t, err)
	assert.Len(t, page1, 3)

	page3, err := svc.Query(ctx, model.AuditLogFilter{}, 3, 3)
	require.NoError(t, err)
	assert.Len(t, page3, 1)

	beyond, err := svc.Query(ctx, model.AuditLogFilter{}, 4, 3)
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestQueryClampsPageSize(t *testing.T) {
	repo := &fakeAuditStore{}
	svc := NewAuditService(repo, &fakeBlockCounter{}, &fakeTwoFactorCounter{}, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		svc.Record(ctx, &model.AuditLogEntry{Action: model.AuditActionLogin, Category: model.AuditCategoryAuth})
	}

	// Zero and negative page sizes fall back to the default of 50
	entries, err := svc.Query(ctx, model.AuditLogFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 50)
}

func TestSummarize(t *testing.T) {
	repo := &fakeAuditStore{
		loginCount:       120,
		failedLoginCount: 17,
		rateLimitCount:   42,
		highRiskCount:    3,
	}
	svc := NewAuditService(repo, &fakeBlockCounter{count: 5}, &fakeTwoFactorCounter{count: 900}, logger.NewNop())

	end := time.Now()
	summary, err := svc.Summarize(context.Background(), end.Add(-24*time.Hour), end)
	require.NoError(t, err)

	assert.Equal(t, int64(120), summary.TotalLoginAttempts)
	assert.Equal(t, int64(17), summary.FailedLoginAttempts)
	assert.Equal(t, int64(42), summary.RateLimitExceededCount)
	assert.Equal(t, int64(3), summary.HighRiskEventCount)
	assert.Equal(t, int64(5), summary.ActiveBlockedIPs)
	assert.Equal(t, int64(900), summary.UsersWithTwoFactorEnabled)
}
