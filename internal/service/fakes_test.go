package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopguard/shopguard/internal/model"
	"github.com/shopguard/shopguard/internal/repository"
)

// In-memory fakes for the store interfaces the services depend on.

type fakeAuditStore struct {
	mu        sync.Mutex
	entries   []*model.AuditLogEntry
	createErr error

	loginCount       int64
	failedLoginCount int64
	rateLimitCount   int64
	highRiskCount    int64
}

func (f *fakeAuditStore) Create(_ context.Context, entry *model.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) List(_ context.Context, _ model.AuditLogFilter, offset, limit int) ([]*model.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.entries) {
		end = len(f.entries)
	}
	return f.entries[offset:end], nil
}

func (f *fakeAuditStore) CountActions(_ context.Context, actions []string, _ bool, _, _ time.Time) (int64, error) {
	if len(actions) == 1 {
		switch actions[0] {
		case model.AuditActionLoginFailed:
			return f.failedLoginCount, nil
		case model.AuditActionRateLimitExceeded:
			return f.rateLimitCount, nil
		}
	}
	return f.loginCount, nil
}

func (f *fakeAuditStore) CountByRisk(_ context.Context, _ []model.RiskLevel, _, _ time.Time) (int64, error) {
	return f.highRiskCount, nil
}

// byAction returns the recorded entries matching an action
func (f *fakeAuditStore) byAction(action string) []*model.AuditLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AuditLogEntry
	for _, e := range f.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeBlockCounter struct{ count int64 }

func (f *fakeBlockCounter) CountActiveBlocks(context.Context, time.Time) (int64, error) {
	return f.count, nil
}

type fakeTwoFactorCounter struct{ count int64 }

func (f *fakeTwoFactorCounter) CountEnabled(context.Context) (int64, error) {
	return f.count, nil
}

type fakeReputationStore struct {
	mu        sync.Mutex
	blocks    map[string]*model.IPBlockEntry
	whitelist map[string]bool

	blockReads int
	getErr     error
	listedErr  error
}

func newFakeReputationStore() *fakeReputationStore {
	return &fakeReputationStore{
		blocks:    make(map[string]*model.IPBlockEntry),
		whitelist: make(map[string]bool),
	}
}

func (f *fakeReputationStore) UpsertBlock(_ context.Context, entry *model.IPBlockEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[entry.IPAddress] = entry
	return nil
}

func (f *fakeReputationStore) GetActiveBlock(_ context.Context, ip string, now time.Time) (*model.IPBlockEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockReads++
	if f.getErr != nil {
		return nil, f.getErr
	}
	entry, ok := f.blocks[ip]
	if !ok || !entry.IsActive || entry.Expired(now) {
		return nil, repository.ErrNotFound
	}
	return entry, nil
}

func (f *fakeReputationStore) DeactivateBlock(_ context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.blocks[ip]
	if !ok || !entry.IsActive {
		return repository.ErrNotFound
	}
	entry.IsActive = false
	return nil
}

func (f *fakeReputationStore) ListActiveBlocks(_ context.Context, now time.Time) ([]*model.IPBlockEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.IPBlockEntry
	for _, entry := range f.blocks {
		if entry.IsActive && !entry.Expired(now) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeReputationStore) CountActiveBlocks(ctx context.Context, now time.Time) (int64, error) {
	entries, _ := f.ListActiveBlocks(ctx, now)
	return int64(len(entries)), nil
}

func (f *fakeReputationStore) DeactivateExpiredBlocks(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var swept int64
	for _, entry := range f.blocks {
		if entry.IsActive && entry.Expired(now) {
			entry.IsActive = false
			swept++
		}
	}
	return swept, nil
}

func (f *fakeReputationStore) UpsertWhitelist(_ context.Context, entry *model.IPWhitelistEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.whitelist[entry.IPAddress] = true
	return nil
}

func (f *fakeReputationStore) IsWhitelisted(_ context.Context, ip string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listedErr != nil {
		return false, f.listedErr
	}
	return f.whitelist[ip], nil
}

func (f *fakeReputationStore) DeactivateWhitelist(_ context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.whitelist[ip] {
		return repository.ErrNotFound
	}
	delete(f.whitelist, ip)
	return nil
}

func (f *fakeReputationStore) ListActiveWhitelist(context.Context) ([]*model.IPWhitelistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.IPWhitelistEntry
	for ip := range f.whitelist {
		out = append(out, &model.IPWhitelistEntry{IPAddress: ip, IsActive: true})
	}
	return out, nil
}

type fakeBlocker struct {
	mu          sync.Mutex
	whitelisted map[string]bool
	blockCalls  []blockCall
}

type blockCall struct {
	ip            string
	reason        string
	durationHours *int
	isAutomatic   bool
}

func (f *fakeBlocker) IsWhitelisted(_ context.Context, ip string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.whitelisted[ip]
}

func (f *fakeBlocker) Block(_ context.Context, ip, reason string, _ *string, durationHours *int, isAutomatic bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockCalls = append(f.blockCalls, blockCall{ip: ip, reason: reason, durationHours: durationHours, isAutomatic: isAutomatic})
	return nil
}

type fakeTwoFactorStore struct {
	mu   sync.Mutex
	cred *model.TwoFactorCredential
}

func (f *fakeTwoFactorStore) GetByUserID(_ context.Context, _ string) (*model.TwoFactorCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return nil, repository.ErrNotFound
	}
	c := *f.cred
	c.RecoveryCodeHashes = append([]string(nil), f.cred.RecoveryCodeHashes...)
	return &c, nil
}

func (f *fakeTwoFactorStore) UpsertPending(_ context.Context, userID, secretKey string, recoveryHashes []string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cred = &model.TwoFactorCredential{
		UserID:             userID,
		SecretKey:          secretKey,
		RecoveryCodeHashes: append([]string(nil), recoveryHashes...),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return nil
}

func (f *fakeTwoFactorStore) SetEnabled(_ context.Context, _ string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return repository.ErrNotFound
	}
	f.cred.IsEnabled = true
	f.cred.UpdatedAt = now
	return nil
}

func (f *fakeTwoFactorStore) Delete(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return repository.ErrNotFound
	}
	f.cred = nil
	return nil
}

func (f *fakeTwoFactorStore) RecordFailure(_ context.Context, _ string, threshold int, lockedUntil time.Time, _ time.Time) (int, *time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return 0, nil, repository.ErrNotFound
	}
	f.cred.FailedAttemptCount++
	if f.cred.FailedAttemptCount >= threshold {
		f.cred.LockedUntil = &lockedUntil
	}
	return f.cred.FailedAttemptCount, f.cred.LockedUntil, nil
}

func (f *fakeTwoFactorStore) ClearFailures(_ context.Context, _ string, verifiedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return repository.ErrNotFound
	}
	f.cred.FailedAttemptCount = 0
	f.cred.LockedUntil = nil
	f.cred.LastVerifiedAt = &verifiedAt
	return nil
}

func (f *fakeTwoFactorStore) ConsumeRecoveryCode(_ context.Context, _ string, codeHash string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return false, repository.ErrNotFound
	}
	for i, h := range f.cred.RecoveryCodeHashes {
		if h == codeHash {
			f.cred.RecoveryCodeHashes = append(f.cred.RecoveryCodeHashes[:i], f.cred.RecoveryCodeHashes[i+1:]...)
			f.cred.UsedRecoveryCount++
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTwoFactorStore) ReplaceRecoveryCodes(_ context.Context, _ string, recoveryHashes []string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred == nil {
		return repository.ErrNotFound
	}
	f.cred.RecoveryCodeHashes = append([]string(nil), recoveryHashes...)
	f.cred.UsedRecoveryCount = 0
	f.cred.UpdatedAt = now
	return nil
}

func (f *fakeTwoFactorStore) CountEnabled(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cred != nil && f.cred.IsEnabled {
		return 1, nil
	}
	return 0, nil
}

type fakeUserStore struct {
	users map[string]*model.User
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

// failingCache errors on every operation, simulating a cache outage
type failingCache struct{ err error }

func (c *failingCache) Get(context.Context, string) (string, bool, error) { return "", false, c.err }
func (c *failingCache) Set(context.Context, string, string, time.Duration) error {
	return c.err
}
func (c *failingCache) Delete(context.Context, ...string) error { return c.err }
