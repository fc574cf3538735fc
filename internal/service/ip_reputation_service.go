package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopguard/shopguard/internal/config"
	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/model"
	"github.com/shopguard/shopguard/internal/repository"
)

const (
	blockCacheKeyPrefix     = "ipblock:"
	whitelistCacheKeyPrefix = "ipallow:"

	cacheHit  = "1"
	cacheMiss = "0"
)

// ReputationStore is the durable blacklist/whitelist store.
// Implemented by repository.IPReputationRepository.
type ReputationStore interface {
	UpsertBlock(ctx context.Context, entry *model.IPBlockEntry) error
	GetActiveBlock(ctx context.Context, ip string, now time.Time) (*model.IPBlockEntry, error)
	DeactivateBlock(ctx context.Context, ip string) error
	ListActiveBlocks(ctx context.Context, now time.Time) ([]*model.IPBlockEntry, error)
	CountActiveBlocks(ctx context.Context, now time.Time) (int64, error)
	DeactivateExpiredBlocks(ctx context.Context, now time.Time) (int64, error)
	UpsertWhitelist(ctx context.Context, entry *model.IPWhitelistEntry) error
	IsWhitelisted(ctx context.Context, ip string) (bool, error)
	DeactivateWhitelist(ctx context.Context, ip string) error
	ListActiveWhitelist(ctx context.Context) ([]*model.IPWhitelistEntry, error)
}

// IPReputationService answers block/whitelist checks with a
// read-through cache in front of the durable store. Reads outnumber
// writes by orders of magnitude, so writes invalidate the cache
// synchronously and the next check sees the new state.
type IPReputationService struct {
	repo  ReputationStore
	cache ReputationCache
	audit *AuditService
	cfg   config.IPReputationConfig
	log   *logger.Logger
}

// NewIPReputationService creates a new IPReputationService
func NewIPReputationService(repo ReputationStore, cache ReputationCache, audit *AuditService, cfg config.IPReputationConfig, log *logger.Logger) *IPReputationService {
	return &IPReputationService{
		repo:  repo,
		cache: cache,
		audit: audit,
		cfg:   cfg,
		log:   log.WithComponent("ip_reputation"),
	}
}

// IsBlocked reports whether an IP has an active block. When neither the
// cache nor the durable store can answer, the configured policy applies;
// the default fails closed, treating the IP as blocked.
func (s *IPReputationService) IsBlocked(ctx context.Context, ip string) bool {
	key := blockCacheKeyPrefix + ip

	if val, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return val == cacheHit
	} else if err != nil {
		s.log.Warn().Err(err).Str("ip", ip).Msg("block cache read failed, falling back to store")
	}

	_, err := s.repo.GetActiveBlock(ctx, ip, time.Now())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		if s.cfg.FailOpen {
			s.log.Error().Err(err).Str("ip", ip).Msg("block check failed, failing open")
			return false
		}
		s.log.Error().Err(err).Str("ip", ip).Msg("block check failed, failing closed")
		return true
	}

	blocked := err == nil
	s.populateCache(ctx, key, blocked)
	return blocked
}

// IsWhitelisted reports whether an IP has an active whitelist entry.
// A store failure is treated as "not whitelisted": the only effect of
// the whitelist is to bypass rate limiting, so losing it temporarily
// just reinstates the normal limits.
func (s *IPReputationService) IsWhitelisted(ctx context.Context, ip string) bool {
	key := whitelistCacheKeyPrefix + ip

	if val, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return val == cacheHit
	} else if err != nil {
		s.log.Warn().Err(err).Str("ip", ip).Msg("whitelist cache read failed, falling back to store")
	}

	listed, err := s.repo.IsWhitelisted(ctx, ip)
	if err != nil {
		s.log.Error().Err(err).Str("ip", ip).Msg("whitelist check failed")
		return false
	}

	s.populateCache(ctx, key, listed)
	return listed
}

// Block creates or reactivates a block entry. A nil durationHours means
// the block is permanent. The cache entry for the IP is invalidated
// before returning so the next check observes the new state.
func (s *IPReputationService) Block(ctx context.Context, ip, reason string, blockedBy *string, durationHours *int, isAutomatic bool) error {
	now := time.Now()

	var expiresAt *time.Time
	if durationHours != nil {
		t := now.Add(time.Duration(*durationHours) * time.Hour)
		expiresAt = &t
	}

	entry := &model.IPBlockEntry{
		IPAddress:   ip,
		Reason:      reason,
		CreatedBy:   blockedBy,
		IsAutomatic: isAutomatic,
		ExpiresAt:   expiresAt,
		IsActive:    true,
		CreatedAt:   now,
	}
	if err := s.repo.UpsertBlock(ctx, entry); err != nil {
		return err
	}
	s.invalidate(ctx, blockCacheKeyPrefix+ip)

	risk := model.RiskMedium
	category := model.AuditCategoryAdmin
	if isAutomatic {
		risk = model.RiskHigh
		category = model.AuditCategorySecurity
	}
	s.audit.Record(ctx, &model.AuditLogEntry{
		Actor:        blockedBy,
		Action:       model.AuditActionIPBlocked,
		Category:     category,
		IPAddress:    &ip,
		IsSuccessful: true,
		RiskLevel:    risk,
		Details: map[string]interface{}{
			"reason":      reason,
			"isAutomatic": isAutomatic,
			"expiresAt":   expiresAt,
		},
	})

	s.log.Info().
		Str("ip", ip).
		Str("reason", reason).
		Bool("automatic", isAutomatic).
		Msg("ip blocked")
	return nil
}

// Unblock deactivates the block entry for an IP
func (s *IPReputationService) Unblock(ctx context.Context, ip string, unblockedBy *string) error {
	if err := s.repo.DeactivateBlock(ctx, ip); err != nil {
		return err
	}
	s.invalidate(ctx, blockCacheKeyPrefix+ip)

	s.audit.Record(ctx, &model.AuditLogEntry{
		Actor:        unblockedBy,
		Action:       model.AuditActionIPUnblocked,
		Category:     model.AuditCategoryAdmin,
		IPAddress:    &ip,
		IsSuccessful: true,
		RiskLevel:    model.RiskLow,
	})

	s.log.Info().Str("ip", ip).Msg("ip unblocked")
	return nil
}

// Whitelist creates or reactivates a whitelist entry for an IP.
// Whitelisting bypasses rate limiting only; an active block on the same
// IP still wins.
func (s *IPReputationService) Whitelist(ctx context.Context, ip, description string, addedBy *string) error {
	entry := &model.IPWhitelistEntry{
		IPAddress:   ip,
		Description: description,
		AddedBy:     addedBy,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.UpsertWhitelist(ctx, entry); err != nil {
		return err
	}
	s.invalidate(ctx, whitelistCacheKeyPrefix+ip)

	s.audit.Record(ctx, &model.AuditLogEntry{
		Actor:        addedBy,
		Action:       model.AuditActionIPWhitelisted,
		Category:     model.AuditCategoryAdmin,
		IPAddress:    &ip,
		IsSuccessful: true,
		RiskLevel:    model.RiskLow,
		Details:      map[string]interface{}{"description": description},
	})

	s.log.Info().Str("ip", ip).Msg("ip whitelisted")
	return nil
}

// RemoveFromWhitelist deactivates the whitelist entry for an IP
func (s *IPReputationService) RemoveFromWhitelist(ctx context.Context, ip string, removedBy *string) error {
	if err := s.repo.DeactivateWhitelist(ctx, ip); err != nil {
		return err
	}
	s.invalidate(ctx, whitelistCacheKeyPrefix+ip)

	s.audit.Record(ctx, &model.AuditLogEntry{
		Actor:        removedBy,
		Action:       model.AuditActionIPWhitelistRemoved,
		Category:     model.AuditCategoryAdmin,
		IPAddress:    &ip,
		IsSuccessful: true,
		RiskLevel:    model.RiskLow,
	})

	s.log.Info().Str("ip", ip).Msg("ip removed from whitelist")
	return nil
}

// ListBlocked returns all active, non-expired block entries
func (s *IPReputationService) ListBlocked(ctx context.Context) ([]*model.IPBlockEntry, error) {
	return s.repo.ListActiveBlocks(ctx, time.Now())
}

// ListWhitelisted returns all active whitelist entries
func (s *IPReputationService) ListWhitelisted(ctx context.Context) ([]*model.IPWhitelistEntry, error) {
	return s.repo.ListActiveWhitelist(ctx)
}

// SweepExpired deactivates expired block entries. Hygiene only: reads
// already filter out expired blocks.
func (s *IPReputationService) SweepExpired(ctx context.Context) {
	swept, err := s.repo.DeactivateExpiredBlocks(ctx, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("expired block sweep failed")
		return
	}
	if swept > 0 {
		s.log.Info().Int64("count", swept).Msg("expired ip blocks deactivated")
	}
}

func (s *IPReputationService) populateCache(ctx context.Context, key string, hit bool) {
	val := cacheMiss
	if hit {
		val = cacheHit
	}
	if err := s.cache.Set(ctx, key, val, s.cfg.CacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to populate reputation cache")
	}
}

func (s *IPReputationService) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn().Err(err).Strs("keys", keys).Msg("failed to invalidate reputation cache")
	}
}
