package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopguard/shopguard/internal/config"
	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/model"
	"github.com/shopguard/shopguard/internal/store"
)

const rateLimitKeyPrefix = "ratelimit:"

const autoBlockReason = "Rate limit exceeded multiple times"

// RateLimitStatus is a read-only projection of one window's state
type RateLimitStatus struct {
	Remaining int64     `json:"remaining"`
	Limit     int64     `json:"limit"`
	ResetTime time.Time `json:"resetTime"`
	IsLimited bool      `json:"isLimited"`
}

// IPBlocker is the escalation target for repeat offenders.
// Implemented by IPReputationService.
type IPBlocker interface {
	IsWhitelisted(ctx context.Context, ip string) bool
	Block(ctx context.Context, ip, reason string, blockedBy *string, durationHours *int, isAutomatic bool) error
}

// RateLimiterService counts requests per (client IP, endpoint) over a
// trailing window. Rejections are audited, and an IP that keeps
// hammering a limited endpoint is escalated into an automatic block.
type RateLimiterService struct {
	windows    store.WindowStore
	reputation IPBlocker
	audit      *AuditService
	cfg        config.RateLimitingConfig
	log        *logger.Logger
}

// NewRateLimiterService creates a new RateLimiterService
func NewRateLimiterService(windows store.WindowStore, reputation IPBlocker, audit *AuditService, cfg config.RateLimitingConfig, log *logger.Logger) *RateLimiterService {
	return &RateLimiterService{
		windows:    windows,
		reputation: reputation,
		audit:      audit,
		cfg:        cfg,
		log:        log.WithComponent("rate_limiter"),
	}
}

// Allow decides whether a request from clientIP against endpoint is
// admitted under maxRequests per window. Whitelisted IPs are admitted
// unconditionally. A window-store failure resolves per the configured
// policy; the default fails open so a store outage cannot take the
// whole site down with it.
func (s *RateLimiterService) Allow(ctx context.Context, clientIP, endpoint string, maxRequests int, window time.Duration) bool {
	if !s.cfg.Enabled || maxRequests <= 0 {
		return true
	}
	if s.reputation.IsWhitelisted(ctx, clientIP) {
		return true
	}

	now := time.Now()
	res, err := s.windows.Take(ctx, windowKey(clientIP, endpoint), int64(maxRequests), window, now)
	if err != nil {
		if s.cfg.FailOpen {
			s.log.Error().Err(err).Str("ip", clientIP).Str("endpoint", endpoint).Msg("window store failed, failing open")
			return true
		}
		s.log.Error().Err(err).Str("ip", clientIP).Str("endpoint", endpoint).Msg("window store failed, failing closed")
		return false
	}

	if res.Allowed {
		return true
	}

	s.audit.Record(ctx, &model.AuditLogEntry{
		Action:       model.AuditActionRateLimitExceeded,
		Category:     model.AuditCategorySecurity,
		IPAddress:    &clientIP,
		Endpoint:     &endpoint,
		IsSuccessful: false,
		RiskLevel:    model.RiskMedium,
		Details: map[string]interface{}{
			"count":         res.Count,
			"maxRequests":   maxRequests,
			"windowSeconds": int(window.Seconds()),
		},
	})

	// Violations increment atomically with the rejection, so exactly
	// one request observes the threshold crossing and escalates.
	threshold := int64(s.cfg.EscalationMultiplier) * int64(maxRequests)
	if threshold > 0 && res.Violations == threshold {
		hours := int(s.cfg.AutoBlockDuration / time.Hour)
		if hours < 1 {
			hours = 1
		}
		if err := s.reputation.Block(ctx, clientIP, autoBlockReason, nil, &hours, true); err != nil {
			s.log.Error().Err(err).Str("ip", clientIP).Msg("automatic block failed")
		}
	}

	return false
}

// Status returns the current window state for rate-limit headers and
// client UI without mutating the window.
func (s *RateLimiterService) Status(ctx context.Context, clientIP, endpoint string, maxRequests int, window time.Duration) (*RateLimitStatus, error) {
	now := time.Now()
	count, oldest, err := s.windows.Peek(ctx, windowKey(clientIP, endpoint), window, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read window state: %w", err)
	}

	resetTime := now
	if !oldest.IsZero() {
		resetTime = oldest.Add(window)
	}

	remaining := int64(maxRequests) - count
	if remaining < 0 {
		remaining = 0
	}

	return &RateLimitStatus{
		Remaining: remaining,
		Limit:     int64(maxRequests),
		ResetTime: resetTime,
		IsLimited: count >= int64(maxRequests),
	}, nil
}

// Reset clears window state for an IP: one endpoint's window when
// endpoint is non-empty, or every window for the IP otherwise. This is
// the administrative override for false positives.
func (s *RateLimiterService) Reset(ctx context.Context, clientIP, endpoint string, resetBy *string) error {
	var err error
	if endpoint != "" {
		err = s.windows.Reset(ctx, windowKey(clientIP, endpoint))
	} else {
		err = s.windows.ResetPrefix(ctx, rateLimitKeyPrefix+clientIP+":")
	}
	if err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}

	s.audit.Record(ctx, &model.AuditLogEntry{
		Actor:        resetBy,
		Action:       model.AuditActionRateLimitReset,
		Category:     model.AuditCategoryAdmin,
		IPAddress:    &clientIP,
		Endpoint:     &endpoint,
		IsSuccessful: true,
		RiskLevel:    model.RiskLow,
	})

	s.log.Info().Str("ip", clientIP).Str("endpoint", endpoint).Msg("rate limit reset")
	return nil
}

func windowKey(clientIP, endpoint string) string {
	return rateLimitKeyPrefix + clientIP + ":" + endpoint
}
