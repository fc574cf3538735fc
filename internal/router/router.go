package router

import (
	"net/http"
	"time"

	"github.com/shopguard/shopguard/internal/handler"
	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	// API v1 routes
	mux.HandleFunc("GET /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"ShopGuard API v1","version":"0.1.0"}`))
	})

	// Public login routes, tightly rate limited
	loginRateLimit := mw.RateLimit("auth.login", middleware.RateLimitConfig{
		Limit:  5,
		Window: 15 * time.Minute,
	})
	twoFactorLoginRateLimit := mw.RateLimit("auth.2fa", middleware.RateLimitConfig{
		Limit:  5,
		Window: 5 * time.Minute,
	})

	mux.Handle("POST /api/v1/auth/login", loginRateLimit(http.HandlerFunc(h.Login)))
	mux.Handle("POST /api/v1/auth/login/2fa", twoFactorLoginRateLimit(http.HandlerFunc(h.LoginVerifyCode)))
	mux.Handle("POST /api/v1/auth/login/recovery", twoFactorLoginRateLimit(http.HandlerFunc(h.LoginVerifyRecoveryCode)))

	// Two-factor management routes (authenticated)
	twoFactorRateLimit := mw.RateLimit("2fa.manage", middleware.RateLimitConfig{
		Limit:  10,
		Window: 1 * time.Minute,
	})
	mux.Handle("GET /api/v1/2fa/status", mw.Auth(http.HandlerFunc(h.TwoFactorStatus)))
	mux.Handle("POST /api/v1/2fa/setup", mw.Auth(twoFactorRateLimit(http.HandlerFunc(h.TwoFactorSetup))))
	mux.Handle("POST /api/v1/2fa/enable", mw.Auth(twoFactorRateLimit(http.HandlerFunc(h.TwoFactorEnable))))
	mux.Handle("POST /api/v1/2fa/disable", mw.Auth(twoFactorRateLimit(http.HandlerFunc(h.TwoFactorDisable))))
	mux.Handle("POST /api/v1/2fa/verify", mw.Auth(twoFactorRateLimit(http.HandlerFunc(h.TwoFactorVerify))))
	mux.Handle("POST /api/v1/2fa/recovery-codes/regenerate", mw.Auth(twoFactorRateLimit(http.HandlerFunc(h.TwoFactorRegenerateRecoveryCodes))))

	// Admin routes (authenticated, admin only)
	admin := func(next http.HandlerFunc) http.Handler {
		return mw.Auth(mw.RequireAdmin(next))
	}
	mux.Handle("GET /api/v1/admin/ip-blocks", admin(h.ListBlockedIPs))
	mux.Handle("POST /api/v1/admin/ip-blocks", admin(h.BlockIP))
	mux.Handle("DELETE /api/v1/admin/ip-blocks/{ip}", admin(h.UnblockIP))
	mux.Handle("GET /api/v1/admin/ip-whitelist", admin(h.ListWhitelistedIPs))
	mux.Handle("POST /api/v1/admin/ip-whitelist", admin(h.WhitelistIP))
	mux.Handle("DELETE /api/v1/admin/ip-whitelist/{ip}", admin(h.RemoveFromWhitelist))
	mux.Handle("POST /api/v1/admin/rate-limits/{ip}/reset", admin(h.ResetRateLimit))
	mux.Handle("GET /api/v1/admin/audit-log", admin(h.QueryAuditLog))
	mux.Handle("GET /api/v1/admin/security-summary", admin(h.SecuritySummary))

	// Apply middleware stack
	var root http.Handler = mux

	// Blocked IPs are refused before any route runs
	root = mw.IPGate(root)

	// Request logging
	root = mw.Logger(root)

	// Request ID
	root = mw.RequestID(root)

	// Panic recovery (outermost)
	root = mw.Recover(root)

	return root
}
