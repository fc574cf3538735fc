package middleware

import (
	"net/http"

	"github.com/shopguard/shopguard/internal/auth"
	"github.com/shopguard/shopguard/internal/config"
	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/service"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	security *service.SecurityService
	tokens   *auth.TokenService
	log      *logger.Logger
	cfg      *config.Config
}

// New creates a new Middleware instance
func New(security *service.SecurityService, tokens *auth.TokenService, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		security: security,
		tokens:   tokens,
		log:      log,
		cfg:      cfg,
	}
}

// ClientIP extracts the client IP address from a request
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
