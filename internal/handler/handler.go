package handler

import (
	"github.com/shopguard/shopguard/internal/config"
	"github.com/shopguard/shopguard/internal/database"
	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/service"
)

// Handler holds all HTTP handlers
type Handler struct {
	db       *database.Postgres
	rdb      *database.Redis
	log      *logger.Logger
	cfg      *config.Config
	security *service.SecurityService
}

// New creates a new Handler instance
func New(db *database.Postgres, rdb *database.Redis, log *logger.Logger, cfg *config.Config, security *service.SecurityService) *Handler {
	return &Handler{
		db:       db,
		rdb:      rdb,
		log:      log,
		cfg:      cfg,
		security: security,
	}
}
