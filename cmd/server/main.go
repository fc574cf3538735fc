package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopguard/shopguard/internal/auth"
	"github.com/shopguard/shopguard/internal/config"
	"github.com/shopguard/shopguard/internal/database"
	"github.com/shopguard/shopguard/internal/handler"
	"github.com/shopguard/shopguard/internal/logger"
	"github.com/shopguard/shopguard/internal/middleware"
	"github.com/shopguard/shopguard/internal/repository"
	"github.com/shopguard/shopguard/internal/router"
	"github.com/shopguard/shopguard/internal/service"
	"github.com/shopguard/shopguard/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", "0.1.0").Msg("starting ShopGuard server")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis unless the in-process window store is selected
	var rdb *database.Redis
	var windows store.WindowStore
	var memWindows *store.MemoryWindowStore
	var cache service.ReputationCache
	if cfg.Security.RateLimiting.Store == "memory" {
		memWindows = store.NewMemoryWindowStore()
		windows = memWindows
		cache = service.NewMemoryReputationCache()
		log.Info().Msg("using in-process window store")
	} else {
		rdb, err = database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
		windows = store.NewRedisWindowStore(rdb)
		cache = service.NewRedisReputationCache(rdb)
		log.Info().Msg("connected to Redis")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	reputationRepo := repository.NewIPReputationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	twoFactorRepo := repository.NewTwoFactorRepository(db)

	// Initialize token service
	tokenSvc, err := auth.NewTokenService(cfg.Security.Tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}

	// Initialize services. The audit service comes first: every other
	// service records into it.
	auditSvc := service.NewAuditService(auditRepo, reputationRepo, twoFactorRepo, log)
	reputationSvc := service.NewIPReputationService(reputationRepo, cache, auditSvc, cfg.Security.IPReputation, log)
	limiterSvc := service.NewRateLimiterService(windows, reputationSvc, auditSvc, cfg.Security.RateLimiting, log)
	twoFactorSvc := service.NewTwoFactorService(twoFactorRepo, userRepo, auditSvc, cfg.Security.TwoFactor, log)
	securitySvc := service.NewSecurityService(reputationSvc, limiterSvc, auditSvc, twoFactorSvc, tokenSvc, userRepo, cfg, log)

	// Initialize handlers
	h := handler.New(db, rdb, log, cfg, securitySvc)

	// Initialize middleware
	mw := middleware.New(securitySvc, tokenSvc, log, cfg)

	// Set up router
	r := router.New(h, mw, log)

	// Background sweep: deactivate expired IP blocks and, when the
	// in-process window store is used, drop idle windows
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if interval := cfg.Security.IPReputation.SweepInterval; interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-sweepCtx.Done():
					return
				case <-ticker.C:
					securitySvc.SweepExpiredBlocks(sweepCtx)
					if memWindows != nil {
						memWindows.Sweep(time.Now())
					}
				}
			}
		}()
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	stopSweep()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
