package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/database"
	"github.com/gatewarden/gatewarden/internal/email"
	"github.com/gatewarden/gatewarden/internal/handler"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/middleware"
	"github.com/gatewarden/gatewarden/internal/obs"
	"github.com/gatewarden/gatewarden/internal/rbac"
	"github.com/gatewarden/gatewarden/internal/repository"
	"github.com/gatewarden/gatewarden/internal/router"
	"github.com/gatewarden/gatewarden/internal/service"
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
	log.Info().Str("version", "0.1.0").Msg("starting Gatewarden server")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	// Metrics registry
	obs.Init()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	mfaRepo := repository.NewMFARepository(db)
	auditRepo := repository.NewAuditRepository(db)
	alertRepo := repository.NewAlertRepository(db)

	// Token service; refuses to start without a signing secret
	tokenSvc, err := auth.NewTokenService(cfg.Security.Sessions)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}

	// Email sender for alert notifications and email OTP
	sender, err := email.New(context.Background(), cfg.Email)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize email sender")
	}
	if sender == nil {
		log.Warn().Msg("email sending disabled; alerts will not notify")
	}

	// Registry and evaluator
	registry := rbac.NewRegistry(roleRepo, log)
	evaluator := rbac.NewEvaluator(registry, roleRepo, log)

	// Initialize services
	auditSvc := service.NewAuditService(auditRepo, alertRepo, sender, cfg, log)
	sessionSvc := service.NewSessionService(rdb, tokenSvc, cfg.Security.Sessions, log)
	mfaSvc, err := service.NewMFAService(mfaRepo, userRepo, rdb, sender, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize MFA service")
	}
	authSvc := service.NewAuthService(userRepo, sessionSvc, mfaSvc, evaluator, auditSvc, cfg, log)
	accountSvc := service.NewAccountService(userRepo, roleRepo, registry, sessionSvc, auditSvc, cfg, log)

	// Cross-process session invalidation
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	sessionSvc.StartInvalidationSubscriber(subCtx)

	// Initialize handlers, middleware, and the admin gate
	h := handler.New(db, rdb, log, cfg, authSvc, mfaSvc, accountSvc, auditSvc, registry, evaluator)
	mw := middleware.New(rdb, log, cfg)
	gate := middleware.NewGate(authSvc, evaluator, auditSvc, cfg.Admin, log)

	// Set up router
	r := router.New(h, mw, gate)

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
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
