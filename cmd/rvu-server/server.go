package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/rvu/rvu/internal/config"
	"github.com/rvu/rvu/internal/domain/exam"
	"github.com/rvu/rvu/internal/platform/analytics"
	"github.com/rvu/rvu/internal/platform/auth"
	"github.com/rvu/rvu/internal/platform/db"
	"github.com/rvu/rvu/internal/platform/middleware"
	"github.com/rvu/rvu/internal/platform/reporting"
	"github.com/rvu/rvu/migrations"
)

const version = "0.1.0"

const importPath = "/api/v1/exams/import"

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func newService(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*exam.Service, error) {
	enricher, err := exam.NewEnricher(exam.NewClassifier(exam.DefaultRules(), cfg.Policy()), cfg.EnrichCacheSize, cfg.EnrichWorkers)
	if err != nil {
		return nil, fmt.Errorf("create enricher: %w", err)
	}
	if pool == nil {
		return exam.NewService(enricher, nil, nil, logger), nil
	}
	return exam.NewService(enricher, exam.NewRepo(pool), pool, logger), nil
}

// newServer wires middleware and routes. A nil pool serves the stateless
// endpoints only; storage and reporting answer 503.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*echo.Echo, error) {
	svc, err := newService(cfg, logger, pool)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, "/health"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.BodyLimit(cfg.MaxBodyMB<<20, cfg.MaxUploadMB<<20, importPath))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, importPath))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		MaxClients:        middleware.DefaultRateLimitConfig().MaxClients,
	}))
	usage := analytics.NewUsageTracker(0)
	apiV1.Use(analytics.UsageMiddleware(usage))

	exam.NewHandler(svc).RegisterRoutes(apiV1)
	analytics.NewUsageHandler(usage).RegisterRoutes(apiV1)

	var querier reporting.Querier
	if pool != nil {
		querier = pool
	}
	reporting.NewHandler(querier).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"version":       version,
			"rules_version": svc.RulesVersion(),
			"storage":       svc.StorageEnabled(),
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	return e, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a bearer token run as an admin")
	}

	var pool *pgxpool.Pool
	if cfg.PersistenceEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pool, err = db.NewPool(ctx, db.PoolOptions{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Schema:   cfg.DBSchema,
		})
		if err != nil {
			cancel()
			return err
		}
		defer pool.Close()

		applied, err := db.EnsureSchema(ctx, pool, cfg.DBSchema, migrations.FS)
		cancel()
		if err != nil {
			return err
		}
		logger.Info().Str("schema", cfg.DBSchema).Int("migrations_applied", applied).Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set: imports are not stored and reports are unavailable")
	}

	e, err := newServer(cfg, logger, pool)
	if err != nil {
		return err
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
