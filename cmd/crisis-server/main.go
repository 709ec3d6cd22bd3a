package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/crisis/internal/config"
	"github.com/ehr/crisis/internal/domain/crisis"
	"github.com/ehr/crisis/internal/platform/auth"
	"github.com/ehr/crisis/internal/platform/broker"
	"github.com/ehr/crisis/internal/platform/db"
	"github.com/ehr/crisis/internal/platform/hipaa"
	"github.com/ehr/crisis/internal/platform/middleware"
	"github.com/ehr/crisis/internal/platform/webhook"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "crisis-server",
		Short:        "Crisis text detection API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(registryCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the crisis detection API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadRegistry reads path when set and falls back to the compiled-in
// registry otherwise.
func loadRegistry(path string) (*crisis.Registry, error) {
	if path == "" {
		return crisis.DefaultRegistry()
	}
	return crisis.LoadRegistryFile(path)
}

// alertSinks opens every sink the configuration enables. The returned
// cleanup closes the connections they hold. On error nothing is left open.
func alertSinks(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (sinks []hipaa.AlertSink, pool *pgxpool.Pool, cleanup func(), err error) {
	var nc *nats.Conn
	cleanup = func() {
		if nc != nil {
			if err := nc.Drain(); err != nil {
				logger.Warn().Err(err).Msg("nats drain failed")
			}
		}
		if pool != nil {
			pool.Close()
		}
	}

	sinks = append(sinks, hipaa.NewLogSink(logger))

	if cfg.HasDatabase() {
		pool, err = db.NewPool(ctx, db.PoolConfig{
			URL:             cfg.DatabaseURL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			ApplicationName: "crisis-server",
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		sinks = append(sinks, hipaa.NewAuditLogger(pool))
		logger.Info().Msg("connected to database")
	}

	if cfg.AuditWebhookURL != "" {
		hook, err := webhook.NewSink(cfg.AuditWebhookURL, cfg.AuditWebhookSecret, webhook.WithLogger(logger))
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("audit webhook: %w", err)
		}
		sinks = append(sinks, hook)
	}

	if cfg.NATSURL != "" {
		nc, err = broker.Connect(cfg.NATSURL, logger)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("connect to nats: %w", err)
		}
		sinks = append(sinks, broker.NewNATSSink(nc, cfg.NATSSubject))
	}

	return sinks, pool, cleanup, nil
}

// newServer builds the echo instance. pool may be nil when no database is
// configured, in which case /health/db is not registered.
func newServer(cfg *config.Config, logger zerolog.Logger, engine *crisis.Engine, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware. Logger wraps Recovery so recovered panics are logged
	// with their final status.
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rateLimitCfg))
	e.Use(middleware.AccessAudit(logger))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":           "ok",
			"version":          version,
			"registry_version": engine.Registry().Version(),
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiV1 := e.Group("/api/v1")
	crisis.NewHandler(engine).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	reg, err := loadRegistry(cfg.KeywordRegistryFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load keyword registry")
	}
	logger.Info().
		Str("registry_version", reg.Version()).
		Str("source", reg.Source()).
		Int("entries", reg.Len()).
		Msg("keyword registry loaded")

	ctx := context.Background()
	sinks, pool, cleanup, err := alertSinks(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure alert sinks")
	}
	defer cleanup()

	dispatcher := hipaa.NewAlertDispatcher(logger,
		hipaa.WithSinks(sinks...),
		hipaa.WithAlertTimeout(cfg.AuditTimeout),
		hipaa.WithMaxInFlight(cfg.AuditMaxInFlight),
	)
	logger.Info().Strs("sinks", dispatcher.Sinks()).Msg("alert dispatcher ready")

	engine, err := crisis.NewEngine(reg,
		crisis.WithAlerter(dispatcher),
		crisis.WithMaxInputLength(cfg.MaxInputLength),
		crisis.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build crisis engine")
	}

	e := newServer(cfg, logger, engine, pool)
	e.Server.ReadTimeout = 15 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting crisis server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("alerts still in flight at shutdown")
	}
	logger.Info().Msg("server stopped")
	return nil
}
