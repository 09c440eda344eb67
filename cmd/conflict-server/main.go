package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/conflict-engine/internal/config"
	"github.com/ehr/conflict-engine/internal/domain/appointment"
	"github.com/ehr/conflict-engine/internal/domain/conflict"
	"github.com/ehr/conflict-engine/internal/platform/db"
	"github.com/ehr/conflict-engine/internal/platform/middleware"
	"github.com/ehr/conflict-engine/internal/platform/notification"
	"github.com/ehr/conflict-engine/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "conflict-server",
		Short: "Scheduling conflict detection and resolution engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the conflict engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run a single detection cycle and print the open conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			// One-shot scans report, they never mutate the calendar.
			cfg.AutoMode = false

			ctx := context.Background()
			eng, cleanup, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := eng.service.RunCycle(ctx)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(struct {
				Stats     conflict.CycleStats `json:"stats"`
				Conflicts []conflict.Conflict `json:"conflicts"`
			}{stats, eng.service.ListConflicts()}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "" || os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// logEmailSender and logSMSSender are the development delivery channels: they
// log instead of calling a provider. Production deployments plug real
// senders into the hub here.
type logEmailSender struct{ logger zerolog.Logger }

func (s logEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("email notification")
	return nil
}

type logSMSSender struct{ logger zerolog.Logger }

func (s logSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("to", to).Str("body", body).Msg("sms notification")
	return nil
}

// engine bundles everything a command needs to run cycles and serve HTTP.
type engine struct {
	service   *conflict.Service
	scheduler *conflict.Scheduler
	provider  *telemetry.Provider
	hub       *notification.Hub
	pool      *pgxpool.Pool // nil in memory mode
}

// buildEngine wires the conflict engine from configuration: appointment
// source, registry, executor, notification hub, and telemetry.
func buildEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*engine, func(), error) {
	var (
		source  appointment.Source
		mutator appointment.Mutator
		cleanup = func() {}
		eng     = &engine{}
	)

	switch cfg.ResolvedSourceMode() {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		repo := appointment.NewCalendarRepoPG(pool)
		source, mutator = repo, repo
		cleanup = pool.Close
		eng.pool = pool
		logger.Info().Msg("using postgres appointment source")
	default:
		cal := appointment.NewMemoryCalendar()
		source, mutator = cal, cal
		logger.Info().Msg("using in-memory appointment source")
	}

	provider := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "conflict-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})

	hub := notification.NewHub(
		logEmailSender{logger: logger},
		logSMSSender{logger: logger},
		notification.NewTemplateEngine(),
	)

	policy := conflict.Policy{Threshold: cfg.AutoResolveThreshold}
	registry := conflict.NewRegistry(policy)

	executor := conflict.NewExecutor(
		registry,
		mutator,
		notification.NewEngineNotifier(hub, logger),
		policy,
		conflict.ExecutorConfig{
			ApplyTimeout: cfg.ApplyTimeout,
			MaxFailures:  cfg.MaxApplyFailures,
			Concurrency:  cfg.AutoResolveConcurrency,
		},
		logger,
	)

	service := conflict.NewService(
		source,
		registry,
		executor,
		conflict.DefaultGeneratorFactory,
		telemetry.NewCycleRecorder(provider),
		conflict.ServiceConfig{
			WindowDays:   cfg.ScanWindowDays,
			FetchTimeout: cfg.FetchTimeout,
			AutoMode:     cfg.AutoMode,
		},
		logger,
	)

	eng.service = service
	eng.scheduler = conflict.NewScheduler(service, cfg.ScanInterval, logger)
	eng.provider = provider
	eng.hub = hub
	return eng, cleanup, nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	eng, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}
	defer cleanup()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(eng.provider.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	conflict.NewHandler(eng.service, eng.scheduler).RegisterRoutes(apiV1)
	notification.NewHandler(eng.hub).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if eng.pool != nil {
		e.GET("/health/db", db.HealthHandler(eng.pool))
	}
	e.GET("/metrics", eng.provider.PrometheusHandler())

	// Periodic scan loop. Its context is cancelled on shutdown; the loop
	// lets an in-flight cycle finish before exiting.
	schedCtx, stopScheduler := context.WithCancel(ctx)
	go eng.scheduler.Run(schedCtx)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
		logger.Error().Err(err).Msg("http shutdown failed")
	}

	stopScheduler()
	select {
	case <-eng.scheduler.Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("scan loop did not stop before the shutdown deadline")
	}

	logger.Info().Msg("server stopped")
	return nil
}
