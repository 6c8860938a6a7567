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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hospital/labflow/internal/config"
	"github.com/hospital/labflow/internal/domain/lab"
	"github.com/hospital/labflow/internal/platform/auth"
	"github.com/hospital/labflow/internal/platform/backend"
	"github.com/hospital/labflow/internal/platform/db"
	"github.com/hospital/labflow/internal/platform/logging"
	"github.com/hospital/labflow/internal/platform/middleware"
	"github.com/hospital/labflow/internal/platform/validate"
	"github.com/hospital/labflow/migrations"
)

const (
	apiPrefix  = "/api/v1/lab"
	uploadPath = apiPrefix + "/tests/upload"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "labflow",
		Short:        "Lab test workflow service for the hospital backend",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(testsCmd(), reportsCmd(), startCmd(), uploadCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, func()) {
	logger, closer := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Development: cfg.IsDev(),
		File:        cfg.LogFile,
	})
	return logger, func() { _ = closer.Close() }
}

// newService wires the lab service. journal may be nil, in which case the
// journal is kept in memory.
func newService(cfg *config.Config, logger zerolog.Logger, journal lab.JournalRepository) *lab.Service {
	client := backend.New(cfg.BackendURL, cfg.BackendTimeout, logger.With().Str("component", "backend").Logger())
	uploader := lab.NewUploader(logger, lab.UploadOptions{
		ReadinessAttempts: cfg.ReadinessAttempts,
		ReadinessInterval: cfg.ReadinessInterval,
		Category:          cfg.UploadCategory,
	})
	return lab.NewService(lab.NewGateway(client), uploader, journal, logger)
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lab API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending journal migrations before serving")
	return cmd
}

func runServer(migrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog := newLogger(cfg)
	defer closeLog()

	// Journal database is optional
	ctx := context.Background()
	var pool *pgxpool.Pool
	var journal lab.JournalRepository
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to journal database")

		if migrate {
			n, err := db.NewMigrator(pool, migrations.FS, db.DefaultSchema).Up(ctx)
			if err != nil {
				logger.Fatal().Err(err).Msg("migration failed")
			}
			logger.Info().Int("applied", n).Msg("journal migrations applied")
		}
		journal = lab.NewJournalRepoPG(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, transition journal is kept in memory")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, uploadPath))
	e.Use(middleware.BodyLimit("1M", cfg.UploadBodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	var pinger db.Pinger
	if pool != nil {
		pinger = pool
	}
	e.GET("/health/db", db.HealthHandler(pinger))

	var authMW echo.MiddlewareFunc
	if cfg.AuthEnabled() {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	} else {
		logger.Warn().Int("hospital_id", cfg.LabHospitalID).Int("user_id", cfg.LabUserID).
			Msg("auth disabled, requests run as the configured lab user")
		authMW = auth.DevAuthMiddleware(devIdentity(cfg))
	}

	svc := newService(cfg, logger, journal)
	lab.NewHandler(svc).RegisterRoutes(e.Group(apiPrefix, authMW), cfg.LabRole)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.BackendURL).Msg("starting server")
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func devIdentity(cfg *config.Config) auth.Identity {
	return auth.Identity{
		Subject:    "dev",
		Role:       cfg.LabRole,
		HospitalID: cfg.LabHospitalID,
		UserID:     cfg.LabUserID,
		Token:      cfg.BackendToken,
	}
}
