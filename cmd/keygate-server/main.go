package main

import (
	"context"
	"os"

	"github.com/jimmicro/grace"
	"github.com/mikepea/keygate/pkg/keygate/auth"
	"github.com/mikepea/keygate/pkg/keygate/config"
	"github.com/mikepea/keygate/pkg/keygate/database"
	"github.com/mikepea/keygate/pkg/keygate/logging"
	"github.com/mikepea/keygate/pkg/keygate/models"
	"github.com/mikepea/keygate/pkg/keygate/server"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("Failed to load config")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	zerolog.DefaultContextLogger = &logger

	if err := database.Connect(cfg.DBDriver, cfg.DBDSN); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}

	if err := models.AutoMigrate(database.GetDB()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	logger.Info().Str("driver", cfg.DBDriver).Msg("Database migrations completed")

	created, err := auth.EnsureAdminExists(database.GetDB(), cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to ensure admin user exists")
	}
	if created {
		logger.Warn().Str("email", cfg.AdminEmail).Msg("Created default admin user, change its password")
	}
	if cfg.AdminToken == "" {
		logger.Info().Msg("KEYGATE_ADMIN_TOKEN not set, static-token admin access disabled")
	}
	if cfg.GateEnabled {
		logger.Info().Str("provider", cfg.GateProviderURL).Msg("Key gating enabled")
	}

	srv := server.New(database.GetDB(), cfg, logger)

	shepherd := grace.NewShepherd(
		[]grace.Grace{srv},
		grace.WithTimeout(cfg.ShutdownTimeout),
		grace.WithLogger(&graceLogger{logger: logger}),
	)
	shepherd.Start(context.Background())
}

// graceLogger adapts zerolog to grace.Logger
type graceLogger struct {
	logger zerolog.Logger
}

func (l *graceLogger) Info(msg string, args ...interface{}) {
	if len(args) > 0 {
		l.logger.Info().Msgf(msg, args...)
		return
	}
	l.logger.Info().Msg(msg)
}

func (l *graceLogger) Error(msg string, args ...interface{}) {
	if len(args) > 0 {
		l.logger.Error().Msgf(msg, args...)
		return
	}
	l.logger.Error().Msg(msg)
}
