package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/database/mariadb"
	"github.com/kozaktomas/attendance-terminal/internal/database/memory"
	"github.com/kozaktomas/attendance-terminal/internal/database/postgres"
	"github.com/kozaktomas/attendance-terminal/internal/database/sqlite"
	"github.com/kozaktomas/attendance-terminal/internal/logging"
)

var (
	logLevel  string
	logFormat string
	backend   string
)

var rootCmd = &cobra.Command{
	Use:   "attendance-terminal",
	Short: "Face recognition attendance terminal",
	Long: `Attendance Terminal records the attendance of students, faculty and
administrators by recognizing their faces at a kiosk.

It runs the kiosk loop against a camera, serves the kiosk and admin HTTP API,
and offers roster and attendance maintenance from the command line.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (overrides LOG_FORMAT)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Database backend: memory, sqlite, postgres or mariadb (overrides DATABASE_BACKEND)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() *config.Config {
	cfg := config.Load()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if backend != "" {
		cfg.Database.Backend = backend
	}
	return cfg
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "attendance-terminal")
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, nil
}

// registerBackends makes every storage backend available to database.Open.
func registerBackends(logger *zap.Logger) {
	database.RegisterBackend("memory", func(context.Context, *config.DatabaseConfig) (database.Store, error) {
		logger.Warn("using the in-memory backend, nothing will be persisted")
		return memory.New(), nil
	})
	database.RegisterBackend("sqlite", sqlite.Opener(logger.Named("sqlite")))
	database.RegisterBackend("postgres", postgres.Opener(logger.Named("postgres")))
	database.RegisterBackend("mariadb", mariadb.Opener(logger.Named("mariadb")))
}

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (database.Store, error) {
	registerBackends(logger)
	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", zap.String("backend", cfg.Database.Backend))
	return store, nil
}
