package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/config"
	"github.com/friendsincode/heimdall_presence/internal/db"
	"github.com/friendsincode/heimdall_presence/internal/logging"
	"github.com/friendsincode/heimdall_presence/internal/server"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "heimdall",
	Short: "Heimdall Presence - voice room session accounting",
	Long:  "Heimdall Presence turns room join/leave events into a session ledger with per-user, per-room time accounting.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Heimdall Presence server",
	Long:  "Start the HTTP API server, presence ingest, and background workers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Msg("Heimdall Presence starting")

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info().Msg("Heimdall Presence stopped")
	return nil
}

// initDatabase initializes the database connection (used by import and user commands)
func initDatabase() (*gorm.DB, error) {
	return db.Connect(cfg)
}
