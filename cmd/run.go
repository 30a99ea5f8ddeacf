package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"parlor/db"
	"parlor/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the chat server",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.Database, cfg.Messages.HistoryLimit)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	logger := slog.Default()
	logger.Info("store opened", "driver", cfg.Database.Driver)

	srv := server.New(cfg, store, logger)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	if cause := context.Cause(ctx); cause != nil {
		logger.Info("server stopped", "reason", cause)
	}
	return nil
}
