// Package cmd contains the CLI setup and commands exposed to the operator.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"parlor/config"
)

var configFile string

// loaded by the root PersistentPreRunE before any subcommand runs
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "parlor",
	Short:         "Chat server with persistent history and live delivery",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := loaded.ResolvePaths(); err != nil {
			return err
		}
		logger, err := newLogger(cmd.ErrOrStderr(), loaded.Log)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		cfg = loaded
		return nil
	},
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	defaultFile, err := config.DefaultFile()
	if err != nil {
		defaultFile = ""
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultFile, "config file")
}

func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", lc.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	// format is checked by config.Validate
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
