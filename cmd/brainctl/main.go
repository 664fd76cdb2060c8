// Package main provides the CLI entry point for brainctl, the on-device
// agent control plane: a local service that gates filesystem, shell, and
// device-API access behind an explicit permission model and drives an
// optional remote model through a Planner or Tool-Loop protocol.
//
// # Basic Usage
//
// Start the server:
//
//	brainctl serve --config brainctl.yaml
//
// Check the running service's health and queue state:
//
//	brainctl status
//
// Run an end-to-end smoke check against a running instance:
//
//	brainctl doctor
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v0.1.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// parseLogLevel maps a config string to a slog.Level, defaulting to Info
// for an empty or unrecognized value rather than failing startup over it.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "brainctl",
		Short:        "brainctl - on-device agent control plane",
		Long:         `brainctl gates filesystem, shell, and device-API access behind an explicit permission model, and optionally drives a remote model to act on a user's behalf.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildStatusCmd(),
		buildDoctorCmd(),
		buildModelsCmd(),
	)

	return rootCmd
}
