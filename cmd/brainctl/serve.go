package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/methings/brainctl/internal/audit"
	"github.com/methings/brainctl/internal/cloudrequest"
	"github.com/methings/brainctl/internal/config"
	"github.com/methings/brainctl/internal/deviceapi"
	"github.com/methings/brainctl/internal/dispatcher"
	"github.com/methings/brainctl/internal/fstool"
	"github.com/methings/brainctl/internal/httpapi"
	"github.com/methings/brainctl/internal/journal"
	"github.com/methings/brainctl/internal/metrics"
	"github.com/methings/brainctl/internal/permission"
	"github.com/methings/brainctl/internal/shellsandbox"
	"github.com/methings/brainctl/internal/storage"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the brainctl control plane",
		Long: `Start the control plane HTTP API: permission broker, tool dispatcher,
device API proxy, and the brain runtime's chat surface.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, cmd)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	return cmd
}

func runServe(ctx context.Context, configPath string, cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})))

	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	al, err := audit.NewLogger(audit.Config{Enabled: true, Format: audit.FormatJSON, Output: cfg.AuditOutput})
	if err != nil {
		return fmt.Errorf("open audit logger: %w", err)
	}
	defer al.Close()

	broker := permission.New(store)
	j := journal.New(store)
	fs := fstool.New(userRoot())
	shell := shellsandbox.New(userRoot())
	device := deviceapi.New(broker, cfg.DeviceAPIPeer)
	cloud := cloudrequest.New(cfg.DeviceAPIPeer)
	d := dispatcher.New(broker, store, fs, shell, device, cloud)

	brainRuntime := newBrainRuntime(store, j, d, al, m)
	brainCfg := loadRuntimeConfig(ctx, store)
	brainRuntime.MaybeAutostart(ctx, brainCfg)

	server := httpapi.New(httpapi.Config{
		Store:      store,
		Broker:     broker,
		Dispatcher: d,
		Journal:    j,
		Brain:      brainRuntime,
		Audit:      al,
		Logger:     slog.Default(),
	})
	if err := server.Start(cfg.ListenAddr); err != nil {
		return fmt.Errorf("start http api: %w", err)
	}

	slog.Info("brainctl serving", "addr", cfg.ListenAddr, "storage", cfg.StorageBackend)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStorage(cfg config.Config) (storage.Adapter, error) {
	switch cfg.StorageBackend {
	case config.StorageSQLite:
		return storage.OpenSQLite(cfg.SQLitePath)
	default:
		return storage.NewMemoryAdapter(), nil
	}
}

func userRoot() string {
	root := os.Getenv("BRAINCTL_USER_ROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		return home
	}
	return root
}
