package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/methings/brainctl/internal/audit"
	"github.com/methings/brainctl/internal/brain"
	"github.com/methings/brainctl/internal/dispatcher"
	"github.com/methings/brainctl/internal/journal"
	"github.com/methings/brainctl/internal/metrics"
	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/storage"
)

func newBrainRuntime(store storage.Adapter, j *journal.Journal, d *dispatcher.Dispatcher, al *audit.Logger, m *metrics.Registry) *brain.Runtime {
	return brain.New(store, j, d, al, m, slog.Default())
}

const runtimeConfigKey = "brain:runtime_config"

// loadRuntimeConfig reads the persisted RuntimeConfig blob, the same one
// the HTTP API's /brain/config handler reads and writes, falling back to
// a clamped zero value when nothing has been saved yet.
func loadRuntimeConfig(ctx context.Context, store storage.Adapter) models.RuntimeConfig {
	var cfg models.RuntimeConfig
	raw, ok, err := store.GetSetting(ctx, runtimeConfigKey)
	if err != nil || !ok {
		cfg.Clamp()
		return cfg
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		cfg.Clamp()
		return cfg
	}
	cfg.Clamp()
	return cfg
}
