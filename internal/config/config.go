// Package config loads the file-based service bootstrap configuration:
// listen address, storage backend, device API peer, and log level. This
// is distinct from the in-band RuntimeConfig (internal/models), which is
// persisted through the Storage Adapter and mutable at runtime via the
// HTTP API.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// StorageBackend selects the Storage Adapter implementation.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageSQLite StorageBackend = "sqlite"
)

// Config is the service's file-based bootstrap configuration.
type Config struct {
	ListenAddr     string         `yaml:"listen_addr"`
	LogLevel       string         `yaml:"log_level"`
	StorageBackend StorageBackend `yaml:"storage_backend"`
	SQLitePath     string         `yaml:"sqlite_path"`
	DeviceAPIPeer  string         `yaml:"device_api_peer"`
	AuditOutput    string         `yaml:"audit_output"`
	MetricsAddr    string         `yaml:"metrics_addr"`
}

// Default returns the configuration a fresh install starts with.
func Default() Config {
	return Config{
		ListenAddr:     ":8765",
		LogLevel:       "info",
		StorageBackend: StorageMemory,
		SQLitePath:     "./brainctl.db",
		DeviceAPIPeer:  "http://127.0.0.1:8766",
		AuditOutput:    "stdout",
		MetricsAddr:    ":9765",
	}
}

// Load reads a YAML config file at path, expanding environment variables
// before unmarshalling, and fills unset fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
