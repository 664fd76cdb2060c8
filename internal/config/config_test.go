package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWhenNoPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != Default().ListenAddr {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
}

func TestLoad_ExpandsEnvAndOverrides(t *testing.T) {
	t.Setenv("BRAINCTL_TEST_PORT", ":9000")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \"${BRAINCTL_TEST_PORT}\"\nstorage_backend: sqlite\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("listen_addr = %q, want :9000", cfg.ListenAddr)
	}
	if cfg.StorageBackend != StorageSQLite {
		t.Fatalf("storage_backend = %q, want sqlite", cfg.StorageBackend)
	}
}
