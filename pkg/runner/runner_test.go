package runner

import (
	"context"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORAGE_BACKEND", "filesystem")
	t.Setenv("ORCHESTRATOR", "dbos")
	t.Setenv("DBOS_QUEUE_NAME", "images")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.StorageBackend != "filesystem" || cfg.Orchestrator != "dbos" || cfg.DBOSQueueName != "images" {
		t.Errorf("Unexpected config %+v", cfg)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RECORD_BACKEND", "oracle")

	if _, err := LoadConfig(); err == nil {
		t.Error("Expected unknown record backend to be rejected")
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, nil); err == nil {
		t.Error("Expected nil config to be rejected")
	}

	dir := t.TempDir()
	cfg := &Config{
		MaxDimension:     1000,
		StorageBackend:   "filesystem",
		StorageDir:       filepath.Join(dir, "objects"),
		RecordBackend:    "sqlite3",
		InferenceBackend: "http",
		ParamBackend:     "static",
		Orchestrator:     "dbos",
	}
	// sqlite3 without RECORD_DSN fails before DBOS is reached
	if _, err := New(ctx, cfg); err == nil {
		t.Error("Expected missing record DSN to be rejected")
	}

	cfg.StorageBackend = "tape"
	if _, err := New(ctx, cfg); err == nil {
		t.Error("Expected unknown storage backend to be rejected")
	}
}
