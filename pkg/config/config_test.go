package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsApplied(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

storage:
  data_root: "/tmp/clipvault-test"

catalog:
  type: "memory"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.MaxMergeWorkers != 4 {
		t.Errorf("Expected default max_merge_workers 4, got %d", cfg.Server.MaxMergeWorkers)
	}
	if cfg.Archive.Type != "filesystem" {
		t.Errorf("Expected default archive type 'filesystem', got %q", cfg.Archive.Type)
	}
	if got := cfg.Archive.Filesystem["path"]; got != "/tmp/clipvault-test/archive" {
		t.Errorf("Expected archive path under data root, got %v", got)
	}
	if cfg.Worker.Timeout != 30*time.Second {
		t.Errorf("Expected default worker timeout 30s, got %v", cfg.Worker.Timeout)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Catalog.Type != "badger" {
		t.Errorf("Expected default catalog type 'badger', got %q", cfg.Catalog.Type)
	}
	if got := cfg.Catalog.Badger["path"]; got != "/var/lib/clipvault/catalog" {
		t.Errorf("Expected badger path under default data root, got %v", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_LevelNormalized(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "debug"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestLoad_InvalidCatalogType(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
catalog:
  type: "postgres"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown catalog type, got nil")
	}
}

func TestValidate_S3RequiresBucketAndRegion(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Archive.Type = "s3"
	cfg.Archive.S3 = map[string]any{"region": "us-east-1"}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected error for missing S3 bucket, got nil")
	}

	cfg.Archive.S3 = map[string]any{"bucket": "clips"}
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected error for missing S3 region, got nil")
	}

	cfg.Archive.S3 = map[string]any{"bucket": "clips", "region": "us-east-1"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected valid S3 config, got: %v", err)
	}
}

func TestValidate_BadgerRequiresPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Catalog.Type = "badger"
	cfg.Catalog.Badger = map[string]any{}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected error for badger catalog without path, got nil")
	}

	cfg.Catalog.Badger = map[string]any{"in_memory": true}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected in_memory badger config to validate, got: %v", err)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
	if cfg.Storage.DataRoot == "" {
		t.Error("Expected a default data root")
	}
	if cfg.Worker.Endpoint == "" {
		t.Error("Expected a default worker endpoint")
	}
}
