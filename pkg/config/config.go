// Package config loads, defaults and validates the clipvault
// configuration, and builds the configured store implementations.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete clipvault configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (CLIPVAULT_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Store Configuration Pattern:
// The catalog and archive sections carry a Type selector plus one
// type-specific options map per implementation; only the map matching
// the selected type is decoded, by the factories in factories.go.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Storage locates the on-disk data root (staging areas, per-user
	// mirror trees, and the filesystem archive when selected)
	Storage StorageConfig `mapstructure:"storage"`

	// Catalog specifies the catalog store type and type-specific configuration
	Catalog CatalogConfig `mapstructure:"catalog"`

	// Archive specifies the content archive type and type-specific configuration
	Archive ArchiveConfig `mapstructure:"archive"`

	// Worker configures the transcode worker boundary
	Worker WorkerConfig `mapstructure:"worker"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ListenAddr is the address the HTTP API and the worker callback
	// endpoint bind to
	ListenAddr string `mapstructure:"listen_addr" validate:"required,hostname_port"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// MaxMergeWorkers bounds concurrent slice merging, hashing and
	// archive copies across all requests
	MaxMergeWorkers int `mapstructure:"max_merge_workers" validate:"gte=0"`
}

// StorageConfig locates the data root.
type StorageConfig struct {
	// DataRoot is the directory that holds staging/, mirror/ and, for
	// the filesystem archive, archive/
	DataRoot string `mapstructure:"data_root" validate:"required"`
}

// CatalogConfig specifies catalog store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type CatalogConfig struct {
	// Type specifies which catalog implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// ArchiveConfig specifies content archive configuration.
//
// The Type field determines which archive implementation is used.
// Only the corresponding type-specific configuration section is used.
type ArchiveConfig struct {
	// Type specifies which archive implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// WorkerConfig configures the transcode worker boundary.
type WorkerConfig struct {
	// Endpoint is the worker pool's job submission URL
	Endpoint string `mapstructure:"endpoint" validate:"required,url"`

	// Timeout bounds each job submission request
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CLIPVAULT_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the CLIPVAULT_ prefix and underscores.
	// Example: CLIPVAULT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CLIPVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// the current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "clipvault")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "clipvault")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
