package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SyncConfig is the complete configuration for the onion-sync service.
type SyncConfig struct {
	Sync    SyncServiceConfig `yaml:"sync"`
	TLS     CertConfig        `yaml:"tls"`
	Metrics MetricsConfig     `yaml:"metrics"`
	Log     LogConfig         `yaml:"log"`
}

// SyncServiceConfig holds the sync service's own listener and retention
// settings (spec.md §6 "Sync: buffer_size").
type SyncServiceConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	BufferSize uint64 `yaml:"buffer_size"`
}

// DefaultSyncConfig returns a SyncConfig with every field populated with its
// reference default value.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Sync: SyncServiceConfig{
			ListenAddr: ":8444",
			BufferSize: 1000,
		},
		Metrics: MetricsConfig{Enabled: true, ListenAddr: ":9101"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// LoadSyncConfig reads and parses a sync config file from path.
func LoadSyncConfig(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sync config: %w", err)
	}
	return ParseSyncConfig(data)
}

// ParseSyncConfig parses sync configuration YAML, expanding environment
// variable references, applying defaults, then validating.
func ParseSyncConfig(data []byte) (*SyncConfig, error) {
	expanded := expandRelayEnvVars(string(data))

	cfg := DefaultSyncConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse sync config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sync config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the sync configuration for errors.
func (c *SyncConfig) Validate() error {
	if c.Sync.ListenAddr == "" {
		return fmt.Errorf("sync.listen_addr is required")
	}
	if c.Sync.BufferSize == 0 {
		return fmt.Errorf("sync.buffer_size must be positive")
	}
	if !isValidRelayLogLevel(c.Log.Level) {
		return fmt.Errorf("invalid log.level: %s", c.Log.Level)
	}
	if !isValidRelayLogFormat(c.Log.Format) {
		return fmt.Errorf("invalid log.format: %s", c.Log.Format)
	}
	return nil
}
