package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"rudder/pkg/logging"
)

const (
	userConfigDir  = ".config/rudder"
	configFileName = "config.yaml"
)

// DefaultConfigPath returns the per-user configuration directory.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Load reads config.yaml from the given directory, overlaying it on the
// defaults. A missing file is not an error; the defaults apply.
func Load(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	cfg := Default()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "no config.yaml at %s, using defaults", configFilePath)
			return cfg, nil
		}
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config from %s: %w", configFilePath, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config in %s: %w", configFilePath, err)
	}

	logging.Info("ConfigLoader", "loaded configuration from %s", configFilePath)
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.Dispatch.Slots < 0 {
		return fmt.Errorf("dispatch.slots must not be negative")
	}
	if c.Policy.FailureThreshold < 0 {
		return fmt.Errorf("policy.failure_threshold must not be negative")
	}
	if c.Policy.BackoffMultiplier != 0 && c.Policy.BackoffMultiplier < 1 {
		return fmt.Errorf("policy.backoff_multiplier must be at least 1")
	}
	switch c.Source.Kind {
	case "", "nats", "filesystem":
	default:
		return fmt.Errorf("unknown source.kind %q", c.Source.Kind)
	}
	if c.Source.Kind == "filesystem" && c.Source.SpoolDir == "" {
		return fmt.Errorf("source.spool_dir is required for the filesystem source")
	}
	return nil
}
