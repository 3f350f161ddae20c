package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level orchestrator configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`

	Dispatch DispatchConfig `yaml:"dispatch,omitempty"`
	Policy   PolicyConfig   `yaml:"policy,omitempty"`
	Poller   PollerConfig   `yaml:"poller,omitempty"`
	Source   SourceConfig   `yaml:"source,omitempty"`
	Admin    AdminConfig    `yaml:"admin,omitempty"`
}

// DispatchConfig sizes the worker pool.
type DispatchConfig struct {
	// Slots is the number of worker slots. Resources are pinned to a
	// slot by hash, so changing this reshuffles the partitioning.
	Slots int `yaml:"slots,omitempty"`

	// TombstoneSize is how many deleted resource IDs each slot remembers.
	TombstoneSize int `yaml:"tombstone_size,omitempty"`
}

// PolicyConfig tunes the per-resource machines.
type PolicyConfig struct {
	FailureThreshold     int      `yaml:"failure_threshold,omitempty"`
	InitialBackoff       Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff           Duration `yaml:"max_backoff,omitempty"`
	BackoffMultiplier    float64  `yaml:"backoff_multiplier,omitempty"`
	ApplyTimeout         Duration `yaml:"apply_timeout,omitempty"`
	ProvisionTimeout     Duration `yaml:"provision_timeout,omitempty"`
	BootTimeout          Duration `yaml:"boot_timeout,omitempty"`
	ReachabilityInterval Duration `yaml:"reachability_interval,omitempty"`
}

// PollerConfig tunes the background health sweep.
type PollerConfig struct {
	// Interval between sweeps. Zero disables the poller.
	Interval Duration `yaml:"interval,omitempty"`
}

// SourceConfig selects where notifications come from.
type SourceConfig struct {
	// Kind is "nats" or "filesystem".
	Kind string `yaml:"kind,omitempty"`

	NATS NATSSourceConfig `yaml:"nats,omitempty"`

	// SpoolDir is the notification spool for the filesystem source.
	SpoolDir string `yaml:"spool_dir,omitempty"`
}

// NATSSourceConfig configures the message-bus source.
type NATSSourceConfig struct {
	URL     string   `yaml:"url,omitempty"`
	Subject string   `yaml:"subject,omitempty"`
	Durable string   `yaml:"durable,omitempty"`
	Queue   string   `yaml:"queue,omitempty"`
	AckWait Duration `yaml:"ack_wait,omitempty"`
}

// AdminConfig configures the administrative HTTP surface.
type AdminConfig struct {
	// Listen is the bind address, e.g. "127.0.0.1:44250".
	Listen string `yaml:"listen,omitempty"`

	// CommandTimeout bounds how long a synchronous command waits for
	// its machine.
	CommandTimeout Duration `yaml:"command_timeout,omitempty"`
}
