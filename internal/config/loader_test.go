package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(body), 0644))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
log_level: debug
dispatch:
  slots: 4
policy:
  failure_threshold: 5
  initial_backoff: 250ms
source:
  kind: filesystem
  spool_dir: /var/spool/rudder
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Dispatch.Slots)
	assert.Equal(t, 5, cfg.Policy.FailureThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Policy.InitialBackoff.Std())
	assert.Equal(t, "filesystem", cfg.Source.Kind)
	assert.Equal(t, "/var/spool/rudder", cfg.Source.SpoolDir)

	// Untouched settings keep their defaults.
	assert.Equal(t, Default().Dispatch.TombstoneSize, cfg.Dispatch.TombstoneSize)
	assert.Equal(t, Default().Admin.Listen, cfg.Admin.Listen)
	assert.Equal(t, Default().Policy.MaxBackoff, cfg.Policy.MaxBackoff)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "dispatch: [broken")

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "policy:\n  apply_timeout: soon\n")

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadValidates(t *testing.T) {
	cases := map[string]string{
		"bad log level":      "log_level: loud\n",
		"bad source kind":    "source:\n  kind: carrier-pigeon\n",
		"spool dir required": "source:\n  kind: filesystem\n",
		"bad multiplier":     "policy:\n  backoff_multiplier: 0.5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, body)
			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", out)
}
