package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogLevelString(t *testing.T) {
	cases := []struct {
		level LogLevel
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(42), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := c.level.String(); got != c.want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", c.level, got, c.want)
		}
	}
}

func TestInfoIncludesSubsystem(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Info("Scheduler", "dispatched %d events", 3)

	out := buf.String()
	if !strings.Contains(out, "subsystem=Scheduler") {
		t.Errorf("expected subsystem attribute in output, got %q", out)
	}
	if !strings.Contains(out, "dispatched 3 events") {
		t.Errorf("expected formatted message in output, got %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelWarn, &buf)

	Debug("Worker", "noise")
	Info("Worker", "more noise")
	Warn("Worker", "kept")

	out := buf.String()
	if strings.Contains(out, "noise") {
		t.Errorf("expected debug/info suppressed at warn level, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("expected warn message, got %q", out)
	}
}
