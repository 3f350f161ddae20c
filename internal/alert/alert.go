// Package alert is the output side channel for operator-facing failure
// records. The core appends to a Sink and never reads back; delivery to an
// external telemetry system is the sink implementation's concern.
package alert

import (
	"sync"
	"time"

	"rudder/pkg/logging"
)

// Severity grades a record for routing by the external consumer.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Record describes one observable failure or escalation.
type Record struct {
	Severity   Severity
	ResourceID string
	TenantID   string
	// Kind is the failure taxonomy bucket ("transient", "timeout",
	// "provisioning") or the escalation name ("rebuild-threshold",
	// "rebuild-failed").
	Kind    string
	Message string
	Attempt int
	Err     error
	At      time.Time
}

// Sink receives records. Implementations must be safe for concurrent
// writers; Raise must never block the caller.
type Sink interface {
	Raise(r Record)
}

// LogSink writes records to the process log. It is the default sink when no
// external telemetry collaborator is wired in.
type LogSink struct{}

func (LogSink) Raise(r Record) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	switch r.Severity {
	case SeverityCritical:
		logging.Error("Alert", r.Err, "[%s] %s resource=%s tenant=%s attempt=%d",
			r.Kind, r.Message, r.ResourceID, r.TenantID, r.Attempt)
	default:
		logging.Warn("Alert", "[%s] %s resource=%s tenant=%s attempt=%d err=%v",
			r.Kind, r.Message, r.ResourceID, r.TenantID, r.Attempt, r.Err)
	}
}

// MemSink buffers records in memory. Tests use it to assert on escalations.
type MemSink struct {
	mu      sync.Mutex
	records []Record
}

func (m *MemSink) Raise(r Record) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

// Records returns a copy of everything raised so far.
func (m *MemSink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// ByKind returns raised records matching a taxonomy kind.
func (m *MemSink) ByKind(kind string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}
