package automaton

import (
	"context"

	"rudder/internal/alert"
	"rudder/internal/metrics"
	"rudder/pkg/logging"
)

// rebuild destructively recreates the backing instance: destroy the current
// one (already absent counts as success), provision a fresh one, wait bounded
// for it to become reachable, then re-enter Configure and re-apply. On
// failure the machine lands in Error and keeps retrying on backoff.
func (m *Machine) rebuild(ctx context.Context) error {
	m.transition(StateRebuild)
	m.rebuiltThisPass = true
	logging.Info("Automaton", "%s: rebuilding backing instance", m.resourceID)

	err := m.recreateInstance(ctx)
	if err != nil {
		metrics.Rebuilds.WithLabelValues("failure").Inc()
		m.lastErr = err
		m.raise(alert.Record{
			Severity:   alert.SeverityCritical,
			ResourceID: m.resourceID,
			TenantID:   m.tenantID,
			Kind:       "rebuild-failed",
			Message:    "instance rebuild failed, will retry on backoff",
			Attempt:    m.failures,
			Err:        err,
		})
		m.transition(StateError)
		m.scheduleRetry()
		return err
	}

	metrics.Rebuilds.WithLabelValues("success").Inc()
	m.failures = 0
	m.resetRetry()
	m.lastErr = nil
	// The fresh instance carries no configuration; never skip the re-apply.
	m.lastAppliedHash = ""
	m.transition(StateConfigure)
	logging.Info("Automaton", "%s: rebuild complete, re-applying configuration", m.resourceID)
	return m.applyDesired(ctx, false)
}

func (m *Machine) recreateInstance(ctx context.Context) error {
	if err := m.destroyInstance(ctx); err != nil {
		return err
	}
	return m.createInstance(ctx)
}
