package automaton

import (
	"context"
	"fmt"
	"time"

	"rudder/internal/alert"
	"rudder/internal/cloud"
	"rudder/internal/event"
	"rudder/internal/metrics"
	"rudder/pkg/logging"
)

// Advance drains the pending queue, one collapsed pass at a time, until the
// machine is idle again. It is called only by the owning worker slot.
func (m *Machine) Advance(ctx context.Context) {
	for m.HasWork() {
		p := m.collapse()
		m.rebuiltThisPass = false
		m.execute(ctx, p)
		m.publishSnapshot()
	}
	m.publishSnapshot()
}

func (m *Machine) execute(ctx context.Context, p pass) {
	var detail map[string]interface{}
	var err error

	switch p.action {
	case event.KindDelete:
		err = m.teardown(ctx)
	case event.KindCommand:
		detail, err = m.runCommand(ctx, p.command)
	default:
		err = m.reconcile(ctx, p.action, false)
	}

	outcome := event.Outcome{
		ResourceID: m.resourceID,
		State:      string(m.state),
		Detail:     detail,
		Err:        err,
	}
	for _, ev := range p.events {
		ev.Respond(outcome)
	}
}

// reconcile is the ordinary re-evaluation pass for create/update/poll
// triggers. admin marks passes forced by the administrative surface: they
// bypass both the unmanaged gate and the drift short-circuit.
func (m *Machine) reconcile(ctx context.Context, kind event.Kind, admin bool) error {
	if !m.managed && !admin {
		metrics.EventsDropped.WithLabelValues("unmanaged").Inc()
		logging.Debug("Automaton", "%s: ignoring %s event while unmanaged", m.resourceID, kind)
		return nil
	}

	switch m.state {
	case StateDeleted:
		metrics.EventsDropped.WithLabelValues("deleted").Inc()
		return nil

	case StateDown:
		if err := m.ensureInstance(ctx); err != nil {
			return m.recordBootFailure(err)
		}
		m.transition(StateConfigure)
		return m.applyDesired(ctx, admin)

	case StateCalm:
		if kind == event.KindPoll && !admin {
			up, err := m.instanceHealthy(ctx)
			if err == nil && !up {
				logging.Warn("Automaton", "%s: backing instance unresponsive, recreating", m.resourceID)
				m.transition(StateRestart)
				return m.rebuild(ctx)
			}
		}
		desired, err := m.fetchDesired(ctx)
		if err != nil {
			m.transition(StateConfigure)
			return m.recordApplyFailure(ctx, err)
		}
		if !admin && desired.Hash() == m.lastAppliedHash {
			// Already converged; duplicate deliveries are no-ops.
			logging.Debug("Automaton", "%s: no config drift, nothing to do", m.resourceID)
			return nil
		}
		m.transition(StateConfigure)
		return m.applyConfig(ctx, desired)

	case StateConfigure:
		// Retry of an in-flight convergence, usually a scheduled backoff
		// event; any trigger re-attempts the apply.
		return m.applyDesired(ctx, admin)

	case StateRestart, StateError:
		return m.rebuild(ctx)

	case StateRebuild:
		// The coordinator runs synchronously, so a machine does not park
		// here; a stray trigger just re-attempts.
		return m.rebuild(ctx)
	}
	return nil
}

// applyDesired fetches the current desired configuration and pushes it.
func (m *Machine) applyDesired(ctx context.Context, admin bool) error {
	desired, err := m.fetchDesired(ctx)
	if err != nil {
		return m.recordApplyFailure(ctx, err)
	}
	if !admin && m.state == StateConfigure && desired.Hash() == m.lastAppliedHash {
		// A redelivered trigger raced with a completed apply.
		m.transition(StateCalm)
		return nil
	}
	return m.applyConfig(ctx, desired)
}

func (m *Machine) fetchDesired(ctx context.Context) (cloud.DesiredConfig, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.policy.ApplyTimeout)
	defer cancel()
	desired, err := m.deps.Config.DesiredConfig(fetchCtx, m.resourceID)
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			return cloud.DesiredConfig{}, &cloud.TimeoutError{Op: "fetch-config", ResourceID: m.resourceID}
		}
		return cloud.DesiredConfig{}, fmt.Errorf("fetching desired config for %s: %w", m.resourceID, err)
	}
	return desired, nil
}

// applyConfig pushes one configuration. On success the machine returns to
// Calm with the failure counter reset; on failure it stays in Configure and
// either schedules a backoff retry or escalates to a rebuild once the
// threshold is crossed.
func (m *Machine) applyConfig(ctx context.Context, desired cloud.DesiredConfig) error {
	applyCtx, cancel := context.WithTimeout(ctx, m.policy.ApplyTimeout)
	err := m.deps.Applier.Apply(applyCtx, m.resourceID, desired)
	if err != nil && applyCtx.Err() == context.DeadlineExceeded {
		err = &cloud.TimeoutError{Op: "apply", ResourceID: m.resourceID}
	}
	cancel()

	if err == nil {
		metrics.Applies.WithLabelValues("success").Inc()
		m.failures = 0
		m.resetRetry()
		m.lastAppliedHash = desired.Hash()
		m.lastErr = nil
		m.transition(StateCalm)
		logging.Info("Automaton", "%s: configuration applied", m.resourceID)
		return nil
	}

	metrics.Applies.WithLabelValues("failure").Inc()
	return m.recordApplyFailure(ctx, err)
}

// recordApplyFailure advances the consecutive-failure accounting shared by
// apply and config-fetch failures, escalating to a rebuild at the threshold.
func (m *Machine) recordApplyFailure(ctx context.Context, err error) error {
	m.failures++
	m.lastErr = err
	kind := cloud.Classify(err)
	metrics.Failures.WithLabelValues(string(kind)).Inc()

	logging.Warn("Automaton", "%s: apply attempt %d failed (%s): %v",
		m.resourceID, m.failures, kind, err)
	m.raise(alert.Record{
		Severity:   alert.SeverityWarning,
		ResourceID: m.resourceID,
		TenantID:   m.tenantID,
		Kind:       string(kind),
		Message:    "configuration apply failed",
		Attempt:    m.failures,
		Err:        err,
	})

	if m.failures >= m.policy.FailureThreshold && !m.rebuiltThisPass {
		m.raise(alert.Record{
			Severity:   alert.SeverityCritical,
			ResourceID: m.resourceID,
			TenantID:   m.tenantID,
			Kind:       "rebuild-threshold",
			Message:    fmt.Sprintf("%d consecutive apply failures, rebuilding instance", m.failures),
			Attempt:    m.failures,
			Err:        err,
		})
		return m.rebuild(ctx)
	}

	m.scheduleRetry()
	return err
}

// recordBootFailure handles a failed initial boot from StateDown. The machine
// stays Down and retries on backoff.
func (m *Machine) recordBootFailure(err error) error {
	m.failures++
	m.lastErr = err
	metrics.Failures.WithLabelValues(string(cloud.FailureProvisioning)).Inc()
	logging.Warn("Automaton", "%s: boot attempt %d failed: %v", m.resourceID, m.failures, err)
	m.raise(alert.Record{
		Severity:   alert.SeverityWarning,
		ResourceID: m.resourceID,
		TenantID:   m.tenantID,
		Kind:       string(cloud.FailureProvisioning),
		Message:    "instance boot failed",
		Attempt:    m.failures,
		Err:        err,
	})
	m.scheduleRetry()
	return err
}

// instanceHealthy asks the provisioner whether the backing instance is up.
func (m *Machine) instanceHealthy(ctx context.Context) (bool, error) {
	statusCtx, cancel := context.WithTimeout(ctx, m.policy.ProvisionTimeout)
	defer cancel()
	st, err := m.deps.Provisioner.Status(statusCtx, m.resourceID)
	if err != nil {
		return false, err
	}
	return st.State == cloud.InstanceUp, nil
}

// teardown destroys the backing instance and moves the machine to its
// terminal state. Pending events were already absorbed into the delete pass.
// Deletion is honored even while unmanaged: the resource no longer exists
// upstream, so the unmanaged gate applies only to reconciliation.
func (m *Machine) teardown(ctx context.Context) error {
	if m.state.Terminal() {
		return nil
	}
	destroyCtx, cancel := context.WithTimeout(ctx, m.policy.ProvisionTimeout)
	err := m.deps.Provisioner.Destroy(destroyCtx, m.resourceID)
	cancel()
	if err != nil {
		// The resource is gone upstream either way; leaking the instance
		// is an operator problem, not a reason to keep the machine.
		m.raise(alert.Record{
			Severity:   alert.SeverityCritical,
			ResourceID: m.resourceID,
			TenantID:   m.tenantID,
			Kind:       "teardown-failed",
			Message:    "instance destroy failed during delete",
			Err:        err,
		})
	}
	m.instanceRef = ""
	m.transition(StateDeleted)
	logging.Info("Automaton", "%s: deleted", m.resourceID)
	return err
}

// runCommand executes one administrative command. Commands are serialized
// with the resource's ordinary events by the scheduler, so they observe a
// consistent machine.
func (m *Machine) runCommand(ctx context.Context, cmd event.Command) (map[string]interface{}, error) {
	logging.Info("Automaton", "%s: administrative %s", m.resourceID, cmd)

	switch cmd {
	case event.CommandManage:
		m.managed = true
		if m.state.Terminal() {
			return nil, nil
		}
		// Re-manage triggers an immediate re-evaluation.
		return nil, m.reconcile(ctx, event.KindUpdate, true)

	case event.CommandUnmanage:
		m.managed = false
		return nil, nil

	case event.CommandUpdate:
		if m.state.Terminal() {
			return nil, fmt.Errorf("resource %s is deleted", m.resourceID)
		}
		return nil, m.reconcile(ctx, event.KindUpdate, true)

	case event.CommandRebuild:
		if m.state.Terminal() {
			return nil, fmt.Errorf("resource %s is deleted", m.resourceID)
		}
		return nil, m.rebuild(ctx)

	case event.CommandDebug:
		s := m.Snapshot()
		return map[string]interface{}{
			"state":                s.State,
			"managed":              s.Managed,
			"consecutive_failures": s.ConsecutiveFailures,
			"last_applied_hash":    s.LastAppliedHash,
			"instance_ref":         s.InstanceRef,
			"pending_events":       s.PendingEvents,
			"last_error":           s.LastError,
		}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

// ensureInstance makes sure a backing instance is running before the first
// configuration push. It is resume-aware: after a process restart the
// provisioner's actual status decides whether to provision or proceed
// directly to configuration.
func (m *Machine) ensureInstance(ctx context.Context) error {
	statusCtx, cancel := context.WithTimeout(ctx, m.policy.ProvisionTimeout)
	st, err := m.deps.Provisioner.Status(statusCtx, m.resourceID)
	cancel()
	if err != nil {
		return &cloud.ProvisioningError{Op: "status", ResourceID: m.resourceID, Reason: err.Error()}
	}

	switch st.State {
	case cloud.InstanceUp:
		m.instanceRef = st.Ref
		return nil

	case cloud.InstanceBooting:
		m.instanceRef = st.Ref
		return m.waitReachable(ctx, st.Ref)

	case cloud.InstanceError:
		// A broken half-provisioned instance is replaced outright.
		if err := m.destroyInstance(ctx); err != nil {
			return err
		}
		return m.createInstance(ctx)

	default: // absent
		return m.createInstance(ctx)
	}
}

func (m *Machine) destroyInstance(ctx context.Context) error {
	destroyCtx, cancel := context.WithTimeout(ctx, m.policy.ProvisionTimeout)
	defer cancel()
	if err := m.deps.Provisioner.Destroy(destroyCtx, m.resourceID); err != nil {
		if destroyCtx.Err() == context.DeadlineExceeded {
			return &cloud.TimeoutError{Op: "destroy", ResourceID: m.resourceID}
		}
		return &cloud.ProvisioningError{Op: "destroy", ResourceID: m.resourceID, Reason: err.Error()}
	}
	m.instanceRef = ""
	return nil
}

func (m *Machine) createInstance(ctx context.Context) error {
	createCtx, cancel := context.WithTimeout(ctx, m.policy.ProvisionTimeout)
	ref, err := m.deps.Provisioner.Create(createCtx, m.resourceID)
	cancel()
	if err != nil {
		if createCtx.Err() == context.DeadlineExceeded {
			return &cloud.TimeoutError{Op: "create", ResourceID: m.resourceID}
		}
		return &cloud.ProvisioningError{Op: "create", ResourceID: m.resourceID, Reason: err.Error()}
	}
	m.instanceRef = ref
	return m.waitReachable(ctx, ref)
}

// waitReachable polls the instance's management channel until it answers or
// the boot timeout elapses.
func (m *Machine) waitReachable(ctx context.Context, ref cloud.InstanceRef) error {
	deadline := time.NewTimer(m.policy.BootTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.policy.ReachabilityInterval)
	defer ticker.Stop()

	probe := func() (bool, error) {
		probeCtx, cancel := context.WithTimeout(ctx, m.policy.ReachabilityInterval)
		defer cancel()
		return m.deps.Provisioner.IsReachable(probeCtx, ref)
	}

	if ok, err := probe(); err == nil && ok {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return &cloud.TimeoutError{Op: "boot", ResourceID: m.resourceID}
		case <-deadline.C:
			return &cloud.TimeoutError{Op: "boot", ResourceID: m.resourceID}
		case <-ticker.C:
			ok, err := probe()
			if err != nil {
				logging.Debug("Automaton", "%s: reachability probe failed: %v", m.resourceID, err)
				continue
			}
			if ok {
				return nil
			}
		}
	}
}
