package automaton

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"rudder/internal/alert"
	"rudder/internal/cloud"
	"rudder/internal/event"
	"rudder/internal/metrics"
	"rudder/pkg/logging"
)

// Policy holds the tunable knobs of the control loop. The shape of the state
// machine does not depend on these values; they are configuration.
type Policy struct {
	// FailureThreshold is the consecutive apply-failure count that
	// escalates to a rebuild.
	FailureThreshold int

	// InitialBackoff, MaxBackoff and BackoffMultiplier parameterize the
	// retry curve for failed applies and rebuilds.
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// ApplyTimeout bounds one configuration push, including the desired
	// config fetch.
	ApplyTimeout time.Duration

	// ProvisionTimeout bounds one destroy or create call.
	ProvisionTimeout time.Duration

	// BootTimeout bounds the reachability wait after a rebuild's create.
	BootTimeout time.Duration

	// ReachabilityInterval is how often the rebuild coordinator probes a
	// booting instance.
	ReachabilityInterval time.Duration
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold:     3,
		InitialBackoff:       time.Second,
		MaxBackoff:           2 * time.Minute,
		BackoffMultiplier:    2.0,
		ApplyTimeout:         30 * time.Second,
		ProvisionTimeout:     60 * time.Second,
		BootTimeout:          5 * time.Minute,
		ReachabilityInterval: 2 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = d.FailureThreshold
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.BackoffMultiplier <= 1 {
		p.BackoffMultiplier = d.BackoffMultiplier
	}
	if p.ApplyTimeout <= 0 {
		p.ApplyTimeout = d.ApplyTimeout
	}
	if p.ProvisionTimeout <= 0 {
		p.ProvisionTimeout = d.ProvisionTimeout
	}
	if p.BootTimeout <= 0 {
		p.BootTimeout = d.BootTimeout
	}
	if p.ReachabilityInterval <= 0 {
		p.ReachabilityInterval = d.ReachabilityInterval
	}
	return p
}

// Deps are the machine's collaborator handles, passed at construction. There
// is no ambient global state.
type Deps struct {
	Config      cloud.ConfigSource
	Applier     cloud.Applier
	Provisioner cloud.Provisioner
	Alerts      alert.Sink

	// Requeue schedules a synthetic retry event for this resource after
	// the given delay. The owning scheduler routes it back through the
	// same slot, so the machine never blocks its worker.
	Requeue func(delay time.Duration)
}

// Status is a read-only snapshot of a machine, safe to read from any
// goroutine.
type Status struct {
	ResourceID          string    `json:"resource_id"`
	TenantID            string    `json:"tenant_id"`
	State               State     `json:"state"`
	Managed             bool      `json:"managed"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastAppliedHash     string    `json:"last_applied_hash,omitempty"`
	InstanceRef         string    `json:"instance_ref,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	PendingEvents       int       `json:"pending_events"`
	CreatedAt           time.Time `json:"created_at"`
	LastTransition      time.Time `json:"last_transition"`
}

// Machine is the per-resource control loop. It is owned by exactly one
// worker slot and all mutation happens on that slot's goroutine; the only
// cross-goroutine surface is the atomic status snapshot.
type Machine struct {
	resourceID string
	tenantID   string

	state   State
	managed bool
	pending []*event.Event

	failures        int
	lastAppliedHash string
	instanceRef     cloud.InstanceRef
	lastErr         error

	createdAt      time.Time
	lastTransition time.Time

	// rebuiltThisPass breaks the escalation loop: a pass that already
	// rebuilt the instance retries on backoff instead of rebuilding again.
	rebuiltThisPass bool

	retry *backoff.ExponentialBackOff

	deps   Deps
	policy Policy

	// onTransition, when set, observes every state edge. The scheduler
	// uses it for gauges; tests use it to verify the transition table.
	onTransition func(from, to State)

	snapshot atomic.Pointer[Status]
}

// New creates a machine for a resource, lazily, on its first event. The
// machine starts in StateDown.
func New(resourceID, tenantID string, policy Policy, deps Deps) *Machine {
	policy = policy.withDefaults()
	m := &Machine{
		resourceID: resourceID,
		tenantID:   tenantID,
		state:      StateDown,
		managed:    true,
		retry:      newRetry(policy),
		deps:       deps,
		policy:     policy,
		createdAt:  time.Now(),
	}
	metrics.MachinesByState.WithLabelValues(string(StateDown)).Inc()
	m.publishSnapshot()
	return m
}

// SetTransitionObserver installs a callback invoked on every state edge.
// Must be called before the machine processes events.
func (m *Machine) SetTransitionObserver(fn func(from, to State)) {
	m.onTransition = fn
}

// ResourceID returns the resource this machine manages.
func (m *Machine) ResourceID() string { return m.resourceID }

// TenantID returns the owning tenant.
func (m *Machine) TenantID() string { return m.tenantID }

// Submit appends an event to the pending queue. Events for a machine that
// has reached its terminal state are refused; the caller records the drop.
func (m *Machine) Submit(ev *event.Event) bool {
	if m.state.Terminal() {
		return false
	}
	m.pending = append(m.pending, ev)
	m.publishSnapshot()
	return true
}

// HasWork reports whether pending events remain.
func (m *Machine) HasWork() bool {
	return !m.state.Terminal() && len(m.pending) > 0
}

// Deleted reports whether the machine has reached its terminal state and can
// be discarded by the owning slot.
func (m *Machine) Deleted() bool { return m.state.Terminal() }

// State returns the current state. Owner-goroutine only; other readers use
// Snapshot.
func (m *Machine) State() State { return m.state }

// Snapshot returns the latest published status. Safe from any goroutine.
func (m *Machine) Snapshot() Status {
	return *m.snapshot.Load()
}

func (m *Machine) publishSnapshot() {
	s := Status{
		ResourceID:          m.resourceID,
		TenantID:            m.tenantID,
		State:               m.state,
		Managed:             m.managed,
		ConsecutiveFailures: m.failures,
		LastAppliedHash:     m.lastAppliedHash,
		InstanceRef:         string(m.instanceRef),
		PendingEvents:       len(m.pending),
		CreatedAt:           m.createdAt,
		LastTransition:      m.lastTransition,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	m.snapshot.Store(&s)
}

// transition moves the machine along one edge of the table. An edge outside
// the table is a programming defect: it is logged and surfaced as a critical
// alert, but the move still happens so the machine cannot wedge.
func (m *Machine) transition(to State) {
	if m.state == to {
		return
	}
	from := m.state
	if !ValidTransition(from, to) {
		logging.Error("Automaton", nil, "illegal transition %s -> %s for %s", from, to, m.resourceID)
		m.raise(alert.Record{
			Severity:   alert.SeverityCritical,
			ResourceID: m.resourceID,
			TenantID:   m.tenantID,
			Kind:       "illegal-transition",
			Message:    "state machine attempted an edge outside the transition table",
		})
	}
	metrics.MachinesByState.WithLabelValues(string(from)).Dec()
	metrics.MachinesByState.WithLabelValues(string(to)).Inc()
	m.state = to
	m.lastTransition = time.Now()
	logging.Debug("Automaton", "%s: %s -> %s", m.resourceID, from, to)
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
}

func (m *Machine) raise(r alert.Record) {
	if m.deps.Alerts != nil {
		m.deps.Alerts.Raise(r)
	}
}

func newRetry(policy Policy) *backoff.ExponentialBackOff {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = policy.InitialBackoff
	retry.MaxInterval = policy.MaxBackoff
	retry.Multiplier = policy.BackoffMultiplier
	return retry
}

// resetRetry restarts the backoff curve after a success.
func (m *Machine) resetRetry() {
	m.retry = newRetry(m.policy)
}

func (m *Machine) scheduleRetry() {
	if m.deps.Requeue == nil {
		return
	}
	delay := m.retry.NextBackOff()
	logging.Debug("Automaton", "%s: retry scheduled in %v (failures=%d)", m.resourceID, delay, m.failures)
	m.deps.Requeue(delay)
}
