package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rudder/internal/alert"
	"rudder/internal/automaton"
	"rudder/internal/cloud"
	"rudder/internal/event"
	"rudder/internal/metrics"
	"rudder/pkg/logging"
)

var (
	// ErrShuttingDown is returned by Dispatch once shutdown has begun.
	ErrShuttingDown = errors.New("dispatcher is shutting down")

	// ErrResourceDeleted is returned for events that arrive after a
	// resource was torn down.
	ErrResourceDeleted = errors.New("resource was deleted")
)

// Config carries the scheduler's tunables.
type Config struct {
	// Slots is the number of worker slots events are partitioned over.
	Slots int

	// TombstoneSize is how many recently deleted resource IDs each slot
	// remembers, to absorb stale events delivered after teardown.
	TombstoneSize int

	// Policy is applied to every machine the scheduler creates.
	Policy automaton.Policy
}

func (c Config) withDefaults() Config {
	if c.Slots <= 0 {
		c.Slots = 16
	}
	if c.TombstoneSize <= 0 {
		c.TombstoneSize = 50
	}
	return c
}

// Deps are the backends handed to every machine.
type Deps struct {
	Config      cloud.ConfigSource
	Applier     cloud.Applier
	Provisioner cloud.Provisioner
	Alerts      alert.Sink
}

// slot owns a partition of the resource space. One goroutine drains its
// queue; machines in the map are only advanced by that goroutine, so their
// per-resource ordering is total.
type slot struct {
	index int
	queue *eventQueue

	mu       sync.Mutex
	machines map[string]*automaton.Machine

	// tombstones remembers recently deleted resource IDs, newest last.
	tombstones []string
}

// Scheduler partitions events over a fixed set of slots and runs one
// machine per resource inside its slot. Events for the same resource are
// handled in arrival order; events for different resources proceed in
// parallel across slots.
type Scheduler struct {
	cfg   Config
	deps  Deps
	slots []*slot

	timerMu sync.Mutex
	timers  map[string]*time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a scheduler. Start must be called before events flow.
func New(cfg Config, deps Deps) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:    cfg,
		deps:   deps,
		slots:  make([]*slot, cfg.Slots),
		timers: make(map[string]*time.Timer),
		stopCh: make(chan struct{}),
	}
	for i := range s.slots {
		s.slots[i] = &slot{
			index:    i,
			queue:    newEventQueue(),
			machines: make(map[string]*automaton.Machine),
		}
	}
	return s
}

// Start runs the slot loops until ctx is cancelled and all queues drain.
func (s *Scheduler) Start(ctx context.Context) error {
	logging.Info("Dispatch", "starting %d worker slots", s.cfg.Slots)

	g, ctx := errgroup.WithContext(ctx)
	for _, sl := range s.slots {
		g.Go(func() error {
			s.runSlot(ctx, sl)
			return nil
		})
	}

	<-ctx.Done()
	s.Shutdown()
	return g.Wait()
}

// Shutdown stops the queues and cancels pending delayed dispatches.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.timerMu.Lock()
		for _, t := range s.timers {
			t.Stop()
		}
		s.timers = make(map[string]*time.Timer)
		s.timerMu.Unlock()

		for _, sl := range s.slots {
			sl.queue.Shutdown()
		}
	})
}

// Dispatch hands an event to its resource's slot.
func (s *Scheduler) Dispatch(ev *event.Event) error {
	if ev.ResourceID == "" {
		return errors.New("event has no resource id")
	}
	sl := s.slots[slotFor(ev.ResourceID, len(s.slots))]
	if !sl.queue.Add(ev) {
		return ErrShuttingDown
	}
	metrics.EventsDispatched.WithLabelValues(string(ev.Kind)).Inc()
	metrics.QueueDepth.WithLabelValues(strconv.Itoa(sl.index)).Set(float64(sl.queue.Len()))
	return nil
}

// DispatchAfter schedules an event after a delay. A newer schedule for the
// same resource replaces the old one.
func (s *Scheduler) DispatchAfter(ev *event.Event, delay time.Duration) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if t, ok := s.timers[ev.ResourceID]; ok {
		t.Stop()
	}
	s.timers[ev.ResourceID] = time.AfterFunc(delay, func() {
		s.timerMu.Lock()
		delete(s.timers, ev.ResourceID)
		s.timerMu.Unlock()

		select {
		case <-s.stopCh:
		default:
			if err := s.Dispatch(ev); err != nil {
				logging.Debug("Dispatch", "%s: dropping delayed event: %v", ev.ResourceID, err)
			}
		}
	})
}

// DispatchAndWait enqueues an event and blocks until its pass completes or
// ctx expires. Used by the administrative surface.
func (s *Scheduler) DispatchAndWait(ctx context.Context, ev *event.Event) (event.Outcome, error) {
	reply := make(chan event.Outcome, 1)
	ev.Reply = reply
	if err := s.Dispatch(ev); err != nil {
		return event.Outcome{}, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return event.Outcome{}, ctx.Err()
	}
}

// Status returns the snapshot for a single resource's machine.
func (s *Scheduler) Status(resourceID string) (automaton.Status, bool) {
	sl := s.slots[slotFor(resourceID, len(s.slots))]
	sl.mu.Lock()
	m, ok := sl.machines[resourceID]
	sl.mu.Unlock()
	if !ok {
		return automaton.Status{}, false
	}
	return m.Snapshot(), true
}

// Statuses returns snapshots for every live machine, ordered by resource ID.
func (s *Scheduler) Statuses() []automaton.Status {
	var out []automaton.Status
	for _, sl := range s.slots {
		sl.mu.Lock()
		for _, m := range sl.machines {
			out = append(out, m.Snapshot())
		}
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

// TenantStatuses returns snapshots for a tenant's machines.
func (s *Scheduler) TenantStatuses(tenantID string) []automaton.Status {
	all := s.Statuses()
	out := all[:0]
	for _, st := range all {
		if st.TenantID == tenantID {
			out = append(out, st)
		}
	}
	return out
}

func (s *Scheduler) runSlot(ctx context.Context, sl *slot) {
	for {
		ev, ok := sl.queue.Get(ctx)
		if !ok {
			logging.Debug("Dispatch", "slot %d stopping", sl.index)
			return
		}
		s.ingest(sl, ev)

		// Drain whatever else already arrived so bursts collapse into
		// a single pass per machine.
		for {
			next, ok := sl.queue.TryGet()
			if !ok {
				break
			}
			s.ingest(sl, next)
		}
		metrics.QueueDepth.WithLabelValues(strconv.Itoa(sl.index)).Set(float64(sl.queue.Len()))

		s.advanceAll(ctx, sl)
	}
}

// ingest routes one event to its machine, creating the machine on first
// contact unless the resource is tombstoned.
func (s *Scheduler) ingest(sl *slot, ev *event.Event) {
	if s.tombstoned(sl, ev.ResourceID) {
		if ev.Kind == event.KindCreate {
			// A genuine re-create: forget the tombstone.
			s.clearTombstone(sl, ev.ResourceID)
		} else {
			metrics.Undeliverable.WithLabelValues("tombstoned").Inc()
			logging.Debug("Dispatch", "%s: dropping %s for deleted resource", ev.ResourceID, ev.Kind)
			ev.Respond(event.Outcome{
				ResourceID: ev.ResourceID,
				State:      string(automaton.StateDeleted),
				Err:        ErrResourceDeleted,
			})
			return
		}
	}

	sl.mu.Lock()
	m, ok := sl.machines[ev.ResourceID]
	if !ok {
		m = automaton.New(ev.ResourceID, ev.TenantID, s.cfg.Policy, automaton.Deps{
			Config:      s.deps.Config,
			Applier:     s.deps.Applier,
			Provisioner: s.deps.Provisioner,
			Alerts:      s.deps.Alerts,
			Requeue:     s.requeueFunc(ev.ResourceID, ev.TenantID),
		})
		sl.machines[ev.ResourceID] = m
		logging.Debug("Dispatch", "%s: new machine on slot %d", ev.ResourceID, sl.index)
	}
	sl.mu.Unlock()

	if !m.Submit(ev) {
		metrics.Undeliverable.WithLabelValues("terminal").Inc()
		ev.Respond(event.Outcome{
			ResourceID: ev.ResourceID,
			State:      string(automaton.StateDeleted),
			Err:        ErrResourceDeleted,
		})
	}
}

func (s *Scheduler) requeueFunc(resourceID, tenantID string) func(time.Duration) {
	return func(delay time.Duration) {
		s.DispatchAfter(&event.Event{
			ResourceID: resourceID,
			TenantID:   tenantID,
			Kind:       event.KindPoll,
			Reason:     "retry",
			ReceivedAt: time.Now(),
		}, delay)
	}
}

// advanceAll runs every machine with pending work, then reaps the ones that
// reached their terminal state.
func (s *Scheduler) advanceAll(ctx context.Context, sl *slot) {
	sl.mu.Lock()
	pending := make([]*automaton.Machine, 0, len(sl.machines))
	for _, m := range sl.machines {
		if m.HasWork() {
			pending = append(pending, m)
		}
	}
	sl.mu.Unlock()

	for _, m := range pending {
		s.advance(ctx, sl, m)

		if m.Deleted() {
			sl.mu.Lock()
			delete(sl.machines, m.ResourceID())
			sl.tombstones = append(sl.tombstones, m.ResourceID())
			if len(sl.tombstones) > s.cfg.TombstoneSize {
				sl.tombstones = sl.tombstones[len(sl.tombstones)-s.cfg.TombstoneSize:]
			}
			sl.mu.Unlock()
			metrics.MachinesByState.WithLabelValues(string(automaton.StateDeleted)).Dec()
			logging.Info("Dispatch", "%s: machine retired", m.ResourceID())
		}
	}
}

// advance runs one machine, containing panics so a poisoned resource cannot
// take its whole slot down.
func (s *Scheduler) advance(ctx context.Context, sl *slot, m *automaton.Machine) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SlotPanics.Inc()
			logging.Error("Dispatch", fmt.Errorf("panic: %v", r),
				"%s: machine panicked on slot %d\n%s", m.ResourceID(), sl.index, debug.Stack())
			s.deps.Alerts.Raise(alert.Record{
				Severity:   alert.SeverityCritical,
				ResourceID: m.ResourceID(),
				TenantID:   m.TenantID(),
				Kind:       "machine-panic",
				Message:    fmt.Sprintf("machine panicked: %v", r),
				At:         time.Now(),
			})

			// Discard the machine; the next event rebuilds its view
			// from the backends.
			sl.mu.Lock()
			delete(sl.machines, m.ResourceID())
			sl.mu.Unlock()
			metrics.MachinesByState.WithLabelValues(string(m.Snapshot().State)).Dec()
		}
	}()
	m.Advance(ctx)
}

func (s *Scheduler) tombstoned(sl *slot, resourceID string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for _, id := range sl.tombstones {
		if id == resourceID {
			return true
		}
	}
	return false
}

func (s *Scheduler) clearTombstone(sl *slot, resourceID string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	out := sl.tombstones[:0]
	for _, id := range sl.tombstones {
		if id != resourceID {
			out = append(out, id)
		}
	}
	sl.tombstones = out
}
