// Package metrics exposes the orchestrator's Prometheus instrumentation.
// The core only ever writes these; they are scraped through the admin
// endpoint and never read back.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsDispatched counts events handed to worker slots, by kind.
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_events_dispatched_total",
		Help: "Events dispatched to worker slots.",
	}, []string{"kind"})

	// EventsDropped counts events dropped before reaching a state machine,
	// with the recorded reason. Nothing is dropped silently.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_events_dropped_total",
		Help: "Events dropped before processing, by reason.",
	}, []string{"reason"})

	// Undeliverable counts inbound notifications that could not be mapped
	// to a known resource.
	Undeliverable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_notifications_undeliverable_total",
		Help: "Inbound notifications that resolved to no resource.",
	}, []string{"reason"})

	// Applies counts configuration apply attempts by result.
	Applies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_config_applies_total",
		Help: "Configuration apply attempts.",
	}, []string{"result"})

	// Failures counts collaborator failures by taxonomy kind.
	Failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_failures_total",
		Help: "Collaborator failures by kind.",
	}, []string{"kind"})

	// Rebuilds counts rebuild attempts by result.
	Rebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rudder_rebuilds_total",
		Help: "Instance rebuild attempts.",
	}, []string{"result"})

	// QueueDepth tracks per-slot inbound queue depth.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rudder_slot_queue_depth",
		Help: "Events waiting in each worker slot queue.",
	}, []string{"slot"})

	// MachinesByState tracks how many state machines sit in each state.
	MachinesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rudder_machines_by_state",
		Help: "Resource state machines per state.",
	}, []string{"state"})

	// SlotPanics counts recovered panics in worker slot loops.
	SlotPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rudder_slot_panics_total",
		Help: "Panics recovered in worker slot loops.",
	})
)

// DropRecorder adapts the undeliverable counter to the normalizer's
// DropCounter interface.
type DropRecorder struct{}

func (DropRecorder) IncUndeliverable(reason string) {
	Undeliverable.WithLabelValues(reason).Inc()
}
