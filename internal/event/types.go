package event

import (
	"time"
)

// Kind classifies an event for the state machine.
type Kind string

const (
	// KindCreate indicates a resource was created upstream.
	KindCreate Kind = "create"

	// KindUpdate indicates the desired configuration may have changed.
	KindUpdate Kind = "update"

	// KindDelete indicates the resource was removed upstream.
	KindDelete Kind = "delete"

	// KindPoll is a synthetic re-evaluation trigger. The health poller and
	// the retry scheduler inject these; they carry no payload.
	KindPoll Kind = "poll"

	// KindCommand is an administrative command targeting a resource.
	KindCommand Kind = "command"
)

// Command is the administrative operation carried by a KindCommand event.
type Command string

const (
	CommandManage   Command = "manage"
	CommandUnmanage Command = "unmanage"
	CommandRebuild  Command = "rebuild"
	CommandUpdate   Command = "update"
	CommandDebug    Command = "debug"
	CommandDelete   Command = "delete"
)

// Event is the uniform internal representation of an inbound notification.
// Events are immutable once created; the normalizer produces them and exactly
// one state machine consumes each.
type Event struct {
	// ResourceID identifies the router the event addresses.
	ResourceID string

	// TenantID is the owning tenant.
	TenantID string

	// Kind classifies the event.
	Kind Kind

	// Command is set only when Kind is KindCommand.
	Command Command

	// Reason records why a synthetic event was injected ("health-poll",
	// "retry", "rebuild-resume"). Empty for externally sourced events.
	Reason string

	// ReceivedAt is when the normalizer produced the event.
	ReceivedAt time.Time

	// Payload carries source-specific fields the state machine does not
	// interpret; it is passed through for diagnostics.
	Payload map[string]interface{}

	// Reply, when non-nil, receives the outcome once the state machine has
	// fully processed the event. Used by the administrative surface to
	// report success only after completion.
	Reply chan<- Outcome
}

// Outcome is the result of fully processing an event, sent on Event.Reply.
type Outcome struct {
	ResourceID string
	// State is the state machine state after processing, as a string so
	// callers need not import the automaton package.
	State string
	// Detail carries command-specific output (e.g. a debug snapshot).
	Detail map[string]interface{}
	Err    error
}

// Respond delivers an outcome on the event's reply channel, if any.
// It never blocks: the waiter owns a buffered channel.
func (e *Event) Respond(o Outcome) {
	if e.Reply == nil {
		return
	}
	select {
	case e.Reply <- o:
	default:
	}
}
