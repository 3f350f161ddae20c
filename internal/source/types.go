package source

import (
	"context"

	"rudder/internal/event"
)

// Dispatcher accepts normalized events for routing. Implemented by the
// dispatch scheduler.
type Dispatcher interface {
	Dispatch(ev *event.Event) error
}

// Source feeds external notifications into the dispatcher.
//
// A source owns its own delivery semantics: the message-bus source acks and
// retries through the broker, the filesystem source consumes spool files.
// Both push through the same normalizer, so the dispatcher only ever sees
// well-formed events.
type Source interface {
	// Start begins consuming and pushing events into the dispatcher.
	// It returns once consumption is running; delivery continues in the
	// background until Stop or ctx cancellation.
	Start(ctx context.Context, dispatcher Dispatcher) error

	// Stop gracefully stops the source.
	Stop() error

	// Name identifies the source in logs.
	Name() string
}
