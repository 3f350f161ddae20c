package source

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rudder/internal/event"
)

type memAcker struct {
	mu    sync.Mutex
	acks  int
	naks  int
	terms int
	err   error
}

func (a *memAcker) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return a.err
}

func (a *memAcker) Nak() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.naks++
	return a.err
}

func (a *memAcker) Term() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.terms++
	return a.err
}

type refusingDispatcher struct {
	err error
}

func (d *refusingDispatcher) Dispatch(*event.Event) error { return d.err }

func TestNATSHandleAcksAfterDispatch(t *testing.T) {
	src := NewNATSSource(NATSConfig{}, event.NewNormalizer(nil, nil))
	dispatcher := &captureDispatcher{}
	ack := &memAcker{}

	src.handle(context.Background(), dispatcher, []byte(`{"resource_id":"r-1","tenant_id":"t-1","event_type":"router.update"}`), ack)

	require.Equal(t, 1, dispatcher.len())
	assert.Equal(t, "r-1", dispatcher.first().ResourceID)
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.naks)
	assert.Zero(t, ack.terms)
}

func TestNATSHandleTerminatesUnresolvable(t *testing.T) {
	src := NewNATSSource(NATSConfig{}, event.NewNormalizer(nil, nil))
	dispatcher := &captureDispatcher{}
	ack := &memAcker{}

	// No tenant, so no amount of redelivery can resolve it.
	src.handle(context.Background(), dispatcher, []byte(`{"event_type":"router.update"}`), ack)

	assert.Zero(t, dispatcher.len())
	assert.Equal(t, 1, ack.terms)
	assert.Zero(t, ack.acks)
	assert.Zero(t, ack.naks)
}

func TestNATSHandleNaksWhenDispatchRefuses(t *testing.T) {
	src := NewNATSSource(NATSConfig{}, event.NewNormalizer(nil, nil))
	dispatcher := &refusingDispatcher{err: errors.New("shutting down")}
	ack := &memAcker{}

	src.handle(context.Background(), dispatcher, []byte(`{"resource_id":"r-1","tenant_id":"t-1","event_type":"router.update"}`), ack)

	assert.Equal(t, 1, ack.naks)
	assert.Zero(t, ack.acks)
	assert.Zero(t, ack.terms)
}

func TestNATSHandleToleratesAckFailure(t *testing.T) {
	src := NewNATSSource(NATSConfig{}, event.NewNormalizer(nil, nil))
	dispatcher := &captureDispatcher{}
	ack := &memAcker{err: errors.New("connection lost")}

	// The broker redelivers; the machines absorb the duplicate.
	src.handle(context.Background(), dispatcher, []byte(`{"resource_id":"r-1","tenant_id":"t-1","event_type":"router.create"}`), ack)

	require.Equal(t, 1, dispatcher.len())
	assert.Equal(t, 1, ack.acks)
}

func TestNATSConfigDefaults(t *testing.T) {
	cfg := NATSConfig{}.withDefaults()
	assert.Equal(t, "notifications.>", cfg.Subject)
	assert.Equal(t, "rudder", cfg.Durable)
	assert.NotZero(t, cfg.AckWait)
	assert.NotEmpty(t, cfg.URL)
}
