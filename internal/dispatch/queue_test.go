package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rudder/internal/event"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := newEventQueue()
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, q.Add(&event.Event{ResourceID: id, Kind: event.KindUpdate}))
	}

	for _, want := range []string{"a", "b", "c"} {
		ev, ok := q.Get(context.Background())
		require.True(t, ok)
		assert.Equal(t, want, ev.ResourceID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueGetBlocksUntilAdd(t *testing.T) {
	q := newEventQueue()

	got := make(chan *event.Event, 1)
	go func() {
		ev, ok := q.Get(context.Background())
		if ok {
			got <- ev
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, q.Add(&event.Event{ResourceID: "r-1", Kind: event.KindCreate}))

	select {
	case ev := <-got:
		assert.Equal(t, "r-1", ev.ResourceID)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake up on Add")
	}
}

func TestQueueGetHonorsContext(t *testing.T) {
	q := newEventQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(ctx)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Get did not observe cancellation")
	}
}

func TestQueueTryGet(t *testing.T) {
	q := newEventQueue()
	_, ok := q.TryGet()
	assert.False(t, ok)

	require.True(t, q.Add(&event.Event{ResourceID: "r-1", Kind: event.KindPoll}))
	ev, ok := q.TryGet()
	require.True(t, ok)
	assert.Equal(t, "r-1", ev.ResourceID)
}

func TestQueueShutdownDrains(t *testing.T) {
	q := newEventQueue()
	require.True(t, q.Add(&event.Event{ResourceID: "r-1", Kind: event.KindDelete}))
	q.Shutdown()

	assert.False(t, q.Add(&event.Event{ResourceID: "r-2", Kind: event.KindCreate}),
		"adds after shutdown must be refused")

	// The queued event is still retrievable.
	ev, ok := q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, "r-1", ev.ResourceID)

	_, ok = q.Get(context.Background())
	assert.False(t, ok)
}
