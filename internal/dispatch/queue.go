package dispatch

import (
	"context"
	"sync"

	"rudder/internal/event"
)

// eventQueue is a FIFO of events for one slot. Unlike a deduplicating work
// queue, every event is kept in arrival order: collapsing duplicates is the
// machine's job, and it needs the originals to answer their replies.
type eventQueue struct {
	mu sync.Mutex

	// queue holds events in FIFO order
	queue []*event.Event

	// cond is used for blocking Get operations
	cond *sync.Cond

	// shuttingDown indicates the queue is stopping
	shuttingDown bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		queue: make([]*event.Event, 0),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add appends an event. Returns false if the queue is shutting down.
func (q *eventQueue) Add(ev *event.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return false
	}
	q.queue = append(q.queue, ev)
	q.cond.Signal()
	return true
}

// Get retrieves the next event, blocking if necessary.
func (q *eventQueue) Get(ctx context.Context) (*event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}

		// The goroutine races context cancellation against a normal
		// wakeup. Closing `done` ensures it exits either way.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return nil, false
		default:
		}
	}

	if q.shuttingDown && len(q.queue) == 0 {
		return nil, false
	}

	ev := q.queue[0]
	q.queue = q.queue[1:]
	return ev, true
}

// TryGet retrieves the next event without blocking. Used to drain a burst
// into the machines before running them, so duplicates collapse into one
// pass instead of one pass each.
func (q *eventQueue) TryGet() (*event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return nil, false
	}
	ev := q.queue[0]
	q.queue = q.queue[1:]
	return ev, true
}

// Len returns the queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Shutdown stops the queue. Queued events remain retrievable until drained.
func (q *eventQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}
