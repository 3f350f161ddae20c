package source

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rudder/internal/event"
)

type captureDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (c *captureDispatcher) Dispatch(ev *event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureDispatcher) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *captureDispatcher) first() *event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[0]
}

func spool(t *testing.T, dir, name, body string) {
	t.Helper()
	// Write then rename so the watcher never reads a half-written file.
	tmp := filepath.Join(dir, name+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func TestFilesystemSourceConsumesSpooledFile(t *testing.T) {
	dir := t.TempDir()
	dispatcher := &captureDispatcher{}
	src := NewFilesystemSource(dir, event.NewNormalizer(nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx, dispatcher))
	defer src.Stop()

	spool(t, dir, "n1.json", `{"resource_id":"r-1","tenant_id":"t-1","event_type":"router.update"}`)

	require.Eventually(t, func() bool { return dispatcher.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	ev := dispatcher.first()
	assert.Equal(t, "r-1", ev.ResourceID)
	assert.Equal(t, "t-1", ev.TenantID)
	assert.Equal(t, event.KindUpdate, ev.Kind)

	// The consumed file is gone.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "n1.json"))
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)
}

func TestFilesystemSourceDrainsPreexistingFiles(t *testing.T) {
	dir := t.TempDir()
	spool(t, dir, "a.json", `{"resource_id":"r-1","tenant_id":"t-1","event_type":"router.create"}`)
	spool(t, dir, "b.json", `{"resource_id":"r-2","tenant_id":"t-1","event_type":"router.create"}`)

	dispatcher := &captureDispatcher{}
	src := NewFilesystemSource(dir, event.NewNormalizer(nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx, dispatcher))
	defer src.Stop()

	require.Eventually(t, func() bool { return dispatcher.len() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestFilesystemSourceIgnoresMalformedAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	dispatcher := &captureDispatcher{}
	src := NewFilesystemSource(dir, event.NewNormalizer(nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx, dispatcher))
	defer src.Stop()

	spool(t, dir, "notes.txt", "not a notification")
	spool(t, dir, "bad.json", "{broken")
	spool(t, dir, "ok.json", `{"resource_id":"r-1","tenant_id":"t-1","event_type":"router.delete"}`)

	require.Eventually(t, func() bool { return dispatcher.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, event.KindDelete, dispatcher.first().Kind)

	// Malformed spool files are consumed, not left to rot.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "bad.json"))
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)
}

func TestFilesystemSourceStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := NewFilesystemSource(dir, event.NewNormalizer(nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx, &captureDispatcher{}))
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())
}
