package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"rudder/internal/event"
	"rudder/pkg/logging"
)

// FilesystemSource consumes notifications from JSON files dropped into a
// spool directory. Each file holds one notification; a consumed file is
// removed. Meant for development and integration testing, where running a
// message bus is overkill.
type FilesystemSource struct {
	spoolDir   string
	normalizer *event.Normalizer

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	running bool
}

// NewFilesystemSource creates a spool-directory source.
func NewFilesystemSource(spoolDir string, normalizer *event.Normalizer) *FilesystemSource {
	return &FilesystemSource{spoolDir: spoolDir, normalizer: normalizer}
}

// Name implements Source.
func (s *FilesystemSource) Name() string { return "filesystem" }

// Start implements Source.
func (s *FilesystemSource) Start(ctx context.Context, dispatcher Dispatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := os.MkdirAll(s.spoolDir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.spoolDir); err != nil {
		watcher.Close()
		return err
	}

	s.watcher = watcher
	s.stopCh = make(chan struct{})
	s.running = true

	go s.processEvents(ctx, dispatcher)

	// Consume whatever was spooled before we started watching.
	go s.drainExisting(ctx, dispatcher)

	logging.Info("FilesystemSource", "watching %s for spooled notifications", s.spoolDir)
	return nil
}

func (s *FilesystemSource) processEvents(ctx context.Context, dispatcher Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return

		case fsEvent, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if fsEvent.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			s.consumeFile(ctx, dispatcher, fsEvent.Name)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("FilesystemSource", err, "spool watcher error")
		}
	}
}

func (s *FilesystemSource) drainExisting(ctx context.Context, dispatcher Dispatcher) {
	entries, err := os.ReadDir(s.spoolDir)
	if err != nil {
		logging.Warn("FilesystemSource", "reading spool directory: %v", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		s.consumeFile(ctx, dispatcher, filepath.Join(s.spoolDir, name))
	}
}

func (s *FilesystemSource) consumeFile(ctx context.Context, dispatcher Dispatcher, path string) {
	if !isJSONFile(path) {
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("FilesystemSource", "reading %s: %v", path, err)
		}
		return
	}

	ev, normErr := s.normalizer.Normalize(ctx, raw)

	// Remove before dispatching so a slow pass cannot double-consume the
	// same file on a write event.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("FilesystemSource", "removing %s: %v", path, err)
	}

	if normErr != nil {
		logging.Warn("FilesystemSource", "dropping %s: %v", path, normErr)
		return
	}

	if err := dispatcher.Dispatch(ev); err != nil {
		logging.Warn("FilesystemSource", "%s: dispatch refused: %v", ev.ResourceID, err)
	}
}

// Stop implements Source.
func (s *FilesystemSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)

	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			logging.Error("FilesystemSource", err, "closing spool watcher")
		}
		s.watcher = nil
	}

	logging.Info("FilesystemSource", "stopped")
	return nil
}

func isJSONFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".json"
}
