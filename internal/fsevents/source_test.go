package fsevents

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestSource(t *testing.T, root string, watchDir func(string) bool) (*Source, <-chan Event) {
	t.Helper()
	source, err := New(Options{Root: root, WatchDir: watchDir})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	t.Cleanup(func() { _ = source.Close() })

	events := make(chan Event, 64)
	if err := source.Start(func(event Event) {
		select {
		case events <- event:
		default:
		}
	}); err != nil {
		t.Fatalf("start source: %v", err)
	}
	return source, events
}

func waitForPath(events <-chan Event, path string) (Event, bool) {
	deadline := time.After(3 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Path == path {
				return event, true
			}
		case <-deadline:
			return Event{}, false
		}
	}
}

func TestSourceDeliversWriteEvent(t *testing.T) {
	root := t.TempDir()
	_, events := newTestSource(t, root, nil)

	path := filepath.Join(root, "readme.md")
	if err := os.WriteFile(path, []byte("# hi"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	event, ok := waitForPath(events, path)
	if !ok {
		t.Fatal("timed out waiting for write event")
	}
	if event.IsDir {
		t.Fatalf("expected file event, got directory")
	}
}

func TestSourceWatchesNestedDirectories(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "guides", "setup")
	if err := os.MkdirAll(nested, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	_, events := newTestSource(t, root, nil)

	path := filepath.Join(nested, "install.md")
	if err := os.WriteFile(path, []byte("steps"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, ok := waitForPath(events, path); !ok {
		t.Fatal("timed out waiting for nested write event")
	}
}

func TestSourceWatchesDirectoriesCreatedLater(t *testing.T) {
	root := t.TempDir()
	source, events := newTestSource(t, root, nil)

	dir := filepath.Join(root, "later")
	if err := os.Mkdir(dir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	event, ok := waitForPath(events, dir)
	if !ok {
		t.Fatal("timed out waiting for directory create event")
	}
	if !event.IsDir {
		t.Fatalf("expected directory event")
	}

	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, ok := waitForPath(events, path); !ok {
		t.Fatal("timed out waiting for event in new directory")
	}
	if source.Metrics().ActiveWatches != 2 {
		t.Fatalf("expected 2 active watches, got %d", source.Metrics().ActiveWatches)
	}
}

func TestSourceSkipsRejectedDirectories(t *testing.T) {
	root := t.TempDir()
	ignored := filepath.Join(root, "node_modules")
	if err := os.Mkdir(ignored, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	source, _ := newTestSource(t, root, func(path string) bool {
		return !strings.HasSuffix(path, "node_modules")
	})

	metrics := source.Metrics()
	if metrics.ActiveWatches != 1 {
		t.Fatalf("expected only the root to be watched, got %d watches", metrics.ActiveWatches)
	}
}

func TestSourceCloseIsIdempotent(t *testing.T) {
	source, err := New(Options{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	if err := source.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := source.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := source.Start(func(Event) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestNewRejectsMissingRoot(t *testing.T) {
	if _, err := New(Options{Root: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestRestartDelayBackoff(t *testing.T) {
	cases := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 0, expected: restartBaseDelay},
		{attempt: 1, expected: restartBaseDelay * 2},
		{attempt: 2, expected: restartBaseDelay * 4},
	}

	for _, testCase := range cases {
		if got := restartDelay(testCase.attempt); got != testCase.expected {
			t.Fatalf("attempt %d: expected %s, got %s", testCase.attempt, testCase.expected, got)
		}
	}
}

func TestScheduleRestartNotifiesAfterMaxAttempts(t *testing.T) {
	notified := make(chan error, 1)
	source, err := New(Options{
		Root: t.TempDir(),
		ErrorHandler: func(err error) {
			notified <- err
		},
	})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	defer source.Close()

	source.restartMutex.Lock()
	source.restartAttempts = maxRestartAttempts
	source.restartMutex.Unlock()

	source.scheduleRestart(errors.New("boom"))

	select {
	case err := <-notified:
		if err.Error() != "boom" {
			t.Fatalf("unexpected error %v", err)
		}
	default:
		t.Fatal("expected error handler to be notified")
	}
}

func TestPerformRestartReplacesWatcher(t *testing.T) {
	root := t.TempDir()
	source, events := newTestSource(t, root, nil)

	source.mutex.Lock()
	before := source.watcher
	source.mutex.Unlock()

	source.restartMutex.Lock()
	source.restartAttempts = 2
	source.restartMutex.Unlock()

	source.performRestart()

	source.mutex.Lock()
	after := source.watcher
	source.mutex.Unlock()
	if before == after {
		t.Fatal("expected watcher to be replaced")
	}
	if source.Metrics().RestartAttempts != 0 {
		t.Fatalf("expected restart attempts to reset")
	}

	path := filepath.Join(root, "after-restart.md")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, ok := waitForPath(events, path); !ok {
		t.Fatal("timed out waiting for event after restart")
	}
}
