package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/docwatch/internal/config"
	"github.com/hpungsan/docwatch/internal/fsevents"
	"github.com/hpungsan/docwatch/internal/pipeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeRunner records commands. fail maps a step to the error it returns; hook runs
// before the step returns.
type fakeRunner struct {
	mu    sync.Mutex
	calls []pipeline.Command
	fail  map[string]error
	hook  func(cmd pipeline.Command)
}

func (r *fakeRunner) Run(_ context.Context, cmd pipeline.Command) (pipeline.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	hook := r.hook
	err := r.fail[cmd.Step]
	r.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	if err != nil {
		return pipeline.Result{Output: cmd.Step + " output", ExitCode: 1}, err
	}
	return pipeline.Result{Output: "ok"}, nil
}

func (r *fakeRunner) Steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := make([]string, 0, len(r.calls))
	for _, cmd := range r.calls {
		steps = append(steps, cmd.Step)
	}
	return steps
}

func (r *fakeRunner) Calls() []pipeline.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Command(nil), r.calls...)
}

// blockingRunner blocks every step until release is closed.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, _ pipeline.Command) (pipeline.Result, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	if ctx.Err() != nil {
		return pipeline.Result{}, fmt.Errorf("step context cancelled: %w", ctx.Err())
	}
	return pipeline.Result{}, nil
}

type fakeSource struct {
	mu      sync.Mutex
	handler func(fsevents.Event)
	closed  int
}

func (s *fakeSource) Start(handler func(fsevents.Event)) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Emit(event fsevents.Event) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

type recordedRuns struct {
	mu       sync.Mutex
	started  []RunStart
	finished []RunEnd
}

func (r *recordedRuns) RunStarted(_ context.Context, run RunStart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, run)
	return nil
}

func (r *recordedRuns) RunFinished(_ context.Context, run RunEnd) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, run)
	return nil
}

func (r *recordedRuns) Finished() []RunEnd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RunEnd(nil), r.finished...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	repo := filepath.Join(base, "docs")
	if err := os.MkdirAll(repo, 0700); err != nil {
		t.Fatalf("mkdir repo: %v", err)
	}
	indexConfig := filepath.Join(base, "index.yaml")
	if err := os.WriteFile(indexConfig, []byte("collection: docs\n"), 0600); err != nil {
		t.Fatalf("write index config: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.RepositoryPath = repo
	cfg.CollectionName = "docs"
	cfg.IndexConfigPath = indexConfig
	cfg.StateDir = filepath.Join(base, "state")
	cfg.ExtractedJSONPath = filepath.Join(cfg.StateDir, "docs", "extracted.json")
	cfg.DebounceSeconds = 60
	cfg.PollIntervalSeconds = 0.01
	cfg.StopTimeoutSeconds = 5
	return cfg
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("run-%d", n)
	}
}
