package watch

import (
	"sort"
	"sync"
	"time"
)

// ChangeSet owns the pending paths, the time of the last relevant change and
// the pipeline state. All three are guarded by one mutex; callers only ever see copies.
type ChangeSet struct {
	mutex      sync.Mutex
	debounce   time.Duration
	paths      map[string]struct{}
	lastChange time.Time
	state      State
}

// ChangeSetStatus is a read-only view of a ChangeSet.
type ChangeSetStatus struct {
	State      State
	Pending    int
	LastChange time.Time
}

// NewChangeSet creates an idle, empty ChangeSet.
func NewChangeSet(debounce time.Duration) *ChangeSet {
	if debounce < 0 {
		debounce = 0
	}
	return &ChangeSet{
		debounce: debounce,
		paths:    make(map[string]struct{}),
		state:    StateIdle,
	}
}

// Enqueue records a change to path at now. While a run is in flight the debounce
// timer is left alone; the run's completion restarts it. A change after a failed run
// re-arms the pipeline. Reports whether the pipeline was re-armed.
func (c *ChangeSet) Enqueue(path string, now time.Time) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == StateStopped {
		return false
	}
	c.paths[path] = struct{}{}
	if c.state != StateRunning {
		c.lastChange = now
	}
	if c.state == StateAwaitingChange {
		c.state = StateIdle
		return true
	}
	return false
}

// TakeSnapshotAndClear returns the pending paths, sorted, and empties the set.
func (c *ChangeSet) TakeSnapshotAndClear() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	snapshot := make([]string, 0, len(c.paths))
	for path := range c.paths {
		snapshot = append(snapshot, path)
	}
	c.paths = make(map[string]struct{})
	sort.Strings(snapshot)
	return snapshot
}

// ReadyToRun reports whether the pipeline is idle, has pending changes, and has
// been quiet for at least the debounce window.
func (c *ChangeSet) ReadyToRun(now time.Time) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.ready(now)
}

func (c *ChangeSet) ready(now time.Time) bool {
	return c.state == StateIdle && len(c.paths) > 0 && now.Sub(c.lastChange) >= c.debounce
}

// BeginRunIfReady moves Idle to Running only if ReadyToRun holds, under the same
// lock, so no change can slip in between the check and the transition.
func (c *ChangeSet) BeginRunIfReady(now time.Time) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.ready(now) {
		return false
	}
	c.state = StateRunning
	return true
}

// BeginRun moves Idle to Running. Only one caller can win.
func (c *ChangeSet) BeginRun() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != StateIdle {
		return false
	}
	c.state = StateRunning
	return true
}

// FinishRun leaves Running. On success the pipeline returns to Idle and, if changes
// arrived during the run, a full debounce window starts at now. On failure it waits
// for the next change. A stopped set stays stopped.
func (c *ChangeSet) FinishRun(succeeded bool, now time.Time) (State, int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	pending := len(c.paths)
	if c.state == StateStopped {
		return c.state, pending
	}
	if succeeded {
		c.state = StateIdle
		if pending > 0 {
			c.lastChange = now
		}
	} else {
		c.state = StateAwaitingChange
	}
	return c.state, pending
}

// Stop moves the set to its terminal state. Further changes are dropped.
func (c *ChangeSet) Stop() {
	c.mutex.Lock()
	c.state = StateStopped
	c.mutex.Unlock()
}

// State returns the current pipeline state.
func (c *ChangeSet) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Len returns the number of pending paths.
func (c *ChangeSet) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.paths)
}

// Status returns a consistent view of the set.
func (c *ChangeSet) Status() ChangeSetStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return ChangeSetStatus{
		State:      c.state,
		Pending:    len(c.paths),
		LastChange: c.lastChange,
	}
}
