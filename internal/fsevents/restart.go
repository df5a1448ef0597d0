package fsevents

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

func (source *Source) handleError(err error) {
	if err == nil {
		return
	}
	atomic.AddUint64(&source.errorCount, 1)
	source.logger.Warn("watcher error", "error", err)
	source.scheduleRestart(err)
}

func restartDelay(attempt int) time.Duration {
	return restartBaseDelay * time.Duration(1<<attempt)
}

func (source *Source) scheduleRestart(err error) {
	source.restartMutex.Lock()
	if source.isClosed() {
		source.restartMutex.Unlock()
		return
	}
	if source.restartTimer != nil {
		source.restartMutex.Unlock()
		return
	}
	if source.restartAttempts >= maxRestartAttempts {
		source.restartMutex.Unlock()
		source.notifyError(err)
		return
	}
	delay := restartDelay(source.restartAttempts)
	source.restartAttempts++
	source.restartTimer = time.AfterFunc(delay, source.performRestart)
	source.restartMutex.Unlock()
}

func (source *Source) performRestart() {
	restartErr := source.restart()

	source.restartMutex.Lock()
	source.restartTimer = nil
	if restartErr == nil {
		source.restartAttempts = 0
		source.restartMutex.Unlock()
		return
	}
	source.restartMutex.Unlock()

	source.logger.Warn("watcher restart failed", "error", restartErr)
	source.scheduleRestart(restartErr)
}

func (source *Source) notifyError(err error) {
	if source.errorHandler == nil || err == nil {
		return
	}
	source.errorHandler(err)
}

// restart replaces the fsnotify watcher and re-registers the whole tree.
func (source *Source) restart() error {
	if source.isClosed() {
		return nil
	}

	replacement, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	previousCount := len(source.watchedPaths())
	source.mutex.Lock()
	source.watched = make(map[string]struct{})
	source.mutex.Unlock()

	if _, err := source.addTree(replacement, source.root, false); err != nil {
		_ = replacement.Close()
		return err
	}

	source.mutex.Lock()
	if source.closed {
		source.mutex.Unlock()
		_ = replacement.Close()
		return nil
	}
	previous := source.watcher
	source.watcher = replacement
	source.mutex.Unlock()

	source.startForwarder(replacement)
	if previous != nil {
		_ = previous.Close()
	}
	source.logger.Info("watcher restarted", "previous_watches", previousCount, "active_watches", source.activeWatches())
	return nil
}

func (source *Source) isClosed() bool {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	return source.closed
}
