package fsevents

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// addTree watches root and every accepted directory below it. When collectFiles is
// set it also returns the regular files found, so a freshly created directory can
// report content that was written before its watch existed.
func (source *Source) addTree(watcher *fsnotify.Watcher, root string, collectFiles bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			if collectFiles && entry.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		}
		if path != source.root && !source.watchDir(path) {
			return filepath.SkipDir
		}
		if err := source.addWatch(watcher, path); err != nil {
			if path == root {
				return err
			}
			source.logger.Warn("watch add failed", "path", path, "error", err)
			return filepath.SkipDir
		}
		return nil
	})
	return files, err
}

func (source *Source) addWatch(watcher *fsnotify.Watcher, path string) error {
	source.mutex.Lock()
	if source.closed {
		source.mutex.Unlock()
		return nil
	}
	if _, ok := source.watched[path]; ok && watcher == source.watcher {
		source.mutex.Unlock()
		return nil
	}
	source.mutex.Unlock()

	if err := watcher.Add(path); err != nil {
		return err
	}

	source.mutex.Lock()
	source.watched[path] = struct{}{}
	count := len(source.watched)
	source.mutex.Unlock()
	source.logger.Debug("watch added", "path", path, "active_watches", count)
	return nil
}

// forget drops path and everything below it from the watch set. fsnotify removes the
// kernel watch of a deleted directory by itself. Reports whether path was a watched directory.
func (source *Source) forget(path string) bool {
	source.mutex.Lock()
	defer source.mutex.Unlock()

	_, wasDir := source.watched[path]
	prefix := path + string(filepath.Separator)
	for watched := range source.watched {
		if watched == path || strings.HasPrefix(watched, prefix) {
			delete(source.watched, watched)
		}
	}
	return wasDir
}

func (source *Source) watchedPaths() []string {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	paths := make([]string, 0, len(source.watched))
	for path := range source.watched {
		paths = append(paths, path)
	}
	return paths
}
