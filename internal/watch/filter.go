package watch

import (
	"path/filepath"
	"strings"
)

// Filter decides which filesystem paths are relevant. It is immutable and safe for
// concurrent use.
type Filter struct {
	root       string
	extensions map[string]struct{}
	ignore     map[string]struct{}
}

// NewFilter creates a Filter rooted at root. An empty extensions list tracks every
// file that is not ignored.
func NewFilter(root string, extensions, ignore []string) *Filter {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	filter := &Filter{
		root:       filepath.Clean(root),
		extensions: make(map[string]struct{}, len(extensions)),
		ignore:     make(map[string]struct{}, len(ignore)),
	}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		filter.extensions[ext] = struct{}{}
	}
	for _, segment := range ignore {
		if segment = strings.TrimSpace(segment); segment != "" {
			filter.ignore[segment] = struct{}{}
		}
	}
	return filter
}

// Root returns the absolute repository root.
func (f *Filter) Root() string {
	return f.root
}

// ShouldTrack reports whether a change to path should queue a pipeline run.
// Paths outside the root, and paths with an ignored segment, are rejected.
func (f *Filter) ShouldTrack(path string) bool {
	segments, ok := f.segments(path)
	if !ok || len(segments) == 0 {
		return false
	}
	if f.hasIgnoredSegment(segments) {
		return false
	}
	if len(f.extensions) == 0 {
		return true
	}
	_, ok = f.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ShouldWatchDir reports whether the event source should descend into dir.
func (f *Filter) ShouldWatchDir(dir string) bool {
	segments, ok := f.segments(dir)
	if !ok {
		return false
	}
	return !f.hasIgnoredSegment(segments)
}

// segments splits path relative to the root. Relative input is resolved against the root.
// The root itself yields no segments.
func (f *Filter) segments(path string) ([]string, bool) {
	if path == "" {
		return nil, false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.root, path)
	}
	rel, err := filepath.Rel(f.root, filepath.Clean(path))
	if err != nil {
		return nil, false
	}
	if rel == "." {
		return nil, true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, false
	}
	return strings.Split(filepath.ToSlash(rel), "/"), true
}

func (f *Filter) hasIgnoredSegment(segments []string) bool {
	for _, segment := range segments {
		if _, ok := f.ignore[segment]; ok {
			return true
		}
	}
	return false
}
