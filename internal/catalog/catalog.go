// Package catalog loads task sources and caches them for the process lifetime.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hochfrequenz/task-viewer/internal/domain"
	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
)

// SourceExt is the file extension of task sources
const SourceExt = ".json"

// ReviewSuffix marks review sidecars, which share the source extension but
// are never offered as sources
const ReviewSuffix = "_reviews.json"

// Options configures a Loader
type Options struct {
	Mode domain.SourceMode
	// Dir is searched for sources in directory mode
	Dir string
	// File is the single source in file mode
	File string
	// CacheSize bounds the number of sources kept in memory
	CacheSize int
}

// Loader reads task sources and keeps the most recently used ones in an LRU.
// Cached slices are shared; callers must not modify them.
type Loader struct {
	opts Options

	mu      sync.Mutex
	entries map[string][]*domain.Task
	order   []string // LRU order: oldest at front
	reads   int
}

// NewLoader creates a Loader
func NewLoader(opts Options) *Loader {
	if opts.CacheSize < 1 {
		opts.CacheSize = 8
	}
	if opts.Mode == "" {
		opts.Mode = domain.SourceModeDirectory
	}
	return &Loader{
		opts:    opts,
		entries: make(map[string][]*domain.Task),
		order:   make([]string, 0, opts.CacheSize),
	}
}

// Mode returns the configured source mode
func (l *Loader) Mode() domain.SourceMode {
	return l.opts.Mode
}

// Sources lists the source names offered in the configured mode
func (l *Loader) Sources() []string {
	if l.opts.Mode == domain.SourceModeFile {
		return []string{filepath.Base(l.opts.File)}
	}
	return ListSources(l.opts.Dir)
}

// Select returns source if non-empty, otherwise the first available source.
// It returns "" when nothing is available.
func (l *Loader) Select(source string) string {
	if source != "" {
		return source
	}
	if sources := l.Sources(); len(sources) > 0 {
		return sources[0]
	}
	return ""
}

// Path resolves a source name to its file path
func (l *Loader) Path(source string) (string, error) {
	if source == "" {
		return "", vierr.InvalidArgument("task source name is required")
	}
	if l.opts.Mode == domain.SourceModeFile {
		if source != filepath.Base(l.opts.File) && source != l.opts.File {
			return "", vierr.NotFound("task source %q not found", source)
		}
		return l.opts.File, nil
	}
	if source != filepath.Base(source) || strings.HasPrefix(source, ".") {
		return "", vierr.InvalidArgument("invalid task source name %q", source)
	}
	if !IsSourceName(source) {
		return "", vierr.NotFound("task source %q not found", source)
	}
	return filepath.Join(l.opts.Dir, source), nil
}

// Resolve is Path for a source that must exist on disk
func (l *Loader) Resolve(source string) (string, error) {
	path, err := l.Path(source)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", vierr.NotFound("task source %q not found", source)
	}
	return path, nil
}

// IsSourceName reports whether name is offered as a task source: a .json
// file that is not a review sidecar
func IsSourceName(name string) bool {
	return strings.HasSuffix(name, SourceExt) && !strings.HasSuffix(name, ReviewSuffix)
}

// Load returns the tasks of a source. Repeated calls with the same source
// return the cached slice without reading the file again.
func (l *Loader) Load(source string) ([]*domain.Task, error) {
	path, err := l.Path(source)
	if err != nil {
		return nil, err
	}
	if l.opts.Mode == domain.SourceModeFile {
		source = filepath.Base(path)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if tasks, ok := l.entries[source]; ok {
		l.touch(source)
		return tasks, nil
	}

	tasks, err := readSource(path, source)
	if err != nil {
		return nil, err
	}
	l.reads++

	if len(l.entries) >= l.opts.CacheSize {
		l.evictOldest()
	}
	l.entries[source] = tasks
	l.order = append(l.order, source)
	return tasks, nil
}

// Invalidate drops a cached source so the next Load re-reads it
func (l *Loader) Invalidate(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[source]; !ok {
		return
	}
	delete(l.entries, source)
	l.removeFromOrder(source)
}

// InvalidateAll empties the cache
func (l *Loader) InvalidateAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string][]*domain.Task)
	l.order = l.order[:0]
}

// Reads reports how many times a source file has been read from disk
func (l *Loader) Reads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

// Cached reports the cached source names, oldest first
func (l *Loader) Cached() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func (l *Loader) touch(source string) {
	l.removeFromOrder(source)
	l.order = append(l.order, source)
}

func (l *Loader) removeFromOrder(source string) {
	for i, s := range l.order {
		if s == source {
			l.order = append(l.order[:i], l.order[i+1:]...)
			return
		}
	}
}

func (l *Loader) evictOldest() {
	if len(l.order) == 0 {
		return
	}
	oldest := l.order[0]
	l.order = l.order[1:]
	delete(l.entries, oldest)
}

func readSource(path, source string) ([]*domain.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vierr.NotFound("task source %q not found", source)
		}
		return nil, err
	}

	var tasks []*domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, vierr.Parse(source, err)
	}
	for i, t := range tasks {
		if t == nil {
			return nil, vierr.Parse(source, fmt.Errorf("null record at index %d", i))
		}
	}
	return tasks, nil
}

// ListSources returns the task source file names in dir, sorted. A missing
// or unreadable directory yields an empty list.
func ListSources(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}
	}

	sources := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !IsSourceName(name) {
			continue
		}
		sources = append(sources, name)
	}
	return sources
}
