// Package traceindex finds recorded browser traces by task id.
package traceindex

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
)

// Suffix is the file name suffix of trace artifacts
const Suffix = ".trace.zip"

// the id is the leading dot-separated segment: 12.trace.zip, 12.retry.trace.zip
var traceFileRegex = regexp.MustCompile(`^(\d+)(?:\.[^/]*)?\.trace\.zip$`)

// FileName returns the artifact file name for a task id
func FileName(taskID int) string {
	return strconv.Itoa(taskID) + Suffix
}

// ParseFileName extracts the task id from an artifact file name
func ParseFileName(name string) (int, bool) {
	m := traceFileRegex.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// Set is a set of task ids
type Set map[int]struct{}

// Has reports whether id is in the set
func (s Set) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order
func (s Set) Sorted() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Index caches one scan per directory. Traces added after the first scan
// are not seen until Invalidate is called.
type Index struct {
	mu    sync.Mutex
	cache map[string]Set
}

// New creates an empty Index
func New() *Index {
	return &Index{cache: make(map[string]Set)}
}

// Scan returns the ids with a trace artifact in dir. A missing directory
// yields an empty set. The returned set is shared and must not be modified.
func (x *Index) Scan(dir string) (Set, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if set, ok := x.cache[dir]; ok {
		return set, nil
	}

	set, err := scanDir(dir)
	if err != nil {
		return nil, err
	}
	x.cache[dir] = set
	return set, nil
}

// Invalidate drops the cached scan for dir
func (x *Index) Invalidate(dir string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.cache, dir)
}

// Path returns the artifact path for taskID, or NotFound if it does not exist
func Path(dir string, taskID int) (string, error) {
	path := filepath.Join(dir, FileName(taskID))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", vierr.NotFound("no trace found for task %d", taskID)
	}
	return path, nil
}

func scanDir(dir string) (Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Set{}, nil
		}
		return nil, err
	}

	set := make(Set)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := ParseFileName(e.Name()); ok {
			set[id] = struct{}{}
		}
	}
	return set, nil
}
