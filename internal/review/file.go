package review

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

// PathResolver maps a source name to its file path
type PathResolver interface {
	Path(source string) (string, error)
}

// TempPrefix starts the names of sidecars being staged for a rewrite
const TempPrefix = ".tmp-"

// SidecarPath returns the review file that belongs to a task source:
// tasks/foo.json -> tasks/foo_reviews.json
func SidecarPath(sourcePath string) string {
	dir, base := filepath.Split(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+"_reviews.json")
}

// FileStore keeps one JSON sidecar per source. Each write rewrites the whole
// mapping under a per-source lock.
type FileStore struct {
	sources PathResolver

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates a FileStore
func NewFileStore(sources PathResolver) *FileStore {
	return &FileStore{
		sources: sources,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Get implements Store
func (s *FileStore) Get(source string, taskID int) (domain.ReviewEntry, error) {
	entries, err := s.All(source)
	if err != nil {
		return domain.ReviewEntry{}, err
	}
	return entries[domain.TaskKey(taskID)], nil
}

// All implements Store
func (s *FileStore) All(source string) (map[string]domain.ReviewEntry, error) {
	path, err := s.sidecar(source)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	return readSidecar(path)
}

// SetReviewed implements Store
func (s *FileStore) SetReviewed(source string, taskID int, reviewed bool) error {
	return s.update(source, taskID, func(e *domain.ReviewEntry) {
		e.Reviewed = reviewed
	})
}

// SetNotes implements Store
func (s *FileStore) SetNotes(source string, taskID int, notes string) error {
	return s.update(source, taskID, func(e *domain.ReviewEntry) {
		e.Notes = notes
	})
}

// Close implements Store
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) update(source string, taskID int, apply func(*domain.ReviewEntry)) error {
	path, err := s.sidecar(source)
	if err != nil {
		return err
	}

	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	entries, err := readSidecar(path)
	if err != nil {
		return err
	}

	key := domain.TaskKey(taskID)
	entry := entries[key]
	apply(&entry)
	entries[key] = entry

	return writeSidecar(path, entries)
}

func (s *FileStore) sidecar(source string) (string, error) {
	if err := requireSource(source); err != nil {
		return "", err
	}
	path, err := s.sources.Path(source)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", vierr.NotFound("task source %q not found", source)
	}
	return SidecarPath(path), nil
}

func (s *FileStore) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}
	return lock
}

func readSidecar(path string) (map[string]domain.ReviewEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]domain.ReviewEntry), nil
		}
		return nil, err
	}

	entries := make(map[string]domain.ReviewEntry)
	if len(strings.TrimSpace(string(data))) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, vierr.Parse(filepath.Base(path), err)
	}
	return entries, nil
}

// writeSidecar replaces the sidecar at path with entries. The new content is
// staged in a temp file next to it and renamed into place.
func writeSidecar(path string, entries map[string]domain.ReviewEntry) error {
	name := filepath.Base(path)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("staging %s: %w", name, err)
	}
	staged := false
	defer func() {
		if !staged {
			os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(append(data, '\n'))
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0644)
	}
	if err != nil {
		return fmt.Errorf("staging %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	staged = true
	return nil
}
