// Package review persists per-source reviewed flags and notes for tasks.
package review

import (
	"github.com/hochfrequenz/task-viewer/internal/domain"
	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
)

// Store holds review entries keyed by source name and task id. Setting one
// field of an entry never changes the other.
type Store interface {
	// Get returns the entry for a task, {false, ""} if none was recorded
	Get(source string, taskID int) (domain.ReviewEntry, error)
	// All returns every recorded entry of a source keyed by task id
	All(source string) (map[string]domain.ReviewEntry, error)
	SetReviewed(source string, taskID int, reviewed bool) error
	SetNotes(source string, taskID int, notes string) error
	Close() error
}

// Progress summarises review state over a task list
type Progress struct {
	Total     int `json:"total"`
	Reviewed  int `json:"reviewed"`
	WithNotes int `json:"with_notes"`
}

// Summarize counts reviewed and annotated tasks among tasks
func Summarize(tasks []*domain.Task, entries map[string]domain.ReviewEntry) Progress {
	p := Progress{Total: len(tasks)}
	for _, t := range tasks {
		e, ok := entries[t.Key()]
		if !ok {
			continue
		}
		if e.Reviewed {
			p.Reviewed++
		}
		if e.Notes != "" {
			p.WithNotes++
		}
	}
	return p
}

func requireSource(source string) error {
	if source == "" {
		return vierr.InvalidArgument("task file name is required")
	}
	return nil
}
