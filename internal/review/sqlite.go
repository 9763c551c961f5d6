package review

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/task-viewer/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps review entries for all sources in one SQLite database.
// Upserts touch only the column being set.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection: keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store
func (s *SQLiteStore) Get(source string, taskID int) (domain.ReviewEntry, error) {
	if err := requireSource(source); err != nil {
		return domain.ReviewEntry{}, err
	}

	var e domain.ReviewEntry
	err := s.db.QueryRow(`SELECT reviewed, notes FROM reviews WHERE source = ? AND task_id = ?`,
		source, domain.TaskKey(taskID)).Scan(&e.Reviewed, &e.Notes)
	if err == sql.ErrNoRows {
		return domain.ReviewEntry{}, nil
	}
	return e, err
}

// All implements Store
func (s *SQLiteStore) All(source string) (map[string]domain.ReviewEntry, error) {
	if err := requireSource(source); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT task_id, reviewed, notes FROM reviews WHERE source = ?`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]domain.ReviewEntry)
	for rows.Next() {
		var key string
		var e domain.ReviewEntry
		if err := rows.Scan(&key, &e.Reviewed, &e.Notes); err != nil {
			return nil, err
		}
		entries[key] = e
	}
	return entries, rows.Err()
}

// SetReviewed implements Store
func (s *SQLiteStore) SetReviewed(source string, taskID int, reviewed bool) error {
	if err := requireSource(source); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO reviews (source, task_id, reviewed, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source, task_id) DO UPDATE SET
			reviewed = excluded.reviewed,
			updated_at = excluded.updated_at
	`, source, domain.TaskKey(taskID), reviewed, time.Now())
	return err
}

// SetNotes implements Store
func (s *SQLiteStore) SetNotes(source string, taskID int, notes string) error {
	if err := requireSource(source); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO reviews (source, task_id, notes, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source, task_id) DO UPDATE SET
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`, source, domain.TaskKey(taskID), notes, time.Now())
	return err
}
