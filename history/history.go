// Package history keeps a small bbolt database of completed sweeps.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const bucketSweeps = "sweeps"

// ErrNotFound is returned by Get for an unknown sweep ID.
var ErrNotFound = errors.New("sweep not found")

// Record summarizes one sweep.
type Record struct {
	ID         string    `json:"id"`
	Workload   string    `json:"workload"`
	Invoke     string    `json:"invoke"`
	Output     string    `json:"output"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Points     int       `json:"points"`
	Rows       int       `json:"rows"`
	Failed     int       `json:"failed"`
	WallP50Ms  int64     `json:"wall_p50_ms"`
	WallP99Ms  int64     `json:"wall_p99_ms"`
	WallMaxMs  int64     `json:"wall_max_ms"`
}

// Store is a bbolt-backed sweep history.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketSweeps))
		return err
	})
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("init history: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores rec under its ID, replacing any previous record.
func (s *Store) Save(rec Record) error {
	if rec.ID == "" {
		return errors.New("history record has no ID")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSweeps)).Put([]byte(rec.ID), data)
	})
}

// List returns every record in reverse key order. Sweep IDs are time
// ordered, so the newest sweep comes first.
func (s *Store) List() ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketSweeps)).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode history record %s: %w", k, err)
			}

			records = append(records, rec)
		}

		return nil
	})

	return records, err
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (Record, error) {
	var rec Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketSweeps)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		return json.Unmarshal(v, &rec)
	})

	return rec, err
}
