// Package checkpoint persists in-flight run state so an interrupted export can resume.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when no checkpoint exists for a run.
var ErrNotFound = errors.New("checkpoint not found")

var bucketRuns = []byte("runs")

// Entry is one saved checkpoint.
type Entry struct {
	RunID     string          `json:"run_id"`
	UpdatedAt time.Time       `json:"updated_at"`
	State     json.RawMessage `json:"state"`
}

// Decode unmarshals the saved state into v.
func (e Entry) Decode(v any) error {
	if err := json.Unmarshal(e.State, v); err != nil {
		return fmt.Errorf("decode checkpoint %s: %w", e.RunID, err)
	}
	return nil
}

// BoltStore keeps checkpoints in a bbolt file, one key per run.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the checkpoint database at path.
func Open(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoint bucket: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save stores state for runID, replacing any earlier checkpoint.
func (s *BoltStore) Save(runID string, state any) error {
	if runID == "" {
		return errors.New("save checkpoint: empty run id")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	value, err := json.Marshal(Entry{RunID: runID, UpdatedAt: s.now().UTC(), State: raw})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(runID), value)
	})
}

// Load decodes the checkpoint for runID into state.
func (s *BoltStore) Load(runID string, state any) error {
	entry, err := s.Get(runID)
	if err != nil {
		return err
	}
	return entry.Decode(state)
}

// Get returns the raw checkpoint for runID.
func (s *BoltStore) Get(runID string) (Entry, error) {
	var entry Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketRuns).Get([]byte(runID))
		if value == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return json.Unmarshal(value, &entry)
	})
	return entry, err
}

// List returns all checkpoints ordered by run id.
func (s *BoltStore) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, value []byte) error {
			var entry Entry
			if err := json.Unmarshal(value, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return entries, nil
}

// Delete removes the checkpoint for runID. Deleting a missing run is not an error.
func (s *BoltStore) Delete(runID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).Delete([]byte(runID))
	})
}
