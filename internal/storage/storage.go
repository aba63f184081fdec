// Package storage keeps a history of training runs in a BoltDB file so that
// operators can see how a model's held-out scores moved between runs and why
// a run failed.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const runsBucket = "runs"

// Run outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// ErrNotFound is returned when no run matches a lookup.
var ErrNotFound = errors.New("run not found")

// Run is one pipeline execution, successful or not.
type Run struct {
	ID           string             `json:"id"`
	ModelName    string             `json:"model_name"`
	Algorithm    string             `json:"algorithm"`
	TaskType     string             `json:"task_type,omitempty"`
	Seed         int64              `json:"seed"`
	InputPath    string             `json:"input_path"`
	TrainSize    int                `json:"train_size,omitempty"`
	TestSize     int                `json:"test_size,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Outcome      string             `json:"outcome"`
	FailedStage  string             `json:"failed_stage,omitempty"`
	Error        string             `json:"error,omitempty"`
	ModelPath    string             `json:"model_path,omitempty"`
	MetadataPath string             `json:"metadata_path,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists runs in a single bucket keyed "model_timestamp", so the
// runs of one model are contiguous and ordered by start time.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the history database at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func runKey(model string, started time.Time) []byte {
	// Zero-padded so lexical order is chronological.
	return []byte(fmt.Sprintf("%s_%020d", model, started.UnixNano()))
}

// StoreRun records r. A run with the same model and start time replaces the
// earlier record.
func (s *Store) StoreRun(r Run) error {
	if r.ID == "" {
		return errors.New("run id is required")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		return b.Put(runKey(r.ModelName, r.StartedAt), data)
	})
}

// GetRuns returns up to limit of the most recent runs of model, newest
// first. A limit <= 0 returns every run.
func (s *Store) GetRuns(model string, limit int) ([]Run, error) {
	var runs []Run
	prefix := []byte(model + "_")

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				continue // Skip malformed records
			}
			// Another model's name may start with this one's prefix.
			if r.ModelName != model {
				continue
			}
			runs = append(runs, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newestFirst(runs, limit), nil
}

// ListRuns returns up to limit runs across all models, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	var runs []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(_, v []byte) error {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			runs = append(runs, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByStart(runs)
	return newestFirst(runs, limit), nil
}

// LatestRun returns the most recent run of model.
func (s *Store) LatestRun(model string) (Run, error) {
	runs, err := s.GetRuns(model, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("%w: model %q", ErrNotFound, model)
	}
	return runs[0], nil
}

// newestFirst reverses chronologically ordered runs and applies limit.
func newestFirst(runs []Run, limit int) []Run {
	out := make([]Run, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func sortByStart(runs []Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
}
