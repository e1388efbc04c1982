// Package history persists finished bulk operations to a JSON file so that
// past runs can be listed across invocations.
package history

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/logging"
)

// ErrStoreCorrupted indicates the history file exists but cannot be read as
// a history document. Callers should not overwrite it unless asked to.
var ErrStoreCorrupted = errors.New("history file corrupted")

// StoreVersion is the current schema version of the history file.
const StoreVersion = 1

// DefaultMaxRecords bounds the file; the oldest records are dropped first.
const DefaultMaxRecords = 500

// Record is one finished operation.
type Record struct {
	OperationID  string       `json:"operation_id"`
	Kind         engine.Kind  `json:"kind"`
	SuggestionID string       `json:"suggestion_id,omitempty"`
	State        engine.State `json:"state"`
	Processed    int          `json:"processed"`
	Total        int          `json:"total"`
	Successful   int          `json:"successful"`
	Failed       int          `json:"failed"`
	Error        string       `json:"error,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

// Duration is how long the operation ran.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordFromOperation converts a finished operation view.
func RecordFromOperation(op engine.Operation) Record {
	return Record{
		OperationID:  op.ID,
		Kind:         op.Kind,
		SuggestionID: op.SuggestionID,
		State:        op.State,
		Processed:    op.Progress.Processed,
		Total:        op.Progress.Total,
		Successful:   op.Successful,
		Failed:       op.Failed,
		Error:        op.Error,
		StartedAt:    op.StartedAt,
		FinishedAt:   op.FinishedAt,
	}
}

type storeData struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Store is a JSON-file history shared safely between processes through a
// lockfile next to it.
type Store struct {
	filePath   string
	maxRecords int

	// mu serializes writers within this process; the lockfile covers others.
	mu sync.Mutex
}

// NewStore returns a store backed by filePath. maxRecords <= 0 means
// DefaultMaxRecords.
func NewStore(filePath string, maxRecords int) (*Store, error) {
	if filePath == "" {
		return nil, errors.New("history file path cannot be empty")
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Store{filePath: filePath, maxRecords: maxRecords}, nil
}

// FilePath returns the history file location.
func (s *Store) FilePath() string {
	return s.filePath
}

// RecordOperation appends op. It implements engine.Recorder.
func (s *Store) RecordOperation(ctx context.Context, op engine.Operation) error {
	rec := RecordFromOperation(op)
	return s.update(func(records []Record) []Record {
		records = append(records, rec)
		if over := len(records) - s.maxRecords; over > 0 {
			records = records[over:]
		}
		logging.FromContext(ctx).Debug().
			Str("component", "history").
			Str("operation_id", rec.OperationID).
			Int("records", len(records)).
			Msg("operation recorded")
		return records
	})
}

// Query filters List. Zero fields match everything.
type Query struct {
	Kind         engine.Kind
	SuggestionID string
	// States limits results to these states when non-empty.
	States []engine.State
	// Limit caps the result count; 0 means no cap.
	Limit int
}

func (q Query) match(r Record) bool {
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.SuggestionID != "" && r.SuggestionID != q.SuggestionID {
		return false
	}
	if len(q.States) > 0 && !slices.Contains(q.States, r.State) {
		return false
	}
	return true
}

// List returns matching records, newest first. A missing file is an empty
// history.
func (s *Store) List(q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := acquireFileLock(s.lockPath())
	if err != nil {
		return nil, fmt.Errorf("acquiring file lock: %w", err)
	}
	defer unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if q.match(r) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Record) int {
		return cmp.Compare(b.FinishedAt.UnixNano(), a.FinishedAt.UnixNano())
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Clear removes every record. It also recovers a corrupted file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := acquireFileLock(s.lockPath())
	if err != nil {
		return fmt.Errorf("acquiring file lock: %w", err)
	}
	defer unlock()

	return s.write(nil)
}

// update runs fn over the stored records under both locks and writes the
// result atomically.
func (s *Store) update(fn func([]Record) []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := acquireFileLock(s.lockPath())
	if err != nil {
		return fmt.Errorf("acquiring file lock: %w", err)
	}
	defer unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	return s.write(fn(records))
}

func (s *Store) lockPath() string {
	return s.filePath + ".lock"
}

func (s *Store) read() ([]Record, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	var doc storeData
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreCorrupted, err)
	}
	if doc.Version != StoreVersion {
		return nil, fmt.Errorf("%w: unsupported version %d (expected %d)",
			ErrStoreCorrupted, doc.Version, StoreVersion)
	}
	return doc.Records, nil
}

func (s *Store) write(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(storeData{Version: StoreVersion, Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(s.filePath), 0o750); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err = os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing history temp file: %w", err)
	}
	if err = os.Rename(tmpPath, s.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming history temp file: %w", err)
	}
	return nil
}
