package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rshade/memctl/internal/engine/batch"
	"github.com/rshade/memctl/internal/remote"
)

// Kind names the bulk action an operation performs.
type Kind string

// Operation kinds. The suggestion-driven kinds share their names with
// remote.SuggestionType.
const (
	KindKeywords   Kind = Kind(remote.TypeKeywords)
	KindCompaction Kind = Kind(remote.TypeCompaction)
	KindMerge      Kind = Kind(remote.TypeMerge)
	KindArchive    Kind = Kind(remote.TypeArchive)
)

// State is the lifecycle state of one operation.
//
//nolint:recvcheck // UnmarshalJSON requires pointer receiver; String/MarshalJSON use value receivers.
type State int

const (
	// StateIdle is an operation that has not started.
	StateIdle State = iota
	// StateRunning is the only state in which progress is reported.
	StateRunning
	// StateCompleted means every chunk resolved.
	StateCompleted
	// StateFailed means a chunk failed with a transport error.
	StateFailed
	// StateCancelled means the operation was aborted by the user.
	StateCancelled
)

// String returns the label used in logs, metrics and JSON.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the operation has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// MarshalJSON writes the state as its label.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a state label.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("parsing operation state: %w", err)
	}
	for _, candidate := range []State{StateIdle, StateRunning, StateCompleted, StateFailed, StateCancelled} {
		if candidate.String() == str {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("parsing operation state: unknown value %q", str)
}

// Outcome is the result for one target.
type Outcome struct {
	Target   string   `json:"target"`
	Success  bool     `json:"success"`
	Keywords []string `json:"keywords,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Summary is the terminal result of an operation. A cancelled run still
// returns a Summary holding what resolved before the abort.
type Summary struct {
	OperationID     string                     `json:"operation_id"`
	Kind            Kind                       `json:"kind"`
	SuggestionID    string                     `json:"suggestion_id,omitempty"`
	SuccessfulCount int                        `json:"successful_count"`
	FailedCount     int                        `json:"failed_count"`
	TotalProcessed  int                        `json:"total_processed"`
	Total           int                        `json:"total"`
	Outcomes        []Outcome                  `json:"outcomes"`
	Cancelled       bool                       `json:"cancelled"`
	Result          *remote.CompactionResponse `json:"result,omitempty"`
	StartedAt       time.Time                  `json:"started_at"`
	FinishedAt      time.Time                  `json:"finished_at"`
}

// Duration is how long the operation ran.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *Summary) tally() {
	s.SuccessfulCount, s.FailedCount = 0, 0
	for _, o := range s.Outcomes {
		if o.Success {
			s.SuccessfulCount++
		} else {
			s.FailedCount++
		}
	}
	s.TotalProcessed = len(s.Outcomes)
}

// Operation is a point-in-time view of one operation in the registry.
type Operation struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	SuggestionID string         `json:"suggestion_id,omitempty"`
	State        State          `json:"state"`
	Progress     batch.Snapshot `json:"progress"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at,omitzero"`
	Successful   int            `json:"successful"`
	Failed       int            `json:"failed"`
	Error        string         `json:"error,omitempty"`
}
