package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rshade/memctl/internal/remote"
)

// Status is the lifecycle state of a suggestion.
//
//nolint:recvcheck // UnmarshalJSON requires pointer receiver; String/MarshalJSON use value receivers.
type Status int

const (
	// StatusPending is a fetched suggestion that has not been applied.
	StatusPending Status = iota
	// StatusExecuting is a suggestion with an operation in flight.
	StatusExecuting
	// StatusCompleted is terminal until the suggestion is fetched again.
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseStatus maps a service status label to a Status. Unknown labels are
// treated as pending.
func ParseStatus(label string) Status {
	if label == StatusCompleted.String() {
		return StatusCompleted
	}
	return StatusPending
}

// MarshalJSON writes the status as its label.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a status label.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("parsing suggestion status: %w", err)
	}
	switch str {
	case "pending":
		*s = StatusPending
	case "executing":
		*s = StatusExecuting
	case "completed":
		*s = StatusCompleted
	default:
		return fmt.Errorf("parsing suggestion status: unknown value %q", str)
	}
	return nil
}

// allowedTransitions lists the legal status changes. Completed has no exit:
// a fresh fetch replaces the suggestion instead.
//
//nolint:gochecknoglobals // read-only lookup table
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusExecuting},
	StatusExecuting: {StatusCompleted, StatusPending},
	StatusCompleted: {},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Suggestion is a fetched suggestion plus its local lifecycle state.
type Suggestion struct {
	ID             string         `json:"id"`
	Type           Kind           `json:"type"`
	Title          string         `json:"title,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	AffectedBlocks []string       `json:"affected_blocks"`
	Instructions   string         `json:"instructions,omitempty"`
	Status         Status         `json:"status"`
	Results        *ResultSummary `json:"results,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	FetchedAt      time.Time      `json:"fetched_at"`
}

// ResultSummary is what a successful execution leaves on its suggestion.
type ResultSummary struct {
	OperationID     string    `json:"operation_id"`
	SuccessfulCount int       `json:"successful_count"`
	FailedCount     int       `json:"failed_count"`
	TotalProcessed  int       `json:"total_processed"`
	Detail          string    `json:"detail,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

func suggestionFromRemote(r remote.Suggestion, fetchedAt time.Time) *Suggestion {
	return &Suggestion{
		ID:             r.ID,
		Type:           Kind(r.Type),
		Title:          r.Title,
		AgentID:        r.AgentID,
		AffectedBlocks: append([]string(nil), r.AffectedBlocks...),
		Instructions:   r.Instructions,
		Status:         ParseStatus(r.Status),
		FetchedAt:      fetchedAt,
	}
}

func (s *Suggestion) clone() Suggestion {
	c := *s
	c.AffectedBlocks = append([]string(nil), s.AffectedBlocks...)
	if s.Results != nil {
		r := *s.Results
		c.Results = &r
	}
	return c
}

// transition moves s to next or returns ErrInvalidTransition.
func (s *Suggestion) transition(next Status) error {
	if !CanTransition(s.Status, next) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, s.ID, s.Status, next)
	}
	s.Status = next
	return nil
}

// resolve applies an execution result. Only a run with at least one
// successful item completes the suggestion; anything else returns it to
// pending so it can be retried.
func (s *Suggestion) resolve(sum *Summary, runErr error) error {
	switch {
	case runErr != nil:
		s.LastError = runErr.Error()
		return s.transition(StatusPending)
	case sum == nil || sum.Cancelled:
		s.LastError = "cancelled"
		return s.transition(StatusPending)
	case sum.SuccessfulCount == 0:
		s.LastError = fmt.Sprintf("no item succeeded (%d failed)", sum.FailedCount)
		return s.transition(StatusPending)
	}

	detail := ""
	if sum.Result != nil {
		detail = sum.Result.Summary
	}
	s.LastError = ""
	s.Results = &ResultSummary{
		OperationID:     sum.OperationID,
		SuccessfulCount: sum.SuccessfulCount,
		FailedCount:     sum.FailedCount,
		TotalProcessed:  sum.TotalProcessed,
		Detail:          detail,
		CompletedAt:     sum.FinishedAt,
	}
	return s.transition(StatusCompleted)
}
