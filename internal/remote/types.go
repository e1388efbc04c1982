// Package remote talks to the memory service that owns agents, memory blocks
// and optimization suggestions. Client is the HTTP implementation; Local is
// an in-process stand-in used for dry runs and tests.
package remote

import (
	"errors"
	"fmt"
	"time"
)

// SuggestionType names the optimization a suggestion proposes.
type SuggestionType string

// Suggestion types produced by the service.
const (
	TypeKeywords   SuggestionType = "keywords"
	TypeCompaction SuggestionType = "compaction"
	TypeMerge      SuggestionType = "merge"
	TypeArchive    SuggestionType = "archive"
)

// Valid reports whether t is a known suggestion type.
func (t SuggestionType) Valid() bool {
	switch t {
	case TypeKeywords, TypeCompaction, TypeMerge, TypeArchive:
		return true
	}
	return false
}

// Suggestion is a service-proposed optimization as fetched from the API.
type Suggestion struct {
	ID             string         `json:"id"`
	Type           SuggestionType `json:"type"`
	Title          string         `json:"title,omitempty"`
	Description    string         `json:"description,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	AffectedBlocks []string       `json:"affected_blocks"`
	Instructions   string         `json:"instructions,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at,omitzero"`
}

// SuggestionFilter narrows ListSuggestions. Empty fields match everything.
type SuggestionFilter struct {
	Type    SuggestionType
	Status  string
	AgentID string
}

// KeywordResult is the service's answer for one memory block.
type KeywordResult struct {
	BlockID  string   `json:"block_id"`
	Keywords []string `json:"keywords,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Succeeded reports whether the block got keywords.
func (r KeywordResult) Succeeded() bool {
	return r.Error == ""
}

// KeywordResponse answers one bulk keyword request.
type KeywordResponse struct {
	Results         []KeywordResult `json:"results"`
	SuccessfulCount int             `json:"successful_count"`
	TotalProcessed  int             `json:"total_processed"`
}

// CompactionRequest asks the service to compact blocks. The service fans
// the work out with at most MaxConcurrent blocks in flight.
type CompactionRequest struct {
	BlockIDs      []string `json:"block_ids"`
	Instructions  string   `json:"instructions,omitempty"`
	MaxConcurrent int      `json:"max_concurrent"`
}

// CompactionMetrics describes what a compaction achieved.
type CompactionMetrics struct {
	BlocksProcessed int   `json:"blocks_processed"`
	BlocksFailed    int   `json:"blocks_failed"`
	CharsBefore     int64 `json:"chars_before"`
	CharsAfter      int64 `json:"chars_after"`
	DurationMs      int64 `json:"duration_ms"`
}

// CompactionResponse answers a compaction or an applied merge/archive.
// FailedBlocks maps each block the service could not handle to the reason.
type CompactionResponse struct {
	Summary      string            `json:"summary"`
	Metrics      CompactionMetrics `json:"metrics"`
	FailedBlocks map[string]string `json:"failed_blocks,omitempty"`
}

// ApplyRequest asks the service to apply a merge or archive suggestion.
type ApplyRequest struct {
	Type     SuggestionType `json:"type"`
	BlockIDs []string       `json:"block_ids"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Errors returned by the remote package.
var (
	// ErrCancelled is wrapped when a request was aborted through its context.
	ErrCancelled = errors.New("request cancelled")

	// ErrIncompatibleService is returned by CheckCompatibility.
	ErrIncompatibleService = errors.New("incompatible memory service version")

	// ErrNotFound is wrapped by StatusError for 404 responses.
	ErrNotFound = errors.New("not found")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

// Temporary reports whether the status suggests a retry might succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
