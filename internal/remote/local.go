package remote

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rshade/memctl/internal/engine/batch"
)

// LocalVersion is what Local reports as its service version.
const LocalVersion = "0.6.0-local"

// Local is an in-process backend. Nothing leaves the process: keywords are
// derived from block ids and compaction only waits. It honors cancellation
// the same way Client does.
type Local struct {
	// Latency is how long each block takes. Zero means instant.
	Latency time.Duration

	// FailBlocks makes keyword generation fail for these ids.
	FailBlocks map[string]string

	mu          sync.Mutex
	suggestions map[string]Suggestion
	calls       []string
}

// NewLocal returns a Local serving the given suggestions.
func NewLocal(latency time.Duration, suggestions ...Suggestion) *Local {
	l := &Local{
		Latency:     latency,
		suggestions: make(map[string]Suggestion, len(suggestions)),
	}
	for _, s := range suggestions {
		l.suggestions[s.ID] = s
	}
	return l
}

// Calls returns the operations invoked so far, in order.
func (l *Local) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

func (l *Local) record(format string, args ...any) {
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

// ListSuggestions returns the suggestions matching filter, ordered by id.
func (l *Local) ListSuggestions(_ context.Context, filter SuggestionFilter) ([]Suggestion, error) {
	l.record("list")

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Suggestion, 0, len(l.suggestions))
	for _, s := range l.suggestions {
		if filter.Type != "" && s.Type != filter.Type {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.AgentID != "" && s.AgentID != filter.AgentID {
			continue
		}
		s.AffectedBlocks = slices.Clone(s.AffectedBlocks)
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Suggestion) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// GetSuggestion returns one suggestion.
func (l *Local) GetSuggestion(_ context.Context, id string) (*Suggestion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.suggestions[id]
	if !ok {
		return nil, &StatusError{Method: "GET", Path: pathSuggestions + "/" + id, StatusCode: 404}
	}
	s.AffectedBlocks = slices.Clone(s.AffectedBlocks)
	return &s, nil
}

// GenerateKeywords derives keywords from each block id, sequentially.
func (l *Local) GenerateKeywords(ctx context.Context, blockIDs []string) (*KeywordResponse, error) {
	l.record("keywords:%d", len(blockIDs))

	resp := &KeywordResponse{Results: make([]KeywordResult, 0, len(blockIDs))}
	for _, id := range blockIDs {
		if err := l.wait(ctx); err != nil {
			return nil, err
		}
		if reason, bad := l.FailBlocks[id]; bad {
			resp.Results = append(resp.Results, KeywordResult{BlockID: id, Error: reason})
			resp.TotalProcessed++
			continue
		}
		resp.Results = append(resp.Results, KeywordResult{BlockID: id, Keywords: keywordsFor(id)})
		resp.SuccessfulCount++
		resp.TotalProcessed++
	}
	return resp, nil
}

// CompactMemoryBlocks waits Latency per block with at most MaxConcurrent
// blocks in flight. Blocks listed in FailBlocks are reported as failed.
func (l *Local) CompactMemoryBlocks(ctx context.Context, req CompactionRequest) (*CompactionResponse, error) {
	l.record("compact:%d:%d", len(req.BlockIDs), req.MaxConcurrent)
	return l.fanOut(ctx, req.BlockIDs, req.MaxConcurrent, "compacted")
}

// ApplySuggestion applies a merge or archive suggestion and marks it
// completed.
func (l *Local) ApplySuggestion(ctx context.Context, id string, req ApplyRequest) (*CompactionResponse, error) {
	l.record("apply:%s:%s", id, req.Type)

	verb := "merged"
	if req.Type == TypeArchive {
		verb = "archived"
	}
	resp, err := l.fanOut(ctx, req.BlockIDs, 1, verb)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if s, ok := l.suggestions[id]; ok {
		s.Status = "completed"
		l.suggestions[id] = s
	}
	l.mu.Unlock()
	return resp, nil
}

// ServiceVersion returns LocalVersion.
func (l *Local) ServiceVersion(context.Context) (string, error) {
	return LocalVersion, nil
}

func (l *Local) fanOut(ctx context.Context, ids []string, maxConcurrent int, verb string) (*CompactionResponse, error) {
	start := time.Now()
	if len(ids) == 0 {
		return &CompactionResponse{Summary: fmt.Sprintf("%s 0 blocks", verb)}, nil
	}

	p, err := batch.NewProcessor[string](batch.MinBatchSize)
	if err != nil {
		return nil, err
	}
	err = p.ProcessConcurrent(ctx, ids, func(ctx context.Context, _ []string, _ int) error {
		return l.wait(ctx)
	}, maxConcurrent)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return nil, err
	}

	resp := &CompactionResponse{
		Metrics: CompactionMetrics{
			BlocksProcessed: len(ids),
			DurationMs:      time.Since(start).Milliseconds(),
		},
	}
	for _, id := range ids {
		if reason, bad := l.FailBlocks[id]; bad {
			if resp.FailedBlocks == nil {
				resp.FailedBlocks = make(map[string]string)
			}
			resp.FailedBlocks[id] = reason
			resp.Metrics.BlocksFailed++
		}
	}
	resp.Summary = fmt.Sprintf("%s %d blocks", verb, len(ids)-resp.Metrics.BlocksFailed)
	return resp, nil
}

func (l *Local) wait(ctx context.Context) error {
	if l.Latency <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return nil
	}
	t := time.NewTimer(l.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	case <-t.C:
		return nil
	}
}

// keywordsFor splits an id like "block-project-notes-12" into lowercase
// words, dropping the prefix and numeric parts.
func keywordsFor(id string) []string {
	words := strings.FieldsFunc(strings.ToLower(id), func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w == "block" || strings.Trim(w, "0123456789") == "" || slices.Contains(out, w) {
			continue
		}
		out = append(out, w)
	}
	return out
}
