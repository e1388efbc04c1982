package engine_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/engine/batch"
	"github.com/rshade/memctl/internal/remote"
)

// fakeBackend answers every call successfully unless a hook says otherwise.
type fakeBackend struct {
	mu            sync.Mutex
	keywordChunks [][]string
	compactions   []remote.CompactionRequest
	applies       []string

	onKeywords func(ctx context.Context, idx int, ids []string) (*remote.KeywordResponse, error)
	onCompact  func(ctx context.Context, req remote.CompactionRequest) (*remote.CompactionResponse, error)
	onApply    func(ctx context.Context, id string, req remote.ApplyRequest) (*remote.CompactionResponse, error)
	onList     func(ctx context.Context, f remote.SuggestionFilter) ([]remote.Suggestion, error)
}

func (f *fakeBackend) GenerateKeywords(ctx context.Context, ids []string) (*remote.KeywordResponse, error) {
	f.mu.Lock()
	idx := len(f.keywordChunks)
	f.keywordChunks = append(f.keywordChunks, append([]string(nil), ids...))
	hook := f.onKeywords
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx, idx, ids)
	}
	return okKeywords(ids), nil
}

func (f *fakeBackend) CompactMemoryBlocks(ctx context.Context, req remote.CompactionRequest) (*remote.CompactionResponse, error) {
	f.mu.Lock()
	f.compactions = append(f.compactions, req)
	hook := f.onCompact
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx, req)
	}
	return &remote.CompactionResponse{Summary: fmt.Sprintf("compacted %d blocks", len(req.BlockIDs))}, nil
}

func (f *fakeBackend) ApplySuggestion(ctx context.Context, id string, req remote.ApplyRequest) (*remote.CompactionResponse, error) {
	f.mu.Lock()
	f.applies = append(f.applies, id+":"+string(req.Type))
	hook := f.onApply
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx, id, req)
	}
	return &remote.CompactionResponse{Summary: fmt.Sprintf("%s applied", req.Type)}, nil
}

func (f *fakeBackend) ListSuggestions(ctx context.Context, filter remote.SuggestionFilter) ([]remote.Suggestion, error) {
	if f.onList != nil {
		return f.onList(ctx, filter)
	}
	return nil, nil
}

func (f *fakeBackend) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keywordChunks)
}

func okKeywords(ids []string) *remote.KeywordResponse {
	resp := &remote.KeywordResponse{}
	for _, id := range ids {
		resp.Results = append(resp.Results, remote.KeywordResult{BlockID: id, Keywords: []string{"kw-" + id}})
	}
	resp.SuccessfulCount = len(ids)
	resp.TotalProcessed = len(ids)
	return resp
}

func makeTargets(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("block-%03d", i)
	}
	return out
}

// fastOptions shrinks the simulated tick so tests see several ticks quickly.
func fastOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.Simulated.TickInterval = time.Millisecond
	return opts
}

// snapshotLog collects progress snapshots from any goroutine.
type snapshotLog struct {
	mu    sync.Mutex
	snaps []batch.Snapshot
}

func (l *snapshotLog) add(s batch.Snapshot) {
	l.mu.Lock()
	l.snaps = append(l.snaps, s)
	l.mu.Unlock()
}

func (l *snapshotLog) all() []batch.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]batch.Snapshot(nil), l.snaps...)
}

func (l *snapshotLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.snaps)
}

type recordedOps struct {
	mu  sync.Mutex
	ops []engine.Operation
}

func (r *recordedOps) RecordOperation(_ context.Context, op engine.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	started  int
	chunks   int
	finished map[engine.State]int
}

func (o *countingObserver) OperationStarted(engine.Kind) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *countingObserver) ChunkCompleted(engine.Kind, int, time.Duration) {
	o.mu.Lock()
	o.chunks++
	o.mu.Unlock()
}

func (o *countingObserver) OperationFinished(_ engine.Kind, s engine.State, _ int, _ time.Duration) {
	o.mu.Lock()
	if o.finished == nil {
		o.finished = make(map[engine.State]int)
	}
	o.finished[s]++
	o.mu.Unlock()
}
