package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/memctl/internal/engine/batch"
	"github.com/rshade/memctl/internal/logging"
	"github.com/rshade/memctl/internal/remote"
)

// maxFinishedOperations bounds how many finished operations the registry
// keeps for inspection.
const maxFinishedOperations = 64

// KeywordBackend generates keywords for one chunk of blocks.
type KeywordBackend interface {
	GenerateKeywords(ctx context.Context, blockIDs []string) (*remote.KeywordResponse, error)
}

// CompactionBackend runs one atomic compaction call.
type CompactionBackend interface {
	CompactMemoryBlocks(ctx context.Context, req remote.CompactionRequest) (*remote.CompactionResponse, error)
}

// ApplyBackend applies a merge or archive suggestion in one atomic call.
type ApplyBackend interface {
	ApplySuggestion(ctx context.Context, id string, req remote.ApplyRequest) (*remote.CompactionResponse, error)
}

// Backend is everything the controller submits work to.
type Backend interface {
	KeywordBackend
	CompactionBackend
	ApplyBackend
}

// Observer receives operation lifecycle events, typically for metrics.
type Observer interface {
	OperationStarted(kind Kind)
	ChunkCompleted(kind Kind, size int, d time.Duration)
	OperationFinished(kind Kind, state State, processed int, d time.Duration)
}

// Recorder persists finished operations.
type Recorder interface {
	RecordOperation(ctx context.Context, op Operation) error
}

type nopObserver struct{}

func (nopObserver) OperationStarted(Kind) {}

func (nopObserver) ChunkCompleted(Kind, int, time.Duration) {}

func (nopObserver) OperationFinished(Kind, State, int, time.Duration) {}

// Options configures a Controller.
type Options struct {
	// BatchSize is the keyword chunk size. Zero means batch.DefaultBatchSize.
	BatchSize int
	// MaxConcurrent is passed to the service for compaction. Zero means 4.
	MaxConcurrent int
	// Simulated tunes the estimator used for atomic calls.
	Simulated batch.SimulatedConfig
}

// DefaultOptions returns batch size 200, 4 concurrent and the default
// simulated estimator.
func DefaultOptions() Options {
	return Options{
		BatchSize:     batch.DefaultBatchSize,
		MaxConcurrent: 4,
		Simulated:     batch.DefaultSimulatedConfig(),
	}
}

// RunOptions configures one operation.
type RunOptions struct {
	// SuggestionID ties the operation to a suggestion. At most one operation
	// may run per suggestion id. Empty means untracked.
	SuggestionID string
	// BatchSize overrides Options.BatchSize for this run.
	BatchSize int
	// OnProgress receives snapshots while the operation is running. Calls
	// are serialized.
	OnProgress batch.ProgressCallback
	// Token lets the caller cancel the run. When nil the controller creates
	// one from ctx. Either way the token is released when the run ends.
	Token *batch.Token
	// OnStart is called with the operation id once the run is registered.
	OnStart func(operationID string)
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithObserver reports lifecycle events to o.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithRecorder persists every finished operation to r.
func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller runs bulk operations against a Backend: chunked keyword
// generation with real progress, and atomic compaction, merge and archive
// calls with simulated progress.
type Controller struct {
	backend   Backend
	opts      Options
	now       func() time.Time
	observer  Observer
	recorder  Recorder
	executing *executingSet

	mu       sync.RWMutex
	ops      map[string]*operation
	finished []string
}

// NewController returns a Controller submitting to backend.
func NewController(backend Backend, opts Options, options ...ControllerOption) *Controller {
	def := DefaultOptions()
	opts.BatchSize = cmp.Or(opts.BatchSize, def.BatchSize)
	opts.MaxConcurrent = cmp.Or(opts.MaxConcurrent, def.MaxConcurrent)
	opts.Simulated.TickInterval = cmp.Or(opts.Simulated.TickInterval, def.Simulated.TickInterval)
	opts.Simulated.PerItem = cmp.Or(opts.Simulated.PerItem, def.Simulated.PerItem)
	opts.Simulated.Floor = cmp.Or(opts.Simulated.Floor, def.Simulated.Floor)

	c := &Controller{
		backend:   backend,
		opts:      opts,
		now:       time.Now,
		observer:  nopObserver{},
		executing: newExecutingSet(),
		ops:       make(map[string]*operation),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// RunBatched generates keywords for targets in chunks, strictly one chunk at
// a time. Progress is reported after each chunk. Cancelling the token stops
// submission and returns a Summary with Cancelled set and the outcomes that
// resolved before the abort. A chunk transport failure returns a
// *ChunkTransportError and no Summary; the last snapshot stays visible in
// Operations.
func (c *Controller) RunBatched(ctx context.Context, targets []string, opts RunOptions) (*Summary, error) {
	if len(targets) == 0 {
		return nil, ErrEmptyTargets
	}
	proc, err := batch.NewProcessor[string](cmp.Or(opts.BatchSize, c.opts.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	op, err := c.begin(ctx, KindKeywords, len(targets), opts)
	if err != nil {
		return nil, err
	}
	defer op.token.Release()
	defer c.executing.release(op.suggestionID, op.id)

	logger := op.logger(ctx)
	outcomes := make([]Outcome, 0, len(targets))

	proc.WithClock(c.now).WithProgressCallback(op.emit)
	runErr := proc.Process(op.token.Context(), targets, func(ctx context.Context, chunk []string, idx int) error {
		logger.Debug().Int("chunk", idx).Int("size", len(chunk)).Msg("submitting chunk")

		start := c.now()
		resp, callErr := c.backend.GenerateKeywords(ctx, chunk)
		if op.token.Aborted() {
			// The call may have completed anyway; its result is not applied.
			return fmt.Errorf("%w: chunk %d result discarded", ErrCancelled, idx)
		}
		if callErr != nil {
			return &ChunkTransportError{Chunk: idx, Size: len(chunk), Processed: len(outcomes), Err: callErr}
		}

		outcomes = append(outcomes, keywordOutcomes(chunk, resp)...)
		c.observer.ChunkCompleted(KindKeywords, len(chunk), c.now().Sub(start))
		return nil
	})

	sum := &Summary{Outcomes: outcomes}
	return c.finish(ctx, op, sum, runErr)
}

// RunCompaction compacts targets in one call that the service fans out with
// Options.MaxConcurrent blocks in flight. The call reports no progress, so
// snapshots come from the simulated estimator until it returns.
func (c *Controller) RunCompaction(
	ctx context.Context,
	targets []string,
	instructions string,
	opts RunOptions,
) (*Summary, error) {
	req := remote.CompactionRequest{
		BlockIDs:      targets,
		Instructions:  instructions,
		MaxConcurrent: c.opts.MaxConcurrent,
	}
	return c.runDelegated(ctx, KindCompaction, targets, opts,
		func(ctx context.Context) (*remote.CompactionResponse, error) {
			return c.backend.CompactMemoryBlocks(ctx, req)
		})
}

// RunApply applies a merge or archive suggestion in one call, reported
// through the simulated estimator like RunCompaction.
func (c *Controller) RunApply(
	ctx context.Context,
	kind Kind,
	suggestionID string,
	targets []string,
	opts RunOptions,
) (*Summary, error) {
	if kind != KindMerge && kind != KindArchive {
		return nil, fmt.Errorf("%w: %w: %s cannot be applied directly", ErrInvalidInput, ErrUnsupportedType, kind)
	}
	if suggestionID == "" {
		return nil, fmt.Errorf("%w: suggestion id is required", ErrInvalidInput)
	}
	opts.SuggestionID = suggestionID

	req := remote.ApplyRequest{Type: remote.SuggestionType(kind), BlockIDs: targets}
	return c.runDelegated(ctx, kind, targets, opts,
		func(ctx context.Context) (*remote.CompactionResponse, error) {
			return c.backend.ApplySuggestion(ctx, suggestionID, req)
		})
}

func (c *Controller) runDelegated(
	ctx context.Context,
	kind Kind,
	targets []string,
	opts RunOptions,
	call func(context.Context) (*remote.CompactionResponse, error),
) (*Summary, error) {
	if len(targets) == 0 {
		return nil, ErrEmptyTargets
	}

	op, err := c.begin(ctx, kind, len(targets), opts)
	if err != nil {
		return nil, err
	}
	defer op.token.Release()
	defer c.executing.release(op.suggestionID, op.id)

	logger := op.logger(ctx)
	logger.Debug().Int("max_concurrent", c.opts.MaxConcurrent).Msg("submitting delegated call")

	total := len(targets)
	sim := batch.StartSimulatorWithClock(total, op.startedAt, c.opts.Simulated, op.emit, c.now)
	resp, callErr := call(op.token.Context())
	// The ticker must be gone before the real result is reported.
	sim.Stop()

	sum := &Summary{}
	if op.token.Aborted() {
		return c.finish(ctx, op, sum, fmt.Errorf("%w: delegated call abandoned", ErrCancelled))
	}
	if callErr != nil {
		return c.finish(ctx, op, sum, &ChunkTransportError{Size: total, Err: callErr})
	}

	if resp == nil {
		resp = &remote.CompactionResponse{}
	}
	sum.Result = resp
	sum.Outcomes = delegatedOutcomes(targets, resp)
	c.observer.ChunkCompleted(kind, total, c.now().Sub(op.startedAt))
	op.emit(batch.Snapshot{
		Processed: total,
		Total:     total,
		StartedAt: op.startedAt,
		ETA:       0,
		Source:    batch.SourceReal,
	})
	return c.finish(ctx, op, sum, nil)
}

// begin validates the run, claims the suggestion id and registers the
// operation in the running state.
func (c *Controller) begin(ctx context.Context, kind Kind, total int, opts RunOptions) (*operation, error) {
	tok := opts.Token
	if tok.Released() {
		return nil, fmt.Errorf("%w: cancellation token belongs to a finished operation", ErrInvalidInput)
	}
	var stopWatch func() bool
	if tok == nil {
		tok = batch.NewToken(ctx)
	} else {
		stopWatch = context.AfterFunc(ctx, tok.Cancel)
	}

	op := &operation{
		id:           logging.NewID(),
		kind:         kind,
		total:        total,
		suggestionID: opts.SuggestionID,
		token:        tok,
		onProgress:   opts.OnProgress,
		stopWatch:    stopWatch,
	}

	if op.suggestionID != "" {
		if err := c.executing.acquire(op.suggestionID, op.id); err != nil {
			if stopWatch != nil {
				stopWatch()
			} else {
				tok.Release()
			}
			return nil, err
		}
	}

	op.startedAt = c.now()
	op.state = StateRunning
	op.last = batch.Snapshot{Total: total, StartedAt: op.startedAt, Source: batch.SourceReal}

	c.mu.Lock()
	c.ops[op.id] = op
	c.mu.Unlock()

	c.observer.OperationStarted(kind)
	op.logger(ctx).Info().Int("total", total).Msg("operation started")

	if opts.OnStart != nil {
		opts.OnStart(op.id)
	}
	return op, nil
}

// finish classifies the run, moves the operation to its terminal state and
// records it. A run that stopped with an error after the token was aborted
// is cancelled, whatever the error was.
func (c *Controller) finish(ctx context.Context, op *operation, sum *Summary, runErr error) (*Summary, error) {
	if op.stopWatch != nil {
		op.stopWatch()
	}

	sum.tally()
	sum.OperationID = op.id
	sum.Kind = op.kind
	sum.SuggestionID = op.suggestionID
	sum.Total = op.total
	sum.StartedAt = op.startedAt
	sum.FinishedAt = c.now()

	state := StateCompleted
	switch {
	case runErr != nil && (op.token.Aborted() || IsCancellation(runErr)):
		state = StateCancelled
		sum.Cancelled = true
		runErr = nil
	case runErr != nil:
		state = StateFailed
		var cte *ChunkTransportError
		if errors.As(runErr, &cte) {
			runErr = cte
		}
	}

	op.end(state, sum, runErr, sum.FinishedAt)
	c.retire(op.id)

	logger := op.logger(ctx)
	event := logger.Info()
	switch state {
	case StateFailed:
		event = logger.Error().Err(runErr)
	case StateCancelled:
		event = logger.Warn()
	}
	event.
		Str("state", state.String()).
		Int("processed", sum.TotalProcessed).
		Int("successful", sum.SuccessfulCount).
		Int("failed", sum.FailedCount).
		Dur("duration", sum.Duration()).
		Msg("operation finished")

	c.observer.OperationFinished(op.kind, state, sum.TotalProcessed, sum.Duration())
	if c.recorder != nil {
		if err := c.recorder.RecordOperation(ctx, op.view()); err != nil {
			logger.Warn().Err(err).Msg("failed to record operation history")
		}
	}

	if state == StateFailed {
		return nil, runErr
	}
	return sum, nil
}

// retire remembers a finished operation, evicting the oldest beyond the cap.
func (c *Controller) retire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finished = append(c.finished, id)
	for len(c.finished) > maxFinishedOperations {
		delete(c.ops, c.finished[0])
		c.finished = c.finished[1:]
	}
}

// Cancel aborts the operation with the given id. It reports whether the
// operation was found running. Cancelling twice, or after the operation
// finished, is a no-op.
func (c *Controller) Cancel(operationID string) bool {
	c.mu.RLock()
	op, ok := c.ops[operationID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return op.cancel()
}

// CancelSuggestion aborts the operation executing suggestionID, if any.
func (c *Controller) CancelSuggestion(suggestionID string) bool {
	opID, ok := c.executing.owner(suggestionID)
	if !ok {
		return false
	}
	return c.Cancel(opID)
}

// IsExecuting reports whether suggestionID has an operation in flight.
func (c *Controller) IsExecuting(suggestionID string) bool {
	_, ok := c.executing.owner(suggestionID)
	return ok
}

// Operation returns the current view of one operation.
func (c *Controller) Operation(operationID string) (Operation, bool) {
	c.mu.RLock()
	op, ok := c.ops[operationID]
	c.mu.RUnlock()
	if !ok {
		return Operation{}, false
	}
	return op.view(), true
}

// Operations returns running and recently finished operations, oldest first.
func (c *Controller) Operations() []Operation {
	c.mu.RLock()
	out := make([]Operation, 0, len(c.ops))
	for _, op := range c.ops {
		out = append(out, op.view())
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b Operation) int {
		if n := a.StartedAt.Compare(b.StartedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// operation is the controller's handle for one run.
type operation struct {
	id           string
	kind         Kind
	total        int
	suggestionID string
	token        *batch.Token
	onProgress   batch.ProgressCallback
	stopWatch    func() bool
	startedAt    time.Time

	// emitMu serializes progress callbacks and orders them before end.
	emitMu sync.Mutex

	mu         sync.Mutex
	state      State
	last       batch.Snapshot
	finishedAt time.Time
	successful int
	failed     int
	errMsg     string
}

// emit records s and forwards it to the callback while the operation is
// running. Snapshots arriving after end are dropped.
func (o *operation) emit(s batch.Snapshot) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	o.last = s
	o.mu.Unlock()

	if o.onProgress != nil {
		o.onProgress(s)
	}
}

func (o *operation) end(state State, sum *Summary, err error, at time.Time) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
	o.finishedAt = at
	o.successful = sum.SuccessfulCount
	o.failed = sum.FailedCount
	if err != nil {
		o.errMsg = err.Error()
	}
}

func (o *operation) cancel() bool {
	o.mu.Lock()
	running := o.state == StateRunning
	o.mu.Unlock()
	if running {
		o.token.Cancel()
	}
	return running
}

func (o *operation) view() Operation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Operation{
		ID:           o.id,
		Kind:         o.kind,
		SuggestionID: o.suggestionID,
		State:        o.state,
		Progress:     o.last,
		StartedAt:    o.startedAt,
		FinishedAt:   o.finishedAt,
		Successful:   o.successful,
		Failed:       o.failed,
		Error:        o.errMsg,
	}
}

func (o *operation) logger(ctx context.Context) *zerolog.Logger {
	l := logging.FromContext(ctx).With().
		Str("component", "engine").
		Str("operation_id", o.id).
		Str("kind", string(o.kind)).
		Str("suggestion_id", o.suggestionID).
		Logger()
	return &l
}

// keywordOutcomes maps a chunk's response onto its targets in order. A
// target the service did not answer for is a failure.
func keywordOutcomes(chunk []string, resp *remote.KeywordResponse) []Outcome {
	byID := make(map[string]remote.KeywordResult, len(chunk))
	if resp != nil {
		for _, r := range resp.Results {
			byID[r.BlockID] = r
		}
	}

	out := make([]Outcome, len(chunk))
	for i, id := range chunk {
		r, ok := byID[id]
		switch {
		case !ok:
			out[i] = Outcome{Target: id, Error: "no result returned"}
		case !r.Succeeded():
			out[i] = Outcome{Target: id, Error: r.Error}
		default:
			out[i] = Outcome{Target: id, Success: true, Keywords: r.Keywords}
		}
	}
	return out
}

// delegatedOutcomes marks every target successful unless the service listed
// it as failed.
func delegatedOutcomes(targets []string, resp *remote.CompactionResponse) []Outcome {
	out := make([]Outcome, len(targets))
	for i, id := range targets {
		if reason, failed := resp.FailedBlocks[id]; failed {
			out[i] = Outcome{Target: id, Error: reason}
			continue
		}
		out[i] = Outcome{Target: id, Success: true}
	}
	return out
}
