package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Default batch processing configuration.
const (
	// DefaultBatchSize is the default number of targets per chunk.
	DefaultBatchSize = 200

	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size.
	MaxBatchSize = 1000
)

// Common batch processing errors.
var (
	ErrInvalidBatchSize = errors.New("batch size must be between 1 and 1000")
	ErrNilCallback      = errors.New("batch callback cannot be nil")
	ErrEmptyItems       = errors.New("items slice cannot be empty")
	ErrCancelled        = errors.New("operation cancelled")
)

// BatchCallback processes a single chunk of items.
// It receives the chunk, its 0-based index, and returns an error if processing fails.
//
//nolint:revive // BatchCallback is the canonical name for this exported type.
type BatchCallback[T any] func(ctx context.Context, batch []T, batchIndex int) error

// ProgressCallback is invoked after each chunk resolves successfully.
type ProgressCallback func(snapshot Snapshot)

// Processor splits items into fixed-size chunks and runs a callback per chunk.
type Processor[T any] struct {
	batchSize  int
	onProgress ProgressCallback
	now        func() time.Time
}

// NewProcessor creates a new batch processor with the given batch size.
func NewProcessor[T any](batchSize int) (*Processor[T], error) {
	if batchSize < MinBatchSize || batchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}

	return &Processor[T]{
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

// NewProcessorWithDefaults creates a processor with default batch size.
func NewProcessorWithDefaults[T any]() *Processor[T] {
	return &Processor[T]{
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// WithProgressCallback sets a progress callback for the processor.
func (p *Processor[T]) WithProgressCallback(callback ProgressCallback) *Processor[T] {
	p.onProgress = callback
	return p
}

// WithClock replaces the wall clock used for progress timestamps and ETA.
func (p *Processor[T]) WithClock(now func() time.Time) *Processor[T] {
	if now != nil {
		p.now = now
	}
	return p
}

// Process runs callback for each chunk strictly in order: chunk N+1 is not
// started before chunk N returns. ctx is checked before every chunk; once it
// is done no further chunk is submitted and ErrCancelled is returned.
// Processing stops on the first callback error.
func (p *Processor[T]) Process(ctx context.Context, items []T, callback BatchCallback[T]) error {
	if len(items) == 0 {
		return ErrEmptyItems
	}

	if callback == nil {
		return ErrNilCallback
	}

	chunks, err := Chunk(items, p.batchSize)
	if err != nil {
		return err
	}
	progress := newProgressWithClock(len(items), len(chunks), p.batchSize, p.now)

	for batchIndex, batch := range chunks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w before batch %d: %w", ErrCancelled, batchIndex, err)
		}

		if err := callback(ctx, batch, batchIndex); err != nil {
			return fmt.Errorf("batch %d failed: %w", batchIndex, err)
		}

		progress.AddProcessed(len(batch))

		if p.onProgress != nil {
			p.onProgress(progress.Snapshot())
		}
	}

	return nil
}

// ProcessConcurrent runs chunks with at most maxConcurrency callbacks in
// flight. The first error cancels the remaining chunks and is returned.
// Progress snapshots are emitted one at a time in completion order, not chunk
// order.
func (p *Processor[T]) ProcessConcurrent(
	ctx context.Context,
	items []T,
	callback BatchCallback[T],
	maxConcurrency int,
) error {
	if len(items) == 0 {
		return ErrEmptyItems
	}

	if callback == nil {
		return ErrNilCallback
	}

	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	chunks, err := Chunk(items, p.batchSize)
	if err != nil {
		return err
	}
	progress := newProgressWithClock(len(items), len(chunks), p.batchSize, p.now)

	var emitMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for batchIndex, batch := range chunks {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("%w before batch %d: %w", ErrCancelled, batchIndex, err)
			}
			if err := callback(gctx, batch, batchIndex); err != nil {
				return fmt.Errorf("batch %d failed: %w", batchIndex, err)
			}

			progress.AddProcessed(len(batch))
			if p.onProgress != nil {
				emitMu.Lock()
				p.onProgress(progress.Snapshot())
				emitMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// GetBatchSize returns the configured batch size.
func (p *Processor[T]) GetBatchSize() int {
	return p.batchSize
}

// CalculateBatches returns the batch boundaries for the given item count.
func (p *Processor[T]) CalculateBatches(totalItems int) [][2]int {
	return CalculateBatches(totalItems, p.batchSize)
}
