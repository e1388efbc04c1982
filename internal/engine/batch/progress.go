package batch

import (
	"encoding/json"
	"math"
	"sync"
	"time"
)

// percentMultiplier is used to convert a ratio to percentage (0-100).
const percentMultiplier = 100

// Source identifies where a progress snapshot came from.
type Source string

const (
	// SourceReal snapshots are emitted after a chunk actually resolves.
	SourceReal Source = "real"
	// SourceSimulated snapshots are produced by the Simulator while an atomic
	// remote call is outstanding.
	SourceSimulated Source = "simulated"
)

// Snapshot is an immutable view of an operation's progress.
// Processed never exceeds Total. ETA is advisory and is 0 when no rate can be
// computed yet.
type Snapshot struct {
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	ETA       time.Duration `json:"-"`
	Source    Source        `json:"source"`
}

// MarshalJSON encodes ETA as whole milliseconds under "eta_ms".
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type Alias Snapshot
	return json.Marshal(&struct {
		Alias

		ETAMillis int64 `json:"eta_ms"`
	}{
		Alias:     Alias(s),
		ETAMillis: s.ETAMillis(),
	})
}

// ETAMillis returns the ETA rounded to whole milliseconds.
func (s Snapshot) ETAMillis() int64 {
	return s.ETA.Milliseconds()
}

// PercentComplete returns the completion percentage (0-100).
func (s Snapshot) PercentComplete() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Processed) / float64(s.Total) * percentMultiplier
}

// Done reports whether every item has been accounted for.
func (s Snapshot) Done() bool {
	return s.Total > 0 && s.Processed >= s.Total
}

// Estimate returns the estimated time remaining from the observed throughput.
// It is memoryless: the rate is recomputed from scratch on every call, so the
// result fluctuates when chunk latency is uneven.
func Estimate(processed, total int, startedAt, now time.Time) time.Duration {
	if startedAt.IsZero() || processed <= 0 {
		return 0
	}
	elapsedMs := float64(now.Sub(startedAt)) / float64(time.Millisecond)
	if elapsedMs <= 0 {
		return 0
	}

	rate := float64(processed) / elapsedMs
	remaining := max(0, total-processed)
	if rate <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(remaining)/rate)) * time.Millisecond
}

// Progress tracks chunk-driven progress of one operation.
// It provides thread-safe access to progress metrics for UI updates.
type Progress struct {
	// TotalItems is the total number of items to process.
	TotalItems int

	// ProcessedItems is the number of items processed so far.
	ProcessedItems int

	// TotalBatches is the total number of batches.
	TotalBatches int

	// ProcessedBatches is the number of batches processed so far.
	ProcessedBatches int

	// BatchSize is the configured batch size.
	BatchSize int

	// StartTime is when processing started.
	StartTime time.Time

	// LastUpdateTime is when progress was last updated.
	LastUpdateTime time.Time

	now func() time.Time

	mu sync.RWMutex
}

// NewProgress creates a new progress tracker that reads the wall clock.
func NewProgress(totalItems, totalBatches, batchSize int) *Progress {
	return newProgressWithClock(totalItems, totalBatches, batchSize, time.Now)
}

func newProgressWithClock(totalItems, totalBatches, batchSize int, now func() time.Time) *Progress {
	start := now()
	return &Progress{
		TotalItems:     totalItems,
		TotalBatches:   totalBatches,
		BatchSize:      batchSize,
		StartTime:      start,
		LastUpdateTime: start,
		now:            now,
	}
}

// AddProcessed increments the processed items and batches count.
// The processed count is clamped to TotalItems.
func (p *Progress) AddProcessed(itemsProcessed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ProcessedItems = min(p.ProcessedItems+itemsProcessed, p.TotalItems)
	p.ProcessedBatches++
	p.LastUpdateTime = p.now()
}

// PercentComplete returns the completion percentage (0-100).
func (p *Progress) PercentComplete() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.TotalItems == 0 {
		return 0
	}
	return (float64(p.ProcessedItems) / float64(p.TotalItems)) * percentMultiplier
}

// IsComplete returns true if all items have been processed.
func (p *Progress) IsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.ProcessedItems >= p.TotalItems
}

// ElapsedTime returns the time elapsed since processing started.
func (p *Progress) ElapsedTime() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.now().Sub(p.StartTime)
}

// EstimatedTimeRemaining estimates the remaining processing time.
// Returns 0 if no items have been processed yet.
func (p *Progress) EstimatedTimeRemaining() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Estimate(p.ProcessedItems, p.TotalItems, p.StartTime, p.now())
}

// ItemsPerSecond returns the processing rate in items per second.
func (p *Progress) ItemsPerSecond() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	elapsed := p.now().Sub(p.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}

	return float64(p.ProcessedItems) / elapsed
}

// Snapshot returns a real-source snapshot of the current progress state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Snapshot{
		Processed: p.ProcessedItems,
		Total:     p.TotalItems,
		StartedAt: p.StartTime,
		ETA:       Estimate(p.ProcessedItems, p.TotalItems, p.StartTime, p.now()),
		Source:    SourceReal,
	}
}
