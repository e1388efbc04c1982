package batch

import (
	"math"
	"sync"
	"time"
)

// Simulated progress defaults. The per-item and floor values are a rough,
// conservative guess at bulk compaction latency, not a measured figure.
const (
	// DefaultTickInterval is how often the simulator emits a snapshot.
	DefaultTickInterval = time.Second

	// DefaultSimulatedPerItem is the assumed cost of one item.
	DefaultSimulatedPerItem = 2 * time.Second

	// DefaultSimulatedFloor is the minimum assumed duration of a call.
	DefaultSimulatedFloor = 15 * time.Second
)

// SimulatedConfig tunes the heuristic estimate used for atomic remote calls.
type SimulatedConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`
	PerItem      time.Duration `yaml:"per_item"      json:"per_item"`
	Floor        time.Duration `yaml:"floor"         json:"floor"`
}

// DefaultSimulatedConfig returns a 1s tick, 2s per item and a 15s floor.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		TickInterval: DefaultTickInterval,
		PerItem:      DefaultSimulatedPerItem,
		Floor:        DefaultSimulatedFloor,
	}
}

// EstimatedTotal returns max(total*PerItem, Floor).
func (c SimulatedConfig) EstimatedTotal(total int) time.Duration {
	return max(time.Duration(total)*c.PerItem, c.Floor)
}

// SimulatedSnapshot computes the heuristic snapshot for an atomic call that
// started at startedAt. previous is the last processed value reported; the
// result never goes below it and never reaches total.
func SimulatedSnapshot(total, previous int, startedAt, now time.Time, cfg SimulatedConfig) Snapshot {
	estTotal := cfg.EstimatedTotal(total)
	elapsed := max(now.Sub(startedAt), 0)

	computed := 0
	if estTotal > 0 {
		computed = int(math.Floor(float64(elapsed) / float64(estTotal) * float64(total)))
	}
	ceiling := max(total-1, 0)
	processed := min(max(previous, computed, 0), ceiling)

	return Snapshot{
		Processed: processed,
		Total:     total,
		StartedAt: startedAt,
		ETA:       max(estTotal-elapsed, 0),
		Source:    SourceSimulated,
	}
}

// Simulator emits SimulatedSnapshot values on a fixed tick until stopped.
// The processed count it reports is monotonically non-decreasing.
type Simulator struct {
	cfg       SimulatedConfig
	total     int
	startedAt time.Time
	now       func() time.Time
	emit      func(Snapshot)

	mu   sync.Mutex
	last Snapshot

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartSimulator starts a ticker goroutine that calls emit with a simulated
// snapshot every cfg.TickInterval. emit must not call Stop.
func StartSimulator(total int, startedAt time.Time, cfg SimulatedConfig, emit func(Snapshot)) *Simulator {
	return StartSimulatorWithClock(total, startedAt, cfg, emit, time.Now)
}

// StartSimulatorWithClock is StartSimulator with an explicit clock.
func StartSimulatorWithClock(
	total int,
	startedAt time.Time,
	cfg SimulatedConfig,
	emit func(Snapshot),
	now func() time.Time,
) *Simulator {
	if now == nil {
		now = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	s := &Simulator{
		cfg:       cfg,
		total:     total,
		startedAt: startedAt,
		now:       now,
		emit:      emit,
		last: Snapshot{
			Total:     total,
			StartedAt: startedAt,
			ETA:       cfg.EstimatedTotal(total),
			Source:    SourceSimulated,
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Simulator) run() {
	defer close(s.done)

	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			// Stop may race with the tick; prefer stopping.
			select {
			case <-s.stop:
				return
			default:
			}

			s.mu.Lock()
			snap := SimulatedSnapshot(s.total, s.last.Processed, s.startedAt, s.now(), s.cfg)
			s.last = snap
			s.mu.Unlock()

			if s.emit != nil {
				s.emit(snap)
			}
		}
	}
}

// Last returns the most recent simulated snapshot.
func (s *Simulator) Last() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Stop halts the ticker and waits for the goroutine to exit, so no emit call
// happens after Stop returns. Safe to call more than once.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
