package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rshade/memctl/internal/logging"
	"github.com/rshade/memctl/internal/remote"
)

// SuggestionSource lists suggestions from the service.
type SuggestionSource interface {
	ListSuggestions(ctx context.Context, filter remote.SuggestionFilter) ([]remote.Suggestion, error)
}

// SuggestionCache stores fetched suggestion lists between invocations.
type SuggestionCache interface {
	Load(filter remote.SuggestionFilter) ([]remote.Suggestion, bool)
	Store(filter remote.SuggestionFilter, suggestions []remote.Suggestion) error
	Invalidate() error
}

// Service keeps the fetched suggestions and executes them through a
// Controller, moving each through its lifecycle.
type Service struct {
	ctrl   *Controller
	source SuggestionSource
	cache  SuggestionCache
	now    func() time.Time

	mu   sync.RWMutex
	book map[string]*Suggestion
}

// NewService returns a Service. cache may be nil.
func NewService(ctrl *Controller, source SuggestionSource, cache SuggestionCache) *Service {
	return &Service{
		ctrl:   ctrl,
		source: source,
		cache:  cache,
		now:    ctrl.now,
		book:   make(map[string]*Suggestion),
	}
}

// Controller returns the controller the service executes with.
func (s *Service) Controller() *Controller {
	return s.ctrl
}

// Refresh fetches suggestions matching filter and replaces the local copies.
// A fresh fetch is the only way out of the completed state. Suggestions
// currently executing keep their local state. When useCache is set a cached
// list younger than its TTL is used instead of calling the service.
func (s *Service) Refresh(ctx context.Context, filter remote.SuggestionFilter, useCache bool) ([]Suggestion, error) {
	logger := logging.FromContext(ctx).With().
		Str("component", "engine").
		Str("operation", "Refresh").
		Logger()

	var (
		fetched []remote.Suggestion
		hit     bool
	)
	if useCache && s.cache != nil {
		fetched, hit = s.cache.Load(filter)
	}
	if !hit {
		var err error
		fetched, err = s.source.ListSuggestions(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("listing suggestions: %w", err)
		}
		if s.cache != nil {
			if err = s.cache.Store(filter, fetched); err != nil {
				logger.Warn().Err(err).Msg("failed to cache suggestion list")
			}
		}
	}
	logger.Debug().Int("count", len(fetched)).Bool("cache_hit", hit).Msg("suggestions loaded")

	now := s.now()
	out := make([]Suggestion, 0, len(fetched))

	s.mu.Lock()
	for _, r := range fetched {
		if cur, ok := s.book[r.ID]; ok && cur.Status == StatusExecuting {
			out = append(out, cur.clone())
			continue
		}
		sug := suggestionFromRemote(r, now)
		s.book[r.ID] = sug
		out = append(out, sug.clone())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Suggestion) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Suggestions returns copies of every loaded suggestion ordered by id.
func (s *Service) Suggestions() []Suggestion {
	s.mu.RLock()
	out := make([]Suggestion, 0, len(s.book))
	for _, sug := range s.book {
		out = append(out, sug.clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Suggestion) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Suggestion returns a copy of one loaded suggestion.
func (s *Service) Suggestion(id string) (Suggestion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sug, ok := s.book[id]
	if !ok {
		return Suggestion{}, false
	}
	return sug.clone(), true
}

// Execute runs the suggestion's action: keywords go through RunBatched,
// compaction through RunCompaction, merge and archive through RunApply.
// The suggestion is executing for the duration and ends completed only if
// at least one item succeeded; a cancelled or failed run leaves it pending.
func (s *Service) Execute(ctx context.Context, id string, opts RunOptions, instructions string) (*Summary, error) {
	sug, err := s.claim(id)
	if err != nil {
		return nil, err
	}

	opts.SuggestionID = id
	var (
		sum    *Summary
		runErr error
	)
	switch sug.Type {
	case KindKeywords:
		sum, runErr = s.ctrl.RunBatched(ctx, sug.AffectedBlocks, opts)
	case KindCompaction:
		if instructions == "" {
			instructions = sug.Instructions
		}
		sum, runErr = s.ctrl.RunCompaction(ctx, sug.AffectedBlocks, instructions, opts)
	case KindMerge, KindArchive:
		sum, runErr = s.ctrl.RunApply(ctx, sug.Type, id, sug.AffectedBlocks, opts)
	default:
		runErr = fmt.Errorf("%w: %q", ErrUnsupportedType, sug.Type)
	}

	if resolveErr := s.resolve(id, sum, runErr); resolveErr != nil {
		logging.FromContext(ctx).Error().
			Str("component", "engine").
			Str("suggestion_id", id).
			Err(resolveErr).
			Msg("suggestion lifecycle out of sync")
	}

	if runErr == nil && sum != nil && !sum.Cancelled && s.cache != nil {
		if err = s.cache.Invalidate(); err != nil {
			logging.FromContext(ctx).Warn().Err(err).Msg("failed to invalidate suggestion cache")
		}
	}
	return sum, runErr
}

// claim moves a loaded suggestion from pending to executing.
func (s *Service) claim(id string) (Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sug, ok := s.book[id]
	if !ok {
		return Suggestion{}, fmt.Errorf("%w: %s", ErrUnknownSuggestion, id)
	}
	if sug.Status == StatusExecuting || s.ctrl.IsExecuting(id) {
		return Suggestion{}, fmt.Errorf("%w: %s", ErrAlreadyExecuting, id)
	}
	if err := sug.transition(StatusExecuting); err != nil {
		return Suggestion{}, err
	}
	return sug.clone(), nil
}

func (s *Service) resolve(id string, sum *Summary, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sug, ok := s.book[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSuggestion, id)
	}
	return sug.resolve(sum, runErr)
}
