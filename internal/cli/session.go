package cli

import (
	"context"
	"fmt"

	"github.com/rshade/memctl/internal/config"
	"github.com/rshade/memctl/internal/engine"
	"github.com/rshade/memctl/internal/engine/cache"
	"github.com/rshade/memctl/internal/history"
	"github.com/rshade/memctl/internal/logging"
	"github.com/rshade/memctl/internal/metrics"
	"github.com/rshade/memctl/internal/remote"
)

// backend is what a session talks to: the HTTP client or the in-process
// dry-run backend.
type backend interface {
	engine.Backend
	engine.SuggestionSource
}

// session bundles everything one command invocation needs to run operations.
type session struct {
	cfg       *config.Config
	backend   backend
	ctrl      *engine.Controller
	svc       *engine.Service
	collector *metrics.Collector
	history   *history.Store
	cache     *cache.FileStore
}

// newSession validates the configuration and wires the controller to the
// backend, metrics, history and suggestion cache.
func newSession(ctx context.Context, flags *GlobalFlags) (*session, error) {
	log := logging.FromContext(ctx)
	cfg := config.GetGlobalConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	be, err := openBackend(ctx, cfg, flags)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:       cfg,
		backend:   be,
		collector: metrics.NewCollector(),
	}

	ctrlOpts := []engine.ControllerOption{engine.WithObserver(s.collector)}
	if cfg.History.File != "" {
		store, storeErr := history.NewStore(cfg.History.File, history.DefaultMaxRecords)
		if storeErr != nil {
			return nil, fmt.Errorf("opening history: %w", storeErr)
		}
		s.history = store
		ctrlOpts = append(ctrlOpts, engine.WithRecorder(store))
	}

	s.ctrl = engine.NewController(be, engine.Options{
		BatchSize:     cfg.Batch.BatchSize,
		MaxConcurrent: cfg.Batch.MaxConcurrent,
		Simulated:     cfg.Batch.Simulated(),
	}, ctrlOpts...)

	files, err := cache.NewFileStore(cfg.Cache.Directory, cfg.Cache.Enabled, cfg.Cache.TTLSeconds)
	if err != nil {
		log.Warn().Err(err).Str("directory", cfg.Cache.Directory).Msg("suggestion cache unavailable")
		s.svc = engine.NewService(s.ctrl, be, nil)
	} else {
		s.cache = files
		s.svc = engine.NewService(s.ctrl, be, cache.NewSuggestionStore(files))
	}

	log.Debug().
		Bool("dry_run", flags.DryRun).
		Str("base_url", cfg.Remote.BaseURL).
		Int("batch_size", cfg.Batch.BatchSize).
		Bool("cache_enabled", s.cache != nil && s.cache.IsEnabled()).
		Msg("session ready")
	return s, nil
}

// openBackend returns the in-process backend for --dry-run, otherwise an
// HTTP client that has passed the version gate.
func openBackend(ctx context.Context, cfg *config.Config, flags *GlobalFlags) (backend, error) {
	if flags.DryRun {
		return remote.NewLocal(0), nil
	}

	client, err := remote.NewClient(remote.ClientConfig{
		BaseURL:           cfg.Remote.BaseURL,
		Token:             cfg.Remote.APIToken(),
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	if !flags.SkipVersionCheck {
		if err = client.CheckCompatibility(ctx, cfg.Remote.MinServiceVersion); err != nil {
			return nil, fmt.Errorf("checking service version: %w", err)
		}
	}
	return client, nil
}

// close flushes the metrics textfile when one is configured.
func (s *session) close(ctx context.Context) {
	if s.cfg.Metrics.Textfile == "" {
		return
	}
	if err := s.collector.WriteTextfile(s.cfg.Metrics.Textfile); err != nil {
		logging.FromContext(ctx).Warn().
			Err(err).
			Str("path", s.cfg.Metrics.Textfile).
			Msg("failed to write metrics textfile")
	}
}
