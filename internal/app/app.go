// Package app builds the long-lived services of one harvest run from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/api"
	"github.com/JakeFAU/menu-harvester/internal/archive"
	"github.com/JakeFAU/menu-harvester/internal/budget"
	"github.com/JakeFAU/menu-harvester/internal/clock/system"
	"github.com/JakeFAU/menu-harvester/internal/config"
	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/discovery"
	collyfetcher "github.com/JakeFAU/menu-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/menu-harvester/internal/hash/sha256"
	"github.com/JakeFAU/menu-harvester/internal/id/uuid"
	"github.com/JakeFAU/menu-harvester/internal/menuurl"
	"github.com/JakeFAU/menu-harvester/internal/metrics"
	"github.com/JakeFAU/menu-harvester/internal/orchestrator"
	"github.com/JakeFAU/menu-harvester/internal/parser"
	"github.com/JakeFAU/menu-harvester/internal/policy/admission"
	"github.com/JakeFAU/menu-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/menu-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/menu-harvester/internal/robots"
	"github.com/JakeFAU/menu-harvester/internal/storage/gcs"
	"github.com/JakeFAU/menu-harvester/internal/storage/local"
	"github.com/JakeFAU/menu-harvester/internal/storage/memory"
	"github.com/JakeFAU/menu-harvester/internal/storage/postgres"
	"github.com/JakeFAU/menu-harvester/internal/storage/tabular"
)

// App holds the services for one run.
type App struct {
	logger  *zap.Logger
	orch    *orchestrator.Orchestrator
	budget  *budget.Budget
	server  *api.Server
	closers []func() error
}

// New wires every component from cfg. The run deadline starts counting
// here. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	policy := cfg.Policy()
	clock := system.New()
	a := &App{
		logger: logger,
		budget: budget.New(clock, policy.RuntimeMinutes),
	}
	defer func() {
		if err != nil {
			if closeErr := a.Close(); closeErr != nil {
				logger.Warn("close after failed init", zap.Error(closeErr))
			}
		}
	}()
	logger.Info("initializing harvester",
		zap.Float64("runtime_minutes", policy.RuntimeMinutes),
		zap.Time("deadline", a.budget.Deadline()),
		zap.Int("concurrency", policy.GlobalConcurrency),
	)

	limiter := ratelimit.New(ratelimit.Config{
		PerHostConcurrency: policy.PerHostConcurrency,
		PerHostRPS:         policy.PerHostRPS,
		Burst:              1,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgents:     policy.UserAgents,
		ConnectTimeout: policy.ConnectTimeout,
		ReadTimeout:    policy.ReadTimeout,
		MaxBodyBytes:   policy.MaxPageBytes,
	}, limiter, logger)
	gate := admission.New(fetcher, robots.NewGate(fetcher, logger), a.budget, admission.Config{
		Agent:             policy.RobotsAgent,
		MaxPagesPerDomain: policy.MaxPagesPerDomain,
	}, logger)

	cascade, err := buildCascade(cfg.Parser)
	if err != nil {
		return nil, err
	}

	sink, err := tabular.Open(cfg.Output.Dir)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	a.closers = append(a.closers, sink.Close)

	deps := orchestrator.Deps{
		Sources: buildSources(cfg.Discovery),
		Matcher: cfg.Dedupe,
		Gate:    gate,
		Finder:  menuurl.New(gate, logger),
		Parser:  cascade,
		Scorer:  cfg.Scoring,
		Sink:    sink,
		Budget:  a.budget,
		IDs:     uuid.New(),
		Clock:   clock,
	}

	if cfg.DB.DSN != "" {
		store, err := postgres.New(ctx, cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		deps.Remote = store
	}

	if policy.ArchiveRaw {
		blobs, closeFn, err := buildBlobStore(ctx, cfg.Archive, logger)
		if err != nil {
			return nil, err
		}
		if closeFn != nil {
			a.closers = append(a.closers, closeFn)
		}
		deps.Archiver = archive.New(blobs, sha256.New(), cfg.Archive.Prefix, logger)
	}

	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsub.Open(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		deps.Publisher = pub
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		BBox:              policy.BBox,
		GlobalConcurrency: policy.GlobalConcurrency,
	}, deps, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Addr != "" {
		a.server = api.NewServer(func() any { return a.orch.Progress() }, logger)
		if _, err := a.server.Start(cfg.Metrics.Addr); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Run executes the harvest.
func (a *App) Run(ctx context.Context) (orchestrator.Summary, error) {
	return a.orch.Run(ctx)
}

// Logger returns the run logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close shuts the metrics server and releases every opened resource in
// reverse order.
func (a *App) Close() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.server.Shutdown(ctx))
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildCascade(cfg config.ParserConfig) (*parser.Cascade, error) {
	if cfg.PlatformsFile == "" {
		cascade, err := parser.Default()
		if err != nil {
			return nil, fmt.Errorf("load platform fingerprints: %w", err)
		}
		return cascade, nil
	}
	fingerprints, err := parser.LoadFingerprints(cfg.PlatformsFile)
	if err != nil {
		return nil, err
	}
	return parser.WithFingerprints(fingerprints), nil
}

func buildSources(cfg config.DiscoveryConfig) []crawler.VenueSource {
	var sources []crawler.VenueSource
	if cfg.Overpass.Enabled {
		sources = append(sources, discovery.NewOverpass(cfg.Overpass.OverpassConfig, nil))
	}
	if cfg.Yelp.Enabled() {
		sources = append(sources, discovery.NewYelp(cfg.Yelp.YelpConfig, nil))
	}
	return sources
}

func buildBlobStore(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (crawler.BlobStore, func() error, error) {
	switch cfg.Backend {
	case "gcs":
		store, err := gcs.Open(ctx, cfg.GCS, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory":
		return memory.NewBlobStore(), nil, nil
	default:
		store, err := local.New(cfg.Local)
		if err != nil {
			return nil, nil, fmt.Errorf("open local archive: %w", err)
		}
		return store, nil, nil
	}
}
