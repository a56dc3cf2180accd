// Package orchestrator composes discovery, fetching, parsing and storage into
// one bounded harvesting run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/dedupe"
	"github.com/JakeFAU/menu-harvester/internal/discovery"
	"github.com/JakeFAU/menu-harvester/internal/id/uuid"
	"github.com/JakeFAU/menu-harvester/internal/menuurl"
	"github.com/JakeFAU/menu-harvester/internal/metrics"
	"github.com/JakeFAU/menu-harvester/internal/parser"
	"github.com/JakeFAU/menu-harvester/internal/policy/admission"
	"github.com/JakeFAU/menu-harvester/internal/scoring"
)

// Venue statuses reported to metrics.
const (
	StatusHarvested  = "harvested"
	StatusNoWebsite  = "no_website"
	StatusNoMenuURL  = "no_menu_url"
	StatusNoContent  = "no_content"
	StatusBudgetSkip = "budget_skip"
)

// MenuFinder locates menu pages for a homepage.
type MenuFinder interface {
	Find(ctx context.Context, homepage string) []menuurl.Page
}

// MenuParser turns a page body into items.
type MenuParser interface {
	Parse(html []byte) parser.Result
}

type statsReporter interface {
	Stats() admission.Stats
}

// Config holds run settings.
type Config struct {
	BBox              crawler.BoundingBox
	GlobalConcurrency int
	// Topic overrides the publisher's default topic when set.
	Topic string
}

// Deps are the collaborators of a run. Remote, Archiver and Publisher are
// optional.
type Deps struct {
	Sources   []crawler.VenueSource
	Matcher   dedupe.Matcher
	Gate      crawler.GatedFetcher
	Finder    MenuFinder
	Parser    MenuParser
	Scorer    scoring.Scorer
	Sink      crawler.RecordSink
	Remote    crawler.RemoteStore
	Archiver  crawler.Archiver
	Publisher crawler.Publisher
	Budget    crawler.Budget
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
}

// Summary counts what one run did.
type Summary struct {
	Candidates   int             `json:"candidates"`
	Venues       int             `json:"venues"`
	Restaurants  int             `json:"restaurants"`
	VenuesTried  int             `json:"venues_tried"`
	BudgetSkips  int             `json:"budget_skips"`
	PagesParsed  int             `json:"pages_parsed"`
	Menus        int             `json:"menus"`
	Items        int             `json:"items"`
	SinkErrors   int             `json:"sink_errors"`
	RemoteErrors int             `json:"remote_errors"`
	Fetch        admission.Stats `json:"fetch"`
}

// Orchestrator runs one harvest. It is the only component that tracks
// progress across venues.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	candidates   atomic.Int64
	venues       atomic.Int64
	restaurants  atomic.Int64
	venuesTried  atomic.Int64
	budgetSkips  atomic.Int64
	pagesParsed  atomic.Int64
	menus        atomic.Int64
	items        atomic.Int64
	sinkErrors   atomic.Int64
	remoteErrors atomic.Int64
}

// New validates the required collaborators.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Gate == nil:
		return nil, errors.New("gate is required")
	case deps.Finder == nil:
		return nil, errors.New("menu finder is required")
	case deps.Parser == nil:
		return nil, errors.New("parser is required")
	case deps.Sink == nil:
		return nil, errors.New("record sink is required")
	case deps.Budget == nil:
		return nil, errors.New("budget is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 1
	}
	if deps.Matcher == (dedupe.Matcher{}) {
		deps.Matcher = dedupe.DefaultMatcher()
	}
	if deps.Scorer == (scoring.Scorer{}) {
		deps.Scorer = scoring.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger.Named("orchestrator")}, nil
}

// Run discovers venues, persists them and harvests menus until every venue
// is handled or the budget expires. Discovery always runs. Only an invalid
// bounding box is returned as an error; everything else degrades per venue.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if err := o.cfg.BBox.Validate(); err != nil {
		return Summary{}, err
	}

	results := discovery.All(ctx, o.cfg.BBox, o.logger, o.deps.Sources...)
	candidates := discovery.Flatten(results)
	venues := o.deps.Matcher.Venues(candidates)
	o.candidates.Store(int64(len(candidates)))
	o.venues.Store(int64(len(venues)))
	o.logger.Info("venues discovered",
		zap.Int("candidates", len(candidates)),
		zap.Int("venues", len(venues)),
	)

	restaurants := o.persistRestaurants(ctx, venues)
	o.restaurants.Store(int64(len(restaurants)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.GlobalConcurrency)
	for _, r := range restaurants {
		if o.deps.Budget.Expired() {
			o.budgetSkips.Add(1)
			metrics.ObserveVenue(StatusBudgetSkip)
			continue
		}
		g.Go(func() error {
			// The slot may have opened after the deadline.
			if o.deps.Budget.Expired() {
				o.budgetSkips.Add(1)
				metrics.ObserveVenue(StatusBudgetSkip)
				return nil
			}
			o.venuesTried.Add(1)
			status := o.harvestVenue(gctx, r)
			metrics.ObserveVenue(status)
			return nil
		})
	}
	_ = g.Wait()

	summary := o.Progress()
	o.logger.Info("run finished",
		zap.Int("venues", summary.Venues),
		zap.Int("venues_tried", summary.VenuesTried),
		zap.Int("budget_skips", summary.BudgetSkips),
		zap.Int("menus", summary.Menus),
		zap.Int("items", summary.Items),
		zap.Int64("fetched", summary.Fetch.Fetched),
		zap.Int64("disallowed", summary.Fetch.Disallowed),
	)
	return summary, nil
}

// Progress returns the counters so far. It is safe to call while Run is in
// progress.
func (o *Orchestrator) Progress() Summary {
	summary := Summary{
		Candidates:   int(o.candidates.Load()),
		Venues:       int(o.venues.Load()),
		Restaurants:  int(o.restaurants.Load()),
		VenuesTried:  int(o.venuesTried.Load()),
		BudgetSkips:  int(o.budgetSkips.Load()),
		PagesParsed:  int(o.pagesParsed.Load()),
		Menus:        int(o.menus.Load()),
		Items:        int(o.items.Load()),
		SinkErrors:   int(o.sinkErrors.Load()),
		RemoteErrors: int(o.remoteErrors.Load()),
	}
	if s, ok := o.deps.Gate.(statsReporter); ok {
		summary.Fetch = s.Stats()
	}
	return summary
}

// persistRestaurants stamps and stores every merged venue. A venue that
// fails to stamp is dropped; a sink failure is logged and the venue is
// still harvested.
func (o *Orchestrator) persistRestaurants(ctx context.Context, venues []crawler.Candidate) []crawler.Restaurant {
	now := o.deps.Clock.Now()
	seen := make(map[string]int, len(venues))
	out := make([]crawler.Restaurant, 0, len(venues))
	for _, c := range venues {
		id := uuid.VenueID(c.Name, c.Lat, c.Lon)
		n := seen[id]
		seen[id]++
		if n > 0 {
			// Distinct venues rounding to one id cell.
			id = uuid.VenueID(c.Name+"#"+strconv.Itoa(n), c.Lat, c.Lon)
		}

		r, err := crawler.NewRestaurant(id, c, now)
		if err != nil {
			o.logger.Warn("restaurant rejected", zap.String("name", c.Name), zap.Error(err))
			continue
		}
		if err := o.deps.Sink.WriteRestaurant(ctx, r); err != nil {
			o.sinkErrors.Add(1)
			o.logger.Error("write restaurant", zap.String("restaurant_id", r.ID), zap.Error(err))
		}
		if o.deps.Remote != nil {
			if err := o.deps.Remote.UpsertRestaurant(ctx, r); err != nil {
				o.remoteFailure("restaurant", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out
}

func (o *Orchestrator) harvestVenue(ctx context.Context, r crawler.Restaurant) string {
	if r.Website == "" {
		return StatusNoWebsite
	}
	pages := o.deps.Finder.Find(ctx, r.Website)
	if len(pages) == 0 {
		o.logger.Debug("no menu url", zap.String("restaurant_id", r.ID), zap.String("website", r.Website))
		return StatusNoMenuURL
	}

	// Pages of one crawl attempt share a version, reserved on first content.
	version := sync.OnceValue(func() int { return o.deps.Sink.NextVersion(r.ID) })
	var stored atomic.Int64
	var g errgroup.Group
	for _, page := range pages {
		g.Go(func() error {
			if o.harvestPage(ctx, r, page, version) {
				stored.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if stored.Load() == 0 {
		return StatusNoContent
	}
	return StatusHarvested
}

// harvestPage fetches (when discovery did not already), parses and stores
// one page. It reports whether a Menu was written.
func (o *Orchestrator) harvestPage(
	ctx context.Context,
	r crawler.Restaurant,
	page menuurl.Page,
	version func() int,
) bool {
	var outcome crawler.FetchOutcome
	if page.Outcome != nil {
		outcome = *page.Outcome
	} else {
		var err error
		outcome, err = o.deps.Gate.Fetch(ctx, page.URL)
		if err != nil {
			o.logger.Debug("page skipped", zap.String("url", page.URL), zap.Error(err))
			return false
		}
	}
	if !outcome.OK() {
		o.logger.Debug("no content",
			zap.String("url", page.URL),
			zap.String("kind", string(outcome.Kind)),
			zap.Int("status", outcome.StatusCode),
		)
		return false
	}
	o.pagesParsed.Add(1)

	result := o.deps.Parser.Parse(outcome.Body)
	items := dedupe.Items(o.deps.Scorer.CleanAll(result.Items))

	var snapshot string
	if o.deps.Archiver != nil {
		uri, err := o.deps.Archiver.Archive(ctx, page.URL, outcome.Body)
		if err != nil {
			o.logger.Warn("archive page", zap.String("url", page.URL), zap.Error(err))
		} else {
			snapshot = uri
		}
	}

	if err := o.storeMenu(ctx, r, page.URL, version(), result, snapshot, items); err != nil {
		o.sinkErrors.Add(1)
		o.logger.Error("store menu", zap.String("restaurant_id", r.ID), zap.String("url", page.URL), zap.Error(err))
		return false
	}
	return true
}

func (o *Orchestrator) storeMenu(
	ctx context.Context,
	r crawler.Restaurant,
	sourceURL string,
	version int,
	result parser.Result,
	snapshot string,
	items []crawler.MenuItem,
) error {
	source := result.Source
	now := o.deps.Clock.Now()
	menu, err := crawler.NewMenu(o.deps.IDs, r.ID, sourceURL, source, version, snapshot, now)
	if err != nil {
		return err
	}
	stamped, err := crawler.StampItems(o.deps.IDs, menu.ID, items, now)
	if err != nil {
		return err
	}
	if err := o.deps.Sink.WriteMenu(ctx, menu); err != nil {
		return fmt.Errorf("write menu: %w", err)
	}
	if err := o.deps.Sink.WriteItems(ctx, stamped); err != nil {
		return fmt.Errorf("write items: %w", err)
	}
	o.menus.Add(1)
	o.items.Add(int64(len(stamped)))
	metrics.ObserveItems(source, len(stamped))

	if o.deps.Remote != nil {
		if err := o.deps.Remote.UpsertMenu(ctx, menu); err != nil {
			o.remoteFailure("menu", menu.ID, err)
		} else if err := o.deps.Remote.UpsertItems(ctx, stamped); err != nil {
			o.remoteFailure("menu_item", menu.ID, err)
		}
	}

	if o.deps.Publisher != nil {
		note := crawler.MenuNotification{
			RestaurantID: r.ID,
			MenuID:       menu.ID,
			Version:      menu.Version,
			Items:        len(stamped),
			ParserSource: source,
			SourceURL:    sourceURL,
		}
		if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, note); err != nil {
			o.logger.Warn("publish menu notification", zap.String("menu_id", menu.ID), zap.Error(err))
		}
	}

	o.logger.Info("menu stored",
		zap.String("restaurant_id", r.ID),
		zap.String("url", sourceURL),
		zap.String("source", source),
		zap.String("platform", result.Platform),
		zap.Int("version", menu.Version),
		zap.Int("items", len(stamped)),
	)
	return nil
}

func (o *Orchestrator) remoteFailure(entity, id string, err error) {
	o.remoteErrors.Add(1)
	metrics.ObserveRemoteFailure(entity)
	o.logger.Warn("remote upsert failed",
		zap.String("entity", entity),
		zap.String("id", id),
		zap.Error(err),
	)
}
