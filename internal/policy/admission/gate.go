// Package admission decides whether a page fetch may be issued.
package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/metrics"
)

// Config holds admission settings.
type Config struct {
	// Agent is the token robots.txt groups are matched against.
	Agent string
	// MaxPagesPerDomain caps content pages per host. Fetches that come back
	// without content give their slot back. Zero means unlimited.
	MaxPagesPerDomain int
}

// Stats counts admitted and refused fetches.
type Stats struct {
	Fetched     int64 `json:"fetched"`
	Disallowed  int64 `json:"disallowed"`
	BudgetSkips int64 `json:"budget_skips"`
	CapSkips    int64 `json:"cap_skips"`
}

// Gate checks the budget, robots rules and per-domain page cap, in that
// order, before delegating to the Fetcher.
type Gate struct {
	fetcher crawler.Fetcher
	robots  crawler.RobotsPolicy
	budget  crawler.Budget
	cfg     Config
	logger  *zap.Logger

	mu    sync.Mutex
	pages map[string]int

	fetched     atomic.Int64
	disallowed  atomic.Int64
	budgetSkips atomic.Int64
	capSkips    atomic.Int64
}

// New builds a Gate. A nil robots policy allows everything and a nil budget
// never expires.
func New(
	fetcher crawler.Fetcher,
	robots crawler.RobotsPolicy,
	budget crawler.Budget,
	cfg Config,
	logger *zap.Logger,
) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		fetcher: fetcher,
		robots:  robots,
		budget:  budget,
		cfg:     cfg,
		logger:  logger.Named("admission"),
		pages:   make(map[string]int),
	}
}

// Fetch implements crawler.GatedFetcher.
func (g *Gate) Fetch(ctx context.Context, rawURL string) (crawler.FetchOutcome, error) {
	if g.budget != nil && g.budget.Expired() {
		g.budgetSkips.Add(1)
		g.logger.Info("skip", zap.String("url", rawURL), zap.String("reason", "budget"))
		return crawler.FetchOutcome{}, fmt.Errorf("fetch %s: %w", rawURL, crawler.ErrBudgetExhausted)
	}
	if g.robots != nil && !g.robots.Allowed(ctx, rawURL, g.cfg.Agent) {
		g.disallowed.Add(1)
		metrics.ObserveRobotsSkip()
		g.logger.Info("skip", zap.String("url", rawURL), zap.String("reason", "robots"))
		return crawler.FetchOutcome{}, fmt.Errorf("fetch %s: %w", rawURL, crawler.ErrDisallowed)
	}
	if !g.reservePage(rawURL) {
		g.capSkips.Add(1)
		g.logger.Debug("skip", zap.String("url", rawURL), zap.String("reason", "page_cap"))
		return crawler.FetchOutcome{}, fmt.Errorf("fetch %s: %w", rawURL, crawler.ErrPageCapReached)
	}
	g.fetched.Add(1)
	outcome := g.fetcher.Fetch(ctx, rawURL)
	if !outcome.OK() {
		g.releasePage(rawURL)
	}
	return outcome, nil
}

// Stats returns a snapshot of the counters.
func (g *Gate) Stats() Stats {
	return Stats{
		Fetched:     g.fetched.Load(),
		Disallowed:  g.disallowed.Load(),
		BudgetSkips: g.budgetSkips.Load(),
		CapSkips:    g.capSkips.Load(),
	}
}

func (g *Gate) reservePage(rawURL string) bool {
	if g.cfg.MaxPagesPerDomain <= 0 {
		return true
	}
	host := crawler.HostKey(rawURL)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pages[host] >= g.cfg.MaxPagesPerDomain {
		return false
	}
	g.pages[host]++
	return true
}

func (g *Gate) releasePage(rawURL string) {
	if g.cfg.MaxPagesPerDomain <= 0 {
		return
	}
	host := crawler.HostKey(rawURL)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pages[host] > 0 {
		g.pages[host]--
	}
}
