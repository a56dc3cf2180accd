// Package robots evaluates robots.txt rules with a per-run host cache.
package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/metrics"
)

// Gate enforces robots.txt directives per host. robots.txt itself is fetched
// through the supplied Fetcher, so it shares the per-host limits, but it is
// never checked against the rules it loads.
type Gate struct {
	fetcher crawler.Fetcher
	cache   sync.Map
	logger  *zap.Logger
}

// NewGate builds a Gate backed by fetcher.
func NewGate(fetcher crawler.Fetcher, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{fetcher: fetcher, logger: logger.Named("robots")}
}

// Allowed implements crawler.RobotsPolicy. Any failure to obtain rules for a
// host is treated as allow-all.
func (g *Gate) Allowed(ctx context.Context, rawURL string, agent string) bool {
	if g == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data := g.rules(ctx, parsed)
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return data.TestAgent(target, agent)
}

// Hosts returns the number of cached rulesets.
func (g *Gate) Hosts() int {
	n := 0
	g.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (g *Gate) rules(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	origin, err := crawler.Origin(parsed.String())
	if err != nil {
		return allowAll()
	}
	if cached, ok := g.cache.Load(origin); ok {
		if data, ok := cached.(*robotstxt.RobotsData); ok {
			return data
		}
	}

	data, err := g.load(ctx, origin)
	if err != nil {
		g.logger.Info("robots fallback",
			zap.String("host", origin),
			zap.Error(err),
		)
		metrics.ObserveRobotsFallback()
		data = allowAll()
	}
	// A concurrent fill may have won; keep whichever landed first.
	actual, _ := g.cache.LoadOrStore(origin, data)
	if stored, ok := actual.(*robotstxt.RobotsData); ok {
		return stored
	}
	return data
}

func (g *Gate) load(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	outcome := g.fetcher.Fetch(ctx, origin+"/robots.txt")
	switch outcome.Kind {
	case crawler.FetchContent:
		data, err := robotstxt.FromStatusAndBytes(http.StatusOK, outcome.Body)
		if err != nil {
			return nil, fmt.Errorf("parse robots: %w", err)
		}
		return data, nil
	case crawler.FetchHTTPError:
		if outcome.StatusCode >= 400 && outcome.StatusCode < 500 {
			return allowAll(), nil
		}
		return nil, fmt.Errorf("robots status %d", outcome.StatusCode)
	default:
		return nil, fmt.Errorf("fetch robots (%s): %v", outcome.Kind, outcome.Err)
	}
}

func allowAll() *robotstxt.RobotsData {
	data, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	return data
}
