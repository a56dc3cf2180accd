// Package collyfetcher implements the rate-limited page fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgents     []string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxBodyBytes   int
}

// HostLimiter hands out per-host request slots.
type HostLimiter interface {
	Acquire(ctx context.Context, rawURL string) (func(), error)
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       HostLimiter
	baseCollector *colly.Collector
	nextAgent     atomic.Uint64
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

const defaultUserAgent = "MenuHarvester/1.0"

// New builds a Fetcher. A nil limiter disables per-host limiting.
func New(cfg Config, limiter HostLimiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = []string{defaultUserAgent}
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.MaxBodySize = cfg.MaxBodyBytes
	c.WithTransport(newHTTPTransport(cfg))
	c.SetRequestTimeout(cfg.ConnectTimeout + cfg.ReadTimeout)

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET. It never retries and reports network
// failures through the outcome kind.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) crawler.FetchOutcome {
	agent := f.userAgent()
	outcome := crawler.FetchOutcome{URL: rawURL, UserAgent: agent}

	release := func() {}
	if f.limiter != nil {
		var err error
		release, err = f.limiter.Acquire(ctx, rawURL)
		if err != nil {
			outcome.Kind = crawler.FetchConnectionError
			outcome.Err = err
			return f.finish(outcome)
		}
	}

	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.UserAgent = agent

	var (
		result   crawler.FetchOutcome
		fetchErr error
	)
	result = outcome
	f.configureCollectorHooks(collector, &result, &fetchErr)

	completed, visitErr := f.runCollector(ctx, collector, rawURL, release)
	if !completed {
		outcome.Kind = crawler.FetchConnectionError
		outcome.Err = visitErr
		outcome.Duration = time.Since(start)
		return f.finish(outcome)
	}
	result.Duration = time.Since(start)
	if fetchErr == nil {
		fetchErr = visitErr
	}
	if fetchErr != nil && result.Kind == "" {
		result.Kind = classify(fetchErr)
		result.Err = fetchErr
	}
	if result.Kind == "" {
		result.Kind = crawler.FetchConnectionError
		result.Err = errors.New("colly fetch produced no result")
	}
	return f.finish(result)
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	result *crawler.FetchOutcome,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		result.Kind = crawler.FetchContent
		result.StatusCode = r.StatusCode
		result.FinalURL = r.Request.URL.String()
		result.Body = append([]byte(nil), r.Body...)
		result.Truncated = f.cfg.MaxBodyBytes > 0 && len(r.Body) >= f.cfg.MaxBodyBytes
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = err
		if r != nil && r.StatusCode > 0 && !isTimeout(err) {
			result.Kind = crawler.FetchHTTPError
			result.StatusCode = r.StatusCode
			result.Err = err
			if r.Request != nil && r.Request.URL != nil {
				result.FinalURL = r.Request.URL.String()
			}
		}
	})
}

// runCollector reports completed=false when ctx ended before the visit
// returned; the collector hooks may still be running in that case. release
// runs once the visit itself returns, so the host slot stays held for as
// long as the request is on the wire.
func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	rawURL string,
	release func(),
) (bool, error) {
	done := make(chan error, 1)
	go func() {
		err := collector.Visit(rawURL)
		release()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		return true, err
	}
}

func (f *Fetcher) finish(outcome crawler.FetchOutcome) crawler.FetchOutcome {
	metrics.ObserveFetch(outcome.URL, string(outcome.Kind), len(outcome.Body))
	if !outcome.OK() {
		f.logger.Warn("fetch failed",
			zap.String("url", outcome.URL),
			zap.String("kind", string(outcome.Kind)),
			zap.Int("status_code", outcome.StatusCode),
			zap.Error(outcome.Err),
		)
		return outcome
	}
	if outcome.Truncated {
		f.logger.Debug("body truncated at byte cap",
			zap.String("url", outcome.URL),
			zap.Int("max_bytes", f.cfg.MaxBodyBytes),
		)
	}
	return outcome
}

func (f *Fetcher) userAgent() string {
	n := f.nextAgent.Add(1) - 1
	return f.cfg.UserAgents[n%uint64(len(f.cfg.UserAgents))]
}

func classify(err error) crawler.FetchKind {
	if isTimeout(err) {
		return crawler.FetchTimeout
	}
	return crawler.FetchConnectionError
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newHTTPTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
