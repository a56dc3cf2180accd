// Package discovery finds candidate restaurants inside a bounding box.
package discovery

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// Result is the candidate list reported by one source.
type Result struct {
	Source     string
	Candidates []crawler.Candidate
	Err        error
}

// All queries every source concurrently. A failing source contributes an
// empty list and never affects the others. Results are returned in source
// order and are not merged.
func All(ctx context.Context, bbox crawler.BoundingBox, logger *zap.Logger, sources ...crawler.VenueSource) []Result {
	if logger == nil {
		logger = zap.NewNop()
	}
	results := make([]Result, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			candidates, err := src.Discover(ctx, bbox)
			if err != nil {
				logger.Warn("venue source failed",
					zap.String("source", src.Name()),
					zap.Error(err),
				)
				candidates = nil
			} else {
				logger.Info("venue source finished",
					zap.String("source", src.Name()),
					zap.Int("candidates", len(candidates)),
				)
			}
			results[i] = Result{Source: src.Name(), Candidates: candidates, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Flatten concatenates the candidate lists of all results.
func Flatten(results []Result) []crawler.Candidate {
	var out []crawler.Candidate
	for _, r := range results {
		out = append(out, r.Candidates...)
	}
	return out
}
