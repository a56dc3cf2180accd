// Package parser extracts menu items from HTML through an ordered cascade of
// strategies, from structured data down to text heuristics.
package parser

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// Base confidences per strategy.
const (
	StructuredConfidence = 0.95
	PlatformConfidence   = 0.8
	GenericConfidence    = 0.6
)

// DefaultCurrency is assumed when a page gives no currency hint.
const DefaultCurrency = "USD"

// Result is the output of one cascade run over a page. An empty result has
// zero confidence and no source.
type Result struct {
	Items      []crawler.MenuItem
	Confidence float64
	Source     string
	// Platform names the matched fingerprint when Source is platform.
	Platform string
}

// Empty reports whether no strategy produced items.
func (r Result) Empty() bool {
	return len(r.Items) == 0
}

// Strategy extracts items from a parsed document. Implementations must not
// modify the document and must be deterministic.
type Strategy interface {
	Name() string
	Confidence() float64
	Extract(doc *goquery.Document, raw []byte) []crawler.MenuItem
}

// detector is implemented by strategies that can name what they matched.
type detector interface {
	Detected(doc *goquery.Document, raw []byte) string
}

// Cascade runs strategies in order and keeps the first non-empty result.
type Cascade struct {
	strategies []Strategy
}

// NewCascade builds a cascade over the given strategies.
func NewCascade(strategies ...Strategy) *Cascade {
	return &Cascade{strategies: strategies}
}

// Default returns the structured, platform, generic cascade using the
// embedded platform fingerprints.
func Default() (*Cascade, error) {
	fingerprints, err := DefaultFingerprints()
	if err != nil {
		return nil, err
	}
	return WithFingerprints(fingerprints), nil
}

// WithFingerprints returns the standard cascade with a custom platform table.
func WithFingerprints(fingerprints []Fingerprint) *Cascade {
	return NewCascade(
		NewStructured(),
		NewPlatform(fingerprints),
		NewGeneric(),
	)
}

// Parse runs the cascade. Unparseable HTML yields an empty result.
func (c *Cascade) Parse(html []byte) Result {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Result{}
	}
	for _, s := range c.strategies {
		items := s.Extract(doc, html)
		if len(items) == 0 {
			continue
		}
		for i := range items {
			items[i].Confidence = s.Confidence()
			if items[i].Currency == "" {
				items[i].Currency = DefaultCurrency
			}
			enrich(&items[i])
		}
		res := Result{Items: items, Confidence: s.Confidence(), Source: s.Name()}
		if d, ok := s.(detector); ok {
			res.Platform = d.Detected(doc, html)
		}
		return res
	}
	return Result{}
}

// String renders a short summary for logs.
func (r Result) String() string {
	return fmt.Sprintf("%s:%d@%.2f", r.Source, len(r.Items), r.Confidence)
}
