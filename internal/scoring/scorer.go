// Package scoring validates extracted prices and grades item confidence.
package scoring

import (
	"math"
	"strings"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// Defaults for Scorer.
const (
	DefaultMinPrice            = 1.0
	DefaultMaxPrice            = 200.0
	DefaultMissingPricePenalty = 0.2
)

// Scorer nulls implausible prices and penalizes items without a price.
type Scorer struct {
	MinPrice            float64 `mapstructure:"min_price" validate:"gte=0"`
	MaxPrice            float64 `mapstructure:"max_price" validate:"gtfield=MinPrice"`
	MissingPricePenalty float64 `mapstructure:"missing_price_penalty" validate:"gte=0,lte=1"`
}

// Default returns a Scorer with the standard bounds.
func Default() Scorer {
	return Scorer{
		MinPrice:            DefaultMinPrice,
		MaxPrice:            DefaultMaxPrice,
		MissingPricePenalty: DefaultMissingPricePenalty,
	}
}

// Clean returns a copy of item with its name tidied, its price validated
// and its confidence adjusted. The item's incoming confidence is treated as
// the strategy base.
func (s Scorer) Clean(item crawler.MenuItem) crawler.MenuItem {
	item.Name = strings.Join(strings.Fields(item.Name), " ")
	item.Description = strings.Join(strings.Fields(item.Description), " ")

	if item.Price != nil {
		p := *item.Price
		if math.IsNaN(p) || p < s.MinPrice || p > s.MaxPrice {
			item.Price = nil
		} else {
			item.Price = &p
		}
	}
	if item.Price == nil {
		item.Confidence = math.Max(0, item.Confidence-s.MissingPricePenalty)
	}
	item.Confidence = math.Min(1, math.Max(0, item.Confidence))
	return item
}

// CleanAll cleans every item and drops those left without a name.
func (s Scorer) CleanAll(items []crawler.MenuItem) []crawler.MenuItem {
	out := make([]crawler.MenuItem, 0, len(items))
	for _, item := range items {
		cleaned := s.Clean(item)
		if cleaned.Name == "" {
			continue
		}
		out = append(out, cleaned)
	}
	return out
}
