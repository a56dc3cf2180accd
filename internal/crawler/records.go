package crawler

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

type provenance struct {
	Sources []string `json:"sources"`
}

// NewRestaurant stamps a merged candidate into an immutable restaurant record.
func NewRestaurant(id string, c Candidate, now time.Time) (Restaurant, error) {
	if id == "" {
		return Restaurant{}, fmt.Errorf("restaurant id is required")
	}
	sources := slices.Clone(c.Sources)
	slices.Sort(sources)
	sources = slices.Compact(sources)
	blob, err := json.Marshal(provenance{Sources: sources})
	if err != nil {
		return Restaurant{}, fmt.Errorf("marshal provenance: %w", err)
	}
	now = now.UTC()
	return Restaurant{
		ID:          id,
		Name:        c.Name,
		Lat:         c.Lat,
		Lon:         c.Lon,
		Website:     c.Website,
		Phone:       c.Phone,
		PriceLevel:  c.PriceLevel,
		Rating:      c.Rating,
		ReviewCount: c.ReviewCount,
		Provenance:  string(blob),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewMenu creates a versioned menu record for one crawl attempt.
func NewMenu(
	ids IDGenerator,
	restaurantID string,
	sourceURL string,
	parserSource string,
	version int,
	snapshotPath string,
	now time.Time,
) (Menu, error) {
	id, err := ids.NewID()
	if err != nil {
		return Menu{}, fmt.Errorf("menu id: %w", err)
	}
	if version < 1 {
		version = 1
	}
	return Menu{
		ID:           id,
		RestaurantID: restaurantID,
		SourceURL:    sourceURL,
		CrawledAt:    now.UTC(),
		ParserSource: parserSource,
		Version:      version,
		SnapshotPath: snapshotPath,
	}, nil
}

// StampItems assigns identities and ownership to extracted items. The input
// slice is not modified.
func StampItems(ids IDGenerator, menuID string, items []MenuItem, now time.Time) ([]MenuItem, error) {
	out := make([]MenuItem, 0, len(items))
	for _, item := range items {
		id, err := ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("menu item id: %w", err)
		}
		item.ID = id
		item.MenuID = menuID
		item.LastSeen = now.UTC()
		item.Tags = slices.Clone(item.Tags)
		item.Allergens = slices.Clone(item.Allergens)
		out = append(out, item)
	}
	return out, nil
}
