package crawler

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidBoundingBox is returned when a bounding box is missing or malformed.
	ErrInvalidBoundingBox = errors.New("invalid bounding box")
	// ErrDisallowed marks a URL skipped because robots.txt forbids it.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrBudgetExhausted marks work refused after the runtime deadline.
	ErrBudgetExhausted = errors.New("runtime budget exhausted")
	// ErrPageCapReached marks a URL skipped because its domain hit the page cap.
	ErrPageCapReached = errors.New("per-domain page cap reached")
)

// FetchKind classifies the result of a single page fetch.
type FetchKind string

// Fetch outcome kinds. Only FetchContent carries a body.
const (
	FetchContent         FetchKind = "content"
	FetchHTTPError       FetchKind = "http_error"
	FetchTimeout         FetchKind = "timeout"
	FetchConnectionError FetchKind = "connection_error"
)

// FetchOutcome is the result returned by a Fetcher. Network failures are
// reported here rather than as Go errors.
type FetchOutcome struct {
	Kind       FetchKind
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Truncated  bool
	UserAgent  string
	Duration   time.Duration
	Err        error
}

// OK reports whether the fetch produced content.
func (o FetchOutcome) OK() bool {
	return o.Kind == FetchContent
}

// BoundingBox is the rectangular region a crawl is restricted to.
type BoundingBox struct {
	MinLat float64 `mapstructure:"min_lat" validate:"gte=-90,lte=90"`
	MinLon float64 `mapstructure:"min_lon" validate:"gte=-180,lte=180"`
	MaxLat float64 `mapstructure:"max_lat" validate:"gte=-90,lte=90"`
	MaxLon float64 `mapstructure:"max_lon" validate:"gte=-180,lte=180"`
}

// Validate checks the ordering of the box corners.
func (b BoundingBox) Validate() error {
	if b == (BoundingBox{}) {
		return fmt.Errorf("%w: bbox is not set", ErrInvalidBoundingBox)
	}
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidBoundingBox)
	}
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("%w: min_lat must be < max_lat", ErrInvalidBoundingBox)
	}
	if b.MinLon >= b.MaxLon {
		return fmt.Errorf("%w: min_lon must be < max_lon", ErrInvalidBoundingBox)
	}
	return nil
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Candidate is a venue reported by a discovery source, before merging.
type Candidate struct {
	Name        string
	Lat         float64
	Lon         float64
	Website     string
	Phone       string
	Cuisine     string
	PriceLevel  int
	Rating      float64
	ReviewCount int
	Sources     []string
}

// PopulatedFields counts the optional fields that carry a value.
func (c Candidate) PopulatedFields() int {
	n := 0
	for _, s := range []string{c.Website, c.Phone, c.Cuisine} {
		if s != "" {
			n++
		}
	}
	if c.PriceLevel > 0 {
		n++
	}
	if c.Rating > 0 {
		n++
	}
	if c.ReviewCount > 0 {
		n++
	}
	return n
}

// Parser source tags recorded on menus and items.
const (
	SourceStructured = "structured"
	SourcePlatform   = "platform"
	SourceGeneric    = "generic"
)

// Restaurant is the durable record of a discovered venue.
type Restaurant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Website     string    `json:"website,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	PriceLevel  int       `json:"price_level,omitempty"`
	Rating      float64   `json:"rating,omitempty"`
	ReviewCount int       `json:"review_count,omitempty"`
	Provenance  string    `json:"provenance"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Menu is the result of one crawl attempt against a restaurant page.
type Menu struct {
	ID           string    `json:"id"`
	RestaurantID string    `json:"restaurant_id"`
	SourceURL    string    `json:"source_url"`
	CrawledAt    time.Time `json:"crawled_at"`
	ParserSource string    `json:"parser_source"`
	Version      int       `json:"version"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`
}

// MenuItem is a single extracted dish. Price is nil when unknown.
type MenuItem struct {
	ID          string    `json:"id"`
	MenuID      string    `json:"menu_id"`
	Section     string    `json:"section,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       *float64  `json:"price,omitempty"`
	Currency    string    `json:"currency"`
	Tags        []string  `json:"tags,omitempty"`
	Allergens   []string  `json:"allergens,omitempty"`
	Confidence  float64   `json:"confidence"`
	LastSeen    time.Time `json:"last_seen"`
}

// HasPrice reports whether the item carries a validated price.
func (i MenuItem) HasPrice() bool {
	return i.Price != nil
}

// MenuNotification is published after a menu and its items are persisted.
type MenuNotification struct {
	RestaurantID string `json:"restaurant_id"`
	MenuID       string `json:"menu_id"`
	Version      int    `json:"version"`
	Items        int    `json:"items"`
	ParserSource string `json:"parser_source"`
	SourceURL    string `json:"source_url"`
}
