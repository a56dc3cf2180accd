package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

const (
	// DefaultYelpEndpoint is the Fusion API base URL.
	DefaultYelpEndpoint = "https://api.yelp.com"
	maxYelpRadius       = 40000
	yelpPageSize        = 50
)

// YelpConfig configures the business-directory source.
type YelpConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Categories string        `mapstructure:"categories"`
	Term       string        `mapstructure:"term"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Yelp searches the Yelp Fusion API around the bounding box center.
type Yelp struct {
	cfg    YelpConfig
	client *http.Client
}

type yelpResponse struct {
	Businesses []yelpBusiness `json:"businesses"`
}

type yelpBusiness struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	Price       string  `json:"price"`
	Coordinates struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coordinates"`
	Categories []struct {
		Alias string `json:"alias"`
		Title string `json:"title"`
	} `json:"categories"`
}

// NewYelp builds the source. A nil client gets one with cfg.Timeout.
func NewYelp(cfg YelpConfig, client *http.Client) *Yelp {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultYelpEndpoint
	}
	if cfg.Categories == "" {
		cfg.Categories = "restaurants,cafes"
	}
	if cfg.Term == "" {
		cfg.Term = "restaurants"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Yelp{cfg: cfg, client: client}
}

// Name implements crawler.VenueSource.
func (y *Yelp) Name() string { return "yelp" }

// Discover implements crawler.VenueSource. Businesses outside the box are
// dropped since the search area is a circle around its center.
func (y *Yelp) Discover(ctx context.Context, bbox crawler.BoundingBox) ([]crawler.Candidate, error) {
	if y.cfg.APIKey == "" {
		return nil, fmt.Errorf("yelp api key is not configured")
	}
	lat, lon := bbox.Center()
	params := url.Values{
		"latitude":   {formatCoord(lat)},
		"longitude":  {formatCoord(lon)},
		"radius":     {strconv.Itoa(searchRadius(bbox))},
		"categories": {y.cfg.Categories},
		"term":       {y.cfg.Term},
		"limit":      {strconv.Itoa(yelpPageSize)},
	}
	endpoint := strings.TrimRight(y.cfg.Endpoint, "/") + "/v3/businesses/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create yelp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+y.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute yelp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("yelp status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload yelpResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode yelp response: %w", err)
	}

	candidates := make([]crawler.Candidate, 0, len(payload.Businesses))
	for _, b := range payload.Businesses {
		name := strings.TrimSpace(b.Name)
		if name == "" || !bbox.Contains(b.Coordinates.Latitude, b.Coordinates.Longitude) {
			continue
		}
		c := crawler.Candidate{
			Name:        name,
			Lat:         b.Coordinates.Latitude,
			Lon:         b.Coordinates.Longitude,
			Phone:       b.Phone,
			PriceLevel:  priceLevel(b.Price),
			Rating:      b.Rating,
			ReviewCount: b.ReviewCount,
			Sources:     []string{"yelp:" + b.ID},
		}
		if len(b.Categories) > 0 {
			c.Cuisine = b.Categories[0].Alias
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// searchRadius covers the box from its center to a corner, capped at the
// API maximum.
func searchRadius(b crawler.BoundingBox) int {
	lat, lon := b.Center()
	r := crawler.DistanceMeters(lat, lon, b.MaxLat, b.MaxLon)
	return int(math.Min(math.Ceil(r), maxYelpRadius))
}

// priceLevel maps "$".."$$$$" to 1..4.
func priceLevel(p string) int {
	p = strings.TrimSpace(p)
	if p == "" || strings.Trim(p, "$") != "" || len(p) > 4 {
		return 0
	}
	return len(p)
}
