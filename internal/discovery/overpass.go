package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// DefaultOverpassEndpoint is the public Overpass interpreter.
const DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"

// OverpassConfig configures the OpenStreetMap source.
type OverpassConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// Overpass queries OpenStreetMap for restaurant, cafe and fast food points.
type Overpass struct {
	cfg    OverpassConfig
	client *http.Client
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *overpassCenter   `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type overpassCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewOverpass builds the source. A nil client gets one with cfg.Timeout.
func NewOverpass(cfg OverpassConfig, client *http.Client) *Overpass {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOverpassEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Overpass{cfg: cfg, client: client}
}

// Name implements crawler.VenueSource.
func (o *Overpass) Name() string { return "osm" }

// Discover implements crawler.VenueSource.
func (o *Overpass) Discover(ctx context.Context, bbox crawler.BoundingBox) ([]crawler.Candidate, error) {
	form := url.Values{"data": {o.query(bbox)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if o.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", o.cfg.UserAgent)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute overpass request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("overpass status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}

	candidates := make([]crawler.Candidate, 0, len(payload.Elements))
	for _, el := range payload.Elements {
		if c, ok := el.candidate(); ok {
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

func (o *Overpass) query(b crawler.BoundingBox) string {
	box := strings.Join([]string{
		formatCoord(b.MinLat), formatCoord(b.MinLon), formatCoord(b.MaxLat), formatCoord(b.MaxLon),
	}, ",")
	filter := `["amenity"~"restaurant|cafe|fast_food"]`
	return fmt.Sprintf(
		"[out:json][timeout:%d];(node%s(%s);way%s(%s);relation%s(%s););out center tags;",
		int(o.cfg.Timeout/time.Second), filter, box, filter, box, filter, box,
	)
}

func (el overpassElement) candidate() (crawler.Candidate, bool) {
	name := strings.TrimSpace(el.Tags["name"])
	if name == "" {
		return crawler.Candidate{}, false
	}
	lat, lon := el.Lat, el.Lon
	if el.Center != nil {
		lat, lon = el.Center.Lat, el.Center.Lon
	}
	if lat == 0 && lon == 0 {
		return crawler.Candidate{}, false
	}
	return crawler.Candidate{
		Name:    name,
		Lat:     lat,
		Lon:     lon,
		Website: firstTag(el.Tags, "website", "contact:website", "url"),
		Phone:   firstTag(el.Tags, "phone", "contact:phone"),
		Cuisine: el.Tags["cuisine"],
		Sources: []string{"osm:" + el.Type + "/" + strconv.FormatInt(el.ID, 10)},
	}, true
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(tags[k]); v != "" {
			return v
		}
	}
	return ""
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
