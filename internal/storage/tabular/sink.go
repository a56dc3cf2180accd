// Package tabular appends restaurant, menu and item rows to CSV files.
package tabular

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// File names inside the output directory.
const (
	RestaurantsFile = "restaurants.csv"
	MenusFile       = "menus.csv"
	ItemsFile       = "menu_items.csv"
)

// ListSeparator joins list-valued columns.
const ListSeparator = "|"

var (
	restaurantHeader = []string{
		"id", "name", "lat", "lon", "website", "phone", "price_level", "rating",
		"review_count", "provenance", "created_at", "updated_at",
	}
	menuHeader = []string{
		"id", "restaurant_id", "source_url", "crawled_at", "parser_source", "version", "snapshot_path",
	}
	itemHeader = []string{
		"id", "menu_id", "section", "name", "description", "price", "currency", "tags",
		"allergens", "confidence", "last_seen",
	}
)

// Sink implements crawler.RecordSink over three append-only CSV files. It
// is safe for concurrent use.
type Sink struct {
	restaurants *csvFile
	menus       *csvFile
	items       *csvFile

	mu            sync.Mutex
	versions      map[string]int
	restaurantIDs map[string]struct{}
}

// Open prepares dir and the three files, writing headers only to files that
// are new or empty. Existing rows seed version numbers and known
// restaurants so later runs continue the history.
func Open(dir string) (*Sink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	versions, err := scanVersions(filepath.Join(dir, MenusFile))
	if err != nil {
		return nil, err
	}
	known, err := scanIDs(filepath.Join(dir, RestaurantsFile))
	if err != nil {
		return nil, err
	}

	s := &Sink{versions: versions, restaurantIDs: known}
	if s.restaurants, err = openCSV(filepath.Join(dir, RestaurantsFile), restaurantHeader); err != nil {
		return nil, err
	}
	if s.menus, err = openCSV(filepath.Join(dir, MenusFile), menuHeader); err != nil {
		_ = s.restaurants.close()
		return nil, err
	}
	if s.items, err = openCSV(filepath.Join(dir, ItemsFile), itemHeader); err != nil {
		_ = s.restaurants.close()
		_ = s.menus.close()
		return nil, err
	}
	return s, nil
}

// WriteRestaurant appends a restaurant row unless its id was already
// written, in this run or an earlier one.
func (s *Sink) WriteRestaurant(_ context.Context, r crawler.Restaurant) error {
	s.mu.Lock()
	if _, ok := s.restaurantIDs[r.ID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.restaurantIDs[r.ID] = struct{}{}
	s.mu.Unlock()

	return s.restaurants.write([]string{
		r.ID,
		r.Name,
		formatFloat(r.Lat),
		formatFloat(r.Lon),
		r.Website,
		r.Phone,
		strconv.Itoa(r.PriceLevel),
		formatFloat(r.Rating),
		strconv.Itoa(r.ReviewCount),
		r.Provenance,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	})
}

// WriteMenu appends a menu row.
func (s *Sink) WriteMenu(_ context.Context, m crawler.Menu) error {
	s.mu.Lock()
	if m.Version > s.versions[m.RestaurantID] {
		s.versions[m.RestaurantID] = m.Version
	}
	s.mu.Unlock()

	return s.menus.write([]string{
		m.ID,
		m.RestaurantID,
		m.SourceURL,
		formatTime(m.CrawledAt),
		m.ParserSource,
		strconv.Itoa(m.Version),
		m.SnapshotPath,
	})
}

// WriteItems appends item rows in one flush.
func (s *Sink) WriteItems(_ context.Context, items []crawler.MenuItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		price := ""
		if it.Price != nil {
			price = formatFloat(*it.Price)
		}
		rows = append(rows, []string{
			it.ID,
			it.MenuID,
			it.Section,
			it.Name,
			it.Description,
			price,
			it.Currency,
			strings.Join(it.Tags, ListSeparator),
			strings.Join(it.Allergens, ListSeparator),
			formatFloat(it.Confidence),
			formatTime(it.LastSeen),
		})
	}
	return s.items.write(rows...)
}

// NextVersion reserves the next menu version for a restaurant.
func (s *Sink) NextVersion(restaurantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[restaurantID]++
	return s.versions[restaurantID]
}

// Close flushes and closes all files.
func (s *Sink) Close() error {
	return errors.Join(s.restaurants.close(), s.menus.close(), s.items.close())
}

type csvFile struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

func openCSV(path string, header []string) (*csvFile, error) {
	// #nosec G304 -- path is built from the configured output directory.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	cf := &csvFile{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := cf.write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return cf, nil
}

func (c *csvFile) write(rows ...[]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		if err := c.w.Write(row); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(c.f.Name()), err)
		}
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", filepath.Base(c.f.Name()), err)
	}
	return nil
}

func (c *csvFile) close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	return errors.Join(c.w.Error(), c.f.Close())
}

// scanVersions returns the highest version per restaurant in an existing
// menus file.
func scanVersions(path string) (map[string]int, error) {
	versions := make(map[string]int)
	err := scanRows(path, func(col map[string]int, row []string) {
		rid, ok1 := field(row, col, "restaurant_id")
		raw, ok2 := field(row, col, "version")
		if !ok1 || !ok2 {
			return
		}
		if v, err := strconv.Atoi(raw); err == nil && v > versions[rid] {
			versions[rid] = v
		}
	})
	return versions, err
}

func scanIDs(path string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	err := scanRows(path, func(col map[string]int, row []string) {
		if id, ok := field(row, col, "id"); ok && id != "" {
			ids[id] = struct{}{}
		}
	})
	return ids, err
}

func scanRows(path string, fn func(col map[string]int, row []string)) error {
	// #nosec G304 -- path is built from the configured output directory.
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s header: %w", filepath.Base(path), err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			// A torn line from an interrupted run is not fatal.
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		fn(col, row)
	}
}

func field(row []string, col map[string]int, name string) (string, bool) {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return "", false
	}
	return row[i], true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
