package orchestrator

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/archive"
	"github.com/JakeFAU/menu-harvester/internal/budget"
	"github.com/JakeFAU/menu-harvester/internal/clock/system"
	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/dedupe"
	collyfetcher "github.com/JakeFAU/menu-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/menu-harvester/internal/hash/sha256"
	"github.com/JakeFAU/menu-harvester/internal/id/uuid"
	"github.com/JakeFAU/menu-harvester/internal/menuurl"
	"github.com/JakeFAU/menu-harvester/internal/parser"
	"github.com/JakeFAU/menu-harvester/internal/policy/admission"
	"github.com/JakeFAU/menu-harvester/internal/policy/ratelimit"
	memorypub "github.com/JakeFAU/menu-harvester/internal/publisher/memory"
	"github.com/JakeFAU/menu-harvester/internal/robots"
	"github.com/JakeFAU/menu-harvester/internal/scoring"
	memoryblob "github.com/JakeFAU/menu-harvester/internal/storage/memory"
	"github.com/JakeFAU/menu-harvester/internal/storage/tabular"
)

var testBBox = crawler.BoundingBox{MinLat: 40.70, MinLon: -74.02, MaxLat: 40.73, MaxLon: -73.98}

type staticSource struct {
	name       string
	candidates []crawler.Candidate
	err        error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Discover(context.Context, crawler.BoundingBox) ([]crawler.Candidate, error) {
	return s.candidates, s.err
}

// site serves a small restaurant website and records every requested path.
type site struct {
	mu     sync.Mutex
	paths  []string
	robots string
	pages  map[string]string
}

func (s *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.mu.Unlock()
	if r.URL.Path == "/robots.txt" {
		if s.robots == "" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(s.robots))
		return
	}
	body, ok := s.pages[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(body))
}

func (s *site) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

type stack struct {
	orch      *Orchestrator
	dir       string
	blobs     *memoryblob.BlobStore
	publisher *memorypub.Publisher
}

func newStack(t *testing.T, sources []crawler.VenueSource, minutes float64) stack {
	t.Helper()
	logger := zap.NewNop()
	clock := system.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	runBudget := budget.New(clock, minutes)

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgents:     []string{"test-agent"},
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		MaxBodyBytes:   1 << 20,
	}, ratelimit.New(ratelimit.Config{PerHostConcurrency: 2}), logger)
	gate := admission.New(fetcher, robots.NewGate(fetcher, logger), runBudget,
		admission.Config{Agent: "MenuHarvester", MaxPagesPerDomain: 6}, logger)
	cascade, err := parser.Default()
	require.NoError(t, err)

	dir := t.TempDir()
	sink, err := tabular.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	blobs := memoryblob.NewBlobStore()
	pub := memorypub.New()
	orch, err := New(Config{BBox: testBBox, GlobalConcurrency: 4}, Deps{
		Sources:   sources,
		Matcher:   dedupe.DefaultMatcher(),
		Gate:      gate,
		Finder:    menuurl.New(gate, logger),
		Parser:    cascade,
		Scorer:    scoring.Default(),
		Sink:      sink,
		Archiver:  archive.New(blobs, sha256.New(), "", logger),
		Publisher: pub,
		Budget:    runBudget,
		IDs:       uuid.New(),
		Clock:     clock,
	}, logger)
	require.NoError(t, err)
	return stack{orch: orch, dir: dir, blobs: blobs, publisher: pub}
}

func readRows(t *testing.T, dir, name string) [][]string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows[1:]
}

const margheritaPage = `<html><head><script type="application/ld+json">
{"@context": "https://schema.org", "@type": "MenuItem", "name": "Margherita Pizza",
 "offers": {"@type": "Offer", "price": "14.00", "priceCurrency": "USD"}}
</script></head><body><p>Garlic Knots $6</p></body></html>`

func TestRunHarvestsStructuredMenu(t *testing.T) {
	t.Parallel()

	web := &site{pages: map[string]string{
		"/":     `<html><body><a href="/menu">Our Menu</a></body></html>`,
		"/menu": margheritaPage,
	}}
	srv := httptest.NewServer(web)
	t.Cleanup(srv.Close)

	// The two listings describe one venue 50 m apart.
	sources := []crawler.VenueSource{
		staticSource{name: "osm", candidates: []crawler.Candidate{
			{Name: "Joe's Pizza", Lat: 40.7150, Lon: -74.0000, Website: srv.URL, Sources: []string{"osm:node/1"}},
		}},
		staticSource{name: "yelp", candidates: []crawler.Candidate{
			{Name: "Joes Pizza", Lat: 40.7154, Lon: -74.0002, Rating: 4.5, Sources: []string{"yelp:joes"}},
		}},
	}
	st := newStack(t, sources, 5)

	summary, err := st.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Candidates)
	assert.Equal(t, 1, summary.Venues)
	assert.Equal(t, 1, summary.Menus)
	assert.Equal(t, 1, summary.Items)

	restaurants := readRows(t, st.dir, tabular.RestaurantsFile)
	require.Len(t, restaurants, 1)
	assert.Equal(t, srv.URL, restaurants[0][4])
	assert.Contains(t, restaurants[0][9], "yelp:joes")

	menus := readRows(t, st.dir, tabular.MenusFile)
	require.Len(t, menus, 1)
	assert.Equal(t, restaurants[0][0], menus[0][1])
	assert.Equal(t, crawler.SourceStructured, menus[0][4])
	assert.Equal(t, "1", menus[0][5])
	assert.True(t, strings.HasPrefix(menus[0][6], "memory://raw/127.0.0.1/"))

	items := readRows(t, st.dir, tabular.ItemsFile)
	require.Len(t, items, 1)
	assert.Equal(t, menus[0][0], items[0][1])
	assert.Equal(t, "Margherita Pizza", items[0][3])
	assert.Equal(t, "14", items[0][5])
	assert.Equal(t, "USD", items[0][6])
	assert.Equal(t, "0.95", items[0][9])

	assert.Equal(t, 1, st.blobs.Len())
	notes, err := st.publisher.Notifications()
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, 1, notes[0].Items)
	assert.Equal(t, menus[0][0], notes[0].MenuID)
}

func TestRunRespectsRobots(t *testing.T) {
	t.Parallel()

	web := &site{
		robots: "User-agent: *\nDisallow: /menu\n",
		pages: map[string]string{
			"/menu": margheritaPage,
			"/food": `<html><body><p>Caesar Salad $12 fresh romaine</p></body></html>`,
		},
	}
	srv := httptest.NewServer(web)
	t.Cleanup(srv.Close)

	st := newStack(t, []crawler.VenueSource{staticSource{name: "osm", candidates: []crawler.Candidate{
		{Name: "Green Leaf", Lat: 40.71, Lon: -74.0, Website: srv.URL},
	}}}, 5)

	summary, err := st.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, summary.Fetch.Disallowed)

	for _, p := range web.requested() {
		assert.False(t, strings.HasPrefix(p, "/menu"), "fetched disallowed path %s", p)
	}

	items := readRows(t, st.dir, tabular.ItemsFile)
	require.Len(t, items, 1)
	assert.Equal(t, "Caesar Salad", items[0][3])
	assert.Equal(t, "12", items[0][5])
	assert.Equal(t, "0.6", items[0][9])
}

func TestRunZeroBudgetFetchesNothing(t *testing.T) {
	t.Parallel()

	web := &site{pages: map[string]string{"/menu": margheritaPage}}
	srv := httptest.NewServer(web)
	t.Cleanup(srv.Close)

	st := newStack(t, []crawler.VenueSource{staticSource{name: "osm", candidates: []crawler.Candidate{
		{Name: "Cafe One", Lat: 40.71, Lon: -74.0, Website: srv.URL},
		{Name: "Cafe Two", Lat: 40.72, Lon: -73.99, Website: srv.URL},
	}}}, 0)

	start := time.Now()
	summary, err := st.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Empty(t, web.requested())
	assert.Equal(t, 2, summary.Venues)
	assert.Equal(t, 2, summary.BudgetSkips)
	assert.Zero(t, summary.VenuesTried)
	assert.Zero(t, summary.Fetch.Fetched)
	assert.Len(t, readRows(t, st.dir, tabular.RestaurantsFile), 2, "discovered venues are still stored")
	assert.Empty(t, readRows(t, st.dir, tabular.MenusFile))
}

func TestRunRejectsInvalidBoundingBox(t *testing.T) {
	t.Parallel()

	st := newStack(t, nil, 5)
	st.orch.cfg.BBox = crawler.BoundingBox{}
	_, err := st.orch.Run(context.Background())
	require.ErrorIs(t, err, crawler.ErrInvalidBoundingBox)
}

// Unit-level collaborators.

type memorySink struct {
	mu          sync.Mutex
	restaurants []crawler.Restaurant
	menus       []crawler.Menu
	items       []crawler.MenuItem
	versions    map[string]int
	failMenus   bool
}

func (m *memorySink) WriteRestaurant(_ context.Context, r crawler.Restaurant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants = append(m.restaurants, r)
	return nil
}

func (m *memorySink) WriteMenu(_ context.Context, menu crawler.Menu) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMenus {
		return errors.New("disk full")
	}
	m.menus = append(m.menus, menu)
	return nil
}

func (m *memorySink) WriteItems(_ context.Context, items []crawler.MenuItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, items...)
	return nil
}

func (m *memorySink) NextVersion(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions == nil {
		m.versions = make(map[string]int)
	}
	m.versions[id]++
	return m.versions[id]
}

type pageFinder map[string][]menuurl.Page

func (p pageFinder) Find(_ context.Context, homepage string) []menuurl.Page {
	return p[homepage]
}

type bodyParser map[string]parser.Result

func (b bodyParser) Parse(html []byte) parser.Result {
	return b[string(html)]
}

type countingGate struct {
	mu    sync.Mutex
	calls []string
	body  string
}

func (c *countingGate) Fetch(_ context.Context, rawURL string) (crawler.FetchOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, rawURL)
	return crawler.FetchOutcome{Kind: crawler.FetchContent, URL: rawURL, Body: []byte(c.body)}, nil
}

type failingRemote struct {
	mu    sync.Mutex
	calls int
}

func (f *failingRemote) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("connection refused")
}

func (f *failingRemote) UpsertRestaurant(context.Context, crawler.Restaurant) error { return f.fail() }
func (f *failingRemote) UpsertMenu(context.Context, crawler.Menu) error { return f.fail() }
func (f *failingRemote) UpsertItems(context.Context, []crawler.MenuItem) error { return f.fail() }

type flagBudget struct{ expired bool }

func (f flagBudget) Expired() bool { return f.expired }

func unitDeps(sink *memorySink, gate *countingGate, finder pageFinder, p bodyParser) Deps {
	return Deps{
		Sources: []crawler.VenueSource{staticSource{name: "osm", candidates: []crawler.Candidate{
			{Name: "Taqueria", Lat: 40.71, Lon: -74.0, Website: "https://taqueria.example"},
			{Name: "No Site Diner", Lat: 40.72, Lon: -73.99},
		}}},
		Gate:    gate,
		Finder:  finder,
		Parser:  p,
		Sink:    sink,
		Budget:  flagBudget{},
		IDs:     uuid.New(),
		Clock:   system.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func price(v float64) *float64 { return &v }

func TestRunFetchesPagesDiscoveryDidNotFetch(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	gate := &countingGate{body: "tacos"}
	finder := pageFinder{"https://taqueria.example": {
		{URL: "https://taqueria.example/menu", Outcome: &crawler.FetchOutcome{Kind: crawler.FetchContent, Body: []byte("probed")}},
		{URL: "https://taqueria.example/dinner"},
	}}
	p := bodyParser{
		"probed": {Source: crawler.SourceGeneric, Confidence: 0.6, Items: []crawler.MenuItem{
			{Name: "Al Pastor", Price: price(4), Confidence: 0.6},
			{Name: "al pastor", Price: price(4), Confidence: 0.6},
			{Name: "Gold Taco", Price: price(900), Confidence: 0.6},
		}},
	}
	orch, err := New(Config{BBox: testBBox, GlobalConcurrency: 2}, unitDeps(sink, gate, finder, p), nil)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://taqueria.example/dinner"}, gate.calls)
	assert.Equal(t, 2, summary.Restaurants)
	assert.Equal(t, 2, summary.Menus, "a content page with no items still yields a menu")
	assert.Equal(t, 2, summary.Items)

	var versions []int
	for _, m := range sink.menus {
		versions = append(versions, m.Version)
	}
	assert.Equal(t, []int{1, 1}, versions, "pages of one crawl share a version")

	byName := map[string]crawler.MenuItem{}
	for _, it := range sink.items {
		byName[it.Name] = it
	}
	require.Contains(t, byName, "Gold Taco")
	assert.Nil(t, byName["Gold Taco"].Price)
	assert.InDelta(t, 0.4, byName["Gold Taco"].Confidence, 1e-9)
	assert.NotEmpty(t, byName["Al Pastor"].ID)
}

func TestRunRecrawlBumpsVersionOnce(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	finder := pageFinder{"https://taqueria.example": {
		{URL: "https://taqueria.example/menu"},
		{URL: "https://taqueria.example/dinner"},
	}}
	for run := 1; run <= 2; run++ {
		orch, err := New(Config{BBox: testBBox}, unitDeps(sink, &countingGate{body: "tacos"}, finder, bodyParser{}), nil)
		require.NoError(t, err)
		summary, err := orch.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, summary.Menus)
	}

	byVersion := map[int]int{}
	for _, m := range sink.menus {
		byVersion[m.Version]++
	}
	assert.Equal(t, map[int]int{1: 2, 2: 2}, byVersion)
}

func TestRunSwallowsRemoteFailures(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	remote := &failingRemote{}
	deps := unitDeps(sink, &countingGate{}, pageFinder{"https://taqueria.example": {
		{URL: "https://taqueria.example/menu", Outcome: &crawler.FetchOutcome{Kind: crawler.FetchContent, Body: []byte("x")}},
	}}, bodyParser{})
	deps.Remote = remote
	pub := memorypub.New()
	pub.FailWith(errors.New("broker down"))
	deps.Publisher = pub
	orch, err := New(Config{BBox: testBBox}, deps, nil)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Menus)
	assert.Empty(t, pub.Messages())
	assert.Equal(t, 3, summary.RemoteErrors, "two restaurants and one menu")
	assert.Len(t, sink.restaurants, 2)
}

func TestRunSinkFailureIsolatedToPage(t *testing.T) {
	t.Parallel()

	sink := &memorySink{failMenus: true}
	deps := unitDeps(sink, &countingGate{}, pageFinder{"https://taqueria.example": {
		{URL: "https://taqueria.example/menu", Outcome: &crawler.FetchOutcome{Kind: crawler.FetchContent, Body: []byte("x")}},
	}}, bodyParser{})
	orch, err := New(Config{BBox: testBBox}, deps, nil)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SinkErrors)
	assert.Zero(t, summary.Menus)
}

func TestRunExpiredBudgetSkipsVenues(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	gate := &countingGate{}
	deps := unitDeps(sink, gate, pageFinder{}, bodyParser{})
	deps.Budget = flagBudget{expired: true}
	orch, err := New(Config{BBox: testBBox}, deps, nil)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.BudgetSkips)
	assert.Empty(t, gate.calls)
	assert.Len(t, sink.restaurants, 2)
}

func TestRunSourceFailureIsolated(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	deps := unitDeps(sink, &countingGate{}, pageFinder{}, bodyParser{})
	deps.Sources = append(deps.Sources, staticSource{name: "yelp", err: errors.New("401")})
	orch, err := New(Config{BBox: testBBox}, deps, nil)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Venues)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	deps := unitDeps(&memorySink{}, &countingGate{}, pageFinder{}, bodyParser{})
	deps.Sink = nil
	_, err := New(Config{BBox: testBBox}, deps, nil)
	assert.Error(t, err)
}

func TestProgressMatchesSummary(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	deps := unitDeps(sink, &countingGate{}, pageFinder{"https://taqueria.example": {
		{URL: "https://taqueria.example/menu", Outcome: &crawler.FetchOutcome{Kind: crawler.FetchContent, Body: []byte("x")}},
	}}, bodyParser{})
	orch, err := New(Config{BBox: testBBox}, deps, nil)
	require.NoError(t, err)
	assert.Zero(t, orch.Progress().Venues)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, summary, orch.Progress())
}
