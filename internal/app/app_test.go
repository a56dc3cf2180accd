package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/menu-harvester/internal/config"
	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/storage/tabular"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		BBox: crawler.BoundingBox{MinLat: 40.70, MinLon: -74.02, MaxLat: 40.73, MaxLon: -73.98},
		Crawler: config.CrawlerConfig{
			Concurrency:       2,
			PerHost:           1,
			ConnectTimeout:    time.Second,
			ReadTimeout:       time.Second,
			MaxPagesPerDomain: 6,
			MaxPageBytes:      1 << 20,
			RuntimeMinutes:    1,
			UserAgents:        []string{"test-agent"},
			RobotsAgent:       "MenuHarvester",
			ArchiveRaw:        true,
		},
		Output:  config.OutputConfig{Dir: t.TempDir()},
		Archive: config.ArchiveConfig{Backend: "memory", Prefix: "raw"},
	}
	return cfg
}

func TestNewAndRunWithoutSources(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	summary, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Venues)
	require.NoError(t, a.Close())

	for _, name := range []string{tabular.RestaurantsFile, tabular.MenusFile, tabular.ItemsFile} {
		_, err := os.Stat(filepath.Join(cfg.Output.Dir, name))
		assert.NoError(t, err, name)
	}
}

func TestNewServesStatus(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Metrics.Addr = "127.0.0.1:0"
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NotNil(t, a.server)
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"venues":0`)
}

func TestNewLocalArchive(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Archive.Backend = "local"
	cfg.Archive.Local.BaseDir = filepath.Join(t.TempDir(), "snapshots")
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	info, err := os.Stat(cfg.Archive.Local.BaseDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewBadPlatformsFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Parser.PlatformsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestBuildSources(t *testing.T) {
	t.Parallel()

	var d config.DiscoveryConfig
	assert.Empty(t, buildSources(d))

	d.Overpass.Enabled = true
	d.Yelp.APIKey = "key"
	sources := buildSources(d)
	require.Len(t, sources, 2)
	assert.Equal(t, "osm", sources[0].Name())
	assert.Equal(t, "yelp", sources[1].Name())
}
