// Package postgres upserts harvested records into Postgres.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MinConns        int32         `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store implements crawler.RemoteStore. Every write is an upsert keyed by id.
type Store struct {
	pool execCloser
}

// New connects a pool and, when cfg.Migrate is set, applies the embedded
// schema migrations first.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if cfg.Migrate {
		if err := Migrate(cfg.DSN, logger); err != nil {
			return nil, err
		}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertRestaurant inserts or refreshes a restaurant row. created_at keeps
// its first value.
func (s *Store) UpsertRestaurant(ctx context.Context, r crawler.Restaurant) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("restaurants")
	ib.Cols("id", "name", "lat", "lon", "website", "phone", "price_level", "rating",
		"review_count", "provenance", "created_at", "updated_at")
	ib.Values(r.ID, r.Name, r.Lat, r.Lon, r.Website, r.Phone, r.PriceLevel, r.Rating,
		r.ReviewCount, r.Provenance, r.CreatedAt, r.UpdatedAt)

	query, args := ib.Build()
	query += " ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, lat = EXCLUDED.lat, lon = EXCLUDED.lon," +
		" website = EXCLUDED.website, phone = EXCLUDED.phone, price_level = EXCLUDED.price_level," +
		" rating = EXCLUDED.rating, review_count = EXCLUDED.review_count, provenance = EXCLUDED.provenance," +
		" updated_at = EXCLUDED.updated_at"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert restaurant %s: %w", r.ID, err)
	}
	return nil
}

// UpsertMenu inserts a menu row. Menus are immutable, so a conflict only
// refreshes the snapshot path.
func (s *Store) UpsertMenu(ctx context.Context, m crawler.Menu) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("menus")
	ib.Cols("id", "restaurant_id", "source_url", "crawled_at", "parser_source", "version", "snapshot_path")
	ib.Values(m.ID, m.RestaurantID, m.SourceURL, m.CrawledAt, m.ParserSource, m.Version, m.SnapshotPath)

	query, args := ib.Build()
	query += " ON CONFLICT (id) DO UPDATE SET snapshot_path = EXCLUDED.snapshot_path"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert menu %s: %w", m.ID, err)
	}
	return nil
}

// UpsertItems writes all items of a menu in one statement.
func (s *Store) UpsertItems(ctx context.Context, items []crawler.MenuItem) error {
	if len(items) == 0 {
		return nil
	}
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("menu_items")
	ib.Cols("id", "menu_id", "section", "name", "description", "price", "currency", "tags",
		"allergens", "confidence", "last_seen")
	for _, it := range items {
		ib.Values(it.ID, it.MenuID, it.Section, it.Name, it.Description, it.Price, it.Currency,
			nonNil(it.Tags), nonNil(it.Allergens), it.Confidence, it.LastSeen)
	}

	query, args := ib.Build()
	query += " ON CONFLICT (id) DO UPDATE SET price = EXCLUDED.price, confidence = EXCLUDED.confidence," +
		" tags = EXCLUDED.tags, allergens = EXCLUDED.allergens, last_seen = EXCLUDED.last_seen"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %d menu items: %w", len(items), err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
