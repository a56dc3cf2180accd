package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single GET and classifies the result. Implementations
// never retry.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchOutcome
}

// GatedFetcher admits a fetch through policy checks before issuing it. A
// refused fetch returns one of the skip sentinels and no network call is made.
type GatedFetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchOutcome, error)
}

// RobotsPolicy decides whether an agent may fetch a URL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string, agent string) bool
}

// VenueSource discovers candidate restaurants inside a bounding box.
type VenueSource interface {
	Name() string
	Discover(ctx context.Context, bbox BoundingBox) ([]Candidate, error)
}

// RecordSink appends durable restaurant, menu and item rows.
type RecordSink interface {
	WriteRestaurant(ctx context.Context, r Restaurant) error
	WriteMenu(ctx context.Context, m Menu) error
	WriteItems(ctx context.Context, items []MenuItem) error
	NextVersion(restaurantID string) int
}

// RemoteStore upserts records by identity into a relational store.
type RemoteStore interface {
	UpsertRestaurant(ctx context.Context, r Restaurant) error
	UpsertMenu(ctx context.Context, m Menu) error
	UpsertItems(ctx context.Context, items []MenuItem) error
}

// Archiver stores a compressed raw copy of a fetched page and returns its location.
type Archiver interface {
	Archive(ctx context.Context, rawURL string, body []byte) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Budget reports whether the run deadline has passed.
type Budget interface {
	Expired() bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
