// Package archive stores gzip-compressed raw copies of fetched menu pages.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// ContentType is the content type recorded on archived objects.
const ContentType = "application/gzip"

// Archiver writes compressed page snapshots to a blob store. Object paths are
// derived from the body digest so a page archived twice lands on one object.
type Archiver struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	prefix string
	logger *zap.Logger
}

// New builds an Archiver. prefix may be empty.
func New(store crawler.BlobStore, hasher crawler.Hasher, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "raw"
	}
	return &Archiver{
		store:  store,
		hasher: hasher,
		prefix: prefix,
		logger: logger.Named("archive"),
	}
}

// Archive compresses body and returns the URI the store reported.
func (a *Archiver) Archive(ctx context.Context, rawURL string, body []byte) (string, error) {
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = rawURL
	if _, err := zw.Write(body); err != nil {
		return "", fmt.Errorf("compress body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress body: %w", err)
	}

	path := ObjectPath(a.prefix, rawURL, digest)
	uri, err := a.store.PutObject(ctx, path, ContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	a.logger.Debug("archived page",
		zap.String("url", rawURL),
		zap.String("uri", uri),
		zap.Int("raw_bytes", len(body)),
	)
	return uri, nil
}

// ObjectPath builds <prefix>/<host>/<digest>.html.gz.
func ObjectPath(prefix, rawURL, digest string) string {
	return fmt.Sprintf("%s/%s/%s.html.gz", prefix, crawler.HostKey(rawURL), digest)
}
