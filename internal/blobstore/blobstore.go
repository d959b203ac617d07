// Package blobstore is the content-addressed tile blob store (spec.md
// §4.K): a local filesystem variant grounded on the teacher's
// internal/tile.DiskTileStore spill-to-disk write path, and an
// S3-compatible variant grounded on the pack's aws-sdk-go s3manager
// upload pattern, for R2 compatibility.
package blobstore

import (
	"context"
	"io"

	"github.com/blizztrack/scanner/internal/contenthash"
)

// Store is the capability set spec.md §4.K requires of a tile blob store.
type Store interface {
	Has(ctx context.Context, hash contenthash.ContentHash) (bool, error)
	Get(ctx context.Context, hash contenthash.ContentHash) (body io.ReadCloser, contentType string, err error)
	Save(ctx context.Context, hash contenthash.ContentHash, contentType string, body io.Reader) error
	GetAllHashes(ctx context.Context) (map[contenthash.ContentHash]struct{}, error)
}

// Key renders hash's `{xx}/{hex}` key layout (spec.md §4.K), sharding by
// the first two hex characters so a single directory never holds every
// tile.
func Key(hash contenthash.ContentHash) string {
	return hash.ShardPrefix(2) + "/" + hash.Hex()
}
