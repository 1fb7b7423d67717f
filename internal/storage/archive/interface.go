// Package archive persists finished backtest results as JSON documents on the
// local filesystem or in an S3-compatible bucket.
package archive

import "context"

// Blob is a flat key/value object store. Keys use forward slashes.
// Get and Delete of a missing key return an error matching core.ErrNotFound.
type Blob interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
