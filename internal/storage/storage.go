// Package storage defines the interface for object storage operations.
// Swap implementations by changing the concrete type injected at startup —
// the MinIO implementation works with any S3-compatible provider.
package storage

import (
	"context"
	"io"
)

// UploadResult is the store's confirmation of a successful upload. Its
// fields are the only permitted source for a post's url and file_name.
type UploadResult struct {
	URL        string
	StoredName string
}

// ObjectStore is the interface for uploading media objects. An error
// return means the upload did not happen as far as this service is
// concerned; a nil error with a result is the sole success signal.
type ObjectStore interface {
	// Upload streams data to the store under a store-assigned unique
	// name derived from displayName. size must be the exact byte count.
	Upload(ctx context.Context, reader io.Reader, size int64, displayName, contentType string) (*UploadResult, error)
}
