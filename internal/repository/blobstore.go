package repository

import "context"

// BlobStore is the object storage holding product images.
type BlobStore interface {
	// Put writes data at path, replacing any previous object.
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// URL returns the durable download URL for path.
	URL(ctx context.Context, path string) (string, error)
	// Remove deletes the object at path; a missing object is not an error.
	Remove(ctx context.Context, path string) error
}
