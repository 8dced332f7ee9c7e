package storage

import (
	"context"
	"io"
)

// ObjectStorage stores generated dream images.
type ObjectStorage interface {
	// Upload writes an object under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// GetURL returns the public URL of key.
	GetURL(key string) string

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// KeyFromURL recovers the object key from a URL produced by GetURL. ok is
// false when the URL does not belong to this storage.
func KeyFromURL(s ObjectStorage, url string) (key string, ok bool) {
	prefix := s.GetURL("")
	if prefix == "" || len(url) <= len(prefix) || url[:len(prefix)] != prefix {
		return "", false
	}
	return url[len(prefix):], true
}
