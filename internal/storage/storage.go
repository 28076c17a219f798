// Package storage abstracts where audio uploads and export artifacts live.
// Everything durable is referenced by an opaque locator; callers never hold a
// direct file or object handle.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound means the locator does not resolve to stored bytes.
	ErrNotFound = errors.New("storage: object not found")

	// ErrPresignUnsupported means the backend cannot mint presigned URLs;
	// callers fall back to streaming.
	ErrPresignUnsupported = errors.New("storage: presigned URLs not supported")
)

// Locator is an opaque reference to stored bytes. The scheme prefix records
// which backend holds the object so retrieval uses the matching path.
type Locator string

const (
	schemeLocal = "local:"
	schemeS3    = "s3:"
)

// LocalLocator builds a locator for a filesystem path.
func LocalLocator(path string) Locator { return Locator(schemeLocal + path) }

// S3Locator builds a locator for an object-store key.
func S3Locator(key string) Locator { return Locator(schemeS3 + key) }

// IsRemote reports whether the locator points at the object store.
func (l Locator) IsRemote() bool { return strings.HasPrefix(string(l), schemeS3) }

// Key returns the backend-native path or key without the scheme prefix.
func (l Locator) Key() string {
	s := string(l)
	switch {
	case strings.HasPrefix(s, schemeLocal):
		return s[len(schemeLocal):]
	case strings.HasPrefix(s, schemeS3):
		return s[len(schemeS3):]
	}
	return s
}

// Backend is a single storage variant. Both variants must be safe for
// concurrent use across processes; writes always use unique or deterministic
// keys so no coordination beyond the key itself is needed.
type Backend interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (Locator, error)
	GetStream(ctx context.Context, loc Locator) (io.ReadCloser, error)
	PresignedURL(ctx context.Context, loc Locator, ttl time.Duration) (string, error)
	Delete(ctx context.Context, loc Locator) error
}
