package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Local stores objects under a root directory on the filesystem.
type Local struct {
	root string
}

// NewLocal creates a local backend rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: dir}, nil
}

func (l *Local) Put(ctx context.Context, key string, body io.Reader, contentType string) (Locator, error) {
	path := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	return LocalLocator(path), nil
}

func (l *Local) GetStream(ctx context.Context, loc Locator) (io.ReadCloser, error) {
	f, err := os.Open(loc.Key())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// PresignedURL is unsupported for filesystem storage; callers stream instead.
func (l *Local) PresignedURL(ctx context.Context, loc Locator, ttl time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

func (l *Local) Delete(ctx context.Context, loc Locator) error {
	err := os.Remove(loc.Key())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
