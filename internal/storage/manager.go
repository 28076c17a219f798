package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/drumscribe/api/internal/model"
)

// Manager routes reads and writes to the right backend. Writes prefer the
// remote backend when one is configured; a failed remote put falls back to
// the local backend for that single operation, and the returned locator
// records which backend holds the bytes. A job's audio and each of its
// exports may therefore independently live on either backend.
type Manager struct {
	remote Backend
	local  Backend
}

// NewManager creates a manager. remote may be nil when no object store is
// configured; everything then lands on the local backend.
func NewManager(remote Backend, local Backend) *Manager {
	return &Manager{remote: remote, local: local}
}

// RemoteConfigured reports whether an object store backend is available.
func (m *Manager) RemoteConfigured() bool { return m.remote != nil }

// Put stores bytes under key, preferring the remote backend.
func (m *Manager) Put(ctx context.Context, key string, body io.Reader, contentType string) (Locator, error) {
	if m.remote != nil {
		loc, err := m.remote.Put(ctx, key, body, contentType)
		if err == nil {
			return loc, nil
		}
		log.Printf("Remote put failed for %s, falling back to local storage: %v", key, err)

		// The reader may be partially consumed by the failed remote
		// attempt; rewind when possible.
		if seeker, ok := body.(io.Seeker); ok {
			if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
				return "", fmt.Errorf("remote put failed and body not rewindable: %w", err)
			}
		} else {
			return "", fmt.Errorf("remote put failed and body not rewindable: %w", err)
		}
	}
	return m.local.Put(ctx, key, body, contentType)
}

// GetStream opens the stored bytes through whichever backend the locator
// names.
func (m *Manager) GetStream(ctx context.Context, loc Locator) (io.ReadCloser, error) {
	return m.backendFor(loc).GetStream(ctx, loc)
}

// PresignedURL mints a temporary direct-access URL when the holding backend
// supports it; ErrPresignUnsupported tells callers to stream instead.
func (m *Manager) PresignedURL(ctx context.Context, loc Locator, ttl time.Duration) (string, error) {
	return m.backendFor(loc).PresignedURL(ctx, loc, ttl)
}

// Delete removes the stored bytes. Missing objects are not an error.
func (m *Manager) Delete(ctx context.Context, loc Locator) error {
	return m.backendFor(loc).Delete(ctx, loc)
}

func (m *Manager) backendFor(loc Locator) Backend {
	if loc.IsRemote() && m.remote != nil {
		return m.remote
	}
	return m.local
}

// AudioKey builds a collision-resistant key for an uploaded audio file:
// a UTC timestamp, a short content hash, and the original filename.
func AudioKey(ownerID, filename string, content []byte) string {
	ts := time.Now().UTC().Format("20060102_150405")
	sum := md5.Sum(append([]byte(filename), content...))
	short := hex.EncodeToString(sum[:])[:8]
	return path.Join("audio", ownerID, fmt.Sprintf("%s_%s_%s", ts, short, filename))
}

// ExportKey derives the storage key for an export artifact from the job id
// and kind alone, so a retried run overwrites its previous artifact instead
// of orphaning a timestamped duplicate.
func ExportKey(jobID string, kind model.ExportKind, suffix string) string {
	return path.Join("exports", jobID, string(kind)+suffix)
}
