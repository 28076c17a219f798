package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/drumscribe/api/internal/codec"
	"github.com/drumscribe/api/internal/config"
	"github.com/drumscribe/api/internal/model"
	"github.com/drumscribe/api/internal/storage"
	"github.com/drumscribe/api/internal/store"
)

// ErrExportNotFound means the job has no artifact of the requested kind.
var ErrExportNotFound = errors.New("export not found")

// ErrJobNotCompleted means exports are not yet available for the job.
var ErrJobNotCompleted = errors.New("job not completed")

// ExportResolution is one resolved download. Exactly one of RedirectURL,
// Stream, or Data is set, in order of preference: presigned redirect, direct
// byte stream, bytes decoded from the persisted record.
type ExportResolution struct {
	RedirectURL string
	Stream      io.ReadCloser
	Data        []byte
	ContentType string
	Filename    string
}

// ExportService is the export retrieval boundary.
type ExportService struct {
	jobs    *store.Jobs
	objects *storage.Manager
	cfg     *config.Config
}

func NewExportService(jobs *store.Jobs, objects *storage.Manager, cfg *config.Config) *ExportService {
	return &ExportService{jobs: jobs, objects: objects, cfg: cfg}
}

// Resolve locates the export artifact for a completed job, preferring a
// presigned URL, then direct streaming, then the encoded payload persisted
// on the record.
func (s *ExportService) Resolve(ctx context.Context, ownerID, jobID string, kind model.ExportKind) (*ExportResolution, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrJobNotFound
	}
	if job.Status != model.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}

	ref, haveRef := job.ExportReferences[string(kind)]
	stored, havePayload := job.ExportPayloads[string(kind)]
	if !haveRef && !havePayload {
		return nil, ErrExportNotFound
	}

	if haveRef {
		loc := storage.Locator(ref)
		degraded := strings.HasSuffix(loc.Key(), ".txt")

		res := &ExportResolution{
			ContentType: contentTypeFor(kind, degraded),
			Filename:    job.Filename + codec.FileSuffix(kind, degraded),
		}

		url, err := s.objects.PresignedURL(ctx, loc, s.cfg.Storage.PresignTTL)
		if err == nil {
			res.RedirectURL = url
			return res, nil
		}
		if !errors.Is(err, storage.ErrPresignUnsupported) {
			log.Printf("Presign failed for job %s %s export, streaming instead: %v", jobID, kind, err)
		}

		stream, err := s.objects.GetStream(ctx, loc)
		if err == nil {
			res.Stream = stream
			return res, nil
		}
		log.Printf("Stream failed for job %s %s export, using persisted payload: %v", jobID, kind, err)
	}

	if !havePayload {
		return nil, ErrExportNotFound
	}

	// Last resort: decode the payload embedded in the job record. Legacy
	// records hold raw text here instead of encoded bytes. When a locator
	// exists its suffix is authoritative for degraded-ness; otherwise the
	// decode path decides.
	data, binary := codec.DecodePayload(stored)
	degraded := !binary
	if haveRef {
		degraded = strings.HasSuffix(storage.Locator(ref).Key(), ".txt")
	}
	return &ExportResolution{
		Data:        data,
		ContentType: contentTypeFor(kind, degraded),
		Filename:    job.Filename + codec.FileSuffix(kind, degraded),
	}, nil
}

func contentTypeFor(kind model.ExportKind, degraded bool) string {
	if degraded {
		return codec.FallbackContentType
	}
	return codec.ContentType(kind)
}

// ContentDisposition builds the attachment header value for a resolved
// download.
func (r *ExportResolution) ContentDisposition() string {
	return fmt.Sprintf("attachment; filename=%q", r.Filename)
}
