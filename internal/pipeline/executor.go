// Package pipeline runs the ordered analysis stages for one transcription
// job. The executor owns sequencing, progress bookkeeping, and error
// interception; the analysis itself lives behind the Separator and
// Transcriber collaborators.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/drumscribe/api/internal/codec"
	"github.com/drumscribe/api/internal/model"
	"github.com/drumscribe/api/internal/storage"
)

// ErrInvalidInput marks a validation failure: bad input rather than a
// transient fault, so the job must not be retried.
var ErrInvalidInput = errors.New("invalid audio input")

// JobStore is the slice of the job record store the executor mutates.
type JobStore interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	ApplyUpdate(ctx context.Context, id string, upd model.JobUpdate) error
}

// Publisher is the fire-and-forget progress broadcast channel.
type Publisher interface {
	Publish(ctx context.Context, ev model.ProgressEvent)
}

// ObjectStore is the slice of the storage layer the executor needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (storage.Locator, error)
	GetStream(ctx context.Context, loc storage.Locator) (io.ReadCloser, error)
}

// Config bounds what the validate stage accepts.
type Config struct {
	MinDuration time.Duration
	MaxDuration time.Duration
}

// Fixed progress checkpoint per stage; monotonic, reaching 100 exactly at
// completion.
const (
	checkpointValidating       = 10
	checkpointPreprocessing    = 20
	checkpointSourceSeparation = 40
	checkpointTranscribing     = 60
	checkpointPostProcessing   = 70
	checkpointExports          = 80
	checkpointCompleted        = 100
)

// Executor drives one job through the stage sequence. A single executor is
// safe for sequential reuse; the task queue guarantees it never runs the
// same job concurrently.
type Executor struct {
	store       JobStore
	objects     ObjectStore
	bus         Publisher
	separator   Separator
	transcriber Transcriber
	renderers   map[model.ExportKind]Renderer
	cfg         Config
}

// NewExecutor wires an executor with the default pass-through separator and
// pattern transcriber.
func NewExecutor(store JobStore, objects ObjectStore, bus Publisher, cfg Config) *Executor {
	return &Executor{
		store:       store,
		objects:     objects,
		bus:         bus,
		separator:   PassThroughSeparator{},
		transcriber: PatternTranscriber{},
		renderers:   defaultRenderers(),
		cfg:         cfg,
	}
}

// WithSeparator swaps the source-separation collaborator.
func (e *Executor) WithSeparator(s Separator) *Executor {
	e.separator = s
	return e
}

// WithTranscriber swaps the transcription collaborator.
func (e *Executor) WithTranscriber(t Transcriber) *Executor {
	e.transcriber = t
	return e
}

// WithRenderer replaces the renderer for one export kind.
func (e *Executor) WithRenderer(kind model.ExportKind, r Renderer) *Executor {
	e.renderers[kind] = r
	return e
}

// Run executes every stage for the job. On failure the record is left in a
// well-formed terminal state (status error, message recorded) and the error
// is returned so the queue can decide on a retry; ErrInvalidInput failures
// must not be retried.
func (e *Executor) Run(ctx context.Context, jobID string) error {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.AudioReference == "" {
		return e.fail(ctx, jobID, fmt.Errorf("%w: job has no audio reference", ErrInvalidInput))
	}

	// Stage: validating. First transition into processing stamps started_at.
	// The empty error message and zero completion time erase a previous
	// attempt's failure fields, so readers never see them next to a
	// non-error status.
	upd := model.JobUpdate{
		Status:       ptr(model.JobStatusProcessing),
		Stage:        ptr(model.StageValidating),
		Progress:     ptr(checkpointValidating),
		ErrorMessage: ptr(""),
		CompletedAt:  &time.Time{},
	}
	if job.StartedAt == nil {
		now := time.Now().UTC()
		upd.StartedAt = &now
	}
	if err := e.advance(ctx, jobID, upd); err != nil {
		return err
	}

	audio, duration, err := e.validate(ctx, job)
	if err != nil {
		return e.fail(ctx, jobID, err)
	}

	// Stage: preprocessing.
	if err := e.checkpoint(ctx, jobID, model.StagePreprocessing, checkpointPreprocessing); err != nil {
		return err
	}

	// Stage: source separation.
	if err := e.checkpoint(ctx, jobID, model.StageSourceSeparation, checkpointSourceSeparation); err != nil {
		return err
	}
	separated, err := e.separator.Separate(ctx, audio)
	if err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("source separation failed: %w", err))
	}

	// Stage: transcribing.
	if err := e.checkpoint(ctx, jobID, model.StageTranscribing, checkpointTranscribing); err != nil {
		return err
	}
	result, err := e.transcriber.Transcribe(ctx, separated, duration)
	if err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("transcription failed: %w", err))
	}

	// Stage: post-processing.
	if err := e.checkpoint(ctx, jobID, model.StagePostProcessing, checkpointPostProcessing); err != nil {
		return err
	}
	result = postProcess(result)

	// Stage: generating exports. Individual renderer failures degrade to
	// placeholders inside renderArtifacts and never abort the job.
	if err := e.checkpoint(ctx, jobID, model.StageGeneratingExports, checkpointExports); err != nil {
		return err
	}
	artifacts := renderArtifacts(e.renderers, job.Filename, result)

	refs, payloads, err := e.persistArtifacts(ctx, job, artifacts)
	if err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("failed to persist exports: %w", err))
	}

	summary := &model.ResultSummary{
		Tempo:           result.Tempo,
		TimeSignature:   result.TimeSignature,
		DurationSeconds: duration,
		ConfidenceScore: result.ConfidenceScore,
	}

	now := time.Now().UTC()
	complete := model.JobUpdate{
		Status:           ptr(model.JobStatusCompleted),
		Stage:            ptr(model.StageCompleted),
		Progress:         ptr(checkpointCompleted),
		ExportReferences: refs,
		ExportPayloads:   payloads,
		ResultSummary:    summary,
		CompletedAt:      &now,
	}
	if err := e.store.ApplyUpdate(ctx, jobID, complete); err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("failed to record completion: %w", err))
	}

	e.bus.Publish(ctx, model.ProgressEvent{
		JobID:    jobID,
		Status:   model.JobStatusCompleted,
		Progress: checkpointCompleted,
		Stage:    model.StageCompleted,
		Summary:  summary,
	})

	return nil
}

// validate opens the audio, rejects unreadable payloads, and enforces the
// configured duration bounds. Its failures are never retryable.
func (e *Executor) validate(ctx context.Context, job *model.Job) ([]byte, float64, error) {
	stream, err := e.objects.GetStream(ctx, storage.Locator(job.AudioReference))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, fmt.Errorf("%w: audio not found at %s", ErrInvalidInput, job.AudioReference)
		}
		// Storage unreachable is transient, not bad input.
		return nil, 0, fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	audio, err := io.ReadAll(stream)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read audio stream: %w", err)
	}

	duration, err := probeDuration(job.Filename, audio)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: unreadable audio: %v", ErrInvalidInput, err)
	}

	min := e.cfg.MinDuration.Seconds()
	max := e.cfg.MaxDuration.Seconds()
	if duration < min || duration > max {
		return nil, 0, fmt.Errorf("%w: audio duration %.1fs outside allowed range [%.0fs, %.0fs]",
			ErrInvalidInput, duration, min, max)
	}

	return audio, duration, nil
}

// persistArtifacts stores each artifact under a key derived from the job id
// and kind, so a retried run overwrites rather than orphaning duplicates,
// and encodes every payload for the record-store fallback.
func (e *Executor) persistArtifacts(ctx context.Context, job *model.Job, artifacts []model.Artifact) (map[string]string, map[string]string, error) {
	refs := make(map[string]string, len(artifacts))
	payloads := make(map[string]string, len(artifacts))

	for _, a := range artifacts {
		key := storage.ExportKey(job.ID, a.Kind, codec.FileSuffix(a.Kind, a.Degraded))
		loc, err := e.objects.Put(ctx, key, bytes.NewReader(a.Data), a.ContentType)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to store %s export: %w", a.Kind, err)
		}
		refs[string(a.Kind)] = string(loc)
		payloads[string(a.Kind)] = codec.EncodePayload(a.Data)
	}

	return refs, payloads, nil
}

// checkpoint records the stage transition and broadcasts it before the stage
// body runs.
func (e *Executor) checkpoint(ctx context.Context, jobID string, stage model.Stage, progress int) error {
	return e.advance(ctx, jobID, model.JobUpdate{
		Stage:    ptr(stage),
		Progress: ptr(progress),
	})
}

func (e *Executor) advance(ctx context.Context, jobID string, upd model.JobUpdate) error {
	if err := e.store.ApplyUpdate(ctx, jobID, upd); err != nil {
		return fmt.Errorf("failed to advance job %s: %w", jobID, err)
	}

	ev := model.ProgressEvent{
		JobID:  jobID,
		Status: model.JobStatusProcessing,
	}
	if upd.Stage != nil {
		ev.Stage = *upd.Stage
	}
	if upd.Progress != nil {
		ev.Progress = *upd.Progress
	}
	e.bus.Publish(ctx, ev)

	return nil
}

// fail leaves the record in a well-formed terminal error state: status
// error, message recorded, stage cleared, completion stamped. The original
// failure is returned for the queue's retry decision.
func (e *Executor) fail(ctx context.Context, jobID string, cause error) error {
	now := time.Now().UTC()
	msg := cause.Error()
	upd := model.JobUpdate{
		Status:       ptr(model.JobStatusError),
		Stage:        ptr(model.Stage("")),
		ErrorMessage: &msg,
		CompletedAt:  &now,
	}
	if err := e.store.ApplyUpdate(ctx, jobID, upd); err != nil {
		log.Printf("Failed to record failure for job %s: %v", jobID, err)
	}

	e.bus.Publish(ctx, model.ProgressEvent{
		JobID:   jobID,
		Status:  model.JobStatusError,
		Message: msg,
	})

	return cause
}

func ptr[T any](v T) *T { return &v }
