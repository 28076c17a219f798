package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/drumscribe/api/internal/config"
	"github.com/drumscribe/api/internal/model"
	"github.com/drumscribe/api/internal/storage"
	"github.com/drumscribe/api/internal/store"
)

// TaskTypeTranscription is the asynq task type for pipeline execution.
const TaskTypeTranscription = "transcription:process"

// TranscriptionQueue is the asynq queue pipeline tasks are dispatched on.
const TranscriptionQueue = "transcription"

// ErrJobNotFound is returned for unknown jobs and for jobs owned by someone
// else, so ownership is never leaked.
var ErrJobNotFound = errors.New("job not found")

// TranscriptionTask is the dispatch unit handed to worker processes.
type TranscriptionTask struct {
	JobID          string `json:"jobId"`
	AudioReference string `json:"audioReference"`
}

// TranscriptionService owns the submission path and the status/result query
// boundary.
type TranscriptionService struct {
	jobs        *store.Jobs
	objects     *storage.Manager
	asynqClient *asynq.Client
	cfg         *config.Config
}

func NewTranscriptionService(jobs *store.Jobs, objects *storage.Manager, asynqClient *asynq.Client, cfg *config.Config) *TranscriptionService {
	return &TranscriptionService{
		jobs:        jobs,
		objects:     objects,
		asynqClient: asynqClient,
		cfg:         cfg,
	}
}

// Submit accepts an uploaded audio file: it creates the job record, stores
// the audio, and dispatches the pipeline task. This is the sole entry point
// into the pipeline.
func (s *TranscriptionService) Submit(ctx context.Context, ownerID, filename, contentType string, size int64, file io.Reader) (*model.UploadResponse, error) {
	jobID, err := s.jobs.Create(ctx, ownerID, filename, size)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.jobs.ApplyUpdate(ctx, jobID, model.JobUpdate{
		Status: ptr(model.JobStatusUploading),
	}); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	content, err := io.ReadAll(file)
	if err != nil {
		s.markFailed(ctx, jobID, "failed to read upload")
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	key := storage.AudioKey(ownerID, filename, content)
	loc, err := s.objects.Put(ctx, key, bytes.NewReader(content), contentType)
	if err != nil {
		s.markFailed(ctx, jobID, "failed to store audio")
		return nil, fmt.Errorf("failed to store audio: %w", err)
	}

	audioRef := string(loc)
	if err := s.jobs.ApplyUpdate(ctx, jobID, model.JobUpdate{
		Status:         ptr(model.JobStatusPending),
		AudioReference: &audioRef,
	}); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	if err := s.enqueue(jobID, audioRef); err != nil {
		s.markFailed(ctx, jobID, "failed to dispatch processing task")
		return nil, err
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.UploadResponse{
		JobID:     jobID,
		Status:    job.Status,
		Message:   "File uploaded successfully. Processing will begin shortly.",
		CreatedAt: job.CreatedAt,
	}, nil
}

func (s *TranscriptionService) enqueue(jobID, audioRef string) error {
	payload, err := json.Marshal(TranscriptionTask{JobID: jobID, AudioReference: audioRef})
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	task := asynq.NewTask(TaskTypeTranscription, payload)
	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue(TranscriptionQueue),
		asynq.MaxRetry(s.cfg.Pipeline.MaxRetries),
		asynq.Timeout(s.cfg.Pipeline.Timeout),
		asynq.Retention(s.cfg.Pipeline.Retention),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// GetStatus returns the status-boundary view of a job.
func (s *TranscriptionService) GetStatus(ctx context.Context, ownerID, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.getOwned(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:        job.ID,
		Filename:     job.Filename,
		Status:       job.Status,
		Stage:        job.Stage,
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}, nil
}

// GetResult returns the result summary and export download paths. Exports
// are populated only once the job has completed.
func (s *TranscriptionService) GetResult(ctx context.Context, ownerID, jobID string) (*model.JobResultResponse, error) {
	job, err := s.getOwned(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	resp := &model.JobResultResponse{
		JobID:  job.ID,
		Status: job.Status,
	}

	if job.Status != model.JobStatusCompleted {
		return resp, nil
	}

	resp.Result = job.ResultSummary
	resp.Exports = make(map[string]string, len(job.ExportReferences))
	for kind := range job.ExportReferences {
		resp.Exports[kind] = fmt.Sprintf("/api/export/%s/%s", kind, job.ID)
	}

	return resp, nil
}

// Delete destroys the job record and best-effort removes its stored audio
// and export artifacts.
func (s *TranscriptionService) Delete(ctx context.Context, ownerID, jobID string) error {
	job, err := s.getOwned(ctx, ownerID, jobID)
	if err != nil {
		return err
	}

	if job.AudioReference != "" {
		if err := s.objects.Delete(ctx, storage.Locator(job.AudioReference)); err != nil {
			log.Printf("Failed to delete audio for job %s: %v", jobID, err)
		}
	}
	for kind, ref := range job.ExportReferences {
		if err := s.objects.Delete(ctx, storage.Locator(ref)); err != nil {
			log.Printf("Failed to delete %s export for job %s: %v", kind, jobID, err)
		}
	}

	if err := s.jobs.Delete(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	return nil
}

func (s *TranscriptionService) getOwned(ctx context.Context, ownerID, jobID string) (*model.Job, error) {
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
	return job, nil
}

func (s *TranscriptionService) markFailed(ctx context.Context, jobID, msg string) {
	now := time.Now().UTC()
	if err := s.jobs.ApplyUpdate(ctx, jobID, model.JobUpdate{
		Status:       ptr(model.JobStatusError),
		ErrorMessage: &msg,
		CompletedAt:  &now,
	}); err != nil {
		log.Printf("Failed to mark job %s as failed: %v", jobID, err)
	}
}

func ptr[T any](v T) *T { return &v }
