package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/drumscribe/api/internal/model"
	"github.com/drumscribe/api/internal/pipeline"
	"github.com/drumscribe/api/internal/service"
	"github.com/drumscribe/api/internal/store"
)

// TranscribeWorker processes transcription pipeline tasks. The asynq server
// running it is configured with concurrency 1, so a worker holds at most one
// job at a time and acknowledges only after the executor returns.
type TranscribeWorker struct {
	executor *pipeline.Executor
	jobs     *store.Jobs
}

func NewTranscribeWorker(executor *pipeline.Executor, jobs *store.Jobs) *TranscribeWorker {
	return &TranscribeWorker{executor: executor, jobs: jobs}
}

// ProcessTask runs the pipeline for one dispatched job. Returning an error
// lets asynq redispatch the task up to its retry bound; validation failures
// are wrapped in SkipRetry because bad input never becomes good.
func (w *TranscribeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task service.TranscriptionTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	attempt := 1
	if n, ok := asynq.GetRetryCount(ctx); ok {
		attempt = n + 1
	}
	log.Printf("Starting transcription job %s (attempt %d)", task.JobID, attempt)

	if err := w.jobs.ApplyUpdate(ctx, task.JobID, model.JobUpdate{Attempts: &attempt}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Job was deleted while queued; nothing to do.
			log.Printf("Job %s no longer exists, dropping task", task.JobID)
			return nil
		}
		return err
	}

	err := w.executor.Run(ctx, task.JobID)
	if err == nil {
		log.Printf("Transcription job %s completed", task.JobID)
		return nil
	}

	if errors.Is(err, pipeline.ErrInvalidInput) {
		log.Printf("Transcription job %s rejected: %v", task.JobID, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	max, _ := asynq.GetMaxRetry(ctx)
	if n, ok := asynq.GetRetryCount(ctx); ok && n >= max {
		log.Printf("Transcription job %s failed permanently after %d attempts: %v", task.JobID, attempt, err)
	} else {
		log.Printf("Transcription job %s failed, will retry: %v", task.JobID, err)
	}
	return err
}
