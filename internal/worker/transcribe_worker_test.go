package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/drumscribe/api/internal/bus"
	"github.com/drumscribe/api/internal/model"
	"github.com/drumscribe/api/internal/pipeline"
	"github.com/drumscribe/api/internal/storage"
	"github.com/drumscribe/api/internal/store"
)

func testWorker(t *testing.T) *TranscribeWorker {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	local, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	jobs := store.NewJobs(client, time.Hour)
	executor := pipeline.NewExecutor(jobs, storage.NewManager(nil, local), bus.NewBus(client), pipeline.Config{
		MinDuration: 5 * time.Second,
		MaxDuration: 360 * time.Second,
	})
	return NewTranscribeWorker(executor, jobs)
}

func TestProcessTaskBadPayload(t *testing.T) {
	w := testWorker(t)

	task := asynq.NewTask("transcription:process", []byte("{not json"))
	err := w.ProcessTask(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload must not be retried, got %v", err)
	}
}

func TestProcessTaskDeletedJob(t *testing.T) {
	w := testWorker(t)

	// The job referenced by the task no longer exists; the task is dropped
	// without error so the queue does not retry it.
	task := asynq.NewTask("transcription:process",
		[]byte(`{"jobId":"00000000-0000-0000-0000-000000000000","audioReference":"local:/gone"}`))
	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Errorf("deleted job should drop the task, got %v", err)
	}
}

func TestProcessTaskInvalidInputNotRetried(t *testing.T) {
	w := testWorker(t)
	ctx := context.Background()

	id, err := w.jobs.Create(ctx, "user-1", "take.wav", 10)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	t.Cleanup(func() { w.jobs.Delete(ctx, id) })

	// Audio reference points nowhere: a validation failure, permanent.
	audioRef := string(storage.LocalLocator("/nonexistent/audio.wav"))
	if err := w.jobs.ApplyUpdate(ctx, id, model.JobUpdate{AudioReference: &audioRef}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	task := asynq.NewTask("transcription:process",
		[]byte(`{"jobId":"`+id+`","audioReference":"`+audioRef+`"}`))
	err = w.ProcessTask(ctx, task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("validation failure must carry SkipRetry, got %v", err)
	}
}
