package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drumscribe/api/internal/model"
)

// testRedis connects to the local Redis on DB 15 or skips the test.
func testRedis(t *testing.T) *redis.Client {
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
	return client
}

func TestCreateAndGet(t *testing.T) {
	jobs := NewJobs(testRedis(t), time.Hour)
	ctx := context.Background()

	id, err := jobs.Create(ctx, "user-1", "take.wav", 2048)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	t.Cleanup(func() { jobs.Delete(ctx, id) })

	job, err := jobs.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if job.ID != id {
		t.Errorf("id = %s, want %s", job.ID, id)
	}
	if job.OwnerID != "user-1" || job.Filename != "take.wav" || job.FileSizeBytes != 2048 {
		t.Errorf("record fields mismatch: %+v", job)
	}
	if job.Status != model.JobStatusPending {
		t.Errorf("fresh job status = %s, want pending", job.Status)
	}
	if job.Progress != 0 || job.Attempts != 0 {
		t.Errorf("fresh job counters: progress=%d attempts=%d", job.Progress, job.Attempts)
	}
	if job.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
}

func TestGetMissing(t *testing.T) {
	jobs := NewJobs(testRedis(t), time.Hour)

	_, err := jobs.Get(context.Background(), "no-such-job")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyUpdatePartialMerge(t *testing.T) {
	jobs := NewJobs(testRedis(t), time.Hour)
	ctx := context.Background()

	id, err := jobs.Create(ctx, "user-1", "take.wav", 100)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	t.Cleanup(func() { jobs.Delete(ctx, id) })

	status := model.JobStatusProcessing
	stage := model.StageTranscribing
	progress := 60
	if err := jobs.ApplyUpdate(ctx, id, model.JobUpdate{
		Status:   &status,
		Stage:    &stage,
		Progress: &progress,
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// A second update touching only progress must not disturb the rest.
	progress2 := 70
	if err := jobs.ApplyUpdate(ctx, id, model.JobUpdate{Progress: &progress2}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	job, err := jobs.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if job.Status != model.JobStatusProcessing {
		t.Errorf("status lost in partial update: %s", job.Status)
	}
	if job.Stage != model.StageTranscribing {
		t.Errorf("stage lost in partial update: %s", job.Stage)
	}
	if job.Progress != 70 {
		t.Errorf("progress = %d, want 70", job.Progress)
	}
	if job.Filename != "take.wav" {
		t.Errorf("unrelated field lost: %s", job.Filename)
	}
}

func TestApplyUpdateStructuredFields(t *testing.T) {
	jobs := NewJobs(testRedis(t), time.Hour)
	ctx := context.Background()

	id, err := jobs.Create(ctx, "user-1", "take.wav", 100)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	t.Cleanup(func() { jobs.Delete(ctx, id) })

	now := time.Now().UTC()
	refs := map[string]string{"midi": "local:/tmp/exports/j/midi.mid"}
	summary := &model.ResultSummary{Tempo: 120, TimeSignature: "4/4", DurationSeconds: 30, ConfidenceScore: 0.8}
	if err := jobs.ApplyUpdate(ctx, id, model.JobUpdate{
		ExportReferences: refs,
		ResultSummary:    summary,
		CompletedAt:      &now,
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	job, err := jobs.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if job.ExportReferences["midi"] != refs["midi"] {
		t.Errorf("export references = %v", job.ExportReferences)
	}
	if job.ResultSummary == nil || job.ResultSummary.Tempo != 120 {
		t.Errorf("result summary = %+v", job.ResultSummary)
	}
	if job.CompletedAt == nil || !job.CompletedAt.Equal(now) {
		t.Errorf("completed_at = %v, want %v", job.CompletedAt, now)
	}
}

func TestApplyUpdateClearsFailureFields(t *testing.T) {
	jobs := NewJobs(testRedis(t), time.Hour)
	ctx := context.Background()

	id, err := jobs.Create(ctx, "user-1", "take.wav", 100)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	t.Cleanup(func() { jobs.Delete(ctx, id) })

	errStatus := model.JobStatusError
	msg := "source separation failed"
	failedAt := time.Now().UTC()
	if err := jobs.ApplyUpdate(ctx, id, model.JobUpdate{
		Status:       &errStatus,
		ErrorMessage: &msg,
		CompletedAt:  &failedAt,
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// A retry re-entering processing erases the failure fields.
	processing := model.JobStatusProcessing
	empty := ""
	if err := jobs.ApplyUpdate(ctx, id, model.JobUpdate{
		Status:       &processing,
		ErrorMessage: &empty,
		CompletedAt:  &time.Time{},
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	job, err := jobs.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if job.Status != model.JobStatusProcessing {
		t.Errorf("status = %s, want processing", job.Status)
	}
	if job.ErrorMessage != "" {
		t.Errorf("error message not cleared: %q", job.ErrorMessage)
	}
	if job.CompletedAt != nil {
		t.Errorf("completed_at not cleared: %v", job.CompletedAt)
	}
}

func TestApplyUpdateMissingJob(t *testing.T) {
	jobs := NewJobs(testRedis(t), time.Hour)

	progress := 10
	err := jobs.ApplyUpdate(context.Background(), "no-such-job", model.JobUpdate{Progress: &progress})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	jobs := NewJobs(testRedis(t), time.Hour)
	ctx := context.Background()

	id, err := jobs.Create(ctx, "user-1", "take.wav", 100)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := jobs.Delete(ctx, id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := jobs.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted job still readable: %v", err)
	}
	if err := jobs.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete should report ErrNotFound, got %v", err)
	}
}
