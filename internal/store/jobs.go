// Package store is the durable job record store, the single source of truth
// for job state shared between the API process and worker processes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/drumscribe/api/internal/model"
)

// ErrNotFound means no record exists for the job id.
var ErrNotFound = errors.New("job not found")

// Jobs stores each job record as a Redis hash, one field per record field.
// Partial updates touch only the supplied fields, giving per-field
// last-writer-wins merges with read-your-writes visibility, which is all the
// coordination the system needs since the task queue guarantees at most one
// active execution per job.
type Jobs struct {
	redis     *redis.Client
	retention time.Duration
}

// NewJobs creates a job store. retention bounds how long finished records
// are kept; zero keeps them forever.
func NewJobs(redisClient *redis.Client, retention time.Duration) *Jobs {
	return &Jobs{redis: redisClient, retention: retention}
}

func jobKey(id string) string { return "job:" + id }

// Create inserts a fresh pending record and returns its id.
func (s *Jobs) Create(ctx context.Context, ownerID, filename string, sizeBytes int64) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	fields := map[string]interface{}{
		"id":              id,
		"owner_id":        ownerID,
		"filename":        filename,
		"file_size_bytes": strconv.FormatInt(sizeBytes, 10),
		"status":          string(model.JobStatusPending),
		"progress":        "0",
		"attempts":        "0",
		"created_at":      now.Format(time.RFC3339Nano),
	}

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, jobKey(id), fields)
	if s.retention > 0 {
		pipe.Expire(ctx, jobKey(id), s.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to create job record: %w", err)
	}

	return id, nil
}

// Get loads a full job record.
func (s *Jobs) Get(ctx context.Context, id string) (*model.Job, error) {
	fields, err := s.redis.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseJob(fields)
}

// ApplyUpdate atomically merges only the fields set on the update into the
// record. Every change is visible to subsequent Get calls on this store.
func (s *Jobs) ApplyUpdate(ctx context.Context, id string, upd model.JobUpdate) error {
	fields := make(map[string]interface{})

	if upd.Status != nil {
		fields["status"] = string(*upd.Status)
	}
	if upd.Stage != nil {
		fields["stage"] = string(*upd.Stage)
	}
	if upd.Progress != nil {
		fields["progress"] = strconv.Itoa(*upd.Progress)
	}
	if upd.ErrorMessage != nil {
		fields["error_message"] = *upd.ErrorMessage
	}
	if upd.AudioReference != nil {
		fields["audio_reference"] = *upd.AudioReference
	}
	if upd.Attempts != nil {
		fields["attempts"] = strconv.Itoa(*upd.Attempts)
	}
	if upd.StartedAt != nil {
		fields["started_at"] = upd.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if upd.CompletedAt != nil {
		// A zero time clears the stamp; Get reads the empty field as unset.
		if upd.CompletedAt.IsZero() {
			fields["completed_at"] = ""
		} else {
			fields["completed_at"] = upd.CompletedAt.UTC().Format(time.RFC3339Nano)
		}
	}
	if upd.ExportReferences != nil {
		data, err := json.Marshal(upd.ExportReferences)
		if err != nil {
			return fmt.Errorf("failed to marshal export references: %w", err)
		}
		fields["export_references"] = string(data)
	}
	if upd.ExportPayloads != nil {
		data, err := json.Marshal(upd.ExportPayloads)
		if err != nil {
			return fmt.Errorf("failed to marshal export payloads: %w", err)
		}
		fields["export_payloads"] = string(data)
	}
	if upd.ResultSummary != nil {
		data, err := json.Marshal(upd.ResultSummary)
		if err != nil {
			return fmt.Errorf("failed to marshal result summary: %w", err)
		}
		fields["result_summary"] = string(data)
	}

	if len(fields) == 0 {
		return nil
	}

	exists, err := s.redis.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	return s.redis.HSet(ctx, jobKey(id), fields).Err()
}

// Delete destroys the record.
func (s *Jobs) Delete(ctx context.Context, id string) error {
	n, err := s.redis.Del(ctx, jobKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func parseJob(fields map[string]string) (*model.Job, error) {
	job := &model.Job{
		ID:           fields["id"],
		OwnerID:      fields["owner_id"],
		Filename:     fields["filename"],
		Status:       model.JobStatus(fields["status"]),
		Stage:        model.Stage(fields["stage"]),
		ErrorMessage: fields["error_message"],
	}

	job.AudioReference = fields["audio_reference"]

	if v := fields["file_size_bytes"]; v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt file_size_bytes: %w", err)
		}
		job.FileSizeBytes = size
	}
	if v := fields["progress"]; v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("corrupt progress: %w", err)
		}
		job.Progress = p
	}
	if v := fields["attempts"]; v != "" {
		a, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("corrupt attempts: %w", err)
		}
		job.Attempts = a
	}
	if v := fields["export_references"]; v != "" {
		if err := json.Unmarshal([]byte(v), &job.ExportReferences); err != nil {
			return nil, fmt.Errorf("corrupt export_references: %w", err)
		}
	}
	if v := fields["export_payloads"]; v != "" {
		if err := json.Unmarshal([]byte(v), &job.ExportPayloads); err != nil {
			return nil, fmt.Errorf("corrupt export_payloads: %w", err)
		}
	}
	if v := fields["result_summary"]; v != "" {
		var summary model.ResultSummary
		if err := json.Unmarshal([]byte(v), &summary); err != nil {
			return nil, fmt.Errorf("corrupt result_summary: %w", err)
		}
		job.ResultSummary = &summary
	}

	var err error
	if job.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, err
	}
	if v := fields["started_at"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		job.StartedAt = &t
	}
	if v := fields["completed_at"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		job.CompletedAt = &t
	}

	return job, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", v, err)
	}
	return t, nil
}
