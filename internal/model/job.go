package model

import "time"

// JobStatus is the coarse lifecycle state of a transcription job. It only
// moves forward, except for error, which is terminal and reachable from any
// non-terminal state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusUploading  JobStatus = "uploading"
	JobStatusValidating JobStatus = "validating"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Stage is the fine-grained pipeline position, meaningful while the job
// status is "processing".
type Stage string

const (
	StageUploading         Stage = "uploading"
	StageValidating        Stage = "validating"
	StagePreprocessing     Stage = "preprocessing"
	StageSourceSeparation  Stage = "source_separation"
	StageTranscribing      Stage = "transcribing"
	StagePostProcessing    Stage = "post_processing"
	StageGeneratingExports Stage = "generating_exports"
	StageCompleted         Stage = "completed"
)

// Job represents one submitted audio file's end-to-end processing lifecycle.
// The record is the single source of truth for job state; it is mutated only
// by the submission path, the pipeline executor, and the deletion path.
type Job struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Filename      string    `json:"filename"`
	FileSizeBytes int64     `json:"fileSizeBytes"`
	Status        JobStatus `json:"status"`
	Stage         Stage     `json:"stage,omitempty"`
	Progress      int       `json:"progress"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`

	// AudioReference locates the source audio; set once by the submission
	// path and immutable after.
	AudioReference string `json:"audioReference,omitempty"`

	// ExportReferences maps export kind to the locator of the stored
	// artifact. Populated only on completion.
	ExportReferences map[string]string `json:"exportReferences,omitempty"`

	// ExportPayloads carries the persistence-encoded artifact bytes as a
	// retrieval fallback when the stored object is unreachable.
	ExportPayloads map[string]string `json:"-"`

	ResultSummary *ResultSummary `json:"resultSummary,omitempty"`

	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ResultSummary is the small structured payload kept on the record after a
// successful run. The full transcription is not persisted; only the summary
// and the generated export bytes are.
type ResultSummary struct {
	Tempo           int     `json:"tempo"`
	TimeSignature   string  `json:"timeSignature"`
	DurationSeconds float64 `json:"durationSeconds"`
	ConfidenceScore float64 `json:"confidenceScore"`
}

// JobUpdate is a partial update applied to a job record. Nil fields are left
// untouched; each set field is merged atomically with last-writer-wins
// semantics. An empty ErrorMessage clears the message and a zero CompletedAt
// clears the stamp, so a retried run can erase the previous attempt's
// failure fields.
type JobUpdate struct {
	Status           *JobStatus
	Stage            *Stage
	Progress         *int
	ErrorMessage     *string
	AudioReference   *string
	ExportReferences map[string]string
	ExportPayloads   map[string]string
	ResultSummary    *ResultSummary
	Attempts         *int
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// ProgressEvent is the transient notification published at each stage
// boundary. It is delivered best-effort and never retained. Summary is set
// only on the completion event.
type ProgressEvent struct {
	JobID     string         `json:"jobId"`
	Status    JobStatus      `json:"status"`
	Progress  int            `json:"progress"`
	Stage     Stage          `json:"stage,omitempty"`
	Message   string         `json:"message,omitempty"`
	Summary   *ResultSummary `json:"summary,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
