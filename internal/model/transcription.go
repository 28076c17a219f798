package model

import "time"

// General MIDI percussion codes used for drum event classification.
const (
	DrumKick      = 36
	DrumSnare     = 38
	DrumClosedHat = 42
	DrumOpenHat   = 46
	DrumCrash     = 49
	DrumRide      = 51
)

// DrumEvent is one classified percussive onset in the analysis output.
// Events are ordered by onset time; simultaneous hits share an onset.
type DrumEvent struct {
	OnsetTime float64 `json:"onsetTime"`
	Pitch     int     `json:"pitch"`
	Duration  float64 `json:"duration"`
	Velocity  float64 `json:"velocity"`
}

// TranscriptionResult is the internal analysis artifact produced by the
// transcribe stage and consumed by the export stage. It is never persisted.
type TranscriptionResult struct {
	Tempo           int         `json:"tempo"`
	TimeSignature   string      `json:"timeSignature"`
	Events          []DrumEvent `json:"events"`
	ConfidenceScore float64     `json:"confidenceScore"`
}

// UploadResponse is returned when an audio file has been accepted for
// processing.
type UploadResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse is the status-boundary view of a job.
type JobStatusResponse struct {
	JobID        string     `json:"jobId"`
	Filename     string     `json:"filename"`
	Status       JobStatus  `json:"status"`
	Stage        Stage      `json:"stage,omitempty"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// JobResultResponse carries the result summary and export download paths for
// a completed job. Exports is empty until the job completes.
type JobResultResponse struct {
	JobID   string            `json:"jobId"`
	Status  JobStatus         `json:"status"`
	Result  *ResultSummary    `json:"result,omitempty"`
	Exports map[string]string `json:"exports,omitempty"`
}
