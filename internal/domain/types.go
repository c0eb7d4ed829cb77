package domain

import "time"

// JobStatus tracks each lifecycle stage of a transcription job.
type JobStatus string

const (
	JobStatusPreparing    JobStatus = "preparing"
	JobStatusValidating   JobStatus = "validating"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusFormatting   JobStatus = "formatting"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
	JobStatusNotFound     JobStatus = "not_found"
)

// Terminal reports whether a status can never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	DeepgramAPIKey string `json:"deepgramApiKey"`
	Model          string `json:"model"`
	Language       string `json:"language"`
	Diarize        bool   `json:"diarize"`
	OutputDir      string `json:"outputDir"`
}

// TranscriptResult is the normalized outcome of a completed job.
type TranscriptResult struct {
	Text            string  `json:"text"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"durationSeconds"`
	ModelUsed       string  `json:"modelUsed"`
	ProviderName    string  `json:"providerName"`
	MarkdownPath    string  `json:"markdownPath,omitempty"`
}

// Job stores identity, lifecycle status, and outcome of one transcription job.
type Job struct {
	ID          string            `json:"id"`
	Status      JobStatus         `json:"status"`
	Progress    int               `json:"progress"`
	SourcePath  string            `json:"sourcePath,omitempty"`
	WorkDir     string            `json:"workDir,omitempty"`
	Result      *TranscriptResult `json:"result,omitempty"`
	ErrorDetail string            `json:"errorDetail,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
