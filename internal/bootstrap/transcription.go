package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"codexmd/internal/config"
	"codexmd/internal/deepgram"
	"codexmd/internal/domain"
	"codexmd/internal/jobs"
	"codexmd/internal/scratch"
	"codexmd/internal/transcribe"
)

// StartTranscriptionRequest selects the input media and per-job overrides.
// Empty override fields fall back to persisted settings.
type StartTranscriptionRequest struct {
	SourcePath string `json:"sourcePath"`
	OutputDir  string `json:"outputDir"`
	Model      string `json:"model"`
	Language   string `json:"language"`
	Diarize    *bool  `json:"diarize"`
}

// CancelTranscriptionResponse acknowledges a cancellation request.
type CancelTranscriptionResponse struct {
	Success   bool `json:"success"`
	Cancelled bool `json:"cancelled"`
}

// StartTranscription registers a new job and runs the pipeline asynchronously.
func (a *App) StartTranscription(req StartTranscriptionRequest) (domain.Job, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Job{}, fmt.Errorf("load settings: %w", err)
	}

	apiKey := strings.TrimSpace(settings.DeepgramAPIKey)
	if apiKey == "" {
		return domain.Job{}, fmt.Errorf("cannot start transcription: %w", config.ErrNoCredential)
	}

	sourcePath := strings.TrimSpace(req.SourcePath)
	if sourcePath == "" {
		return domain.Job{}, fmt.Errorf("source media path is required")
	}

	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		outputDir = settings.OutputDir
	}

	workDir, err := scratch.CreateTemp("codexmd-job-*")
	if err != nil {
		return domain.Job{}, err
	}

	job := a.Jobs.Create(sourcePath, workDir.Path())

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.jobCancels[job.ID] = cancel
	a.mu.Unlock()

	a.publishJobStatus(job.ID, domain.JobStatusPreparing, 0, "Job accepted")
	a.logger.Info("transcription job started",
		slog.String("jobId", job.ID),
		slog.String("sourcePath", sourcePath))

	pipelineReq := transcribe.Request{
		JobID:      job.ID,
		SourcePath: sourcePath,
		OutputDir:  outputDir,
		APIKey:     apiKey,
		Options:    resolveOptions(req, settings),
		OnStage: func(status domain.JobStatus, progress int) {
			if err := a.Jobs.Advance(job.ID, status, progress); err != nil {
				return
			}
			a.publishJobStatus(job.ID, status, progress, "")
		},
	}

	go a.runTranscriptionJob(ctx, job.ID, pipelineReq, workDir)

	return job, nil
}

// GetTranscriptionStatus returns a snapshot of one job. Unknown ids get a
// not_found status instead of an error so polling stays a plain data call.
func (a *App) GetTranscriptionStatus(jobID string) domain.Job {
	job, ok := a.Jobs.Snapshot(jobID)
	if !ok {
		return domain.Job{ID: jobID, Status: domain.JobStatusNotFound}
	}
	return job
}

// CancelTranscription stops a running job and removes its scratch directory.
// Cancelling an unknown or finished job still reports success.
func (a *App) CancelTranscription(jobID string) CancelTranscriptionResponse {
	a.mu.Lock()
	cancel := a.jobCancels[jobID]
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	workDir, cancelled := a.Jobs.Cancel(jobID)
	if cancelled {
		if err := scratch.Open(workDir).Remove(); err != nil {
			a.logger.Warn("could not remove job scratch directory",
				slog.String("jobId", jobID), slog.String("error", err.Error()))
		}
		a.publishJobStatus(jobID, domain.JobStatusCancelled, 0, "Job cancelled")
		a.logger.Info("transcription job cancelled", slog.String("jobId", jobID))
	}

	return CancelTranscriptionResponse{Success: true, Cancelled: cancelled}
}

// runTranscriptionJob drives one pipeline run to a terminal job status.
func (a *App) runTranscriptionJob(ctx context.Context, jobID string, req transcribe.Request, workDir scratch.Dir) {
	defer func() {
		a.mu.Lock()
		delete(a.jobCancels, jobID)
		a.mu.Unlock()
	}()

	result, err := a.Pipeline.Run(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// CancelTranscription already settled the job record and removed
			// the scratch directory.
			return
		}

		_ = workDir.Remove()
		if failErr := a.Jobs.Fail(jobID, err.Error()); failErr != nil {
			// The job was cancelled while the pipeline was failing; the
			// result of the race does not matter.
			return
		}
		a.publishEvent(jobs.Event{
			JobID:   jobID,
			Type:    jobs.EventTypeError,
			Status:  domain.JobStatusFailed,
			Message: err.Error(),
		})
		a.logger.Error("transcription job failed",
			slog.String("jobId", jobID), slog.String("error", err.Error()))
		return
	}

	_ = workDir.Remove()
	if err := a.Jobs.Complete(jobID, result.Transcript); err != nil {
		// Cancelled at the finish line; discard the result quietly.
		return
	}
	a.publishEvent(jobs.Event{
		JobID:        jobID,
		Type:         jobs.EventTypeResult,
		Status:       domain.JobStatusCompleted,
		Progress:     100,
		Message:      "Transcription completed",
		MarkdownPath: result.Transcript.MarkdownPath,
	})
}

// resolveOptions merges per-job overrides over persisted defaults.
func resolveOptions(req StartTranscriptionRequest, settings domain.Settings) deepgram.Options {
	opts := deepgram.Options{
		Model:    strings.TrimSpace(req.Model),
		Language: strings.TrimSpace(req.Language),
		Diarize:  settings.Diarize,
	}
	if opts.Model == "" {
		opts.Model = settings.Model
	}
	if opts.Model == "" {
		opts.Model = config.DefaultModel
	}
	if opts.Language == "" {
		opts.Language = settings.Language
	}
	if opts.Language == "" {
		opts.Language = "auto"
	}
	if req.Diarize != nil {
		opts.Diarize = *req.Diarize
	}
	return opts
}
