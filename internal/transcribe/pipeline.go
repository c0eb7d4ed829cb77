package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"codexmd/internal/deepgram"
	"codexmd/internal/domain"
)

// ErrSourceNotFound is returned when the input media file does not exist.
var ErrSourceNotFound = errors.New("source media file not found")

// ErrFileTooLarge is returned when the input exceeds the provider limit.
var ErrFileTooLarge = errors.New("source media exceeds the provider size limit")

// Provider is the external transcription service, bytes in, result out.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, apiKey string, audio []byte, mimeType string, opts deepgram.Options) (deepgram.Result, error)
}

// Request contains input media and execution callbacks for one run.
type Request struct {
	JobID      string
	SourcePath string
	OutputDir  string
	APIKey     string
	Options    deepgram.Options
	OnStage    func(status domain.JobStatus, progress int)
}

// Result contains the normalized transcript and the exported document.
type Result struct {
	Transcript domain.TranscriptResult
}

// StageError is a stage-aware error carried into the job's failure state.
type StageError struct {
	Stage   domain.JobStatus `json:"stage"`
	Message string           `json:"message"`
	Err     error            `json:"-"`
}

// Error formats pipeline failures for logs and UI.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Pipeline runs validation, upload, transcription, and Markdown export.
type Pipeline struct {
	provider         Provider
	maxSourceBytes   int64
	largeSourceBytes int64
	logger           *slog.Logger
	stat             func(name string) (os.FileInfo, error)
	readFile         func(name string) ([]byte, error)
	writeFile        func(name string, data []byte, perm os.FileMode) error
	mkdirAll         func(path string, perm os.FileMode) error
	detectMime       func(path string) string
	now              func() time.Time
}

// NewPipeline constructs the production pipeline with OS dependencies.
func NewPipeline(provider Provider, maxSourceBytes, largeSourceBytes int64, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		provider:         provider,
		maxSourceBytes:   maxSourceBytes,
		largeSourceBytes: largeSourceBytes,
		logger:           logger,
		stat:             os.Stat,
		readFile:         os.ReadFile,
		writeFile:        os.WriteFile,
		mkdirAll:         os.MkdirAll,
		detectMime:       detectMimeType,
		now:              time.Now,
	}
}

// Run performs validation, provider transcription, and Markdown formatting.
// Scratch directory removal and the completed transition belong to the caller.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	emitStage(req.OnStage, domain.JobStatusValidating, 10)

	sourcePath := strings.TrimSpace(req.SourcePath)
	if sourcePath == "" {
		return Result{}, &StageError{
			Stage:   domain.JobStatusValidating,
			Message: "source media path is required",
			Err:     ErrSourceNotFound,
		}
	}

	info, err := p.stat(sourcePath)
	if err != nil {
		return Result{}, &StageError{
			Stage:   domain.JobStatusValidating,
			Message: fmt.Sprintf("cannot access source media: %s", sourcePath),
			Err:     errors.Join(ErrSourceNotFound, err),
		}
	}
	if info.Size() > p.maxSourceBytes {
		return Result{}, &StageError{
			Stage:   domain.JobStatusValidating,
			Message: fmt.Sprintf("source is %d bytes, provider limit is %d bytes", info.Size(), p.maxSourceBytes),
			Err:     ErrFileTooLarge,
		}
	}
	if info.Size() >= p.largeSourceBytes {
		p.logger.Warn("source media is large, transcription may take a while",
			slog.String("jobId", req.JobID),
			slog.Int64("sizeBytes", info.Size()))
	}

	if strings.TrimSpace(req.OutputDir) == "" {
		return Result{}, &StageError{
			Stage:   domain.JobStatusValidating,
			Message: "output directory is required",
		}
	}

	emitStage(req.OnStage, domain.JobStatusProcessing, 35)
	audio, err := p.readFile(sourcePath)
	if err != nil {
		return Result{}, &StageError{
			Stage:   domain.JobStatusProcessing,
			Message: fmt.Sprintf("failed to read source media: %s", sourcePath),
			Err:     err,
		}
	}
	mimeType := p.detectMime(sourcePath)

	emitStage(req.OnStage, domain.JobStatusTranscribing, 60)
	providerResult, err := p.provider.Transcribe(ctx, req.APIKey, audio, mimeType, req.Options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		return Result{}, &StageError{
			Stage:   domain.JobStatusTranscribing,
			Message: err.Error(),
			Err:     err,
		}
	}

	emitStage(req.OnStage, domain.JobStatusFormatting, 85)
	transcript := domain.TranscriptResult{
		Text:            strings.TrimSpace(providerResult.Transcript),
		Language:        providerResult.Language,
		DurationSeconds: providerResult.DurationSeconds,
		ModelUsed:       providerResult.Model,
		ProviderName:    p.provider.Name(),
	}

	if err := p.mkdirAll(req.OutputDir, 0o755); err != nil {
		return Result{}, &StageError{
			Stage:   domain.JobStatusFormatting,
			Message: fmt.Sprintf("cannot create output directory: %s", req.OutputDir),
			Err:     err,
		}
	}

	markdownPath := filepath.Join(req.OutputDir, markdownFileName(sourcePath))
	document := renderMarkdown(sourcePath, transcript, p.now().UTC())
	if err := p.writeFile(markdownPath, []byte(document), 0o644); err != nil {
		return Result{}, &StageError{
			Stage:   domain.JobStatusFormatting,
			Message: fmt.Sprintf("failed to write markdown document: %s", markdownPath),
			Err:     err,
		}
	}
	transcript.MarkdownPath = markdownPath

	p.logger.Info("transcript exported",
		slog.String("jobId", req.JobID),
		slog.String("markdownPath", markdownPath),
		slog.Float64("durationSeconds", transcript.DurationSeconds))
	return Result{Transcript: transcript}, nil
}

// emitStage forwards stage updates when callback is configured.
func emitStage(cb func(status domain.JobStatus, progress int), status domain.JobStatus, progress int) {
	if cb != nil {
		cb(status, progress)
	}
}

// detectMimeType sniffs the media content type, falling back to opaque bytes.
func detectMimeType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

// renderMarkdown builds the exported document with front matter metadata.
func renderMarkdown(sourcePath string, transcript domain.TranscriptResult, generatedAt time.Time) string {
	title := documentTitle(sourcePath)

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "source: %s\n", filepath.Base(sourcePath))
	fmt.Fprintf(&b, "provider: %s\n", transcript.ProviderName)
	if transcript.ModelUsed != "" {
		fmt.Fprintf(&b, "model: %s\n", transcript.ModelUsed)
	}
	if transcript.Language != "" {
		fmt.Fprintf(&b, "language: %s\n", transcript.Language)
	}
	if transcript.DurationSeconds > 0 {
		fmt.Fprintf(&b, "duration_seconds: %.2f\n", transcript.DurationSeconds)
	}
	fmt.Fprintf(&b, "generated: %s\n", generatedAt.Format(time.RFC3339))
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString(transcript.Text)
	b.WriteString("\n")
	return b.String()
}

// markdownFileName builds the output document name from the media name.
func markdownFileName(sourcePath string) string {
	return documentTitle(sourcePath) + ".md"
}

// documentTitle derives a document title from the media file name.
func documentTitle(sourcePath string) string {
	base := filepath.Base(sourcePath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "transcript"
	}
	return name
}

// NewPipelineForTests constructs a pipeline with injectable dependencies.
func NewPipelineForTests(
	provider Provider,
	maxSourceBytes int64,
	largeSourceBytes int64,
	logger *slog.Logger,
	stat func(name string) (os.FileInfo, error),
	readFile func(name string) ([]byte, error),
	writeFile func(name string, data []byte, perm os.FileMode) error,
) *Pipeline {
	p := NewPipeline(provider, maxSourceBytes, largeSourceBytes, logger)
	if stat != nil {
		p.stat = stat
	}
	if readFile != nil {
		p.readFile = readFile
	}
	if writeFile != nil {
		p.writeFile = writeFile
	}
	return p
}
