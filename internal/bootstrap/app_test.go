package bootstrap

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codexmd/internal/config"
	"codexmd/internal/diagnostics"
	"codexmd/internal/domain"
	"codexmd/internal/jobs"
	"codexmd/internal/safepath"
	"codexmd/internal/transcribe"
	"codexmd/internal/transfer"
)

// fakeStore keeps settings in memory for binding tests.
type fakeStore struct {
	settings domain.Settings
	loadErr  error
	saveErr  error
}

// Load returns the stored settings or the injected failure.
func (f *fakeStore) Load() (domain.Settings, error) {
	if f.loadErr != nil {
		return domain.Settings{}, f.loadErr
	}
	return f.settings, nil
}

// Save records the settings or returns the injected failure.
func (f *fakeStore) Save(settings domain.Settings) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.settings = settings
	return nil
}

// fakePipeline runs injected behavior instead of calling a provider.
type fakePipeline struct {
	run func(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// Run delegates to the injected function.
func (f *fakePipeline) Run(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	if f.run == nil {
		return transcribe.Result{}, nil
	}
	return f.run(ctx, req)
}

// newTestApp wires an App around fakes and a temp-dir path validator.
func newTestApp(t *testing.T, root string, store config.Store, pipeline pipelineRunner) *App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := safepath.NewValidator(root)
	runtime := config.Runtime{
		ChunkSizeBytes:   8,
		MaxSourceBytes:   1 << 30,
		LargeSourceBytes: 1 << 20,
		SweepInterval:    time.Minute,
		TransferMaxIdle:  time.Minute,
		JobGracePeriod:   time.Minute,
		JobMaxIdle:       time.Minute,
	}

	return &App{
		Store:      store,
		Runtime:    runtime,
		Transfers:  transfer.NewCoordinator(validator, runtime.ChunkSizeBytes, logger),
		Jobs:       jobs.NewTracker(),
		Pipeline:   pipeline,
		checker:    diagnostics.NewChecker(),
		logger:     logger,
		events:     jobs.NewEventBus(100),
		jobCancels: make(map[string]context.CancelFunc),
	}
}

// waitForStatus polls until the job reaches the wanted status or times out.
func waitForStatus(t *testing.T, app *App, jobID string, want domain.JobStatus) domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job := app.GetTranscriptionStatus(jobID)
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return domain.Job{}
}

// TestTransferEnvelopeRoundTrip drives a whole transfer through bindings.
func TestTransferEnvelopeRoundTrip(t *testing.T) {
	root := t.TempDir()
	app := newTestApp(t, root, &fakeStore{}, &fakePipeline{})
	destination := filepath.Join(root, "upload.bin")

	initResp := app.InitLargeFileTransfer(transfer.InitRequest{
		DestinationPath: destination,
		FileName:        "upload.bin",
		DeclaredSize:    16,
		ChunkSizeBytes:  8,
	})
	if !initResp.Success {
		t.Fatalf("init failed: %s", initResp.Error)
	}
	if initResp.TotalChunks != 2 {
		t.Fatalf("totalChunks = %d, want 2", initResp.TotalChunks)
	}

	for i, payload := range []string{"aaaaaaaa", "bbbbbbbb"} {
		chunkResp := app.TransferFileChunk(transfer.ChunkRequest{
			TransferID: initResp.TransferID,
			ChunkIndex: i,
			Data:       base64.StdEncoding.EncodeToString([]byte(payload)),
			SizeBytes:  int64(len(payload)),
		})
		if !chunkResp.Success {
			t.Fatalf("chunk %d failed: %s", i, chunkResp.Error)
		}
	}

	finalResp := app.FinalizeLargeFileTransfer(initResp.TransferID)
	if !finalResp.Success {
		t.Fatalf("finalize failed: %s", finalResp.Error)
	}
	if finalResp.FinalPath != destination {
		t.Fatalf("final path = %s, want %s", finalResp.FinalPath, destination)
	}

	content, err := os.ReadFile(destination)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(content) != "aaaaaaaabbbbbbbb" {
		t.Fatalf("content = %q", content)
	}

	events := app.JobEvents(0)
	if len(events) != 1 || events[0].Type != jobs.EventTypeTransfer {
		t.Fatalf("events = %+v, want one transfer event", events)
	}
}

// TestInitLargeFileTransferRejectsOutsideRoot keeps errors in the envelope.
func TestInitLargeFileTransferRejectsOutsideRoot(t *testing.T) {
	app := newTestApp(t, t.TempDir(), &fakeStore{}, &fakePipeline{})

	resp := app.InitLargeFileTransfer(transfer.InitRequest{
		DestinationPath: "/etc/upload.bin",
		FileName:        "upload.bin",
		DeclaredSize:    16,
	})
	if resp.Success {
		t.Fatal("expected envelope failure")
	}
	if resp.Error == "" {
		t.Fatal("expected error message in envelope")
	}
}

// TestStartTranscriptionRequiresCredential rejects jobs without an API key.
func TestStartTranscriptionRequiresCredential(t *testing.T) {
	app := newTestApp(t, t.TempDir(), &fakeStore{}, &fakePipeline{})

	_, err := app.StartTranscription(StartTranscriptionRequest{SourcePath: "/tmp/a.wav"})
	if !errors.Is(err, config.ErrNoCredential) {
		t.Fatalf("error = %v, want ErrNoCredential", err)
	}
}

// TestStartTranscriptionRunsToCompletion checks the async happy path.
func TestStartTranscriptionRunsToCompletion(t *testing.T) {
	root := t.TempDir()
	store := &fakeStore{settings: domain.Settings{
		DeepgramAPIKey: "dg-key",
		Model:          "nova-2",
		Language:       "auto",
		OutputDir:      filepath.Join(root, "out"),
	}}

	var gotReq transcribe.Request
	pipeline := &fakePipeline{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
			gotReq = req
			req.OnStage(domain.JobStatusValidating, 10)
			req.OnStage(domain.JobStatusTranscribing, 60)
			return transcribe.Result{Transcript: domain.TranscriptResult{
				Text:         "hello",
				MarkdownPath: filepath.Join(root, "out", "a.md"),
			}}, nil
		},
	}

	app := newTestApp(t, root, store, pipeline)
	job, err := app.StartTranscription(StartTranscriptionRequest{SourcePath: filepath.Join(root, "a.wav")})
	if err != nil {
		t.Fatalf("StartTranscription() error = %v", err)
	}
	if job.Status != domain.JobStatusPreparing {
		t.Fatalf("initial status = %s, want preparing", job.Status)
	}

	done := waitForStatus(t, app, job.ID, domain.JobStatusCompleted)
	if done.Progress != 100 {
		t.Fatalf("progress = %d, want 100", done.Progress)
	}
	if done.Result == nil || done.Result.Text != "hello" {
		t.Fatalf("result = %+v", done.Result)
	}

	if gotReq.APIKey != "dg-key" {
		t.Fatalf("pipeline api key = %q", gotReq.APIKey)
	}
	if gotReq.Options.Model != "nova-2" {
		t.Fatalf("pipeline model = %q", gotReq.Options.Model)
	}

	var sawResult bool
	for _, event := range app.JobEvents(0) {
		if event.Type == jobs.EventTypeResult && event.JobID == job.ID {
			sawResult = true
			if event.MarkdownPath == "" {
				t.Fatal("result event missing markdown path")
			}
		}
	}
	if !sawResult {
		t.Fatalf("no result event published: %+v", app.JobEvents(0))
	}
}

// TestStartTranscriptionFailurePublishesError checks the failing path.
func TestStartTranscriptionFailurePublishesError(t *testing.T) {
	root := t.TempDir()
	store := &fakeStore{settings: domain.Settings{DeepgramAPIKey: "dg-key", OutputDir: root}}
	pipeline := &fakePipeline{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
			return transcribe.Result{}, errors.New("provider exploded")
		},
	}

	app := newTestApp(t, root, store, pipeline)
	job, err := app.StartTranscription(StartTranscriptionRequest{SourcePath: filepath.Join(root, "a.wav")})
	if err != nil {
		t.Fatalf("StartTranscription() error = %v", err)
	}

	failed := waitForStatus(t, app, job.ID, domain.JobStatusFailed)
	if failed.ErrorDetail != "provider exploded" {
		t.Fatalf("error detail = %q", failed.ErrorDetail)
	}

	var sawError bool
	for _, event := range app.JobEvents(0) {
		if event.Type == jobs.EventTypeError && event.JobID == job.ID {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("no error event published")
	}
}

// TestCancelTranscription stops a blocked job and stays idempotent.
func TestCancelTranscription(t *testing.T) {
	root := t.TempDir()
	store := &fakeStore{settings: domain.Settings{DeepgramAPIKey: "dg-key", OutputDir: root}}
	started := make(chan struct{})
	pipeline := &fakePipeline{
		run: func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
			close(started)
			<-ctx.Done()
			return transcribe.Result{}, ctx.Err()
		},
	}

	app := newTestApp(t, root, store, pipeline)
	job, err := app.StartTranscription(StartTranscriptionRequest{SourcePath: filepath.Join(root, "a.wav")})
	if err != nil {
		t.Fatalf("StartTranscription() error = %v", err)
	}
	<-started

	resp := app.CancelTranscription(job.ID)
	if !resp.Success || !resp.Cancelled {
		t.Fatalf("cancel response = %+v", resp)
	}

	snapshot := app.GetTranscriptionStatus(job.ID)
	if snapshot.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", snapshot.Status)
	}

	again := app.CancelTranscription(job.ID)
	if !again.Success || again.Cancelled {
		t.Fatalf("second cancel = %+v, want success without effect", again)
	}

	unknown := app.CancelTranscription("missing")
	if !unknown.Success || unknown.Cancelled {
		t.Fatalf("unknown cancel = %+v, want success without effect", unknown)
	}
}

// TestGetTranscriptionStatusUnknown returns a not_found snapshot.
func TestGetTranscriptionStatusUnknown(t *testing.T) {
	app := newTestApp(t, t.TempDir(), &fakeStore{}, &fakePipeline{})

	job := app.GetTranscriptionStatus("missing")
	if job.ID != "missing" || job.Status != domain.JobStatusNotFound {
		t.Fatalf("job = %+v, want not_found", job)
	}
}

// TestSaveSettingsNormalizes applies trimming and defaults.
func TestSaveSettingsNormalizes(t *testing.T) {
	app := newTestApp(t, t.TempDir(), &fakeStore{}, &fakePipeline{})

	saved, err := app.SaveSettings(domain.Settings{
		DeepgramAPIKey: "  dg-key  ",
		Model:          "",
		Language:       "  ",
		OutputDir:      " /tmp/out ",
	})
	if err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	if saved.DeepgramAPIKey != "dg-key" {
		t.Fatalf("api key = %q", saved.DeepgramAPIKey)
	}
	if saved.Model != config.DefaultModel {
		t.Fatalf("model = %q, want default", saved.Model)
	}
	if saved.Language != "auto" {
		t.Fatalf("language = %q, want auto", saved.Language)
	}
	if saved.OutputDir != "/tmp/out" {
		t.Fatalf("output dir = %q", saved.OutputDir)
	}
}

// TestGetTranscriptionModels flags the configured default model.
func TestGetTranscriptionModels(t *testing.T) {
	app := newTestApp(t, t.TempDir(), &fakeStore{}, &fakePipeline{})

	models := app.GetTranscriptionModels()
	if len(models) == 0 {
		t.Fatal("expected model presets")
	}

	defaults := 0
	for _, model := range models {
		if model.Default {
			defaults++
			if model.ID != config.DefaultModel {
				t.Fatalf("default model = %s, want %s", model.ID, config.DefaultModel)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("defaults = %d, want exactly 1", defaults)
	}
}

// TestShutdownCleansTransfers drops live sessions on exit.
func TestShutdownCleansTransfers(t *testing.T) {
	root := t.TempDir()
	app := newTestApp(t, root, &fakeStore{}, &fakePipeline{})

	resp := app.InitLargeFileTransfer(transfer.InitRequest{
		DestinationPath: filepath.Join(root, "upload.bin"),
		FileName:        "upload.bin",
		DeclaredSize:    8,
	})
	if !resp.Success {
		t.Fatalf("init failed: %s", resp.Error)
	}

	app.Shutdown(context.Background())
	if app.Transfers.ActiveSessions() != 0 {
		t.Fatalf("active sessions = %d, want 0", app.Transfers.ActiveSessions())
	}
}
