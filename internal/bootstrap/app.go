package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"codexmd/internal/config"
	"codexmd/internal/deepgram"
	"codexmd/internal/diagnostics"
	"codexmd/internal/domain"
	"codexmd/internal/jobs"
	"codexmd/internal/safepath"
	"codexmd/internal/transcribe"
	"codexmd/internal/transfer"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Media files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.mp3;*.wav;*.m4a;*.flac;*.aac;*.ogg;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, transfers, jobs, pipeline, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Runtime     config.Runtime
	Transfers   *transfer.Coordinator
	Jobs        *jobs.Tracker
	Pipeline    pipelineRunner
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	logger      *slog.Logger
	events      *jobs.EventBus

	mu         sync.Mutex
	runtimeCtx context.Context
	jobCancels map[string]context.CancelFunc
	stopSweep  context.CancelFunc
}

// pipelineRunner isolates the transcription pipeline behind an interface.
type pipelineRunner interface {
	Run(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rt, err := config.LoadRuntime()
	if err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}

	configDir := filepath.Join(homeDir, ".codexmd")
	store := config.NewJSONStore(filepath.Join(configDir, "settings.json"))
	if err := config.MigrateLegacyCredential(store, filepath.Join(configDir, "credentials.json"), logger); err != nil {
		logger.Warn("legacy credential migration failed", slog.String("error", err.Error()))
	}

	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	validator := safepath.NewValidator(homeDir, os.TempDir())
	checker := diagnostics.NewChecker(validator.Roots()...)
	report := checker.Run(settings)

	provider := deepgram.NewClient(rt.ProviderBaseURL, logger)

	return &App{
		Settings:    settings,
		Store:       store,
		Runtime:     rt,
		Transfers:   transfer.NewCoordinator(validator, rt.ChunkSizeBytes, logger),
		Jobs:        jobs.NewTracker(),
		Pipeline:    transcribe.NewPipeline(provider, rt.MaxSourceBytes, rt.LargeSourceBytes, logger),
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		logger:      logger,
		events:      jobs.NewEventBus(1000),
		jobCancels:  make(map[string]context.CancelFunc),
	}, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "codex.md",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context and starts the staleness sweeper.
func (a *App) Startup(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.runtimeCtx = ctx
	a.stopSweep = cancel
	a.mu.Unlock()

	go a.sweepLoop(sweepCtx)
}

// Shutdown stops the sweeper and cleans all in-flight state.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	stop := a.stopSweep
	cancels := make([]context.CancelFunc, 0, len(a.jobCancels))
	for _, cancel := range a.jobCancels {
		cancels = append(cancels, cancel)
	}
	a.runtimeCtx = nil
	a.stopSweep = nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, cancel := range cancels {
		cancel()
	}
	a.Transfers.CleanupAll()
}

// sweepLoop periodically expires stale transfer sessions and job records.
func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.Runtime.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			staleTransfers := a.Transfers.SweepStale(a.Runtime.TransferMaxIdle)
			expiredJobs := a.Jobs.SweepExpired(a.Runtime.JobGracePeriod, a.Runtime.JobMaxIdle)
			if staleTransfers > 0 || expiredJobs > 0 {
				a.logger.Info("staleness sweep",
					slog.Int("staleTransfers", staleTransfers),
					slog.Int("expiredJobs", expiredJobs))
			}
		}
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns startup checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	report := a.Diagnostics
	a.mu.Unlock()

	return report, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// PickInputFile opens a native file dialog for media selection.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select media file",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickOutputDirectory opens a native directory picker for Markdown exports.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// publishJobStatus sends a normalized status event.
func (a *App) publishJobStatus(jobID string, status domain.JobStatus, progress int, message string) {
	a.publishEvent(jobs.Event{
		JobID:    jobID,
		Type:     jobs.EventTypeStatus,
		Status:   status,
		Progress: progress,
		Message:  message,
	})
}

// normalizeSettings trims user inputs and applies defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.DeepgramAPIKey = strings.TrimSpace(settings.DeepgramAPIKey)
	settings.Model = strings.TrimSpace(settings.Model)
	settings.Language = strings.TrimSpace(settings.Language)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	if settings.Model == "" {
		settings.Model = config.DefaultModel
	}
	if settings.Language == "" {
		settings.Language = "auto"
	}
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
