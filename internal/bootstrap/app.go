package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"meeting-summarizer/internal/audio"
	"meeting-summarizer/internal/config"
	"meeting-summarizer/internal/diagnostics"
	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/jobs"
	"meeting-summarizer/internal/logging"
	"meeting-summarizer/internal/provider"
	"meeting-summarizer/internal/results"
	"meeting-summarizer/internal/summarize"
	"meeting-summarizer/internal/transcribe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// EventName is the runtime event carrying job events to the frontend.
const EventName = "job:event"

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio and video files",
		Pattern:     "*.mp3;*.wav;*.m4a;*.flac;*.aac;*.ogg;*.wma;*.mp4;*.mov;*.mkv;*.avi;*.webm;*.wmv",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var exportDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Text files",
		Pattern:     "*.txt",
	},
}

// App wires configuration, the job runner, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Env         *config.Env
	Runner      *jobs.Runner
	Results     *results.Store
	Preparer    *audio.Preparer
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	dotenvPath  string
	log         zerolog.Logger

	mu         sync.Mutex
	runtimeCtx context.Context
}

// NewWithAssets builds the application with persisted settings and startup
// diagnostics. A nil assets serves ./frontend from disk.
func NewWithAssets(assets fs.FS) (*App, error) {
	ctx := context.Background()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	dotenvPath := ".env"
	env, err := config.LoadEnv(ctx, dotenvPath)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	log := logging.New(logging.Options{Level: env.LogLevel, Format: env.LogFormat})
	log.Info().Stringer("env", env).Msg("configuration loaded")
	for _, warning := range env.Warnings() {
		log.Warn().Msg(warning)
	}

	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(config.SettingsPath(homeDir))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	var storeOpts []results.Option
	if env.S3Enabled() {
		mirror, err := results.NewS3Mirror(ctx, results.S3Config{
			Bucket:          env.S3Bucket,
			Region:          env.S3Region,
			Endpoint:        env.S3Endpoint,
			Prefix:          env.S3Prefix,
			AccessKeyID:     env.AWSAccessKeyID,
			SecretAccessKey: env.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("configure result mirror: %w", err)
		}
		storeOpts = append(storeOpts, results.WithMirror(mirror))
		log.Info().Str("bucket", env.S3Bucket).Msg("result mirroring enabled")
	}
	resultStore := results.NewStore(settings.ResultsDir, logging.Component(log, "results"), storeOpts...)

	api := provider.NewClient(provider.Config{
		APIKey:  env.OpenAIAPIKey,
		BaseURL: env.OpenAIBaseURL,
		Timeout: env.RequestTimeout,
	})

	primary := summarize.DefaultPrimary()
	primary.Name = env.SummaryPrimaryModel
	fallback := summarize.DefaultFallback()
	fallback.Name = env.SummaryFallbackModel

	preparer := audio.NewPreparer(env.FFmpegPath, env.FFprobePath, logging.Component(log, "audio"))

	app := &App{
		Settings:   settings,
		Store:      store,
		Env:        env,
		Results:    resultStore,
		Preparer:   preparer,
		assets:     assets,
		dotenvPath: dotenvPath,
		log:        logging.Component(log, "app"),
		checker: diagnostics.NewChecker(diagnostics.Environment{
			FFmpegPath:  env.FFmpegPath,
			FFprobePath: env.FFprobePath,
			APIKeySet:   env.OpenAIAPIKey != "",
		}),
	}
	app.Runner = jobs.NewRunner(jobs.Deps{
		Events:      jobs.NewEventBus(1000),
		Preparer:    preparer,
		Transcriber: transcribe.NewClient(api, env.TranscribeModel, logging.Component(log, "transcribe")),
		Summarizer:  summarize.NewClient(api, primary, fallback, logging.Component(log, "summarize")),
		Store:       resultStore,
		Logger:      log,
		OnEvent:     app.emitEvent,
	})
	app.Diagnostics = app.checker.Run(settings)

	if removed, err := audio.SweepStale(""); err != nil {
		app.log.Warn().Err(err).Msg("sweep stale temp audio")
	} else if removed > 0 {
		app.log.Info().Int("removed", removed).Msg("removed stale temp audio")
	}

	return app, nil
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
		Title:       "Meeting Summarizer",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown stops a running job and removes leftover temp audio.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	if a.Runner != nil {
		err := a.Runner.Stop(a.stopTimeout())
		if err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
			a.log.Warn().Err(err).Msg("stop job on shutdown")
		}
	}
	if _, err := audio.SweepStale(""); err != nil {
		a.log.Warn().Err(err).Msg("sweep temp audio on shutdown")
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(normalizeSettings(settings)), nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
// A running job keeps the results directory it started with.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	if a.Results != nil {
		a.Results.SetDir(normalized.ResultsDir)
	}
	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// PickInputFile opens a native file dialog for media selection.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select meeting recording",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickResultsDirectory opens a native directory picker for saved results.
func (a *App) PickResultsDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select results directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickExportPath opens a native save dialog for the combined report.
func (a *App) PickExportPath() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:           "Export meeting summary",
		DefaultFilename: "meeting_summary.txt",
		Filters:         exportDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// InspectInput reports the size of a selected file and whether it will be
// reduced before upload.
func (a *App) InspectInput(path string) (audio.InputInfo, error) {
	if a.Preparer == nil {
		return audio.InputInfo{}, fmt.Errorf("audio preparer is not configured")
	}
	return a.Preparer.Inspect(strings.TrimSpace(path))
}

// StartJob starts processing inputPath. Empty kinds fall back to the
// kinds saved in settings.
func (a *App) StartJob(inputPath string, kinds []domain.SummaryKind) (domain.Job, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Job{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	if len(kinds) == 0 {
		kinds = settings.SummaryKinds
	}
	req := jobs.Request{
		InputPath:    inputPath,
		SummaryKinds: kinds,
		Language:     settings.Language,
	}
	if a.Results != nil {
		req.Store = a.Results.WithDir(settings.ResultsDir)
	}

	job, err := a.Runner.Start(req)
	if err != nil {
		return domain.Job{}, err
	}
	a.log.Info().Str(logging.FieldJobID, job.ID).Str("input", job.InputPath).Msg("job started")
	return job, nil
}

// StopJob cancels the running job and waits for it to reach a checkpoint.
func (a *App) StopJob() error {
	return a.Runner.Stop(a.stopTimeout())
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Runner.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.Runner.Events(sinceSeq)
}

// LastResult returns the result of the most recent finished job, or nil.
func (a *App) LastResult() *domain.JobResult {
	result, ok := a.Runner.LastResult()
	if !ok {
		return nil
	}
	return &result
}

// ExportResult writes the combined report of the last successful job to path.
func (a *App) ExportResult(path string) error {
	result, ok := a.Runner.LastResult()
	if !ok || !result.Success || result.Transcript == nil {
		return fmt.Errorf("no successful result to export")
	}
	if a.Results == nil {
		return fmt.Errorf("result store is not configured")
	}
	return a.Results.ExportCombined(*result.Transcript, result.ParagraphSummary, result.TimestampedSummary, strings.TrimSpace(path))
}

// OpenResultsFolder opens the given path (or configured results dir) in file manager.
func (a *App) OpenResultsFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.ResultsDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("results path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve results path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// emitEvent forwards runner events to the frontend while a window exists.
func (a *App) emitEvent(event jobs.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, EventName, event)
	}
}

func (a *App) stopTimeout() time.Duration {
	if a.Env != nil && a.Env.StopTimeout > 0 {
		return a.Env.StopTimeout
	}
	return jobs.DefaultStopTimeout
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

// normalizeSettings trims user inputs and fills empty fields from defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()
	settings.ResultsDir = strings.TrimSpace(settings.ResultsDir)
	if settings.ResultsDir == "" {
		settings.ResultsDir = defaults.ResultsDir
	}
	settings.Language = strings.TrimSpace(settings.Language)
	if settings.Language == "" {
		settings.Language = transcribe.DefaultLanguage
	}
	if len(settings.SummaryKinds) == 0 {
		settings.SummaryKinds = defaults.SummaryKinds
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
