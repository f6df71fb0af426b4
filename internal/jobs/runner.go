package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meeting-summarizer/internal/audio"
	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/logging"
)

// ErrStopTimeout is returned when a job does not reach a checkpoint in time.
var ErrStopTimeout = errors.New("job did not stop within timeout")

// DefaultStopTimeout bounds how long Stop waits for a checkpoint.
const DefaultStopTimeout = 5 * time.Second

// NoTimestampsPlaceholder replaces timestamped text when no segments exist.
const NoTimestampsPlaceholder = "No timestamp information available."

// Progress checkpoints reported to the UI.
const (
	progressPreparing    = 10
	progressTranscribing = 20
	progressSummarizing  = 50
	progressParagraph    = 70
	progressTimestamped  = 90
	progressDone         = 100
)

// Preparer converts input media into an uploadable audio file.
type Preparer interface {
	Prepare(ctx context.Context, inputPath string) (audio.PreparedAudio, error)
}

// Transcriber turns prepared audio into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (domain.Transcript, error)
}

// Summarizer produces one summary of text.
type Summarizer interface {
	Summarize(ctx context.Context, text string, kind domain.SummaryKind) (string, error)
}

// ResultStore persists job artifacts.
type ResultStore interface {
	SaveTranscript(ctx context.Context, t domain.Transcript, name string) (string, error)
	SaveSummary(ctx context.Context, text string, kind domain.SummaryKind, name string) (string, error)
	SaveCombined(ctx context.Context, t domain.Transcript, paragraph, timestamped, name string) (string, error)
}

// Request describes one job submitted by the UI.
type Request struct {
	InputPath    string
	SummaryKinds []domain.SummaryKind
	Language     string
	// Store, when set, replaces Deps.Store for this job only.
	Store ResultStore
}

// Deps bundles the collaborators of a Runner.
type Deps struct {
	Manager     *Manager
	Events      *EventBus
	Preparer    Preparer
	Transcriber Transcriber
	Summarizer  Summarizer
	Store       ResultStore
	Logger      zerolog.Logger
	// OnEvent receives every published event, e.g. to push it to the UI.
	OnEvent func(Event)
}

// Runner executes the prepare, transcribe, summarize and save pipeline for
// at most one job at a time.
type Runner struct {
	manager     *Manager
	events      *EventBus
	preparer    Preparer
	transcriber Transcriber
	summarizer  Summarizer
	store       ResultStore
	log         zerolog.Logger
	onEvent     func(Event)
	removeFile  func(name string) error

	mu              sync.Mutex
	cancelRequested bool
	cancelLogged    bool
	cancel          context.CancelFunc
	done            chan struct{}
	lastResult      *domain.JobResult
}

// NewRunner wires a runner from its collaborators.
func NewRunner(deps Deps) *Runner {
	if deps.Manager == nil {
		deps.Manager = NewManager()
	}
	if deps.Events == nil {
		deps.Events = NewEventBus(0)
	}
	return &Runner{
		manager:     deps.Manager,
		events:      deps.Events,
		preparer:    deps.Preparer,
		transcriber: deps.Transcriber,
		summarizer:  deps.Summarizer,
		store:       deps.Store,
		log:         logging.Component(deps.Logger, "jobs"),
		onEvent:     deps.OnEvent,
		removeFile:  os.Remove,
	}
}

// Start validates req and runs the job on a background goroutine.
func (r *Runner) Start(req Request) (domain.Job, error) {
	req.InputPath = strings.TrimSpace(req.InputPath)
	if req.InputPath == "" {
		return domain.Job{}, fmt.Errorf("input path is required")
	}
	kinds, err := normalizeKinds(req.SummaryKinds)
	if err != nil {
		return domain.Job{}, err
	}
	req.SummaryKinds = kinds

	job := domain.Job{
		ID:           uuid.NewString(),
		InputPath:    req.InputPath,
		SummaryKinds: kinds,
		StartedAt:    time.Now().UTC(),
	}
	if err := r.manager.Start(job); err != nil {
		return domain.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.mu.Lock()
	r.cancelRequested = false
	r.cancelLogged = false
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	current := r.manager.Current()
	go r.run(ctx, cancel, job.ID, req, done)
	return current, nil
}

// Stop requests cancellation and waits up to timeout for the job to reach a
// checkpoint. A non-positive timeout uses DefaultStopTimeout.
func (r *Runner) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	if cancel == nil || !r.manager.IsRunning() {
		r.mu.Unlock()
		return ErrNoRunningJob
	}
	r.cancelRequested = true
	r.mu.Unlock()

	jobID := r.manager.Current().ID
	r.log.Info().Str(logging.FieldJobID, jobID).Msg("cancellation requested")
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		r.log.Warn().Str(logging.FieldJobID, jobID).Dur("timeout", timeout).Msg("job did not stop in time")
		return ErrStopTimeout
	}
}

// Wait blocks until the current job goroutine exits or timeout elapses.
// It reports whether the runner is idle.
func (r *Runner) Wait(timeout time.Duration) bool {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Current returns a snapshot of the current job.
func (r *Runner) Current() domain.Job {
	return r.manager.Current()
}

// Events returns events published after seq.
func (r *Runner) Events(sinceSeq int64) []Event {
	return r.events.Since(sinceSeq)
}

// LastResult returns the result of the most recent job that did not get
// cancelled.
func (r *Runner) LastResult() (domain.JobResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastResult == nil {
		return domain.JobResult{}, false
	}
	return *r.lastResult, true
}

// run executes one job and always releases its temp artifacts.
func (r *Runner) run(ctx context.Context, cancel context.CancelFunc, jobID string, req Request, done chan struct{}) {
	defer close(done)
	defer cancel()
	log := r.log.With().Str(logging.FieldJobID, jobID).Logger()

	var temps []string
	result, err := r.execute(ctx, jobID, req, &temps)
	r.cleanup(jobID, temps)

	// A Stop that lands after execute returned does not undo a finished job.
	r.mu.Lock()
	cancelled := domain.IsKind(err, domain.ErrCancelled) || (err != nil && r.cancelRequested)
	r.cancel = nil
	r.mu.Unlock()

	switch {
	case cancelled:
		r.logCancelRequest(jobID)
		_ = r.manager.Cancel()
		log.Info().Msg("job cancelled")
		r.publish(Event{JobID: jobID, Type: EventTypeStatus, Status: domain.JobStatusCancelled, Message: "Job cancelled"})

	case err != nil:
		_ = r.manager.Transition(domain.JobStatusFailed)
		failed := domain.Failed(err.Error())
		r.setLastResult(failed)
		log.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msg("job failed")

		r.publishFailureTrace(jobID, err)
		r.publish(Event{JobID: jobID, Type: EventTypeStatus, Status: domain.JobStatusFailed, Message: "Job failed"})
		r.publish(Event{
			JobID:     jobID,
			Type:      EventTypeError,
			Status:    domain.JobStatusFailed,
			Message:   err.Error(),
			ErrorKind: domain.KindOf(err),
		})
		r.publish(Event{JobID: jobID, Type: EventTypeResult, Status: domain.JobStatusFailed, Result: &failed})

	default:
		_ = r.manager.Transition(domain.JobStatusDone)
		r.setProgress(jobID, progressDone)
		r.setLastResult(result)
		log.Info().Msg("job completed")
		r.publish(Event{JobID: jobID, Type: EventTypeStatus, Status: domain.JobStatusDone, Message: "Job completed"})
		r.publish(Event{JobID: jobID, Type: EventTypeResult, Status: domain.JobStatusDone, Result: &result})
	}
}

// execute runs the stages. A nil error with a zero result never happens;
// cancellation is reported as an ErrCancelled error.
func (r *Runner) execute(ctx context.Context, jobID string, req Request, temps *[]string) (domain.JobResult, error) {
	cancelled := domain.NewError(domain.ErrCancelled, "job", "cancelled", context.Canceled)
	store := r.store
	if req.Store != nil {
		store = req.Store
	}

	// Preparing
	r.setProgress(jobID, progressPreparing)
	r.publishStatus(jobID, domain.JobStatusPreparing, "Preparing audio")
	r.publishLog(jobID, fmt.Sprintf("Input file: %s", req.InputPath))

	prepared, err := r.preparer.Prepare(ctx, req.InputPath)
	if err != nil {
		return domain.JobResult{}, err
	}
	*temps = append(*temps, prepared.Path)
	r.publishLog(jobID, fmt.Sprintf("Converted audio: %s (%s)", prepared.Path, formatBytes(prepared.SizeBytes)))
	if prepared.Truncated {
		r.publishLog(jobID, fmt.Sprintf("Audio truncated to the first %s to fit the upload limit", audio.FormatSeconds(prepared.DurationSeconds)))
	}
	if r.checkpoint(ctx, jobID) {
		return domain.JobResult{}, cancelled
	}

	// Transcribing
	if err := r.transition(jobID, domain.JobStatusTranscribing, progressTranscribing, "Transcribing audio"); err != nil {
		return domain.JobResult{}, err
	}
	transcript, err := r.transcriber.Transcribe(ctx, prepared.Path, req.Language)
	if err != nil {
		return domain.JobResult{}, err
	}
	r.publishLog(jobID, fmt.Sprintf("Transcription completed: %d segments", len(transcript.Segments)))
	if r.checkpoint(ctx, jobID) {
		return domain.JobResult{}, cancelled
	}

	result := domain.Succeeded(transcript)
	result.TranscriptPath, err = store.SaveTranscript(ctx, transcript, "")
	if err != nil {
		return domain.JobResult{}, err
	}
	r.publishLog(jobID, fmt.Sprintf("Transcript saved: %s", result.TranscriptPath))

	// Summarizing
	if len(req.SummaryKinds) > 0 {
		if err := r.transition(jobID, domain.JobStatusSummarizing, progressSummarizing, "Summarizing transcript"); err != nil {
			return domain.JobResult{}, err
		}
		result.SummaryPaths = make(map[domain.SummaryKind]string, len(req.SummaryKinds))
	}
	for _, kind := range req.SummaryKinds {
		input := transcript.Text
		if kind == domain.SummaryKindTimestamped {
			input = TimestampedText(transcript.Segments)
		}

		summary, err := r.summarizer.Summarize(ctx, input, kind)
		if err != nil {
			return domain.JobResult{}, err
		}
		path, err := store.SaveSummary(ctx, summary, kind, "")
		if err != nil {
			return domain.JobResult{}, err
		}
		result.SummaryPaths[kind] = path

		progress := progressParagraph
		if kind == domain.SummaryKindParagraph {
			result.ParagraphSummary = summary
		} else {
			result.TimestampedSummary = summary
			progress = progressTimestamped
		}
		r.setProgress(jobID, progress)
		r.publishLog(jobID, fmt.Sprintf("%s summary saved: %s", kind, path))

		if r.checkpoint(ctx, jobID) {
			return domain.JobResult{}, cancelled
		}
	}

	// Saving
	if err := r.transition(jobID, domain.JobStatusSaving, 0, "Saving results"); err != nil {
		return domain.JobResult{}, err
	}
	if result.ParagraphSummary != "" || result.TimestampedSummary != "" {
		result.CombinedPath, err = store.SaveCombined(ctx, transcript, result.ParagraphSummary, result.TimestampedSummary, "")
		if err != nil {
			return domain.JobResult{}, err
		}
		r.publishLog(jobID, fmt.Sprintf("Combined report saved: %s", result.CombinedPath))
	}
	if r.checkpoint(ctx, jobID) {
		return domain.JobResult{}, cancelled
	}

	return result, nil
}

// TimestampedText renders segments as "[start - end] text" blocks
// separated by blank lines.
func TimestampedText(segments []domain.TranscriptSegment) string {
	if len(segments) == 0 {
		return NoTimestampsPlaceholder
	}

	var b strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%s - %s] %s\n\n", audio.FormatSeconds(seg.Start), audio.FormatSeconds(seg.End), seg.Text)
	}
	return b.String()
}

// checkpoint reports whether the job should stop before the next stage.
func (r *Runner) checkpoint(ctx context.Context, jobID string) bool {
	r.mu.Lock()
	requested := r.cancelRequested
	r.mu.Unlock()
	if requested {
		r.logCancelRequest(jobID)
	}
	return requested || ctx.Err() != nil
}

// logCancelRequest publishes the cancellation log line once per job. Only
// the job goroutine calls it, so events keep a single producer.
func (r *Runner) logCancelRequest(jobID string) {
	r.mu.Lock()
	if r.cancelLogged {
		r.mu.Unlock()
		return
	}
	r.cancelLogged = true
	r.mu.Unlock()
	r.publishLog(jobID, "Cancellation requested")
}

func (r *Runner) transition(jobID string, status domain.JobStatus, progress int, message string) error {
	if err := r.manager.Transition(status); err != nil {
		return err
	}
	if progress > 0 {
		r.setProgress(jobID, progress)
	}
	r.publishStatus(jobID, status, message)
	return nil
}

// cleanup deletes temp artifacts in creation order.
func (r *Runner) cleanup(jobID string, temps []string) {
	for _, path := range temps {
		if err := r.removeFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn().Err(err).Str(logging.FieldJobID, jobID).Str("path", path).Msg("failed to delete temporary file")
			r.publishLog(jobID, fmt.Sprintf("Failed to delete temporary file %s: %v", path, err))
			continue
		}
		r.publishLog(jobID, fmt.Sprintf("Temporary file deleted: %s", path))
	}
}

func (r *Runner) setLastResult(result domain.JobResult) {
	r.mu.Lock()
	r.lastResult = &result
	r.mu.Unlock()
}

func (r *Runner) setProgress(jobID string, progress int) {
	r.manager.SetProgress(progress)
	r.publish(Event{JobID: jobID, Type: EventTypeProgress, Progress: progress})
}

func (r *Runner) publishStatus(jobID string, status domain.JobStatus, message string) {
	r.publish(Event{JobID: jobID, Type: EventTypeStatus, Status: status, Message: message})
}

func (r *Runner) publishLog(jobID, message string) {
	r.publish(Event{JobID: jobID, Type: EventTypeLog, Message: message})
}

// publishFailureTrace emits the error chain and any failed command details.
func (r *Runner) publishFailureTrace(jobID string, err error) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		r.publishLog(jobID, "  caused by: "+e.Error())
	}

	var cmdErr *audio.CommandError
	if errors.As(err, &cmdErr) {
		r.publish(Event{
			JobID:    jobID,
			Type:     EventTypeLog,
			Message:  "Failed command",
			Command:  cmdErr.Log.Command,
			Args:     cmdErr.Log.Args,
			ExitCode: cmdErr.Log.ExitCode,
			Stderr:   cmdErr.Log.Stderr,
		})
	}
}

// publish stores the event and forwards it to the push sink.
func (r *Runner) publish(event Event) {
	published := r.events.Publish(event)
	if r.onEvent != nil {
		r.onEvent(published)
	}
}

// normalizeKinds validates kinds and orders them paragraph first.
func normalizeKinds(kinds []domain.SummaryKind) ([]domain.SummaryKind, error) {
	seen := make(map[domain.SummaryKind]bool, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("unknown summary kind %q", k)
		}
		seen[k] = true
	}

	out := make([]domain.SummaryKind, 0, len(seen))
	for _, k := range domain.AllSummaryKinds {
		if seen[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

func formatBytes(n int64) string {
	const mb = 1024 * 1024
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}
