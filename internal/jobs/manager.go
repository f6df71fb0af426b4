package jobs

import (
	"errors"
	"fmt"
	"sync"

	"meeting-summarizer/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when cancel is requested for idle state.
var ErrNoRunningJob = errors.New("no running job")

// Manager tracks the single allowed active job and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{
			Status: domain.JobStatusIdle,
		},
	}
}

// Start registers a new job and moves it to preparing state.
func (m *Manager) Start(job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isRunning(m.current.Status) {
		return ErrJobAlreadyRunning
	}
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	job.Status = domain.JobStatusPreparing
	job.Progress = 0
	m.current = job
	return nil
}

// Transition validates and applies state transitions for current job.
func (m *Manager) Transition(status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.JobStatusIdle {
		return fmt.Errorf("cannot transition without an active job")
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// SetProgress records a 0-100 progress value for the active job.
// Progress never moves backwards.
func (m *Manager) SetProgress(progress int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	progress = max(0, min(progress, 100))
	if progress > m.current.Progress {
		m.current.Progress = progress
	}
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job := m.current
	job.SummaryKinds = append([]domain.SummaryKind(nil), m.current.SummaryKinds...)
	return job
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.current.Status)
}

// Cancel moves an active job to cancelled state.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isRunning(m.current.Status) {
		return ErrNoRunningJob
	}
	m.current.Status = domain.JobStatusCancelled
	return nil
}

// isRunning checks if a status represents active pipeline execution.
func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusPreparing,
		domain.JobStatusTranscribing,
		domain.JobStatusSummarizing,
		domain.JobStatusSaving:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
// Transcribing may go straight to saving when no summary was requested.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusPreparing
	case domain.JobStatusPreparing:
		return to == domain.JobStatusTranscribing || isExit(to)
	case domain.JobStatusTranscribing:
		return to == domain.JobStatusSummarizing || to == domain.JobStatusSaving || isExit(to)
	case domain.JobStatusSummarizing:
		return to == domain.JobStatusSaving || isExit(to)
	case domain.JobStatusSaving:
		return to == domain.JobStatusDone || isExit(to)
	case domain.JobStatusDone, domain.JobStatusFailed, domain.JobStatusCancelled:
		return to == domain.JobStatusPreparing || to == domain.JobStatusIdle
	default:
		return false
	}
}

// isExit reports whether status is an early exit from an active stage.
func isExit(status domain.JobStatus) bool {
	return status == domain.JobStatusFailed || status == domain.JobStatusCancelled
}
