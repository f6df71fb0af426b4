package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"meeting-summarizer/internal/domain"
)

// Check IDs reported in DiagnosticItem.ID.
const (
	IDFFmpeg     = "tool_ffmpeg"
	IDFFprobe    = "tool_ffprobe"
	IDAPIKey     = "api_key"
	IDResultsDir = "results_dir"
)

// Environment describes process-level inputs to the checks.
type Environment struct {
	FFmpegPath  string
	FFprobePath string
	APIKeySet   bool
}

// Checker validates external tools, credentials and the results directory.
type Checker struct {
	env        Environment
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(env Environment) *Checker {
	return &Checker{
		env:        withDefaultTools(env),
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(IDFFmpeg, c.env.FFmpegPath),
		c.checkTool(IDFFprobe, c.env.FFprobePath),
		c.checkAPIKey(),
		c.checkResultsDir(settings.ResultsDir),
	}

	report := domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		Items:       items,
	}
	for _, item := range items {
		switch item.Status {
		case domain.DiagnosticStatusFail:
			report.HasFailures = true
		case domain.DiagnosticStatusWarn:
			report.HasWarnings = true
		}
	}
	return report
}

// checkTool verifies a required CLI executable is resolvable.
func (c *Checker) checkTool(id, name string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      id,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    "Install ffmpeg (it ships ffprobe) and ensure the binaries are on PATH before starting a job.",
		}
	}

	return domain.DiagnosticItem{
		ID:      id,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkAPIKey warns when no provider credential is configured. Jobs still
// start; provider calls fail individually.
func (c *Checker) checkAPIKey() domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   IDAPIKey,
		Name: "OpenAI API key",
	}
	if !c.env.APIKeySet {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "OPENAI_API_KEY is not set."
		item.Hint = "Set OPENAI_API_KEY in the environment or in a .env file next to the application, then restart."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = "API key is configured."
	return item
}

// checkResultsDir validates results directory existence and write access.
func (c *Checker) checkResultsDir(resultsDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   IDResultsDir,
		Name: "Results directory",
	}

	if strings.TrimSpace(resultsDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Results directory is empty."
		item.Hint = "Set a results directory where transcripts and summaries can be written."
		return item
	}

	if err := c.mkdirAll(resultsDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create results directory: %s", resultsDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(resultsDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Results directory is not writable: %s", resultsDir)
		item.Hint = "Choose a writable directory for results."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", resultsDir)
	return item
}

func withDefaultTools(env Environment) Environment {
	if strings.TrimSpace(env.FFmpegPath) == "" {
		env.FFmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(env.FFprobePath) == "" {
		env.FFprobePath = "ffprobe"
	}
	return env
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	env Environment,
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		env:        withDefaultTools(env),
		lookPath:   lookPath,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
