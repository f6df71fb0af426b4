package domain

import "time"

// JobStatus tracks each pipeline stage for a single summarization job.
type JobStatus string

const (
	JobStatusIdle         JobStatus = "idle"
	JobStatusPreparing    JobStatus = "preparing"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusSummarizing  JobStatus = "summarizing"
	JobStatusSaving       JobStatus = "saving"
	JobStatusDone         JobStatus = "done"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// SummaryKind selects which transcript rendition is summarized.
type SummaryKind string

const (
	SummaryKindParagraph   SummaryKind = "paragraph"
	SummaryKindTimestamped SummaryKind = "timestamped"
)

// AllSummaryKinds lists summary kinds in processing order.
var AllSummaryKinds = []SummaryKind{SummaryKindParagraph, SummaryKindTimestamped}

// Valid reports whether k is a known summary kind.
func (k SummaryKind) Valid() bool {
	return k == SummaryKindParagraph || k == SummaryKindTimestamped
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ResultsDir   string        `json:"resultsDir" validate:"required"`
	Language     string        `json:"language" validate:"omitempty,min=2,max=8"`
	SummaryKinds []SummaryKind `json:"summaryKinds" validate:"dive,oneof=paragraph timestamped"`
}

// Job stores the current job identity and lifecycle status.
type Job struct {
	ID           string        `json:"id"`
	Status       JobStatus     `json:"status"`
	InputPath    string        `json:"inputPath,omitempty"`
	SummaryKinds []SummaryKind `json:"summaryKinds,omitempty"`
	Progress     int           `json:"progress"`
	StartedAt    time.Time     `json:"startedAt,omitempty"`
}

// TranscriptSegment is one time-aligned piece of recognized speech.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the full recognized text plus its chronological segments.
type Transcript struct {
	Text     string              `json:"text"`
	Segments []TranscriptSegment `json:"segments"`
}

// JobResult is the terminal outcome of a job that was not cancelled.
// Success implies Transcript is set; failure implies Error is set.
type JobResult struct {
	Success            bool                   `json:"success"`
	Transcript         *Transcript            `json:"transcript,omitempty"`
	ParagraphSummary   string                 `json:"paragraphSummary,omitempty"`
	TimestampedSummary string                 `json:"timestampedSummary,omitempty"`
	Error              string                 `json:"error,omitempty"`
	TranscriptPath     string                 `json:"transcriptPath,omitempty"`
	SummaryPaths       map[SummaryKind]string `json:"summaryPaths,omitempty"`
	CombinedPath       string                 `json:"combinedPath,omitempty"`
}

// Succeeded builds a successful result around a transcript.
func Succeeded(transcript Transcript) JobResult {
	return JobResult{Success: true, Transcript: &transcript}
}

// Failed builds a failed result carrying a human-readable message.
func Failed(message string) JobResult {
	if message == "" {
		message = "unknown error"
	}
	return JobResult{Success: false, Error: message}
}
