// Package results writes transcripts and summaries to the results
// directory and optionally mirrors them to object storage.
package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meeting-summarizer/internal/domain"
)

// TimestampLayout is the suffix format of generated file names.
const TimestampLayout = "20060102_150405"

// Mirror receives a copy of every artifact after it is saved locally.
type Mirror interface {
	Upload(ctx context.Context, name, path string) error
}

// Option customizes a Store.
type Option func(*Store)

// WithMirror uploads each saved artifact through m.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithClock overrides the time source used for generated names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store persists job artifacts under a single results directory.
type Store struct {
	mu     sync.RWMutex
	dir    string
	now    func() time.Time
	mirror Mirror
	log    zerolog.Logger
}

// NewStore creates a store rooted at dir. The directory is created lazily.
func NewStore(dir string, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{dir: dir, now: time.Now, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithDir returns a store rooted at dir that shares the clock, mirror and
// logger of s. Later SetDir calls on either store do not affect the other.
func (s *Store) WithDir(dir string) *Store {
	return &Store{dir: dir, now: s.now, mirror: s.mirror, log: s.log}
}

// Dir returns the current results directory.
func (s *Store) Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

// SetDir points later saves at a new results directory.
func (s *Store) SetDir(dir string) {
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()
}

// SaveTranscript writes the transcript as indented JSON. An empty name
// generates transcription_{ts}.json.
func (s *Store) SaveTranscript(ctx context.Context, t domain.Transcript, name string) (string, error) {
	if t.Segments == nil {
		t.Segments = []domain.TranscriptSegment{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return "", domain.NewError(domain.ErrIOFailure, "save transcript", "cannot encode transcript", err)
	}

	if name == "" {
		name = fmt.Sprintf("transcription_%s.json", s.stamp())
	}
	return s.save(ctx, "save transcript", name, buf.Bytes())
}

// SaveSummary writes one summary as plain text. An empty name generates
// summary_{kind}_{ts}.txt.
func (s *Store) SaveSummary(ctx context.Context, text string, kind domain.SummaryKind, name string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("summary_%s_%s.txt", kind, s.stamp())
	}
	return s.save(ctx, "save summary", name, []byte(text))
}

// SaveCombined writes the combined report. Empty summaries are omitted.
// An empty name generates meeting_summary_{ts}.txt.
func (s *Store) SaveCombined(ctx context.Context, t domain.Transcript, paragraph, timestamped, name string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("meeting_summary_%s.txt", s.stamp())
	}
	return s.save(ctx, "save combined", name, []byte(RenderCombined(t, paragraph, timestamped)))
}

// ExportCombined writes the combined report to an arbitrary path.
func (s *Store) ExportCombined(t domain.Transcript, paragraph, timestamped, path string) error {
	const op = "export"
	if strings.TrimSpace(path) == "" {
		return domain.NewError(domain.ErrIOFailure, op, "export path is required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.NewError(domain.ErrIOFailure, op, fmt.Sprintf("cannot create directory for %s", path), err)
	}
	if err := writeFileAtomic(path, []byte(RenderCombined(t, paragraph, timestamped))); err != nil {
		return domain.NewError(domain.ErrIOFailure, op, fmt.Sprintf("cannot write %s", path), err)
	}
	return nil
}

// RenderCombined builds the combined report. Section order is fixed.
func RenderCombined(t domain.Transcript, paragraph, timestamped string) string {
	var b strings.Builder
	b.WriteString("# Meeting summary\n\n")
	if paragraph != "" {
		b.WriteString("## 1. Summary (paragraph)\n")
		b.WriteString(paragraph)
		b.WriteString("\n\n")
	}
	if timestamped != "" {
		b.WriteString("## 2. Summary (timestamped)\n")
		b.WriteString(timestamped)
		b.WriteString("\n\n")
	}
	if t.Text != "" {
		b.WriteString("## 3. Full transcript\n")
		b.WriteString(t.Text)
	}
	return b.String()
}

func (s *Store) stamp() string {
	return s.now().Format(TimestampLayout)
}

// save creates the directory, writes data atomically and hands the file
// to the mirror. Mirror failures are logged only.
func (s *Store) save(ctx context.Context, op, name string, data []byte) (string, error) {
	dir := s.Dir()
	if strings.TrimSpace(dir) == "" {
		return "", domain.NewError(domain.ErrIOFailure, op, "results directory is not configured", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.NewError(domain.ErrIOFailure, op, fmt.Sprintf("cannot create results directory: %s", dir), err)
	}

	path := filepath.Join(dir, filepath.Base(name))
	if err := writeFileAtomic(path, data); err != nil {
		return "", domain.NewError(domain.ErrIOFailure, op, fmt.Sprintf("cannot write %s", path), err)
	}
	s.log.Info().Str("path", path).Int("bytes", len(data)).Msg("saved artifact")

	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, filepath.Base(path), path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("mirror upload failed")
		}
	}
	return path, nil
}

// writeFileAtomic writes into a sibling temp file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
