package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"meeting-summarizer/internal/domain"
)

// fakeRunner answers ffprobe with a fixed payload and makes each ffmpeg
// call write an output file of the next configured size.
type fakeRunner struct {
	t          *testing.T
	probeOut   string
	probeErr   error
	sizes      []int
	ffmpegErr  error
	ffmpegArgs [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	if name == "ffprobe" {
		if f.probeErr != nil {
			return commandResult{Stderr: "Invalid data found when processing input", ExitCode: 1}, f.probeErr
		}
		return commandResult{Stdout: f.probeOut}, nil
	}

	f.ffmpegArgs = append(f.ffmpegArgs, append([]string{}, args...))
	if f.ffmpegErr != nil {
		return commandResult{Stderr: "conversion failed", ExitCode: 1}, f.ffmpegErr
	}
	call := len(f.ffmpegArgs) - 1
	if call >= len(f.sizes) {
		f.t.Fatalf("unexpected ffmpeg call %d", call+1)
	}
	mustWriteSize(f.t, args[len(args)-1], f.sizes[call])
	return commandResult{}, nil
}

func probeJSON(duration float64, sampleRate int) string {
	return fmt.Sprintf(`{"streams":[{"codec_type":"audio","sample_rate":"%d"}],"format":{"duration":"%.3f"}}`, sampleRate, duration)
}

func newTestInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meeting.m4a")
	mustWriteSize(t, path, 10)
	return path
}

// TestPrepareSmallInputUsesDefaultEncoding checks raw size under the limit.
func TestPrepareSmallInputUsesDefaultEncoding(t *testing.T) {
	tempDir := t.TempDir()
	// 10s * 40Hz * 2 bytes = 800 raw bytes, under 1000.
	runner := &fakeRunner{t: t, probeOut: probeJSON(10, 40), sizes: []int{300}}
	p := NewPreparerForTests("ffmpeg", "ffprobe", runner, 1000, tempDir, nil)

	out, err := p.Prepare(context.Background(), newTestInput(t))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if len(runner.ffmpegArgs) != 1 {
		t.Fatalf("ffmpeg calls = %d, want 1", len(runner.ffmpegArgs))
	}
	if hasArg(runner.ffmpegArgs[0], "-b:a") || hasArg(runner.ffmpegArgs[0], "-ar") {
		t.Fatalf("default encode should not set bitrate or rate: %v", runner.ffmpegArgs[0])
	}
	if out.SizeBytes != 300 || out.Truncated {
		t.Fatalf("out = %+v", out)
	}
	if filepath.Dir(out.Path) != tempDir || !strings.HasPrefix(filepath.Base(out.Path), "meeting-summarizer-") {
		t.Fatalf("unexpected output path %q", out.Path)
	}
	if len(out.Steps) != 1 || out.Steps[0] != StepDefault {
		t.Fatalf("steps = %v", out.Steps)
	}
}

// TestPrepareLargeInputUses64k checks the first reduction step.
func TestPrepareLargeInputUses64k(t *testing.T) {
	tempDir := t.TempDir()
	runner := &fakeRunner{t: t, probeOut: probeJSON(100, 44100), sizes: []int{900}}
	p := NewPreparerForTests("ffmpeg", "ffprobe", runner, 1000, tempDir, nil)

	out, err := p.Prepare(context.Background(), newTestInput(t))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	args := runner.ffmpegArgs[0]
	if argValue(args, "-b:a") != "64k" {
		t.Fatalf("bitrate = %q, want 64k", argValue(args, "-b:a"))
	}
	if hasArg(args, "-ar") {
		t.Fatalf("64k step should keep source rate: %v", args)
	}
	if out.SizeBytes != 900 {
		t.Fatalf("size = %d, want 900", out.SizeBytes)
	}
	assertTempFiles(t, tempDir, 1)
}

// TestPrepareDownsamplesWhen64kTooLarge checks the second reduction step.
func TestPrepareDownsamplesWhen64kTooLarge(t *testing.T) {
	tempDir := t.TempDir()
	runner := &fakeRunner{t: t, probeOut: probeJSON(100, 44100), sizes: []int{1500, 800}}
	p := NewPreparerForTests("ffmpeg", "ffprobe", runner, 1000, tempDir, nil)

	out, err := p.Prepare(context.Background(), newTestInput(t))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if len(runner.ffmpegArgs) != 2 {
		t.Fatalf("ffmpeg calls = %d, want 2", len(runner.ffmpegArgs))
	}
	if argValue(runner.ffmpegArgs[1], "-ar") != "16000" {
		t.Fatalf("second pass should downsample: %v", runner.ffmpegArgs[1])
	}
	if out.Truncated {
		t.Fatal("did not expect truncation")
	}
	assertTempFiles(t, tempDir, 1)
}

// TestPrepareTruncatesWhenDownsampleTooLarge checks the keep-duration formula.
func TestPrepareTruncatesWhenDownsampleTooLarge(t *testing.T) {
	tempDir := t.TempDir()
	runner := &fakeRunner{t: t, probeOut: probeJSON(100, 44100), sizes: []int{3000, 2000, 950}}
	p := NewPreparerForTests("ffmpeg", "ffprobe", runner, 1000, tempDir, nil)

	out, err := p.Prepare(context.Background(), newTestInput(t))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	// 100s * (1000/2000) * 0.95
	if got := argValue(runner.ffmpegArgs[2], "-t"); got != "47.500" {
		t.Fatalf("truncate duration = %q, want 47.500", got)
	}
	if !out.Truncated {
		t.Fatal("expected truncated output")
	}
	if out.DurationSeconds != 47.5 {
		t.Fatalf("duration = %v, want 47.5", out.DurationSeconds)
	}
	if out.SizeBytes > 1000 {
		t.Fatalf("size = %d over limit", out.SizeBytes)
	}
	assertTempFiles(t, tempDir, 1)
}

// TestPrepareRepeatsTruncationThenFails checks the bounded truncation loop.
func TestPrepareRepeatsTruncationThenFails(t *testing.T) {
	tempDir := t.TempDir()
	runner := &fakeRunner{t: t, probeOut: probeJSON(100, 44100), sizes: []int{3000, 2000, 1100, 1100, 1100}}
	p := NewPreparerForTests("ffmpeg", "ffprobe", runner, 1000, tempDir, nil)

	_, err := p.Prepare(context.Background(), newTestInput(t))
	if !domain.IsKind(err, domain.ErrIOFailure) {
		t.Fatalf("error kind = %q, want io_failure (err=%v)", domain.KindOf(err), err)
	}
	if len(runner.ffmpegArgs) != 5 {
		t.Fatalf("ffmpeg calls = %d, want 5", len(runner.ffmpegArgs))
	}
	assertTempFiles(t, tempDir, 0)
}

// TestPrepareProbeFailureIsUnsupported checks undecodable containers.
func TestPrepareProbeFailureIsUnsupported(t *testing.T) {
	runner := &fakeRunner{t: t, probeErr: errors.New("exit status 1")}
	p := NewPreparerForTests("ffmpeg", "ffprobe", runner, 1000, t.TempDir(), nil)

	_, err := p.Prepare(context.Background(), newTestInput(t))
	if !domain.IsKind(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("error kind = %q, want unsupported_format", domain.KindOf(err))
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error type = %T, want *CommandError in chain", err)
	}
	if cmdErr.Log.Command != "ffprobe" || cmdErr.Log.ExitCode != 1 {
		t.Fatalf("command log = %+v", cmdErr.Log)
	}
}

// TestPrepareNoAudioStreamIsUnsupported checks video-only inputs.
func TestPrepareNoAudioStreamIsUnsupported(t *testing.T) {
	runner := &fakeRunner{t: t, probeOut: `{"streams":[],"format":{"duration":"12.0"}}`}
	p := NewPreparerForTests("ffmpeg", "ffprobe", runner, 1000, t.TempDir(), nil)

	_, err := p.Prepare(context.Background(), newTestInput(t))
	if !domain.IsKind(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("error kind = %q, want unsupported_format", domain.KindOf(err))
	}
}

// TestPrepareMissingInputIsIOFailure checks unreadable input paths.
func TestPrepareMissingInputIsIOFailure(t *testing.T) {
	runner := &fakeRunner{t: t}
	p := NewPreparerForTests("ffmpeg", "ffprobe", runner, 1000, t.TempDir(), nil)

	_, err := p.Prepare(context.Background(), filepath.Join(t.TempDir(), "absent.mp4"))
	if !domain.IsKind(err, domain.ErrIOFailure) {
		t.Fatalf("error kind = %q, want io_failure", domain.KindOf(err))
	}
	if len(runner.ffmpegArgs) != 0 {
		t.Fatal("ffmpeg should not run for missing input")
	}
}

// TestPrepareFFmpegFailureCleansTempFile checks failure cleanup path.
func TestPrepareFFmpegFailureCleansTempFile(t *testing.T) {
	tempDir := t.TempDir()
	var removed []string
	runner := &fakeRunner{t: t, probeOut: probeJSON(10, 40), ffmpegErr: errors.New("exit status 1")}
	p := NewPreparerForTests("ffmpeg", "ffprobe", runner, 1000, tempDir, func(name string) error {
		removed = append(removed, name)
		return os.Remove(name)
	})

	_, err := p.Prepare(context.Background(), newTestInput(t))
	if err == nil {
		t.Fatal("expected error")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Log.Command != "ffmpeg" {
		t.Fatalf("expected ffmpeg command error, got %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("removed = %v, want one temp file", removed)
	}
	assertTempFiles(t, tempDir, 0)
}

// TestPrepareCancelledContext checks cancellation is reported as such.
func TestPrepareCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{t: t, probeErr: context.Canceled}
	p := NewPreparerForTests("ffmpeg", "ffprobe", runner, 1000, t.TempDir(), nil)

	_, err := p.Prepare(ctx, newTestInput(t))
	if !domain.IsKind(err, domain.ErrCancelled) {
		t.Fatalf("error kind = %q, want cancelled", domain.KindOf(err))
	}
}

// TestInspectReportsLimit checks the large-input warning.
func TestInspectReportsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.wav")
	mustWriteSize(t, path, 2000)
	p := NewPreparerForTests("ffmpeg", "ffprobe", &fakeRunner{t: t}, 1000, t.TempDir(), nil)

	info, err := p.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if info.SizeBytes != 2000 || !info.ExceedsLimit {
		t.Fatalf("info = %+v", info)
	}
}

// TestSweepStaleRemovesOnlyPreparedFiles checks shutdown cleanup.
func TestSweepStaleRemovesOnlyPreparedFiles(t *testing.T) {
	dir := t.TempDir()
	mustWriteSize(t, filepath.Join(dir, "meeting-summarizer-1.mp3"), 1)
	mustWriteSize(t, filepath.Join(dir, "meeting-summarizer-2.mp3"), 1)
	mustWriteSize(t, filepath.Join(dir, "keep.mp3"), 1)

	removed, err := SweepStale(dir)
	if err != nil {
		t.Fatalf("SweepStale() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.mp3")); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

// TestBuildFFmpegArgsTruncate verifies deterministic reduced-quality args.
func TestBuildFFmpegArgsTruncate(t *testing.T) {
	args := buildFFmpegArgs("/in.mp4", "/tmp/out.mp3", encodeOptions{bitrate: "64k", sampleRate: 16000, duration: 12.5})
	want := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", "/in.mp4",
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", "64k",
		"-t", "12.500",
		"-c:a", "libmp3lame",
		"-f", "mp3",
		"/tmp/out.mp3",
	}

	if len(args) != len(want) {
		t.Fatalf("args len = %d, want %d", len(args), len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func assertTempFiles(t *testing.T, dir string, want int) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, TempPattern))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != want {
		t.Fatalf("temp files = %v, want %d", matches, want)
	}
}

// mustWriteSize creates parent directory and writes n bytes.
func mustWriteSize(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}

// argValue returns value for key-style CLI args.
func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

// hasArg reports whether args include the target flag.
func hasArg(args []string, key string) bool {
	for _, arg := range args {
		if arg == key {
			return true
		}
	}
	return false
}
