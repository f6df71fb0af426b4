// Package audio converts meeting recordings into mono MP3 files that fit
// the transcription provider's upload limit.
package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"meeting-summarizer/internal/domain"
)

const (
	// MaxUploadBytes is the provider's upload limit for one audio file.
	MaxUploadBytes int64 = 25 * 1024 * 1024

	// TempPattern names every prepared file so stale ones can be swept.
	TempPattern = "meeting-summarizer-*.mp3"

	reducedBitrate      = "64k"
	reducedSampleRate   = 16000
	truncationMargin    = 0.95
	maxTruncationPasses = 3
	defaultSampleRate   = 44100
)

// Step names recorded in PreparedAudio.Steps.
const (
	StepDefault    = "default"
	StepBitrate    = "bitrate_64k"
	StepDownsample = "downsample_16k"
	StepTruncate   = "truncate"
)

// PreparedAudio describes a temp MP3 produced by Prepare. The caller owns
// the file and must remove it.
type PreparedAudio struct {
	Path            string   `json:"path"`
	DurationSeconds float64  `json:"durationSeconds"`
	SizeBytes       int64    `json:"sizeBytes"`
	Truncated       bool     `json:"truncated"`
	Steps           []string `json:"steps"`
}

// InputInfo is a cheap pre-flight look at an input file.
type InputInfo struct {
	Path         string `json:"path"`
	SizeBytes    int64  `json:"sizeBytes"`
	ExceedsLimit bool   `json:"exceedsLimit"`
}

// Preparer runs ffprobe and ffmpeg to normalize input media.
type Preparer struct {
	ffmpegPath  string
	ffprobePath string
	maxBytes    int64
	tempDir     string
	runner      commandRunner
	createTemp  func(dir, pattern string) (*os.File, error)
	remove      func(name string) error
	stat        func(name string) (os.FileInfo, error)
	log         zerolog.Logger
}

// NewPreparer constructs the production preparer with OS dependencies.
func NewPreparer(ffmpegPath, ffprobePath string, log zerolog.Logger) *Preparer {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &Preparer{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		maxBytes:    MaxUploadBytes,
		runner:      &execRunner{},
		createTemp:  os.CreateTemp,
		remove:      os.Remove,
		stat:        os.Stat,
		log:         log,
	}
}

// Inspect reports the input size and whether it is over the upload limit.
func (p *Preparer) Inspect(path string) (InputInfo, error) {
	info, err := p.stat(path)
	if err != nil {
		return InputInfo{}, domain.NewError(domain.ErrIOFailure, "inspect", fmt.Sprintf("cannot access input media: %s", path), err)
	}
	if info.IsDir() {
		return InputInfo{}, domain.NewError(domain.ErrIOFailure, "inspect", fmt.Sprintf("input is a directory: %s", path), nil)
	}
	return InputInfo{
		Path:         path,
		SizeBytes:    info.Size(),
		ExceedsLimit: info.Size() > p.maxBytes,
	}, nil
}

// Prepare encodes the input to mono MP3, stepping down quality and finally
// truncating until the result fits the upload limit.
func (p *Preparer) Prepare(ctx context.Context, inputPath string) (PreparedAudio, error) {
	const op = "prepare"

	if strings.TrimSpace(inputPath) == "" {
		return PreparedAudio{}, domain.NewError(domain.ErrIOFailure, op, "input media path is required", nil)
	}
	if _, err := p.Inspect(inputPath); err != nil {
		return PreparedAudio{}, err
	}

	duration, sampleRate, err := p.probe(ctx, inputPath)
	if err != nil {
		return PreparedAudio{}, err
	}

	rawSize := int64(duration * float64(sampleRate) * 2)
	p.log.Debug().
		Str("path", inputPath).
		Float64("duration", duration).
		Int("sample_rate", sampleRate).
		Int64("raw_bytes", rawSize).
		Msg("probed input")

	if rawSize <= p.maxBytes {
		return p.encode(ctx, inputPath, encodeOptions{}, duration, []string{StepDefault})
	}

	steps := []string{StepBitrate}
	out, err := p.encode(ctx, inputPath, encodeOptions{bitrate: reducedBitrate}, duration, steps)
	if err != nil || out.SizeBytes <= p.maxBytes {
		return out, err
	}
	p.discard(out.Path)

	steps = append(steps, StepDownsample)
	opts := encodeOptions{bitrate: reducedBitrate, sampleRate: reducedSampleRate}
	out, err = p.encode(ctx, inputPath, opts, duration, steps)
	if err != nil || out.SizeBytes <= p.maxBytes {
		return out, err
	}

	keep := duration
	for pass := 1; pass <= maxTruncationPasses; pass++ {
		if err := ctx.Err(); err != nil {
			p.discard(out.Path)
			return PreparedAudio{}, domain.NewError(domain.ErrCancelled, op, "preparation cancelled", err)
		}

		keep = keep * (float64(p.maxBytes) / float64(out.SizeBytes)) * truncationMargin
		p.discard(out.Path)

		steps = append(steps, StepTruncate)
		opts.duration = keep
		out, err = p.encode(ctx, inputPath, opts, keep, steps)
		if err != nil {
			return PreparedAudio{}, err
		}
		out.Truncated = true

		p.log.Warn().
			Int("pass", pass).
			Float64("kept_seconds", keep).
			Float64("total_seconds", duration).
			Int64("size", out.SizeBytes).
			Msg("truncated audio to fit upload limit")

		if out.SizeBytes <= p.maxBytes {
			return out, nil
		}
	}

	p.discard(out.Path)
	return PreparedAudio{}, domain.NewError(
		domain.ErrIOFailure,
		op,
		fmt.Sprintf("prepared audio exceeds upload limit after %d truncation passes", maxTruncationPasses),
		nil,
	)
}

// SweepStale removes prepared files left behind in dir by earlier runs.
// An empty dir means the OS temp directory.
func SweepStale(dir string) (int, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	matches, err := filepath.Glob(filepath.Join(dir, TempPattern))
	if err != nil {
		return 0, err
	}

	removed := 0
	var firstErr error
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			if firstErr == nil && !os.IsNotExist(err) {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

type encodeOptions struct {
	bitrate    string
	sampleRate int
	duration   float64
}

// encode runs one ffmpeg pass into a fresh temp file.
func (p *Preparer) encode(ctx context.Context, inputPath string, opts encodeOptions, duration float64, steps []string) (PreparedAudio, error) {
	const op = "encode"

	f, err := p.createTemp(p.tempDir, TempPattern)
	if err != nil {
		return PreparedAudio{}, domain.NewError(domain.ErrIOFailure, op, "failed to create temporary audio file", err)
	}
	outPath := f.Name()
	_ = f.Close()

	args := buildFFmpegArgs(inputPath, outPath, opts)
	res, runErr := p.runner.Run(ctx, p.ffmpegPath, args...)
	if runErr != nil {
		p.discard(outPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PreparedAudio{}, domain.NewError(domain.ErrCancelled, op, "preparation cancelled", ctxErr)
		}
		return PreparedAudio{}, domain.NewError(domain.ErrUnsupportedFormat, op, "ffmpeg audio conversion failed", &CommandError{
			Log: commandLog(p.ffmpegPath, args, res),
			Err: runErr,
		})
	}

	info, err := p.stat(outPath)
	if err != nil {
		p.discard(outPath)
		return PreparedAudio{}, domain.NewError(domain.ErrIOFailure, op, "ffmpeg completed but output file is missing", err)
	}

	p.log.Debug().Str("path", outPath).Strs("steps", steps).Int64("size", info.Size()).Msg("encoded audio")
	return PreparedAudio{
		Path:            outPath,
		DurationSeconds: duration,
		SizeBytes:       info.Size(),
		Steps:           append([]string(nil), steps...),
	}, nil
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probe reads duration and the first audio stream's sample rate.
func (p *Preparer) probe(ctx context.Context, inputPath string) (float64, int, error) {
	const op = "probe"

	args := buildProbeArgs(inputPath)
	res, err := p.runner.Run(ctx, p.ffprobePath, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, 0, domain.NewError(domain.ErrCancelled, op, "preparation cancelled", ctxErr)
		}
		return 0, 0, domain.NewError(domain.ErrUnsupportedFormat, op, "cannot decode input media", &CommandError{
			Log: commandLog(p.ffprobePath, args, res),
			Err: err,
		})
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return 0, 0, domain.NewError(domain.ErrUnsupportedFormat, op, "unreadable ffprobe output", err)
	}

	sampleRate := 0
	hasAudio := false
	for _, s := range out.Streams {
		if s.CodecType != "" && s.CodecType != "audio" {
			continue
		}
		hasAudio = true
		sampleRate, _ = strconv.Atoi(s.SampleRate)
		break
	}
	if !hasAudio {
		return 0, 0, domain.NewError(domain.ErrUnsupportedFormat, op, "input has no audio stream", nil)
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || duration <= 0 {
		return 0, 0, domain.NewError(domain.ErrUnsupportedFormat, op, "input has no readable duration", err)
	}

	return duration, sampleRate, nil
}

func (p *Preparer) discard(path string) {
	if path == "" {
		return
	}
	if err := p.remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn().Err(err).Str("path", path).Msg("failed to remove temporary audio")
	}
}

func commandLog(name string, args []string, res commandResult) CommandLog {
	return CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
}

// buildProbeArgs asks ffprobe for audio streams and container duration as JSON.
func buildProbeArgs(inputPath string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type,sample_rate:format=duration",
		"-of", "json",
		inputPath,
	}
}

// buildFFmpegArgs builds mono MP3 encoding args; zero options keep encoder defaults.
func buildFFmpegArgs(inputPath, outPath string, opts encodeOptions) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
	}
	if opts.sampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(opts.sampleRate))
	}
	if opts.bitrate != "" {
		args = append(args, "-b:a", opts.bitrate)
	}
	if opts.duration > 0 {
		args = append(args, "-t", strconv.FormatFloat(opts.duration, 'f', 3, 64))
	}
	return append(args, "-c:a", "libmp3lame", "-f", "mp3", outPath)
}

// NewPreparerForTests constructs a preparer with injectable dependencies.
func NewPreparerForTests(
	ffmpegPath string,
	ffprobePath string,
	runner commandRunner,
	maxBytes int64,
	tempDir string,
	remove func(name string) error,
) *Preparer {
	if remove == nil {
		remove = os.Remove
	}
	return &Preparer{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		maxBytes:    maxBytes,
		tempDir:     tempDir,
		runner:      runner,
		createTemp:  os.CreateTemp,
		remove:      remove,
		stat:        os.Stat,
		log:         zerolog.Nop(),
	}
}
