package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Env holds process-level configuration read from the environment.
// Provider credentials live here rather than in persisted settings.
type Env struct {
	// Provider settings
	OpenAIAPIKey         string        `env:"OPENAI_API_KEY" json:"-"`
	OpenAIBaseURL        string        `env:"OPENAI_BASE_URL" json:"openai_base_url,omitempty"`
	TranscribeModel      string        `env:"TRANSCRIBE_MODEL, default=whisper-1" json:"transcribe_model"`
	SummaryPrimaryModel  string        `env:"SUMMARY_PRIMARY_MODEL, default=o3-mini" json:"summary_primary_model"`
	SummaryFallbackModel string        `env:"SUMMARY_FALLBACK_MODEL, default=gpt-3.5-turbo" json:"summary_fallback_model"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT, default=10m" json:"request_timeout"`

	// Job settings
	StopTimeout time.Duration `env:"STOP_TIMEOUT, default=5s" json:"stop_timeout"`

	// Tool settings
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Optional S3 mirror settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX, default=meeting-summaries" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=console" json:"log_format"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`
}

// LoadEnv loads an optional dotenv file and then reads the environment.
// A missing dotenv file is not an error; variables already present in the
// process environment win over the file.
func LoadEnv(ctx context.Context, dotenvPath string) (*Env, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", dotenvPath, err)
		}
	}
	return processEnv(ctx, envconfig.OsLookuper())
}

// LoadEnvFrom reads configuration from an explicit lookuper.
func LoadEnvFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Env, error) {
	return processEnv(ctx, lookuper)
}

func processEnv(ctx context.Context, lookuper envconfig.Lookuper) (*Env, error) {
	cfg := &Env{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// S3Enabled returns true if S3 mirroring is configured.
func (e *Env) S3Enabled() bool {
	return e.S3Bucket != "" && e.S3Region != ""
}

// Warnings lists non-fatal configuration problems worth surfacing at startup.
func (e *Env) Warnings() []string {
	var warnings []string
	if e.OpenAIAPIKey == "" {
		warnings = append(warnings, "OPENAI_API_KEY is not set; transcription and summarization will fail until it is configured")
	}
	if e.S3Bucket != "" && e.S3Region == "" {
		warnings = append(warnings, "S3_BUCKET is set without S3_REGION; result mirroring is disabled")
	}
	return warnings
}

// String returns a representation with sensitive values masked.
func (e *Env) String() string {
	key := "<unset>"
	if e.OpenAIAPIKey != "" {
		key = "<set>"
	}
	return fmt.Sprintf(
		"Env{OpenAIAPIKey: %s, OpenAIBaseURL: %s, TranscribeModel: %s, SummaryPrimaryModel: %s, SummaryFallbackModel: %s, RequestTimeout: %s, FFmpegPath: %s, FFprobePath: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		key,
		e.OpenAIBaseURL,
		e.TranscribeModel,
		e.SummaryPrimaryModel,
		e.SummaryFallbackModel,
		e.RequestTimeout,
		e.FFmpegPath,
		e.FFprobePath,
		e.S3Bucket,
		e.S3Region,
		e.LogFormat,
		e.LogLevel,
	)
}
