// Package transcribe turns prepared audio into a time-aligned transcript
// using the provider's speech-to-text endpoint.
package transcribe

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/provider"
)

// DefaultLanguage is the language hint sent when none is configured.
const DefaultLanguage = "ko"

// audioAPI is the subset of the OpenAI client used here.
type audioAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Client calls the transcription endpoint once per audio file.
type Client struct {
	api   audioAPI
	model string
	log   zerolog.Logger
}

// NewClient constructs a transcription client for the given model.
func NewClient(api audioAPI, model string, log zerolog.Logger) *Client {
	if strings.TrimSpace(model) == "" {
		model = openai.Whisper1
	}
	return &Client{api: api, model: model, log: log}
}

// Transcribe uploads audioPath and returns the recognized text and segments.
// There is no retry; provider failures surface as provider_error.
func (c *Client) Transcribe(ctx context.Context, audioPath, language string) (domain.Transcript, error) {
	const op = "transcribe"

	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}

	c.log.Debug().Str("path", audioPath).Str("model", c.model).Str("language", language).Msg("transcription request")
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: audioPath,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return domain.Transcript{}, provider.WrapError(ctx, op, err)
	}

	transcript := toTranscript(resp)
	if transcript.Text == "" {
		return domain.Transcript{}, domain.NewError(domain.ErrInvalidResponse, op, "transcription response has no text", nil)
	}

	c.log.Debug().Int("segments", len(transcript.Segments)).Int("chars", len(transcript.Text)).Msg("transcription received")
	return transcript, nil
}

// toTranscript maps the provider payload to the domain transcript; absent
// fields stay at their zero values.
func toTranscript(resp openai.AudioResponse) domain.Transcript {
	segments := make([]domain.TranscriptSegment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, domain.TranscriptSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	return domain.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Segments: segments,
	}
}
