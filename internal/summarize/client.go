// Package summarize produces meeting summaries through a chat completion
// model with a single fallback model.
package summarize

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/provider"
)

// chatAPI is the subset of the OpenAI client used here.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Model describes one chat model and its generation budget.
type Model struct {
	Name string
	// MaxCompletionTokens is used by reasoning models; MaxTokens by legacy ones.
	MaxCompletionTokens int
	MaxTokens           int
	Temperature         float32
}

// DefaultPrimary is the first model tried for every summary.
func DefaultPrimary() Model {
	return Model{Name: "o3-mini", MaxCompletionTokens: 8000}
}

// DefaultFallback is tried once when the primary model fails.
func DefaultFallback() Model {
	return Model{Name: openai.GPT3Dot5Turbo, MaxTokens: 2000, Temperature: 0.3}
}

// Client summarizes text with a primary and a fallback model.
type Client struct {
	api      chatAPI
	primary  Model
	fallback Model
	log      zerolog.Logger
}

// NewClient constructs a summarization client. Zero-valued models are
// replaced by the defaults.
func NewClient(api chatAPI, primary, fallback Model, log zerolog.Logger) *Client {
	if primary.Name == "" {
		primary = DefaultPrimary()
	}
	if fallback.Name == "" {
		fallback = DefaultFallback()
	}
	return &Client{api: api, primary: primary, fallback: fallback, log: log}
}

// Summarize returns a summary of text. The prompt does not depend on kind;
// kind only tags logs. Any primary failure, including an empty choice
// list, triggers exactly one fallback call with the same prompt.
func (c *Client) Summarize(ctx context.Context, text string, kind domain.SummaryKind) (string, error) {
	const op = "summarize"

	prompt := buildPrompt(text)
	log := c.log.With().Str("kind", string(kind)).Logger()

	summary, err := c.complete(ctx, c.primary, prompt)
	if err == nil {
		return summary, nil
	}
	if domain.IsKind(err, domain.ErrCancelled) {
		return "", err
	}

	log.Warn().Err(err).Str("model", c.primary.Name).Str("fallback", c.fallback.Name).Msg("primary model failed, using fallback")

	summary, fbErr := c.complete(ctx, c.fallback, prompt)
	if fbErr == nil {
		return summary, nil
	}
	if domain.IsKind(fbErr, domain.ErrCancelled) {
		return "", fbErr
	}

	e := domain.NewError(domain.ErrProvider, op, "primary and fallback models failed", fbErr)
	var last *domain.Error
	if errors.As(fbErr, &last) {
		e.Status = last.Status
	}
	return "", e
}

func (c *Client) complete(ctx context.Context, model Model, prompt string) (string, error) {
	op := "summarize/" + model.Name

	req := openai.ChatCompletionRequest{
		Model: model.Name,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: model.MaxCompletionTokens,
		MaxTokens:           model.MaxTokens,
		Temperature:         model.Temperature,
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", provider.WrapError(ctx, op, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewError(domain.ErrInvalidResponse, op, "response has no choices", nil)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
