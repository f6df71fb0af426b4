// Package provider builds the OpenAI-compatible client shared by the
// transcription and summarization clients.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"meeting-summarizer/internal/domain"
)

// Config holds connection settings for the provider API.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates an OpenAI client, honoring a custom base URL for
// compatible gateways.
func NewClient(cfg Config) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return openai.NewClientWithConfig(clientConfig)
}

// WrapError converts a client error into a *domain.Error. Cancellation of
// ctx wins over whatever the transport reported.
func WrapError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.NewError(domain.ErrCancelled, op, "request cancelled", ctxErr)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := domain.NewError(domain.ErrProvider, op, apiErr.Message, err)
		e.Status = apiErr.HTTPStatusCode
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.HTTPStatus
		if msg == "" {
			msg = "request failed"
		}
		e := domain.NewError(domain.ErrProvider, op, msg, err)
		e.Status = reqErr.HTTPStatusCode
		return e
	}

	return domain.NewError(domain.ErrProvider, op, fmt.Sprintf("request failed: %v", err), err)
}
