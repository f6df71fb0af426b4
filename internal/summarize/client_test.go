package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/provider"
)

// chatServer records chat completion requests and answers per model.
type chatServer struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	reply    func(model string) (int, string)
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	status, body := s.reply(req.Model)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func chatBody(content string) string {
	return `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":` +
		mustJSON(content) + `},"finish_reason":"stop"}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

const serverError = `{"error":{"message":"The server had an error","type":"server_error"}}`

func newTestClient(t *testing.T, srv *chatServer) *Client {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	api := provider.NewClient(provider.Config{APIKey: "test-key", BaseURL: ts.URL + "/v1"})
	return NewClient(api, Model{}, Model{}, zerolog.Nop())
}

func TestSummarizePrimarySuccess(t *testing.T) {
	srv := &chatServer{reply: func(model string) (int, string) {
		return http.StatusOK, chatBody("  결정: 다음 주 배포  ")
	}}
	client := newTestClient(t, srv)

	got, err := client.Summarize(context.Background(), "회의 내용", domain.SummaryKindParagraph)
	require.NoError(t, err)
	assert.Equal(t, "결정: 다음 주 배포", got)

	require.Len(t, srv.requests, 1)
	req := srv.requests[0]
	assert.Equal(t, "o3-mini", req.Model)
	assert.Equal(t, 8000, req.MaxCompletionTokens)
	assert.Zero(t, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.True(t, strings.HasSuffix(req.Messages[1].Content, "\n회의 내용"))
}

func TestSummarizeFallsBackOnPrimaryFailure(t *testing.T) {
	srv := &chatServer{reply: func(model string) (int, string) {
		if model == "o3-mini" {
			return http.StatusInternalServerError, serverError
		}
		return http.StatusOK, chatBody("fallback summary")
	}}
	client := newTestClient(t, srv)

	got, err := client.Summarize(context.Background(), "text", domain.SummaryKindTimestamped)
	require.NoError(t, err)
	assert.Equal(t, "fallback summary", got)

	require.Len(t, srv.requests, 2)
	fb := srv.requests[1]
	assert.Equal(t, "gpt-3.5-turbo", fb.Model)
	assert.Equal(t, 2000, fb.MaxTokens)
	assert.InDelta(t, 0.3, fb.Temperature, 1e-6)
	assert.Equal(t, srv.requests[0].Messages, fb.Messages, "fallback must reuse the same prompt")
}

func TestSummarizeEmptyChoicesTriggersFallback(t *testing.T) {
	srv := &chatServer{reply: func(model string) (int, string) {
		if model == "o3-mini" {
			return http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`
		}
		return http.StatusOK, chatBody("ok")
	}}
	client := newTestClient(t, srv)

	got, err := client.Summarize(context.Background(), "text", domain.SummaryKindParagraph)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Len(t, srv.requests, 2)
}

func TestSummarizeBothFailIsProviderError(t *testing.T) {
	srv := &chatServer{reply: func(model string) (int, string) {
		return http.StatusServiceUnavailable, serverError
	}}
	client := newTestClient(t, srv)

	_, err := client.Summarize(context.Background(), "text", domain.SummaryKindParagraph)
	require.Error(t, err)

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrProvider, derr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, derr.Status)
	assert.Len(t, srv.requests, 2, "exactly one fallback call")
}

func TestSummarizePromptIndependentOfKind(t *testing.T) {
	srv := &chatServer{reply: func(model string) (int, string) {
		return http.StatusOK, chatBody("s")
	}}
	client := newTestClient(t, srv)

	_, err := client.Summarize(context.Background(), "same", domain.SummaryKindParagraph)
	require.NoError(t, err)
	_, err = client.Summarize(context.Background(), "same", domain.SummaryKindTimestamped)
	require.NoError(t, err)

	require.Len(t, srv.requests, 2)
	assert.Equal(t, srv.requests[0].Messages, srv.requests[1].Messages)
}

func TestSummarizeCancelledSkipsFallback(t *testing.T) {
	srv := &chatServer{reply: func(model string) (int, string) {
		return http.StatusOK, chatBody("s")
	}}
	client := newTestClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Summarize(ctx, "text", domain.SummaryKindParagraph)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCancelled, domain.KindOf(err))
	assert.Empty(t, srv.requests)
}
