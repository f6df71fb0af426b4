package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/provider"
)

const verboseResponse = `{
  "task": "transcribe",
  "language": "korean",
  "duration": 7.5,
  "text": " 안녕하세요. 회의를 시작하겠습니다. ",
  "segments": [
    {"id": 0, "start": 0.0, "end": 3.2, "text": "안녕하세요."},
    {"id": 1, "start": 3.2, "end": 7.5, "text": "회의를 시작하겠습니다."}
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := provider.NewClient(provider.Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	return NewClient(api, "", zerolog.Nop())
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prepared.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3 fake mp3"), 0o644))
	return path
}

func TestTranscribeMapsSegments(t *testing.T) {
	var form struct{ model, language, format string }
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		form.model = r.FormValue("model")
		form.language = r.FormValue("language")
		form.format = r.FormValue("response_format")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verboseResponse))
	})

	got, err := client.Transcribe(context.Background(), writeAudio(t), "")
	require.NoError(t, err)

	assert.Equal(t, "whisper-1", form.model)
	assert.Equal(t, "ko", form.language)
	assert.Equal(t, "verbose_json", form.format)

	assert.Equal(t, "안녕하세요. 회의를 시작하겠습니다.", got.Text)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, domain.TranscriptSegment{Start: 3.2, End: 7.5, Text: "회의를 시작하겠습니다."}, got.Segments[1])
}

func TestTranscribeMissingSegmentFieldsDefaultToZero(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello","segments":[{"text":"hello"}]}`))
	})

	got, err := client.Transcribe(context.Background(), writeAudio(t), "en")
	require.NoError(t, err)
	require.Len(t, got.Segments, 1)
	assert.Zero(t, got.Segments[0].Start)
	assert.Zero(t, got.Segments[0].End)
}

func TestTranscribeEmptyTextIsInvalidResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   ","segments":[]}`))
	})

	_, err := client.Transcribe(context.Background(), writeAudio(t), "ko")
	require.Error(t, err)
	assert.Equal(t, domain.ErrInvalidResponse, domain.KindOf(err))
}

func TestTranscribeProviderErrorCarriesStatus(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	})

	_, err := client.Transcribe(context.Background(), writeAudio(t), "ko")
	require.Error(t, err)

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrProvider, derr.Kind)
	assert.Equal(t, http.StatusUnauthorized, derr.Status)
	assert.Contains(t, derr.Message, "Incorrect API key")
	assert.Equal(t, int32(1), calls.Load(), "transcription must not retry")
}

func TestTranscribeCancelledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verboseResponse))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Transcribe(ctx, writeAudio(t), "ko")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCancelled, domain.KindOf(err))
}
