package deepgram

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestClient points a client at an httptest server.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTranscribeSuccess(t *testing.T) {
	var gotAuth, gotContentType string
	var gotQuery map[string][]string
	var gotBody []byte

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.Query()
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"metadata": {"duration": 12.5, "model_info": {"abc": {"name": "2-general-nova", "version": "2024"}}},
			"results": {"channels": [{"detected_language": "en", "alternatives": [{"transcript": "hello there", "confidence": 0.98}]}]}
		}`))
	})

	result, err := client.Transcribe(context.Background(), "dg-key", []byte("audio-bytes"), "audio/wav", Options{
		Model:    "nova-2",
		Language: "auto",
		Diarize:  true,
	})
	require.NoError(t, err)

	require.Equal(t, "hello there", result.Transcript)
	require.Equal(t, "en", result.Language)
	require.Equal(t, "2-general-nova", result.Model)
	require.Equal(t, 12.5, result.DurationSeconds)

	require.Equal(t, "Token dg-key", gotAuth)
	require.Equal(t, "audio/wav", gotContentType)
	require.Equal(t, []byte("audio-bytes"), gotBody)
	require.Equal(t, []string{"nova-2"}, gotQuery["model"])
	require.Equal(t, []string{"true"}, gotQuery["detect_language"], "auto language enables detection")
	require.Equal(t, []string{"true"}, gotQuery["diarize"])
	require.Equal(t, []string{"true"}, gotQuery["smart_format"])
	require.Empty(t, gotQuery["language"])
}

func TestTranscribeFixedLanguage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ru", r.URL.Query().Get("language"))
		require.Empty(t, r.URL.Query().Get("detect_language"))
		_, _ = w.Write([]byte(`{"metadata":{"duration":1},"results":{"channels":[{"alternatives":[{"transcript":"ok"}]}]}}`))
	})

	result, err := client.Transcribe(context.Background(), "dg-key", []byte("a"), "", Options{Model: "nova-2", Language: "ru"})
	require.NoError(t, err)
	require.Equal(t, "ru", result.Language, "request language used when provider reports none")
}

func TestTranscribeProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"err_code":"INVALID_AUDIO","err_msg":"corrupt container"}`))
	})

	_, err := client.Transcribe(context.Background(), "dg-key", []byte("a"), "audio/wav", Options{Model: "nova-2"})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, http.StatusBadRequest, perr.StatusCode)
	require.Equal(t, "INVALID_AUDIO", perr.Code)
	require.Equal(t, "corrupt container", perr.Message)
}

func TestTranscribeEmptyResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"metadata":{"duration":0},"results":{"channels":[]}}`))
	})

	_, err := client.Transcribe(context.Background(), "dg-key", []byte("a"), "audio/wav", Options{})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "empty_response", perr.Code)
}

func TestTranscribeMissingAPIKey(t *testing.T) {
	client := NewClient("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := client.Transcribe(context.Background(), "  ", []byte("a"), "audio/wav", Options{})
	require.ErrorIs(t, err, ErrMissingAPIKey)
}
