// Package deepgram is a thin client for the hosted prerecorded
// transcription API. The provider is treated as an opaque collaborator:
// bytes and options in, a normalized result or a typed error out.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ProviderName identifies the provider in normalized results.
const ProviderName = "deepgram"

// DefaultBaseURL is the hosted API endpoint.
const DefaultBaseURL = "https://api.deepgram.com"

// ErrMissingAPIKey is returned when Transcribe is called without a credential.
var ErrMissingAPIKey = errors.New("deepgram api key is empty")

// Options selects model and formatting behavior for one request.
type Options struct {
	Model    string
	Language string
	Diarize  bool
}

// Result is the provider response reduced to what the app consumes.
type Result struct {
	Transcript      string
	Language        string
	Model           string
	DurationSeconds float64
}

// ProviderError carries a provider-reported failure through to the job state.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error formats the provider failure for diagnostics.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("deepgram: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("deepgram: %s (http %d)", e.Message, e.StatusCode)
}

// Client calls the prerecorded listen endpoint over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client; empty baseURL selects the hosted endpoint.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Prerecorded transcription of large media is slow on the provider
		// side; the context controls cancellation, this is the hard cap.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		logger:     logger,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return ProviderName
}

// listenResponse mirrors the prerecorded response fields the app reads.
type listenResponse struct {
	Metadata struct {
		Duration  float64              `json:"duration"`
		ModelInfo map[string]modelInfo `json:"model_info"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// modelInfo is per-model metadata echoed back by the provider.
type modelInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// errorResponse is the provider's failure payload.
type errorResponse struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// Transcribe submits audio bytes and returns the first channel transcript.
func (c *Client) Transcribe(ctx context.Context, apiKey string, audio []byte, mimeType string, opts Options) (Result, error) {
	if strings.TrimSpace(apiKey) == "" {
		return Result{}, ErrMissingAPIKey
	}

	endpoint := c.baseURL + "/v1/listen?" + buildQuery(opts)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return Result{}, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+apiKey)
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mimeType)

	c.logger.Info("submitting audio to transcription provider",
		slog.Int("bytes", len(audio)),
		slog.String("model", opts.Model),
		slog.String("mimeType", mimeType))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var parsed errorResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.ErrMsg != "" {
			perr.Code = parsed.ErrCode
			perr.Message = parsed.ErrMsg
		}
		return Result{}, perr
	}

	var payload listenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("decode provider response: %w", err)
	}

	if len(payload.Results.Channels) == 0 || len(payload.Results.Channels[0].Alternatives) == 0 {
		return Result{}, &ProviderError{
			StatusCode: resp.StatusCode,
			Code:       "empty_response",
			Message:    "provider returned no transcription alternatives",
		}
	}

	channel := payload.Results.Channels[0]
	result := Result{
		Transcript:      channel.Alternatives[0].Transcript,
		Language:        channel.DetectedLanguage,
		Model:           opts.Model,
		DurationSeconds: payload.Metadata.Duration,
	}
	if result.Language == "" {
		result.Language = normalizeLanguage(opts.Language)
	}
	for _, info := range payload.Metadata.ModelInfo {
		if info.Name != "" {
			result.Model = info.Name
			break
		}
	}

	return result, nil
}

// buildQuery encodes transcription options as listen endpoint parameters.
func buildQuery(opts Options) string {
	query := url.Values{}
	if opts.Model != "" {
		query.Set("model", opts.Model)
	}
	if lang := normalizeLanguage(opts.Language); lang != "" {
		query.Set("language", lang)
	} else {
		query.Set("detect_language", "true")
	}
	if opts.Diarize {
		query.Set("diarize", "true")
	}
	query.Set("smart_format", "true")
	query.Set("punctuate", "true")
	return query.Encode()
}

// normalizeLanguage maps "auto" and empty language to no override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
