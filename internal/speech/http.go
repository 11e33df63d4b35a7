package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-creator/internal/audio"
	"github.com/book-expert/audiobook-creator/internal/core"
)

// API endpoints of the sidecar speech service.
const (
	apiSynthesize = "/v1/synthesize"
	apiLoadVoice  = "/v1/voice/load"
	apiHealth     = "/health"
)

const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

const defaultHTTPTimeout = 5 * time.Minute

// Static errors for the HTTP engine.
var (
	ErrEmptyAudio     = errors.New("service returned empty audio data")
	ErrServiceFailure = errors.New("speech service request failed")
)

// synthesizeRequest is the JSON payload for one synthesis call.
type synthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed,omitempty"`
}

// loadRequest asks the service to bring a voice model into device memory.
type loadRequest struct {
	Voice string `json:"voice"`
}

// serviceError is the structured error body the service returns on failure.
type serviceError struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPEngine implements the speech engine contract against a sidecar HTTP
// service that hosts the model out of process. Deployments that keep the
// model resident in a long-lived server use this instead of ChatLLMEngine.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger

	mu    sync.Mutex
	voice string
}

// NewHTTPEngine creates an engine client. baseURL includes protocol and port
// (e.g. "http://localhost:8000").
func NewHTTPEngine(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPEngine {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &HTTPEngine{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// HealthCheck verifies the service is reachable and reports healthy.
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, e.baseURL+apiHealth, http.NoBody,
	)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", e.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %s", ErrServiceFailure, resp.Status)
	}

	return nil
}

// Load asks the service to make voiceID resident.
func (e *HTTPEngine) Load(ctx context.Context, voiceID string) error {
	body, err := json.Marshal(loadRequest{Voice: voiceID})
	if err != nil {
		return fmt.Errorf("failed to marshal load request: %w", err)
	}

	resp, err := e.post(ctx, apiLoadVoice, body, contentTypeJSON)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return e.parseErrorResponse(resp)
	}

	e.mu.Lock()
	e.voice = voiceID
	e.mu.Unlock()

	e.log.Info("voice %q loaded by service at %s", voiceID, e.baseURL)

	return nil
}

// Unload clears the session. The service evicts the model on its own idle
// policy; the client only forgets the voice.
func (e *HTTPEngine) Unload() error {
	e.mu.Lock()
	e.voice = ""
	e.mu.Unlock()

	return nil
}

// Synthesize renders one chunk of text through the service.
func (e *HTTPEngine) Synthesize(
	ctx context.Context,
	text string,
	speed float64,
) (core.AudioSegment, error) {
	e.mu.Lock()
	voice := e.voice
	e.mu.Unlock()

	if voice == "" {
		return core.AudioSegment{}, ErrVoiceNotLoaded
	}

	body, err := json.Marshal(synthesizeRequest{Text: text, Voice: voice, Speed: speed})
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf(
			"failed to marshal synthesize request: %w", err,
		)
	}

	resp, err := e.post(ctx, apiSynthesize, body, contentTypeWAV)
	if err != nil {
		return core.AudioSegment{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return core.AudioSegment{}, e.parseErrorResponse(resp)
	}

	if got := resp.Header.Get(headerContentType); got != contentTypeWAV {
		return core.AudioSegment{}, fmt.Errorf(
			"%w: unexpected content type %q", ErrServiceFailure, got,
		)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(data) == 0 {
		return core.AudioSegment{}, ErrEmptyAudio
	}

	samples, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf("decoding service output: %w", err)
	}

	return core.AudioSegment{
		Samples:    samples,
		SampleRate: sampleRate,
	}, nil
}

func (e *HTTPEngine) post(
	ctx context.Context,
	path string,
	body []byte,
	accept string,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, accept)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send request to speech service at %s: %w", e.baseURL, err,
		)
	}

	return resp, nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the
// raw body so diagnostics are never lost.
func (e *HTTPEngine) parseErrorResponse(resp *http.Response) error {
	var svcErr serviceError

	if json.NewDecoder(resp.Body).Decode(&svcErr) == nil && svcErr.Detail != "" {
		return fmt.Errorf(
			"%w: %s: %s (code: %s)",
			ErrServiceFailure, resp.Status, svcErr.Detail, svcErr.ErrorCode,
		)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("%w: %s: %s", ErrServiceFailure, resp.Status, string(body))
}
