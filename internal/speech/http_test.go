package speech_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-creator/internal/audio"
	"github.com/book-expert/audiobook-creator/internal/speech"
)

type fakeService struct {
	texts       []string
	loadedVoice string
	failNext    bool
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()

	svc := &fakeService{}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/voice/load", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Voice string `json:"voice"`
		}
		if json.NewDecoder(r.Body).Decode(&body) != nil || body.Voice == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "missing voice"})

			return
		}

		svc.loadedVoice = body.Voice
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/synthesize", func(w http.ResponseWriter, r *http.Request) {
		if svc.failNext {
			svc.failNext = false
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"detail":     "device busy",
				"error_code": "DEVICE_BUSY",
			})

			return
		}

		var body struct {
			Text string `json:"text"`
		}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		svc.texts = append(svc.texts, body.Text)

		wav, err := audio.EncodeWAV(make([]float32, 2400), audio.DefaultSampleRate)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return svc, server
}

func newHTTPEngine(t *testing.T, baseURL string) *speech.HTTPEngine {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { testLogger.Close() })

	return speech.NewHTTPEngine(baseURL, 5*time.Second, testLogger)
}

func TestHTTPEngineSynthesize(t *testing.T) {
	t.Parallel()

	svc, server := newFakeService(t)
	engine := newHTTPEngine(t, server.URL)
	ctx := context.Background()

	require.NoError(t, engine.HealthCheck(ctx))
	require.NoError(t, engine.Load(ctx, "tara"))
	assert.Equal(t, "tara", svc.loadedVoice)

	segment, err := engine.Synthesize(ctx, "Hello there.", 1.0)
	require.NoError(t, err)
	assert.Len(t, segment.Samples, 2400)
	assert.Equal(t, audio.DefaultSampleRate, segment.SampleRate)
	assert.Equal(t, []string{"Hello there."}, svc.texts)

	require.NoError(t, engine.Unload())
}

func TestHTTPEngineRequiresLoadedVoice(t *testing.T) {
	t.Parallel()

	_, server := newFakeService(t)
	engine := newHTTPEngine(t, server.URL)

	_, err := engine.Synthesize(context.Background(), "text", 1.0)
	require.ErrorIs(t, err, speech.ErrVoiceNotLoaded)
}

func TestHTTPEngineServiceError(t *testing.T) {
	t.Parallel()

	svc, server := newFakeService(t)
	engine := newHTTPEngine(t, server.URL)
	ctx := context.Background()

	require.NoError(t, engine.Load(ctx, "leo"))

	svc.failNext = true

	_, err := engine.Synthesize(ctx, "text", 1.0)
	require.ErrorIs(t, err, speech.ErrServiceFailure)
	assert.Contains(t, err.Error(), "device busy")
}
