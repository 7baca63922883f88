// Package synth_test tests the synthesis provider's caching, retry and
// validation behavior against a local HTTP server.
package synth_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-emotion-router/internal/synth"
)

// fakeAudio is a plausible mp3 payload: ID3 header padded past the minimum
// size check.
var fakeAudio = append([]byte("ID3"), bytes.Repeat([]byte{0x01}, 200)...)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "synth-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

func newProvider(t *testing.T, serverURL string, maxRetries int) *synth.Provider {
	t.Helper()

	provider, err := synth.NewProvider(synth.Options{
		BaseURL:      serverURL,
		APIKey:       "test-key",
		Model:        "test-model",
		Format:       "mp3",
		Gain:         5.0,
		SampleRate:   44100,
		CacheDir:     t.TempDir(),
		Timeout:      5 * time.Second,
		MaxRetries:   maxRetries,
		RetryBackoff: time.Millisecond,
	}, newTestLogger(t))
	require.NoError(t, err)

	return provider
}

func TestNewProviderValidatesOptions(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	_, err := synth.NewProvider(synth.Options{APIKey: "k", CacheDir: t.TempDir()}, log)
	require.ErrorIs(t, err, synth.ErrBaseURLEmpty)

	_, err = synth.NewProvider(synth.Options{BaseURL: "http://x", CacheDir: t.TempDir()}, log)
	require.ErrorIs(t, err, synth.ErrAPIKeyEmpty)
}

func TestSynthesizeSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(fakeAudio)
	}))
	t.Cleanup(server.Close)

	provider := newProvider(t, server.URL, 0)

	path, err := provider.Synthesize(context.Background(), "hello", "voice-1", 1.0)

	require.NoError(t, err)
	require.FileExists(t, path)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSynthesizeCacheHitSkipsNetwork(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(fakeAudio)
	}))
	t.Cleanup(server.Close)

	provider := newProvider(t, server.URL, 0)

	first, err := provider.Synthesize(context.Background(), "cached text", "voice-1", 1.0)
	require.NoError(t, err)

	second, err := provider.Synthesize(context.Background(), "cached text", "voice-1", 1.0)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "second call must be served from cache")
}

func TestSynthesizeRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(fakeAudio)
	}))
	t.Cleanup(server.Close)

	provider := newProvider(t, server.URL, 2)

	path, err := provider.Synthesize(context.Background(), "retry me", "voice-1", 1.0)

	require.NoError(t, err)
	require.FileExists(t, path)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSynthesizeExhaustsRetriesOn429(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	provider := newProvider(t, server.URL, 2)

	_, err := provider.Synthesize(context.Background(), "rate limited", "voice-1", 1.0)

	require.ErrorIs(t, err, synth.ErrRetriesExhausted)
	assert.Equal(t, int32(3), calls.Load(), "one initial attempt plus two retries")
}

func TestSynthesizeClientErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	provider := newProvider(t, server.URL, 3)

	_, err := provider.Synthesize(context.Background(), "bad request", "voice-1", 1.0)

	require.ErrorIs(t, err, synth.ErrRequestRejected)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestSynthesizeRejectsNonAudioResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"wrong endpoint"}`))
	}))
	t.Cleanup(server.Close)

	provider := newProvider(t, server.URL, 2)

	_, err := provider.Synthesize(context.Background(), "json reply", "voice-1", 1.0)

	require.ErrorIs(t, err, synth.ErrNonAudioResponse)
}

func TestSynthesizeRejectsTinyAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3"))
	}))
	t.Cleanup(server.Close)

	provider := newProvider(t, server.URL, 0)

	_, err := provider.Synthesize(context.Background(), "tiny", "voice-1", 1.0)

	require.ErrorIs(t, err, synth.ErrAudioTooSmall)
}

func TestSynthesizeInputValidation(t *testing.T) {
	t.Parallel()

	provider := newProvider(t, "http://localhost:1", 0)

	_, err := provider.Synthesize(context.Background(), "", "voice-1", 1.0)
	require.ErrorIs(t, err, synth.ErrTextEmpty)

	_, err = provider.Synthesize(context.Background(), "text", "", 1.0)
	require.ErrorIs(t, err, synth.ErrVoiceEmpty)
}

func TestCacheKeyDependsOnParameters(t *testing.T) {
	t.Parallel()

	provider := newProvider(t, "http://localhost:1", 0)

	base := provider.CacheKey("text", "voice-1", 1.0)

	assert.Equal(t, base, provider.CacheKey("text", "voice-1", 1.0))
	assert.Len(t, base, 16)
	assert.NotEqual(t, base, provider.CacheKey("text", "voice-2", 1.0))
	assert.NotEqual(t, base, provider.CacheKey("text", "voice-1", 1.5))
	assert.NotEqual(t, base, provider.CacheKey("other", "voice-1", 1.0))
}

func TestSetGainChangesCacheKey(t *testing.T) {
	t.Parallel()

	provider := newProvider(t, "http://localhost:1", 0)

	before := provider.CacheKey("text", "voice-1", 1.0)
	provider.SetGain(2.0)

	assert.NotEqual(t, before, provider.CacheKey("text", "voice-1", 1.0))
	assert.InEpsilon(t, 2.0, provider.Gain(), 1e-9)
}
