// Package synth drives the external speech-synthesis backend. Results are
// content-addressed cached on disk, transient failures are retried with
// exponential backoff, and generated files are validated before use.
package synth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// API endpoint and header constants.
const (
	apiSpeechPath       = "/audio/speech"
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
)

// Retry and cache constants.
const (
	initialBackoff  = 1 * time.Second
	maxBackoff      = 8 * time.Second
	cacheKeyHexLen  = 16
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// Static errors.
var (
	ErrBaseURLEmpty     = errors.New("provider base URL cannot be empty")
	ErrAPIKeyEmpty      = errors.New("provider API key cannot be empty")
	ErrTextEmpty        = errors.New("text cannot be empty")
	ErrVoiceEmpty       = errors.New("voice cannot be empty")
	ErrNonAudioResponse = errors.New("provider returned non-audio content")
	ErrRequestRejected  = errors.New("provider rejected request")
	ErrRetriesExhausted = errors.New("synthesis retries exhausted")
)

// Options configures the synthesis provider. All fields come from the
// configuration snapshot and are read-only to this package.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	Format     string
	Gain       float64
	SampleRate int
	CacheDir   string
	Timeout    time.Duration
	MaxRetries int
	// RetryBackoff overrides the initial backoff between attempts; zero
	// keeps the 1s default.
	RetryBackoff time.Duration
}

// request is the JSON payload for a synthesis call.
type request struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
	Gain           float64 `json:"gain"`
	SampleRate     int     `json:"sample_rate,omitempty"`
}

// cacheKeyFields feeds the content-addressed cache hash. Every parameter
// that changes the audible output must be part of this struct.
type cacheKeyFields struct {
	Text       string  `json:"t"`
	Voice      string  `json:"v"`
	Model      string  `json:"m"`
	Speed      float64 `json:"s"`
	Format     string  `json:"f"`
	Gain       float64 `json:"g"`
	SampleRate int     `json:"sr"`
}

// Provider calls the external TTS backend over HTTP. Gain is the only
// option adjustable at runtime; everything else is fixed at construction.
type Provider struct {
	httpClient *http.Client
	opts       Options
	log        *logger.Logger

	mu   sync.RWMutex
	gain float64
}

// NewProvider validates the options, ensures the cache directory exists and
// returns a ready provider.
func NewProvider(opts Options, log *logger.Logger) (*Provider, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, ErrBaseURLEmpty
	}

	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrAPIKeyEmpty
	}

	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	mkdirErr := os.MkdirAll(opts.CacheDir, dirPermissions)
	if mkdirErr != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", opts.CacheDir, mkdirErr)
	}

	return &Provider{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		log:        log,
		mu:         sync.RWMutex{},
		gain:       opts.Gain,
	}, nil
}

// SetGain adjusts the volume gain applied to subsequent syntheses. The gain
// is part of the cache key, so changed gain never serves stale audio.
func (p *Provider) SetGain(gain float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gain = gain
}

// Gain returns the current volume gain.
func (p *Provider) Gain() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.gain
}

// Synthesize produces an audio file for the text and returns its path. A
// cache hit is served from disk without a network call. On exhausted retries
// or validation failure an error is returned and any zero-byte residue is
// removed; callers degrade to text-only output.
func (p *Provider) Synthesize(ctx context.Context, text, voice string, speed float64) (string, error) {
	if text == "" {
		return "", ErrTextEmpty
	}

	if voice == "" {
		return "", ErrVoiceEmpty
	}

	outPath := p.cachePath(text, voice, speed)

	if info, statErr := os.Stat(outPath); statErr == nil && info.Size() > 0 {
		p.log.Info("synth cache hit: %s", outPath)

		return outPath, nil
	}

	audioData, callErr := p.callWithRetry(ctx, text, voice, speed)
	if callErr != nil {
		removeZeroByteFile(outPath)

		return "", callErr
	}

	writeErr := p.writeCacheEntry(outPath, audioData)
	if writeErr != nil {
		return "", writeErr
	}

	validateErr := ValidateFile(outPath, p.opts.Format, p.log)
	if validateErr != nil {
		removeErr := os.Remove(outPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			p.log.Warn("failed to remove invalid cache entry %s: %v", outPath, removeErr)
		}

		return "", fmt.Errorf("generated audio failed validation: %w", validateErr)
	}

	p.log.Info("synthesized audio: %s (%d bytes)", outPath, len(audioData))

	return outPath, nil
}

// CacheKey returns the content-addressed key for the given parameters.
// Exposed for tests and cache diagnostics.
func (p *Provider) CacheKey(text, voice string, speed float64) string {
	fields := cacheKeyFields{
		Text:       text,
		Voice:      voice,
		Model:      p.opts.Model,
		Speed:      speed,
		Format:     p.opts.Format,
		Gain:       p.Gain(),
		SampleRate: p.opts.SampleRate,
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		// Marshalling a flat struct of strings and numbers cannot fail;
		// fall back to the raw text to keep the cache functional.
		encoded = []byte(text + voice)
	}

	sum := sha256.Sum256(encoded)

	return hex.EncodeToString(sum[:])[:cacheKeyHexLen]
}

func (p *Provider) cachePath(text, voice string, speed float64) string {
	name := p.CacheKey(text, voice, speed) + "." + p.opts.Format

	return filepath.Join(p.opts.CacheDir, name)
}

// callWithRetry performs the HTTP call, retrying 429, 5xx and network-level
// failures with exponential backoff. Other 4xx statuses and non-audio
// responses fail immediately.
func (p *Provider) callWithRetry(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	payload := request{
		Model:          p.opts.Model,
		Voice:          voice,
		Input:          text,
		ResponseFormat: p.opts.Format,
		Speed:          speed,
		Gain:           p.Gain(),
		SampleRate:     p.opts.SampleRate,
	}

	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", marshalErr)
	}

	var lastErr error

	backoff := p.opts.RetryBackoff
	if backoff <= 0 {
		backoff = initialBackoff
	}

	attempts := p.opts.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		audioData, retryable, callErr := p.callOnce(ctx, body)
		if callErr == nil {
			return audioData, nil
		}

		lastErr = callErr
		if !retryable {
			return nil, callErr
		}

		p.log.Warn("synthesis attempt %d/%d failed: %v", attempt, attempts, callErr)

		if attempt == attempts {
			break
		}

		waitErr := sleepContext(ctx, backoff)
		if waitErr != nil {
			return nil, waitErr
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// callOnce performs a single synthesis request. The second return reports
// whether the failure is retryable.
func (p *Provider) callOnce(ctx context.Context, body []byte) ([]byte, bool, error) {
	url := p.opts.BaseURL + apiSpeechPath

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", reqErr)
	}

	httpReq.Header.Set(headerAuthorization, "Bearer "+p.opts.APIKey)
	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, doErr := p.httpClient.Do(httpReq)
	if doErr != nil {
		return nil, true, fmt.Errorf("synthesis request failed: %w", doErr)
	}
	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			p.log.Warn("failed to close response body: %v", closeErr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		retryable := resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode >= http.StatusInternalServerError

		return nil, retryable, p.statusError(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !isAudioContentType(contentType) {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 200))

		return nil, false, fmt.Errorf(
			"%w: content-type %q, detail: %s",
			ErrNonAudioResponse, contentType, string(detail),
		)
	}

	audioData, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, true, fmt.Errorf("failed to read audio data: %w", readErr)
	}

	return audioData, false, nil
}

// statusError turns a non-2xx response into an error carrying the provider's
// diagnostic body.
func (p *Provider) statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 200))

	return fmt.Errorf("%w: status %s, detail: %s", ErrRequestRejected, resp.Status, string(detail))
}

// writeCacheEntry writes audio bytes through a uniquely named temp file and
// renames it into place, so a concurrent reader never observes a partial
// cache entry.
func (p *Provider) writeCacheEntry(outPath string, audioData []byte) error {
	tempPath := filepath.Join(p.opts.CacheDir, uuid.NewString()+".tmp")

	writeErr := os.WriteFile(tempPath, audioData, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("failed to write audio file: %w", writeErr)
	}

	renameErr := os.Rename(tempPath, outPath)
	if renameErr != nil {
		removeZeroByteFile(tempPath)

		return fmt.Errorf("failed to move audio file into cache: %w", renameErr)
	}

	return nil
}

func isAudioContentType(contentType string) bool {
	ct := strings.ToLower(contentType)

	return strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "application/octet-stream")
}

// removeZeroByteFile deletes a partially written empty file, ignoring every
// other case.
func removeZeroByteFile(path string) {
	info, statErr := os.Stat(path)
	if statErr != nil || info.Size() > 0 {
		return
	}

	_ = os.Remove(path)
}

// sleepContext waits for the backoff duration or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("synthesis cancelled during backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
