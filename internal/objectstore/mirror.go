package objectstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"

	"github.com/book-expert/tts-emotion-router/internal/core"
)

// Mirror wraps a synthesizer and uploads every generated clip to the audio
// bucket. Uploading is best effort: a failed upload is logged and the local
// path is still returned, so synthesis never degrades because of the mirror.
type Mirror struct {
	inner core.Synthesizer
	store *AudioStore
	log   *logger.Logger
}

// NewMirror wraps the synthesizer with bucket mirroring.
func NewMirror(inner core.Synthesizer, store *AudioStore, log *logger.Logger) *Mirror {
	return &Mirror{
		inner: inner,
		store: store,
		log:   log,
	}
}

// Synthesize delegates to the wrapped synthesizer and mirrors the resulting
// file under its cache file name.
func (m *Mirror) Synthesize(ctx context.Context, text, voice string, speed float64) (string, error) {
	path, err := m.inner.Synthesize(ctx, text, voice, speed)
	if err != nil {
		return "", err
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		m.log.Warn("audio mirror: cannot read %s: %v", path, readErr)

		return path, nil
	}

	key := filepath.Base(path)

	putErr := m.store.Put(key, data)
	if putErr != nil {
		m.log.Warn("audio mirror: upload of %s failed: %v", key, putErr)

		return path, nil
	}

	m.log.Info("audio mirror: uploaded %s (%d bytes)", key, len(data))

	return path, nil
}
