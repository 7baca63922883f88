// Package lifecycle runs the background maintenance loops: sweeping expired
// audio files out of the cache directory and evicting idle sessions from the
// session store. Sweeps log failures and keep running; a broken sweep never
// takes the reply pipeline down.
package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/tts-emotion-router/internal/session"
)

// Settings controls the maintenance loops.
type Settings struct {
	// AudioDir is the cache directory swept for expired audio files.
	AudioDir string
	// AudioTTL is how long a generated file may stay on disk. The sweep
	// runs every AudioTTL/2.
	AudioTTL time.Duration
	// SessionIdleTTL evicts sessions with no synthesis activity for this
	// long.
	SessionIdleTTL time.Duration
	// SessionSweepInterval is how often the session sweep runs.
	SessionSweepInterval time.Duration
	// MaxSessions caps the store; the oldest-idle sessions beyond the cap
	// are evicted even when still within the idle TTL.
	MaxSessions int
}

// Manager owns the sweep goroutines. Start launches them, Stop cancels and
// waits for them to drain.
type Manager struct {
	settings Settings
	sessions *session.Store
	log      *logger.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// NewManager creates a manager over the session store.
func NewManager(settings Settings, sessions *session.Store, log *logger.Logger) *Manager {
	return &Manager{
		settings: settings,
		sessions: sessions,
		log:      log,
		cancel:   nil,
		wg:       sync.WaitGroup{},
		started:  false,
	}
}

// Start launches the audio and session sweeps. Calling Start twice without
// an intervening Stop is a no-op.
func (m *Manager) Start(ctx context.Context) {
	if m.started {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	if m.settings.AudioTTL > 0 && m.settings.AudioDir != "" {
		m.wg.Add(1)

		go m.runLoop(runCtx, m.settings.AudioTTL/2, m.sweepAudio)
	}

	if m.settings.SessionSweepInterval > 0 {
		m.wg.Add(1)

		go m.runLoop(runCtx, m.settings.SessionSweepInterval, m.sweepSessions)
	}

	m.log.Info(
		"lifecycle started: audio ttl %s, session idle ttl %s, session cap %d",
		m.settings.AudioTTL, m.settings.SessionIdleTTL, m.settings.MaxSessions,
	)
}

// Stop cancels the sweeps and blocks until both goroutines exit.
func (m *Manager) Stop() {
	if !m.started {
		return
	}

	m.cancel()
	m.wg.Wait()
	m.started = false

	m.log.Info("lifecycle stopped")
}

// runLoop invokes sweep on every tick until the context is cancelled. One
// sweep runs immediately on start so a restart does not wait a full interval
// to reclaim disk.
func (m *Manager) runLoop(ctx context.Context, interval time.Duration, sweep func()) {
	defer m.wg.Done()

	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// sweepAudio deletes cache files whose modification time is older than the
// audio TTL. Files that vanish mid-sweep or fail to delete are logged and
// skipped.
func (m *Manager) sweepAudio() {
	cutoff := time.Now().Add(-m.settings.AudioTTL)

	entries, readErr := os.ReadDir(m.settings.AudioDir)
	if readErr != nil {
		m.log.Warn("audio sweep: cannot read %s: %v", m.settings.AudioDir, readErr)

		return
	}

	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.settings.AudioDir, entry.Name())

		removeErr := os.Remove(path)
		if removeErr != nil {
			m.log.Warn("audio sweep: failed to remove %s: %v", path, removeErr)

			continue
		}

		removed++
	}

	if removed > 0 {
		m.log.Info("audio sweep removed %d expired files from %s", removed, m.settings.AudioDir)
	}
}

// sweepSessions evicts idle sessions and enforces the session cap.
func (m *Manager) sweepSessions() {
	evicted := m.sessions.EvictStale(m.settings.SessionIdleTTL, m.settings.MaxSessions)
	if evicted > 0 {
		m.log.Info("session sweep evicted %d sessions, %d remain", evicted, m.sessions.Len())
	}
}
