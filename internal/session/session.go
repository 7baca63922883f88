// Package session tracks per-conversation state for the TTS pipeline:
// cooldown timestamps, pending emotions, cached assistant text and
// per-session output overrides. The store is safe for concurrent use and is
// bounded by the lifecycle sweeps.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/book-expert/tts-emotion-router/internal/core"
)

// State is the mutable record for one conversation. Fields are only mutated
// through Store methods so that read-modify-write sequences on a single
// session are atomic with respect to other reply tasks.
type State struct {
	LastSynthesisAt     time.Time
	PendingEmotion      core.Emotion
	HasPendingEmotion   bool
	LastEmotion         core.Emotion
	LastVoice           string
	AssistantText       string
	AssistantTextAt     time.Time
	MixedOutputOverride *bool
}

// Snapshot is a read-only copy of a session's state at one instant.
type Snapshot struct {
	Key             core.ConversationKey
	LastSynthesisAt time.Time
	LastEmotion     core.Emotion
	LastVoice       string
}

// Store holds every tracked session behind one mutex. Sessions are created
// lazily on first reference and evicted by the lifecycle sweeps.
type Store struct {
	mu       sync.Mutex
	sessions map[core.ConversationKey]*State
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[core.ConversationKey]*State),
	}
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// Contains reports whether the key currently has a tracked session.
func (s *Store) Contains(key core.ConversationKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[key]

	return ok
}

// get returns the session for key, creating it if needed. Callers must hold
// the store mutex.
func (s *Store) get(key core.ConversationKey) *State {
	st, ok := s.sessions[key]
	if !ok {
		st = &State{}
		s.sessions[key] = st
	}

	return st
}

// LastSynthesisAt returns the session's last synthesis time, zero when the
// session is unknown.
func (s *Store) LastSynthesisAt(key core.ConversationKey) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok {
		return time.Time{}
	}

	return st.LastSynthesisAt
}

// SetPendingEmotion records the emotion parsed from a reply's marker. It is
// consumed, once, by ConsumePendingEmotion.
func (s *Store) SetPendingEmotion(key core.ConversationKey, emotion core.Emotion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(key)
	st.PendingEmotion = emotion
	st.HasPendingEmotion = true
}

// ConsumePendingEmotion returns and clears the pending emotion in one
// atomic step.
func (s *Store) ConsumePendingEmotion(key core.ConversationKey) (core.Emotion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(key)
	if !st.HasPendingEmotion {
		return "", false
	}

	emotion := st.PendingEmotion
	st.PendingEmotion = ""
	st.HasPendingEmotion = false

	return emotion, true
}

// MarkSynthesized refreshes the cooldown timestamp and records the selection
// that was applied.
func (s *Store) MarkSynthesized(key core.ConversationKey, emotion core.Emotion, voice string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(key)
	st.LastSynthesisAt = time.Now()
	st.LastEmotion = emotion
	st.LastVoice = voice
}

// SetAssistantText caches the most recent clean reply text for best-effort
// history logging.
func (s *Store) SetAssistantText(key core.ConversationKey, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(key)
	st.AssistantText = text
	st.AssistantTextAt = time.Now()
}

// TakeAssistantText returns and clears the cached assistant text.
func (s *Store) TakeAssistantText(key core.ConversationKey) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok || st.AssistantText == "" {
		return "", false
	}

	text := st.AssistantText
	st.AssistantText = ""

	return text, true
}

// SetMixedOverride sets the session-level mixed-output override. Passing nil
// resets the session to the global default.
func (s *Store) SetMixedOverride(key core.ConversationKey, override *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.get(key)
	if override == nil {
		st.MixedOutputOverride = nil

		return
	}

	value := *override
	st.MixedOutputOverride = &value
}

// MixedOverride returns the session-level mixed-output override, or nil when
// the session follows the global default.
func (s *Store) MixedOverride(key core.ConversationKey) *bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok || st.MixedOutputOverride == nil {
		return nil
	}

	value := *st.MixedOutputOverride

	return &value
}

// Peek returns a read-only snapshot of the session, and false when the key
// is not tracked.
func (s *Store) Peek(key core.ConversationKey) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok {
		return Snapshot{}, false
	}

	return Snapshot{
		Key:             key,
		LastSynthesisAt: st.LastSynthesisAt,
		LastEmotion:     st.LastEmotion,
		LastVoice:       st.LastVoice,
	}, true
}

// Remove drops a session. It reports whether the session existed.
func (s *Store) Remove(key core.ConversationKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[key]
	delete(s.sessions, key)

	return ok
}

// EvictStale removes sessions idle beyond idleTTL and, when the store still
// exceeds maxSessions, the oldest-idle sessions beyond that cap. Candidates
// are collected from a snapshot so reply handling never blocks behind the
// sweep for long. It returns the number of sessions evicted.
func (s *Store) EvictStale(idleTTL time.Duration, maxSessions int) int {
	now := time.Now()

	s.mu.Lock()
	snapshot := make([]Snapshot, 0, len(s.sessions))
	for key, st := range s.sessions {
		snapshot = append(snapshot, Snapshot{Key: key, LastSynthesisAt: st.LastSynthesisAt})
	}
	s.mu.Unlock()

	stale := make(map[core.ConversationKey]struct{})

	for _, snap := range snapshot {
		if idleTTL > 0 && now.Sub(snap.LastSynthesisAt) > idleTTL {
			stale[snap.Key] = struct{}{}
		}
	}

	if maxSessions > 0 && len(snapshot) > maxSessions {
		sort.Slice(snapshot, func(i, j int) bool {
			return snapshot[i].LastSynthesisAt.Before(snapshot[j].LastSynthesisAt)
		})

		excess := len(snapshot) - maxSessions
		for _, snap := range snapshot[:excess] {
			stale[snap.Key] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0

	for key := range stale {
		if _, ok := s.sessions[key]; ok {
			delete(s.sessions, key)
			evicted++
		}
	}

	return evicted
}
