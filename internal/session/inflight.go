package session

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/book-expert/tts-emotion-router/internal/core"
)

// signaturePrefixLen bounds how much of the reply text feeds the dedup
// signature: near-identical replies map to the same signature.
const signaturePrefixLen = 50

// signature dedups concurrent synthesis for near-identical replies in one
// session.
type signature struct {
	key  core.ConversationKey
	hash string
}

// InflightSet tracks which (session, text-prefix) pairs are currently being
// synthesized. Check-and-insert is a single atomic operation so two
// near-simultaneous replies cannot both pass.
type InflightSet struct {
	mu      sync.Mutex
	pending map[signature]struct{}
}

// NewInflightSet creates an empty in-flight set.
func NewInflightSet() *InflightSet {
	return &InflightSet{
		pending: make(map[signature]struct{}),
	}
}

// TryAcquire inserts the signature for (key, text) and returns true, or
// returns false when an identical synthesis is already in flight. Callers
// that receive true must call Release on every path.
func (s *InflightSet) TryAcquire(key core.ConversationKey, text string) bool {
	sig := newSignature(key, text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[sig]; ok {
		return false
	}

	s.pending[sig] = struct{}{}

	return true
}

// Release removes the signature for (key, text). Releasing a signature that
// is not held is a no-op.
func (s *InflightSet) Release(key core.ConversationKey, text string) {
	sig := newSignature(key, text)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, sig)
}

// Len returns the number of in-flight signatures.
func (s *InflightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

func newSignature(key core.ConversationKey, text string) signature {
	prefix := text

	runes := []rune(text)
	if len(runes) > signaturePrefixLen {
		prefix = string(runes[:signaturePrefixLen])
	}

	sum := sha256.Sum256([]byte(prefix))

	return signature{key: key, hash: hex.EncodeToString(sum[:8])}
}
