// Package voice maps emotions to provider voice identifiers and speech
// speeds, with a fixed fallback preference order when the configured voice
// map has gaps.
package voice

import (
	"sort"
	"sync"

	"github.com/book-expert/tts-emotion-router/internal/core"
)

// defaultSpeed is used when neither the emotion nor neutral has a speed entry.
const defaultSpeed = 1.0

// preference maps each emotion to the voice tried after the exact and
// neutral lookups fail.
var preference = map[core.Emotion]core.Emotion{
	core.EmotionSad:     core.EmotionAngry,
	core.EmotionAngry:   core.EmotionAngry,
	core.EmotionHappy:   core.EmotionHappy,
	core.EmotionNeutral: core.EmotionHappy,
}

// Router performs voice and speed selection. The maps are externally
// supplied configuration and are treated as read-only; the mutex covers the
// swap when a new configuration snapshot is applied mid-reply.
type Router struct {
	mu     sync.RWMutex
	voices map[core.Emotion]string
	speeds map[core.Emotion]float64
}

// NewRouter builds a router over the configured voice and speed maps.
func NewRouter(voices map[core.Emotion]string, speeds map[core.Emotion]float64) *Router {
	return &Router{mu: sync.RWMutex{}, voices: voices, speeds: speeds}
}

// Apply swaps in the maps from a new configuration snapshot.
func (r *Router) Apply(voices map[core.Emotion]string, speeds map[core.Emotion]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.voices = voices
	r.speeds = speeds
}

// PickVoice selects a voice for the emotion. Lookup order: exact emotion,
// neutral, the emotion's preferred fallback, then happy and angry, then the
// first non-empty entry in sorted key order. The returned key names which
// map entry won; ok is false when the map has no usable entry at all, in
// which case the caller must skip synthesis.
func (r *Router) PickVoice(emotion core.Emotion) (key core.Emotion, id string, ok bool) {
	r.mu.RLock()
	voices := r.voices
	r.mu.RUnlock()

	if id := voices[emotion]; id != "" {
		return emotion, id, true
	}

	if id := voices[core.EmotionNeutral]; id != "" {
		return core.EmotionNeutral, id, true
	}

	candidates := []core.Emotion{preference[emotion], core.EmotionHappy, core.EmotionAngry}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}

		if id := voices[candidate]; id != "" {
			return candidate, id, true
		}
	}

	keys := make([]core.Emotion, 0, len(voices))
	for k := range voices {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		if id := voices[k]; id != "" {
			return k, id, true
		}
	}

	return "", "", false
}

// PickSpeed returns the speed for the emotion, falling back to the neutral
// entry and then to 1.0.
func (r *Router) PickSpeed(emotion core.Emotion) float64 {
	r.mu.RLock()
	speeds := r.speeds
	r.mu.RUnlock()

	if speed, ok := speeds[emotion]; ok && speed > 0 {
		return speed
	}

	if speed, ok := speeds[core.EmotionNeutral]; ok && speed > 0 {
		return speed
	}

	return defaultSpeed
}
