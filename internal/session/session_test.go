// Package session_test tests the per-conversation state store.
package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-emotion-router/internal/core"
	"github.com/book-expert/tts-emotion-router/internal/session"
)

func TestPendingEmotionConsumeOnce(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	key := core.GroupKey("42")

	store.SetPendingEmotion(key, core.EmotionHappy)

	emotion, ok := store.ConsumePendingEmotion(key)
	require.True(t, ok)
	assert.Equal(t, core.EmotionHappy, emotion)

	_, ok = store.ConsumePendingEmotion(key)
	assert.False(t, ok, "second consume must find nothing")
}

func TestPendingEmotionOverwrite(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	key := core.UserKey("alice")

	store.SetPendingEmotion(key, core.EmotionHappy)
	store.SetPendingEmotion(key, core.EmotionSad)

	emotion, ok := store.ConsumePendingEmotion(key)
	require.True(t, ok)
	assert.Equal(t, core.EmotionSad, emotion)
}

func TestMarkSynthesizedUpdatesSnapshot(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	key := core.GroupKey("7")

	before := time.Now()
	store.MarkSynthesized(key, core.EmotionAngry, "voice-a")

	snap, ok := store.Peek(key)
	require.True(t, ok)
	assert.Equal(t, core.EmotionAngry, snap.LastEmotion)
	assert.Equal(t, "voice-a", snap.LastVoice)
	assert.False(t, snap.LastSynthesisAt.Before(before))

	assert.False(t, store.LastSynthesisAt(key).IsZero())
	assert.True(t, store.LastSynthesisAt(core.GroupKey("other")).IsZero())
}

func TestGroupAndUserKeysDoNotCollide(t *testing.T) {
	t.Parallel()

	store := session.NewStore()

	store.SetPendingEmotion(core.GroupKey("1"), core.EmotionHappy)
	store.SetPendingEmotion(core.UserKey("1"), core.EmotionSad)

	assert.Equal(t, 2, store.Len())

	emotion, ok := store.ConsumePendingEmotion(core.UserKey("1"))
	require.True(t, ok)
	assert.Equal(t, core.EmotionSad, emotion)
}

func TestAssistantTextTakeClears(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	key := core.UserKey("bob")

	store.SetAssistantText(key, "hello there")

	text, ok := store.TakeAssistantText(key)
	require.True(t, ok)
	assert.Equal(t, "hello there", text)

	_, ok = store.TakeAssistantText(key)
	assert.False(t, ok)
}

func TestMixedOverrideTriState(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	key := core.GroupKey("g")

	assert.Nil(t, store.MixedOverride(key), "untracked session follows global")

	value := true
	store.SetMixedOverride(key, &value)

	got := store.MixedOverride(key)
	require.NotNil(t, got)
	assert.True(t, *got)

	store.SetMixedOverride(key, nil)
	assert.Nil(t, store.MixedOverride(key), "reset follows global again")
}

func TestRemove(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	key := core.UserKey("x")

	store.SetPendingEmotion(key, core.EmotionHappy)
	require.True(t, store.Contains(key))

	assert.True(t, store.Remove(key))
	assert.False(t, store.Contains(key))
	assert.False(t, store.Remove(key))
}

func TestEvictStaleByIdleTTL(t *testing.T) {
	t.Parallel()

	store := session.NewStore()

	// Never-synthesized sessions have a zero timestamp and count as idle.
	store.SetPendingEmotion(core.UserKey("stale"), core.EmotionHappy)
	store.MarkSynthesized(core.UserKey("fresh"), core.EmotionHappy, "v")

	evicted := store.EvictStale(time.Hour, 0)

	assert.Equal(t, 1, evicted)
	assert.False(t, store.Contains(core.UserKey("stale")))
	assert.True(t, store.Contains(core.UserKey("fresh")))
}

func TestEvictStaleEnforcesCap(t *testing.T) {
	t.Parallel()

	store := session.NewStore()

	store.MarkSynthesized(core.UserKey("a"), core.EmotionHappy, "v")
	time.Sleep(5 * time.Millisecond)
	store.MarkSynthesized(core.UserKey("b"), core.EmotionHappy, "v")
	time.Sleep(5 * time.Millisecond)
	store.MarkSynthesized(core.UserKey("c"), core.EmotionHappy, "v")

	evicted := store.EvictStale(0, 2)

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 2, store.Len())
	assert.False(t, store.Contains(core.UserKey("a")), "oldest-idle session evicted first")
}

func TestEvictStaleNoLimitsKeepsEverything(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	store.MarkSynthesized(core.UserKey("a"), core.EmotionHappy, "v")

	assert.Equal(t, 0, store.EvictStale(0, 0))
	assert.Equal(t, 1, store.Len())
}
