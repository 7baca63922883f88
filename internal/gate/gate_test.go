// Package gate_test tests the synthesis condition gate.
package gate_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-emotion-router/internal/gate"
)

func openSettings() gate.Settings {
	return gate.Settings{
		Probability: 1.0,
		TextLimit:   0,
		Cooldown:    0,
		AllowMixed:  false,
	}
}

func TestCheckAllPasses(t *testing.T) {
	t.Parallel()

	g := gate.New(openSettings())

	res := g.CheckAll("hello", time.Time{}, false, nil)

	assert.True(t, res.Passed)
	assert.Empty(t, res.Reason)
}

func TestMixedContentRejected(t *testing.T) {
	t.Parallel()

	g := gate.New(openSettings())

	res := g.CheckAll("hello", time.Time{}, true, nil)

	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "mixed content")
}

func TestMixedContentGlobalAllow(t *testing.T) {
	t.Parallel()

	settings := openSettings()
	settings.AllowMixed = true
	g := gate.New(settings)

	res := g.CheckAll("hello", time.Time{}, true, nil)

	assert.True(t, res.Passed)
}

func TestMixedContentSessionOverrideBeatsGlobal(t *testing.T) {
	t.Parallel()

	g := gate.New(openSettings())

	allow := true
	res := g.CheckAll("hello", time.Time{}, true, &allow)
	assert.True(t, res.Passed, "session override true allows despite global false")

	settings := openSettings()
	settings.AllowMixed = true
	g = gate.New(settings)

	deny := false
	res = g.CheckAll("hello", time.Time{}, true, &deny)
	assert.False(t, res.Passed, "session override false denies despite global true")
}

func TestLengthLimit(t *testing.T) {
	t.Parallel()

	settings := openSettings()
	settings.TextLimit = 5
	g := gate.New(settings)

	res := g.CheckAll("123456", time.Time{}, false, nil)

	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "too long")

	// Multibyte runes count as one character each.
	res = g.CheckAll("你好你好你", time.Time{}, false, nil)
	assert.True(t, res.Passed)
}

func TestLengthCheckedBeforeCooldown(t *testing.T) {
	t.Parallel()

	settings := openSettings()
	settings.TextLimit = 3
	settings.Cooldown = time.Minute
	g := gate.New(settings)

	// Both length and cooldown are violated; the length reason wins.
	res := g.CheckAll("too long text", time.Now(), false, nil)

	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "too long")
}

func TestCooldownRemaining(t *testing.T) {
	t.Parallel()

	now := time.Now()
	settings := openSettings()
	settings.Cooldown = 10 * time.Second

	g := gate.New(settings).WithClock(func() time.Time { return now })

	res := g.CheckAll("hi", now.Add(-4*time.Second), false, nil)

	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "cooldown")
	assert.InDelta(t, 6.0, res.RemainingCooldown.Seconds(), 0.01)

	res = g.CheckAll("hi", now.Add(-11*time.Second), false, nil)
	assert.True(t, res.Passed, "cooldown elapsed")
}

func TestProbabilityRoll(t *testing.T) {
	t.Parallel()

	settings := openSettings()
	settings.Probability = 0.5

	g := gate.New(settings).WithRoll(func() float64 { return 0.7 })
	res := g.CheckAll("hi", time.Time{}, false, nil)
	require.False(t, res.Passed)
	assert.Contains(t, res.Reason, "probability")

	g = gate.New(settings).WithRoll(func() float64 { return 0.5 })
	res = g.CheckAll("hi", time.Time{}, false, nil)
	assert.True(t, res.Passed, "roll equal to probability passes")
}

func TestApplySwapsSettings(t *testing.T) {
	t.Parallel()

	g := gate.New(openSettings())

	updated := openSettings()
	updated.TextLimit = 1
	g.Apply(updated)

	assert.Equal(t, updated, g.Settings())

	res := g.CheckAll("ab", time.Time{}, false, nil)
	assert.False(t, res.Passed)
}

func TestApplyConcurrentWithCheckAll(t *testing.T) {
	t.Parallel()

	g := gate.New(openSettings())

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		for i := 0; i < 200; i++ {
			settings := openSettings()
			settings.TextLimit = i % 7
			settings.Probability = float64(i % 2)
			g.Apply(settings)
		}
	}()

	go func() {
		defer wg.Done()

		for i := 0; i < 200; i++ {
			res := g.CheckAll("hello", time.Time{}, false, nil)
			if !res.Passed {
				assert.NotEmpty(t, res.Reason)
			}
		}
	}()

	wg.Wait()
}
