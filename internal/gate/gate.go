// Package gate decides whether a given reply should be synthesized at all.
// Checks run in a fixed order and the first failure short-circuits:
// mixed-content policy, text length, cooldown, trigger probability.
package gate

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Rejection reason formats.
const (
	reasonMixedContent = "mixed content not allowed"
	reasonTooLongFmt   = "text too long (%d > %d)"
	reasonCooldownFmt  = "cooldown (%.1fs remaining)"
	reasonRollFmt      = "probability check failed (%.2f > %.2f)"
)

// Result reports the gate decision. Reason is set on rejection only and is
// logged, never shown to the end user.
type Result struct {
	Passed            bool
	Reason            string
	RemainingCooldown time.Duration
}

// Settings are the gate thresholds from one configuration snapshot.
type Settings struct {
	// Probability in [0,1]: the chance a passing reply is voiced.
	Probability float64
	// TextLimit in characters; zero means unlimited.
	TextLimit int
	// Cooldown between syntheses in one session.
	Cooldown time.Duration
	// AllowMixed is the global default for voicing replies that carry
	// non-text segments.
	AllowMixed bool
}

// Gate evaluates the synthesis conditions for a reply. The random source is
// injectable so tests are deterministic. Settings swaps are guarded so checks
// running on concurrent replies read a consistent snapshot.
type Gate struct {
	mu       sync.RWMutex
	settings Settings
	roll     func() float64
	now      func() time.Time
}

// New creates a gate with the given thresholds.
func New(settings Settings) *Gate {
	return &Gate{
		mu:       sync.RWMutex{},
		settings: settings,
		roll:     rand.Float64,
		now:      time.Now,
	}
}

// WithRoll replaces the probability source. Intended for tests.
func (g *Gate) WithRoll(roll func() float64) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.roll = roll

	return g
}

// WithClock replaces the time source. Intended for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.now = now

	return g
}

// Apply swaps in a new settings snapshot.
func (g *Gate) Apply(settings Settings) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.settings = settings
}

// Settings returns the current threshold snapshot.
func (g *Gate) Settings() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.settings
}

// CheckAll runs every gate check in order. mixedOverride carries the
// session-level mixed-output override (nil follows the global default);
// lastSynthesisAt drives the cooldown. One snapshot of the settings is taken
// up front, so a concurrent Apply never splits a single decision.
func (g *Gate) CheckAll(
	text string,
	lastSynthesisAt time.Time,
	hasNonTextSegments bool,
	mixedOverride *bool,
) Result {
	g.mu.RLock()
	settings := g.settings
	roll := g.roll
	now := g.now
	g.mu.RUnlock()

	if hasNonTextSegments {
		allowed := settings.AllowMixed
		if mixedOverride != nil {
			allowed = *mixedOverride
		}

		if !allowed {
			return Result{Passed: false, Reason: reasonMixedContent}
		}
	}

	length := len([]rune(text))
	if settings.TextLimit > 0 && length > settings.TextLimit {
		return Result{
			Passed: false,
			Reason: fmt.Sprintf(reasonTooLongFmt, length, settings.TextLimit),
		}
	}

	if remaining := remainingCooldown(settings, now(), lastSynthesisAt); remaining > 0 {
		return Result{
			Passed:            false,
			Reason:            fmt.Sprintf(reasonCooldownFmt, remaining.Seconds()),
			RemainingCooldown: remaining,
		}
	}

	if value := roll(); value > settings.Probability {
		return Result{
			Passed: false,
			Reason: fmt.Sprintf(reasonRollFmt, value, settings.Probability),
		}
	}

	return Result{Passed: true}
}

// remainingCooldown returns how much of the cooldown window is left, zero
// when the window has elapsed or no cooldown is configured.
func remainingCooldown(settings Settings, now, lastSynthesisAt time.Time) time.Duration {
	if settings.Cooldown <= 0 {
		return 0
	}

	elapsed := now.Sub(lastSynthesisAt)
	if elapsed >= settings.Cooldown {
		return 0
	}

	return settings.Cooldown - elapsed
}
