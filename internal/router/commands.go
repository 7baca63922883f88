package router

import (
	"fmt"
	"sync"

	"github.com/book-expert/tts-emotion-router/internal/config"
	"github.com/book-expert/tts-emotion-router/internal/core"
	"github.com/book-expert/tts-emotion-router/internal/session"
)

// Admin command replies.
const (
	msgMarkerOn       = "emotion marker: enabled"
	msgMarkerOff      = "emotion marker: disabled"
	msgEmoteSet       = "next reply will be routed as %s"
	msgEmoteUsage     = "usage: tts_emote <happy|sad|angry|neutral>"
	msgGlobalOn       = "tts global: on (blacklist mode)"
	msgGlobalOff      = "tts global: off (whitelist mode)"
	msgSessionOn      = "tts for this session: on"
	msgSessionOff     = "tts for this session: off"
	msgProbSet        = "tts probability set to %v"
	msgProbUsage      = "usage: tts_prob 0~1, e.g. 0.35"
	msgLimitSet       = "tts text limit set to %d"
	msgLimitUsage     = "usage: tts_limit <non-negative integer>"
	msgCooldownSet    = "tts cooldown set to %ds"
	msgCooldownUsage  = "usage: tts_cooldown <non-negative seconds>"
	msgGainSet        = "tts volume gain set to %v dB"
	msgGainUsage      = "usage: tts_gain <-10~10>, e.g. tts_gain 5"
	msgMixedOn        = "tts mixed output: on (text + voice)"
	msgMixedOff       = "tts mixed output: off (voice only for plain replies)"
	msgTextVoiceOn    = "this session: text together with voice enabled"
	msgTextVoiceOff   = "this session: voice only"
	msgTextVoiceReset = "this session: text+voice setting reset to global (allow_mixed=%v)"
	msgRefsOn         = "references display: on"
	msgRefsOff        = "references display: off"
	msgStatusFmt      = "tts status: global=%v prob=%v limit=%d cooldown=%ds marker=%v sessions=%d"
)

// GainSetter adjusts the synthesis volume gain at runtime.
type GainSetter interface {
	SetGain(gain float64)
}

// Admin applies operator commands to the running pipeline. Every mutation
// updates the shared configuration and is pushed through ApplyConfig, so
// replies processed afterwards see the new values.
type Admin struct {
	mu       sync.Mutex
	cfg      *config.Config
	orch     *Orchestrator
	sessions *session.Store
	gain     GainSetter
}

// NewAdmin builds the command adapter over the live configuration.
func NewAdmin(cfg *config.Config, orch *Orchestrator, sessions *session.Store, gain GainSetter) *Admin {
	return &Admin{
		mu:       sync.Mutex{},
		cfg:      cfg,
		orch:     orch,
		sessions: sessions,
		gain:     gain,
	}
}

// apply pushes the mutated configuration into the pipeline. Callers hold
// a.mu.
func (a *Admin) apply() {
	a.orch.ApplyConfig(a.cfg)
}

// MarkerOn enables the emotion-tag protocol.
func (a *Admin) MarkerOn() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	enable := true
	a.cfg.Marker.Enable = &enable
	a.apply()

	return msgMarkerOn
}

// MarkerOff disables the emotion-tag protocol.
func (a *Admin) MarkerOff() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	enable := false
	a.cfg.Marker.Enable = &enable
	a.apply()

	return msgMarkerOff
}

// Emote forces the next reply in the session onto the given emotion.
func (a *Admin) Emote(key core.ConversationKey, label string) string {
	emotion, err := core.ParseEmotion(label)
	if err != nil {
		return msgEmoteUsage
	}

	a.sessions.SetPendingEmotion(key, emotion)

	return fmt.Sprintf(msgEmoteSet, emotion)
}

// GlobalOn switches to blacklist mode: every session is voiced unless
// explicitly disabled.
func (a *Admin) GlobalOn() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	enable := true
	a.cfg.Routing.GlobalEnable = &enable
	a.apply()

	return msgGlobalOn
}

// GlobalOff switches to whitelist mode: only explicitly enabled sessions are
// voiced.
func (a *Admin) GlobalOff() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	enable := false
	a.cfg.Routing.GlobalEnable = &enable
	a.apply()

	return msgGlobalOff
}

// SessionOn enables synthesis for one session under the current mode.
func (a *Admin) SessionOn(key core.ConversationKey) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := key.String()

	if a.cfg.GlobalEnabled() {
		a.cfg.Routing.DisabledSessions = removeString(a.cfg.Routing.DisabledSessions, id)
	} else {
		a.cfg.Routing.EnabledSessions = appendUnique(a.cfg.Routing.EnabledSessions, id)
	}

	a.apply()

	return msgSessionOn
}

// SessionOff disables synthesis for one session under the current mode.
func (a *Admin) SessionOff(key core.ConversationKey) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := key.String()

	if a.cfg.GlobalEnabled() {
		a.cfg.Routing.DisabledSessions = appendUnique(a.cfg.Routing.DisabledSessions, id)
	} else {
		a.cfg.Routing.EnabledSessions = removeString(a.cfg.Routing.EnabledSessions, id)
	}

	a.apply()

	return msgSessionOff
}

// SetProbability sets the trigger probability.
func (a *Admin) SetProbability(value float64) string {
	if value < 0 || value > 1 {
		return msgProbUsage
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.Routing.Probability = value
	a.apply()

	return fmt.Sprintf(msgProbSet, value)
}

// SetTextLimit sets the character limit; zero means unlimited.
func (a *Admin) SetTextLimit(limit int) string {
	if limit < 0 {
		return msgLimitUsage
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.Routing.TextLimit = limit
	a.apply()

	return fmt.Sprintf(msgLimitSet, limit)
}

// SetCooldown sets the per-session cooldown in seconds.
func (a *Admin) SetCooldown(seconds int) string {
	if seconds < 0 {
		return msgCooldownUsage
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.Routing.CooldownSeconds = seconds
	a.apply()

	return fmt.Sprintf(msgCooldownSet, seconds)
}

// SetGain adjusts the synthesis volume gain in decibels.
func (a *Admin) SetGain(gain float64) string {
	if gain < -10 || gain > 10 {
		return msgGainUsage
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.Provider.Gain = gain
	if a.gain != nil {
		a.gain.SetGain(gain)
	}

	return fmt.Sprintf(msgGainSet, gain)
}

// MixedOn allows voicing replies that carry non-text segments.
func (a *Admin) MixedOn() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.Routing.AllowMixed = true
	a.apply()

	return msgMixedOn
}

// MixedOff restricts synthesis to plain-text replies.
func (a *Admin) MixedOff() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.Routing.AllowMixed = false
	a.apply()

	return msgMixedOff
}

// TextVoiceOn sets the session override to send text alongside audio.
func (a *Admin) TextVoiceOn(key core.ConversationKey) string {
	value := true
	a.sessions.SetMixedOverride(key, &value)

	return msgTextVoiceOn
}

// TextVoiceOff sets the session override to send audio only.
func (a *Admin) TextVoiceOff(key core.ConversationKey) string {
	value := false
	a.sessions.SetMixedOverride(key, &value)

	return msgTextVoiceOff
}

// TextVoiceReset clears the session override so the global default applies.
func (a *Admin) TextVoiceReset(key core.ConversationKey) string {
	a.sessions.SetMixedOverride(key, nil)

	a.mu.Lock()
	defer a.mu.Unlock()

	return fmt.Sprintf(msgTextVoiceReset, a.cfg.Routing.AllowMixed)
}

// RefsOn enables the references appendix on outgoing text.
func (a *Admin) RefsOn() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	show := true
	a.cfg.Routing.ShowReferences = &show
	a.apply()

	return msgRefsOn
}

// RefsOff disables the references appendix.
func (a *Admin) RefsOff() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	show := false
	a.cfg.Routing.ShowReferences = &show
	a.apply()

	return msgRefsOff
}

// Status summarizes the live settings.
func (a *Admin) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return fmt.Sprintf(
		msgStatusFmt,
		a.cfg.GlobalEnabled(),
		a.cfg.Routing.Probability,
		a.cfg.Routing.TextLimit,
		a.cfg.Routing.CooldownSeconds,
		a.cfg.MarkerEnabled(),
		a.sessions.Len(),
	)
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}

	return append(list, value)
}

func removeString(list []string, value string) []string {
	out := list[:0]

	for _, existing := range list {
		if existing != value {
			out = append(out, existing)
		}
	}

	return out
}
