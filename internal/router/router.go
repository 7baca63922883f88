// Package router wires the reply pipeline together: it injects the emotion
// instruction into model requests, strips markers from model responses, and
// decorates outgoing replies with synthesized audio when the gate allows it.
package router

import (
	"context"
	"strings"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/tts-emotion-router/internal/config"
	"github.com/book-expert/tts-emotion-router/internal/core"
	"github.com/book-expert/tts-emotion-router/internal/extract"
	"github.com/book-expert/tts-emotion-router/internal/gate"
	"github.com/book-expert/tts-emotion-router/internal/marker"
	"github.com/book-expert/tts-emotion-router/internal/session"
	"github.com/book-expert/tts-emotion-router/internal/voice"
)

// Skip log messages.
const (
	logSkipNotLLM          = "tts skip: not an llm reply (%s)"
	logSkipSessionDisabled = "tts skip: session disabled (%s)"
	logSkipEmptyText       = "tts skip: no speakable text (%s)"
	logSkipGate            = "tts skip: %s (%s)"
	logSkipInflight        = "tts skip: duplicate request in flight (%s)"
	logSkipNoVoice         = "tts skip: no voice available for emotion %s (%s)"
	logSynthFailed         = "tts synthesis failed for %s: %v"
	logSynthOK             = "tts: session=%s emotion=%s voice=%s audio=%s"
)

// snapshot holds the configuration-derived flags the pipeline reads per
// reply. Replaced wholesale by ApplyConfig.
type snapshot struct {
	markerEnabled    bool
	showReferences   bool
	textWithVoice    bool
	globalEnable     bool
	enabledSessions  []string
	disabledSessions []string
}

// Orchestrator runs the reply pipeline. Collaborators are fixed at
// construction; tunables arrive through ApplyConfig.
type Orchestrator struct {
	marker     *marker.Processor
	classifier core.Classifier
	sessions   *session.Store
	inflight   *session.InflightSet
	gate       *gate.Gate
	voices     *voice.Router
	synth      core.Synthesizer
	history    core.HistoryAppender
	log        *logger.Logger

	mu   sync.RWMutex
	snap snapshot
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Marker     *marker.Processor
	Classifier core.Classifier
	Sessions   *session.Store
	Inflight   *session.InflightSet
	Gate       *gate.Gate
	Voices     *voice.Router
	Synth      core.Synthesizer
	History    core.HistoryAppender
	Log        *logger.Logger
}

// New builds the orchestrator and primes it from the configuration.
func New(deps Deps, cfg *config.Config) *Orchestrator {
	orch := &Orchestrator{
		marker:     deps.Marker,
		classifier: deps.Classifier,
		sessions:   deps.Sessions,
		inflight:   deps.Inflight,
		gate:       deps.Gate,
		voices:     deps.Voices,
		synth:      deps.Synth,
		history:    deps.History,
		log:        deps.Log,
		mu:         sync.RWMutex{},
		snap:       snapshot{},
	}
	orch.ApplyConfig(cfg)

	return orch
}

// ApplyConfig pushes a new configuration snapshot into every component.
// In-flight replies finish under the settings they started with.
func (o *Orchestrator) ApplyConfig(cfg *config.Config) {
	o.marker.UpdateTag(cfg.Marker.Tag)
	o.voices.Apply(cfg.Voices(), cfg.Speeds())
	o.gate.Apply(gate.Settings{
		Probability: cfg.Routing.Probability,
		TextLimit:   cfg.Routing.TextLimit,
		Cooldown:    cfg.Cooldown(),
		AllowMixed:  cfg.Routing.AllowMixed,
	})

	o.mu.Lock()
	defer o.mu.Unlock()

	o.snap = snapshot{
		markerEnabled:    cfg.MarkerEnabled(),
		showReferences:   cfg.ReferencesEnabled(),
		textWithVoice:    cfg.Routing.TextWithVoice,
		globalEnable:     cfg.GlobalEnabled(),
		enabledSessions:  append([]string(nil), cfg.Routing.EnabledSessions...),
		disabledSessions: append([]string(nil), cfg.Routing.DisabledSessions...),
	}
}

func (o *Orchestrator) snapshot() snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.snap
}

// SessionEnabled decides whether the conversation takes part in synthesis.
// With the global switch on, the disabled list is a blacklist; with it off,
// the enabled list is a whitelist.
func (o *Orchestrator) SessionEnabled(key core.ConversationKey) bool {
	snap := o.snapshot()
	id := key.String()

	if snap.globalEnable {
		for _, disabled := range snap.disabledSessions {
			if disabled == id {
				return false
			}
		}

		return true
	}

	for _, enabled := range snap.enabledSessions {
		if enabled == id {
			return true
		}
	}

	return false
}

// OnLLMRequest injects the emotion-marker instruction into the system
// prompt, once. The instruction is skipped when the protocol is disabled or
// either prompt already carries the tag.
func (o *Orchestrator) OnLLMRequest(systemPrompt, userPrompt string) (string, bool) {
	if !o.snapshot().markerEnabled {
		return systemPrompt, false
	}

	if o.marker.IsMarkerPresent(systemPrompt, userPrompt) {
		return systemPrompt, false
	}

	instruction := o.marker.BuildInjectionInstruction()

	return strings.TrimSpace(instruction + "\n" + systemPrompt), true
}

// OnLLMResponse normalizes the raw model output, strips every head marker,
// records the parsed emotion as pending for the upcoming reply and caches
// the cleaned text for history logging. It returns the cleaned text.
func (o *Orchestrator) OnLLMResponse(key core.ConversationKey, text string) string {
	if !o.snapshot().markerEnabled {
		return text
	}

	normalized := o.marker.NormalizeText(text)

	cleaned, emotion, found := o.marker.StripHeadRepeated(normalized)
	if found {
		o.sessions.SetPendingEmotion(key, emotion)
	}

	trimmed := strings.TrimSpace(cleaned)
	if trimmed != "" {
		o.sessions.SetAssistantText(key, trimmed)
		o.appendHistory(key, trimmed)
	}

	return cleaned
}

// appendHistory writes the assistant text to the host's conversation history
// when a history hook is wired. Failures are logged and ignored.
func (o *Orchestrator) appendHistory(key core.ConversationKey, text string) {
	if o.history == nil {
		return
	}

	err := o.history(context.Background(), key, text)
	if err != nil {
		o.log.Warn("history append failed for %s: %v", key, err)
	}
}

// FinalStripVisible is the last-chance cleanup applied to any outgoing text,
// removing residual exact-form markers anywhere in the string.
func (o *Orchestrator) FinalStripVisible(text string) string {
	if !o.snapshot().markerEnabled {
		return text
	}

	return o.marker.StripAllVisible(text)
}

// DecorateReply runs the full pipeline over an outgoing reply and returns
// the segments to send. Whatever path is taken, the returned text never
// contains raw emotion markers; audio is attached only when every check
// passes and synthesis succeeds.
func (o *Orchestrator) DecorateReply(ctx context.Context, reply core.PendingReply) (segments []core.Segment) {
	snap := o.snapshot()

	stripped := o.stripSegments(reply.Segments)

	// Raw markers must never leak, so the recovery path still returns the
	// cleaned segments.
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("reply pipeline panicked for %s: %v", reply.Key, r)

			segments = stripped
		}
	}()

	if !reply.FromLLM {
		o.log.Info(logSkipNotLLM, reply.Key)

		return reply.Segments
	}

	if !o.SessionEnabled(reply.Key) {
		o.log.Info(logSkipSessionDisabled, reply.Key)

		return stripped
	}

	text := joinTextSegments(stripped)
	if text == "" {
		return stripped
	}

	normalized := o.marker.NormalizeText(text)
	normalized, _, _ = o.marker.StripHeadRepeated(normalized)

	processed := extract.Process(normalized)

	sendText := strings.TrimSpace(processed.CleanText)
	if snap.showReferences {
		sendText = strings.TrimSpace(extract.AppendReferences(sendText, processed.Links))
	}

	nonText := nonTextSegments(stripped)

	speakText := strings.TrimSpace(processed.SpeakText)
	if speakText == "" {
		o.log.Info(logSkipEmptyText, reply.Key)

		return textFallback(sendText, nonText)
	}

	gateRes := o.gate.CheckAll(
		speakText,
		o.sessions.LastSynthesisAt(reply.Key),
		len(nonText) > 0,
		o.sessions.MixedOverride(reply.Key),
	)
	if !gateRes.Passed {
		o.log.Info(logSkipGate, gateRes.Reason, reply.Key)

		return textFallback(sendText, nonText)
	}

	if !o.inflight.TryAcquire(reply.Key, speakText) {
		o.log.Info(logSkipInflight, reply.Key)

		return textFallback(sendText, nonText)
	}
	defer o.inflight.Release(reply.Key, speakText)

	return o.synthesizeReply(ctx, reply.Key, snap, sendText, speakText, nonText)
}

// synthesizeReply resolves the emotion, picks a voice and speed, calls the
// provider and assembles the final segment list. Every failure degrades to
// the text-only reply.
func (o *Orchestrator) synthesizeReply(
	ctx context.Context,
	key core.ConversationKey,
	snap snapshot,
	sendText, speakText string,
	nonText []core.Segment,
) []core.Segment {
	textOnly := textFallback(sendText, nonText)

	emotion := o.determineEmotion(key, speakText)

	voiceKey, voiceID, ok := o.voices.PickVoice(emotion)
	if !ok {
		o.log.Warn(logSkipNoVoice, emotion, key)

		return textOnly
	}

	speed := o.voices.PickSpeed(emotion)

	audioPath, synthErr := o.synth.Synthesize(ctx, speakText, voiceID, speed)
	if synthErr != nil {
		o.log.Error(logSynthFailed, key, synthErr)

		return textOnly
	}

	o.sessions.MarkSynthesized(key, emotion, string(voiceKey))
	if sendText != "" {
		o.sessions.SetAssistantText(key, sendText)
	}

	o.log.Info(logSynthOK, key, emotion, voiceKey, audioPath)

	withText := snap.textWithVoice
	if override := o.sessions.MixedOverride(key); override != nil {
		withText = *override
	}

	var out []core.Segment

	if withText && sendText != "" {
		out = append(out, core.TextSegment(sendText))
	}

	out = append(out, core.AudioSegment(audioPath))
	out = append(out, nonText...)

	return out
}

// determineEmotion prefers the pending emotion recorded from the reply's own
// marker, falling back to the heuristic classifier.
func (o *Orchestrator) determineEmotion(key core.ConversationKey, text string) core.Emotion {
	if emotion, ok := o.sessions.ConsumePendingEmotion(key); ok {
		o.log.Info("using pending emotion %s for %s", emotion, key)

		return emotion
	}

	emotion := o.classifier.Classify(text, nil)
	o.log.Info("classified emotion %s for %s", emotion, key)

	return emotion
}

// stripSegments cleans marker residue from every text segment and drops the
// ones left empty. Non-text segments pass through untouched.
func (o *Orchestrator) stripSegments(segments []core.Segment) []core.Segment {
	out := make([]core.Segment, 0, len(segments))

	for _, seg := range segments {
		if seg.Kind != core.SegmentText {
			out = append(out, seg)

			continue
		}

		text := o.marker.NormalizeText(seg.Text)
		text, _, _ = o.marker.StripHeadRepeated(text)
		text = o.marker.StripAllVisible(text)

		if strings.TrimSpace(text) == "" {
			continue
		}

		out = append(out, core.TextSegment(text))
	}

	return out
}

// joinTextSegments concatenates the trimmed text segments with single
// spaces.
func joinTextSegments(segments []core.Segment) string {
	var parts []string

	for _, seg := range segments {
		if seg.Kind != core.SegmentText {
			continue
		}

		trimmed := strings.TrimSpace(seg.Text)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}

	return strings.Join(parts, " ")
}

// textFallback is the uniform shape of every degraded exit: the cleaned text
// followed by the non-text segments, with no empty text segment emitted when
// nothing speakable remains.
func textFallback(sendText string, nonText []core.Segment) []core.Segment {
	out := make([]core.Segment, 0, len(nonText)+1)

	if sendText != "" {
		out = append(out, core.TextSegment(sendText))
	}

	return append(out, nonText...)
}

// nonTextSegments returns the segments that are not plain text.
func nonTextSegments(segments []core.Segment) []core.Segment {
	var out []core.Segment

	for _, seg := range segments {
		if seg.Kind != core.SegmentText {
			out = append(out, seg)
		}
	}

	return out
}
