// Package core defines the shared vocabulary and interfaces for the
// emotion-routed TTS pipeline.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Emotion is one of the four canonical emotion labels a model may signal.
type Emotion string

// The fixed four-value emotion vocabulary.
const (
	EmotionHappy   Emotion = "happy"
	EmotionSad     Emotion = "sad"
	EmotionAngry   Emotion = "angry"
	EmotionNeutral Emotion = "neutral"
)

// Emotions lists every canonical emotion in stable order.
var Emotions = []Emotion{EmotionHappy, EmotionSad, EmotionAngry, EmotionNeutral}

// ErrUnknownEmotion is returned when a label is not one of the four canonical values.
var ErrUnknownEmotion = errors.New("unknown emotion")

// ParseEmotion validates a raw label against the canonical vocabulary.
func ParseEmotion(raw string) (Emotion, error) {
	label := Emotion(strings.ToLower(strings.TrimSpace(raw)))
	for _, e := range Emotions {
		if label == e {
			return e, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownEmotion, raw)
}

// IsValid reports whether e is one of the four canonical values.
func (e Emotion) IsValid() bool {
	_, err := ParseEmotion(string(e))

	return err == nil
}

// ConversationKind distinguishes group conversations from direct ones.
type ConversationKind string

// Supported conversation kinds.
const (
	KindGroup ConversationKind = "group"
	KindUser  ConversationKind = "user"
)

// ConversationKey identifies a tracked conversation. Sessions are keyed by
// this value rather than a formatted string so that group and user IDs can
// never collide.
type ConversationKey struct {
	Kind ConversationKind
	ID   string
}

// GroupKey builds a key for a group conversation.
func GroupKey(id string) ConversationKey {
	return ConversationKey{Kind: KindGroup, ID: id}
}

// UserKey builds a key for a direct conversation.
func UserKey(id string) ConversationKey {
	return ConversationKey{Kind: KindUser, ID: id}
}

// String renders the key for logging. It is not used for map keying.
func (k ConversationKey) String() string {
	return string(k.Kind) + "_" + k.ID
}

// SegmentKind tags the variants of a reply segment.
type SegmentKind string

// Segment kinds. Anything the pipeline does not rewrite is passed through
// as SegmentOther.
const (
	SegmentText  SegmentKind = "text"
	SegmentAudio SegmentKind = "audio"
	SegmentOther SegmentKind = "other"
)

// Segment is one element of an outgoing reply. Exactly one of the payload
// fields is meaningful for a given kind: Text for SegmentText, AudioPath for
// SegmentAudio, and Raw for SegmentOther.
type Segment struct {
	Kind      SegmentKind `json:"kind"`
	Text      string      `json:"text,omitempty"`
	AudioPath string      `json:"audio_path,omitempty"`
	Raw       string      `json:"raw,omitempty"`
}

// TextSegment builds a text segment.
func TextSegment(text string) Segment {
	return Segment{Kind: SegmentText, Text: text}
}

// AudioSegment builds an audio segment referencing a file on disk.
func AudioSegment(path string) Segment {
	return Segment{Kind: SegmentAudio, AudioPath: path}
}

// OtherSegment builds a passthrough segment for host content the pipeline
// does not understand (images, mentions, quoted replies).
func OtherSegment(raw string) Segment {
	return Segment{Kind: SegmentOther, Raw: raw}
}

// HistoryAppender records an assistant reply into the host's conversation
// history. Appending is best effort; failures are logged and ignored.
type HistoryAppender func(ctx context.Context, key ConversationKey, text string) error

// PendingReply is the outgoing reply handed to the pipeline by the host
// runtime.
type PendingReply struct {
	Key      ConversationKey
	FromLLM  bool
	Segments []Segment
}

// Synthesizer produces an audio file for the given text and voice and
// returns its path. Implementations own caching, retries and validation.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) (string, error)
}

// Classifier assigns an emotion to free text, optionally weighing recent
// conversation context.
type Classifier interface {
	Classify(text string, recentContext []string) Emotion
}
