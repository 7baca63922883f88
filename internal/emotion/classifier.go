// Package emotion provides a keyword-based heuristic emotion classifier used
// as the fallback when the model did not supply an explicit marker.
package emotion

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/book-expert/tts-emotion-router/internal/core"
)

// Scoring constants. Tuned against the keyword lists; weak signals stay
// neutral rather than forcing a non-neutral voice.
const (
	exclamationBoost    = 0.5
	allCapsBoost        = 1.0
	contextWeight       = 0.2
	neutralThreshold    = 0.5
	contextLines        = 3
	inlineCodeMaxSimple = 20
)

// Informational-content patterns. Text containing links or code is read as
// information-dense and always classifies neutral.
var (
	urlRe        = regexp.MustCompile(`(?i)https?://|www\.`)
	codeBlockRe  = regexp.MustCompile(`(?s)` + "```" + `[a-zA-Z0-9_+-]*\n.*?\n` + "```")
	inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")
)

// DefaultKeywords are the built-in per-emotion keyword lists, used when the
// configuration supplies none.
var DefaultKeywords = map[core.Emotion][]string{
	core.EmotionHappy: {"开心", "高兴", "喜欢", "太棒了", "哈哈", "lol", ":)", "😀"},
	core.EmotionSad:   {"难过", "伤心", "失望", "糟糕", "无语", "唉", "sad", ":(", "😢"},
	core.EmotionAngry: {"气死", "愤怒", "生气", "nm", "tmd", "淦", "怒", "怒了", "😡"},
}

// scoredEmotions fixes the iteration order over the scored labels so ties
// break deterministically.
var scoredEmotions = []core.Emotion{core.EmotionHappy, core.EmotionSad, core.EmotionAngry}

// Classifier scores free text into one of the four canonical emotions using
// case-insensitive substring matching over configurable keyword lists. It is
// stateless; identical input and configuration always yield the same label.
type Classifier struct {
	keywords map[core.Emotion][]string
}

// NewClassifier builds a classifier from per-emotion keyword lists. Emotions
// missing from the map fall back to the built-in defaults.
func NewClassifier(keywords map[core.Emotion][]string) *Classifier {
	merged := make(map[core.Emotion][]string, len(scoredEmotions))
	for _, emo := range scoredEmotions {
		if words, ok := keywords[emo]; ok && len(words) > 0 {
			merged[emo] = words

			continue
		}

		merged[emo] = DefaultKeywords[emo]
	}

	return &Classifier{keywords: merged}
}

// Classify assigns an emotion to text, optionally weighing the most recent
// context lines at reduced weight. Informational text (links, code) is always
// neutral.
func (c *Classifier) Classify(text string, recentContext []string) core.Emotion {
	if IsInformational(text) {
		return core.EmotionNeutral
	}

	scores := map[core.Emotion]float64{
		core.EmotionHappy: 0,
		core.EmotionSad:   0,
		core.EmotionAngry: 0,
	}

	lowered := strings.ToLower(text)
	for _, emo := range scoredEmotions {
		for _, word := range c.keywords[emo] {
			if strings.Contains(lowered, strings.ToLower(word)) {
				scores[emo]++
			}
		}
	}

	// Exclamation and shouting read as anger, with a smaller weight for the
	// former to limit false positives.
	if strings.Contains(text, "!") {
		scores[core.EmotionAngry] += exclamationBoost
	}

	if isShouting(text) {
		scores[core.EmotionAngry] += allCapsBoost
	}

	if len(recentContext) > 0 {
		start := len(recentContext) - contextLines
		if start < 0 {
			start = 0
		}

		ctx := strings.ToLower(strings.Join(recentContext[start:], "\n"))
		for _, emo := range scoredEmotions {
			for _, word := range c.keywords[emo] {
				if strings.Contains(ctx, strings.ToLower(word)) {
					scores[emo] += contextWeight
				}
			}
		}
	}

	best := core.EmotionNeutral
	bestScore := 0.0

	for _, emo := range scoredEmotions {
		if scores[emo] > bestScore {
			best = emo
			bestScore = scores[emo]
		}
	}

	if bestScore <= neutralThreshold {
		return core.EmotionNeutral
	}

	return best
}

// IsInformational reports whether text is information-dense: it contains a
// URL, a fenced code block, or inline code complex enough to be real code
// rather than a quoted identifier.
func IsInformational(text string) bool {
	if text == "" {
		return false
	}

	if urlRe.MatchString(text) || codeBlockRe.MatchString(text) {
		return true
	}

	for _, m := range inlineCodeRe.FindAllStringSubmatch(text, -1) {
		content := m[1]
		if strings.Contains(content, " ") ||
			strings.Contains(content, "\n") ||
			strings.Count(content, ".") > 1 ||
			strings.Count(content, "/") > 1 ||
			len(content) > inlineCodeMaxSimple {
			return true
		}
	}

	return false
}

// isShouting reports whether the text is entirely upper case and contains at
// least one letter.
func isShouting(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	hasAlpha := false

	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasAlpha = true
		}

		if unicode.IsLower(r) {
			return false
		}
	}

	return hasAlpha
}
