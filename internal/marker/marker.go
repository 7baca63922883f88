// Package marker implements the hidden emotion-marker protocol: building the
// instruction injected into the model prompt, and parsing and stripping the
// resulting tags from model output.
package marker

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/book-expert/tts-emotion-router/internal/core"
)

// DefaultTag is the marker tag used when none is configured.
const DefaultTag = "EMO"

// Pattern templates. The %s placeholder receives the quoted tag name. The
// label alternation is the fixed four-value vocabulary.
const (
	labelAlternation = `happy|sad|angry|neutral`

	// Exact form: [EMO:happy]. Used for residual cleanup anywhere in text.
	strictPattern = `(?i)\[\s*%s\s*:\s*(` + labelAlternation + `)\s*\]`

	// Any bracketed tag-shaped prefix, label recognized or not.
	anyHeadPattern = `(?i)^[\s\x{FEFF}]*[\[\(【]\s*%s\s*(?:[:：-]\s*[a-z]*)?\s*[\]\)】]`

	// Head token in every tolerated shape: [EMO:happy], 【EMO：sad】, (EMO-angry),
	// bare EMO:happy, bare emo. Trailing separators are consumed with it.
	headTokenPattern = `(?i)^[\s\x{FEFF}]*(?:[\[\(【]\s*%s\s*(?:[:：-]\s*(?P<lbl>` +
		labelAlternation + `))?\s*[\]\)】]|(?:%s|emo)\s*(?:[:：-]\s*(?P<lbl2>` +
		labelAlternation + `))?)\s*[,，。:：-]*[\s]*`

	// Head token with an arbitrary latin label, normalized via synonyms.
	headAnyLabelPattern = `(?i)^[\s\x{FEFF}]*[\[\(【]\s*%s\s*[:：-]\s*(?P<raw>[a-z]+)\s*[\]\)】]`

	// Aggressive cleanup forms: line-start (newline preserved) and mid-line.
	headVisiblePattern = `(?i)(^|\n)\s*[\[\(【]\s*%s\s*[:：-]\s*(` + labelAlternation + `)\s*[\]\)】][ \t]*`
	midVisiblePattern  = `(?i)[\[\(【]\s*%s\s*[:：-]\s*(` + labelAlternation + `)\s*[\]\)】]`
)

// invisibleRunes are characters some models use to hide the marker; they are
// removed before any pattern matching.
var invisibleRunes = []string{
	"\uFEFF", // BOM
	"\u200B", // zero width space
	"\u200C", // zero width non-joiner
	"\u200D", // zero width joiner
	"\u200E", // left-to-right mark
	"\u200F", // right-to-left mark
	"\u202A", // left-to-right embedding
	"\u202B", // right-to-left embedding
	"\u202C", // pop directional formatting
	"\u202D", // left-to-right override
	"\u202E", // right-to-left override
}

// synonyms maps free-form emotion words (English and Chinese) to the
// canonical four values.
var synonyms = map[core.Emotion][]string{
	core.EmotionHappy: {
		"happy", "joy", "joyful", "cheerful", "delighted", "excited",
		"smile", "positive", "开心", "快乐", "高兴", "喜悦", "兴奋", "愉快",
	},
	core.EmotionSad: {
		"sad", "sorrow", "sorrowful", "depressed", "down", "unhappy",
		"cry", "crying", "tearful", "blue", "upset", "伤心", "难过",
		"沮丧", "低落", "悲伤", "流泪",
	},
	core.EmotionAngry: {
		"angry", "mad", "furious", "annoyed", "irritated", "rage",
		"rageful", "wrath", "生气", "愤怒", "恼火", "气愤",
	},
	core.EmotionNeutral: {
		"neutral", "calm", "plain", "normal", "objective", "ok", "fine",
		"meh", "average", "confused", "uncertain", "unsure", "平静",
		"冷静", "一般", "中立", "客观", "困惑", "迷茫",
	},
}

var (
	cleanupSpacesRe   = regexp.MustCompile(`[ \t]{2,}`)
	cleanupNewlinesRe = regexp.MustCompile(`\n{3,}`)
)

// ruleSet is one tag name together with its compiled patterns. A rule set is
// immutable once built; tag changes swap the whole set.
type ruleSet struct {
	tag string

	strictRe       *regexp.Regexp
	anyHeadRe      *regexp.Regexp
	headTokenRe    *regexp.Regexp
	headAnyLabelRe *regexp.Regexp
	headVisibleRe  *regexp.Regexp
	midVisibleRe   *regexp.Regexp
}

// Processor parses and strips emotion markers for one configured tag name.
// All operations are pure string transforms and idempotent on clean text.
// The mutex guards the rule-set swap so operations on concurrent replies
// never observe a half-updated tag.
type Processor struct {
	mu    sync.RWMutex
	rules *ruleSet
}

// NewProcessor compiles the marker patterns for the given tag name. An empty
// tag falls back to DefaultTag.
func NewProcessor(tag string) *Processor {
	return &Processor{
		mu:    sync.RWMutex{},
		rules: compileRules(tag),
	}
}

// Tag returns the configured marker tag name.
func (p *Processor) Tag() string {
	return p.current().tag
}

// UpdateTag swaps the tag name and recompiles the patterns. Used when a new
// configuration snapshot is applied.
func (p *Processor) UpdateTag(tag string) {
	rules := compileRules(tag)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.rules = rules
}

// current returns the rule set in effect for one whole operation.
func (p *Processor) current() *ruleSet {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.rules
}

func compileRules(tag string) *ruleSet {
	if strings.TrimSpace(tag) == "" {
		tag = DefaultTag
	}

	quoted := regexp.QuoteMeta(tag)

	return &ruleSet{
		tag:            tag,
		strictRe:       regexp.MustCompile(fmt.Sprintf(strictPattern, quoted)),
		anyHeadRe:      regexp.MustCompile(fmt.Sprintf(anyHeadPattern, quoted)),
		headTokenRe:    regexp.MustCompile(fmt.Sprintf(headTokenPattern, quoted, quoted)),
		headAnyLabelRe: regexp.MustCompile(fmt.Sprintf(headAnyLabelPattern, quoted)),
		headVisibleRe:  regexp.MustCompile(fmt.Sprintf(headVisiblePattern, quoted)),
		midVisibleRe:   regexp.MustCompile(fmt.Sprintf(midVisiblePattern, quoted)),
	}
}

// BuildInjectionInstruction returns the deterministic instruction telling the
// model to prefix its reply with exactly one marker.
func (p *Processor) BuildInjectionInstruction() string {
	return fmt.Sprintf(
		"At the very beginning of every reply, output exactly one hidden emotion marker "+
			"in the strict form [%[1]s:happy], [%[1]s:sad], [%[1]s:angry] or [%[1]s:neutral]. "+
			"Pick exactly one of the four; choose neutral when unsure. The marker is parsed "+
			"by the system, so continue the reply immediately after it and never explain or "+
			"repeat it. Map any other emotion word to the closest of the four: "+
			"happy (joy, excited), sad (upset, depressed), angry (furious, annoyed), "+
			"neutral (calm, confused).",
		p.current().tag,
	)
}

// IsMarkerPresent reports whether the marker tag already appears in either
// prompt, to avoid double-injecting the instruction.
func (p *Processor) IsMarkerPresent(systemPrompt, userPrompt string) bool {
	tag := p.current().tag

	return strings.Contains(systemPrompt, tag) || strings.Contains(userPrompt, tag)
}

// NormalizeText removes zero-width, BOM and direction-control characters so
// they cannot defeat marker matching.
func (p *Processor) NormalizeText(text string) string {
	if text == "" {
		return text
	}

	for _, r := range invisibleRunes {
		text = strings.ReplaceAll(text, r, "")
	}

	return text
}

// NormalizeLabel maps a free-form emotion word to one of the four canonical
// values. The second return is false when the word is not recognized.
func (p *Processor) NormalizeLabel(label string) (core.Emotion, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return "", false
	}

	for emotion, words := range synonyms {
		for _, w := range words {
			if label == w {
				return emotion, true
			}
		}
	}

	return "", false
}

// StripHead removes one marker-shaped construct anchored to the start of the
// text. It returns the remainder, the emotion parsed from the construct, and
// whether an emotion was parsed. Text without a leading marker is returned
// unchanged.
func (p *Processor) StripHead(text string) (string, core.Emotion, bool) {
	if text == "" {
		return text, "", false
	}

	rules := p.current()

	// Tolerated head token carrying one of the four labels.
	if m := rules.headTokenRe.FindStringSubmatch(text); m != nil {
		label := matchedLabel(rules.headTokenRe, m)
		cleaned := strings.TrimSpace(rules.headTokenRe.ReplaceAllString(text, ""))

		emotion, err := core.ParseEmotion(label)
		if err != nil {
			return cleaned, "", false
		}

		return cleaned, emotion, true
	}

	// Arbitrary latin label, normalized through the synonym table.
	if m := rules.headAnyLabelRe.FindStringSubmatch(text); m != nil {
		raw := matchedGroup(rules.headAnyLabelRe, m, "raw")
		cleaned := strings.TrimSpace(rules.headAnyLabelRe.ReplaceAllString(text, ""))

		emotion, ok := p.NormalizeLabel(raw)

		return cleaned, emotion, ok
	}

	// Unrecognized bracketed prefix: remove it, no emotion to report.
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "【") ||
		strings.HasPrefix(trimmed, "(") {
		if rules.anyHeadRe.MatchString(text) {
			return strings.TrimSpace(rules.anyHeadRe.ReplaceAllString(text, "")), "", false
		}
	}

	return text, "", false
}

// StripHeadRepeated applies StripHead while a leading marker remains, then
// removes any residual exact-form markers elsewhere in the text. When several
// head markers carry emotions, the last one wins: later tags are treated as
// corrections of earlier ones.
func (p *Processor) StripHeadRepeated(text string) (string, core.Emotion, bool) {
	var (
		last  core.Emotion
		found bool
	)

	for {
		cleaned, emotion, ok := p.StripHead(text)
		if ok {
			last = emotion
			found = true
		}

		if cleaned == text {
			break
		}

		text = cleaned
	}

	text = p.current().strictRe.ReplaceAllString(text, "")

	return strings.TrimSpace(text), last, found
}

// StripAllVisible aggressively removes exact-form markers anywhere in the
// text: at line starts (preserving the newline) and mid-line. Runs of
// whitespace left behind are collapsed, and three or more consecutive blank
// lines become two.
func (p *Processor) StripAllVisible(text string) string {
	rules := p.current()

	text = rules.headVisibleRe.ReplaceAllString(text, "$1")
	text = rules.midVisibleRe.ReplaceAllString(text, "")
	text = cleanupSpacesRe.ReplaceAllString(text, " ")
	text = cleanupNewlinesRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// ExtractEmotion returns the first exact-form marker's emotion without
// modifying the text.
func (p *Processor) ExtractEmotion(text string) (core.Emotion, bool) {
	m := p.current().strictRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}

	emotion, err := core.ParseEmotion(m[1])
	if err != nil {
		return "", false
	}

	return emotion, true
}

// matchedLabel pulls the first non-empty label group from a head-token match.
func matchedLabel(re *regexp.Regexp, match []string) string {
	if lbl := matchedGroup(re, match, "lbl"); lbl != "" {
		return lbl
	}

	return matchedGroup(re, match, "lbl2")
}

func matchedGroup(re *regexp.Regexp, match []string, name string) string {
	for i, groupName := range re.SubexpNames() {
		if groupName == name && i < len(match) {
			return match[i]
		}
	}

	return ""
}
