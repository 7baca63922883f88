// Package extract splits reply text into what gets sent and what gets
// spoken. Code blocks and URLs read badly aloud, so the speech text replaces
// them with short placeholders while the sent text keeps the code verbatim
// and moves links into a references appendix.
package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Spoken placeholders for content stripped from the speech text.
const (
	placeholderLink = " link "
	placeholderCode = " code "
)

// combinedPattern matches, in one pass, fenced code blocks, inline code
// spans and URLs. Fenced blocks are matched non-greedily; URLs stop at
// whitespace, common delimiters and CJK characters so trailing prose is not
// swallowed.
const combinedPattern = `(?i)` +
	"(?P<code>```[\\s\\S]*?```|`[^`\n]+`)" +
	`|(?P<link>(?:https?://|www\.)[^\s<>"{}|\\^` + "`" + `\[\]` + `\x{4e00}-\x{9fa5}]+)`

var combinedRe = regexp.MustCompile(combinedPattern)

// ProcessedText is the outcome of one extraction pass. CleanText is what the
// platform sends (code kept, links lifted out); SpeakText is what the
// synthesizer receives.
type ProcessedText struct {
	CleanText      string
	SpeakText      string
	Links          []string
	Codes          []string
	HasLinksOrCode bool
}

// Process walks the text once and routes each matched span: code stays in
// the clean text and is replaced by a placeholder in the speech text, links
// are removed from both and collected for the references appendix.
func Process(text string) ProcessedText {
	var (
		cleanParts []string
		speakParts []string
		links      []string
		codes      []string
	)

	codeIdx := combinedRe.SubexpIndex("code")
	linkIdx := combinedRe.SubexpIndex("link")

	lastEnd := 0
	found := false

	for _, m := range combinedRe.FindAllStringSubmatchIndex(text, -1) {
		found = true

		plain := text[lastEnd:m[0]]
		cleanParts = append(cleanParts, plain)
		speakParts = append(speakParts, plain)

		matched := text[m[0]:m[1]]

		switch {
		case m[2*codeIdx] >= 0:
			cleanParts = append(cleanParts, matched)
			codes = append(codes, matched)
			speakParts = append(speakParts, placeholderCode)
		case m[2*linkIdx] >= 0:
			links = append(links, matched)
			speakParts = append(speakParts, placeholderLink)
		}

		lastEnd = m[1]
	}

	rest := text[lastEnd:]
	cleanParts = append(cleanParts, rest)
	speakParts = append(speakParts, rest)

	return ProcessedText{
		CleanText:      strings.Join(cleanParts, ""),
		SpeakText:      strings.Join(speakParts, ""),
		Links:          links,
		Codes:          codes,
		HasLinksOrCode: found,
	}
}

// AppendReferences returns the text with a numbered list of the extracted
// links appended, or the text unchanged when there are none.
func AppendReferences(text string, links []string) string {
	if len(links) == 0 {
		return text
	}

	var builder strings.Builder

	builder.WriteString(strings.TrimRight(text, "\n"))
	builder.WriteString("\n\nReferences:\n")

	for i, link := range links {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, link))
	}

	return strings.TrimRight(builder.String(), "\n")
}
