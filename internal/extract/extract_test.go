// Package extract_test tests speakable-text extraction.
package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-emotion-router/internal/extract"
)

func TestProcessPlainText(t *testing.T) {
	t.Parallel()

	got := extract.Process("nothing special here")

	assert.Equal(t, "nothing special here", got.CleanText)
	assert.Equal(t, "nothing special here", got.SpeakText)
	assert.False(t, got.HasLinksOrCode)
	assert.Empty(t, got.Links)
	assert.Empty(t, got.Codes)
}

func TestProcessLinkIsLiftedOut(t *testing.T) {
	t.Parallel()

	got := extract.Process("see https://example.com/docs for details")

	assert.Equal(t, "see  for details", got.CleanText)
	assert.Equal(t, "see  link  for details", got.SpeakText)
	require.Len(t, got.Links, 1)
	assert.Equal(t, "https://example.com/docs", got.Links[0])
	assert.True(t, got.HasLinksOrCode)
}

func TestProcessCodeStaysInCleanText(t *testing.T) {
	t.Parallel()

	input := "run this:\n```sh\nls -la\n```\ndone"
	got := extract.Process(input)

	assert.Equal(t, input, got.CleanText, "code blocks stay in the sent text")
	assert.Equal(t, "run this:\n code \ndone", got.SpeakText)
	require.Len(t, got.Codes, 1)
	assert.Contains(t, got.Codes[0], "ls -la")
}

func TestProcessInlineCode(t *testing.T) {
	t.Parallel()

	got := extract.Process("call `doThing()` next")

	assert.Equal(t, "call `doThing()` next", got.CleanText)
	assert.Equal(t, "call  code  next", got.SpeakText)
	require.Len(t, got.Codes, 1)
	assert.Equal(t, "`doThing()`", got.Codes[0])
}

func TestProcessMixedContent(t *testing.T) {
	t.Parallel()

	got := extract.Process("docs at www.example.com and `x := 1` sample")

	require.Len(t, got.Links, 1)
	require.Len(t, got.Codes, 1)
	assert.Equal(t, "www.example.com", got.Links[0])
	assert.Equal(t, "docs at  and `x := 1` sample", got.CleanText)
	assert.Equal(t, "docs at  link  and  code  sample", got.SpeakText)
}

func TestProcessURLStopsAtCJK(t *testing.T) {
	t.Parallel()

	got := extract.Process("看 https://example.com/a这个链接")

	require.Len(t, got.Links, 1)
	assert.Equal(t, "https://example.com/a", got.Links[0])
}

func TestAppendReferences(t *testing.T) {
	t.Parallel()

	got := extract.AppendReferences("body text", []string{
		"https://example.com/a",
		"https://example.com/b",
	})

	assert.Equal(
		t,
		"body text\n\nReferences:\n1. https://example.com/a\n2. https://example.com/b",
		got,
	)
}

func TestAppendReferencesNoLinks(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unchanged", extract.AppendReferences("unchanged", nil))
}
