// ABOUTME: Tests for the post-render length cap
// ABOUTME: Verifies marker placement, length bounds, and that tags are never split

package transcode

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate_ShortInputUnchanged(t *testing.T) {
	out, truncated := Truncate("<b>hi</b>", MaxLength)

	assert.False(t, truncated)
	assert.Equal(t, "<b>hi</b>", out)
}

func TestTruncate_ExactLimitUnchanged(t *testing.T) {
	s := strings.Repeat("a", MaxLength)

	out, truncated := Truncate(s, MaxLength)

	assert.False(t, truncated)
	assert.Equal(t, s, out)
}

func TestTruncate_DisabledLimit(t *testing.T) {
	s := strings.Repeat("a", 10000)

	out, truncated := Truncate(s, 0)

	assert.False(t, truncated)
	assert.Equal(t, s, out)
}

func TestTruncate_LengthBoundAndSingleMarker(t *testing.T) {
	s := strings.Repeat("x", 5000)

	out, truncated := Truncate(s, MaxLength)

	require.True(t, truncated)
	assert.LessOrEqual(t, utf8.RuneCountInString(out), MaxLength+utf8.RuneCountInString(TruncationMarker))
	assert.True(t, strings.HasSuffix(out, TruncationMarker))
	assert.Equal(t, 1, strings.Count(out, TruncationMarker))
}

func TestTruncate_PrefersBlockBoundary(t *testing.T) {
	para := strings.Repeat("word ", 100) // 500 chars
	var parts []string
	for i := 0; i < 10; i++ {
		parts = append(parts, "<b>"+strings.TrimSpace(para)+"</b>")
	}
	s := strings.Join(parts, "\n\n")
	require.Greater(t, utf8.RuneCountInString(s), MaxLength)

	out, truncated := Truncate(s, MaxLength)

	require.True(t, truncated)
	body := strings.TrimSuffix(out, TruncationMarker)
	assert.True(t, strings.HasSuffix(body, "</b>"), "should end on a complete block")
	assert.Equal(t, strings.Count(body, "<b>"), strings.Count(body, "</b>"))
	assert.LessOrEqual(t, utf8.RuneCountInString(body), MaxLength)
}

func TestTruncate_ClosesOpenTagsInsideOneHugeBlock(t *testing.T) {
	s := "<pre><code class=\"language-go\">" + strings.Repeat("a &lt; b\n", 1000) + "</code></pre>"

	out, truncated := Truncate(s, MaxLength)

	require.True(t, truncated)
	body := strings.TrimSuffix(out, TruncationMarker)
	assert.True(t, strings.HasSuffix(body, "</code></pre>"))
	assert.Equal(t, 1, strings.Count(body, "<pre>"))
	assert.Equal(t, 1, strings.Count(body, "</pre>"))
	assert.LessOrEqual(t, utf8.RuneCountInString(body), MaxLength)
}

func TestTruncate_NeverSplitsEntityOrTag(t *testing.T) {
	s := strings.Repeat("&amp;", 2000)

	for _, limit := range []int{7, 13, 100, 999, 4001} {
		out, truncated := Truncate(s, limit)
		require.True(t, truncated)
		body := strings.TrimSuffix(out, TruncationMarker)
		assert.Equal(t, 0, len(strings.ReplaceAll(body, "&amp;", "")), "limit %d left a partial entity", limit)
	}

	tagged := strings.Repeat(`<a href="https://example.com/very/long">x</a>`, 200)
	out, _ := Truncate(tagged, 100)
	body := strings.TrimSuffix(out, TruncationMarker)
	assert.Equal(t, strings.Count(body, "<a "), strings.Count(body, "</a>"))
	assert.Equal(t, strings.Count(body, "<"), strings.Count(body, ">"))
}

func TestTruncate_CountsRunesNotBytes(t *testing.T) {
	s := strings.Repeat("é", MaxLength)

	out, truncated := Truncate(s, MaxLength)

	assert.False(t, truncated)
	assert.Equal(t, s, out)
}

func TestTranscode_RendersAndTruncates(t *testing.T) {
	var md strings.Builder
	for i := 0; i < 300; i++ {
		md.WriteString("- list item with some text\n")
	}

	out, truncated := Transcode(md.String(), MaxLength)

	require.True(t, truncated)
	assert.True(t, strings.HasSuffix(out, TruncationMarker))
	assert.True(t, strings.HasPrefix(out, Bullet))
	assert.LessOrEqual(t, utf8.RuneCountInString(out), MaxLength+utf8.RuneCountInString(TruncationMarker))
}

func TestTranscode_Short(t *testing.T) {
	out, truncated := Transcode("**hi** <there>", MaxLength)

	assert.False(t, truncated)
	assert.Equal(t, "<b>hi</b> &lt;there&gt;", out)
}
