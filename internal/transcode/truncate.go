// ABOUTME: Length cap applied by callers after rendering
// ABOUTME: Cuts at a block boundary when possible, otherwise closes open tags

package transcode

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/2389/claude-relay/internal/markup"
)

// MaxLength is the transport's maximum message length in characters.
const MaxLength = 4000

// TruncationMarker is appended exactly once to truncated output.
const TruncationMarker = "\n\n... (truncated)"

// maxEntityLen bounds how far we look for the ';' closing an entity.
const maxEntityLen = 10

// Truncate caps s at limit characters and appends TruncationMarker when it
// cuts. The cut never lands inside a tag or entity. It prefers the last
// block boundary (a newline with no tag open) if that keeps at least half
// the budget; otherwise it cuts mid-block and closes every open tag, with
// the closing tags counted against limit. A limit <= 0 disables the cap.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}

	cut, closers := safeCut(s, limit)
	out := strings.TrimRightFunc(s[:cut], unicode.IsSpace)
	return out + closers + TruncationMarker, true
}

// Transcode parses markdown, renders it and applies the length cap. Parse
// failures fall back to rendering the source as a single plain paragraph.
func Transcode(md string, limit int) (string, bool) {
	doc, err := markup.Parse(md)
	if err != nil {
		doc = markup.PlainDocument(md)
	}
	return Truncate(Render(doc), limit)
}

// safeCut returns the byte offset to cut at and the closing tags needed to
// balance whatever is still open there.
func safeCut(s string, limit int) (int, string) {
	var (
		stack     []string
		closeLen  int
		runes     int
		blockCut  = -1
		blockRune int
		anyCut    int
		anyStack  []string
	)

	for i := 0; i < len(s); {
		if runes+closeLen <= limit {
			anyCut = i
			anyStack = append(anyStack[:0], stack...)
			if len(stack) == 0 && i > 0 && s[i-1] == '\n' {
				blockCut = i
				blockRune = runes
			}
		} else if runes >= limit {
			break
		}

		end := tokenEnd(s, i)
		if s[i] == '<' {
			stack, closeLen = applyTag(s[i:end], stack, closeLen)
		}
		runes += utf8.RuneCountInString(s[i:end])
		i = end
	}

	if blockCut >= 0 && blockRune >= limit/2 {
		return blockCut, ""
	}
	return anyCut, closingTags(anyStack)
}

// tokenEnd returns the end of the indivisible token starting at i: a whole
// tag, a whole entity, or a single rune.
func tokenEnd(s string, i int) int {
	switch s[i] {
	case '<':
		if j := strings.IndexByte(s[i:], '>'); j >= 0 {
			return i + j + 1
		}
		return len(s)
	case '&':
		if j := strings.IndexByte(s[i:], ';'); j > 0 && j <= maxEntityLen {
			return i + j + 1
		}
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return i + size
}

func applyTag(tag string, stack []string, closeLen int) ([]string, int) {
	closing := strings.HasPrefix(tag, "</")
	name := tagName(tag)
	if name == "" {
		return stack, closeLen
	}
	if closing {
		if n := len(stack); n > 0 && stack[n-1] == name {
			return stack[:n-1], closeLen - len("</"+name+">")
		}
		return stack, closeLen
	}
	if strings.HasSuffix(tag, "/>") {
		return stack, closeLen
	}
	return append(stack, name), closeLen + len("</"+name+">")
}

func tagName(tag string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(tag, "<"), "/")
	if i := strings.IndexAny(name, " \t\n/>"); i >= 0 {
		name = name[:i]
	}
	return name
}

func closingTags(stack []string) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString("</" + stack[i] + ">")
	}
	return b.String()
}
