// ABOUTME: Entity escaping for literal text and attribute values in the chat dialect
// ABOUTME: Also strips tags back out of rendered output for plain-text fallbacks

package transcode

import (
	"html"
	"regexp"
	"strings"
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// Escape replaces the dialect's reserved characters with entities. The same
// rule is applied to text content and, independently, to attribute values.
func Escape(s string) string {
	return escaper.Replace(s)
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags removes the tags Render emits and unescapes entities, yielding
// plain text for transports that also carry an unformatted body.
func StripTags(s string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(s, ""))
}
