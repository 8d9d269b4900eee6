// Package transcode renders a markup.Document into the restricted HTML
// dialect accepted by chat transports such as Telegram and Matrix.
//
// # Target dialect
//
// Only these tags are ever emitted: b, i, s, code, pre, a (href only) and
// blockquote. Headings become bold lines, lists become bullet lines, tables
// become aligned plain text inside a single pre block, images become a
// "[Image: description]" placeholder and thematic breaks a literal "---".
//
// # Escaping
//
// Every piece of document text passes through Escape before it is written,
// and link URLs are escaped separately for the href attribute. The only
// '<' characters in the output therefore belong to tags the renderer wrote.
//
// # Length cap
//
// Render is unbounded. Transports call Truncate (or Transcode, which parses,
// renders and truncates in one step) to apply MaxLength. Truncation never
// splits a tag or entity and always leaves balanced markup followed by
// TruncationMarker.
package transcode
