// Package markup defines the Markup Document that the transcoder consumes
// and parses GitHub-flavoured markdown into it.
//
// # Node kinds
//
// Block and Inline are sealed interfaces: only this package can add kinds.
// Consumers switch on the concrete type and keep a wildcard arm that falls
// back to Node.PlainText, so a document is always fully renderable.
//
// Blocks: Heading, Paragraph, List (with ListItem), CodeBlock, BlockQuote,
// Table, ThematicBreak, RawBlock.
//
// Inlines: Text, Emphasis, Strong, Strikethrough, CodeSpan, Link, Image,
// LineBreak, RawInline.
//
// # Parsing
//
// Parse uses goldmark with the GFM extension set (tables, strikethrough,
// task lists, linkify). Raw HTML in the source becomes RawBlock/RawInline and
// is never passed through as markup. When parsing fails, callers fall back
// to PlainDocument.
package markup
