// ABOUTME: Markup Document model: sealed block and inline node kinds
// ABOUTME: Every node can degrade to plain text so no content is ever dropped

package markup

import "strings"

// Node is implemented by every block and inline node kind.
type Node interface {
	// PlainText returns the node's content with all markup removed.
	PlainText() string
}

// Block is a block-level node. The set of kinds is closed to this package.
type Block interface {
	Node
	blockNode()
}

// Inline is an inline node. The set of kinds is closed to this package.
type Inline interface {
	Node
	inlineNode()
}

// Document is an ordered sequence of block nodes produced by Parse.
// A Document is immutable once built.
type Document struct {
	Blocks []Block
}

// PlainText joins the plain text of every block, separated by blank lines.
func (d *Document) PlainText() string {
	if d == nil {
		return ""
	}
	return joinBlocks(d.Blocks, "\n\n")
}

// IsEmpty reports whether the document has no blocks.
func (d *Document) IsEmpty() bool {
	return d == nil || len(d.Blocks) == 0
}

// PlainDocument wraps s in a single paragraph. Callers use it as the
// fallback document when the source cannot be parsed.
func PlainDocument(s string) *Document {
	if s == "" {
		return &Document{}
	}
	return &Document{Blocks: []Block{
		&Paragraph{Content: []Inline{&Text{Value: s}}},
	}}
}

// Heading is a section heading of any level.
type Heading struct {
	Level   int
	Content []Inline
}

// Paragraph is a run of inline content.
type Paragraph struct {
	Content []Inline
}

// List is an ordered or unordered list.
type List struct {
	Ordered bool
	Start   int
	Items   []*ListItem
}

// ListItem holds the blocks of a single list entry. Checked is non-nil for
// task-list items.
type ListItem struct {
	Blocks  []Block
	Checked *bool
}

// CodeBlock is a fenced or indented code block.
type CodeBlock struct {
	Language string
	Code     string
}

// BlockQuote wraps nested blocks.
type BlockQuote struct {
	Blocks []Block
}

// ThematicBreak is a horizontal rule.
type ThematicBreak struct{}

// Alignment is a table column alignment.
type Alignment int

// Table column alignments.
const (
	AlignNone Alignment = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// Table is a GFM table. Header holds the header cells; Rows holds the body.
type Table struct {
	Alignments []Alignment
	Header     [][]Inline
	Rows       [][][]Inline
}

// RawBlock carries source text that has no dedicated block kind, such as
// a raw HTML block. It is always rendered as literal text.
type RawBlock struct {
	Text string
}

func (*Heading) blockNode()       {}
func (*Paragraph) blockNode()     {}
func (*List) blockNode()          {}
func (*CodeBlock) blockNode()     {}
func (*BlockQuote) blockNode()    {}
func (*ThematicBreak) blockNode() {}
func (*Table) blockNode()         {}
func (*RawBlock) blockNode()      {}

func (h *Heading) PlainText() string   { return joinInlines(h.Content) }
func (p *Paragraph) PlainText() string { return joinInlines(p.Content) }
func (c *CodeBlock) PlainText() string { return c.Code }
func (*ThematicBreak) PlainText() string {
	return "---"
}
func (r *RawBlock) PlainText() string { return r.Text }

func (l *List) PlainText() string {
	lines := make([]string, 0, len(l.Items))
	for _, item := range l.Items {
		lines = append(lines, item.PlainText())
	}
	return strings.Join(lines, "\n")
}

func (i *ListItem) PlainText() string {
	return joinBlocks(i.Blocks, "\n")
}

func (q *BlockQuote) PlainText() string {
	return joinBlocks(q.Blocks, "\n\n")
}

func (t *Table) PlainText() string {
	var b strings.Builder
	b.WriteString(joinCells(t.Header))
	for _, row := range t.Rows {
		b.WriteString("\n")
		b.WriteString(joinCells(row))
	}
	return b.String()
}

// Text is literal text.
type Text struct {
	Value string
}

// Emphasis is italic content.
type Emphasis struct {
	Content []Inline
}

// Strong is bold content.
type Strong struct {
	Content []Inline
}

// Strikethrough is struck-out content.
type Strikethrough struct {
	Content []Inline
}

// CodeSpan is inline code.
type CodeSpan struct {
	Code string
}

// Link is a hyperlink with a rendered label.
type Link struct {
	URL     string
	Title   string
	Content []Inline
}

// Image is an image reference. Alt is its plain-text description.
type Image struct {
	URL string
	Alt string
}

// LineBreak is a soft or hard line break.
type LineBreak struct {
	Hard bool
}

// RawInline carries inline source text without a dedicated kind, such as
// inline HTML.
type RawInline struct {
	Text string
}

func (*Text) inlineNode()          {}
func (*Emphasis) inlineNode()      {}
func (*Strong) inlineNode()        {}
func (*Strikethrough) inlineNode() {}
func (*CodeSpan) inlineNode()      {}
func (*Link) inlineNode()          {}
func (*Image) inlineNode()         {}
func (*LineBreak) inlineNode()     {}
func (*RawInline) inlineNode()     {}

func (t *Text) PlainText() string          { return t.Value }
func (e *Emphasis) PlainText() string      { return joinInlines(e.Content) }
func (s *Strong) PlainText() string        { return joinInlines(s.Content) }
func (s *Strikethrough) PlainText() string { return joinInlines(s.Content) }
func (c *CodeSpan) PlainText() string      { return c.Code }
func (l *Link) PlainText() string          { return joinInlines(l.Content) }
func (i *Image) PlainText() string         { return "[Image: " + i.Alt + "]" }
func (*LineBreak) PlainText() string       { return "\n" }
func (r *RawInline) PlainText() string     { return r.Text }

func joinInlines(nodes []Inline) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(n.PlainText())
	}
	return b.String()
}

func joinBlocks(blocks []Block, sep string) string {
	parts := make([]string, 0, len(blocks))
	for _, blk := range blocks {
		parts = append(parts, blk.PlainText())
	}
	return strings.Join(parts, sep)
}

func joinCells(cells [][]Inline) string {
	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		parts = append(parts, joinInlines(c))
	}
	return strings.Join(parts, " | ")
}
