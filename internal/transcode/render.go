// ABOUTME: Transcoder from the Markup Document to the restricted chat HTML dialect
// ABOUTME: Exhaustive type switch over node kinds with a plain-text wildcard arm

package transcode

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/claude-relay/internal/markup"
)

// Bullet prefixes every list item regardless of list ordering.
const Bullet = "• "

// HorizontalRule is the literal line emitted for a thematic break.
const HorizontalRule = "---"

const (
	checkedBox   = "☑ "
	uncheckedBox = "☐ "
	cellSep      = " │ "
	ruleChar     = "─"
	ruleJoin     = "─┼─"
)

// Render converts doc into the target dialect. It is pure and never fails:
// node kinds without a dedicated mapping are emitted as escaped plain text.
func Render(doc *markup.Document) string {
	if doc == nil {
		return ""
	}
	var r renderer
	r.blocks(doc.Blocks)
	return strings.TrimSpace(r.b.String())
}

type renderer struct {
	b strings.Builder
}

func (r *renderer) blocks(blocks []markup.Block) {
	for _, blk := range blocks {
		r.block(blk)
	}
}

func (r *renderer) block(blk markup.Block) {
	switch n := blk.(type) {
	case *markup.Heading:
		r.b.WriteString("<b>")
		r.inlines(n.Content)
		r.b.WriteString("</b>\n\n")
	case *markup.Paragraph:
		r.inlines(n.Content)
		r.b.WriteString("\n\n")
	case *markup.List:
		r.list(n, 0)
		r.b.WriteString("\n")
	case *markup.CodeBlock:
		r.codeBlock(n)
	case *markup.BlockQuote:
		r.b.WriteString("<blockquote>")
		r.b.WriteString(renderBlocks(n.Blocks))
		r.b.WriteString("</blockquote>\n\n")
	case *markup.ThematicBreak:
		r.b.WriteString(HorizontalRule)
		r.b.WriteString("\n\n")
	case *markup.Table:
		r.table(n)
	case *markup.RawBlock:
		r.b.WriteString(Escape(strings.TrimRight(n.Text, "\n")))
		r.b.WriteString("\n\n")
	default:
		r.b.WriteString(Escape(blk.PlainText()))
		r.b.WriteString("\n\n")
	}
}

// renderBlocks renders nested blocks on their own and trims the result.
func renderBlocks(blocks []markup.Block) string {
	var sub renderer
	sub.blocks(blocks)
	return strings.TrimSpace(sub.b.String())
}

func (r *renderer) list(l *markup.List, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, item := range l.Items {
		r.b.WriteString(indent)
		r.b.WriteString(Bullet)
		if item.Checked != nil {
			if *item.Checked {
				r.b.WriteString(checkedBox)
			} else {
				r.b.WriteString(uncheckedBox)
			}
		}
		r.listItem(item, depth)
	}
}

// listItem writes the first paragraph inline after the bullet. Nested lists
// go one level deeper; any other block continues on an indented line.
func (r *renderer) listItem(item *markup.ListItem, depth int) {
	rest := item.Blocks
	if len(rest) > 0 {
		if p, ok := rest[0].(*markup.Paragraph); ok {
			r.inlines(p.Content)
			rest = rest[1:]
		}
	}
	r.b.WriteString("\n")

	contIndent := strings.Repeat("  ", depth+1)
	for _, blk := range rest {
		if nested, ok := blk.(*markup.List); ok {
			r.list(nested, depth+1)
			continue
		}
		text := renderBlocks([]markup.Block{blk})
		if text == "" {
			continue
		}
		r.b.WriteString(contIndent)
		r.b.WriteString(text)
		r.b.WriteString("\n")
	}
}

func (r *renderer) codeBlock(n *markup.CodeBlock) {
	code := Escape(strings.TrimSpace(n.Code))
	r.b.WriteString("<pre>")
	if n.Language != "" {
		r.b.WriteString(`<code class="language-`)
		r.b.WriteString(Escape(n.Language))
		r.b.WriteString(`">`)
		r.b.WriteString(code)
		r.b.WriteString("</code>")
	} else {
		r.b.WriteString(code)
	}
	r.b.WriteString("</pre>\n\n")
}

// table lays the cells out as aligned plain text inside one <pre> block.
func (r *renderer) table(t *markup.Table) {
	header := cellTexts(t.Header)
	rows := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rows = append(rows, cellTexts(row))
	}

	cols := len(header)
	for _, row := range rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return
	}

	widths := make([]int, cols)
	measure := func(cells []string) {
		for i, c := range cells {
			widths[i] = max(widths[i], runewidth.StringWidth(c))
		}
	}
	measure(header)
	for _, row := range rows {
		measure(row)
	}

	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, formatRow(header, widths, t.Alignments))
	rule := make([]string, cols)
	for i, w := range widths {
		rule[i] = strings.Repeat(ruleChar, max(w, 1))
	}
	lines = append(lines, strings.Join(rule, ruleJoin))
	for _, row := range rows {
		lines = append(lines, formatRow(row, widths, t.Alignments))
	}

	r.b.WriteString("<pre>")
	r.b.WriteString(Escape(strings.Join(lines, "\n")))
	r.b.WriteString("</pre>\n\n")
}

func cellTexts(cells [][]markup.Inline) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		var b strings.Builder
		for _, n := range c {
			b.WriteString(n.PlainText())
		}
		out[i] = strings.TrimSpace(strings.ReplaceAll(b.String(), "\n", " "))
	}
	return out
}

func formatRow(cells []string, widths []int, aligns []markup.Alignment) string {
	padded := make([]string, len(widths))
	for i, w := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		align := markup.AlignNone
		if i < len(aligns) {
			align = aligns[i]
		}
		padded[i] = pad(cell, w, align)
	}
	return strings.TrimRight(strings.Join(padded, cellSep), " ")
}

func pad(s string, width int, align markup.Alignment) string {
	gap := width - runewidth.StringWidth(s)
	if gap <= 0 {
		return s
	}
	switch align {
	case markup.AlignRight:
		return strings.Repeat(" ", gap) + s
	case markup.AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + s + strings.Repeat(" ", gap-left)
	default:
		return s + strings.Repeat(" ", gap)
	}
}

func (r *renderer) inlines(nodes []markup.Inline) {
	for _, n := range nodes {
		r.inline(n)
	}
}

func (r *renderer) inline(node markup.Inline) {
	switch n := node.(type) {
	case *markup.Text:
		r.b.WriteString(Escape(n.Value))
	case *markup.Emphasis:
		r.wrap("i", n.Content)
	case *markup.Strong:
		r.wrap("b", n.Content)
	case *markup.Strikethrough:
		r.wrap("s", n.Content)
	case *markup.CodeSpan:
		r.b.WriteString("<code>")
		r.b.WriteString(Escape(n.Code))
		r.b.WriteString("</code>")
	case *markup.Link:
		r.link(n)
	case *markup.Image:
		desc := n.Alt
		if desc == "" {
			desc = n.URL
		}
		r.b.WriteString("[Image: ")
		r.b.WriteString(Escape(desc))
		r.b.WriteString("]")
	case *markup.LineBreak:
		r.b.WriteString("\n")
	case *markup.RawInline:
		r.b.WriteString(Escape(n.Text))
	default:
		r.b.WriteString(Escape(node.PlainText()))
	}
}

func (r *renderer) wrap(tag string, content []markup.Inline) {
	r.b.WriteString("<" + tag + ">")
	r.inlines(content)
	r.b.WriteString("</" + tag + ">")
}

// link drops the href for empty and script-bearing URLs and keeps the label.
func (r *renderer) link(n *markup.Link) {
	if n.URL == "" || html.IsDangerousURL([]byte(n.URL)) {
		if len(n.Content) == 0 {
			r.b.WriteString(Escape(n.URL))
			return
		}
		r.inlines(n.Content)
		return
	}
	r.b.WriteString(`<a href="`)
	r.b.WriteString(Escape(n.URL))
	r.b.WriteString(`">`)
	if len(n.Content) == 0 {
		r.b.WriteString(Escape(n.URL))
	} else {
		r.inlines(n.Content)
	}
	r.b.WriteString("</a>")
}
