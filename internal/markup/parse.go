// ABOUTME: Markdown parsing into the Markup Document using goldmark with GFM extensions
// ABOUTME: Converts goldmark's AST into the closed set of document node kinds

package markup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// ErrParse is returned when the source cannot be turned into a Document.
var ErrParse = errors.New("markup parse failed")

// GFM gives us tables, strikethrough, task lists and bare-URL linkify.
var mdParser parser.Parser = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
).Parser()

// Parse converts GitHub-flavoured markdown into a Document.
func Parse(src string) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: %v", ErrParse, r)
		}
	}()

	source := []byte(src)
	root := mdParser.Parse(text.NewReader(source))

	c := &converter{source: source}
	return &Document{Blocks: c.blocks(root)}, nil
}

// converter walks a goldmark AST. source is required to resolve segments.
type converter struct {
	source []byte
}

func (c *converter) blocks(parent gast.Node) []Block {
	var out []Block
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if b := c.block(n); b != nil {
			out = append(out, b)
		}
	}
	return out
}

func (c *converter) block(n gast.Node) Block {
	switch n := n.(type) {
	case *gast.Heading:
		return &Heading{Level: n.Level, Content: c.inlines(n)}
	case *gast.Paragraph:
		return &Paragraph{Content: c.inlines(n)}
	case *gast.TextBlock:
		return &Paragraph{Content: c.inlines(n)}
	case *gast.List:
		l := &List{Ordered: n.IsOrdered(), Start: n.Start}
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			l.Items = append(l.Items, c.listItem(item))
		}
		return l
	case *gast.FencedCodeBlock:
		return &CodeBlock{
			Language: string(n.Language(c.source)),
			Code:     c.lines(n),
		}
	case *gast.CodeBlock:
		return &CodeBlock{Code: c.lines(n)}
	case *gast.Blockquote:
		return &BlockQuote{Blocks: c.blocks(n)}
	case *gast.ThematicBreak:
		return &ThematicBreak{}
	case *east.Table:
		return c.table(n)
	case *gast.HTMLBlock:
		raw := c.lines(n)
		if n.HasClosure() {
			raw += string(n.ClosureLine.Value(c.source))
		}
		return &RawBlock{Text: raw}
	default:
		return &RawBlock{Text: c.fallbackText(n)}
	}
}

func (c *converter) listItem(n gast.Node) *ListItem {
	item := &ListItem{}
	if first := n.FirstChild(); first != nil {
		if box, ok := first.FirstChild().(*east.TaskCheckBox); ok {
			checked := box.IsChecked
			item.Checked = &checked
		}
	}
	item.Blocks = c.blocks(n)
	return item
}

func (c *converter) table(n *east.Table) *Table {
	t := &Table{}
	for _, a := range n.Alignments {
		t.Alignments = append(t.Alignments, alignment(a))
	}
	for row := n.FirstChild(); row != nil; row = row.NextSibling() {
		var cells [][]Inline
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, c.inlines(cell))
		}
		if _, ok := row.(*east.TableHeader); ok {
			t.Header = cells
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func alignment(a east.Alignment) Alignment {
	switch a {
	case east.AlignLeft:
		return AlignLeft
	case east.AlignCenter:
		return AlignCenter
	case east.AlignRight:
		return AlignRight
	default:
		return AlignNone
	}
}

func (c *converter) inlines(parent gast.Node) []Inline {
	var out []Inline
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		out = c.appendInline(out, n)
	}
	return out
}

func (c *converter) appendInline(out []Inline, n gast.Node) []Inline {
	switch n := n.(type) {
	case *gast.Text:
		value := n.Segment.Value(c.source)
		if !n.IsRaw() {
			value = resolveText(value)
		}
		out = appendText(out, string(value))
		if n.HardLineBreak() {
			out = append(out, &LineBreak{Hard: true})
		} else if n.SoftLineBreak() {
			out = append(out, &LineBreak{})
		}
		return out
	case *gast.String:
		return appendText(out, string(n.Value))
	case *gast.Emphasis:
		if n.Level >= 2 {
			return append(out, &Strong{Content: c.inlines(n)})
		}
		return append(out, &Emphasis{Content: c.inlines(n)})
	case *east.Strikethrough:
		return append(out, &Strikethrough{Content: c.inlines(n)})
	case *gast.CodeSpan:
		return append(out, &CodeSpan{Code: c.codeSpan(n)})
	case *gast.Link:
		return append(out, &Link{
			URL:     destination(n.Destination),
			Title:   string(resolveText(n.Title)),
			Content: c.inlines(n),
		})
	case *gast.Image:
		return append(out, &Image{
			URL: destination(n.Destination),
			Alt: joinInlines(c.inlines(n)),
		})
	case *gast.AutoLink:
		url := string(n.URL(c.source))
		if n.AutoLinkType == gast.AutoLinkEmail && !strings.HasPrefix(strings.ToLower(url), "mailto:") {
			url = "mailto:" + url
		}
		return append(out, &Link{
			URL:     url,
			Content: []Inline{&Text{Value: string(n.Label(c.source))}},
		})
	case *east.TaskCheckBox:
		// surfaced as ListItem.Checked
		return out
	case *gast.RawHTML:
		var b strings.Builder
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			b.Write(seg.Value(c.source))
		}
		return append(out, &RawInline{Text: b.String()})
	default:
		return append(out, &RawInline{Text: c.fallbackText(n)})
	}
}

// appendText merges adjacent text runs that goldmark splits at delimiters.
func appendText(out []Inline, value string) []Inline {
	if value == "" {
		return out
	}
	if len(out) > 0 {
		if prev, ok := out[len(out)-1].(*Text); ok {
			out[len(out)-1] = &Text{Value: prev.Value + value}
			return out
		}
	}
	return append(out, &Text{Value: value})
}

// destination resolves escapes and entity references in a link target and
// percent-encodes what is not URL-safe, as goldmark's HTML renderer does.
func destination(v []byte) string {
	return string(util.URLEscape(v, true))
}

func resolveText(v []byte) []byte {
	v = util.ResolveNumericReferences(v)
	v = util.ResolveEntityNames(v)
	return util.UnescapePunctuations(v)
}

func (c *converter) codeSpan(n *gast.CodeSpan) string {
	var b strings.Builder
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch t := child.(type) {
		case *gast.Text:
			b.Write(t.Segment.Value(c.source))
		case *gast.String:
			b.Write(t.Value)
		}
	}
	return strings.ReplaceAll(b.String(), "\n", " ")
}

func (c *converter) lines(n gast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(c.source))
	}
	return b.String()
}

// fallbackText recovers the literal text of a node kind we have no mapping for.
func (c *converter) fallbackText(n gast.Node) string {
	if n.Type() == gast.TypeBlock && !n.HasChildren() {
		return c.lines(n)
	}
	var b strings.Builder
	_ = gast.Walk(n, func(child gast.Node, entering bool) (gast.WalkStatus, error) {
		if !entering {
			return gast.WalkContinue, nil
		}
		switch t := child.(type) {
		case *gast.Text:
			b.Write(t.Segment.Value(c.source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *gast.String:
			b.Write(t.Value)
		}
		return gast.WalkContinue, nil
	})
	return b.String()
}
