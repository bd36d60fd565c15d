// ABOUTME: Renders assistant markdown as WhatsApp text markup
// ABOUTME: Walks the goldmark AST: *bold*, _italic_, ~strike~, code fences, bullets and "label (url)" links

package format

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
)

// WhatsApp converts markdown into the markup WhatsApp renders. Constructs
// WhatsApp has no equivalent for (headings, links, images) are flattened to
// readable text.
func WhatsApp(md string) string {
	src := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(src))
	r := &waRenderer{src: src}
	return strings.TrimSpace(r.blocks(doc, "\n\n"))
}

type waRenderer struct {
	src []byte
}

func (r *waRenderer) blocks(parent ast.Node, sep string) string {
	var parts []string
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if s := r.block(n); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func (r *waRenderer) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return strings.TrimSpace(r.inlines(n))

	case *ast.Heading:
		return wrap("*", strings.TrimSpace(r.inlines(n)))

	case *ast.ThematicBreak:
		return "⎯⎯⎯"

	case *ast.Blockquote:
		return prefixLines(r.blocks(n, "\n\n"), "> ", "> ")

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return "```\n" + strings.TrimRight(r.lines(n), "\n") + "\n```"

	case *ast.List:
		var items []string
		num := n.Start
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			marker := "• "
			if n.IsOrdered() {
				marker = fmt.Sprintf("%d. ", num)
				num++
			}
			items = append(items, prefixLines(r.blocks(item, "\n"), marker, "  "))
		}
		return strings.Join(items, "\n")

	case *ast.HTMLBlock:
		return ""

	default:
		return r.blocks(n, "\n\n")
	}
}

func (r *waRenderer) inlines(parent ast.Node) string {
	var b strings.Builder
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		b.WriteString(r.inline(n))
	}
	return b.String()
}

func (r *waRenderer) inline(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Text:
		s := string(n.Segment.Value(r.src))
		if n.SoftLineBreak() || n.HardLineBreak() {
			s += "\n"
		}
		return s

	case *ast.String:
		return string(n.Value)

	case *ast.Emphasis:
		marker := "_"
		if n.Level >= 2 {
			marker = "*"
		}
		return wrap(marker, r.inlines(n))

	case *east.Strikethrough:
		return wrap("~", r.inlines(n))

	case *ast.CodeSpan:
		return wrap("`", r.inlines(n))

	case *ast.Link:
		return labelled(r.inlines(n), string(n.Destination))

	case *ast.AutoLink:
		return string(n.Label(r.src))

	case *ast.Image:
		return labelled(r.inlines(n), string(n.Destination))

	case *ast.RawHTML:
		return ""

	default:
		return r.inlines(n)
	}
}

func (r *waRenderer) lines(n ast.Node) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(r.src))
	}
	return buf.String()
}

// wrap surrounds s with marker. WhatsApp ignores markers next to whitespace,
// so surrounding spaces are moved outside.
func wrap(marker, s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	lead := s[:strings.Index(s, trimmed)]
	trail := s[len(lead)+len(trimmed):]
	return lead + marker + trimmed + marker + trail
}

func labelled(label, dest string) string {
	label = strings.TrimSpace(label)
	switch {
	case dest == "":
		return label
	case label == "" || label == dest || "mailto:"+label == dest:
		return dest
	default:
		return label + " (" + dest + ")"
	}
}

// prefixLines puts first before the first line and rest before the others.
func prefixLines(s, first, rest string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		switch {
		case i == 0:
			lines[i] = first + line
		case line == "":
			lines[i] = strings.TrimRight(rest, " ")
		default:
			lines[i] = rest + line
		}
	}
	return strings.Join(lines, "\n")
}
