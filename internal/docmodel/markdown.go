package docmodel

import (
	"fmt"
	"strconv"
	"strings"
)

// WriteMarkdown serializes a doc node to Markdown text. It only accepts
// a TypeDoc root; every other node type is written recursively as a
// block or inline child of that root.
func WriteMarkdown(doc Node) (string, error) {
	if doc.Type != TypeDoc {
		return "", fmt.Errorf("docmodel: WriteMarkdown requires a doc root, got %q", doc.Type)
	}
	var b strings.Builder
	for i, child := range doc.Content {
		if i > 0 {
			b.WriteString("\n")
		}
		writeBlock(&b, child, 0)
	}
	return b.String(), nil
}

func writeBlock(b *strings.Builder, n Node, indent int) {
	pad := strings.Repeat("  ", indent)
	switch n.Type {
	case TypeHeading:
		level := 1
		if n.Heading != nil {
			level = n.Heading.Level
		}
		b.WriteString(pad + strings.Repeat("#", level) + " ")
		writeInline(b, n.Content)
		b.WriteString("\n")
	case TypeParagraph:
		b.WriteString(pad)
		writeInline(b, n.Content)
		b.WriteString("\n")
	case TypeBlockquote:
		for _, child := range n.Content {
			var inner strings.Builder
			writeBlock(&inner, child, 0)
			for _, line := range strings.Split(strings.TrimRight(inner.String(), "\n"), "\n") {
				b.WriteString(pad + "> " + line + "\n")
			}
		}
	case TypeCodeBlock:
		params := ""
		if n.Code != nil {
			params = n.Code.Params
		}
		b.WriteString(pad + "```" + params + "\n")
		for _, child := range n.Content {
			b.WriteString(pad + child.Text + "\n")
		}
		b.WriteString(pad + "```\n")
	case TypeBulletList:
		for _, item := range n.Content {
			writeListItem(b, item, indent, "-")
		}
	case TypeOrderedList:
		start := 1
		if n.Ordered != nil && n.Ordered.Order > 0 {
			start = n.Ordered.Order
		}
		for i, item := range n.Content {
			writeListItem(b, item, indent, strconv.Itoa(start+i)+".")
		}
	case TypeHorizontalRule:
		b.WriteString(pad + "---\n")
	default:
		b.WriteString(pad)
		writeInline(b, []Node{n})
		b.WriteString("\n")
	}
}

func writeListItem(b *strings.Builder, item Node, indent int, marker string) {
	pad := strings.Repeat("  ", indent)
	b.WriteString(pad + marker + " ")
	for i, child := range item.Content {
		if i == 0 {
			writeInline(b, child.Content)
			b.WriteString("\n")
			continue
		}
		writeBlock(b, child, indent+1)
	}
}

func writeInline(b *strings.Builder, nodes []Node) {
	for _, n := range nodes {
		switch n.Type {
		case TypeText:
			b.WriteString(n.Text)
		case TypeHardBreak:
			b.WriteString("  \n")
		case TypeImage:
			if n.Image != nil {
				fmt.Fprintf(b, "![%s](%s)", n.Image.Alt, n.Image.Src)
			}
		default:
			writeInline(b, n.Content)
		}
	}
}

// ReadMarkdown parses Markdown text written by WriteMarkdown back into a
// doc node. It supports the block grammar WriteMarkdown produces:
// ATX headings, paragraphs, fenced code blocks, blockquotes (one level,
// via a leading "> " on every line), flat bullet/ordered lists, and
// horizontal rules.
func ReadMarkdown(text string) (Node, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	content, _, err := parseBlocks(lines, 0)
	if err != nil {
		return Node{}, err
	}
	return NewDoc(content...), nil
}

func parseBlocks(lines []string, i int) ([]Node, int, error) {
	var out []Node
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			i++
		case strings.HasPrefix(trimmed, "```"):
			params := strings.TrimPrefix(trimmed, "```")
			var code []string
			i++
			for i < len(lines) && strings.TrimSpace(lines[i]) != "```" {
				code = append(code, lines[i])
				i++
			}
			i++ // consume closing fence
			out = append(out, Node{
				Type:    TypeCodeBlock,
				Code:    &CodeBlockAttrs{Params: params},
				Content: []Node{NewText(strings.Join(code, "\n"))},
			})
		case strings.HasPrefix(trimmed, "#"):
			level := 0
			for level < len(trimmed) && trimmed[level] == '#' {
				level++
			}
			text := strings.TrimSpace(trimmed[level:])
			out = append(out, Node{
				Type:    TypeHeading,
				Heading: &HeadingAttrs{Level: level},
				Content: parseInline(text),
			})
			i++
		case trimmed == "---":
			out = append(out, Node{Type: TypeHorizontalRule})
			i++
		case strings.HasPrefix(trimmed, "> "):
			var quoted []string
			for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "> ") {
				quoted = append(quoted, strings.TrimPrefix(strings.TrimSpace(lines[i]), "> "))
				i++
			}
			inner, _, err := parseBlocks(quoted, 0)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, Node{Type: TypeBlockquote, Content: inner})
		case strings.HasPrefix(trimmed, "- "):
			var items []Node
			for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "- ") {
				text := strings.TrimPrefix(strings.TrimSpace(lines[i]), "- ")
				items = append(items, Node{Type: TypeListItem, Content: []Node{
					{Type: TypeParagraph, Content: parseInline(text)},
				}})
				i++
			}
			out = append(out, Node{Type: TypeBulletList, Bullet: &BulletListAttrs{Tight: true}, Content: items})
		case isOrderedItem(trimmed):
			var items []Node
			order := orderedStart(trimmed)
			for i < len(lines) && isOrderedItem(strings.TrimSpace(lines[i])) {
				text := afterOrderedMarker(strings.TrimSpace(lines[i]))
				items = append(items, Node{Type: TypeListItem, Content: []Node{
					{Type: TypeParagraph, Content: parseInline(text)},
				}})
				i++
			}
			out = append(out, Node{Type: TypeOrderedList, Ordered: &OrderedListAttrs{Order: order, Tight: true}, Content: items})
		default:
			out = append(out, Node{Type: TypeParagraph, Content: parseInline(line)})
			i++
		}
	}
	return out, i, nil
}

func isOrderedItem(s string) bool {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && strings.HasPrefix(s[i:], ". ")
}

func orderedStart(s string) int {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, _ := strconv.Atoi(s[:i])
	return n
}

func afterOrderedMarker(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return strings.TrimPrefix(s[i:], ". ")
}

// parseInline wraps one line of text in a single text node. Hard breaks
// are not reconstructed: the newline writeInline emits for a hard_break
// ends the line, and the text after it is read as a separate block.
func parseInline(text string) []Node {
	if text == "" {
		return nil
	}
	return []Node{NewText(text)}
}
