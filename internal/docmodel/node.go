// Package docmodel implements the node tree, step application, and
// Markdown (de)serialization that the collaborative document is built
// from. The wire protocol and the channel actor treat this package as
// an external document-transform library: callers never reach into a
// Node's fields directly, they go through NewDoc/NewText, ApplyBatch,
// and the Markdown reader/writer.
package docmodel

import (
	"encoding/json"
	"fmt"
)

// Type tags the concrete shape of a Node, mirroring the ProseMirror-style
// schema the document is modeled on (doc, heading, paragraph, blockquote,
// code_block, bullet_list, ordered_list, list_item, text, image,
// hard_break, horizontal_rule).
type Type string

const (
	TypeDoc            Type = "doc"
	TypeHeading        Type = "heading"
	TypeParagraph      Type = "paragraph"
	TypeBlockquote     Type = "blockquote"
	TypeCodeBlock      Type = "code_block"
	TypeBulletList     Type = "bullet_list"
	TypeOrderedList    Type = "ordered_list"
	TypeListItem       Type = "list_item"
	TypeText           Type = "text"
	TypeImage          Type = "image"
	TypeHardBreak      Type = "hard_break"
	TypeHorizontalRule Type = "horizontal_rule"
)

// HeadingAttrs carries a heading's level (1-6).
type HeadingAttrs struct {
	Level int `json:"level"`
}

// CodeBlockAttrs carries a code block's info-string (language/params).
type CodeBlockAttrs struct {
	Params string `json:"params"`
}

// BulletListAttrs carries whether a bullet list renders "tight".
type BulletListAttrs struct {
	Tight bool `json:"tight"`
}

// OrderedListAttrs carries an ordered list's starting number and tightness.
type OrderedListAttrs struct {
	Order int  `json:"order"`
	Tight bool `json:"tight"`
}

// ImageAttrs carries an image node's source, alt text, and title.
type ImageAttrs struct {
	Src   string `json:"src"`
	Alt   string `json:"alt,omitempty"`
	Title string `json:"title,omitempty"`
}

// Node is one element of the document tree. Only the fields relevant to
// its Type are meaningful; MarshalJSON/UnmarshalJSON fold the attrs
// struct for the concrete type into a single "attrs" wire field so the
// JSON shape matches a hand-written ProseMirror client's expectations.
type Node struct {
	Type    Type
	Content []Node
	Text    string

	Heading *HeadingAttrs
	Code    *CodeBlockAttrs
	Bullet  *BulletListAttrs
	Ordered *OrderedListAttrs
	Image   *ImageAttrs
}

// wireNode is the JSON-tagged shape of Node.
type wireNode struct {
	Type    Type            `json:"type"`
	Content []Node          `json:"content,omitempty"`
	Text    string          `json:"text,omitempty"`
	Attrs   json.RawMessage `json:"attrs,omitempty"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	w := wireNode{Type: n.Type, Content: n.Content, Text: n.Text}
	var (
		attrs any
		err   error
	)
	switch n.Type {
	case TypeHeading:
		attrs = n.Heading
	case TypeCodeBlock:
		attrs = n.Code
	case TypeBulletList:
		attrs = n.Bullet
	case TypeOrderedList:
		attrs = n.Ordered
	case TypeImage:
		attrs = n.Image
	}
	if attrs != nil {
		w.Attrs, err = json.Marshal(attrs)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(w)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	n.Type = w.Type
	n.Content = w.Content
	n.Text = w.Text
	if len(w.Attrs) == 0 {
		return nil
	}
	switch w.Type {
	case TypeHeading:
		n.Heading = &HeadingAttrs{}
		return json.Unmarshal(w.Attrs, n.Heading)
	case TypeCodeBlock:
		n.Code = &CodeBlockAttrs{}
		return json.Unmarshal(w.Attrs, n.Code)
	case TypeBulletList:
		n.Bullet = &BulletListAttrs{}
		return json.Unmarshal(w.Attrs, n.Bullet)
	case TypeOrderedList:
		n.Ordered = &OrderedListAttrs{}
		return json.Unmarshal(w.Attrs, n.Ordered)
	case TypeImage:
		n.Image = &ImageAttrs{}
		return json.Unmarshal(w.Attrs, n.Image)
	}
	return nil
}

// clone returns a deep copy of n, so that a rejected step batch can never
// be observed to have mutated the document that produced it.
func (n Node) clone() Node {
	out := n
	if n.Content != nil {
		out.Content = make([]Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = c.clone()
		}
	}
	if n.Heading != nil {
		h := *n.Heading
		out.Heading = &h
	}
	if n.Code != nil {
		c := *n.Code
		out.Code = &c
	}
	if n.Bullet != nil {
		b := *n.Bullet
		out.Bullet = &b
	}
	if n.Ordered != nil {
		o := *n.Ordered
		out.Ordered = &o
	}
	if n.Image != nil {
		i := *n.Image
		out.Image = &i
	}
	return out
}

// NewText constructs a bare text node.
func NewText(s string) Node {
	return Node{Type: TypeText, Text: s}
}

// NewDoc constructs a doc node wrapping the given content.
func NewDoc(content ...Node) Node {
	return Node{Type: TypeDoc, Content: content}
}

func (n *Node) childAt(pos int) (*Node, error) {
	if pos < 0 || pos >= len(n.Content) {
		return nil, fmt.Errorf("docmodel: position %d out of range [0,%d)", pos, len(n.Content))
	}
	return &n.Content[pos], nil
}
