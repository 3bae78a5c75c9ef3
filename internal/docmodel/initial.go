package docmodel

// InitialDoc returns the document a channel is seeded with when no
// Markdown file exists yet for its path.
func InitialDoc() Node {
	return NewDoc(
		Node{
			Type:    TypeHeading,
			Heading: &HeadingAttrs{Level: 1},
			Content: []Node{NewText("Padington")},
		},
		Node{
			Type:    TypeCodeBlock,
			Code:    &CodeBlockAttrs{Params: ""},
			Content: []Node{NewText("fn foo(a: u32) -> u32 {\n  2 * a\n}")},
		},
		Node{
			Type:    TypeHeading,
			Heading: &HeadingAttrs{Level: 2},
			Content: []Node{NewText("Lorem Ipsum")},
		},
		Node{
			Type: TypeBlockquote,
			Content: []Node{
				{
					Type: TypeParagraph,
					Content: []Node{NewText(
						"Lorem ipsum dolor sit amet, consetetur sadipscing elitr, sed diam nonumy eirmod " +
							"tempor invidunt ut labore et dolore magna aliquyam erat, sed diam voluptua. " +
							"At vero eos et accusam et justo duo dolores et ea rebum. Stet clita kasd " +
							"gubergren, no sea takimata sanctus est Lorem ipsum dolor sit amet.",
					)},
				},
			},
		},
	)
}
