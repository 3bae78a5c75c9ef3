package docmodel

import (
	"encoding/json"
	"testing"
)

func TestApplyBatchInsertAppendsAndAdvancesNothingOnItsOwn(t *testing.T) {
	doc := NewDoc(Node{Type: TypeParagraph, Content: []Node{NewText("hi")}})
	batch := Batch{
		{Kind: KindInsert, Path: nil, Pos: 1, Nodes: []Node{
			{Type: TypeParagraph, Content: []Node{NewText("world")}},
		}},
	}
	out, err := ApplyBatch(doc, batch)
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if len(out.Content) != 2 {
		t.Fatalf("len(Content) = %d, want 2", len(out.Content))
	}
	if len(doc.Content) != 1 {
		t.Fatalf("original doc was mutated: len(Content) = %d, want 1", len(doc.Content))
	}
}

func TestApplyBatchRejectsLeavesDocUntouched(t *testing.T) {
	doc := NewDoc(Node{Type: TypeParagraph, Content: []Node{NewText("hi")}})
	batch := Batch{
		{Kind: KindDelete, Pos: 0, Count: 1},
		{Kind: KindDelete, Pos: 5, Count: 1}, // out of range: batch must fail as a whole
	}
	out, err := ApplyBatch(doc, batch)
	if err == nil {
		t.Fatal("expected error for out-of-range batch step")
	}
	if len(out.Content) != 1 {
		t.Fatalf("rejected batch mutated doc: len(Content) = %d, want 1", len(out.Content))
	}
}

func TestMarkdownRoundTrip(t *testing.T) {
	doc := InitialDoc()
	md, err := WriteMarkdown(doc)
	if err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	parsed, err := ReadMarkdown(md)
	if err != nil {
		t.Fatalf("ReadMarkdown: %v", err)
	}
	md2, err := WriteMarkdown(parsed)
	if err != nil {
		t.Fatalf("WriteMarkdown (2nd pass): %v", err)
	}
	if md != md2 {
		t.Fatalf("round trip not idempotent:\n--- first ---\n%s\n--- second ---\n%s", md, md2)
	}
}

func TestNodeJSONRoundTrip(t *testing.T) {
	doc := InitialDoc()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Node
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	data2, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal (2nd pass): %v", err)
	}
	if string(data) != string(data2) {
		t.Fatalf("JSON round trip mismatch:\n%s\nvs\n%s", data, data2)
	}
}
