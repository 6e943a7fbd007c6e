package ingest

import (
	"strings"
	"testing"
)

func TestChunkTextEmpty(t *testing.T) {
	if got := ChunkText("", 900); got != nil {
		t.Errorf("empty text should yield no chunks, got %v", got)
	}
	if got := ChunkText("  \n \n", 900); got != nil {
		t.Errorf("whitespace text should yield no chunks, got %v", got)
	}
}

func TestChunkTextPacksParagraphs(t *testing.T) {
	text := "first paragraph\nsecond paragraph\nthird paragraph"
	got := ChunkText(text, 900)
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	if got[0] != text {
		t.Errorf("chunk should preserve paragraph text, got %q", got[0])
	}
}

func TestChunkTextSplitsAtBudget(t *testing.T) {
	a := strings.Repeat("a", 50)
	b := strings.Repeat("b", 50)
	c := strings.Repeat("c", 50)
	got := ChunkText(a+"\n"+b+"\n"+c, 105)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(got), got)
	}
	if got[0] != a+"\n"+b {
		t.Errorf("first chunk should pack two paragraphs, got %q", got[0])
	}
	if got[1] != c {
		t.Errorf("second chunk mismatch, got %q", got[1])
	}
}

func TestChunkTextHardSplitsOversizedParagraph(t *testing.T) {
	p := strings.Repeat("x", 2100)
	got := ChunkText(p, 900)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for i, c := range got {
		if len(c) > 900 {
			t.Errorf("chunk %d exceeds budget: %d chars", i, len(c))
		}
	}
	if got[2] != strings.Repeat("x", 300) {
		t.Errorf("tail chunk length wrong: %d", len(got[2]))
	}
}
