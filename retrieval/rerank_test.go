package retrieval

import "testing"

func TestTokens(t *testing.T) {
	got := tokens("Weld-seam CRACKED, at 45mm!")
	for _, want := range []string{"weld", "seam", "cracked", "45mm"} {
		if !got[want] {
			t.Errorf("missing token %q in %v", want, got)
		}
	}
	if got["at"] {
		t.Error("short tokens should be dropped")
	}
}

func TestOverlapScore(t *testing.T) {
	qt := tokens("crack weld flange")
	if got := overlapScore(qt, "crack found at the weld near the flange"); got != 1.0 {
		t.Errorf("full overlap should score 1.0, got %f", got)
	}
	if got := overlapScore(qt, "paint peeling on housing"); got != 0.0 {
		t.Errorf("no overlap should score 0.0, got %f", got)
	}
	if got := overlapScore(qt, ""); got != 0.0 {
		t.Errorf("empty doc should score 0.0, got %f", got)
	}
}

func TestRerankOrderPrefersLexicalMatch(t *testing.T) {
	// Equal similarity: the lexically matching doc must win even from a
	// worse rank position.
	texts := []string{
		"paint peeling on housing cover",
		"crack at weld seam near flange bolt",
	}
	sims := []float32{0.80, 0.80}
	order := rerankOrder("crack weld flange", texts, sims, nil)
	if order[0] != 1 {
		t.Errorf("expected lexical match first, got order %v", order)
	}
}

func TestRerankOrderKeepsVectorOrderAsTiebreak(t *testing.T) {
	texts := []string{"alpha beta gamma", "delta epsilon zeta"}
	sims := []float32{0.9, 0.9}
	order := rerankOrder("unrelated query words", texts, sims, nil)
	if order[0] != 0 {
		t.Errorf("equal scores should preserve vector order, got %v", order)
	}
}

func TestRerankOrderBonus(t *testing.T) {
	texts := []string{"same text", "same text"}
	sims := []float32{0.9, 0.9}
	order := rerankOrder("query", texts, sims, func(i int) float64 {
		if i == 1 {
			return 0.15
		}
		return 0
	})
	if order[0] != 1 {
		t.Errorf("bonus should outweigh rank position, got %v", order)
	}
}
