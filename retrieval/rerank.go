package retrieval

import (
	"sort"
	"strings"
)

// Rerank weights. Similarity dominates, lexical overlap corrects embedding
// near-misses, rank position preserves the vector ordering as a tiebreak.
const (
	weightSimilarity = 0.55
	weightOverlap    = 0.25
	weightRank       = 0.20

	bonusResolution    = 0.05
	bonusCriticalTable = 0.10
)

// criticalTables are the reference tables whose rows outrank other notes.
var criticalTables = map[string]bool{
	"raw_material":  true,
	"raw_materials": true,
	"processes":     true,
	"boughtouts":    true,
}

// tokens extracts the lexical token set of a text: lowercased, punctuation
// stripped, tokens shorter than 3 characters dropped.
func tokens(text string) map[string]bool {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	set := make(map[string]bool)
	for _, t := range strings.Fields(b.String()) {
		if len(t) >= 3 {
			set[t] = true
		}
	}
	return set
}

// overlapScore is the fraction of query tokens present in the document.
func overlapScore(queryTokens map[string]bool, doc string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	dt := tokens(doc)
	if len(dt) == 0 {
		return 0
	}
	shared := 0
	for t := range queryTokens {
		if dt[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(queryTokens))
}

// rerankOrder blends similarity, lexical overlap and original rank into a
// score per item and returns item indices ordered best first. bonus may be
// nil.
func rerankOrder(query string, texts []string, sims []float32, bonus func(i int) float64) []int {
	qt := tokens(query)

	type scored struct {
		index int
		score float64
	}
	items := make([]scored, len(texts))
	for i := range texts {
		score := weightSimilarity*float64(sims[i]) +
			weightOverlap*overlapScore(qt, texts[i]) +
			weightRank*(1.0/float64(1+i))
		if bonus != nil {
			score += bonus(i)
		}
		items[i] = scored{index: i, score: score}
	}
	sort.SliceStable(items, func(a, b int) bool { return items[a].score > items[b].score })

	order := make([]int, len(items))
	for i, it := range items {
		order[i] = it.index
	}
	return order
}
