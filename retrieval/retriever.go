// Package retrieval assembles the context bundle for reply generation:
// per-family nearest neighbours reranked with a lexical blend and trimmed
// to a per-family budget.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopfloor-ai/recall/core"
	"github.com/shopfloor-ai/recall/vector"
)

// Config holds the per-family result budgets.
type Config struct {
	IncidentK  int
	KnowledgeK int
	DashboardK int
	ReferenceK int

	// WideFactor multiplies each budget for the pre-rerank fetch.
	WideFactor int
}

// DefaultConfig returns the standard budgets.
func DefaultConfig() Config {
	return Config{
		IncidentK:  5,
		KnowledgeK: 5,
		DashboardK: 8,
		ReferenceK: 6,
		WideFactor: 4,
	}
}

// Bundle is the retrieved context for one check-in. Empty families are
// empty slices, never errors; generation degrades gracefully with less
// context.
type Bundle struct {
	Profile     string
	Problems    []vector.IncidentHit
	Resolutions []vector.IncidentHit
	Media       []vector.IncidentHit
	Knowledge   []vector.KnowledgeHit
	Dashboard   []vector.DashboardHit
	References  []vector.ReferenceHit
}

// Retriever runs the similarity queries for a snapshot.
type Retriever struct {
	Store    vector.Store
	Embedder vector.Embedder
	Config   Config
}

// New creates a retriever with default budgets.
func New(store vector.Store, embedder vector.Embedder) *Retriever {
	return &Retriever{Store: store, Embedder: embedder, Config: DefaultConfig()}
}

// Retrieve embeds the query text once and fans out across every family,
// restricted to the scope's tenant (and project/part for families that
// carry them). Incident results never include the check-in in scope.
func (r *Retriever) Retrieve(ctx context.Context, scope core.ResolvedScope, query string) (*Bundle, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Bundle{}, nil
	}

	emb, err := r.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	cfg := r.Config
	wide := func(k int) int {
		f := cfg.WideFactor
		if f < 1 {
			f = 1
		}
		return k * f
	}

	bundle := &Bundle{}

	incidents := func(slot vector.IncidentSlot) ([]vector.IncidentHit, error) {
		hits, err := r.Store.SearchIncidents(ctx, vector.IncidentQuery{
			TenantID:         scope.TenantID,
			Embedding:        emb,
			TopK:             wide(cfg.IncidentK),
			Slot:             slot,
			ProjectName:      scope.ProjectName,
			PartNumber:       scope.PartNumber,
			ExcludeCheckinID: scope.CheckinID,
		})
		if err != nil {
			return nil, fmt.Errorf("searching incidents (%s): %w", slot, err)
		}
		return hits, nil
	}

	if bundle.Problems, err = incidents(vector.SlotProblem); err != nil {
		return nil, err
	}
	if bundle.Resolutions, err = incidents(vector.SlotResolution); err != nil {
		return nil, err
	}
	if bundle.Media, err = incidents(vector.SlotMedia); err != nil {
		return nil, err
	}

	bundle.Knowledge, err = r.Store.SearchKnowledge(ctx, vector.KnowledgeQuery{
		TenantID:    scope.TenantID,
		Embedding:   emb,
		TopK:        wide(cfg.KnowledgeK),
		ProjectName: scope.ProjectName,
		PartNumber:  scope.PartNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("searching knowledge: %w", err)
	}

	bundle.Dashboard, err = r.Store.SearchDashboard(ctx, vector.DashboardQuery{
		TenantID:    scope.TenantID,
		Embedding:   emb,
		TopK:        wide(cfg.DashboardK),
		ProjectName: scope.ProjectName,
		PartNumber:  scope.PartNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("searching dashboard: %w", err)
	}

	bundle.References, err = r.Store.SearchReference(ctx, vector.ReferenceQuery{
		TenantID:  scope.TenantID,
		Embedding: emb,
		TopK:      wide(cfg.ReferenceK),
	})
	if err != nil {
		return nil, fmt.Errorf("searching references: %w", err)
	}

	bundle.Profile, err = r.Store.ProfileText(ctx, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant profile: %w", err)
	}

	r.rerank(query, bundle)
	return bundle, nil
}

// rerank applies the lexical blend to each family and trims to budget.
func (r *Retriever) rerank(query string, b *Bundle) {
	cfg := r.Config

	b.Problems = rerankIncidents(query, dedupByCheckin(b.Problems), 0, cfg.IncidentK)
	b.Resolutions = rerankIncidents(query, dedupByCheckin(b.Resolutions), bonusResolution, cfg.IncidentK)
	b.Media = rerankIncidents(query, dedupByCheckin(b.Media), 0, cfg.IncidentK)

	texts := make([]string, len(b.Knowledge))
	sims := make([]float32, len(b.Knowledge))
	for i, h := range b.Knowledge {
		texts[i], sims[i] = h.Text, h.Similarity
	}
	b.Knowledge = trimByOrder(b.Knowledge, rerankOrder(query, texts, sims, nil), cfg.KnowledgeK)

	texts = make([]string, len(b.Dashboard))
	sims = make([]float32, len(b.Dashboard))
	for i, h := range b.Dashboard {
		texts[i], sims[i] = h.Message, h.Similarity
	}
	b.Dashboard = trimByOrder(b.Dashboard, rerankOrder(query, texts, sims, nil), cfg.DashboardK)

	texts = make([]string, len(b.References))
	sims = make([]float32, len(b.References))
	for i, h := range b.References {
		texts[i], sims[i] = h.Text, h.Similarity
	}
	refs := b.References
	b.References = trimByOrder(refs, rerankOrder(query, texts, sims, func(i int) float64 {
		if criticalTables[strings.ToLower(strings.TrimSpace(refs[i].Table))] {
			return bonusCriticalTable
		}
		return 0
	}), cfg.ReferenceK)
}

func rerankIncidents(query string, hits []vector.IncidentHit, bonus float64, k int) []vector.IncidentHit {
	texts := make([]string, len(hits))
	sims := make([]float32, len(hits))
	for i, h := range hits {
		texts[i], sims[i] = h.Text, h.Similarity
	}
	var bonusFn func(int) float64
	if bonus != 0 {
		bonusFn = func(int) float64 { return bonus }
	}
	return trimByOrder(hits, rerankOrder(query, texts, sims, bonusFn), k)
}

// dedupByCheckin keeps the first (best-ranked) hit per check-in.
func dedupByCheckin(hits []vector.IncidentHit) []vector.IncidentHit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0:0]
	for _, h := range hits {
		if h.CheckinID != "" && seen[h.CheckinID] {
			continue
		}
		seen[h.CheckinID] = true
		out = append(out, h)
	}
	return out
}

func trimByOrder[T any](items []T, order []int, k int) []T {
	if k > len(order) {
		k = len(order)
	}
	out := make([]T, 0, k)
	for _, idx := range order[:k] {
		out = append(out, items[idx])
	}
	return out
}

// Pack renders the bundle into the prompt context block, resolution-first
// so "what actually closed similar issues" leads the model's context.
func (b *Bundle) Pack() string {
	var sections []string
	add := func(s string) { sections = append(sections, s) }

	if len(b.Resolutions) > 0 {
		lines := []string{"RESOLUTIONS (what actually closed similar issues):"}
		for i, h := range capHits(b.Resolutions, 4) {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(h.Text)))
		}
		add(strings.Join(lines, "\n"))
	}

	if len(b.Media) > 0 {
		lines := []string{"SIMILAR MEDIA EVIDENCE (past photo captions that match this issue):"}
		for i, h := range capHits(b.Media, 4) {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(h.Text)))
		}
		add(strings.Join(lines, "\n"))
	}

	if len(b.References) > 0 {
		var crit, other []vector.ReferenceHit
		for _, h := range b.References {
			if criticalTables[strings.ToLower(strings.TrimSpace(h.Table))] {
				crit = append(crit, h)
			} else {
				other = append(other, h)
			}
		}
		if len(crit) > 0 {
			lines := []string{"SHOPFLOOR MASTER DATA (raw materials / processes / boughtouts):"}
			for i, h := range crit {
				lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, h.Table, strings.TrimSpace(h.Text)))
			}
			add(strings.Join(lines, "\n"))
		}
		if len(other) > 0 {
			lines := []string{"REFERENCE NOTES (other relevant rows):"}
			for i, h := range other {
				lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(h.Text)))
			}
			add(strings.Join(lines, "\n"))
		}
	}

	if len(b.Problems) > 0 {
		lines := []string{"SIMILAR PROBLEMS (symptoms + conditions):"}
		for i, h := range capHits(b.Problems, 6) {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(h.Text)))
		}
		add(strings.Join(lines, "\n"))
	}

	if len(b.Knowledge) > 0 {
		lines := []string{"CCP GUIDANCE (process rules / known checks):"}
		for i, h := range capHits(b.Knowledge, 6) {
			line := strings.TrimSpace(h.Text)
			if name := strings.TrimSpace(h.Name); name != "" {
				line = name + ": " + line
			}
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, line))
		}
		add(strings.Join(lines, "\n"))
	}

	if len(b.Dashboard) > 0 {
		lines := []string{"PROJECT UPDATES (recent constraints / priorities):"}
		for i, h := range capHits(b.Dashboard, 4) {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(h.Message)))
		}
		add(strings.Join(lines, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

func capHits[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
