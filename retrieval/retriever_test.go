package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/shopfloor-ai/recall/core"
	"github.com/shopfloor-ai/recall/embed/mock"
	"github.com/shopfloor-ai/recall/vector"
)

func testRetriever(t *testing.T) (*Retriever, vector.Store) {
	t.Helper()
	emb := mock.New()
	store, err := vector.NewChromemStore(":memory:", emb, emb.Dimensions())
	if err != nil {
		t.Fatalf("NewChromemStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, emb), store
}

func scopeFor(checkinID string) core.ResolvedScope {
	return core.ResolvedScope{
		TenantID:      "tenant-1",
		ProjectName:   "Gearbox Housing",
		PartNumber:    "GH-204",
		CheckinID:     checkinID,
		CheckinStatus: "OPEN",
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	r, _ := testRetriever(t)

	bundle, err := r.Retrieve(context.Background(), scopeFor("chk-1"), "crack at weld seam")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(bundle.Problems) != 0 || len(bundle.Knowledge) != 0 || len(bundle.Dashboard) != 0 {
		t.Error("empty store should yield empty families, not errors")
	}
	if bundle.Profile != "" {
		t.Errorf("missing profile should be empty, got %q", bundle.Profile)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r, _ := testRetriever(t)
	bundle, err := r.Retrieve(context.Background(), scopeFor("chk-1"), "   ")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if bundle == nil {
		t.Fatal("expected empty bundle, got nil")
	}
}

func TestRetrieveExcludesSelfAndSplitsSlots(t *testing.T) {
	r, store := testRetriever(t)
	ctx := context.Background()

	self := scopeFor("chk-1")
	other := scopeFor("chk-2")
	other.CheckinStatus = "PASS"

	if _, err := store.UpsertIncident(ctx, self, vector.SlotProblem, "crack at weld seam on this part"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertIncident(ctx, other, vector.SlotProblem, "crack at weld seam on earlier part"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertIncident(ctx, other, vector.SlotResolution, "reworked weld and passed inspection"); err != nil {
		t.Fatal(err)
	}

	bundle, err := r.Retrieve(ctx, self, "crack at weld seam")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	for _, h := range bundle.Problems {
		if h.CheckinID == "chk-1" {
			t.Error("bundle contains the check-in being processed")
		}
	}
	if len(bundle.Problems) != 1 {
		t.Errorf("expected 1 problem hit, got %d", len(bundle.Problems))
	}
	if len(bundle.Resolutions) != 1 {
		t.Errorf("expected 1 resolution hit, got %d", len(bundle.Resolutions))
	}
	for _, h := range bundle.Resolutions {
		if h.Slot != vector.SlotResolution {
			t.Errorf("resolution slot leak: %s", h.Slot)
		}
	}
}

func TestRetrieveIncludesProfile(t *testing.T) {
	r, store := testRetriever(t)
	ctx := context.Background()

	if _, err := store.UpsertProfile(ctx, "tenant-1", "Northfield Fabrication: steel weldments"); err != nil {
		t.Fatal(err)
	}
	bundle, err := r.Retrieve(ctx, scopeFor("chk-1"), "anything")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if bundle.Profile != "Northfield Fabrication: steel weldments" {
		t.Errorf("unexpected profile %q", bundle.Profile)
	}
}

func TestBundlePackSectionsAndOrder(t *testing.T) {
	b := &Bundle{
		Problems:    []vector.IncidentHit{{Text: "crack at weld"}},
		Resolutions: []vector.IncidentHit{{Text: "reworked weld, passed"}},
		Media:       []vector.IncidentHit{{Text: "photo shows crack at toe"}},
		Knowledge:   []vector.KnowledgeHit{{Name: "Torque check", Text: "torque to 45 Nm"}},
		Dashboard:   []vector.DashboardHit{{Message: "line 2 behind schedule"}},
		References: []vector.ReferenceHit{
			{Table: "raw_materials", Text: "grade: S355"},
			{Table: "notes", Text: "misc note"},
		},
	}
	packed := b.Pack()

	sections := []string{
		"RESOLUTIONS (what actually closed similar issues):",
		"SIMILAR MEDIA EVIDENCE",
		"SHOPFLOOR MASTER DATA",
		"REFERENCE NOTES",
		"SIMILAR PROBLEMS",
		"CCP GUIDANCE",
		"PROJECT UPDATES",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(packed, s)
		if idx < 0 {
			t.Errorf("packed context missing section %q", s)
			continue
		}
		if idx < last {
			t.Errorf("section %q out of order", s)
		}
		last = idx
	}
	if !strings.Contains(packed, "Torque check: torque to 45 Nm") {
		t.Error("knowledge line should carry the control point name")
	}
}

func TestBundlePackEmpty(t *testing.T) {
	if got := (&Bundle{}).Pack(); got != "" {
		t.Errorf("empty bundle should pack to empty string, got %q", got)
	}
}

func TestDedupByCheckin(t *testing.T) {
	hits := []vector.IncidentHit{
		{CheckinID: "a", Text: "first"},
		{CheckinID: "a", Text: "duplicate"},
		{CheckinID: "b", Text: "second"},
	}
	out := dedupByCheckin(hits)
	if len(out) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(out))
	}
	if out[0].Text != "first" || out[1].Text != "second" {
		t.Errorf("dedup should keep first occurrence, got %+v", out)
	}
}
