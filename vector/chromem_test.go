package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/shopfloor-ai/recall/core"
	"github.com/shopfloor-ai/recall/embed/mock"
)

func openTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(":memory:", mock.New(), 384)
	if err != nil {
		t.Fatalf("NewChromemStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testScope() core.ResolvedScope {
	return core.ResolvedScope{
		TenantID:      "tenant-1",
		ProjectName:   "Gearbox Housing",
		PartNumber:    "GH-204",
		LegacyID:      "LG-9",
		CheckinID:     "chk-1",
		CheckinStatus: "OPEN",
	}
}

func embedText(t *testing.T, text string) []float32 {
	t.Helper()
	emb, err := mock.New().Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	return emb
}

func TestNewChromemStoreRejectsDimensionDisagreement(t *testing.T) {
	_, err := NewChromemStore(":memory:", mock.New(), 128)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestUpsertIncidentSkipsUnchangedContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertIncident(ctx, testScope(), SlotProblem, "weld seam cracked near flange")
	if err != nil {
		t.Fatalf("UpsertIncident failed: %v", err)
	}
	if !first.Written {
		t.Error("first upsert should write")
	}

	// Whitespace-only change hashes identically.
	second, err := s.UpsertIncident(ctx, testScope(), SlotProblem, "  weld seam   cracked near flange ")
	if err != nil {
		t.Fatalf("UpsertIncident failed: %v", err)
	}
	if second.Written {
		t.Error("unchanged content should skip the write")
	}
	if second.Hash != first.Hash {
		t.Error("hash should be stable for unchanged content")
	}
}

func TestUpsertIncidentLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertIncident(ctx, testScope(), SlotProblem, "original problem text"); err != nil {
		t.Fatalf("UpsertIncident failed: %v", err)
	}
	res, err := s.UpsertIncident(ctx, testScope(), SlotProblem, "revised problem text")
	if err != nil {
		t.Fatalf("UpsertIncident failed: %v", err)
	}
	if !res.Written {
		t.Error("changed content should write")
	}

	hits, err := s.SearchIncidents(ctx, IncidentQuery{
		TenantID:  "tenant-1",
		Embedding: embedText(t, "problem text"),
		TopK:      5,
		Slot:      SlotProblem,
	})
	if err != nil {
		t.Fatalf("SearchIncidents failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected a single slot document, got %d", len(hits))
	}
	if hits[0].Text != "revised problem text" {
		t.Errorf("slot should hold the latest write, got %q", hits[0].Text)
	}
}

func TestSearchIncidentsExcludesOwnCheckin(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertIncident(ctx, testScope(), SlotProblem, "crack in weld seam"); err != nil {
		t.Fatalf("UpsertIncident failed: %v", err)
	}
	other := testScope()
	other.CheckinID = "chk-2"
	if _, err := s.UpsertIncident(ctx, other, SlotProblem, "porosity in casting"); err != nil {
		t.Fatalf("UpsertIncident failed: %v", err)
	}

	hits, err := s.SearchIncidents(ctx, IncidentQuery{
		TenantID:         "tenant-1",
		Embedding:        embedText(t, "weld defect"),
		TopK:             5,
		ExcludeCheckinID: "chk-1",
	})
	if err != nil {
		t.Fatalf("SearchIncidents failed: %v", err)
	}
	for _, h := range hits {
		if h.CheckinID == "chk-1" {
			t.Error("search returned the excluded check-in")
		}
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 hit after exclusion, got %d", len(hits))
	}
}

func TestTenantIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertIncident(ctx, testScope(), SlotProblem, "crack in weld seam"); err != nil {
		t.Fatalf("UpsertIncident failed: %v", err)
	}

	hits, err := s.SearchIncidents(ctx, IncidentQuery{
		TenantID:  "tenant-2",
		Embedding: embedText(t, "crack in weld seam"),
		TopK:      5,
	})
	if err != nil {
		t.Fatalf("SearchIncidents failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("tenant-2 must not see tenant-1 vectors, got %d hits", len(hits))
	}
}

func TestAppendDashboardIsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := core.DashboardRow{ProjectName: "Gearbox Housing", PartNumber: "GH-204", LegacyID: "LG-9", Message: "line 2 behind schedule"}
	first, err := s.AppendDashboard(ctx, "tenant-1", row)
	if err != nil {
		t.Fatalf("AppendDashboard failed: %v", err)
	}
	if !first.Written {
		t.Error("first append should write")
	}

	second, err := s.AppendDashboard(ctx, "tenant-1", row)
	if err != nil {
		t.Fatalf("AppendDashboard failed: %v", err)
	}
	if second.Written {
		t.Error("duplicate dashboard content should be a no-op")
	}

	row.Message = "line 2 back on schedule"
	third, err := s.AppendDashboard(ctx, "tenant-1", row)
	if err != nil {
		t.Fatalf("AppendDashboard failed: %v", err)
	}
	if !third.Written {
		t.Error("new dashboard content should append")
	}

	hits, err := s.SearchDashboard(ctx, DashboardQuery{
		TenantID:  "tenant-1",
		Embedding: embedText(t, "schedule"),
		TopK:      10,
	})
	if err != nil {
		t.Fatalf("SearchDashboard failed: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("expected both distinct updates stored, got %d", len(hits))
	}
}

func TestAppendDashboardSkipsEmptyMessage(t *testing.T) {
	s := openTestStore(t)
	res, err := s.AppendDashboard(context.Background(), "tenant-1", core.DashboardRow{Message: "   "})
	if err != nil {
		t.Fatalf("AppendDashboard failed: %v", err)
	}
	if res.Written {
		t.Error("blank message should not be stored")
	}
}

func TestSyncControlPointPrunesStaleChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cp := core.ControlPointRow{ID: "ccp-1", Name: "Torque check", ProjectName: "Gearbox Housing", PartNumber: "GH-204"}
	res, err := s.SyncControlPoint(ctx, "tenant-1", cp, []KnowledgeChunk{
		{Type: "CCP_DESC", Text: "torque all flange bolts to 45 Nm"},
		{Type: "PDF_TEXT", Text: "calibration procedure for the torque wrench", SourceRef: "doc-1"},
	})
	if err != nil {
		t.Fatalf("SyncControlPoint failed: %v", err)
	}
	if res.Written != 2 || res.Kept != 0 || res.Pruned != 0 {
		t.Fatalf("unexpected first sync result: %+v", res)
	}

	// One chunk survives, one is replaced.
	res, err = s.SyncControlPoint(ctx, "tenant-1", cp, []KnowledgeChunk{
		{Type: "CCP_DESC", Text: "torque all flange bolts to 50 Nm"},
		{Type: "PDF_TEXT", Text: "calibration procedure for the torque wrench", SourceRef: "doc-1"},
	})
	if err != nil {
		t.Fatalf("SyncControlPoint failed: %v", err)
	}
	if res.Written != 1 || res.Kept != 1 || res.Pruned != 1 {
		t.Fatalf("unexpected second sync result: %+v", res)
	}

	hits, err := s.SearchKnowledge(ctx, KnowledgeQuery{
		TenantID:  "tenant-1",
		Embedding: embedText(t, "torque"),
		TopK:      10,
	})
	if err != nil {
		t.Fatalf("SearchKnowledge failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 live chunks, got %d", len(hits))
	}
	var sawUpdated, sawKept bool
	for _, h := range hits {
		if h.Text == "torque all flange bolts to 45 Nm" {
			t.Error("stale chunk survived the sync")
		}
		sawUpdated = sawUpdated || h.Text == "torque all flange bolts to 50 Nm"
		sawKept = sawKept || h.Text == "calibration procedure for the torque wrench"
	}
	if !sawUpdated || !sawKept {
		t.Errorf("live chunk texts missing after sync: updated=%t kept=%t", sawUpdated, sawKept)
	}
}

func TestSyncControlPointUnchangedSetIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cp := core.ControlPointRow{ID: "ccp-1", Name: "Torque check"}
	chunks := []KnowledgeChunk{{Type: "CCP_DESC", Text: "torque all flange bolts to 45 Nm"}}
	if _, err := s.SyncControlPoint(ctx, "tenant-1", cp, chunks); err != nil {
		t.Fatalf("SyncControlPoint failed: %v", err)
	}
	res, err := s.SyncControlPoint(ctx, "tenant-1", cp, chunks)
	if err != nil {
		t.Fatalf("SyncControlPoint failed: %v", err)
	}
	if res.Written != 0 || res.Kept != 1 || res.Pruned != 0 {
		t.Errorf("unchanged set should keep everything: %+v", res)
	}
}

func TestSyncReference(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := core.ReferenceRow{Table: "raw_materials", RowID: "rm-3"}
	res, err := s.SyncReference(ctx, "tenant-1", row, []string{
		"EN 10025 S355 structural steel, 12mm plate",
		"supplier: northfield metals, lead time 3 weeks",
	})
	if err != nil {
		t.Fatalf("SyncReference failed: %v", err)
	}
	if res.Written != 2 {
		t.Fatalf("expected 2 chunks written, got %d", res.Written)
	}

	res, err = s.SyncReference(ctx, "tenant-1", row, []string{
		"EN 10025 S355 structural steel, 12mm plate",
	})
	if err != nil {
		t.Fatalf("SyncReference failed: %v", err)
	}
	if res.Kept != 1 || res.Pruned != 1 {
		t.Fatalf("expected keep 1 prune 1, got %+v", res)
	}

	hits, err := s.SearchReference(ctx, ReferenceQuery{
		TenantID:  "tenant-1",
		Embedding: embedText(t, "steel plate"),
		TopK:      10,
	})
	if err != nil {
		t.Fatalf("SearchReference failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 live chunk, got %d", len(hits))
	}
	if hits[0].Table != "raw_materials" || hits[0].RowID != "rm-3" {
		t.Errorf("unexpected hit provenance: %+v", hits[0])
	}
}

func TestUpsertProfileAndProfileText(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	text, err := s.ProfileText(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("ProfileText failed: %v", err)
	}
	if text != "" {
		t.Errorf("missing profile should be empty, got %q", text)
	}

	if _, err := s.UpsertProfile(ctx, "tenant-1", "Northfield Fabrication: steel weldments, ISO 9001"); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	res, err := s.UpsertProfile(ctx, "tenant-1", "Northfield Fabrication: steel weldments, ISO 9001")
	if err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	if res.Written {
		t.Error("unchanged profile should skip the write")
	}

	if _, err := s.UpsertProfile(ctx, "tenant-1", "Northfield Fabrication: steel weldments and machining, ISO 9001"); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	text, err = s.ProfileText(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("ProfileText failed: %v", err)
	}
	if text != "Northfield Fabrication: steel weldments and machining, ISO 9001" {
		t.Errorf("profile should hold the latest write, got %q", text)
	}
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SearchIncidents(context.Background(), IncidentQuery{
		TenantID:  "tenant-1",
		Embedding: make([]float32, 100),
		TopK:      5,
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearchEmptyCollection(t *testing.T) {
	s := openTestStore(t)
	hits, err := s.SearchKnowledge(context.Background(), KnowledgeQuery{
		TenantID:  "tenant-1",
		Embedding: embedText(t, "anything"),
		TopK:      5,
	})
	if err != nil {
		t.Fatalf("SearchKnowledge failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("empty collection should return no hits, got %d", len(hits))
	}
}
