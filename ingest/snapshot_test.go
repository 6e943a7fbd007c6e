package ingest

import (
	"strings"
	"testing"

	"github.com/shopfloor-ai/recall/core"
)

func TestSnapshotShape(t *testing.T) {
	checkin := &core.CheckinRow{
		ProjectName: "Gearbox Housing",
		PartNumber:  "GH-204",
		Status:      "OPEN",
		Description: "crack near flange weld",
	}
	convos := []core.ConversationRow{
		{Remark: "found during final inspection", Status: "OPEN"},
		{Remark: "rework scheduled"},
	}

	got := Snapshot(checkin, convos)
	want := "Project: Gearbox Housing | Part: GH-204 | Status: OPEN\n" +
		"Description: crack near flange weld\n" +
		"Recent conversation:\n- [OPEN] found during final inspection\n- rework scheduled"
	if got != want {
		t.Errorf("snapshot mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestSnapshotEmptyParts(t *testing.T) {
	got := Snapshot(&core.CheckinRow{ProjectName: "P", PartNumber: "N", Status: "OPEN"}, nil)
	if !strings.Contains(got, "Description: (empty)") {
		t.Error("missing description placeholder")
	}
	if !strings.Contains(got, "Recent conversation: (none)") {
		t.Error("missing conversation placeholder")
	}
}

func TestSnapshotKeepsOnlyRecentRemarks(t *testing.T) {
	var convos []core.ConversationRow
	for i := 0; i < 15; i++ {
		convos = append(convos, core.ConversationRow{Remark: "remark " + string(rune('a'+i))})
	}
	got := Snapshot(&core.CheckinRow{}, convos)
	if strings.Contains(got, "remark a") {
		t.Error("snapshot should drop remarks beyond the last 10")
	}
	if !strings.Contains(got, "remark f") || !strings.Contains(got, "remark o") {
		t.Error("snapshot should keep the 10 most recent remarks")
	}
}

func TestResolutionTextOnlyWhenClosed(t *testing.T) {
	open := &core.CheckinRow{Status: "OPEN"}
	if got := ResolutionText(open, "snap"); got != "" {
		t.Errorf("open check-in must not produce resolution text, got %q", got)
	}
	closed := &core.CheckinRow{Status: "pass"}
	got := ResolutionText(closed, "snap")
	if got != "Resolution snapshot:\nsnap" {
		t.Errorf("unexpected resolution text %q", got)
	}
}

func TestMediaCaptionBlock(t *testing.T) {
	if got := MediaCaptionBlock(nil); got != "" {
		t.Errorf("no captions should yield empty block, got %q", got)
	}
	if got := MediaCaptionBlock([]string{"  ", ""}); got != "" {
		t.Errorf("blank captions should yield empty block, got %q", got)
	}

	got := MediaCaptionBlock([]string{"crack visible at weld toe", " rust staining on flange "})
	want := "MEDIA CAPTIONS (from inspection photos/docs):\n- crack visible at weld toe\n- rust staining on flange"
	if got != want {
		t.Errorf("caption block mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestMediaCaptionBlockCapsLines(t *testing.T) {
	captions := make([]string, 20)
	for i := range captions {
		captions[i] = "caption"
	}
	got := MediaCaptionBlock(captions)
	if n := strings.Count(got, "\n- "); n != maxCaptionLines {
		t.Errorf("expected %d caption lines, got %d", maxCaptionLines, n)
	}
}

func TestRenderReferenceRowStableOrder(t *testing.T) {
	row := core.ReferenceRow{
		Table: "raw_materials",
		RowID: "rm-1",
		Fields: map[string]string{
			"grade":    "S355",
			"supplier": "northfield",
			"blank":    "  ",
		},
	}
	got := RenderReferenceRow(row)
	want := "grade: S355\nsupplier: northfield"
	if got != want {
		t.Errorf("rendered row mismatch: got %q want %q", got, want)
	}
}
