// Package ingest converts source-of-truth rows into the text chunks the
// vector store holds: thread snapshots, media caption blocks, knowledge
// chunks and profile text.
package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopfloor-ai/recall/core"
)

// maxSnapshotRemarks bounds the conversation tail included in a snapshot.
const maxSnapshotRemarks = 10

// maxCaptionLines bounds the media caption block.
const maxCaptionLines = 12

// Snapshot renders the canonical thread snapshot for a check-in: a header
// line, the description, and the most recent conversation remarks. The
// snapshot is both the incident PROBLEM text and the retrieval query text,
// so its shape must stay stable across runs.
func Snapshot(checkin *core.CheckinRow, convos []core.ConversationRow) string {
	header := strings.TrimSpace(fmt.Sprintf("Project: %s | Part: %s | Status: %s",
		checkin.ProjectName, checkin.PartNumber, checkin.Status))

	body := "Description: (empty)"
	if desc := strings.TrimSpace(checkin.Description); desc != "" {
		body = "Description: " + desc
	}

	start := 0
	if len(convos) > maxSnapshotRemarks {
		start = len(convos) - maxSnapshotRemarks
	}
	var recent []string
	for _, c := range convos[start:] {
		remark := strings.TrimSpace(c.Remark)
		if remark == "" {
			continue
		}
		if st := strings.TrimSpace(c.Status); st != "" {
			remark = "[" + st + "] " + remark
		}
		recent = append(recent, remark)
	}

	convo := "Recent conversation: (none)"
	if len(recent) > 0 {
		convo = "Recent conversation:\n- " + strings.Join(recent, "\n- ")
	}

	return header + "\n" + body + "\n" + convo
}

// ClosedStatus reports whether a check-in status counts as resolved for
// resolution-memory purposes.
func ClosedStatus(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PASS", "FAIL":
		return true
	}
	return false
}

// ResolutionText derives the RESOLUTION slot text for a check-in, or ""
// when the check-in is still open. An open check-in must never write a
// resolution vector; retrieval treats that slot as "what actually closed
// similar issues".
func ResolutionText(checkin *core.CheckinRow, snapshot string) string {
	if !ClosedStatus(checkin.Status) {
		return ""
	}
	return "Resolution snapshot:\n" + snapshot
}

// MediaCaptionBlock renders vision captions into the MEDIA slot text.
// Blank captions are dropped and the block is capped at maxCaptionLines.
// Returns "" when no usable captions remain; the caller skips the vector
// write in that case.
func MediaCaptionBlock(captions []string) string {
	var lines []string
	for _, c := range captions {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		lines = append(lines, "- "+c)
		if len(lines) == maxCaptionLines {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "MEDIA CAPTIONS (from inspection photos/docs):\n" + strings.Join(lines, "\n")
}

// RenderReferenceRow flattens a knowledge-base row into chunkable text,
// one "key: value" line per populated field in stable key order.
func RenderReferenceRow(row core.ReferenceRow) string {
	keys := make([]string, 0, len(row.Fields))
	for k := range row.Fields {
		if strings.TrimSpace(row.Fields[k]) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, k+": "+strings.TrimSpace(row.Fields[k]))
	}
	return strings.Join(lines, "\n")
}

// ProfileText renders a tenant row into the profile chunk.
func ProfileText(tenant *core.TenantRow) string {
	name := strings.TrimSpace(tenant.Name)
	desc := strings.TrimSpace(tenant.Description)
	switch {
	case name == "" && desc == "":
		return ""
	case desc == "":
		return name
	case name == "":
		return desc
	}
	return name + ": " + desc
}
