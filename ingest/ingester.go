package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopfloor-ai/recall/core"
	"github.com/shopfloor-ai/recall/vector"
)

// Ingester writes source rows into the vector store under each family's
// discipline. It owns the rendering and chunking; the store owns dedup.
type Ingester struct {
	Store vector.Store
}

// Checkin upserts the incident PROBLEM slot and, when the check-in is
// closed, the RESOLUTION slot.
func (in *Ingester) Checkin(ctx context.Context, scope core.ResolvedScope, snapshot string) error {
	if strings.TrimSpace(snapshot) == "" {
		log.Printf("[INGEST] Empty snapshot for checkin %s, skipping incident upsert", scope.CheckinID)
		return nil
	}
	if _, err := in.Store.UpsertIncident(ctx, scope, vector.SlotProblem, snapshot); err != nil {
		return fmt.Errorf("upserting problem vector: %w", err)
	}

	if resolution := ResolutionText(&core.CheckinRow{Status: scope.CheckinStatus}, snapshot); resolution != "" {
		if _, err := in.Store.UpsertIncident(ctx, scope, vector.SlotResolution, resolution); err != nil {
			return fmt.Errorf("upserting resolution vector: %w", err)
		}
	}
	return nil
}

// Media upserts the incident MEDIA slot from vision captions. Returns
// false without error when no usable captions exist.
func (in *Ingester) Media(ctx context.Context, scope core.ResolvedScope, captions []string) (bool, error) {
	block := MediaCaptionBlock(captions)
	if block == "" {
		log.Printf("[INGEST] No captions for checkin %s, skipping media vector", scope.CheckinID)
		return false, nil
	}
	if _, err := in.Store.UpsertIncident(ctx, scope, vector.SlotMedia, block); err != nil {
		return false, fmt.Errorf("upserting media vector: %w", err)
	}
	return true, nil
}

// ControlPoint chunks a control point's definition text and reconciles the
// knowledge family with the result.
func (in *Ingester) ControlPoint(ctx context.Context, tenantID string, cp core.ControlPointRow) (vector.SyncResult, error) {
	text := strings.TrimSpace(cp.Name)
	if desc := strings.TrimSpace(cp.Description); desc != "" {
		if text != "" {
			text = text + "\n" + desc
		} else {
			text = desc
		}
	}

	var chunks []vector.KnowledgeChunk
	for _, c := range ChunkText(text, DefaultChunkSize) {
		chunks = append(chunks, vector.KnowledgeChunk{Type: "CCP_DESC", Text: c})
	}

	res, err := in.Store.SyncControlPoint(ctx, tenantID, cp, chunks)
	if err != nil {
		return res, fmt.Errorf("syncing control point %s: %w", cp.ID, err)
	}
	log.Printf("[INGEST] Control point %s synced: written=%d kept=%d pruned=%d", cp.ID, res.Written, res.Kept, res.Pruned)
	return res, nil
}

// ControlPointDocuments appends extracted document text (PDF extractions
// and similar) to a control point's desired chunk set and reconciles.
func (in *Ingester) ControlPointDocuments(ctx context.Context, tenantID string, cp core.ControlPointRow, docs map[string]string) (vector.SyncResult, error) {
	text := strings.TrimSpace(cp.Name)
	if desc := strings.TrimSpace(cp.Description); desc != "" {
		if text != "" {
			text = text + "\n" + desc
		} else {
			text = desc
		}
	}
	var chunks []vector.KnowledgeChunk
	for _, c := range ChunkText(text, DefaultChunkSize) {
		chunks = append(chunks, vector.KnowledgeChunk{Type: "CCP_DESC", Text: c})
	}
	for ref, doc := range docs {
		for _, c := range ChunkText(doc, DefaultChunkSize) {
			chunks = append(chunks, vector.KnowledgeChunk{Type: "PDF_TEXT", Text: c, SourceRef: ref})
		}
	}

	res, err := in.Store.SyncControlPoint(ctx, tenantID, cp, chunks)
	if err != nil {
		return res, fmt.Errorf("syncing control point %s: %w", cp.ID, err)
	}
	return res, nil
}

// Dashboard appends one dashboard update.
func (in *Ingester) Dashboard(ctx context.Context, tenantID string, row core.DashboardRow) (vector.UpsertResult, error) {
	res, err := in.Store.AppendDashboard(ctx, tenantID, row)
	if err != nil {
		return res, fmt.Errorf("appending dashboard update: %w", err)
	}
	return res, nil
}

// Reference renders and chunks a knowledge-base row, then reconciles the
// reference family for that row.
func (in *Ingester) Reference(ctx context.Context, tenantID string, row core.ReferenceRow) (vector.SyncResult, error) {
	chunks := ChunkText(RenderReferenceRow(row), DefaultChunkSize)
	res, err := in.Store.SyncReference(ctx, tenantID, row, chunks)
	if err != nil {
		return res, fmt.Errorf("syncing reference row %s/%s: %w", row.Table, row.RowID, err)
	}
	return res, nil
}

// Profile upserts the tenant's profile chunk. A tenant with no profile
// content is a no-op.
func (in *Ingester) Profile(ctx context.Context, tenant *core.TenantRow) error {
	text := ProfileText(tenant)
	if text == "" {
		return nil
	}
	if _, err := in.Store.UpsertProfile(ctx, tenant.ID, text); err != nil {
		return fmt.Errorf("upserting tenant profile: %w", err)
	}
	return nil
}
