package graph

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopfloor-ai/recall/core"
	"github.com/shopfloor-ai/recall/ingest"
	"github.com/shopfloor-ai/recall/vector"
)

// BackfillSource extends the row loaders with the listing queries a full
// sweep needs. The SQLite mirror implements it.
type BackfillSource interface {
	core.SourceProvider

	ControlPoints(ctx context.Context) ([]core.ControlPointRow, error)
	ControlPointDocuments(ctx context.Context, ccpID string) (map[string]string, error)
	ReferenceTenants(ctx context.Context) ([]string, error)
	ReferenceRows(ctx context.Context, tenantID string) ([]core.ReferenceRow, error)
}

// BackfillStats summarizes one sweep.
type BackfillStats struct {
	ControlPoints int
	ReferenceRows int
	Written       int
	Kept          int
	Pruned        int
	Skipped       int
}

// Backfill reconciles the knowledge and reference families with the source
// mirror in one pass: every control point (definition plus attached document
// text) and every tenant's knowledge-base rows. Events keep these families
// current afterwards; the sweep covers rows that predate the event feed.
type Backfill struct {
	Source   BackfillSource
	Resolver core.TenantResolver
	Ingester *ingest.Ingester
}

// Run executes the sweep. A control point whose tenant cannot be resolved
// is skipped and counted, not fatal; storage errors abort the sweep.
func (b *Backfill) Run(ctx context.Context) (BackfillStats, error) {
	var stats BackfillStats

	cps, err := b.Source.ControlPoints(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing control points: %w", err)
	}
	for _, cp := range cps {
		tenantID, err := b.Resolver.Resolve(ctx, core.Event{}, &core.CheckinRow{
			ProjectName: cp.ProjectName,
			PartNumber:  cp.PartNumber,
			LegacyID:    cp.LegacyID,
		})
		if err != nil {
			if errors.Is(err, core.ErrTenantUnresolved) {
				log.Printf("[GRAPH] Backfill: no tenant for control point %s, skipping", cp.ID)
				stats.Skipped++
				continue
			}
			return stats, err
		}

		docs, err := b.Source.ControlPointDocuments(ctx, cp.ID)
		if err != nil {
			return stats, err
		}
		res, err := b.Ingester.ControlPointDocuments(ctx, tenantID, cp, docs)
		if err != nil {
			return stats, err
		}
		stats.ControlPoints++
		stats.add(res)
	}

	tenants, err := b.Source.ReferenceTenants(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing reference tenants: %w", err)
	}
	for _, tenantID := range tenants {
		rows, err := b.Source.ReferenceRows(ctx, tenantID)
		if err != nil {
			return stats, err
		}
		for _, row := range rows {
			res, err := b.Ingester.Reference(ctx, tenantID, row)
			if err != nil {
				return stats, err
			}
			stats.ReferenceRows++
			stats.add(res)
		}
	}

	log.Printf("[GRAPH] Backfill done: ccps=%d refs=%d written=%d kept=%d pruned=%d skipped=%d",
		stats.ControlPoints, stats.ReferenceRows, stats.Written, stats.Kept, stats.Pruned, stats.Skipped)
	return stats, nil
}

func (s *BackfillStats) add(res vector.SyncResult) {
	s.Written += res.Written
	s.Kept += res.Kept
	s.Pruned += res.Pruned
}
