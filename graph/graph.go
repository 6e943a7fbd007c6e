// Package graph runs one inbound event through the processing state
// machine: claim, resolve, ingest, and, for check-in creations only,
// retrieve, generate and write back.
//
// The reply gate is central and type-driven. Caller flags can narrow a run
// (ingest-only, media-only) but can never widen it: no flag combination
// makes any event class other than a check-in creation produce a reply.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopfloor-ai/recall/core"
	"github.com/shopfloor-ai/recall/generate"
	"github.com/shopfloor-ai/recall/ingest"
	"github.com/shopfloor-ai/recall/ledger"
	"github.com/shopfloor-ai/recall/profile"
	"github.com/shopfloor-ai/recall/retrieval"
)

// finalizeTimeout bounds the ledger finalization write when the run's own
// context is already cancelled.
const finalizeTimeout = 5 * time.Second

// Graph wires the pipeline's collaborators.
type Graph struct {
	Ledger    *ledger.Ledger
	Source    core.SourceProvider
	Resolver  core.TenantResolver
	Media     core.MediaAnalyzer // optional
	Ingester  *ingest.Ingester
	Retriever *retrieval.Retriever
	Generator generate.Generator
	Sink      generate.WritebackSink
	Profiles  *profile.Cache // optional
}

// Result reports what a run did.
type Result struct {
	RunID string

	// Skipped is true when the claim lost to an active duplicate and the
	// event was abandoned without side effects.
	Skipped bool

	Replied       bool
	WritebackDone bool
	MediaUpserted bool
	Reply         *generate.Reply
}

// runContext is the immutable per-run state threaded between steps.
type runContext struct {
	event    core.Event
	run      *ledger.Run
	scope    core.ResolvedScope
	snapshot string
}

// Run executes the event. The returned error is the run's failure cause;
// the ledger row is finalized either way.
func (g *Graph) Run(ctx context.Context, ev core.Event) (result *Result, runErr error) {
	primaryID := ev.PrimaryID()

	ingestOnly := ev.Meta.IngestOnly || ev.Type.ForcedIngestOnly()
	if ev.Type == core.CheckinCreated && ev.Meta.ForceReply {
		ingestOnly = false
	}
	flags := ledger.ScopeFlags{IngestOnly: ingestOnly, MediaOnly: ev.Meta.MediaOnly}

	run, err := g.Ledger.Claim(ctx, ev.Meta.TenantID, ev.Type.String(), primaryID, flags)
	if errors.Is(err, ledger.ErrAlreadyRunning) {
		log.Printf("[GRAPH] Duplicate delivery for %s/%s, abandoning", ev.Type, primaryID)
		return &Result{Skipped: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming run: %w", err)
	}

	result = &Result{RunID: run.ID}

	// Finalization is unconditional: timeouts and cancelled contexts still
	// leave a terminal ledger row behind.
	defer func() {
		status := ledger.StatusSuccess
		msg := ""
		if runErr != nil {
			status = ledger.StatusError
			msg = runErr.Error()
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
		if err := g.Ledger.Finish(fctx, run, status, msg); err != nil {
			log.Printf("[GRAPH] Finalizing run %s failed: %v", run.ID, err)
		}
	}()

	switch ev.Type {
	case core.ControlPointUpdated:
		runErr = g.runControlPoint(ctx, ev, run)
	case core.DashboardUpdated:
		runErr = g.runDashboard(ctx, ev, run)
	default:
		runErr = g.runCheckin(ctx, ev, run, ingestOnly, result)
	}
	return result, runErr
}

// runControlPoint refreshes the knowledge family for one control point.
func (g *Graph) runControlPoint(ctx context.Context, ev core.Event, run *ledger.Run) error {
	cp, err := g.Source.ControlPoint(ctx, ev.ControlPointID)
	if err != nil {
		return fmt.Errorf("loading control point %s: %w", ev.ControlPointID, err)
	}

	tenantID, err := g.resolveTenant(ctx, ev, run, &core.CheckinRow{
		ProjectName: cp.ProjectName,
		PartNumber:  cp.PartNumber,
		LegacyID:    cp.LegacyID,
	})
	if err != nil {
		return err
	}

	_, err = g.Ingester.ControlPoint(ctx, tenantID, *cp)
	return err
}

// runDashboard appends one dashboard update.
func (g *Graph) runDashboard(ctx context.Context, ev core.Event, run *ledger.Run) error {
	var (
		row *core.DashboardRow
		err error
	)
	if ev.DashboardRowID != "" {
		row, err = g.Source.DashboardRow(ctx, ev.DashboardRowID)
	} else {
		row, err = g.Source.DashboardRowByLegacy(ctx, ev.LegacyID)
	}
	if err != nil {
		return fmt.Errorf("loading dashboard row: %w", err)
	}

	tenantID, err := g.resolveTenant(ctx, ev, run, &core.CheckinRow{
		ProjectName: row.ProjectName,
		PartNumber:  row.PartNumber,
		LegacyID:    row.LegacyID,
	})
	if err != nil {
		return err
	}

	_, err = g.Ingester.Dashboard(ctx, tenantID, *row)
	return err
}

// runCheckin is the check-in flow shared by creations, updates, remarks and
// manual triggers. Only a creation can take the reply branch.
func (g *Graph) runCheckin(ctx context.Context, ev core.Event, run *ledger.Run, ingestOnly bool, result *Result) error {
	checkin, err := g.Source.Checkin(ctx, g.checkinID(ev))
	if err != nil {
		return fmt.Errorf("loading checkin: %w", err)
	}
	convos, err := g.Source.Conversations(ctx, checkin.ID)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}

	tenantID, err := g.resolveTenant(ctx, ev, run, checkin)
	if err != nil {
		return err
	}

	rc := runContext{
		event: ev,
		run:   run,
		scope: core.ResolvedScope{
			TenantID:       tenantID,
			ProjectName:    checkin.ProjectName,
			PartNumber:     checkin.PartNumber,
			LegacyID:       checkin.LegacyID,
			CheckinID:      checkin.ID,
			ConversationID: ev.ConversationID,
			CheckinStatus:  checkin.Status,
		},
		snapshot: ingest.Snapshot(checkin, convos),
	}

	g.refreshProfile(ctx, tenantID)

	// Media-only backfill: the caption vector is the whole run.
	if ingestOnly && ev.Meta.MediaOnly {
		upserted, err := g.ingestMedia(ctx, rc)
		result.MediaUpserted = upserted
		return err
	}

	if ingestOnly || !ev.Type.ReplyEligible() {
		if err := g.Ingester.Checkin(ctx, rc.scope, rc.snapshot); err != nil {
			return err
		}
		if _, err := g.ingestMedia(ctx, rc); err != nil {
			log.Printf("[GRAPH] Media ingest failed (non-fatal): %v", err)
		}
		log.Printf("[GRAPH] Run %s: vectors refreshed, no reply (type=%s)", run.ID, ev.Type)
		return nil
	}

	return g.runReply(ctx, rc, result)
}

// runReply is the gated branch: retrieve, generate, vectorize, write back.
// Vectorization happens before the writeback so a failed writeback never
// costs memory freshness.
func (g *Graph) runReply(ctx context.Context, rc runContext, result *Result) error {
	bundle, err := g.Retriever.Retrieve(ctx, rc.scope, rc.snapshot)
	if err != nil {
		return fmt.Errorf("retrieving context: %w", err)
	}

	reply, err := g.Generator.Generate(ctx, generate.Request{
		TenantID: rc.scope.TenantID,
		Snapshot: rc.snapshot,
		Context:  bundle.Pack(),
		Profile:  bundle.Profile,
	})
	if err != nil {
		return fmt.Errorf("generating reply: %w", err)
	}
	result.Replied = true
	result.Reply = reply

	if err := g.Ingester.Checkin(ctx, rc.scope, rc.snapshot); err != nil {
		return err
	}
	if _, err := g.ingestMedia(ctx, rc); err != nil {
		log.Printf("[GRAPH] Media ingest failed (non-fatal): %v", err)
	}

	if err := g.Sink.Write(ctx, generate.Writeback{
		TenantID:  rc.scope.TenantID,
		CheckinID: rc.scope.CheckinID,
		RunID:     rc.run.ID,
		Reply:     *reply,
	}); err != nil {
		return fmt.Errorf("writing back reply: %w", err)
	}
	result.WritebackDone = true
	return nil
}

// ingestMedia upserts the MEDIA caption slot when an analyzer is wired.
func (g *Graph) ingestMedia(ctx context.Context, rc runContext) (bool, error) {
	if g.Media == nil {
		return false, nil
	}
	captions, err := g.Media.Captions(ctx, rc.scope.CheckinID)
	if err != nil {
		return false, fmt.Errorf("analyzing media: %w", err)
	}
	return g.Ingester.Media(ctx, rc.scope, captions)
}

// resolveTenant resolves the run's tenant and corrects the ledger row.
func (g *Graph) resolveTenant(ctx context.Context, ev core.Event, run *ledger.Run, checkin *core.CheckinRow) (string, error) {
	tenantID, err := g.Resolver.Resolve(ctx, ev, checkin)
	if err != nil {
		return "", fmt.Errorf("resolving tenant: %w", err)
	}
	if err := g.Ledger.UpdateTenant(ctx, run, tenantID); err != nil {
		return "", err
	}
	return tenantID, nil
}

// refreshProfile keeps the tenant profile cache and vector warm. Failures
// are logged, never fatal to the run.
func (g *Graph) refreshProfile(ctx context.Context, tenantID string) {
	if g.Profiles == nil {
		return
	}
	tenant, err := g.Source.Tenant(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, core.ErrEntityNotFound) {
			log.Printf("[GRAPH] Tenant profile load failed (non-fatal): %v", err)
		}
		return
	}
	changed, err := g.Profiles.Put(ctx, tenant.ID, tenant.Name, tenant.Description)
	if err != nil {
		log.Printf("[GRAPH] Tenant profile cache failed (non-fatal): %v", err)
		return
	}
	if changed {
		if err := g.Ingester.Profile(ctx, tenant); err != nil {
			log.Printf("[GRAPH] Tenant profile vector failed (non-fatal): %v", err)
		}
	}
}

// checkinID picks the check-in id the event refers to. Conversation events
// carry their parent check-in alongside the conversation id.
func (g *Graph) checkinID(ev core.Event) string {
	if ev.CheckinID != "" {
		return ev.CheckinID
	}
	return ev.Meta.PrimaryID
}
