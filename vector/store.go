// Package vector defines the content-addressed vector store: one collection
// per entity family, each with its own uniqueness and upsert discipline.
//
// Families and disciplines:
//   - incident memory: last-write-wins, one chunk per (tenant, check-in, slot)
//   - control-point knowledge: stable set with pruning per control point
//   - dashboard updates: append-only-if-new per (tenant, content hash)
//   - reference knowledge base: stable set with pruning per (table, row)
//   - tenant profile: last-write-wins, one chunk per tenant
//
// Every upsert computes the chunk's content hash first and skips the
// embedding call when the hash is already stored; embedding is the dominant
// per-row cost and this check is the primary cost control.
package vector

import (
	"context"
	"errors"

	"github.com/shopfloor-ai/recall/core"
)

// Embedder converts text to a fixed-dimension vector. Deterministic in
// dimensionality, not in value.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// ErrDimensionMismatch indicates an embedding whose dimensionality
// disagrees with the deployment's configured dimension. This is a fatal
// configuration error, never a retryable one: writing the vector would
// silently corrupt the store.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// IncidentSlot discriminates the logical slots of incident memory.
type IncidentSlot string

const (
	SlotProblem    IncidentSlot = "PROBLEM"
	SlotResolution IncidentSlot = "RESOLUTION"
	SlotMedia      IncidentSlot = "MEDIA"
)

// UpsertResult reports what a single-chunk upsert did.
type UpsertResult struct {
	// Written is false when the content hash already existed and the
	// write (and its embedding call) was skipped.
	Written bool
	Hash    string
}

// SyncResult reports a stable-set reconciliation.
type SyncResult struct {
	Written int // chunks embedded and stored
	Kept    int // chunks whose hash already existed
	Pruned  int // stored chunks whose hash left the desired set
}

// KnowledgeChunk is one unit of control-point knowledge.
type KnowledgeChunk struct {
	// Type discriminates the chunk source: "CCP_DESC" for the definition
	// text, "PDF_TEXT" for attached document extractions.
	Type      string
	Text      string
	SourceRef string
}

// IncidentQuery is a similarity query against incident memory.
type IncidentQuery struct {
	TenantID    string
	Embedding   []float32
	TopK        int
	Slot        IncidentSlot // empty = all slots
	ProjectName string
	PartNumber  string

	// ExcludeCheckinID drops the check-in currently being processed from
	// the results; an incident must never retrieve itself.
	ExcludeCheckinID string
}

// IncidentHit is one incident-memory result, most similar first.
type IncidentHit struct {
	CheckinID   string
	Slot        IncidentSlot
	Text        string
	Status      string
	ProjectName string
	PartNumber  string
	LegacyID    string
	Similarity  float32
}

// KnowledgeQuery is a similarity query against control-point knowledge.
type KnowledgeQuery struct {
	TenantID    string
	Embedding   []float32
	TopK        int
	ProjectName string
	PartNumber  string
}

// KnowledgeHit is one control-point chunk result.
type KnowledgeHit struct {
	ControlPointID string
	Name           string
	Text           string
	SourceRef      string
	Similarity     float32
}

// DashboardQuery is a similarity query against dashboard updates.
type DashboardQuery struct {
	TenantID    string
	Embedding   []float32
	TopK        int
	ProjectName string
	PartNumber  string
}

// DashboardHit is one dashboard update result.
type DashboardHit struct {
	ProjectName string
	PartNumber  string
	LegacyID    string
	Message     string
	Similarity  float32
}

// ReferenceQuery is a similarity query against the reference knowledge base.
type ReferenceQuery struct {
	TenantID  string
	Embedding []float32
	TopK      int
}

// ReferenceHit is one reference-row chunk result.
type ReferenceHit struct {
	Table      string
	RowID      string
	Text       string
	Similarity float32
}

// Store is the typed vector store the event graph and retriever use. The
// graph only requests upserts and queries; it never touches storage rows.
type Store interface {
	UpsertIncident(ctx context.Context, scope core.ResolvedScope, slot IncidentSlot, text string) (UpsertResult, error)
	AppendDashboard(ctx context.Context, tenantID string, row core.DashboardRow) (UpsertResult, error)
	SyncControlPoint(ctx context.Context, tenantID string, cp core.ControlPointRow, chunks []KnowledgeChunk) (SyncResult, error)
	SyncReference(ctx context.Context, tenantID string, row core.ReferenceRow, chunks []string) (SyncResult, error)
	UpsertProfile(ctx context.Context, tenantID, text string) (UpsertResult, error)

	SearchIncidents(ctx context.Context, q IncidentQuery) ([]IncidentHit, error)
	SearchKnowledge(ctx context.Context, q KnowledgeQuery) ([]KnowledgeHit, error)
	SearchDashboard(ctx context.Context, q DashboardQuery) ([]DashboardHit, error)
	SearchReference(ctx context.Context, q ReferenceQuery) ([]ReferenceHit, error)
	ProfileText(ctx context.Context, tenantID string) (string, error)

	Close() error
}
