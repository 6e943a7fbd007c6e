package core

import "context"

// Source row shapes. Loose external payloads (spreadsheet rows, webhook
// bodies) are mapped into these at the provider boundary; a row that cannot
// be mapped surfaces as ErrEntityNotFound rather than leaking untyped data
// into the pipeline.

// CheckinRow is one inspection check-in as loaded from the source of truth.
type CheckinRow struct {
	ID          string
	ProjectName string
	PartNumber  string
	LegacyID    string
	Status      string
	Description string
}

// ProjectRow joins business keys to the owning tenant.
type ProjectRow struct {
	LegacyID    string
	TenantID    string
	ProjectName string
	PartNumber  string
}

// ConversationRow is one remark on a check-in thread, oldest first.
type ConversationRow struct {
	ID        string
	CheckinID string
	Remark    string
	Status    string
	Author    string
}

// ControlPointRow is one critical control point definition.
type ControlPointRow struct {
	ID          string
	Name        string
	Description string
	ProjectName string
	PartNumber  string
	LegacyID    string
}

// DashboardRow is one dashboard status update.
type DashboardRow struct {
	ID          string
	ProjectName string
	PartNumber  string
	LegacyID    string
	Message     string
}

// ReferenceRow is one knowledge-base row (raw materials, processes,
// bought-outs and similar reference tables).
type ReferenceRow struct {
	Table  string
	RowID  string
	Fields map[string]string
}

// TenantRow is the tenant's own profile record.
type TenantRow struct {
	ID          string
	Name        string
	Description string
}

// SourceProvider loads source-of-truth rows for the entity ids an event
// carries. Implementations wrap the external row store; every method
// returns ErrEntityNotFound (possibly wrapped) when the id does not exist.
type SourceProvider interface {
	Checkin(ctx context.Context, id string) (*CheckinRow, error)
	Project(ctx context.Context, projectName, partNumber, legacyID string) (*ProjectRow, error)
	Conversations(ctx context.Context, checkinID string) ([]ConversationRow, error)
	ControlPoint(ctx context.Context, id string) (*ControlPointRow, error)
	DashboardRow(ctx context.Context, rowID string) (*DashboardRow, error)
	DashboardRowByLegacy(ctx context.Context, legacyID string) (*DashboardRow, error)
	Tenant(ctx context.Context, tenantID string) (*TenantRow, error)
}

// MediaAnalyzer captions a check-in's attached photos and documents.
// Vision extraction is an external collaborator; the core only consumes
// the caption lines. Implementations return an empty slice when the
// check-in has no media.
type MediaAnalyzer interface {
	Captions(ctx context.Context, checkinID string) ([]string, error)
}

// TenantResolver determines the owning tenant for a run. Resolution order
// is: explicit override in event metadata, then lookup via the project
// source-of-truth row. Returns ErrTenantUnresolved when every strategy
// fails; the pipeline never guesses a tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, ev Event, checkin *CheckinRow) (string, error)
}
