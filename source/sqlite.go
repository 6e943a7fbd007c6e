// Package source provides a SQLite-backed SourceProvider. The tables are
// a local mirror of the source-of-truth rows, kept current by an external
// sync; the pipeline only ever reads them.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/shopfloor-ai/recall/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkins (
	id           TEXT PRIMARY KEY,
	project_name TEXT NOT NULL DEFAULT '',
	part_number  TEXT NOT NULL DEFAULT '',
	legacy_id    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS projects (
	legacy_id    TEXT NOT NULL,
	project_name TEXT NOT NULL,
	part_number  TEXT NOT NULL,
	tenant_id    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (project_name, part_number, legacy_id)
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	checkin_id TEXT NOT NULL,
	remark     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	author     TEXT NOT NULL DEFAULT '',
	seq        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS conversations_checkin ON conversations (checkin_id, seq);

CREATE TABLE IF NOT EXISTS control_points (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	project_name TEXT NOT NULL DEFAULT '',
	part_number  TEXT NOT NULL DEFAULT '',
	legacy_id    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dashboard_rows (
	id           TEXT PRIMARY KEY,
	project_name TEXT NOT NULL DEFAULT '',
	part_number  TEXT NOT NULL DEFAULT '',
	legacy_id    TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS dashboard_rows_legacy ON dashboard_rows (legacy_id);

CREATE TABLE IF NOT EXISTS tenants (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS reference_rows (
	tenant_id  TEXT NOT NULL,
	table_name TEXT NOT NULL,
	row_id     TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, table_name, row_id, field)
);

CREATE TABLE IF NOT EXISTS control_point_documents (
	ccp_id     TEXT NOT NULL,
	source_ref TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (ccp_id, source_ref)
);
`

// Mirror is the SQLite-backed SourceProvider.
type Mirror struct {
	db *sql.DB
}

// Open opens (or creates) the mirror database in dataDir. Pass ":memory:"
// for tests.
func Open(dataDir string) (*Mirror, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "source.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening source mirror: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying source schema: %w", err)
	}
	return &Mirror{db: db}, nil
}

// DB exposes the handle for sync jobs and tests.
func (m *Mirror) DB() *sql.DB {
	return m.db
}

// Close closes the underlying database.
func (m *Mirror) Close() error {
	return m.db.Close()
}

func (m *Mirror) Checkin(ctx context.Context, id string) (*core.CheckinRow, error) {
	var row core.CheckinRow
	err := m.db.QueryRowContext(ctx, `
		SELECT id, project_name, part_number, legacy_id, status, description
		FROM checkins WHERE id = ?`, id).
		Scan(&row.ID, &row.ProjectName, &row.PartNumber, &row.LegacyID, &row.Status, &row.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkin %s: %w", id, core.ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkin %s: %w", id, err)
	}
	return &row, nil
}

func (m *Mirror) Project(ctx context.Context, projectName, partNumber, legacyID string) (*core.ProjectRow, error) {
	var row core.ProjectRow
	err := m.db.QueryRowContext(ctx, `
		SELECT legacy_id, project_name, part_number, tenant_id
		FROM projects WHERE project_name = ? AND part_number = ? AND legacy_id = ?`,
		projectName, partNumber, legacyID).
		Scan(&row.LegacyID, &row.ProjectName, &row.PartNumber, &row.TenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s/%s/%s: %w", projectName, partNumber, legacyID, core.ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return &row, nil
}

func (m *Mirror) Conversations(ctx context.Context, checkinID string) ([]core.ConversationRow, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, checkin_id, remark, status, author
		FROM conversations WHERE checkin_id = ? ORDER BY seq`, checkinID)
	if err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}
	defer rows.Close()

	var out []core.ConversationRow
	for rows.Next() {
		var c core.ConversationRow
		if err := rows.Scan(&c.ID, &c.CheckinID, &c.Remark, &c.Status, &c.Author); err != nil {
			return nil, fmt.Errorf("loading conversations: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (m *Mirror) ControlPoint(ctx context.Context, id string) (*core.ControlPointRow, error) {
	var row core.ControlPointRow
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, description, project_name, part_number, legacy_id
		FROM control_points WHERE id = ?`, id).
		Scan(&row.ID, &row.Name, &row.Description, &row.ProjectName, &row.PartNumber, &row.LegacyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("control point %s: %w", id, core.ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading control point %s: %w", id, err)
	}
	return &row, nil
}

func (m *Mirror) DashboardRow(ctx context.Context, rowID string) (*core.DashboardRow, error) {
	return m.dashboardBy(ctx, "id = ?", rowID)
}

func (m *Mirror) DashboardRowByLegacy(ctx context.Context, legacyID string) (*core.DashboardRow, error) {
	return m.dashboardBy(ctx, "legacy_id = ?", legacyID)
}

func (m *Mirror) dashboardBy(ctx context.Context, where, arg string) (*core.DashboardRow, error) {
	var row core.DashboardRow
	err := m.db.QueryRowContext(ctx, `
		SELECT id, project_name, part_number, legacy_id, message
		FROM dashboard_rows WHERE `+where+` LIMIT 1`, arg).
		Scan(&row.ID, &row.ProjectName, &row.PartNumber, &row.LegacyID, &row.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dashboard row %s: %w", arg, core.ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading dashboard row %s: %w", arg, err)
	}
	return &row, nil
}

// ControlPoints lists every mirrored control point, for backfill sweeps.
func (m *Mirror) ControlPoints(ctx context.Context) ([]core.ControlPointRow, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, description, project_name, part_number, legacy_id
		FROM control_points ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing control points: %w", err)
	}
	defer rows.Close()

	var out []core.ControlPointRow
	for rows.Next() {
		var cp core.ControlPointRow
		if err := rows.Scan(&cp.ID, &cp.Name, &cp.Description, &cp.ProjectName, &cp.PartNumber, &cp.LegacyID); err != nil {
			return nil, fmt.Errorf("listing control points: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// ControlPointDocuments returns the extracted document texts attached to a
// control point, keyed by source reference. Empty map when none exist.
func (m *Mirror) ControlPointDocuments(ctx context.Context, ccpID string) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT source_ref, content FROM control_point_documents WHERE ccp_id = ?`, ccpID)
	if err != nil {
		return nil, fmt.Errorf("loading documents for control point %s: %w", ccpID, err)
	}
	defer rows.Close()

	docs := make(map[string]string)
	for rows.Next() {
		var ref, content string
		if err := rows.Scan(&ref, &content); err != nil {
			return nil, fmt.Errorf("loading documents for control point %s: %w", ccpID, err)
		}
		docs[ref] = content
	}
	return docs, rows.Err()
}

// ReferenceTenants lists tenants that have mirrored knowledge-base rows.
func (m *Mirror) ReferenceTenants(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT DISTINCT tenant_id FROM reference_rows ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("listing reference tenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("listing reference tenants: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ReferenceRows loads a tenant's knowledge-base rows, fields regrouped per
// (table, row id).
func (m *Mirror) ReferenceRows(ctx context.Context, tenantID string) ([]core.ReferenceRow, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT table_name, row_id, field, value
		FROM reference_rows WHERE tenant_id = ?
		ORDER BY table_name, row_id, field`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading reference rows: %w", err)
	}
	defer rows.Close()

	var out []core.ReferenceRow
	var cur *core.ReferenceRow
	for rows.Next() {
		var table, rowID, field, value string
		if err := rows.Scan(&table, &rowID, &field, &value); err != nil {
			return nil, fmt.Errorf("loading reference rows: %w", err)
		}
		if cur == nil || cur.Table != table || cur.RowID != rowID {
			out = append(out, core.ReferenceRow{Table: table, RowID: rowID, Fields: make(map[string]string)})
			cur = &out[len(out)-1]
		}
		cur.Fields[field] = value
	}
	return out, rows.Err()
}

func (m *Mirror) Tenant(ctx context.Context, tenantID string) (*core.TenantRow, error) {
	var row core.TenantRow
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, description FROM tenants WHERE id = ?`, tenantID).
		Scan(&row.ID, &row.Name, &row.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, core.ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant %s: %w", tenantID, err)
	}
	return &row, nil
}
