package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// maxErrorMessage caps stored error messages so a pathological upstream
// error cannot bloat the ledger.
const maxErrorMessage = 2000

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	primary_id    TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS runs_active_unique
	ON runs (tenant_id, event_type, primary_id)
	WHERE status IN ('QUEUED','RUNNING');

CREATE INDEX IF NOT EXISTS runs_status_started
	ON runs (status, started_at);
`

// Ledger is the SQLite-backed run ledger.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database in dataDir and applies the
// schema. Pass ":memory:" as dataDir for an in-memory ledger (tests).
func Open(dataDir string) (*Ledger, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "ledger.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// Single connection avoids "database is locked" under worker concurrency;
	// the busy timeout covers the rest.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Claim atomically inserts a RUNNING row for the scoped primary id. The
// insert-if-absent is the concurrency-safety mechanism: when a QUEUED or
// RUNNING row already exists for the exact triple, Claim returns
// ErrAlreadyRunning and the caller must perform no further work.
//
// tenantHint may be "UNKNOWN" when resolution requires a source lookup that
// happens later in the pipeline; UpdateTenant corrects the row in place.
func (l *Ledger) Claim(ctx context.Context, tenantHint, eventType, primaryID string, flags ScopeFlags) (*Run, error) {
	if tenantHint == "" {
		tenantHint = "UNKNOWN"
	}
	scoped := ScopedPrimaryID(primaryID, flags)
	runID := uuid.New().String()
	now := time.Now().UTC().Unix()

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, tenant_id, event_type, primary_id, status, created_at, started_at)
		VALUES (?, ?, ?, ?, 'RUNNING', ?, ?)
		ON CONFLICT (tenant_id, event_type, primary_id) WHERE status IN ('QUEUED','RUNNING')
		DO NOTHING`,
		runID, tenantHint, eventType, scoped, now, now)
	if err != nil {
		return nil, fmt.Errorf("claiming run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claiming run: %w", err)
	}
	if n == 0 {
		return nil, ErrAlreadyRunning
	}

	log.Printf("[LEDGER] Claimed run %s: tenant=%s type=%s primary=%s", runID, tenantHint, eventType, scoped)
	return &Run{ID: runID, TenantID: tenantHint, EventType: eventType, PrimaryID: scoped}, nil
}

// UpdateTenant corrects the run's tenant in place once the true tenant is
// resolved. The correction can legitimately collide with another active run
// that resolved to the same tenant first; that surfaces as
// ErrTenantConflict rather than being dropped silently.
func (l *Ledger) UpdateTenant(ctx context.Context, run *Run, tenantID string) error {
	if tenantID == "" || tenantID == run.TenantID {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET tenant_id = ? WHERE run_id = ?`, tenantID, run.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: tenant=%s type=%s primary=%s", ErrTenantConflict, tenantID, run.EventType, run.PrimaryID)
		}
		return fmt.Errorf("updating run tenant: %w", err)
	}
	log.Printf("[LEDGER] Run %s tenant corrected: %s -> %s", run.ID, run.TenantID, tenantID)
	run.TenantID = tenantID
	return nil
}

// Finish transitions the run to a terminal status. Calling Finish twice
// with the same status is a no-op; calling it with a different status after
// a terminal state returns ErrTerminalMismatch.
func (l *Ledger) Finish(ctx context.Context, run *Run, status Status, errorMessage string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}
	if len(errorMessage) > maxErrorMessage {
		errorMessage = errorMessage[:maxErrorMessage]
	}
	now := time.Now().UTC().Unix()

	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error_message = ?, finished_at = ?
		WHERE run_id = ? AND status IN ('QUEUED','RUNNING')`,
		string(status), errorMessage, now, run.ID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n == 1 {
		log.Printf("[LEDGER] Run %s finished: %s", run.ID, status)
		return nil
	}

	// Row was already terminal. Same status is idempotent; a different one
	// indicates a caller bug and must not be masked.
	var current string
	if err := l.db.QueryRowContext(ctx,
		`SELECT status FROM runs WHERE run_id = ?`, run.ID).Scan(&current); err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if Status(current) == status {
		return nil
	}
	return fmt.Errorf("%w: have %s, got %s", ErrTerminalMismatch, current, status)
}

// SweepStale demotes RUNNING rows older than maxAge to ERROR. A row can go
// stale only when a worker crashed between claim and finalization; the
// sweep restores claimability for redelivered events.
func (l *Ledger) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Unix()
	now := time.Now().UTC().Unix()

	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET status = 'ERROR', error_message = 'stale run demoted by sweep', finished_at = ?
		WHERE status = 'RUNNING' AND started_at < ?`,
		now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweeping stale runs: %w", err)
	}
	if n > 0 {
		log.Printf("[LEDGER] Swept %d stale RUNNING runs (older than %s)", n, maxAge)
	}
	return int(n), nil
}

// Get returns the full record for a run id.
func (l *Ledger) Get(ctx context.Context, runID string) (*Record, error) {
	var rec Record
	var status string
	var created, started, finished int64
	err := l.db.QueryRowContext(ctx, `
		SELECT run_id, tenant_id, event_type, primary_id, status, error_message, created_at, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID).
		Scan(&rec.ID, &rec.TenantID, &rec.EventType, &rec.PrimaryID, &status, &rec.ErrorMessage, &created, &started, &finished)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	rec.Status = Status(status)
	rec.CreatedAt = time.Unix(created, 0).UTC()
	rec.StartedAt = time.Unix(started, 0).UTC()
	if finished > 0 {
		rec.FinishedAt = time.Unix(finished, 0).UTC()
	}
	return &rec, nil
}
