// Package ledger implements the durable idempotency record for event runs.
//
// The ledger claim is the system's sole serialization point against
// duplicate delivery: a claim is a single atomic conditional insert, and a
// conflicting claim reports ErrAlreadyRunning so the caller can abandon the
// run without side effects.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a run record.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

var (
	// ErrAlreadyRunning is returned by Claim when a QUEUED or RUNNING run
	// already exists for the same (tenant, event type, scoped primary id).
	// It is a duplicate-suppression outcome, not a failure.
	ErrAlreadyRunning = errors.New("run already claimed")

	// ErrTenantConflict is returned by UpdateTenant when correcting the
	// tenant would collide with another active run under the resolved
	// tenant. The later run must surface this and finish with an error;
	// the ledger never merges runs.
	ErrTenantConflict = errors.New("tenant correction conflicts with an active run")

	// ErrTerminalMismatch is returned by Finish when a run that already
	// reached a terminal state is finished again with a different status.
	ErrTerminalMismatch = errors.New("run already finished with a different status")
)

// ScopeFlags select the processing scope for a claim. They suffix the
// primary id so a caption-only backfill and a full reply run for the same
// entity occupy distinct ledger slots.
type ScopeFlags struct {
	IngestOnly bool
	MediaOnly  bool
}

// ScopedPrimaryID derives the ledger dedup key from the entity's primary id
// and the processing scope.
func ScopedPrimaryID(primaryID string, flags ScopeFlags) string {
	if flags.IngestOnly && flags.MediaOnly {
		return primaryID + "::MEDIA_V1"
	}
	if flags.IngestOnly {
		return primaryID + "::INGEST_V1"
	}
	return primaryID
}

// Run is a handle to a claimed ledger row.
type Run struct {
	ID        string
	TenantID  string
	EventType string

	// PrimaryID is the scoped primary id (dedup key), not the raw entity id.
	PrimaryID string
}

// Record is a full ledger row, used for inspection and tests.
type Record struct {
	ID           string
	TenantID     string
	EventType    string
	PrimaryID    string
	Status       Status
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (r Record) String() string {
	return fmt.Sprintf("run %s [%s] %s/%s/%s", r.ID, r.Status, r.TenantID, r.EventType, r.PrimaryID)
}
