package core

import "errors"

// Fatal run errors. Each one sets the ledger row to ERROR with the wrapped
// message; none of them is retried by the core itself (redelivery is the
// only retry mechanism).
var (
	// ErrEntityNotFound means the source row for the event's primary id
	// could not be loaded.
	ErrEntityNotFound = errors.New("entity not found in source")

	// ErrTenantUnresolved means no tenant could be determined from the
	// event metadata, the source rows, or the fallback composite key.
	ErrTenantUnresolved = errors.New("tenant unresolved")
)
