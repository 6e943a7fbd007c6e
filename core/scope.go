package core

// ResolvedScope is the transient identity resolved once per run. Every
// downstream read and write is filtered by it. It is a value, never
// persisted, and never mutated after resolution.
type ResolvedScope struct {
	TenantID string

	ProjectName string
	PartNumber  string
	LegacyID    string

	CheckinID      string
	ConversationID string
	ControlPointID string

	// CheckinStatus is the check-in's current workflow status, denormalized
	// into vector rows for retrieval-time display.
	CheckinStatus string
}
