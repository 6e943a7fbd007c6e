package core

import "fmt"

// EventType identifies the class of an inbound manufacturing event.
//
// The set is closed on purpose: the reply/writeback gate is an exhaustive
// switch over this type, so adding an event class forces a decision about
// its reply eligibility at compile time.
type EventType int

const (
	// CheckinCreated is a new inspection check-in. This is the only event
	// class that may produce an AI reply and a writeback.
	CheckinCreated EventType = iota

	// CheckinUpdated is an edit to an existing check-in. Memory-only.
	CheckinUpdated

	// ConversationAdded is a new remark on a check-in thread. Memory-only.
	ConversationAdded

	// ControlPointUpdated is a change to a control-point definition.
	ControlPointUpdated

	// DashboardUpdated is a new dashboard status row.
	DashboardUpdated

	// ManualTrigger is an operator-initiated reprocess of a check-in,
	// typically a backfill. Caller flags choose the ingest mode.
	ManualTrigger
)

var eventTypeNames = map[EventType]string{
	CheckinCreated:      "CHECKIN_CREATED",
	CheckinUpdated:      "CHECKIN_UPDATED",
	ConversationAdded:   "CONVERSATION_ADDED",
	ControlPointUpdated: "CONTROL_POINT_UPDATED",
	DashboardUpdated:    "DASHBOARD_UPDATED",
	ManualTrigger:       "MANUAL_TRIGGER",
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// ParseEventType maps a wire-format event type string to its EventType.
func ParseEventType(s string) (EventType, error) {
	for t, name := range eventTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// ReplyEligible reports whether this event class may ever reach the
// generation/writeback path. The graph enforces this centrally; caller
// flags can narrow the path but never widen it.
func (t EventType) ReplyEligible() bool {
	switch t {
	case CheckinCreated:
		return true
	case CheckinUpdated, ConversationAdded, ControlPointUpdated, DashboardUpdated, ManualTrigger:
		return false
	}
	return false
}

// ForcedIngestOnly reports whether this event class is ingest-only
// regardless of caller flags.
func (t EventType) ForcedIngestOnly() bool {
	switch t {
	case CheckinUpdated, ConversationAdded:
		return true
	case CheckinCreated, ControlPointUpdated, DashboardUpdated, ManualTrigger:
		return false
	}
	return false
}

// Meta carries caller-supplied processing hints. None of these can grant
// reply eligibility to an event class that does not have it.
type Meta struct {
	// TenantID is an explicit tenant override. Usually empty; tenant
	// resolution then happens via the project source-of-truth lookup.
	TenantID string

	// IngestOnly requests memory refresh without a reply. Implied for
	// CheckinUpdated and ConversationAdded regardless of this flag.
	IngestOnly bool

	// MediaOnly narrows an ingest-only run to the media-caption vector.
	MediaOnly bool

	// ForceReply re-enables the reply path for a CheckinCreated event
	// that would otherwise be ingest-only. Ignored for every other type.
	ForceReply bool

	// PrimaryID overrides primary-id derivation for ManualTrigger events.
	PrimaryID string
}

// Event is one inbound queue delivery, already mapped from its loose wire
// payload into a fixed shape. Unknown or missing ids are empty strings.
type Event struct {
	Type EventType

	CheckinID      string
	ConversationID string
	ControlPointID string
	DashboardRowID string
	LegacyID       string

	Meta Meta
}

// PrimaryID derives the idempotency primary id for this event. It must be
// the triggering entity's own unique id: a conversation event keys on the
// conversation id, not on its parent check-in, so that a remark and an
// edit to the same check-in never collide in the run ledger.
func (e Event) PrimaryID() string {
	switch e.Type {
	case CheckinCreated, CheckinUpdated:
		return orUnknown(e.CheckinID, "UNKNOWN_CHECKIN")
	case ConversationAdded:
		return orUnknown(e.ConversationID, "UNKNOWN_CONVO")
	case ControlPointUpdated:
		return orUnknown(e.ControlPointID, "UNKNOWN_CCP")
	case DashboardUpdated:
		if e.DashboardRowID != "" {
			return e.DashboardRowID
		}
		return orUnknown(e.LegacyID, "UNKNOWN_DASH")
	case ManualTrigger:
		for _, id := range []string{e.Meta.PrimaryID, e.CheckinID, e.ConversationID, e.ControlPointID, e.DashboardRowID, e.LegacyID} {
			if id != "" {
				return id
			}
		}
		return "UNKNOWN"
	}
	return "UNKNOWN"
}

func orUnknown(id, fallback string) string {
	if id == "" {
		return fallback
	}
	return id
}
