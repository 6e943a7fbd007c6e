package queue

import (
	"encoding/json"
	"fmt"

	"github.com/shopfloor-ai/recall/core"
)

// wireEvent is the loose JSON payload the webhook layer delivers.
type wireEvent struct {
	EventType      string `json:"event_type"`
	CheckinID      string `json:"checkin_id"`
	ConversationID string `json:"conversation_id"`
	ControlPointID string `json:"ccp_id"`
	DashboardRowID string `json:"dashboard_row_id"`
	LegacyID       string `json:"legacy_id"`
	Meta           struct {
		TenantID   string `json:"tenant_id"`
		IngestOnly bool   `json:"ingest_only"`
		MediaOnly  bool   `json:"media_only"`
		ForceReply bool   `json:"force_reply"`
		PrimaryID  string `json:"primary_id"`
	} `json:"meta"`
}

// ParseEvent maps a JSON payload to a typed event. Unknown event types are
// rejected here, before a ledger row is ever claimed.
func ParseEvent(data []byte) (core.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return core.Event{}, fmt.Errorf("decoding event payload: %w", err)
	}
	t, err := core.ParseEventType(w.EventType)
	if err != nil {
		return core.Event{}, err
	}
	ev := core.Event{
		Type:           t,
		CheckinID:      w.CheckinID,
		ConversationID: w.ConversationID,
		ControlPointID: w.ControlPointID,
		DashboardRowID: w.DashboardRowID,
		LegacyID:       w.LegacyID,
	}
	ev.Meta = core.Meta{
		TenantID:   w.Meta.TenantID,
		IngestOnly: w.Meta.IngestOnly,
		MediaOnly:  w.Meta.MediaOnly,
		ForceReply: w.Meta.ForceReply,
		PrimaryID:  w.Meta.PrimaryID,
	}
	return ev, nil
}
