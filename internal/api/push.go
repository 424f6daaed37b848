package api

import "encoding/json"

// Inbound push envelope types.
const (
	PushNewMessage     = "new_message"
	PushInboundMessage = "inbound_message"
	PushTyping         = "typing"
	PushMessageStatus  = "message_status"
	PushConnected      = "connected"
	PushPong           = "pong"
	PushEventStream    = "event_stream"
	PushPing           = "ping"
)

func IsKnownPushType(t string) bool {
	switch t {
	case PushNewMessage, PushInboundMessage, PushTyping, PushMessageStatus, PushConnected, PushPong, PushEventStream:
		return true
	default:
		return false
	}
}

// IsMessagePush reports whether the type belongs to the messaging family.
func IsMessagePush(t string) bool {
	switch t {
	case PushNewMessage, PushInboundMessage, PushTyping, PushMessageStatus:
		return true
	default:
		return false
	}
}

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// BoardEvent is the data payload of an event_stream push.
type BoardEvent struct {
	Kind       string   `json:"kind,omitempty"`
	Panels     []string `json:"panels,omitempty"`
	IncidentID int64    `json:"incident_id,omitempty"`
	UnitID     string   `json:"unit_id,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

type ConnectedData struct {
	ClientID string `json:"client_id,omitempty"`
	Server   string `json:"server,omitempty"`
}
