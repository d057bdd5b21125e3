package models

import "encoding/json"

// Server-to-client envelope types pushed over the transport gateway.
const (
	EventMessageNew        = "message.new"
	EventMessageUpdated    = "message.updated"
	EventMessageDeleted    = "message.deleted"
	EventPresenceChanged   = "presence.changed"
	EventParticipantJoined = "call.participant-joined"
	EventParticipantLeft   = "call.participant-left"
	EventCallOffer         = "call.offer"
	EventCallAnswer        = "call.answer"
	EventCallICECandidate  = "call.ice-candidate"
	EventCallError         = "call.error"
	EventError             = "error"
)

// Envelope is the frame written to gateway clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Client-to-server frame types read from the gateway socket.
const (
	FrameHeartbeat      = "heartbeat"
	FramePresenceUpdate = "presence.update"
	FrameCallJoin       = "call.join"
	FrameCallLeave      = "call.leave"
	FrameCallOffer      = "call.offer"
	FrameCallAnswer     = "call.answer"
	FrameCallICE        = "call.ice-candidate"
)

// ClientFrame is the union of fields a gateway client may send. Signaling
// payloads stay opaque; the server relays them without inspection.
type ClientFrame struct {
	Type         string          `json:"type"`
	Status       string          `json:"status,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
	ChannelID    int             `json:"channel_id,omitempty"`
	TargetUserID int             `json:"target_user_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// MessageEventPayload accompanies message.* envelopes.
type MessageEventPayload struct {
	ChannelID int      `json:"channel_id"`
	Message   *Message `json:"message,omitempty"`
	MessageID int      `json:"message_id,omitempty"`
}

// PresenceEventPayload accompanies presence.changed envelopes.
type PresenceEventPayload struct {
	UserID int    `json:"user_id"`
	Status string `json:"status"`
}

// CallEventPayload accompanies call.* envelopes. Payload carries the
// opaque negotiation body for offer/answer/candidate relays.
type CallEventPayload struct {
	CallID       string          `json:"call_id"`
	ChannelID    int             `json:"channel_id,omitempty"`
	UserID       int             `json:"user_id,omitempty"`
	FromUserID   int             `json:"from_user_id,omitempty"`
	TargetUserID int             `json:"target_user_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}
