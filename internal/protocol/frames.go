// Package protocol defines the socket frame types and structures exchanged
// between the realtime server and messenger clients. All frames are serialized
// as JSON and follow a consistent envelope format with a version field and a
// type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the current frame envelope version. Clients echo it back; frames
// with an unknown version are rejected at parse time.
const Version = 1

// ---------------------------------------------------------------------------
// Frame type constants
// ---------------------------------------------------------------------------

// Client -> Server frame types.
const (
	TypeTyping       = "typing"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeIceCandidate = "ice_candidate"
	TypeReject       = "reject"
	TypeEnd          = "end"
	TypePing         = "ping"
)

// Server -> Client frame types.
const (
	TypeNewMessage     = "new_message"
	TypeUserOnline     = "user_online"
	TypeUserOffline    = "user_offline"
	TypeIncomingCall   = "incoming_call"
	TypeCallAccepted   = "call_accepted"
	TypeCallRejected   = "call_rejected"
	TypeCallEnded      = "call_ended"
	TypeReactionUpdate = "reaction_update"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the frame version, type, and the raw JSON payload for
// deferred parsing into a concrete struct.
type Envelope struct {
	V    int             `json:"v"`
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the version and "type" fields so that the
// rest of the payload can be decoded later into the appropriate concrete
// struct. A missing version is treated as Version 1 for older clients.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw frame for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		V    *int   `json:"v"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	if partial.V == nil {
		e.V = Version
	} else {
		e.V = *partial.V
	}
	if e.V != Version {
		return fmt.Errorf("protocol: unsupported frame version %d", e.V)
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frame structs
// ---------------------------------------------------------------------------

// TypingFrame is sent by the client while composing a message in a chat.
// Every frame refreshes the 3-second typing window server-side; clients do
// not send an explicit "stopped typing" frame.
type TypingFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// OfferFrame initiates a call to another user. SDP carries the WebRTC offer
// for legacy peer-to-peer calls; for managed-room calls it is empty and the
// callee fetches a room credential separately.
type OfferFrame struct {
	Type     string `json:"type"`
	CallID   string `json:"call_id"`
	ChatID   string `json:"chat_id"`
	CalleeID string `json:"callee_id"`
	IsVideo  bool   `json:"is_video"`
	SDP      string `json:"sdp,omitempty"`
}

// AnswerFrame accepts an incoming call.
type AnswerFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	SDP    string `json:"sdp,omitempty"`
}

// IceCandidateFrame carries one ICE candidate to be relayed to the call's
// other party.
type IceCandidateFrame struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Candidate string `json:"candidate"`
}

// RejectFrame declines an incoming call.
type RejectFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

// EndFrame hangs up a ringing or active call.
type EndFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

// PingFrame is a client-initiated keepalive ping.
type PingFrame struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client frame structs
// ---------------------------------------------------------------------------

// NewMessageFrame delivers a persisted chat message to a participant. Body is
// an opaque payload (already encrypted or plaintext per the chat's settings);
// Seq is the storage layer's strictly increasing per-chat sequence, used by
// clients to reorder on receipt.
type NewMessageFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Body      string `json:"body"`
	Seq       int64  `json:"seq"`
	SentAt    int64  `json:"sent_at"`
}

// TypingUpdateFrame carries the chat's current set of typing users, in
// insertion order.
type TypingUpdateFrame struct {
	Type    string   `json:"type"`
	ChatID  string   `json:"chat_id"`
	UserIDs []string `json:"user_ids"`
}

// PresenceFrame announces a user's online/offline transition. Sent with
// TypeUserOnline or TypeUserOffline.
type PresenceFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// IncomingCallFrame notifies the callee of a ringing call.
type IncomingCallFrame struct {
	Type     string `json:"type"`
	CallID   string `json:"call_id"`
	ChatID   string `json:"chat_id"`
	CallerID string `json:"caller_id"`
	IsVideo  bool   `json:"is_video"`
	SDP      string `json:"sdp,omitempty"`
}

// CallAcceptedFrame relays the callee's answer back to the caller.
type CallAcceptedFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	SDP    string `json:"sdp,omitempty"`
}

// CallRejectedFrame tells the caller the callee declined.
type CallRejectedFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

// CallEndedFrame tells a party the call is over. Duration is in seconds and
// zero for calls that were never answered.
type CallEndedFrame struct {
	Type     string `json:"type"`
	CallID   string `json:"call_id"`
	Duration int64  `json:"duration"`
}

// IceCandidateRelayFrame forwards an ICE candidate from the other party.
type IceCandidateRelayFrame struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	FromID    string `json:"from_id"`
	Candidate string `json:"candidate"`
}

// ReactionUpdateFrame announces a reaction added to or removed from a message.
type ReactionUpdateFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	Removed   bool   `json:"removed,omitempty"`
}

// ErrorFrame communicates an error condition to the client.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongFrame is the server's response to a client ping.
type PongFrame struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientFrame parses raw socket bytes into a typed client frame. It
// returns the frame type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only frame types.
func ParseClientFrame(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeTyping:
		var m TypingFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOffer:
		var m OfferFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAnswer:
		var m AnswerFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeIceCandidate:
		var m IceCandidateFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReject:
		var m RejectFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEnd:
		var m EndFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingFrame
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client frame type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerFrame creates a JSON-encoded byte slice for a server frame. The
// frameType and envelope version are injected into the payload under the
// "type" and "v" keys. The payload should be one of the server frame structs;
// this function marshals it to JSON, injects the envelope fields, and returns
// the final bytes.
func NewServerFrame(frameType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["v"] = Version
	m["type"] = frameType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server frame: %w", err)
	}
	return out, nil
}
