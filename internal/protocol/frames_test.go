package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid offer frame
// ---------------------------------------------------------------------------

func TestParseClientFrame_Offer(t *testing.T) {
	input := []byte(`{"v":1,"type":"offer","call_id":"call-1","chat_id":"chat-9","callee_id":"user-b","is_video":true,"sdp":"v=0..."}`)

	frameType, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeOffer {
		t.Fatalf("expected type %q, got %q", TypeOffer, frameType)
	}

	of, ok := msg.(OfferFrame)
	if !ok {
		t.Fatalf("expected OfferFrame, got %T", msg)
	}
	if of.CallID != "call-1" {
		t.Errorf("expected call_id %q, got %q", "call-1", of.CallID)
	}
	if of.CalleeID != "user-b" {
		t.Errorf("expected callee_id %q, got %q", "user-b", of.CalleeID)
	}
	if !of.IsVideo {
		t.Error("expected is_video=true")
	}
	if of.SDP != "v=0..." {
		t.Errorf("expected sdp %q, got %q", "v=0...", of.SDP)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a typing frame without an explicit version field
// ---------------------------------------------------------------------------

func TestParseClientFrame_TypingDefaultsVersion(t *testing.T) {
	input := []byte(`{"type":"typing","chat_id":"chat-42"}`)

	frameType, msg, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, frameType)
	}

	tf, ok := msg.(TypingFrame)
	if !ok {
		t.Fatalf("expected TypingFrame, got %T", msg)
	}
	if tf.ChatID != "chat-42" {
		t.Errorf("expected chat_id %q, got %q", "chat-42", tf.ChatID)
	}
}

// ---------------------------------------------------------------------------
// Test: Unsupported envelope versions are rejected
// ---------------------------------------------------------------------------

func TestParseClientFrame_UnsupportedVersion(t *testing.T) {
	input := []byte(`{"v":2,"type":"typing","chat_id":"chat-42"}`)

	_, _, err := ParseClientFrame(input)
	if err == nil {
		t.Fatal("expected error for unsupported version, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Server-only frame types are rejected from clients
// ---------------------------------------------------------------------------

func TestParseClientFrame_ServerOnlyType(t *testing.T) {
	input := []byte(`{"v":1,"type":"new_message","chat_id":"chat-1"}`)

	_, _, err := ParseClientFrame(input)
	if err == nil {
		t.Fatal("expected error for server-only frame type, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Missing type field
// ---------------------------------------------------------------------------

func TestParseClientFrame_MissingType(t *testing.T) {
	input := []byte(`{"v":1,"chat_id":"chat-1"}`)

	_, _, err := ParseClientFrame(input)
	if err == nil {
		t.Fatal("expected error for missing type, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a new_message server frame injects version and type
// ---------------------------------------------------------------------------

func TestNewServerFrame_NewMessage(t *testing.T) {
	payload := NewMessageFrame{
		MessageID: "msg-7",
		ChatID:    "chat-1",
		SenderID:  "user-a",
		Body:      "opaque-bytes",
		Seq:       42,
		SentAt:    1700000000,
	}

	data, err := NewServerFrame(TypeNewMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeNewMessage {
		t.Errorf("expected type %q, got %v", TypeNewMessage, decoded["type"])
	}
	if decoded["v"] != float64(Version) {
		t.Errorf("expected v=%d, got %v", Version, decoded["v"])
	}
	if decoded["message_id"] != "msg-7" {
		t.Errorf("expected message_id %q, got %v", "msg-7", decoded["message_id"])
	}
	if decoded["seq"] != float64(42) {
		t.Errorf("expected seq 42, got %v", decoded["seq"])
	}
}

// ---------------------------------------------------------------------------
// Test: Round trip of a presence frame
// ---------------------------------------------------------------------------

func TestNewServerFrame_PresenceRoundTrip(t *testing.T) {
	data, err := NewServerFrame(TypeUserOnline, PresenceFrame{UserID: "user-z"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		V      int    `json:"v"`
		Type   string `json:"type"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if decoded.Type != TypeUserOnline {
		t.Errorf("expected type %q, got %q", TypeUserOnline, decoded.Type)
	}
	if decoded.UserID != "user-z" {
		t.Errorf("expected user_id %q, got %q", "user-z", decoded.UserID)
	}
}
