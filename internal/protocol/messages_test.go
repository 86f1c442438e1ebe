package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join_room message
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinRoom(t *testing.T) {
	input := []byte(`{"type":"join_room","room":"standup","username":"alice"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinRoom {
		t.Fatalf("expected type %q, got %q", TypeJoinRoom, msgType)
	}

	jm, ok := msg.(JoinRoomMsg)
	if !ok {
		t.Fatalf("expected JoinRoomMsg, got %T", msg)
	}
	if jm.Room != "standup" {
		t.Errorf("expected room %q, got %q", "standup", jm.Room)
	}
	if jm.Username != "alice" {
		t.Errorf("expected username %q, got %q", "alice", jm.Username)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","room":"standup","author":"alice","message":"hello","time":"10:42 AM"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.Room != "standup" {
		t.Errorf("expected room %q, got %q", "standup", sm.Room)
	}
	if sm.Message != "hello" {
		t.Errorf("expected message %q, got %q", "hello", sm.Message)
	}
	if sm.IsGif {
		t.Error("expected is_gif to default to false")
	}
}

func TestParseClientMessage_SendMessageGif(t *testing.T) {
	input := []byte(`{"type":"send_message","room":"standup","author":"bob","message":"https://media.example.com/cat.gif","time":"10:43 AM","is_gif":true}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm := msg.(SendMessageMsg)
	if !sm.IsGif {
		t.Error("expected is_gif true")
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a members_list server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_MembersList(t *testing.T) {
	payload := MembersListMsg{
		Room:    "standup",
		Members: []string{"alice", "bob"},
	}

	data, err := NewServerMessage(TypeMembersList, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMembersList {
		t.Errorf("expected type %q, got %v", TypeMembersList, result["type"])
	}
	if result["room"] != "standup" {
		t.Errorf("expected room %q, got %v", "standup", result["room"])
	}

	members, ok := result["members"].([]interface{})
	if !ok {
		t.Fatalf("expected members to be an array, got %T", result["members"])
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0] != "alice" || members[1] != "bob" {
		t.Errorf("unexpected members: %v", members)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// Server-only types must not parse as client messages.
func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"receive_message","room":"r","author":"a","message":"m"}`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for server-only message type, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Round-trip fidelity (marshal -> unmarshal)
// ---------------------------------------------------------------------------

func TestRoundTrip_SendAIMessage(t *testing.T) {
	original := SendAIMessageMsg{
		Type:      TypeSendAIMessage,
		RequestID: "req-1234",
		Message:   "what is the weather?",
	}

	// Marshal to JSON.
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	// Parse back through the protocol parser.
	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendAIMessage {
		t.Fatalf("expected type %q, got %q", TypeSendAIMessage, msgType)
	}

	decoded, ok := msg.(SendAIMessageMsg)
	if !ok {
		t.Fatalf("expected SendAIMessageMsg, got %T", msg)
	}
	if decoded.RequestID != original.RequestID {
		t.Errorf("request_id mismatch: expected %q, got %q", original.RequestID, decoded.RequestID)
	}
	if decoded.Message != original.Message {
		t.Errorf("message mismatch: expected %q, got %q", original.Message, decoded.Message)
	}
}

func TestRoundTrip_ServerMessage(t *testing.T) {
	original := ReceiveAIMessageMsg{
		Type:      TypeReceiveAIMessage,
		RequestID: "req-9",
		Author:    "AI",
		Message:   "42",
		Time:      "10:45 AM",
	}

	// Create server message bytes.
	data, err := NewServerMessage(TypeReceiveAIMessage, original)
	if err != nil {
		t.Fatalf("failed to create server message: %v", err)
	}

	// Unmarshal back into the struct.
	var decoded ReceiveAIMessageMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Type != TypeReceiveAIMessage {
		t.Errorf("type mismatch: expected %q, got %q", TypeReceiveAIMessage, decoded.Type)
	}
	if decoded.RequestID != original.RequestID {
		t.Errorf("request_id mismatch: expected %q, got %q", original.RequestID, decoded.RequestID)
	}
	if decoded.Author != "AI" {
		t.Errorf("author mismatch: expected %q, got %q", "AI", decoded.Author)
	}
	if decoded.Message != original.Message {
		t.Errorf("message mismatch: expected %q, got %q", original.Message, decoded.Message)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"join_room", `{"type":"join_room","room":"r1","username":"alice"}`, TypeJoinRoom},
		{"leave_room", `{"type":"leave_room","room":"r1"}`, TypeLeaveRoom},
		{"get_members", `{"type":"get_members","room":"r1"}`, TypeGetMembers},
		{"send_message", `{"type":"send_message","room":"r1","author":"alice","message":"hi","time":"1:00 PM"}`, TypeSendMessage},
		{"typing", `{"type":"typing","room":"r1","author":"alice"}`, TypeTyping},
		{"stop_typing", `{"type":"stop_typing","room":"r1"}`, TypeStopTyping},
		{"send_ai_message", `{"type":"send_ai_message","request_id":"id1","message":"hi"}`, TypeSendAIMessage},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
