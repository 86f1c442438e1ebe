// Package protocol defines the WebSocket message types and structures used for
// communication between the chat client and server. All messages are serialized
// as JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinRoom      = "join_room"
	TypeLeaveRoom     = "leave_room"
	TypeGetMembers    = "get_members"
	TypeSendMessage   = "send_message"
	TypeTyping        = "typing"
	TypeStopTyping    = "stop_typing"
	TypeSendAIMessage = "send_ai_message"
	TypePing          = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated   = "session_created"
	TypeMembersList      = "members_list"
	TypeReceiveMessage   = "receive_message"
	TypeReceiveAIMessage = "receive_ai_message"
	TypeError            = "error"
	TypePong             = "pong"
)

// Error codes sent in ErrorMsg.Code.
const (
	CodeParseError      = "parse_error"
	CodeUnsupportedType = "unsupported_type"
	CodeInvalidMessage  = "invalid_message"
	CodeRoomNotJoined   = "room_not_joined"
	CodeRateLimited     = "rate_limited"
	CodeAIBusy          = "ai_busy"
	CodeAITimeout       = "ai_timeout"
	CodeAIFailed        = "ai_failed"
)

// ---------------------------------------------------------------------------
// Envelope: initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinRoomMsg is sent by the client to join a room. The room is created
// implicitly on first join; the username is a self-declared display name.
type JoinRoomMsg struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Username string `json:"username"`
}

// LeaveRoomMsg is sent by the client to leave its current room. Leaving is
// fire-and-forget: the client resets its local room state without waiting
// for acknowledgment.
type LeaveRoomMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// GetMembersMsg asks the server for the current roster of a room. The server
// answers with a MembersListMsg.
type GetMembersMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// SendMessageMsg is a chat message (text or GIF URL) sent by the client to a
// room. Time is the client's display timestamp and is relayed verbatim; the
// delivery order is assigned by the server.
type SendMessageMsg struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Author  string `json:"author"`
	Message string `json:"message"`
	Time    string `json:"time"`
	IsGif   bool   `json:"is_gif,omitempty"`
}

// TypingMsg announces that the author has started typing in a room. It is
// broadcast to the other room members, never echoed back to the author.
type TypingMsg struct {
	Type   string `json:"type"`
	Room   string `json:"room"`
	Author string `json:"author"`
}

// StopTypingMsg announces that typing in a room has stopped, either because
// the quiescence window lapsed or because a message was sent.
type StopTypingMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// SendAIMessageMsg submits a prompt to the AI channel. RequestID correlates
// the eventual reply with this prompt; replies are matched by id, not by
// order, so backend latency variance cannot cross-match replies.
type SendAIMessageMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new connection session is
// established. The session id is the client's connection identity for the
// lifetime of the connection.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// MembersListMsg carries the current roster of a room. It is sent in response
// to get_members and broadcast to the room whenever the roster changes.
type MembersListMsg struct {
	Type    string   `json:"type"`
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

// ReceiveMessageMsg is a chat message relayed by the server to every member
// of the room, including the sender. The field shape matches SendMessageMsg;
// the order of receive_message frames is the server-assigned total order.
type ReceiveMessageMsg struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Author  string `json:"author"`
	Message string `json:"message"`
	Time    string `json:"time"`
	IsGif   bool   `json:"is_gif,omitempty"`
}

// ReceiveAIMessageMsg is the AI responder's reply, delivered only to the
// session that submitted the matching prompt.
type ReceiveAIMessageMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	Time      string `json:"time"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetMembers:
		var m GetMembersMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendAIMessage:
		var m SendAIMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
