// Package ai implements the AI session channel: a room-less request/response
// conversation between one user and the AI responder. The wsserver tracks at
// most one pending exchange per session; the aiworker consumes prompts from
// NATS, calls the external completion backend, and publishes replies
// addressed to the originating session.
package ai

// Request is the payload published to the ai.request subject.
type Request struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Prompt    string `json:"prompt"`
}

// Reply is the payload published to ai.reply.<session_id>. Exactly one Reply
// is produced per Request: a completion on success, or Err on backend
// failure so the client is never left waiting on silence.
type Reply struct {
	SessionID  string `json:"session_id"`
	RequestID  string `json:"request_id"`
	Completion string `json:"completion,omitempty"`
	Err        string `json:"error,omitempty"`
}
