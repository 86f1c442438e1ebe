package chat

// Event kinds carried on room.<room_id> NATS subjects.
const (
	EventMessage    = "message"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
	EventRoster     = "roster"
)

// RoomEvent is the payload published to room.<room_id> subjects. Every event
// that reaches a room's audience flows through this envelope; the publish
// order on the subject is the server-assigned total order for the room.
type RoomEvent struct {
	Type    string   `json:"type"`              // message, typing, stop_typing, roster
	Room    string   `json:"room"`
	From    string   `json:"from"`              // sender's session id (for echo filtering)
	Author  string   `json:"author,omitempty"`  // display name
	Body    string   `json:"body,omitempty"`    // message text or GIF URL
	Time    string   `json:"time,omitempty"`    // client display timestamp, relayed verbatim
	IsGif   bool     `json:"is_gif,omitempty"`
	Members []string `json:"members,omitempty"` // for roster events
}
