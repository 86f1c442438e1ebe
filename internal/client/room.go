package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/atlaschat/chat-app/internal/protocol"
)

// Room lifecycle states.
type RoomState int

const (
	StateIdle RoomState = iota
	StateJoining
	StateJoined
	StateLeaving
)

// String returns a readable name for the state.
func (s RoomState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// ErrAlreadyJoined is returned by Join when the room machine is not idle.
var ErrAlreadyJoined = errors.New("client: already in a room")

// ErrNotJoined is returned by operations that require joined state.
var ErrNotJoined = errors.New("client: not in a room")

// Message is one entry in a room's local log. The log is a read-only cache
// of the server's broadcasts; entries are appended in receipt order and
// never re-sorted.
type Message struct {
	Author string
	Body   string
	Time   string
	IsGif  bool
}

// Room is the client-side view of one chat room: message log, roster
// snapshot, and the single-slot typing indicator. It walks
// Idle -> Joining -> Joined -> Leaving -> Idle; all mutation happens on
// receipt of a server event or a local user action.
type Room struct {
	sess     Handle
	username string

	mu           sync.Mutex
	state        RoomState
	name         string
	log          []Message
	members      []string
	typingAuthor string // last writer wins; at most one shown at a time
	unsubs       []func()

	debouncer *Debouncer

	// OnUpdate, when set, is called after every state change so a UI layer
	// can re-render. Called without the room lock held.
	OnUpdate func()
}

// NewRoom creates an idle room machine bound to the given session handle and
// display name.
func NewRoom(sess Handle, username string) *Room {
	r := &Room{
		sess:     sess,
		username: username,
		state:    StateIdle,
	}
	r.debouncer = NewDebouncer(DefaultTypingWindow,
		func() { r.sendTyping() },
		func() { r.sendStopTyping() },
	)
	return r
}

// Join requests membership in roomID. The machine moves to Joining
// immediately and to Joined when a roster broadcast naming this client
// arrives. Only valid from Idle.
func (r *Room) Join(roomID string) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrAlreadyJoined
	}
	r.state = StateJoining
	r.name = roomID
	r.log = nil
	r.members = nil
	r.typingAuthor = ""

	r.unsubs = []func(){
		r.sess.Subscribe(protocol.TypeReceiveMessage, r.onReceiveMessage),
		r.sess.Subscribe(protocol.TypeMembersList, r.onMembersList),
		r.sess.Subscribe(protocol.TypeTyping, r.onTyping),
		r.sess.Subscribe(protocol.TypeStopTyping, r.onStopTyping),
	}
	r.mu.Unlock()

	err := r.sess.Send(protocol.TypeJoinRoom, protocol.JoinRoomMsg{
		Type:     protocol.TypeJoinRoom,
		Room:     roomID,
		Username: r.username,
	})
	if err != nil {
		r.teardown()
		return err
	}
	return nil
}

// Leave exits the current room. The leave request is best effort; the
// machine returns to Idle without waiting for acknowledgment, and all room
// subscriptions are torn down so in-flight broadcasts for the old room are
// never applied.
func (r *Room) Leave() error {
	r.mu.Lock()
	if r.state != StateJoined && r.state != StateJoining {
		r.mu.Unlock()
		return ErrNotJoined
	}
	r.state = StateLeaving
	roomID := r.name
	r.mu.Unlock()

	r.debouncer.Cancel()

	_ = r.sess.Send(protocol.TypeLeaveRoom, protocol.LeaveRoomMsg{
		Type: protocol.TypeLeaveRoom,
		Room: roomID,
	})
	r.sess.DiscardQueuedJoins(roomID)

	r.teardown()
	return nil
}

// teardown unsubscribes everything and resets local state to Idle.
func (r *Room) teardown() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.state = StateIdle
	r.name = ""
	r.log = nil
	r.members = nil
	r.typingAuthor = ""
	r.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	r.notify()
}

// SendMessage sends a chat message (or a GIF URL when isGif is true) to the
// current room. Sending immediately ends the local typing announcement.
func (r *Room) SendMessage(body string, isGif bool) error {
	r.mu.Lock()
	if r.state != StateJoined {
		r.mu.Unlock()
		return ErrNotJoined
	}
	roomID := r.name
	r.mu.Unlock()

	r.debouncer.MessageSent()

	return r.sess.Send(protocol.TypeSendMessage, protocol.SendMessageMsg{
		Type:    protocol.TypeSendMessage,
		Room:    roomID,
		Author:  r.username,
		Message: body,
		Time:    time.Now().Format("3:04 PM"),
		IsGif:   isGif,
	})
}

// Keystroke feeds one keystroke into the typing debouncer. Call it on every
// input change while composing.
func (r *Room) Keystroke() {
	r.mu.Lock()
	joined := r.state == StateJoined
	r.mu.Unlock()
	if joined {
		r.debouncer.Keystroke()
	}
}

// State returns the current lifecycle state.
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Name returns the current room id, or "" when idle.
func (r *Room) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// Log returns a copy of the message log in receipt order.
func (r *Room) Log() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.log))
	copy(out, r.log)
	return out
}

// Members returns the latest roster snapshot.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.members))
	copy(out, r.members)
	return out
}

// TypingAuthor returns who is currently shown as typing, or "".
func (r *Room) TypingAuthor() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typingAuthor
}

func (r *Room) notify() {
	if r.OnUpdate != nil {
		r.OnUpdate()
	}
}

// onReceiveMessage appends a broadcast chat message to the local log. Frames
// for any other room, or arriving after a local leave, are dropped.
func (r *Room) onReceiveMessage(raw json.RawMessage) {
	var msg protocol.ReceiveMessageMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	r.mu.Lock()
	if (r.state != StateJoined && r.state != StateJoining) || msg.Room != r.name {
		r.mu.Unlock()
		return
	}
	r.log = append(r.log, Message{
		Author: msg.Author,
		Body:   msg.Message,
		Time:   msg.Time,
		IsGif:  msg.IsGif,
	})
	// A message from another member means they are no longer typing.
	if r.typingAuthor == msg.Author {
		r.typingAuthor = ""
	}
	r.mu.Unlock()
	r.notify()
}

// onMembersList applies a roster broadcast. Seeing our own name while
// Joining completes the join.
func (r *Room) onMembersList(raw json.RawMessage) {
	var msg protocol.MembersListMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	r.mu.Lock()
	if r.state == StateIdle || r.state == StateLeaving || msg.Room != r.name {
		r.mu.Unlock()
		return
	}
	r.members = msg.Members
	if r.state == StateJoining {
		for _, name := range msg.Members {
			if name == r.username {
				r.state = StateJoined
				break
			}
		}
	}
	r.mu.Unlock()
	r.notify()
}

// onTyping sets the typing indicator. The slot holds one author; a newer
// typist replaces the previous one.
func (r *Room) onTyping(raw json.RawMessage) {
	var msg protocol.TypingMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	r.mu.Lock()
	if r.state != StateJoined || msg.Room != r.name {
		r.mu.Unlock()
		return
	}
	r.typingAuthor = msg.Author
	r.mu.Unlock()
	r.notify()
}

// onStopTyping clears the typing indicator.
func (r *Room) onStopTyping(raw json.RawMessage) {
	var msg protocol.StopTypingMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	r.mu.Lock()
	if r.state != StateJoined || msg.Room != r.name {
		r.mu.Unlock()
		return
	}
	r.typingAuthor = ""
	r.mu.Unlock()
	r.notify()
}

// sendTyping and sendStopTyping are the debouncer's outputs.
func (r *Room) sendTyping() {
	r.mu.Lock()
	roomID := r.name
	joined := r.state == StateJoined
	r.mu.Unlock()
	if !joined {
		return
	}
	_ = r.sess.Send(protocol.TypeTyping, protocol.TypingMsg{
		Type:   protocol.TypeTyping,
		Room:   roomID,
		Author: r.username,
	})
}

func (r *Room) sendStopTyping() {
	r.mu.Lock()
	roomID := r.name
	r.mu.Unlock()
	if roomID == "" {
		return
	}
	_ = r.sess.Send(protocol.TypeStopTyping, protocol.StopTypingMsg{
		Type: protocol.TypeStopTyping,
		Room: roomID,
	})
}
