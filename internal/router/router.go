// Package router implements the message broadcast router: it validates
// inbound chat and typing events against room membership, publishes them to
// the room's NATS subject, and fans delivered events out to every member
// connection. AI prompts bypass the room registry entirely and travel the
// ai.request / ai.reply.<session_id> path to exactly one recipient.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/atlaschat/chat-app/internal/ai"
	"github.com/atlaschat/chat-app/internal/chat"
	"github.com/atlaschat/chat-app/internal/metrics"
	"github.com/atlaschat/chat-app/internal/protocol"
	"github.com/atlaschat/chat-app/internal/room"
)

// ErrRoomNotJoined is returned when a session sends a message or typing
// event for a room it is not currently in. The server ignores the event with
// no broadcast; a correct client state machine never sends it.
var ErrRoomNotJoined = errors.New("router: session is not a member of the room")

// Sender writes a frame to a single connection, identified by session id.
type Sender interface {
	SendMessage(sessionID string, data []byte) error
}

// Publisher is the broadcast fabric (NATS in production).
type Publisher interface {
	PublishRoomEvent(roomID string, data []byte) error
	PublishAIRequest(data []byte) error
}

// Router owns the inbound event dispatch for one server instance.
type Router struct {
	registry *room.Registry
	pub      Publisher
	sender   Sender
	tracker  *ai.Tracker
	history  *chat.History
}

// New creates a Router. history may be nil to disable recent-message
// recording.
func New(registry *room.Registry, pub Publisher, sender Sender, tracker *ai.Tracker, history *chat.History) *Router {
	return &Router{
		registry: registry,
		pub:      pub,
		sender:   sender,
		tracker:  tracker,
		history:  history,
	}
}

// ---------------------------------------------------------------------------
// Inbound (client -> room subject)
// ---------------------------------------------------------------------------

// RouteMessage publishes a chat message to its room's subject. The sender
// must currently be a member of the room.
func (r *Router) RouteMessage(sessionID string, msg protocol.SendMessageMsg) error {
	if r.registry.RoomOf(sessionID) != msg.Room {
		return ErrRoomNotJoined
	}

	event := chat.RoomEvent{
		Type:   chat.EventMessage,
		Room:   msg.Room,
		From:   sessionID,
		Author: msg.Author,
		Body:   msg.Message,
		Time:   msg.Time,
		IsGif:  msg.IsGif,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("router: marshal message event: %w", err)
	}

	kind := "text"
	if msg.IsGif {
		kind = "gif"
	}
	metrics.MessagesTotal.WithLabelValues(kind).Inc()

	return r.pub.PublishRoomEvent(msg.Room, data)
}

// RouteTyping publishes a typing indicator to the room's subject.
func (r *Router) RouteTyping(sessionID string, msg protocol.TypingMsg) error {
	if r.registry.RoomOf(sessionID) != msg.Room {
		return ErrRoomNotJoined
	}

	event := chat.RoomEvent{
		Type:   chat.EventTyping,
		Room:   msg.Room,
		From:   sessionID,
		Author: msg.Author,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("router: marshal typing event: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("typing").Inc()
	return r.pub.PublishRoomEvent(msg.Room, data)
}

// RouteStopTyping publishes a stop_typing indicator to the room's subject.
func (r *Router) RouteStopTyping(sessionID string, msg protocol.StopTypingMsg) error {
	if r.registry.RoomOf(sessionID) != msg.Room {
		return ErrRoomNotJoined
	}

	event := chat.RoomEvent{
		Type: chat.EventStopTyping,
		Room: msg.Room,
		From: sessionID,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("router: marshal stop_typing event: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("typing").Inc()
	return r.pub.PublishRoomEvent(msg.Room, data)
}

// BroadcastRoster publishes the room's current roster to its subject so
// every member's view refreshes after a join or leave.
func (r *Router) BroadcastRoster(roomID string) error {
	names := room.Names(r.registry.Members(roomID))
	event := chat.RoomEvent{
		Type:    chat.EventRoster,
		Room:    roomID,
		Members: names,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("router: marshal roster event: %w", err)
	}
	return r.pub.PublishRoomEvent(roomID, data)
}

// RouteAIPrompt submits a prompt to the AI channel. The one-pending-exchange
// invariant is enforced by the tracker; a busy channel returns
// ai.ErrChannelBusy for the caller to surface.
func (r *Router) RouteAIPrompt(sessionID string, msg protocol.SendAIMessageMsg) error {
	if err := r.tracker.Submit(sessionID, msg.RequestID); err != nil {
		return err
	}

	req := ai.Request{
		SessionID: sessionID,
		RequestID: msg.RequestID,
		Prompt:    msg.Message,
	}
	data, err := json.Marshal(req)
	if err != nil {
		r.tracker.Drop(sessionID)
		return fmt.Errorf("router: marshal ai request: %w", err)
	}

	if err := r.pub.PublishAIRequest(data); err != nil {
		// Publish failed: the exchange never left this server, so free the
		// channel instead of waiting for the sweeper.
		r.tracker.Drop(sessionID)
		return err
	}
	metrics.MessagesTotal.WithLabelValues("ai").Inc()
	return nil
}

// ---------------------------------------------------------------------------
// Delivery (room subject -> member connections)
// ---------------------------------------------------------------------------

// Deliver fans a room event out to the room's current members. Message and
// roster events go to every member including the sender; typing events skip
// the author. Delivery failure to one member is logged and never blocks
// delivery to the rest. Members who left before delivery receive nothing:
// the roster is consulted at delivery time, not publish time.
func (r *Router) Deliver(data []byte) {
	var event chat.RoomEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("router: bad room event: %v", err)
		return
	}

	frame, err := serverFrame(event)
	if err != nil {
		log.Printf("router: build frame for %q event: %v", event.Type, err)
		return
	}

	if event.Type == chat.EventMessage && r.history != nil {
		r.history.Add(event.Room, chat.HistoryEntry{
			Author: event.Author,
			Body:   event.Body,
			Time:   event.Time,
			IsGif:  event.IsGif,
		})
	}

	skipAuthor := event.Type == chat.EventTyping || event.Type == chat.EventStopTyping

	for _, m := range r.registry.Members(event.Room) {
		if skipAuthor && m.SessionID == event.From {
			continue
		}
		if err := r.sender.SendMessage(m.SessionID, frame); err != nil {
			metrics.BroadcastFailures.Inc()
			log.Printf("router: deliver %s to session=%s room=%s failed: %v",
				event.Type, m.SessionID, event.Room, err)
		}
	}
}

// DeliverAIReply matches an AI reply to its pending exchange and sends it to
// the originating session only. Replies that do not match the outstanding
// request id (stale, already expired, or cross-session) are dropped so they
// can never clear an unrelated prompt's thinking indicator.
func (r *Router) DeliverAIReply(data []byte) {
	var reply ai.Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		log.Printf("router: bad ai reply: %v", err)
		return
	}

	if !r.tracker.Resolve(reply.SessionID, reply.RequestID) {
		log.Printf("router: unmatched ai reply session=%s request=%s (dropped)",
			reply.SessionID, reply.RequestID)
		metrics.AIRequestsTotal.WithLabelValues("unmatched").Inc()
		return
	}

	var (
		frame []byte
		err   error
	)
	if reply.Err != "" {
		metrics.AIRequestsTotal.WithLabelValues("failed").Inc()
		frame, err = protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeAIFailed,
			Message: reply.Err,
		})
	} else {
		metrics.AIRequestsTotal.WithLabelValues("ok").Inc()
		frame, err = protocol.NewServerMessage(protocol.TypeReceiveAIMessage, protocol.ReceiveAIMessageMsg{
			RequestID: reply.RequestID,
			Author:    "AI",
			Message:   reply.Completion,
			Time:      time.Now().Format("3:04 PM"),
		})
	}
	if err != nil {
		log.Printf("router: build ai reply frame session=%s: %v", reply.SessionID, err)
		return
	}

	if err := r.sender.SendMessage(reply.SessionID, frame); err != nil {
		log.Printf("router: deliver ai reply to session=%s failed: %v", reply.SessionID, err)
	}
}

// ExpireAIExchange sends an ai_timeout error to a session whose exchange was
// expired by the tracker sweeper.
func (r *Router) ExpireAIExchange(sessionID, requestID string) {
	metrics.AIRequestsTotal.WithLabelValues("timeout").Inc()
	frame, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    protocol.CodeAITimeout,
		Message: "the AI responder did not answer in time",
	})
	if err != nil {
		log.Printf("router: build ai timeout frame session=%s: %v", sessionID, err)
		return
	}
	if err := r.sender.SendMessage(sessionID, frame); err != nil {
		log.Printf("router: deliver ai timeout to session=%s failed: %v", sessionID, err)
	}
	log.Printf("router: ai exchange expired session=%s request=%s", sessionID, requestID)
}

// serverFrame converts a room event into the server->client frame delivered
// to member connections.
func serverFrame(event chat.RoomEvent) ([]byte, error) {
	switch event.Type {
	case chat.EventMessage:
		return protocol.NewServerMessage(protocol.TypeReceiveMessage, protocol.ReceiveMessageMsg{
			Room:    event.Room,
			Author:  event.Author,
			Message: event.Body,
			Time:    event.Time,
			IsGif:   event.IsGif,
		})
	case chat.EventTyping:
		return protocol.NewServerMessage(protocol.TypeTyping, protocol.TypingMsg{
			Room:   event.Room,
			Author: event.Author,
		})
	case chat.EventStopTyping:
		return protocol.NewServerMessage(protocol.TypeStopTyping, protocol.StopTypingMsg{
			Room: event.Room,
		})
	case chat.EventRoster:
		return protocol.NewServerMessage(protocol.TypeMembersList, protocol.MembersListMsg{
			Room:    event.Room,
			Members: event.Members,
		})
	default:
		return nil, fmt.Errorf("unknown room event type %q", event.Type)
	}
}
