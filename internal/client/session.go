// Package client implements the user-facing half of the chat system: a
// persistent WebSocket session with a typed dispatch table, a per-room state
// machine, a typing debouncer, and an AI conversation channel. It connects
// using gobwas/ws, the same library the server uses.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/atlaschat/chat-app/internal/protocol"
)

// ErrNotConnected is returned by Send when no transport has been established
// yet. The call is rejected locally; nothing goes over the network.
var ErrNotConnected = errors.New("client: not connected")

// Lifecycle states reported to the OnLifecycle callback.
const (
	LifecycleConnected    = "connected"
	LifecycleDisconnected = "disconnected"
	LifecycleError        = "error"
)

// Handle is the session surface that higher layers (Room, AIChat) are handed
// explicitly. Passing it around rather than reaching for a package-level
// connection keeps every component's dependency visible.
type Handle interface {
	// Send serializes payload and writes it as a text frame. Before the first
	// connect it fails with ErrNotConnected; during a reconnect outage the
	// frame is queued and flushed once the transport is back.
	Send(event string, payload interface{}) error

	// Subscribe registers a handler for a server event type and returns its
	// unsubscribe function. Handlers run on the read loop goroutine in frame
	// arrival order.
	Subscribe(event string, fn func(json.RawMessage)) func()

	// DiscardQueuedJoins drops any queued join_room frames for the given
	// room. A room left locally during an outage must not be silently
	// rejoined when the transport comes back.
	DiscardQueuedJoins(room string)
}

// queuedFrame is an outbound frame buffered while the transport is down.
// Event and room are kept alongside the bytes so queued joins can be
// discarded by room.
type queuedFrame struct {
	event string
	room  string
	data  []byte
}

// Session owns one WebSocket connection and multiplexes it between the room
// and AI channels. All writes are serialized by the session mutex; all reads
// happen on a single loop goroutine, so handler invocation order is exactly
// frame arrival order.
type Session struct {
	url string

	mu           sync.Mutex
	conn         net.Conn
	sessionID    string
	connected    bool
	reconnecting bool
	sendQueue    []queuedFrame

	handlersMu sync.Mutex
	handlers   map[string]map[int]func(json.RawMessage)
	nextSubID  int

	onLifecycle func(state string, err error)

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the chat server at url and starts the read loop. The
// session_created handshake is handled internally; use WaitForSession to
// block until the server has assigned an id.
func Dial(ctx context.Context, url string) (*Session, error) {
	s := &Session{
		url:      url,
		handlers: make(map[string]map[int]func(json.RawMessage)),
		done:     make(chan struct{}),
	}

	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.emitLifecycle(LifecycleConnected, nil)
	go s.readLoop(conn)

	return s, nil
}

// OnLifecycle registers a callback for connected/disconnected/error signals.
// It must be set before the state changes the caller cares about can occur;
// typically right after Dial.
func (s *Session) OnLifecycle(fn func(state string, err error)) {
	s.mu.Lock()
	s.onLifecycle = fn
	s.mu.Unlock()
}

func (s *Session) emitLifecycle(state string, err error) {
	s.mu.Lock()
	fn := s.onLifecycle
	s.mu.Unlock()
	if fn != nil {
		fn(state, err)
	}
}

// Send implements Handle. Payload must marshal to a JSON object carrying its
// own "type" field (the protocol structs do).
func (s *Session) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("client: marshal %s: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		if s.reconnecting {
			// Queue for replay after the transport is re-established.
			s.sendQueue = append(s.sendQueue, queuedFrame{
				event: event,
				room:  roomOfPayload(payload),
				data:  data,
			})
			return nil
		}
		return ErrNotConnected
	}

	return wsutil.WriteClientMessage(s.conn, ws.OpText, data)
}

// roomOfPayload extracts the room field from the payloads that carry one.
func roomOfPayload(payload interface{}) string {
	switch m := payload.(type) {
	case protocol.JoinRoomMsg:
		return m.Room
	case protocol.LeaveRoomMsg:
		return m.Room
	case protocol.SendMessageMsg:
		return m.Room
	case protocol.TypingMsg:
		return m.Room
	case protocol.StopTypingMsg:
		return m.Room
	case protocol.GetMembersMsg:
		return m.Room
	}
	return ""
}

// Subscribe implements Handle.
func (s *Session) Subscribe(event string, fn func(json.RawMessage)) func() {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]func(json.RawMessage))
	}
	id := s.nextSubID
	s.nextSubID++
	s.handlers[event][id] = fn

	return func() {
		s.handlersMu.Lock()
		delete(s.handlers[event], id)
		s.handlersMu.Unlock()
	}
}

// DiscardQueuedJoins implements Handle.
func (s *Session) DiscardQueuedJoins(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.sendQueue[:0]
	for _, f := range s.sendQueue {
		if f.event == protocol.TypeJoinRoom && f.room == room {
			continue
		}
		kept = append(kept, f)
	}
	s.sendQueue = kept
}

// SessionID returns the id assigned by the server, or "" before the
// handshake completes.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// WaitForSession blocks until the server has assigned a session id or the
// context is cancelled.
func (s *Session) WaitForSession(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return errors.New("client: connection closed before session was created")
		case <-ticker.C:
			if s.SessionID() != "" {
				return nil
			}
		}
	}
}

// Close tears down the session. Safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.connected = false
		if s.conn != nil {
			err = s.conn.Close()
		}
		s.mu.Unlock()
	})
	return err
}

// readLoop reads frames until the connection drops or the session is closed.
// On an unexpected drop it reports the error and attempts to reconnect.
func (s *Session) readLoop(conn net.Conn) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.emitLifecycle(LifecycleError, err)
			s.handleDisconnect(conn)
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// The handshake is handled internally.
		if envelope.Type == protocol.TypeSessionCreated {
			var msg protocol.SessionCreatedMsg
			if err := json.Unmarshal(data, &msg); err == nil && msg.SessionID != "" {
				s.mu.Lock()
				s.sessionID = msg.SessionID
				s.mu.Unlock()
			}
		}

		s.dispatch(envelope.Type, data)
	}
}

// dispatch invokes every handler registered for the event type, in
// registration order per the map snapshot. Runs on the read loop goroutine.
func (s *Session) dispatch(event string, data []byte) {
	s.handlersMu.Lock()
	fns := make([]func(json.RawMessage), 0, len(s.handlers[event]))
	for _, fn := range s.handlers[event] {
		fns = append(fns, fn)
	}
	s.handlersMu.Unlock()

	for _, fn := range fns {
		fn(json.RawMessage(data))
	}
}

// handleDisconnect marks the session down and starts the reconnect loop.
// Subscriptions live in the session's dispatch table, so they survive the
// outage untouched; only the transport is replaced.
func (s *Session) handleDisconnect(old net.Conn) {
	_ = old.Close()

	s.mu.Lock()
	s.connected = false
	s.reconnecting = true
	s.mu.Unlock()

	s.emitLifecycle(LifecycleDisconnected, nil)

	go s.reconnectLoop()
}

// reconnectLoop dials with exponential backoff until the transport is back
// or the session is closed. After a successful dial the queued outbound
// frames are flushed in order; joins for rooms left during the outage were
// already discarded by DiscardQueuedJoins.
func (s *Session) reconnectLoop() {
	backoff := 250 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for {
		select {
		case <-s.done:
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, _, _, err := ws.Dial(ctx, s.url)
		cancel()
		if err != nil {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.connected = true
		s.reconnecting = false
		s.sessionID = "" // the server assigns a fresh session on reconnect
		queue := s.sendQueue
		s.sendQueue = nil
		s.mu.Unlock()

		s.emitLifecycle(LifecycleConnected, nil)
		go s.readLoop(conn)

		for _, f := range queue {
			s.mu.Lock()
			c := s.conn
			ok := s.connected
			s.mu.Unlock()
			if !ok {
				return
			}
			if err := wsutil.WriteClientMessage(c, ws.OpText, f.data); err != nil {
				s.emitLifecycle(LifecycleError, err)
				return
			}
		}
		return
	}
}
