package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlaschat/chat-app/internal/protocol"
)

// DefaultAIReplyTimeout is how long the client waits for an AI reply before
// marking the exchange failed locally. It sits above the server's own
// exchange timeout so the server's ai_timeout error normally arrives first.
const DefaultAIReplyTimeout = 35 * time.Second

// Exchange is one prompt/reply pair in the AI transcript. Reply is nil while
// the exchange is pending; Err is set when the exchange failed (backend
// error, server timeout, or client-side timeout).
type Exchange struct {
	RequestID string
	Prompt    Message
	Reply     *Message
	Err       string
}

// Pending reports whether the exchange is still waiting for a reply.
func (e *Exchange) Pending() bool {
	return e.Reply == nil && e.Err == ""
}

// AIChat is the room-less conversation channel with the AI responder. The
// channel holds at most one in-flight prompt; further prompts queue locally
// in FIFO order and are dispatched one at a time, so replies can never
// cross-match. Replies are matched by request id, not by arrival order.
type AIChat struct {
	sess     Handle
	username string

	mu       sync.Mutex
	log      []*Exchange
	inflight *Exchange
	queue    []*Exchange
	timer    *time.Timer
	timeout  time.Duration
	unsubs   []func()

	// OnUpdate, when set, is called after every transcript change.
	OnUpdate func()
}

// NewAIChat creates an AI channel on the session and subscribes to its reply
// and error events.
func NewAIChat(sess Handle, username string) *AIChat {
	a := &AIChat{
		sess:     sess,
		username: username,
		timeout:  DefaultAIReplyTimeout,
	}
	a.unsubs = []func(){
		sess.Subscribe(protocol.TypeReceiveAIMessage, a.onReply),
		sess.Subscribe(protocol.TypeError, a.onError),
	}
	return a
}

// SetReplyTimeout overrides the client-side reply timeout.
func (a *AIChat) SetReplyTimeout(d time.Duration) {
	a.mu.Lock()
	a.timeout = d
	a.mu.Unlock()
}

// Submit sends a prompt to the AI responder. If an exchange is already in
// flight the prompt is queued and dispatched after the current one resolves;
// neither prompt is ever dropped.
func (a *AIChat) Submit(prompt string) error {
	ex := &Exchange{
		RequestID: uuid.New().String(),
		Prompt: Message{
			Author: a.username,
			Body:   prompt,
			Time:   time.Now().Format("3:04 PM"),
		},
	}

	a.mu.Lock()
	a.log = append(a.log, ex)
	if a.inflight != nil {
		a.queue = append(a.queue, ex)
		a.mu.Unlock()
		a.notify()
		return nil
	}
	a.inflight = ex
	a.armTimerLocked(ex)
	a.mu.Unlock()

	a.notify()
	return a.send(ex)
}

func (a *AIChat) send(ex *Exchange) error {
	err := a.sess.Send(protocol.TypeSendAIMessage, protocol.SendAIMessageMsg{
		Type:      protocol.TypeSendAIMessage,
		RequestID: ex.RequestID,
		Message:   ex.Prompt.Body,
	})
	if err != nil {
		a.fail(ex.RequestID, err.Error())
	}
	return err
}

// armTimerLocked starts the reply timeout for ex. Caller holds the lock.
func (a *AIChat) armTimerLocked(ex *Exchange) {
	if a.timer != nil {
		a.timer.Stop()
	}
	id := ex.RequestID
	a.timer = time.AfterFunc(a.timeout, func() {
		a.fail(id, "the assistant did not respond in time")
	})
}

// Thinking reports whether a prompt is awaiting its reply.
func (a *AIChat) Thinking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inflight != nil
}

// Log returns the transcript in submission order. Entries are shared with
// the channel and must be treated as read-only.
func (a *AIChat) Log() []*Exchange {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Exchange, len(a.log))
	copy(out, a.log)
	return out
}

// Close unsubscribes from session events and stops the reply timer.
func (a *AIChat) Close() {
	a.mu.Lock()
	unsubs := a.unsubs
	a.unsubs = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// onReply resolves the in-flight exchange when the reply's request id
// matches. A reply for any other id is ignored; the thinking indicator
// clears only on the matching reply.
func (a *AIChat) onReply(raw json.RawMessage) {
	var msg protocol.ReceiveAIMessageMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	a.mu.Lock()
	if a.inflight == nil || a.inflight.RequestID != msg.RequestID {
		a.mu.Unlock()
		return
	}
	a.inflight.Reply = &Message{
		Author: msg.Author,
		Body:   msg.Message,
		Time:   msg.Time,
	}
	a.resolveLocked()
}

// onError fails the in-flight exchange on AI channel errors. The error frame
// carries no request id, but with one exchange in flight at a time the
// attribution is unambiguous.
func (a *AIChat) onError(raw json.RawMessage) {
	var msg protocol.ErrorMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	switch msg.Code {
	case protocol.CodeAIBusy, protocol.CodeAITimeout, protocol.CodeAIFailed:
	default:
		return
	}

	a.mu.Lock()
	if a.inflight == nil {
		a.mu.Unlock()
		return
	}
	a.inflight.Err = msg.Message
	if a.inflight.Err == "" {
		a.inflight.Err = msg.Code
	}
	a.resolveLocked()
}

// fail marks the exchange with the given id failed, if it is still the
// in-flight one.
func (a *AIChat) fail(requestID, reason string) {
	a.mu.Lock()
	if a.inflight == nil || a.inflight.RequestID != requestID {
		a.mu.Unlock()
		return
	}
	a.inflight.Err = reason
	a.resolveLocked()
}

// resolveLocked finishes the in-flight exchange and dispatches the next
// queued prompt, if any. The lock is held on entry and released here.
func (a *AIChat) resolveLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.inflight = nil

	var next *Exchange
	if len(a.queue) > 0 {
		next = a.queue[0]
		a.queue = a.queue[1:]
		a.inflight = next
		a.armTimerLocked(next)
	}
	a.mu.Unlock()

	a.notify()
	if next != nil {
		_ = a.send(next)
	}
}

func (a *AIChat) notify() {
	if a.OnUpdate != nil {
		a.OnUpdate()
	}
}
