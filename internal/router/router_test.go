package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/atlaschat/chat-app/internal/ai"
	"github.com/atlaschat/chat-app/internal/chat"
	"github.com/atlaschat/chat-app/internal/protocol"
	"github.com/atlaschat/chat-app/internal/room"
)

// fakePublisher captures published events. Delivering a captured room event
// back through Router.Deliver simulates the NATS round trip.
type fakePublisher struct {
	mu         sync.Mutex
	roomEvents map[string][][]byte // room id -> payloads in publish order
	aiRequests [][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{roomEvents: make(map[string][][]byte)}
}

func (p *fakePublisher) PublishRoomEvent(roomID string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roomEvents[roomID] = append(p.roomEvents[roomID], data)
	return nil
}

func (p *fakePublisher) PublishAIRequest(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aiRequests = append(p.aiRequests, data)
	return nil
}

// fakeSender records frames per session and can simulate per-session failure.
type fakeSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
	broken map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		frames: make(map[string][][]byte),
		broken: make(map[string]bool),
	}
}

func (s *fakeSender) SendMessage(sessionID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken[sessionID] {
		return errors.New("stale session")
	}
	s.frames[sessionID] = append(s.frames[sessionID], data)
	return nil
}

func (s *fakeSender) received(sessionID string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[sessionID]
}

func newTestRouter() (*Router, *room.Registry, *fakePublisher, *fakeSender, *ai.Tracker) {
	registry := room.NewRegistry()
	pub := newFakePublisher()
	sender := newFakeSender()
	tracker := ai.NewTracker(0, nil)
	r := New(registry, pub, sender, tracker, chat.NewHistory())
	return r, registry, pub, sender, tracker
}

func decodeFrame(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	return m
}

// ---------------------------------------------------------------------------
// Message fan-out
// ---------------------------------------------------------------------------

func TestMessageDeliveredToAllMembersIncludingSender(t *testing.T) {
	r, registry, pub, sender, _ := newTestRouter()

	registry.Join("standup", room.Member{SessionID: "sA", Name: "A"})
	registry.Join("standup", room.Member{SessionID: "sB", Name: "B"})

	err := r.RouteMessage("sA", protocol.SendMessageMsg{
		Room: "standup", Author: "A", Message: "hello", Time: "1:00 PM",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate the NATS round trip.
	for _, payload := range pub.roomEvents["standup"] {
		r.Deliver(payload)
	}

	for _, sid := range []string{"sA", "sB"} {
		frames := sender.received(sid)
		if len(frames) != 1 {
			t.Fatalf("session %s: expected exactly 1 frame, got %d", sid, len(frames))
		}
		frame := decodeFrame(t, frames[0])
		if frame["type"] != protocol.TypeReceiveMessage {
			t.Errorf("session %s: expected receive_message, got %v", sid, frame["type"])
		}
		if frame["author"] != "A" || frame["message"] != "hello" {
			t.Errorf("session %s: unexpected frame %v", sid, frame)
		}
	}
}

func TestMessageOrderPreserved(t *testing.T) {
	r, registry, pub, sender, _ := newTestRouter()

	registry.Join("r1", room.Member{SessionID: "sA", Name: "A"})

	for i := 0; i < 5; i++ {
		r.RouteMessage("sA", protocol.SendMessageMsg{
			Room: "r1", Author: "A", Message: fmt.Sprintf("m%d", i),
		})
	}
	for _, payload := range pub.roomEvents["r1"] {
		r.Deliver(payload)
	}

	frames := sender.received("sA")
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(frames))
	}
	for i, f := range frames {
		frame := decodeFrame(t, f)
		want := fmt.Sprintf("m%d", i)
		if frame["message"] != want {
			t.Errorf("frame %d: expected %q, got %v", i, want, frame["message"])
		}
	}
}

func TestMessageFromNonMemberRejected(t *testing.T) {
	r, registry, pub, _, _ := newTestRouter()

	registry.Join("r1", room.Member{SessionID: "sA", Name: "A"})

	err := r.RouteMessage("sB", protocol.SendMessageMsg{Room: "r1", Author: "B", Message: "hi"})
	if err != ErrRoomNotJoined {
		t.Fatalf("expected ErrRoomNotJoined, got %v", err)
	}
	if len(pub.roomEvents["r1"]) != 0 {
		t.Error("rejected message must not be published")
	}
}

func TestMemberWhoLeftReceivesNothing(t *testing.T) {
	r, registry, pub, sender, _ := newTestRouter()

	registry.Join("r1", room.Member{SessionID: "sA", Name: "A"})
	registry.Join("r1", room.Member{SessionID: "sB", Name: "B"})

	r.RouteMessage("sA", protocol.SendMessageMsg{Room: "r1", Author: "A", Message: "bye"})

	// sB leaves after the message was published but before delivery: the
	// roster is consulted at delivery time, so sB gets nothing.
	registry.Leave("r1", "sB")

	for _, payload := range pub.roomEvents["r1"] {
		r.Deliver(payload)
	}

	if len(sender.received("sA")) != 1 {
		t.Error("remaining member must still receive the message")
	}
	if len(sender.received("sB")) != 0 {
		t.Error("a member who left before delivery must receive nothing")
	}
}

func TestPartialFanOutFailure(t *testing.T) {
	r, registry, pub, sender, _ := newTestRouter()

	registry.Join("r1", room.Member{SessionID: "sA", Name: "A"})
	registry.Join("r1", room.Member{SessionID: "sB", Name: "B"})
	registry.Join("r1", room.Member{SessionID: "sC", Name: "C"})
	sender.broken["sB"] = true

	r.RouteMessage("sA", protocol.SendMessageMsg{Room: "r1", Author: "A", Message: "hi"})
	for _, payload := range pub.roomEvents["r1"] {
		r.Deliver(payload)
	}

	if len(sender.received("sA")) != 1 || len(sender.received("sC")) != 1 {
		t.Error("failure to deliver to one member must not block the rest")
	}
}

// ---------------------------------------------------------------------------
// Typing events
// ---------------------------------------------------------------------------

func TestTypingNotEchoedToAuthor(t *testing.T) {
	r, registry, pub, sender, _ := newTestRouter()

	registry.Join("r1", room.Member{SessionID: "sA", Name: "A"})
	registry.Join("r1", room.Member{SessionID: "sB", Name: "B"})

	if err := r.RouteTyping("sA", protocol.TypingMsg{Room: "r1", Author: "A"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.RouteStopTyping("sA", protocol.StopTypingMsg{Room: "r1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, payload := range pub.roomEvents["r1"] {
		r.Deliver(payload)
	}

	if len(sender.received("sA")) != 0 {
		t.Error("typing events must never be echoed back to the author")
	}

	frames := sender.received("sB")
	if len(frames) != 2 {
		t.Fatalf("expected typing + stop_typing for sB, got %d frames", len(frames))
	}
	if f := decodeFrame(t, frames[0]); f["type"] != protocol.TypeTyping || f["author"] != "A" {
		t.Errorf("unexpected typing frame: %v", f)
	}
	if f := decodeFrame(t, frames[1]); f["type"] != protocol.TypeStopTyping {
		t.Errorf("unexpected stop_typing frame: %v", f)
	}
}

func TestTypingFromNonMemberRejected(t *testing.T) {
	r, _, pub, _, _ := newTestRouter()

	if err := r.RouteTyping("ghost", protocol.TypingMsg{Room: "r1", Author: "G"}); err != ErrRoomNotJoined {
		t.Fatalf("expected ErrRoomNotJoined, got %v", err)
	}
	if len(pub.roomEvents["r1"]) != 0 {
		t.Error("typing from a non-member must not be published")
	}
}

// ---------------------------------------------------------------------------
// Roster broadcasts
// ---------------------------------------------------------------------------

func TestBroadcastRoster(t *testing.T) {
	r, registry, pub, sender, _ := newTestRouter()

	registry.Join("r1", room.Member{SessionID: "sA", Name: "alice"})
	registry.Join("r1", room.Member{SessionID: "sB", Name: "bob"})

	if err := r.BroadcastRoster("r1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, payload := range pub.roomEvents["r1"] {
		r.Deliver(payload)
	}

	for _, sid := range []string{"sA", "sB"} {
		frames := sender.received(sid)
		if len(frames) != 1 {
			t.Fatalf("session %s: expected 1 roster frame, got %d", sid, len(frames))
		}
		frame := decodeFrame(t, frames[0])
		if frame["type"] != protocol.TypeMembersList {
			t.Errorf("expected members_list, got %v", frame["type"])
		}
		members := frame["members"].([]interface{})
		if len(members) != 2 || members[0] != "alice" || members[1] != "bob" {
			t.Errorf("unexpected members: %v", members)
		}
	}
}

// ---------------------------------------------------------------------------
// AI channel
// ---------------------------------------------------------------------------

func TestAIPromptPublishedAndTracked(t *testing.T) {
	r, _, pub, _, tracker := newTestRouter()

	err := r.RouteAIPrompt("sA", protocol.SendAIMessageMsg{RequestID: "req1", Message: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.aiRequests) != 1 {
		t.Fatalf("expected 1 published ai request, got %d", len(pub.aiRequests))
	}
	if !tracker.Pending("sA") {
		t.Error("exchange should be pending after submit")
	}

	var req ai.Request
	if err := json.Unmarshal(pub.aiRequests[0], &req); err != nil {
		t.Fatalf("bad request payload: %v", err)
	}
	if req.SessionID != "sA" || req.RequestID != "req1" || req.Prompt != "hi" {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestSecondAIPromptWhilePendingRejected(t *testing.T) {
	r, _, pub, _, _ := newTestRouter()

	r.RouteAIPrompt("sA", protocol.SendAIMessageMsg{RequestID: "req1", Message: "first"})
	err := r.RouteAIPrompt("sA", protocol.SendAIMessageMsg{RequestID: "req2", Message: "second"})
	if !errors.Is(err, ai.ErrChannelBusy) {
		t.Fatalf("expected ErrChannelBusy, got %v", err)
	}
	if len(pub.aiRequests) != 1 {
		t.Error("rejected prompt must not be published")
	}
}

func TestAIReplyMatchedByRequestID(t *testing.T) {
	r, _, _, sender, _ := newTestRouter()

	r.RouteAIPrompt("sA", protocol.SendAIMessageMsg{RequestID: "req1", Message: "hi"})

	reply, _ := json.Marshal(ai.Reply{SessionID: "sA", RequestID: "req1", Completion: "hello!"})
	r.DeliverAIReply(reply)

	frames := sender.received("sA")
	if len(frames) != 1 {
		t.Fatalf("expected 1 reply frame, got %d", len(frames))
	}
	frame := decodeFrame(t, frames[0])
	if frame["type"] != protocol.TypeReceiveAIMessage {
		t.Errorf("expected receive_ai_message, got %v", frame["type"])
	}
	if frame["author"] != "AI" || frame["message"] != "hello!" || frame["request_id"] != "req1" {
		t.Errorf("unexpected reply frame: %v", frame)
	}
}

func TestStaleAIReplyDropped(t *testing.T) {
	r, _, _, sender, _ := newTestRouter()

	r.RouteAIPrompt("sA", protocol.SendAIMessageMsg{RequestID: "req2", Message: "current"})

	// A reply for an older request must not be delivered and must not
	// resolve the current exchange.
	stale, _ := json.Marshal(ai.Reply{SessionID: "sA", RequestID: "req1", Completion: "late"})
	r.DeliverAIReply(stale)

	if len(sender.received("sA")) != 0 {
		t.Error("stale reply must not be delivered")
	}

	// The matching reply still goes through.
	current, _ := json.Marshal(ai.Reply{SessionID: "sA", RequestID: "req2", Completion: "on time"})
	r.DeliverAIReply(current)
	if len(sender.received("sA")) != 1 {
		t.Error("matching reply must be delivered")
	}
}

func TestAIBackendErrorSurfacedInline(t *testing.T) {
	r, _, _, sender, _ := newTestRouter()

	r.RouteAIPrompt("sA", protocol.SendAIMessageMsg{RequestID: "req1", Message: "hi"})

	reply, _ := json.Marshal(ai.Reply{SessionID: "sA", RequestID: "req1", Err: "backend unavailable"})
	r.DeliverAIReply(reply)

	frames := sender.received("sA")
	if len(frames) != 1 {
		t.Fatalf("expected 1 error frame, got %d", len(frames))
	}
	frame := decodeFrame(t, frames[0])
	if frame["type"] != protocol.TypeError || frame["code"] != protocol.CodeAIFailed {
		t.Errorf("unexpected error frame: %v", frame)
	}
}

func TestAIRepliesGoOnlyToOriginatingSession(t *testing.T) {
	r, registry, _, sender, _ := newTestRouter()

	// Room membership must be irrelevant to AI delivery.
	registry.Join("r1", room.Member{SessionID: "sA", Name: "A"})
	registry.Join("r1", room.Member{SessionID: "sB", Name: "B"})

	r.RouteAIPrompt("sA", protocol.SendAIMessageMsg{RequestID: "req1", Message: "hi"})
	reply, _ := json.Marshal(ai.Reply{SessionID: "sA", RequestID: "req1", Completion: "yo"})
	r.DeliverAIReply(reply)

	if len(sender.received("sA")) != 1 {
		t.Error("originating session must receive the reply")
	}
	if len(sender.received("sB")) != 0 {
		t.Error("AI replies must never fan out to room members")
	}
}
