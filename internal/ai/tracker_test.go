package ai

import (
	"sync"
	"testing"
	"time"
)

func TestSubmitAndResolve(t *testing.T) {
	tr := NewTracker(0, nil)
	defer tr.Stop()

	if err := tr.Submit("s1", "req1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tr.Pending("s1") {
		t.Fatal("expected pending exchange after submit")
	}
	if !tr.Resolve("s1", "req1") {
		t.Fatal("expected resolve to match")
	}
	if tr.Pending("s1") {
		t.Error("expected no pending exchange after resolve")
	}
}

func TestSecondSubmitRejected(t *testing.T) {
	tr := NewTracker(0, nil)
	defer tr.Stop()

	if err := tr.Submit("s1", "req1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Submit("s1", "req2"); err != ErrChannelBusy {
		t.Fatalf("expected ErrChannelBusy, got %v", err)
	}

	// The original exchange must be untouched.
	if !tr.Resolve("s1", "req1") {
		t.Error("original exchange should still resolve")
	}
}

func TestResolveWrongRequestID(t *testing.T) {
	tr := NewTracker(0, nil)
	defer tr.Stop()

	tr.Submit("s1", "req1")

	if tr.Resolve("s1", "stale-req") {
		t.Fatal("resolve with a stale request id must not match")
	}
	if !tr.Pending("s1") {
		t.Error("mismatched resolve must leave the exchange pending")
	}
}

func TestResolveUnknownSession(t *testing.T) {
	tr := NewTracker(0, nil)
	defer tr.Stop()

	if tr.Resolve("nobody", "req1") {
		t.Error("resolve for an unknown session must not match")
	}
}

func TestSessionsIndependent(t *testing.T) {
	tr := NewTracker(0, nil)
	defer tr.Stop()

	tr.Submit("s1", "req1")
	if err := tr.Submit("s2", "req2"); err != nil {
		t.Fatalf("a second session must not be blocked: %v", err)
	}

	if !tr.Resolve("s2", "req2") {
		t.Error("s2 exchange should resolve")
	}
	if !tr.Pending("s1") {
		t.Error("s1 exchange should remain pending")
	}
}

func TestDrop(t *testing.T) {
	tr := NewTracker(0, nil)
	defer tr.Stop()

	tr.Submit("s1", "req1")
	tr.Drop("s1")

	if tr.Pending("s1") {
		t.Error("expected no pending exchange after drop")
	}
	if tr.Resolve("s1", "req1") {
		t.Error("dropped exchange must not resolve")
	}
}

func TestSweeperExpiresStaleExchanges(t *testing.T) {
	var mu sync.Mutex
	expired := make(map[string]string)

	tr := NewTracker(30*time.Millisecond, func(sid, rid string) {
		mu.Lock()
		expired[sid] = rid
		mu.Unlock()
	})
	defer tr.Stop()

	tr.Submit("s1", "req1")
	tr.StartSweeper(10 * time.Millisecond)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		rid := expired["s1"]
		mu.Unlock()
		if rid == "req1" {
			if tr.Pending("s1") {
				t.Error("expired exchange must no longer be pending")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sweeper did not expire the stale exchange in time")
}

func TestSweeperSparesFreshExchanges(t *testing.T) {
	tr := NewTracker(1*time.Hour, func(sid, rid string) {
		t.Errorf("fresh exchange expired: %s/%s", sid, rid)
	})
	defer tr.Stop()

	tr.Submit("s1", "req1")
	tr.StartSweeper(10 * time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	if !tr.Pending("s1") {
		t.Error("fresh exchange must remain pending")
	}
}
