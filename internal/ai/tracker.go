package ai

import (
	"errors"
	"sync"
	"time"
)

// ErrChannelBusy is returned when a session submits a prompt while another
// one is still outstanding. The authoritative channel processes one exchange
// at a time; queueing is the client's job.
var ErrChannelBusy = errors.New("ai: a prompt is already pending for this session")

// DefaultExchangeTimeout bounds how long an exchange may stay pending before
// the sweeper expires it. Without it a silent backend would leave the
// client's thinking indicator stuck forever.
const DefaultExchangeTimeout = 30 * time.Second

// pending is one outstanding exchange.
type pending struct {
	requestID   string
	submittedAt time.Time
}

// Tracker enforces the one-pending-exchange-per-session invariant and
// matches replies to prompts by request id. It is goroutine-safe.
type Tracker struct {
	mu      sync.Mutex
	bySID   map[string]pending
	timeout time.Duration

	onExpire func(sessionID, requestID string)
	done     chan struct{}
	stopOnce sync.Once
}

// NewTracker creates a Tracker with the given exchange timeout. A zero
// timeout falls back to DefaultExchangeTimeout. onExpire is invoked from the
// sweeper goroutine for every exchange that times out; it may be nil.
func NewTracker(timeout time.Duration, onExpire func(sessionID, requestID string)) *Tracker {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	return &Tracker{
		bySID:    make(map[string]pending),
		timeout:  timeout,
		onExpire: onExpire,
		done:     make(chan struct{}),
	}
}

// Submit records a new pending exchange for the session. It returns
// ErrChannelBusy if one is already outstanding.
func (t *Tracker) Submit(sessionID, requestID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.bySID[sessionID]; busy {
		return ErrChannelBusy
	}
	t.bySID[sessionID] = pending{requestID: requestID, submittedAt: time.Now()}
	return nil
}

// Resolve clears the pending exchange if requestID matches the outstanding
// one. It returns true on a match. A reply for an unknown or stale request
// id returns false and leaves any current exchange pending, so late replies
// can never clear an unrelated prompt's indicator.
func (t *Tracker) Resolve(sessionID, requestID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.bySID[sessionID]
	if !ok || p.requestID != requestID {
		return false
	}
	delete(t.bySID, sessionID)
	return true
}

// Drop removes any pending exchange for the session without resolving it
// (used on disconnect).
func (t *Tracker) Drop(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.bySID, sessionID)
}

// Pending reports whether the session has an outstanding exchange.
func (t *Tracker) Pending(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.bySID[sessionID]
	return ok
}

// StartSweeper begins a background goroutine that expires exchanges older
// than the timeout and reports them through onExpire. The goroutine exits
// when Stop is called.
func (t *Tracker) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

// Stop terminates the sweeper goroutine. Safe to call multiple times.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// sweep expires every exchange older than the timeout.
func (t *Tracker) sweep() {
	now := time.Now()

	t.mu.Lock()
	var expired []struct{ sid, rid string }
	for sid, p := range t.bySID {
		if now.Sub(p.submittedAt) > t.timeout {
			expired = append(expired, struct{ sid, rid string }{sid, p.requestID})
			delete(t.bySID, sid)
		}
	}
	t.mu.Unlock()

	if t.onExpire == nil {
		return
	}
	for _, e := range expired {
		t.onExpire(e.sid, e.rid)
	}
}
