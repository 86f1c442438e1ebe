package client

import (
	"sync"
	"time"
)

// DefaultTypingWindow is the quiescence window after the last keystroke
// before the typing announcement auto-expires.
const DefaultTypingWindow = 2 * time.Second

// Debouncer converts raw keystroke events into at most one typing and one
// stop-typing emission per quiescence cycle, no matter how fast the user
// types. The first keystroke announces typing; every keystroke re-arms the
// expiry timer; the timer lapsing (or a message being sent) retracts the
// announcement.
type Debouncer struct {
	mu        sync.Mutex
	window    time.Duration
	announced bool
	timer     *time.Timer
	onTyping  func()
	onStop    func()
}

// NewDebouncer creates a Debouncer with the given quiescence window and
// emission callbacks. Callbacks are invoked without the debouncer lock held,
// either from the caller's goroutine or from the timer goroutine.
func NewDebouncer(window time.Duration, onTyping, onStop func()) *Debouncer {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &Debouncer{
		window:   window,
		onTyping: onTyping,
		onStop:   onStop,
	}
}

// Keystroke records one keystroke. Emits typing on the first keystroke of a
// cycle and re-arms the expiry timer on every call.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	emit := !d.announced
	d.announced = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.expire)
	d.mu.Unlock()

	if emit {
		d.onTyping()
	}
}

// expire fires when the quiescence window lapses with no further keystrokes.
func (d *Debouncer) expire() {
	d.mu.Lock()
	emit := d.announced
	d.announced = false
	d.timer = nil
	d.mu.Unlock()

	if emit {
		d.onStop()
	}
}

// MessageSent retracts the typing announcement immediately and cancels any
// pending expiry. Call it right before sending a chat message.
func (d *Debouncer) MessageSent() {
	d.mu.Lock()
	emit := d.announced
	d.announced = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if emit {
		d.onStop()
	}
}

// Cancel drops any pending timer and announcement without emitting anything.
// Used on teardown, when a stop_typing for a room being left is pointless.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.announced = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
}
