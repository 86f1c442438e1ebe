package client

import (
	"sync/atomic"
	"testing"
	"time"
)

const testWindow = 40 * time.Millisecond

func newCountingDebouncer(window time.Duration) (*Debouncer, *int32, *int32) {
	var typing, stop int32
	d := NewDebouncer(window,
		func() { atomic.AddInt32(&typing, 1) },
		func() { atomic.AddInt32(&stop, 1) },
	)
	return d, &typing, &stop
}

func TestBurstEmitsOneTypingThenOneStop(t *testing.T) {
	d, typing, stop := newCountingDebouncer(testWindow)

	for i := 0; i < 20; i++ {
		d.Keystroke()
	}
	if got := atomic.LoadInt32(typing); got != 1 {
		t.Fatalf("expected exactly 1 typing for a burst, got %d", got)
	}
	if got := atomic.LoadInt32(stop); got != 0 {
		t.Fatalf("expected no stop_typing yet, got %d", got)
	}

	time.Sleep(testWindow + 30*time.Millisecond)
	if got := atomic.LoadInt32(stop); got != 1 {
		t.Fatalf("expected exactly 1 stop_typing after quiescence, got %d", got)
	}
	if got := atomic.LoadInt32(typing); got != 1 {
		t.Fatalf("typing count changed unexpectedly: %d", got)
	}
}

func TestKeystrokeRearmsQuiescenceWindow(t *testing.T) {
	d, _, stop := newCountingDebouncer(testWindow)

	d.Keystroke()
	time.Sleep(testWindow / 2)
	d.Keystroke()
	time.Sleep(testWindow / 2)

	// A full window has passed since the first keystroke but not since the
	// second; the indicator must still be up.
	if got := atomic.LoadInt32(stop); got != 0 {
		t.Fatalf("stop_typing fired before the window lapsed from the last keystroke")
	}

	time.Sleep(testWindow)
	if got := atomic.LoadInt32(stop); got != 1 {
		t.Fatalf("expected 1 stop_typing, got %d", got)
	}
}

func TestMessageSentStopsImmediately(t *testing.T) {
	d, typing, stop := newCountingDebouncer(testWindow)

	d.Keystroke()
	d.MessageSent()

	if got := atomic.LoadInt32(stop); got != 1 {
		t.Fatalf("expected immediate stop_typing on send, got %d", got)
	}

	// The cancelled timer must not fire a second stop later.
	time.Sleep(testWindow + 30*time.Millisecond)
	if got := atomic.LoadInt32(stop); got != 1 {
		t.Fatalf("expected no duplicate stop_typing, got %d", got)
	}

	// A new cycle announces again.
	d.Keystroke()
	if got := atomic.LoadInt32(typing); got != 2 {
		t.Fatalf("expected typing re-announced after send, got %d", got)
	}
}

func TestMessageSentWithoutTypingIsSilent(t *testing.T) {
	d, _, stop := newCountingDebouncer(testWindow)

	d.MessageSent()
	if got := atomic.LoadInt32(stop); got != 0 {
		t.Fatalf("expected no stop_typing when nothing was announced, got %d", got)
	}
}

func TestCancelSuppressesStop(t *testing.T) {
	d, _, stop := newCountingDebouncer(testWindow)

	d.Keystroke()
	d.Cancel()

	time.Sleep(testWindow + 30*time.Millisecond)
	if got := atomic.LoadInt32(stop); got != 0 {
		t.Fatalf("expected no stop_typing after cancel, got %d", got)
	}
}
