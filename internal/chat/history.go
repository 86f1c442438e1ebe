package chat

import "sync"

// MaxHistoryMessages is the number of recent messages retained per room.
const MaxHistoryMessages = 20

// HistoryEntry represents a single message stored in the ring buffer.
type HistoryEntry struct {
	Author string `json:"author"`
	Body   string `json:"body"`
	Time   string `json:"time"`
	IsGif  bool   `json:"is_gif,omitempty"`
}

// History stores the last N messages per room in memory for the lifetime of
// the process. It is replayed to members joining mid-conversation; nothing
// survives a restart. It is goroutine-safe and uses a ring buffer internally.
type History struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // room id -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of HistoryEntry.
type ringBuffer struct {
	items []HistoryEntry
	pos   int
	count int
}

// NewHistory creates a new empty History.
func NewHistory() *History {
	return &History{
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a message to the room's ring buffer. If the buffer is full,
// the oldest message is overwritten.
func (h *History) Add(roomID string, entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rb, ok := h.buffers[roomID]
	if !ok {
		rb = &ringBuffer{
			items: make([]HistoryEntry, MaxHistoryMessages),
		}
		h.buffers[roomID] = rb
	}

	rb.items[rb.pos] = entry
	rb.pos = (rb.pos + 1) % MaxHistoryMessages
	if rb.count < MaxHistoryMessages {
		rb.count++
	}
}

// Recent returns the last N messages for a room in chronological order
// (oldest first). Returns an empty slice if the room has no buffer.
func (h *History) Recent(roomID string) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rb, ok := h.buffers[roomID]
	if !ok {
		return []HistoryEntry{}
	}

	result := make([]HistoryEntry, rb.count)
	// The oldest message is at position (pos - count) mod MaxHistoryMessages.
	start := (rb.pos - rb.count + MaxHistoryMessages) % MaxHistoryMessages
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%MaxHistoryMessages]
	}
	return result
}

// Remove deletes the buffer for a room (called when the room is discarded).
func (h *History) Remove(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.buffers, roomID)
}
