package trace

import "sync"

const defaultSize = 100

// RingBuffer keeps the most recent entries, overwriting the oldest when full.
// It is safe for concurrent use.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// NewRingBuffer creates a ring buffer that holds up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = defaultSize
	}
	return &RingBuffer{entries: make([]Entry, size)}
}

// Add appends an entry.
func (rb *RingBuffer) Add(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % len(rb.entries)
	if rb.count < len(rb.entries) {
		rb.count++
	}
}

// Last returns the last n entries in chronological order.
func (rb *RingBuffer) Last(n int) []Entry {
	return rb.Find(n, nil)
}

// Find returns up to n of the most recent entries accepted by keep, oldest
// first. A nil keep accepts everything.
func (rb *RingBuffer) Find(n int, keep func(Entry) bool) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	size := len(rb.entries)
	var found []Entry
	// Walk newest to oldest, then reverse.
	for i := 0; i < rb.count && len(found) < n; i++ {
		e := rb.entries[(rb.head-1-i+size)%size]
		if keep == nil || keep(e) {
			found = append(found, e)
		}
	}
	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}
	return found
}

// Count returns the number of entries currently stored.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
