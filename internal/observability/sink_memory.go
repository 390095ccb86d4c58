package observability

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity is the default number of records a MemorySink keeps.
const DefaultMemoryCapacity = 1000

// MemorySink keeps the newest records in a fixed-size ring.
type MemorySink struct {
	mu    sync.RWMutex
	buf   []Record
	start int
	size  int
}

// NewMemorySink creates a ring holding up to capacity records.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemorySink{buf: make([]Record, capacity)}
}

// Name returns "memory".
func (m *MemorySink) Name() string { return "memory" }

// Emit stores a copy of rec, evicting the oldest record when full.
func (m *MemorySink) Emit(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := (m.start + m.size) % len(m.buf)
	m.buf[idx] = *rec
	if m.size < len(m.buf) {
		m.size++
	} else {
		m.start = (m.start + 1) % len(m.buf)
	}
	return nil
}

// Entries returns the stored records, oldest first.
func (m *MemorySink) Entries() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, m.size)
	for i := range m.size {
		out[i] = m.buf[(m.start+i)%len(m.buf)]
	}
	return out
}

// Recent returns up to n of the newest records, oldest first. A non-positive n returns all.
func (m *MemorySink) Recent(n int) []Record {
	all := m.Entries()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of stored records.
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Shutdown is a no-op.
func (m *MemorySink) Shutdown(context.Context) error { return nil }
