// Package history keeps the most recent packets in a fixed-capacity ring.
package history

import (
	"github.com/srun-soft/netwatch/internal/record"
	"sync"
)

// DefaultCapacity is MAX_STORE.
const DefaultCapacity = 2000

// Buffer is a FIFO ring of packets. Once full, every Append evicts the oldest
// entry. Safe for concurrent use.
type Buffer struct {
	mu      sync.RWMutex
	entries []record.Packet
	head    int // index of the oldest entry once the ring is full
	size    int
}

// New returns a buffer holding at most capacity packets.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]record.Packet, capacity)}
}

func (b *Buffer) Append(p record.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := len(b.entries)
	if b.size < c {
		b.entries[(b.head+b.size)%c] = p
		b.size++
		return
	}
	b.entries[b.head] = p
	b.head = (b.head + 1) % c
}

// Handle lets a Buffer be used as a record.Sink.
func (b *Buffer) Handle(p record.Packet) {
	b.Append(p)
}

// Snapshot copies the contents, oldest first.
func (b *Buffer) Snapshot() []record.Packet {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]record.Packet, b.size)
	c := len(b.entries)
	for i := 0; i < b.size; i++ {
		out[i] = b.entries[(b.head+i)%c]
	}
	return out
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		b.entries[i] = record.Packet{}
	}
	b.head, b.size = 0, 0
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Cap() int {
	return len(b.entries)
}
