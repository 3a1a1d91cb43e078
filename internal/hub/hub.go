// Package hub fans packets and capture events out to live subscribers.
package hub

import (
	"github.com/srun-soft/netwatch/internal/record"
	"sync"
	"sync/atomic"
)

// push channel event names
const (
	EventConnectionStatus = "connection_status"
	EventCaptureStatus    = "capture_status"
	EventNewPacket        = "new_packet"
)

// DefaultBuffer is how many events may queue per subscriber before new ones
// are dropped for it.
const DefaultBuffer = 256

// Event is one push message.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// ConnectionStatus is sent to a subscriber right after it joins.
type ConnectionStatus struct {
	Status    string `json:"status"`
	Capturing bool   `json:"capturing"`
}

// CaptureStatus is broadcast whenever capturing starts, stops, pauses or resumes.
type CaptureStatus struct {
	Capturing bool   `json:"capturing"`
	Status    string `json:"status,omitempty"`
	Interface string `json:"interface,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Subscriber is one live client.
type Subscriber struct {
	id      uint64
	events  chan Event
	dropped atomic.Uint64
}

func (s *Subscriber) ID() uint64 { return s.id }

// Events is closed when the subscriber leaves.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Dropped counts events discarded because the subscriber fell behind.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Hub tracks subscribers. OnFirst runs when the count goes 0->1, OnLast when
// it goes 1->0; both run outside the subscriber lock and never concurrently.
type Hub struct {
	buffer int
	nextID atomic.Uint64

	// transitions orders Join/Leave together with their hooks.
	transitions sync.Mutex
	onFirst     func()
	onLast      func()

	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[*Subscriber]struct{}),
	}
}

// SetHooks installs the subscriber count hooks.
func (h *Hub) SetHooks(onFirst, onLast func()) {
	h.transitions.Lock()
	defer h.transitions.Unlock()
	h.onFirst, h.onLast = onFirst, onLast
}

// Join adds a subscriber. greet is queued for it before the OnFirst hook runs,
// so it arrives ahead of anything the hook broadcasts.
func (h *Hub) Join(greet ...Event) *Subscriber {
	h.transitions.Lock()
	defer h.transitions.Unlock()

	s := &Subscriber{
		id:     h.nextID.Add(1),
		events: make(chan Event, h.buffer),
	}
	for _, e := range greet {
		deliver(s, e)
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	if n == 1 && h.onFirst != nil {
		h.onFirst()
	}
	return s
}

// Leave removes s and closes its event channel. Leaving twice is harmless.
func (h *Hub) Leave(s *Subscriber) {
	h.transitions.Lock()
	defer h.transitions.Unlock()

	h.mu.Lock()
	if _, ok := h.subs[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, s)
	close(s.events)
	n := len(h.subs)
	h.mu.Unlock()

	if n == 0 && h.onLast != nil {
		h.onLast()
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Push sends p to every subscriber as a new_packet event.
func (h *Hub) Push(p record.Packet) {
	h.Broadcast(Event{Name: EventNewPacket, Data: p})
}

// Handle lets a Hub be used as a record.Sink.
func (h *Hub) Handle(p record.Packet) {
	h.Push(p)
}

// Broadcast never blocks: a subscriber whose queue is full misses e.
func (h *Hub) Broadcast(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		deliver(s, e)
	}
}

// Send delivers e to s alone.
func (h *Hub) Send(s *Subscriber, e Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.subs[s]; !ok {
		return false
	}
	return deliver(s, e)
}

func deliver(s *Subscriber, e Event) bool {
	select {
	case s.events <- e:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}
