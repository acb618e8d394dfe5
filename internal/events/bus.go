package events

import (
	"sync"

	"secure-dialer/internal/models"
)

const (
	CallUpdated = "call.updated"
	CallCleared = "call.cleared"
)

// CallEvent is published whenever the tracker inserts, replaces or removes a record.
type CallEvent struct {
	Type   string            `json:"type"`
	Status models.CallStatus `json:"status"`
}

// Bus provides simple in-process pub/sub for call status fan-out.
// Slow subscribers drop events instead of blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan CallEvent]struct{}
}

func NewBus() *Bus { return &Bus{subs: make(map[chan CallEvent]struct{})} }

// Subscribe returns the event channel and a cancel func that closes it.
func (b *Bus) Subscribe() (<-chan CallEvent, func()) {
	ch := make(chan CallEvent, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(ev CallEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
