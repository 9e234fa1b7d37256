package events

import (
	"sync"

	"agentsim/internal/session"
)

// Bus fans out appended history entries to subscribers. Publishing never
// blocks: a subscriber that falls behind has its channel dropped.
type Bus struct {
	mu   sync.Mutex
	subs map[chan session.Entry]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: map[chan session.Entry]struct{}{}}
}

// Subscribe returns a buffered channel of history entries and a cancel
// function that closes it.
func (b *Bus) Subscribe() (<-chan session.Entry, func()) {
	ch := make(chan session.Entry, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an entry to every live subscriber.
func (b *Bus) Publish(e session.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			delete(b.subs, ch)
			close(ch)
		}
	}
}
