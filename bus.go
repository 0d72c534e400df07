package jogarm

import (
	"sync"
)

// Publisher is the outbound side of the transport.
type Publisher interface {
	Publish(topic string, msg any)
}

// Bus is an in-process topic transport. Every subscription is a mailbox of
// depth one: a new message replaces an unread older one, so slow readers only
// ever see the latest value.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan any
	nextID int
	closed bool
}

// NewBus returns an open bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan any)}
}

// Publish delivers msg to every subscriber of topic without blocking.
func (b *Bus) Publish(topic string, msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		deliverLatest(ch, msg)
	}
}

func deliverLatest(ch chan any, msg any) {
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		// Mailbox full; drop the stale message and retry.
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a receive channel for topic and a function that removes
// the subscription. The channel is closed by cancel or by Close.
func (b *Bus) Subscribe(topic string) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan any)
	}
	b.subs[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[topic][id]; ok {
				delete(b.subs[topic], id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Close closes every subscription. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
}
