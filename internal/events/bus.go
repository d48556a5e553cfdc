package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Envelope is what subscribers receive.
type Envelope struct {
	Type Event     `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

type subscriber struct {
	ch     chan Envelope
	topics map[Event]struct{} // empty means every topic
}

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Int64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener for the given topics (all topics when none are
// given) and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(buffer int, topics ...Event) (<-chan Envelope, func()) {
	s := &subscriber{
		ch:     make(chan Envelope, buffer),
		topics: make(map[Event]struct{}, len(topics)),
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, c := range b.subs {
				if c == s {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					close(s.ch)
					break
				}
			}
		})
	}
	return s.ch, unsub
}

// Publish fans the payload out without blocking; slow subscribers miss events.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	env := Envelope{Type: e, At: time.Now().UTC(), Data: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if len(s.topics) > 0 {
			if _, ok := s.topics[e]; !ok {
				continue
			}
		}
		select {
		case s.ch <- env:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
