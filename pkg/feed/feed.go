// Package feed fans produced-step and lifecycle notifications out to
// subscribers such as the CLI and the websocket endpoint.
package feed

import (
	"sync"
	"time"

	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

// Kind distinguishes notifications.
type Kind string

const (
	KindStep  Kind = "step"
	KindState Kind = "state"
)

// DefaultBuffer is used when Subscribe is given a non-positive buffer.
const DefaultBuffer = 64

// Notification is one feed entry.
type Notification struct {
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"session_id"`
	Title     string          `json:"title,omitempty"`
	State     lifecycle.State `json:"state"`
	Step      *tutorial.Step  `json:"step,omitempty"`
	StepCount int             `json:"step_count"`
	At        time.Time       `json:"at"`
}

// Broadcaster delivers notifications without ever blocking the publisher.
// A subscriber whose buffer is full misses the notification.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan Notification
	next    int
	dropped uint64
}

// New returns an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Notification)}
}

// Publish sends n to every subscriber.
func (b *Broadcaster) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.dropped++
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and is safe to call more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Notification, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped reports notifications lost to full subscriber buffers.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
