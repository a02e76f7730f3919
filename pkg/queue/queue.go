// Package queue implements the bounded event queue between the capture
// callback and the event processor.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("event queue closed")

// DefaultCapacity bounds the queue when no capacity is supplied.
const DefaultCapacity = 1024

// Item is a queued event tagged with the session state observed at enqueue.
type Item struct {
	Seq   uint64
	Event events.RawEvent
	State lifecycle.State
}

// Outcome reports what Enqueue did with an event.
type Outcome int

const (
	// Buffered means the event was queued.
	Buffered Outcome = iota
	// BufferedWithDrop means the event was queued after evicting the oldest item.
	BufferedWithDrop
	// Discarded means the event arrived while paused and was not buffered.
	Discarded
	// Rejected means the queue is closed or the session is not recording.
	Rejected
)

// Queue is a bounded FIFO. Enqueue never blocks; on overflow the oldest
// undelivered item is evicted and counted.
type Queue struct {
	mu        sync.Mutex
	buf       []Item
	head      int
	size      int
	seq       uint64
	closed    bool
	dropped   uint64
	discarded uint64
	signal    chan struct{}
	onDrop    func(Item)
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buf:    make([]Item, capacity),
		signal: make(chan struct{}, 1),
	}
}

// OnDrop registers a hook invoked (outside the lock) for every evicted item.
func (q *Queue) OnDrop(fn func(Item)) {
	q.mu.Lock()
	q.onDrop = fn
	q.mu.Unlock()
}

// Enqueue adds ev tagged with state. Events tagged PAUSED are counted and
// discarded instead of buffered; other non-recording tags are rejected.
func (q *Queue) Enqueue(ev events.RawEvent, state lifecycle.State) Outcome {
	q.mu.Lock()
	if q.closed || ev == nil {
		q.mu.Unlock()
		return Rejected
	}
	switch state {
	case lifecycle.Recording:
	case lifecycle.Paused:
		q.discarded++
		q.mu.Unlock()
		return Discarded
	default:
		q.mu.Unlock()
		return Rejected
	}

	outcome := Buffered
	var evicted Item
	if q.size == len(q.buf) {
		evicted = q.buf[q.head]
		q.buf[q.head] = Item{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped++
		outcome = BufferedWithDrop
	}
	q.seq++
	q.buf[(q.head+q.size)%len(q.buf)] = Item{Seq: q.seq, Event: ev, State: state}
	q.size++
	hook := q.onDrop
	q.mu.Unlock()

	q.notify()
	if outcome == BufferedWithDrop && hook != nil {
		hook(evicted)
	}
	return outcome
}

// Dequeue returns the oldest item, blocking until one is available. After
// Close it keeps returning buffered items and then ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		item, ok, closed := q.TryDequeue()
		if ok {
			return item, nil
		}
		if closed {
			return Item{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// TryDequeue pops the oldest item without blocking. closed is true only when
// the queue is closed and empty.
func (q *Queue) TryDequeue() (item Item, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return Item{}, false, q.closed
	}
	item = q.buf[q.head]
	q.buf[q.head] = Item{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return item, true, false
}

// Wait returns a channel signalled whenever an item is enqueued or the queue closes.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Close stops accepting events. Buffered items remain available to Dequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

// Len reports the number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Dropped reports how many items were evicted by overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Discarded reports how many events arrived while paused.
func (q *Queue) Discarded() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.discarded
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
