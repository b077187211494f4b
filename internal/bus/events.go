// Package bus carries the live event stream. Publishing never blocks: when
// the queue is full the oldest event is dropped.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize bounds the live stream.
const DefaultQueueSize = 2000

type Event struct {
	ID   string         `json:"id"`
	Time time.Time      `json:"ts"`
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

type EventBus struct {
	mu      sync.Mutex
	queue   chan Event
	enabled atomic.Bool
	dropped atomic.Uint64
	now     func() time.Time
}

func NewEventBus(size int) *EventBus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	b := &EventBus{queue: make(chan Event, size), now: time.Now}
	b.enabled.Store(true)
	return b
}

// Publish enqueues an event. It is a no-op while the bus is disabled.
func (b *EventBus) Publish(name string, data map[string]any) {
	if b == nil || !b.enabled.Load() {
		return
	}
	ev := Event{ID: uuid.NewString(), Time: b.now(), Name: name, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		select {
		case b.queue <- ev:
			return
		default:
		}
		select {
		case <-b.queue:
			b.dropped.Add(1)
		default:
		}
	}
}

// Events is the consumer side of the stream.
func (b *EventBus) Events() <-chan Event {
	return b.queue
}

// Drain removes every queued event without blocking.
func (b *EventBus) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-b.queue:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (b *EventBus) SetEnabled(on bool) { b.enabled.Store(on) }

func (b *EventBus) Enabled() bool { return b.enabled.Load() }

// Dropped counts events discarded to make room.
func (b *EventBus) Dropped() uint64 { return b.dropped.Load() }

func (b *EventBus) Len() int { return len(b.queue) }
