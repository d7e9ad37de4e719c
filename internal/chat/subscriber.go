package chat

// Subscriber is a delivery sink for live events. TryDeliver must not
// block: a sink that cannot accept an event reports false and is
// pruned by the publisher. This keeps a slow consumer from ever
// stalling the connection's read loop.
type Subscriber interface {
	TryDeliver(ev Event) bool
}

// QueueSubscriber buffers events on a channel for one consumer.
type QueueSubscriber struct {
	ch chan Event
}

// NewQueueSubscriber creates a subscriber with the given buffer size.
func NewQueueSubscriber(size int) *QueueSubscriber {
	if size <= 0 {
		size = 64
	}
	return &QueueSubscriber{ch: make(chan Event, size)}
}

// TryDeliver offers an event without blocking.
func (q *QueueSubscriber) TryDeliver(ev Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// Events returns the receive side of the queue.
func (q *QueueSubscriber) Events() <-chan Event {
	return q.ch
}
