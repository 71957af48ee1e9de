package pubsub

import "sync"

const defaultQueueSize = 64

// Listener is a per-connection delivery target. The relay enqueues incoming
// messages without blocking; the owning transport drains Messages and writes
// them out at its own pace.
type Listener struct {
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// NewListener creates a Listener with a bounded pending-message queue
func NewListener(queueSize int) *Listener {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Listener{
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
}

// Messages yields pending messages in the order the relay received them
func (l *Listener) Messages() <-chan []byte {
	return l.queue
}

// Done is closed once the listener has been removed from its relay, either
// by Unsubscribe, by eviction, or because the upstream subscription ended
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// push attempts a non-blocking enqueue, it fails when the queue is full
func (l *Listener) push(msg []byte) bool {
	select {
	case l.queue <- msg:
		return true
	default:
		return false
	}
}

func (l *Listener) close() {
	l.once.Do(func() {
		close(l.done)
	})
}
