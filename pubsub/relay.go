package pubsub

import (
	"context"
	"sync"

	"github.com/hdt3213/streamis/interface/source"
	"github.com/hdt3213/streamis/lib/logger"
)

// relay owns the single upstream subscription for one channel and fans every
// incoming message out to the currently registered listeners
type relay struct {
	channel string
	sub     source.Subscription
	hub     *Hub

	mu        sync.Mutex
	listeners map[*Listener]struct{}
	dead      bool
}

func makeRelay(channel string, sub source.Subscription, hub *Hub) *relay {
	return &relay{
		channel:   channel,
		sub:       sub,
		hub:       hub,
		listeners: make(map[*Listener]struct{}),
	}
}

// add registers a listener. Registering the same listener twice is a no-op,
// a message is never delivered to it more than once.
func (r *relay) add(l *Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return false
	}
	r.listeners[l] = struct{}{}
	return true
}

// remove takes a listener out of the set. empty reports whether the set is
// empty afterwards.
func (r *relay) remove(l *Listener) (removed bool, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[l]; ok {
		delete(r.listeners, l)
		removed = true
	}
	return removed, len(r.listeners) == 0
}

// loop pumps messages from the upstream subscription until it ends.
// Teardown paths (last unsubscribe, upstream failure) close the subscription,
// which wakes the blocked Next and lands here as an error.
func (r *relay) loop() {
	ctx := context.Background()
	for {
		msg, err := r.sub.Next(ctx)
		if err != nil {
			r.hub.dropRelay(r, err)
			return
		}
		logger.Debugf("channel %q got message: %s", r.channel, string(msg))
		if r.broadcast(msg) {
			r.hub.releaseIfEmpty(r)
		}
	}
}

// broadcast delivers msg to every registered listener. Delivery is a
// non-blocking enqueue: a listener whose queue cannot take the message is
// collected during the sweep and removed afterwards, so one stalled consumer
// neither blocks the others nor the upstream. Returns true when the listener
// set became empty.
func (r *relay) broadcast(msg []byte) bool {
	r.mu.Lock()
	var failed []*Listener
	for l := range r.listeners {
		if !l.push(msg) {
			failed = append(failed, l)
		}
	}
	for _, l := range failed {
		delete(r.listeners, l)
	}
	empty := len(r.listeners) == 0
	r.mu.Unlock()

	for _, l := range failed {
		logger.Warnf("message delivery on channel %q failed, client disconnected?", r.channel)
		l.close()
	}
	return empty
}
