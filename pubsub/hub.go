package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/hdt3213/streamis/interface/source"
	"github.com/hdt3213/streamis/lib/logger"
	"github.com/hdt3213/streamis/lib/sync/lock"
)

// ErrEmptyChannel is returned by Subscribe for an empty channel name
var ErrEmptyChannel = errors.New("channel name must not be empty")

// Hub manages all channel relays. There is at most one relay, and therefore
// at most one upstream subscription, per channel at any time.
type Hub struct {
	src       source.Source
	queueSize int

	mu     sync.RWMutex
	relays map[string]*relay
	// serializes create/teardown per channel without one global channel lock
	locker *lock.Locks
}

// MakeHub creates a Hub fed by the given source. queueSize bounds each
// listener's pending-message queue, 0 means the default.
func MakeHub(src source.Source, queueSize int) *Hub {
	return &Hub{
		src:       src,
		queueSize: queueSize,
		relays:    make(map[string]*relay),
		locker:    lock.Make(16),
	}
}

// NewListener creates a listener sized by the hub's queue config
func (hub *Hub) NewListener() *Listener {
	return NewListener(hub.queueSize)
}

// Subscribe registers listener for the named channel. The first listener of
// a channel opens the upstream subscription and starts the relay loop; later
// listeners share it. If opening the upstream fails the error is returned
// and no relay is left behind.
func (hub *Hub) Subscribe(ctx context.Context, listener *Listener, channel string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	hub.locker.Lock(channel)
	defer hub.locker.UnLock(channel)

	if r := hub.getRelay(channel); r != nil && r.add(listener) {
		return nil
	}
	sub, err := hub.src.Open(ctx, channel)
	if err != nil {
		return err
	}
	r := makeRelay(channel, sub, hub)
	r.add(listener)
	hub.putRelay(channel, r)
	go r.loop()
	logger.Infof("subscribed upstream channel %q", channel)
	return nil
}

// Unsubscribe removes listener from the named channel. Removing the last
// listener releases the upstream subscription and drops the relay, so a
// later Subscribe starts from a clean slate. Unsubscribing from a channel
// without a relay is not an error.
func (hub *Hub) Unsubscribe(listener *Listener, channel string) {
	hub.locker.Lock(channel)
	defer hub.locker.UnLock(channel)

	r := hub.getRelay(channel)
	if r == nil {
		logger.Warnf("not subscribed to channel %q", channel)
		return
	}
	_, empty := r.remove(listener)
	listener.close()
	if empty {
		r.mu.Lock()
		r.dead = true
		r.mu.Unlock()
		hub.deleteRelay(channel, r)
		_ = r.sub.Close() // wakes the relay loop, which exits through dropRelay
		logger.Infof("released upstream channel %q", channel)
	}
}

// releaseIfEmpty tears the relay down if eviction emptied its listener set.
// Racing subscribers are serialized by the channel lock: if one registered
// in the meantime the relay stays up.
func (hub *Hub) releaseIfEmpty(r *relay) {
	hub.locker.Lock(r.channel)
	defer hub.locker.UnLock(r.channel)

	r.mu.Lock()
	if r.dead || len(r.listeners) > 0 {
		r.mu.Unlock()
		return
	}
	r.dead = true
	r.mu.Unlock()

	hub.deleteRelay(r.channel, r)
	_ = r.sub.Close()
	logger.Infof("released upstream channel %q", r.channel)
}

// dropRelay is the relay loop's exit path. When the upstream ended on its
// own every remaining listener is marked done, as if all had disconnected;
// the registry entry is removed so the channel can be re-subscribed.
func (hub *Hub) dropRelay(r *relay, cause error) {
	hub.locker.Lock(r.channel)

	var orphans []*Listener
	r.mu.Lock()
	if !r.dead {
		r.dead = true
		for l := range r.listeners {
			orphans = append(orphans, l)
			delete(r.listeners, l)
		}
	}
	r.mu.Unlock()
	hub.deleteRelay(r.channel, r)
	hub.locker.UnLock(r.channel)

	_ = r.sub.Close()
	for _, l := range orphans {
		l.close()
	}
	if len(orphans) > 0 {
		logger.Errorf("upstream subscription for channel %q ended: %v, dropped %d listeners",
			r.channel, cause, len(orphans))
	}
}

func (hub *Hub) getRelay(channel string) *relay {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.relays[channel]
}

func (hub *Hub) putRelay(channel string, r *relay) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.relays[channel] = r
}

// deleteRelay removes the entry only if it still maps to r, a replacement
// relay created after a drop must not be clobbered
func (hub *Hub) deleteRelay(channel string, r *relay) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.relays[channel] == r {
		delete(hub.relays, channel)
	}
}
