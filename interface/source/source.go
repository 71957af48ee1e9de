package source

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned by Open when the backend cannot be reached
	ErrUnavailable = errors.New("source unavailable")
	// ErrClosed is returned by Next when the backend connection dropped or
	// the subscription has been closed
	ErrClosed = errors.New("source closed")
)

// Subscription is one live backend-level subscription to a single channel
type Subscription interface {
	// Next blocks until the next message arrives on the channel.
	// It fails with an error wrapping ErrClosed when the subscription ends.
	Next(ctx context.Context) ([]byte, error)
	// Close releases the subscription. Closing twice is a no-op.
	// A blocked Next returns ErrClosed after Close.
	Close() error
}

// Source opens subscriptions against a pubsub backend
type Source interface {
	// Open subscribes to the named channel. It fails with an error wrapping
	// ErrUnavailable when the backend cannot be reached.
	Open(ctx context.Context, channel string) (Subscription, error)
}

// Publisher pushes messages into a pubsub backend
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
