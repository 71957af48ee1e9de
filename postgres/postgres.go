package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hdt3213/streamis/interface/source"
	"github.com/hdt3213/streamis/lib/logger"
)

// notify payloads above this size are rejected by postgres
const maxNotifyBytes = 8000

// Source opens pubsub subscriptions backed by Postgres LISTEN/NOTIFY.
// Each subscription holds a dedicated connection acquired from the pool for
// the lifetime of the subscription.
type Source struct {
	pool *pgxpool.Pool
}

// MakeSource connects a pool to the given database url
func MakeSource(ctx context.Context, url string) (*Source, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	return &Source{pool: pool}, nil
}

// Open acquires a connection and starts LISTEN on the given channel
func (s *Source) Open(ctx context.Context, channel string) (source.Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	return &subscription{
		conn:    conn,
		channel: channel,
		closed:  make(chan struct{}),
	}, nil
}

// Publish sends a notification through the pool
func (s *Source) Publish(ctx context.Context, channel string, payload []byte) error {
	if len(payload) > maxNotifyBytes {
		return errors.New("payload exceeds postgres NOTIFY limit of 8000 bytes")
	}
	_, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload))
	return err
}

// Close shuts the pool down
func (s *Source) Close() {
	s.pool.Close()
}

type subscription struct {
	conn      *pgxpool.Conn
	channel   string
	closed    chan struct{}
	closeOnce sync.Once
}

// Next blocks until the next notification arrives
func (sub *subscription) Next(ctx context.Context) ([]byte, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sub.closed:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	notification, err := sub.conn.Conn().WaitForNotification(waitCtx)
	if err != nil {
		select {
		case <-sub.closed:
			return nil, source.ErrClosed
		default:
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", source.ErrClosed, err)
	}
	return []byte(notification.Payload), nil
}

// Close stops listening and returns the connection to the pool
func (sub *subscription) Close() error {
	sub.closeOnce.Do(func() {
		close(sub.closed)
		// closing the underlying conn wakes a blocked WaitForNotification;
		// the pool discards the dead conn on release instead of reusing a
		// connection with LISTEN state attached
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := sub.conn.Conn().Close(ctx); err != nil {
			logger.Debugf("close listen conn %s: %v", sub.channel, err)
		}
		sub.conn.Release()
	})
	return nil
}
