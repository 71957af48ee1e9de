package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hdt3213/streamis/interface/source"
	"github.com/hdt3213/streamis/lib/logger"
	"github.com/hdt3213/streamis/lib/sync/wait"
	"github.com/hdt3213/streamis/lib/utils"
	"github.com/hdt3213/streamis/redis/parser"
	"github.com/hdt3213/streamis/redis/protocol"
)

const dialTimeout = 5 * time.Second

// Source opens pubsub subscriptions against a Redis server.
// Every subscription gets a dedicated connection, so losing one channel's
// upstream never disturbs the others.
type Source struct {
	addr string
}

// MakeSource creates a Source for the given redis address
func MakeSource(addr string) *Source {
	return &Source{addr: addr}
}

// Open dials the server and issues SUBSCRIBE for the given channel
func (s *Source) Open(ctx context.Context, channel string) (source.Subscription, error) {
	conn, err := net.DialTimeout("tcp", s.addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	sub := &subscription{
		conn:     conn,
		channel:  channel,
		payloads: parser.ParseStream(conn),
	}
	if err := sub.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sub, nil
}

// subscription is one dedicated SUBSCRIBE connection
type subscription struct {
	conn      net.Conn
	channel   string
	payloads  <-chan *parser.Payload
	closeOnce sync.Once
}

// handshake sends SUBSCRIBE and waits for the server to confirm it
func (sub *subscription) handshake(ctx context.Context) error {
	cmd := protocol.MakeMultiBulkReply(utils.ToCmdLine("SUBSCRIBE", sub.channel))
	if _, err := sub.conn.Write(cmd.ToBytes()); err != nil {
		return fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	select {
	case payload, ok := <-sub.payloads:
		if !ok || payload.Err != nil {
			return fmt.Errorf("%w: subscribe %s failed", source.ErrUnavailable, sub.channel)
		}
		if protocol.IsErrorReply(payload.Data) {
			return fmt.Errorf("%w: %s", source.ErrUnavailable,
				string(payload.Data.ToBytes()))
		}
		ack, ok := payload.Data.(*protocol.MultiBulkReply)
		if !ok || len(ack.Args) < 3 || string(ack.Args[0]) != "subscribe" {
			return fmt.Errorf("%w: unexpected subscribe reply", source.ErrUnavailable)
		}
		return nil
	case <-time.After(dialTimeout):
		return fmt.Errorf("%w: subscribe %s timed out", source.ErrUnavailable, sub.channel)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", source.ErrUnavailable, ctx.Err())
	}
}

// Next blocks until the next message push arrives on this channel
func (sub *subscription) Next(ctx context.Context) ([]byte, error) {
	for {
		select {
		case payload, ok := <-sub.payloads:
			if !ok {
				return nil, source.ErrClosed
			}
			if payload.Err != nil {
				return nil, fmt.Errorf("%w: %v", source.ErrClosed, payload.Err)
			}
			push, ok := payload.Data.(*protocol.MultiBulkReply)
			if !ok || len(push.Args) != 3 || string(push.Args[0]) != "message" {
				// unsubscribe confirmations and the like
				continue
			}
			return push.Args[2], nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close tears the connection down, waking any blocked Next
func (sub *subscription) Close() error {
	sub.closeOnce.Do(func() {
		_ = sub.conn.Close()
	})
	return nil
}

const (
	created = iota
	running
	closed
)

const (
	chanSize = 256
	maxWait  = 3 * time.Second
)

// Publisher is a pipeline mode redis client used for PUBLISH
type Publisher struct {
	conn        net.Conn
	pendingReqs chan *request // wait to send
	waitingReqs chan *request // waiting response
	addr        string

	status  int32
	working *sync.WaitGroup // its counter presents unfinished requests
	mu      sync.Mutex
}

// request is a command sent to the redis server
type request struct {
	args    [][]byte
	reply   protocol.Reply
	waiting *wait.Wait
	err     error
}

// MakePublisher creates a Publisher and starts its pipeline goroutines
func MakePublisher(addr string) (*Publisher, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	pub := &Publisher{
		addr:        addr,
		conn:        conn,
		pendingReqs: make(chan *request, chanSize),
		waitingReqs: make(chan *request, chanSize),
		working:     &sync.WaitGroup{},
		status:      running,
	}
	go pub.handleWrite()
	go pub.handleRead()
	return pub, nil
}

// Close stops the pipeline goroutines and closes the connection
func (pub *Publisher) Close() {
	pub.mu.Lock()
	if pub.status == closed {
		pub.mu.Unlock()
		return
	}
	pub.status = closed
	pub.mu.Unlock()

	// new sends are rejected now, wait for in-flight ones to finish
	pub.working.Wait()
	close(pub.pendingReqs)
	_ = pub.conn.Close()
	close(pub.waitingReqs)
}

// Publish sends a PUBLISH command for the given channel
func (pub *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reply, err := pub.send([][]byte{[]byte("PUBLISH"), []byte(channel), payload})
	if err != nil {
		return err
	}
	if errReply, ok := reply.(*protocol.ErrReply); ok {
		return fmt.Errorf("publish %s: %s", channel, errReply.Error())
	}
	return nil
}

func (pub *Publisher) send(args [][]byte) (protocol.Reply, error) {
	pub.mu.Lock()
	if pub.status != running {
		pub.mu.Unlock()
		return nil, fmt.Errorf("%w: publisher closed", source.ErrClosed)
	}
	pub.working.Add(1)
	pub.mu.Unlock()
	defer pub.working.Done()

	req := &request{
		args:    args,
		waiting: &wait.Wait{},
	}
	req.waiting.Add(1)
	pub.pendingReqs <- req
	if timedOut := req.waiting.WaitWithTimeout(maxWait); timedOut {
		return nil, fmt.Errorf("%w: server timed out", source.ErrClosed)
	}
	if req.err != nil {
		return nil, req.err
	}
	return req.reply, nil
}

func (pub *Publisher) handleWrite() {
	for req := range pub.pendingReqs {
		pub.doRequest(req)
	}
}

func (pub *Publisher) doRequest(req *request) {
	re := protocol.MakeMultiBulkReply(req.args)
	if _, err := pub.conn.Write(re.ToBytes()); err != nil {
		req.err = err
		req.waiting.Done()
		return
	}
	pub.waitingReqs <- req
}

func (pub *Publisher) handleRead() {
	ch := parser.ParseStream(pub.conn)
	for payload := range ch {
		if payload.Err != nil {
			pub.mu.Lock()
			done := pub.status == closed
			pub.mu.Unlock()
			if !done {
				logger.Error("publisher connection lost: " + payload.Err.Error())
				pub.failPending()
			}
			return
		}
		pub.finishRequest(payload.Data)
	}
}

func (pub *Publisher) finishRequest(reply protocol.Reply) {
	req, ok := <-pub.waitingReqs
	if !ok || req == nil {
		return
	}
	req.reply = reply
	req.waiting.Done()
}

func (pub *Publisher) failPending() {
	for {
		select {
		case req := <-pub.waitingReqs:
			if req == nil {
				return
			}
			req.err = fmt.Errorf("%w: connection lost", source.ErrClosed)
			req.waiting.Done()
		default:
			return
		}
	}
}
