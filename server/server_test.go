package server

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hdt3213/streamis/interface/source"
	"github.com/hdt3213/streamis/pubsub"
)

// fakeBackend is an in-memory Source and Publisher
type fakeBackend struct {
	mu          sync.Mutex
	subs        map[string][]*fakeSub
	unavailable bool
}

func makeFakeBackend() *fakeBackend {
	return &fakeBackend{subs: make(map[string][]*fakeSub)}
}

func (f *fakeBackend) Open(ctx context.Context, channel string) (source.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, fmt.Errorf("%w: backend down", source.ErrUnavailable)
	}
	sub := &fakeSub{
		msgs:   make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	f.subs[channel] = append(f.subs[channel], sub)
	return sub, nil
}

func (f *fakeBackend) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs[channel] {
		select {
		case <-sub.closed:
		default:
			sub.msgs <- append([]byte(nil), payload...)
		}
	}
	return nil
}

func (f *fakeBackend) active(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.subs[channel] {
		select {
		case <-sub.closed:
		default:
			n++
		}
	}
	return n
}

type fakeSub struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func (s *fakeSub) Next(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.msgs:
		return msg, nil
	case <-s.closed:
		return nil, source.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		close(s.closed)
	})
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for " + what)
}

func startServer(t *testing.T, f *fakeBackend) (*httptest.Server, *pubsub.Hub) {
	t.Helper()
	hub := pubsub.MakeHub(f, 16)
	srv := MakeServer(hub, f, 100*time.Millisecond)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, hub
}

func TestSSEStream(t *testing.T) {
	f := makeFakeBackend()
	ts, _ := startServer(t, f)

	resp, err := http.Get(ts.URL + "/alerts")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	waitFor(t, "upstream subscription", func() bool { return f.active("alerts") == 1 })

	_ = f.Publish(context.Background(), "alerts", []byte("hello world"))
	_ = f.Publish(context.Background(), "alerts", []byte("second"))

	reader := bufio.NewReader(resp.Body)
	var got []string
	for len(got) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended early: %v (got %v)", err, got)
		}
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "data: ") {
			got = append(got, strings.TrimPrefix(line, "data: "))
		}
		// keepalive comments and blank separators pass through here
	}
	if got[0] != "hello world" || got[1] != "second" {
		t.Fatalf("got %v", got)
	}

	resp.Body.Close()
	waitFor(t, "upstream release", func() bool { return f.active("alerts") == 0 })
}

func TestSSEUnavailable(t *testing.T) {
	f := makeFakeBackend()
	f.unavailable = true
	ts, _ := startServer(t, f)

	resp, err := http.Get(ts.URL + "/x")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", resp.StatusCode)
	}
}

func TestEmptyChannel(t *testing.T) {
	f := makeFakeBackend()
	ts, _ := startServer(t, f)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestPublishEndpoint(t *testing.T) {
	f := makeFakeBackend()
	ts, hub := startServer(t, f)

	l := hub.NewListener()
	if err := hub.Subscribe(context.Background(), l, "news"); err != nil {
		t.Fatal(err)
	}
	defer hub.Unsubscribe(l, "news")

	resp, err := http.Post(ts.URL+"/news", "text/plain", strings.NewReader("ping"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d, want 202", resp.StatusCode)
	}
	select {
	case msg := <-l.Messages():
		if string(msg) != "ping" {
			t.Fatalf("got %q", string(msg))
		}
	case <-time.After(time.Second):
		t.Fatal("published message never arrived")
	}
}

func TestWebsocket(t *testing.T) {
	f := makeFakeBackend()
	ts, _ := startServer(t, f)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, "upstream subscription", func() bool { return f.active("chat") == 1 })

	// a frame sent by the client is published and fans back out
	if err := conn.WriteMessage(websocket.TextMessage, []byte("yo")); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(msg) != "yo" {
		t.Fatalf("got %q", string(msg))
	}

	conn.Close()
	waitFor(t, "upstream release", func() bool { return f.active("chat") == 0 })
}
