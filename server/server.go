package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hdt3213/streamis/interface/source"
	"github.com/hdt3213/streamis/lib/logger"
	"github.com/hdt3213/streamis/pubsub"
)

const maxPublishBytes = 64 << 10

// Server exposes pubsub channels to HTTP consumers. GET streams the channel
// as Server-Sent Events, a websocket upgrade on the same path streams it as
// text frames, POST publishes the request body to the channel.
type Server struct {
	hub       *pubsub.Hub
	publisher source.Publisher // nil disables publishing
	keepAlive time.Duration
	upgrader  websocket.Upgrader
}

// MakeServer creates a Server over the given hub. keepAlive is the interval
// between SSE keepalive comments and websocket pings.
func MakeServer(hub *pubsub.Hub, publisher source.Publisher, keepAlive time.Duration) *Server {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &Server{
		hub:       hub,
		publisher: publisher,
		keepAlive: keepAlive,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler routes every path to its channel
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channel := strings.Trim(r.URL.Path, "/")
		if channel == "" {
			http.Error(w, "channel name required", http.StatusBadRequest)
			return
		}
		switch {
		case r.Method == http.MethodPost:
			s.servePublish(w, r, channel)
		case websocket.IsWebSocketUpgrade(r):
			s.serveWebsocket(w, r, channel)
		case r.Method == http.MethodGet:
			s.serveSSE(w, r, channel)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, channel string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	listener := s.hub.NewListener()
	if err := s.hub.Subscribe(r.Context(), listener, channel); err != nil {
		logger.Errorf("subscribe %q: %v", channel, err)
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.Unsubscribe(listener, channel)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case msg := <-listener.Messages():
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-listener.Done():
			// evicted by the relay or upstream gone
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	listener := s.hub.NewListener()
	if err := s.hub.Subscribe(r.Context(), listener, channel); err != nil {
		logger.Errorf("subscribe %q: %v", channel, err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "upstream unavailable"))
		return
	}
	defer s.hub.Unsubscribe(listener, channel)

	// inbound frames are published to the channel; the read pump also
	// notices the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if s.publisher == nil {
				continue
			}
			if err := s.publisher.Publish(r.Context(), channel, data); err != nil {
				logger.Errorf("publish %q: %v", channel, err)
			}
		}
	}()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case msg := <-listener.Messages():
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-listener.Done():
			return
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) servePublish(w http.ResponseWriter, r *http.Request, channel string) {
	if s.publisher == nil {
		http.Error(w, "publishing disabled", http.StatusNotImplemented)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPublishBytes))
	if err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := s.publisher.Publish(r.Context(), channel, body); err != nil {
		logger.Errorf("publish %q: %v", channel, err)
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListenAndServeWithSignal serves until a stop signal arrives, then shuts
// down gracefully
func (s *Server) ListenAndServeWithSignal(addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info(fmt.Sprintf("got signal %v, shutting down...", sig))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			// streaming connections do not drain, cut them off
			_ = srv.Close()
		}
	}()
	logger.Info(fmt.Sprintf("bind: %s, start listening...", addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
