package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/chapterrelay/internal/coordinator"
)

const reasonShutdown = "server shutting down"

// Hub receives transport events. *coordinator.Coordinator implements it.
type Hub interface {
	Connect(peer coordinator.Peer) coordinator.ConnectionID
	Deliver(id coordinator.ConnectionID, data []byte)
	Pong(id coordinator.ConnectionID)
	Disconnect(id coordinator.ConnectionID, reason string)
}

// Options configures a Server.
type Options struct {
	MaxMessageBytes int64         // Read limit per frame; 0 means no limit
	SendBuffer      int           // Outbound frames queued per peer
	WriteTimeout    time.Duration // Deadline for each frame write
	Logger          *slog.Logger
}

// Server upgrades HTTP requests to WebSocket sessions and feeds their frames
// to a Hub. Every session runs a read loop on the request goroutine and a
// write pump on its own goroutine.
type Server struct {
	hub      Hub
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	peers    map[*Peer]struct{}
	sessions sync.WaitGroup
}

// NewServer creates a WebSocket endpoint bound to hub.
func NewServer(hub Hub, opts Options) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		hub:    hub,
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are a local desktop app and a browser extension,
			// neither of which sends a stable Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers: make(map[*Peer]struct{}),
	}
}

// ServeHTTP accepts upgrades on "/" and "/ws".
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/ws" {
		http.NotFound(w, r)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
		return
	}
	if s.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.opts.MaxMessageBytes)
	}

	peer := newPeer(conn, s.opts.SendBuffer, s.opts.WriteTimeout)
	if !s.track(peer) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, reasonShutdown), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer s.untrack(peer)

	id := s.hub.Connect(peer)
	conn.SetPongHandler(func(string) error {
		s.hub.Pong(id)
		return nil
	})
	go peer.writePump()

	reason := s.readLoop(id, conn)
	peer.Close("")
	s.hub.Disconnect(id, reason)
}

func (s *Server) readLoop(id coordinator.ConnectionID, conn *websocket.Conn) string {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("websocket read ended", slog.String("conn_id", string(id)), slog.Any("error", err))
			return closeReason(err)
		}
		s.hub.Deliver(id, data)
	}
}

// closeReason maps a read error to the reason reported with the disconnect.
// An empty string means a normal closure.
func closeReason(err error) string {
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		if ce.Text != "" {
			return ce.Text
		}
		if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway {
			return ""
		}
		return fmt.Sprintf("close code %d", ce.Code)
	case errors.Is(err, websocket.ErrReadLimit):
		return "message too large"
	default:
		return "connection lost"
	}
}

func (s *Server) track(p *Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers == nil {
		return false
	}
	s.peers[p] = struct{}{}
	s.sessions.Add(1)
	return true
}

func (s *Server) untrack(p *Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	s.sessions.Done()
}

// Shutdown closes every open session and waits for their read loops to
// finish or for ctx to expire. New upgrades are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	peers := s.peers
	s.peers = nil
	s.mu.Unlock()

	for p := range peers {
		p.Close(reasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of open sessions.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
