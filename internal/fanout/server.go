// Package fanout streams reward events to WebSocket clients.
package fanout

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"daily-reward-api/internal/events"
	"daily-reward-api/internal/features"
)

const (
	clientSendBuf = 64
	writeDeadline = 5 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = 50 * time.Second
)

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Server fans out bus events to connected feed clients.
type Server struct {
	mu       sync.Mutex
	clients  map[*feedClient]struct{}
	features *features.Manager
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer subscribes to every reward event on bus. Delivery is gated by the
// live_feed flag; a nil flag manager leaves the feed on. Browsers may connect
// from the request's own host or from allowedOrigins ("*" allows any).
func NewServer(bus *events.Manager, flags *features.Manager, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		clients:  make(map[*feedClient]struct{}),
		features: flags,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		log: logger,
	}
	bus.Subscribe(events.EventRewardGranted, s.forward)
	bus.Subscribe(events.EventRewardPending, s.forward)
	bus.Subscribe(events.EventRewardReconciled, s.forward)
	return s
}

// originChecker rejects cross-site upgrades, which would otherwise ride on a
// token carried in the query string.
func originChecker(allowed []string) func(r *http.Request) bool {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			origins[strings.ToLower(o)] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Not a browser.
			return true
		}
		if origins["*"] || origins[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

func (s *Server) enabled() bool {
	return s.features == nil || s.features.IsEnabled(features.FeatureLiveFeed)
}

// forward serializes the event and enqueues it to every client without blocking.
func (s *Server) forward(_ context.Context, evt events.Event) error {
	if !s.enabled() {
		return nil
	}
	data, err := MarshalEvent(evt)
	if err != nil {
		s.log.Warn("fanout: marshal failed", "type", evt.Type, "error", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.log.Warn("fanout: dropping message for slow client", "remote", c.conn.RemoteAddr().String())
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// HandleWS handles GET /api/reward/feed
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !s.enabled() {
		http.Error(w, "live feed disabled", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("fanout: upgrade failed", "error", err)
		return
	}

	c := &feedClient{
		conn: conn,
		send: make(chan []byte, clientSendBuf),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.log.Debug("fanout: client connected", "remote", conn.RemoteAddr().String())

	go s.writePump(c)
	go s.readPump(c)
}

// writePump owns the client lifecycle: on exit it unregisters the client
// before closing the connection so forward never targets a dead client.
func (s *Server) writePump(c *feedClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debug("fanout: write failed", "error", err)
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and signals writePump via c.done on exit.
func (s *Server) readPump(c *feedClient) {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *feedClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.log.Debug("fanout: client disconnected", "remote", c.conn.RemoteAddr().String())
}

// Close disconnects every client. Pumps exit on the resulting read error.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeDeadline))
		c.conn.Close()
	}
}
