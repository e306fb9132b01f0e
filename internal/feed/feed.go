// Package feed serves the local subtitle feed: a WebSocket endpoint that
// overlay UIs subscribe to for subtitle and capture-status events.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echosub/echosub/internal/events"
	"github.com/echosub/echosub/internal/logging"
)

const (
	writeWait      = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	sendQueueDepth = 64
)

// Message is the envelope every feed event is wrapped in.
type Message struct {
	Type string `json:"type"` // "subtitle" or "status"
	Data any    `json:"data"`
}

// Server broadcasts bus events to connected WebSocket clients. Slow clients
// never stall the pipeline: each connection has a bounded outbound queue and
// overflowing it drops that client.
type Server struct {
	bus *events.Bus
	log *slog.Logger

	httpSrv  *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]chan []byte

	onSubtitle func(events.Subtitle)
	onStatus   func(events.CaptureStatus)
}

func NewServer(addr string, bus *events.Bus) *Server {
	s := &Server{
		bus:   bus,
		log:   logging.L("feed"),
		conns: make(map[*websocket.Conn]chan []byte),
		upgrader: websocket.Upgrader{
			// The feed binds to loopback; browser overlays load from
			// file:// or localhost and send arbitrary Origin headers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start binds the listener and begins serving. Returns once the listener is
// bound, so Addr is valid immediately after.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.onSubtitle = func(sub events.Subtitle) { s.broadcast("subtitle", sub) }
	s.onStatus = func(st events.CaptureStatus) { s.broadcast("status", st) }
	if err := s.bus.SubscribeSubtitle(s.onSubtitle); err != nil {
		ln.Close()
		return err
	}
	if err := s.bus.SubscribeCaptureStatus(s.onStatus); err != nil {
		ln.Close()
		return err
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("feed server exited", logging.KeyError, err)
		}
	}()
	s.log.Info("subtitle feed listening", "addr", ln.Addr().String())
	return nil
}

// ClientCount returns the number of connected feed clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpSrv.Addr
	}
	return s.listener.Addr().String()
}

// Close unsubscribes from the bus, disconnects every client, and shuts the
// HTTP server down.
func (s *Server) Close(ctx context.Context) error {
	_ = s.bus.UnsubscribeSubtitle(s.onSubtitle)
	_ = s.bus.UnsubscribeCaptureStatus(s.onStatus)

	s.mu.Lock()
	for conn, send := range s.conns {
		close(send)
		delete(s.conns, conn)
	}
	s.mu.Unlock()

	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", logging.KeyError, err)
		return
	}
	send := make(chan []byte, sendQueueDepth)

	s.mu.Lock()
	s.conns[conn] = send
	n := len(s.conns)
	s.mu.Unlock()
	s.log.Debug("feed client connected", "clients", n, "remote", conn.RemoteAddr().String())

	go s.writePump(conn, send)
	s.readPump(conn)
}

// readPump discards inbound frames; its job is noticing disconnects and
// answering pings.
func (s *Server) readPump(conn *websocket.Conn) {
	defer s.drop(conn)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer conn.Close()
	for {
		select {
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if send, ok := s.conns[conn]; ok {
		close(send)
		delete(s.conns, conn)
	}
	s.mu.Unlock()
	conn.Close()
}

// broadcast marshals once and fans out without blocking; clients that cannot
// keep up are disconnected.
func (s *Server) broadcast(msgType string, data any) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		s.log.Error("marshalling feed event", logging.KeyError, err)
		return
	}

	var stale []*websocket.Conn
	s.mu.Lock()
	for conn, send := range s.conns {
		select {
		case send <- payload:
		default:
			stale = append(stale, conn)
		}
	}
	s.mu.Unlock()

	for _, conn := range stale {
		s.log.Warn("dropping slow feed client", "remote", conn.RemoteAddr().String())
		s.drop(conn)
	}
}
