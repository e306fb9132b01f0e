// Package control exposes a local command endpoint for driving the session:
// a named pipe on Windows, a unix socket elsewhere. The protocol is
// newline-delimited JSON, one request and one response per line.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/echosub/echosub/internal/logging"
	"github.com/echosub/echosub/internal/session"
)

// idleTimeout disconnects clients that send nothing for this long.
const idleTimeout = 5 * time.Minute

// Controller is the session surface the endpoint drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() session.Status
	SetTarget(pid uint32, includeTree bool) error
}

// Request is one control command.
type Request struct {
	Command     string `json:"command"` // status | start | stop | set-target
	PID         uint32 `json:"pid,omitempty"`
	IncludeTree bool   `json:"includeTree,omitempty"`
}

// Response answers one Request.
type Response struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Status *session.Status `json:"status,omitempty"`
}

// Server accepts control connections and dispatches commands.
type Server struct {
	path string
	ctrl Controller
	log  *slog.Logger

	ctx      context.Context // session starts inherit this
	listener net.Listener

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewServer(path string, ctrl Controller) *Server {
	if path == "" {
		path = DefaultPath()
	}
	return &Server{path: path, ctrl: ctrl, log: logging.L("control")}
}

// Start binds the endpoint and begins accepting connections. ctx bounds the
// lifetime of sessions started through the endpoint.
func (s *Server) Start(ctx context.Context) error {
	listener, err := listen(s.path)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", s.path, err)
	}
	s.ctx = ctx
	s.listener = listener
	s.log.Info("control endpoint listening", "path", s.path)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Path returns the endpoint path.
func (s *Server) Path() string { return s.path }

// Close stops accepting and waits for in-flight handlers.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	cleanup(s.path)
	s.log.Info("control endpoint closed")
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.log.Warn("accept error", logging.KeyError, err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	enc := json.NewEncoder(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if !scanner.Scan() {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		resp := Response{OK: true}
		if err := json.Unmarshal(line, &req); err != nil {
			resp = Response{Error: fmt.Sprintf("bad request: %v", err)}
		} else {
			resp = s.dispatch(req)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	s.log.Debug("control command", "command", req.Command)
	switch req.Command {
	case "status":
		st := s.ctrl.Status()
		return Response{OK: true, Status: &st}
	case "start":
		if err := s.ctrl.Start(s.ctx); err != nil {
			return Response{Error: err.Error()}
		}
		st := s.ctrl.Status()
		return Response{OK: true, Status: &st}
	case "stop":
		s.ctrl.Stop()
		st := s.ctrl.Status()
		return Response{OK: true, Status: &st}
	case "set-target":
		if req.PID == 0 {
			return Response{Error: "set-target requires a pid"}
		}
		if err := s.ctrl.SetTarget(req.PID, req.IncludeTree); err != nil {
			return Response{Error: err.Error()}
		}
		st := s.ctrl.Status()
		return Response{OK: true, Status: &st}
	default:
		return Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}
