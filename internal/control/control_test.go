package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/echosub/echosub/internal/session"
)

// fakeController records calls and serves canned status.
type fakeController struct {
	mu       sync.Mutex
	running  bool
	startErr error
	target   uint32
	tree     bool
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{Running: f.running, TargetPID: int(f.target)}
}

func (f *fakeController) SetTarget(pid uint32, tree bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = pid
	f.tree = tree
	return nil
}

func startServer(t *testing.T, ctrl Controller) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctl.sock")
	srv := NewServer(path, ctrl)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func roundTrip(t *testing.T, conn net.Conn, req Request) Response {
	t.Helper()
	payload, _ := json.Marshal(req)
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("bad response %q: %v", line, err)
	}
	return resp
}

func dialServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", srv.Path())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestControlStatusCommand(t *testing.T) {
	srv := startServer(t, &fakeController{})
	conn := dialServer(t, srv)

	resp := roundTrip(t, conn, Request{Command: "status"})
	if !resp.OK {
		t.Fatalf("error: %s", resp.Error)
	}
	if resp.Status == nil || resp.Status.Running {
		t.Fatalf("status = %+v, want stopped snapshot", resp.Status)
	}
}

func TestControlStartStopLifecycle(t *testing.T) {
	ctrl := &fakeController{}
	srv := startServer(t, ctrl)
	conn := dialServer(t, srv)

	resp := roundTrip(t, conn, Request{Command: "start"})
	if !resp.OK || resp.Status == nil || !resp.Status.Running {
		t.Fatalf("start response = %+v", resp)
	}
	resp = roundTrip(t, conn, Request{Command: "stop"})
	if !resp.OK || resp.Status == nil || resp.Status.Running {
		t.Fatalf("stop response = %+v", resp)
	}
}

func TestControlSetTarget(t *testing.T) {
	ctrl := &fakeController{}
	srv := startServer(t, ctrl)
	conn := dialServer(t, srv)

	resp := roundTrip(t, conn, Request{Command: "set-target", PID: 777, IncludeTree: true})
	if !resp.OK {
		t.Fatalf("error: %s", resp.Error)
	}
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.target != 777 || !ctrl.tree {
		t.Errorf("target = (%d, %v), want (777, true)", ctrl.target, ctrl.tree)
	}
}

func TestControlSetTargetRequiresPID(t *testing.T) {
	srv := startServer(t, &fakeController{})
	conn := dialServer(t, srv)

	resp := roundTrip(t, conn, Request{Command: "set-target"})
	if resp.OK {
		t.Fatal("accepted set-target without a pid")
	}
}

func TestControlUnknownCommand(t *testing.T) {
	srv := startServer(t, &fakeController{})
	conn := dialServer(t, srv)

	resp := roundTrip(t, conn, Request{Command: "reboot"})
	if resp.OK || resp.Error == "" {
		t.Fatalf("response = %+v, want error", resp)
	}
}

func TestControlMalformedJSON(t *testing.T) {
	srv := startServer(t, &fakeController{})
	conn := dialServer(t, srv)

	if _, err := conn.Write([]byte("{nope\n")); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OK {
		t.Fatal("accepted malformed request")
	}
}
