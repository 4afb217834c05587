package server

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pirkus/nvo-servers/core/request"
	"github.com/pirkus/nvo-servers/core/response"
)

func TestServerBuildStartServeShutdown(t *testing.T) {
	s := New("127.0.0.1:0", WithWorkerCount(2), WithPollTimeout(20*time.Millisecond))
	s.Handle("GET", "/ping", func(*request.Request) (*response.Response, error) {
		return response.OK().BodyString("pong"), nil
	})

	if err := s.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatalf("expected bound address after Build")
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- s.Start(ctx) }()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4096)
	n, _ := conn.Read(buf)
	out := string(buf[:n])
	conn.Close()

	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") || !strings.HasSuffix(out, "pong") {
		t.Fatalf("unexpected response: %q", out)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestHandlePanicsOnDuplicateRoute(t *testing.T) {
	s := New("127.0.0.1:0")
	s.Handle("GET", "/x", func(*request.Request) (*response.Response, error) { return nil, nil })

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on duplicate route registration")
		}
	}()
	s.Handle("GET", "/x", func(*request.Request) (*response.Response, error) { return nil, nil })
}

func TestWithOptionsAppliedBeforeBuild(t *testing.T) {
	s := New("127.0.0.1:0",
		WithMaxHeaderBytes(4096),
		WithMaxBodyBytes(2048),
		WithKeepAlive(true),
	)
	limits := s.Limits()
	if limits.MaxHeaderBytes != 4096 || limits.MaxBodyBytes != 2048 {
		t.Fatalf("unexpected limits: %+v", limits)
	}
	if !s.cfg.KeepAlive {
		t.Fatalf("expected keep-alive enabled")
	}
}
