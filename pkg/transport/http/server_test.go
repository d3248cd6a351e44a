package http

import (
	"context"
	"encoding/json"
	"net"
	gohttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/api"
)

func startServer(t *testing.T, srv *Server) (addr string, stop func() error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	return ln.Addr().String(), func() error {
		cancel()
		return <-done
	}
}

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	srv := NewServer(&fakeService{})
	addr, stop := startServer(t, srv)
	defer func() {
		if err := stop(); err != nil {
			t.Errorf("Serve() = %v", err)
		}
	}()

	resp, err := gohttp.Get("http://" + addr + "/api/v1/activities/act-1")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}
	var got api.Activity
	json.NewDecoder(resp.Body).Decode(&got)
	if got.ID != "act-1" {
		t.Errorf("activity ID = %q, want act-1", got.ID)
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	svc := &fakeService{block: make(chan struct{})}
	srv := NewServer(svc, WithShutdownTimeout(5*time.Second))
	addr, stop := startServer(t, srv)

	statusCh := make(chan int, 1)
	go func() {
		body := `{"student_id":"s","tutor_id":"t","topic":"x","activity_description":"d"}`
		resp, err := gohttp.Post("http://"+addr+"/api/v1/agents/activity", "application/json", strings.NewReader(body))
		if err != nil {
			statusCh <- 0
			return
		}
		defer resp.Body.Close()
		statusCh <- resp.StatusCode
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(svc.createdSnapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(svc.block)
	}()
	if err := stop(); err != nil {
		t.Errorf("Serve() = %v", err)
	}

	if status := <-statusCh; status != gohttp.StatusOK {
		t.Errorf("in-flight request status = %d, want %d", status, gohttp.StatusOK)
	}
}

func TestServerShutdownCancelsLongOperations(t *testing.T) {
	svc := &fakeService{block: make(chan struct{})}
	srv := NewServer(svc, WithShutdownTimeout(50*time.Millisecond))
	addr, stop := startServer(t, srv)

	go func() {
		body := `{"student_id":"s","tutor_id":"t","topic":"x","activity_description":"d"}`
		resp, err := gohttp.Post("http://"+addr+"/api/v1/agents/activity", "application/json", strings.NewReader(body))
		if err == nil {
			resp.Body.Close()
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Adapter().InFlight().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// The shutdown deadline passes while the operation is still blocked.
	stop()

	if n := srv.Adapter().InFlight().Len(); n != 0 {
		t.Errorf("in-flight after shutdown = %d, want 0", n)
	}
}

func TestServerFunctionalOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodySize = 1024
	srv := NewServer(&fakeService{},
		WithAddr(":9999"),
		WithAdapterConfig(cfg),
		WithShutdownTimeout(10*time.Second),
		WithTimeouts(30*time.Second, 15*time.Minute),
	)

	if srv.config.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.config.Addr, ":9999")
	}
	if srv.config.Adapter.MaxBodySize != 1024 {
		t.Errorf("max body size = %d, want %d", srv.config.Adapter.MaxBodySize, 1024)
	}
	if srv.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, 10*time.Second)
	}
	if srv.httpServer.ReadTimeout != 30*time.Second || srv.httpServer.WriteTimeout != 15*time.Minute {
		t.Errorf("timeouts = %v/%v, want 30s/15m", srv.httpServer.ReadTimeout, srv.httpServer.WriteTimeout)
	}
}
