package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/portalchat/internal/server"
	"github.com/Tyrowin/portalchat/test/testhelpers"
)

// TestGracefulShutdown verifies that the hub stops cleanly with no clients.
func TestGracefulShutdown(t *testing.T) {
	hub := server.NewHub(nil, nil, nil)
	go hub.Run()

	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Errorf("Hub shutdown failed: %v", err)
	}
}

// startProductionServer serves the portal with the production http.Server
// settings so Server.Shutdown can be exercised end to end.
func startProductionServer(t *testing.T) (*testhelpers.Portal, *http.Server) {
	t.Helper()

	cfg := testhelpers.NewConfig()
	srv, st, backend := testhelpers.BuildServer(t, cfg)
	srv.StartHub()

	httpServer := server.CreateServer(cfg.Addr, srv.Routes())
	ts := httptest.NewUnstartedServer(httpServer.Handler)
	ts.Config = httpServer
	ts.Start()

	t.Cleanup(func() {
		ts.Close()
		_ = st.Close()
	})

	return &testhelpers.Portal{Server: srv, HTTP: ts, Store: st, Backend: backend, Config: cfg}, httpServer
}

// TestGracefulShutdownWithClients verifies that active client connections
// receive a going-away close frame during graceful shutdown.
func TestGracefulShutdownWithClients(t *testing.T) {
	p, httpServer := startProductionServer(t)

	const numClients = 5
	clients := make([]*websocket.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		cookie := p.RegisterUser(t, "User", "user"+string(rune('a'+i))+"@example.com")
		clients = append(clients, p.MustConnect(t, cookie))
	}
	testhelpers.WaitForPresence(t, clients[0], numClients, eventTimeout)

	done := make(chan error, 1)
	go func() {
		done <- p.Server.Shutdown(httpServer, 5*time.Second)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Shutdown timeout exceeded")
	}

	for i, conn := range clients {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		for {
			_, _, err := conn.ReadMessage()
			if err == nil {
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("Client %d: expected going-away close, got %v", i, err)
			}
			break
		}
	}

	if n := p.Server.Hub().ClientCount(); n != 0 {
		t.Errorf("Expected no clients after shutdown, got %d", n)
	}
}

// TestShutdownRefusesNewConnections verifies that a connection upgraded
// after the hub stopped is closed instead of registered.
func TestShutdownRefusesNewConnections(t *testing.T) {
	p := testhelpers.StartPortal(t, nil)
	cookie := p.RegisterUser(t, "Ana", "ana@example.com")

	if err := p.Server.Hub().Shutdown(time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}

	conn, resp, err := p.ConnectWebSocket(cookie)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Expected going-away close, got %v", err)
	}
}

// TestConcurrentShutdown calls Shutdown from several goroutines.
func TestConcurrentShutdown(t *testing.T) {
	hub := server.NewHub(nil, nil, nil)
	go hub.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { errs <- hub.Shutdown(2 * time.Second) }()
	}

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Errorf("Shutdown %d failed: %v", i, err)
			}
		case <-ctx.Done():
			t.Fatal("Concurrent shutdown did not finish")
		}
	}
}
