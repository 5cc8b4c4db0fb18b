// Package testhelpers provides common utilities and helper functions for testing the portal server.
//
// It assembles a complete Server over an in-memory backend and offers small
// helpers for the HTTP API and the real-time channel, so integration tests
// exercise the same wiring as the production binary.
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/portalchat/internal/chatbot"
	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/server"
	"github.com/Tyrowin/portalchat/internal/session"
	"github.com/Tyrowin/portalchat/internal/stats"
	"github.com/Tyrowin/portalchat/internal/store"
	"github.com/Tyrowin/portalchat/internal/store/memstore"
)

// TestOrigin is the browser origin every helper connection presents.
const TestOrigin = "http://localhost:8080"

// DefaultCredential is the credential used by RegisterUser.
const DefaultCredential = "correct horse battery staple"

// Portal is a running server with its collaborators exposed for assertions.
type Portal struct {
	Server  *server.Server
	HTTP    *httptest.Server
	Store   *store.Store
	Backend *memstore.Backend
	Config  *config.Config
}

// NewConfig returns a configuration suited to tests: cheap hashing, the
// in-memory backend and TestOrigin allowed.
func NewConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Session.HashCost = 4
	cfg.Storage.Driver = config.DriverMemory
	cfg.AllowedOrigins = []string{TestOrigin}
	cfg.Sanitize()
	return cfg
}

// BuildServer wires a Server for cfg over a fresh in-memory Store without
// starting anything.
func BuildServer(t *testing.T, cfg *config.Config) (*server.Server, *store.Store, *memstore.Backend) {
	t.Helper()

	backend := memstore.New()
	st, err := store.Open(context.Background(), backend, nil, logging.NopLogger{})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	gate := session.NewGate(st, session.NewRegistry(cfg.Session.TTL), cfg.Session, nil)
	srv := server.New(server.Deps{
		Config:  cfg,
		Store:   st,
		Gate:    gate,
		Chatbot: chatbot.NewService(st, cfg.Chatbot.QuestionLimit, nil),
		Stats:   stats.NewAggregator(st, nil),
	})
	return srv, st, backend
}

// StartPortal builds a Server, starts its hub and serves it from an
// httptest.Server. Everything is torn down when the test ends.
func StartPortal(t *testing.T, customize func(cfg *config.Config)) *Portal {
	t.Helper()

	cfg := NewConfig()
	if customize != nil {
		customize(cfg)
	}

	srv, st, backend := BuildServer(t, cfg)
	srv.StartHub()
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(time.Second)
		ts.Close()
		_ = st.Close()
	})

	return &Portal{Server: srv, HTTP: ts, Store: st, Backend: backend, Config: cfg}
}

// WebSocketURL returns the real-time endpoint of the test server.
func (p *Portal) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(p.HTTP.URL, "http") + "/ws"
}

// PostJSON sends body as JSON, attaching the session cookie when set.
func (p *Portal) PostJSON(t *testing.T, path, cookie string, body any) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	return p.Do(t, http.MethodPost, path, cookie, bytes.NewReader(raw))
}

// Do executes a request against the test server with a 5-second timeout.
func (p *Portal) Do(t *testing.T, method, path, cookie string, body *bytes.Reader) *http.Response {
	t.Helper()

	if body == nil {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, p.HTTP.URL+path, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: p.Config.Session.CookieName, Value: cookie})
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// SessionCookie extracts the session cookie value from resp.
func (p *Portal) SessionCookie(t *testing.T, resp *http.Response) string {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == p.Config.Session.CookieName {
			return c.Value
		}
	}
	t.Fatalf("Response has no %s cookie", p.Config.Session.CookieName)
	return ""
}

// RegisterUser creates an account with DefaultCredential and returns its
// session cookie.
func (p *Portal) RegisterUser(t *testing.T, name, email string) string {
	t.Helper()
	resp := p.PostJSON(t, "/api/registro", "", map[string]string{
		"name": name, "email": email, "credential": DefaultCredential,
	})
	AssertStatusCode(t, resp, http.StatusCreated)
	return p.SessionCookie(t, resp)
}

// Login authenticates an existing account and returns its session cookie.
func (p *Portal) Login(t *testing.T, email string) string {
	t.Helper()
	resp := p.PostJSON(t, "/api/login", "", map[string]string{
		"email": email, "credential": DefaultCredential,
	})
	AssertStatusCode(t, resp, http.StatusOK)
	return p.SessionCookie(t, resp)
}

// SetRole changes a stored user's role. Sessions created afterwards carry it.
func (p *Portal) SetRole(t *testing.T, email string, role models.Role) {
	t.Helper()
	err := p.Store.Update(context.Background(), func(doc *models.Document) error {
		doc.UserByEmail(email).Role = role
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to set role: %v", err)
	}
}

// Statistics returns the stored counters.
func (p *Portal) Statistics(t *testing.T) models.Statistics {
	t.Helper()
	var out models.Statistics
	err := p.Store.View(context.Background(), func(doc *models.Document) error {
		out = doc.Statistics
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to read statistics: %v", err)
	}
	return out
}

// ConnectWebSocket opens the real-time channel for cookie with TestOrigin.
func (p *Portal) ConnectWebSocket(cookie string) (*websocket.Conn, *http.Response, error) {
	return DialWebSocket(p.WebSocketURL(), TestOrigin, p.Config.Session.CookieName, cookie)
}

// MustConnect is ConnectWebSocket that fails the test on error.
func (p *Portal) MustConnect(t *testing.T, cookie string) *websocket.Conn {
	t.Helper()
	conn, resp, err := p.ConnectWebSocket(cookie)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWebSocket connects to url presenting origin and, when set, the session
// cookie.
func DialWebSocket(url, origin, cookieName, cookie string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	if cookie != "" {
		headers.Set("Cookie", cookieName+"="+cookie)
	}

	return dialer.Dial(url, headers)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// SendChat sends a chatMessage event with body.
func SendChat(conn *websocket.Conn, body string) error {
	payload, err := json.Marshal(server.ChatInput{Body: body})
	if err != nil {
		return err
	}
	return conn.WriteJSON(server.Envelope{Type: server.EventChatMessage, Payload: payload})
}

// ReadEvent reads the next envelope, waiting at most timeout.
func ReadEvent(conn *websocket.Conn, timeout time.Duration) (server.Envelope, error) {
	var env server.Envelope
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return env, err
	}
	err := conn.ReadJSON(&env)
	return env, err
}

// WaitForEvent skips envelopes until one of eventType arrives.
func WaitForEvent(t *testing.T, conn *websocket.Conn, eventType string, timeout time.Duration) server.Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		env, err := ReadEvent(conn, time.Until(deadline))
		if err != nil {
			t.Fatalf("Waiting for %s: %v", eventType, err)
		}
		if env.Type == eventType {
			return env
		}
	}
}

// WaitForChat returns the next chat message on conn.
func WaitForChat(t *testing.T, conn *websocket.Conn, timeout time.Duration) models.ChatMessage {
	t.Helper()
	env := WaitForEvent(t, conn, server.EventChatMessage, timeout)
	var msg models.ChatMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		t.Fatalf("Failed to decode chat message: %v", err)
	}
	return msg
}

// WaitForPresence reads presence updates until one lists n connections.
func WaitForPresence(t *testing.T, conn *websocket.Conn, n int, timeout time.Duration) []models.Presence {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		env := WaitForEvent(t, conn, server.EventPresenceUpdate, time.Until(deadline))
		var list []models.Presence
		if err := json.Unmarshal(env.Payload, &list); err != nil {
			t.Fatalf("Failed to decode presence: %v", err)
		}
		if len(list) == n {
			return list
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
