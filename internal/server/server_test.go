package server

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
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/portalchat/internal/chatbot"
	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/session"
	"github.com/Tyrowin/portalchat/internal/stats"
	"github.com/Tyrowin/portalchat/internal/store"
	"github.com/Tyrowin/portalchat/internal/store/memstore"
)

const readTimeout = 2 * time.Second

type harness struct {
	srv     *Server
	http    *httptest.Server
	store   *store.Store
	backend *memstore.Backend
	cfg     *config.Config
}

func newHarness(t *testing.T, customize func(cfg *config.Config)) *harness {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Session.HashCost = 4
	cfg.Storage.Driver = config.DriverMemory
	cfg.AllowedOrigins = []string{"*"}
	cfg.Sanitize()
	if customize != nil {
		customize(cfg)
	}

	backend := memstore.New()
	st, err := store.Open(context.Background(), backend, nil, logging.NopLogger{})
	require.NoError(t, err)

	gate := session.NewGate(st, session.NewRegistry(cfg.Session.TTL), cfg.Session, nil)
	srv := New(Deps{
		Config:  cfg,
		Store:   st,
		Gate:    gate,
		Chatbot: chatbot.NewService(st, cfg.Chatbot.QuestionLimit, nil),
		Stats:   stats.NewAggregator(st, nil),
	})
	srv.StartHub()

	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(time.Second)
		ts.Close()
		_ = st.Close()
	})

	return &harness{srv: srv, http: ts, store: st, backend: backend, cfg: cfg}
}

func (h *harness) do(t *testing.T, method, path, cookie string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, h.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: h.cfg.Session.CookieName, Value: cookie})
	}

	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) sessionCookie(t *testing.T, resp *http.Response) string {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == h.cfg.Session.CookieName {
			return c.Value
		}
	}
	t.Fatalf("response carries no %s cookie", h.cfg.Session.CookieName)
	return ""
}

// register creates a user through the HTTP API and returns its cookie.
func (h *harness) register(t *testing.T, name, email string) string {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/registro", "", map[string]string{
		"name": name, "email": email, "credential": "secret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return h.sessionCookie(t, resp)
}

// promote gives an existing user an elevated role.
func (h *harness) promote(t *testing.T, email string, role models.Role) {
	t.Helper()
	require.NoError(t, h.store.Update(context.Background(), func(doc *models.Document) error {
		doc.UserByEmail(email).Role = role
		return nil
	}))
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
}

func (h *harness) dial(t *testing.T, cookie string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", h.http.URL)
	if cookie != "" {
		header.Set("Cookie", h.cfg.Session.CookieName+"="+cookie)
	}
	dialer := websocket.Dialer{HandshakeTimeout: readTimeout}
	return dialer.Dial(h.wsURL(), header)
}

func (h *harness) connect(t *testing.T, cookie string) *websocket.Conn {
	t.Helper()
	conn, resp, err := h.dial(t, cookie)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// nextEvent skips frames until one of eventType arrives.
func nextEvent(t *testing.T, conn *websocket.Conn, eventType string) Envelope {
	t.Helper()
	for {
		env := readEnvelope(t, conn)
		if env.Type == eventType {
			return env
		}
	}
}

// waitForPresence reads presence updates until one lists n connections.
func waitForPresence(t *testing.T, conn *websocket.Conn, n int) []models.Presence {
	t.Helper()
	for {
		env := nextEvent(t, conn, EventPresenceUpdate)
		var list []models.Presence
		require.NoError(t, json.Unmarshal(env.Payload, &list))
		if len(list) == n {
			return list
		}
	}
}

func sendChat(t *testing.T, conn *websocket.Conn, body string) {
	t.Helper()
	payload, err := json.Marshal(ChatInput{Body: body})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Type: EventChatMessage, Payload: payload}))
}
