package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
)

// statsTimeout bounds the asynchronous statistics write after a chat message.
const statsTimeout = 5 * time.Second

// ChatRecorder counts broadcast chat messages. Implementations log their own
// failures; chat delivery never waits on them.
type ChatRecorder interface {
	RecordChatMessage(ctx context.Context)
}

// SessionChecker reports whether a session token is still live without
// side effects.
type SessionChecker interface {
	Alive(token string) bool
}

type inboundMessage struct {
	client *Client
	body   string
	reject string
}

// Hub owns the connection registry. Its Run loop is the only writer of the
// registry and of every client's send channel.
type Hub struct {
	clients  map[string]*Client
	mutex    sync.RWMutex
	stats    ChatRecorder
	sessions SessionChecker
	logger   logging.Logger
	now      func() time.Time

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	evict      chan string
	refresh    chan models.Session

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub. Call Run in its own goroutine before registering
// clients.
func NewHub(recorder ChatRecorder, sessions SessionChecker, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		stats:      recorder,
		sessions:   sessions,
		logger:     logger.With("module", "hub"),
		now:        time.Now,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundMessage),
		evict:      make(chan string),
		refresh:    make(chan models.Session),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a Pending client to the hub. It reports false once the hub
// has shut down, in which case the caller still owns the connection.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes c. It is a no-op for clients already removed.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) submit(msg inboundMessage) {
	select {
	case h.inbound <- msg:
	case <-h.ctx.Done():
	}
}

// SessionInvalidated terminates every connection bound to token.
func (h *Hub) SessionInvalidated(token string) {
	select {
	case h.evict <- token:
	case <-h.ctx.Done():
	}
}

// SessionUpdated re-syncs the metadata of connections bound to s.
func (h *Hub) SessionUpdated(s models.Session) {
	select {
	case h.refresh <- s:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of Active connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Presence returns the public metadata of every Active connection, oldest
// connection first.
func (h *Hub) Presence() []models.Presence {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.presenceLocked()
}

func (h *Hub) presenceLocked() []models.Presence {
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].connectedAt.Equal(clients[j].connectedAt) {
			return clients[i].id < clients[j].id
		}
		return clients[i].connectedAt.Before(clients[j].connectedAt)
	})

	out := make([]models.Presence, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.presence)
	}
	return out
}

// Run starts the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			if h.remove(client, nil) {
				h.logger.Info(h.ctx, "client unregistered", "conn", client.id, "addr", client.addr, "total", h.ClientCount())
				h.broadcastPresence()
			}

		case msg := <-h.inbound:
			h.handleInbound(msg)

		case token := <-h.evict:
			h.handleEvict(token)

		case s := <-h.refresh:
			h.handleRefresh(s)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.logger.Warn(h.ctx, "received nil client registration; skipping")
		return
	}

	if h.sessions != nil && !h.sessions.Alive(client.token) {
		client.setState(StateRejected)
		h.logger.Info(h.ctx, "client rejected: session no longer valid", "conn", client.id, "addr", client.addr)
		// The close handshake can stall on a slow peer; keep it off the loop.
		go client.reject(websocket.ClosePolicyViolation, "session expired")
		return
	}

	client.connectedAt = h.now()
	client.setState(StateActive)

	h.mutex.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info(h.ctx, "client registered", "conn", client.id, "user_id", client.presence.UserID, "addr", client.addr, "total", total)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	h.broadcastPresence()
}

// remove drops client from the registry and closes its send channel so the
// write pump sends closeFrame (or an empty close frame when nil) and exits.
func (h *Hub) remove(client *Client, closeFrame []byte) bool {
	h.mutex.Lock()
	if current, ok := h.clients[client.id]; !ok || current != client {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, client.id)
	h.mutex.Unlock()

	client.setState(StateClosed)
	client.closeFrame = closeFrame
	close(client.send)
	return true
}

func (h *Hub) handleInbound(msg inboundMessage) {
	h.mutex.RLock()
	_, active := h.clients[msg.client.id]
	h.mutex.RUnlock()
	if !active {
		return
	}

	if msg.reject != "" {
		payload, err := encodeEvent(EventError, ErrorPayload{Error: msg.reject})
		if err != nil {
			h.logger.Error(h.ctx, "failed to encode error event", "error", err)
			return
		}
		if !h.safeSend(msg.client, payload) {
			h.removeFailedClients([]*Client{msg.client})
			h.broadcastPresence()
		}
		return
	}

	sender := msg.client.presence
	chat := models.ChatMessage{
		UserID:    sender.UserID,
		Name:      sender.Name,
		Role:      sender.Role,
		Body:      msg.body,
		Timestamp: h.now().UTC(),
	}

	payload, err := encodeEvent(EventChatMessage, chat)
	if err != nil {
		h.logger.Error(h.ctx, "failed to encode chat message", "error", err)
		return
	}

	h.logger.Debug(h.ctx, "broadcasting chat message", "conn", msg.client.id, "user_id", chat.UserID)
	if removed := h.broadcast(payload); removed > 0 {
		h.broadcastPresence()
	}

	if h.stats != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
			defer cancel()
			h.stats.RecordChatMessage(ctx)
		}()
	}
}

func (h *Hub) handleEvict(token string) {
	closeFrame := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended")

	evicted := 0
	for _, c := range h.clientsForToken(token) {
		if h.remove(c, closeFrame) {
			evicted++
		}
	}

	if evicted > 0 {
		h.logger.Info(h.ctx, "session ended, connections evicted", "count", evicted)
		h.broadcastPresence()
	}
}

func (h *Hub) handleRefresh(s models.Session) {
	clients := h.clientsForToken(s.Token)
	if len(clients) == 0 {
		return
	}

	h.mutex.Lock()
	for _, c := range clients {
		c.presence.Name = s.DisplayName
		c.presence.Role = s.Role
		c.presence.Theme = s.SelectedTheme
	}
	h.mutex.Unlock()

	h.broadcastPresence()
}

func (h *Hub) clientsForToken(token string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var out []*Client
	for _, c := range h.clients {
		if c.token == token {
			out = append(out, c)
		}
	}
	return out
}

// broadcastPresence sends the full presence list to every connection. A
// failed delivery removes that connection, which changes the list, so the
// loop repeats until a round completes without removals.
func (h *Hub) broadcastPresence() {
	for {
		payload, err := encodeEvent(EventPresenceUpdate, h.Presence())
		if err != nil {
			h.logger.Error(h.ctx, "failed to encode presence", "error", err)
			return
		}
		if h.broadcast(payload) == 0 {
			return
		}
	}
}

// broadcast delivers payload to every Active connection, the sender
// included, and returns how many connections had to be dropped.
func (h *Hub) broadcast(payload []byte) int {
	clients := h.getClientSnapshot()

	var failed []*Client
	for _, c := range clients {
		if !h.safeSend(c, payload) {
			failed = append(failed, c)
		}
	}
	return h.removeFailedClients(failed)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients drops slow consumers whose send buffer is full.
func (h *Hub) removeFailedClients(clients []*Client) int {
	closeFrame := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow")

	removed := 0
	for _, c := range clients {
		if h.remove(c, closeFrame) {
			removed++
			h.logger.Warn(h.ctx, "client removed due to full send buffer", "conn", c.id, "addr", c.addr)
		}
	}
	return removed
}

// shutdownClients closes every registered connection with a going-away frame.
func (h *Hub) shutdownClients() {
	closeFrame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")

	clients := h.getClientSnapshot()
	for _, c := range clients {
		h.remove(c, closeFrame)
	}

	h.logger.Info(context.Background(), "closed client connections", "count", len(clients))
}

// Shutdown stops the event loop and waits for client goroutines and pending
// statistics writes, or until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info(context.Background(), "initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info(context.Background(), "hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn(context.Background(), "hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
