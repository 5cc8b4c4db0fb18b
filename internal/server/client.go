package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Client is one real-time connection. Its identity is a snapshot of the
// session taken when the connection was established.
type Client struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	hub   *Hub
	addr  string
	token string
	state atomic.Int32

	// presence and connectedAt are owned by the hub loop.
	presence    models.Presence
	connectedAt time.Time

	// closeFrame is set by the hub before it closes send.
	closeFrame []byte

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      config.RateLimitConfig
	logger         logging.Logger
}

// NewClient creates a Pending client for conn bound to session s.
func NewClient(conn *websocket.Conn, hub *Hub, s models.Session, addr string, cfg *config.Config, logger logging.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}

	id := uuid.NewString()
	c := &Client{
		id:    id,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		hub:   hub,
		addr:  addr,
		token: s.Token,
		presence: models.Presence{
			UserID: s.UserID,
			Name:   s.DisplayName,
			Theme:  s.SelectedTheme,
			Role:   s.Role,
		},
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		logger:         logger.With("conn", id, "addr", addr),
	}
	c.setState(StatePending)
	return c
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// State returns the connection's lifecycle state.
func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// reject closes a connection that never became Active.
func (c *Client) reject(code int, text string) {
	if c.conn == nil {
		return
	}
	deadline := time.Now().Add(writeWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn(context.Background(), "failed to write close frame", "error", err)
	}
	c.closeConnection()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	ctx := context.Background()
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn(ctx, "error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn(ctx, "error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs the read failure; every read error ends the read loop.
func (c *Client) handleReadError(err error) {
	ctx := context.Background()

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn(ctx, "message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info(ctx, "client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info(ctx, "client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn(ctx, "unexpected websocket close", "error", err)
	default:
		c.logger.Warn(ctx, "websocket read error", "error", err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn(context.Background(), "rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// parseMessage turns a raw frame into a chat body, or a rejection text to be
// sent back to this connection only.
func parseMessage(raw []byte) (body string, reject string) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", "malformed message"
	}
	if env.Type != EventChatMessage {
		return "", "unsupported event type"
	}

	var in ChatInput
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return "", "malformed chat message"
	}

	body = strings.TrimSpace(in.Body)
	if body == "" {
		return "", "message body must not be empty"
	}
	return body, ""
}

func (c *Client) processMessage(raw []byte) {
	body, reject := parseMessage(raw)
	if reject != "" {
		c.logger.Debug(context.Background(), "rejected client message", "reason", reject)
	}
	c.hub.submit(inboundMessage{client: c, body: body, reject: reject})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			c.hub.submit(inboundMessage{client: c, reject: "rate limit exceeded"})
			continue
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn(context.Background(), "error closing connection", "error", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the
// connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn(context.Background(), "error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends the close frame chosen by the hub.
func (c *Client) writeCloseMessage() bool {
	frame := c.closeFrame
	if frame == nil {
		frame = []byte{}
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, frame); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn(context.Background(), "error writing close message", "error", err)
	}
	return false
}

// writeTextMessage writes one event per frame so clients can decode each
// frame as a single Envelope.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn(context.Background(), "error writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn(context.Background(), "error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn(context.Background(), "error writing ping", "error", err)
		return false
	}
	return true
}
