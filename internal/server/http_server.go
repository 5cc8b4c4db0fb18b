package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/portalchat/internal/chatbot"
	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/session"
	"github.com/Tyrowin/portalchat/internal/stats"
	"github.com/Tyrowin/portalchat/internal/store"
)

// Deps are the collaborators a Server is built from.
type Deps struct {
	Config  *config.Config
	Store   *store.Store
	Gate    *session.Gate
	Chatbot *chatbot.Service
	Stats   *stats.Aggregator
	Logger  logging.Logger
}

// Server bundles the HTTP handlers, the hub and their dependencies.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	gate     *session.Gate
	chatbot  *chatbot.Service
	stats    *stats.Aggregator
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// New wires a Server and subscribes its hub to session events. Call StartHub
// before serving.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}

	hub := NewHub(d.Stats, d.Gate.Sessions(), logger)
	d.Gate.Sessions().Subscribe(hub)

	s := &Server{
		cfg:     d.Config,
		store:   d.Store,
		gate:    d.Gate,
		chatbot: d.Chatbot,
		stats:   d.Stats,
		hub:     hub,
		origins: newOriginPolicy(d.Config, logger.With("module", "origin")),
		logger:  logger.With("module", "http"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StartHub runs the hub loop in its own goroutine.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Info(context.Background(), "hub started")
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer listens until the server is shut down. http.ErrServerClosed is
// reported as nil.
func (s *Server) StartServer(srv *http.Server) error {
	s.logger.Info(context.Background(), "server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes every real-time connection, then stops the HTTP server
// without interrupting in-flight requests.
func (s *Server) Shutdown(srv *http.Server, timeout time.Duration) error {
	hubErr := s.hub.Shutdown(timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info(ctx, "shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "HTTP server shutdown error", "error", err)
		return errors.Join(hubErr, err)
	}

	s.logger.Info(ctx, "HTTP server shutdown completed")
	return hubErr
}
