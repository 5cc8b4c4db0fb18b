package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/portalchat/internal/chatbot"
	"github.com/Tyrowin/portalchat/internal/server"
	"github.com/Tyrowin/portalchat/internal/session"
	"github.com/Tyrowin/portalchat/internal/stats"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the portal server",
		Long: `Serves the HTTP API and the real-time chat channel until SIGINT or SIGTERM.

On shutdown every chat connection receives a going-away close frame, then
in-flight HTTP requests are drained and the store is closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

// serve blocks until ctx is done or the listener fails.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	logger.Info(ctx, "starting portal", "config", cfg.String())

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error(context.Background(), "failed to close store", "error", err)
		}
	}()

	sessions := session.NewRegistry(cfg.Session.TTL)
	gate := session.NewGate(st, sessions, cfg.Session, logger)

	srv := server.New(server.Deps{
		Config:  cfg,
		Store:   st,
		Gate:    gate,
		Chatbot: chatbot.NewService(st, cfg.Chatbot.QuestionLimit, logger),
		Stats:   stats.NewAggregator(st, logger),
		Logger:  logger,
	})
	srv.StartHub()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sessions.RunSweeper(sweepCtx, cfg.Session.SweepInterval)

	httpServer := server.CreateServer(cfg.Addr, srv.Routes())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.StartServer(httpServer)
	}()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			_ = srv.Hub().Shutdown(cfg.ShutdownTimeout)
			return fmt.Errorf("http server: %w", err)
		}
	}

	if err := srv.Shutdown(httpServer, cfg.ShutdownTimeout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info(context.Background(), "portal stopped")
	return nil
}
