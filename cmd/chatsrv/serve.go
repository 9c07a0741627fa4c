package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/wtask/chatcast/internal/admin"
	"github.com/wtask/chatcast/internal/chat"
	"github.com/wtask/chatcast/internal/chat/broker"
)

func serveCmd(cfg *Configuration, logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Launch chat server",
		Long: `Launch chat server and serve until SIGINT or SIGTERM.

Examples:
  chatsrv serve
  chatsrv serve --port=8052 --history-greets=20
  chatsrv serve --admin=127.0.0.1:8053 --log-format=json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *cfg, logger())
		},
	}
	cfg.bindFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg Configuration, logger *slog.Logger) error {
	logger.Info("started with config", "config", fmt.Sprintf("%+v", cfg))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server, err := chat.NewServer(
		chat.WithLogger(logger),
		chat.WithBrokerOptions(
			broker.WithMetrics(registry),
			broker.WithMaxFrameSize(cfg.MaxFrameSize),
			broker.WithReadTimeout(cfg.ClientIdleTimeout),
			broker.WithWriteTimeout(cfg.ClientWriteTimeout),
			broker.WithHistoryGreets(cfg.ClientHistoryGreets),
			broker.WithSenderEcho(cfg.SenderEcho),
			broker.WithPayloadCleaning(cfg.CleanPayloads),
		),
	)
	if err != nil {
		return fmt.Errorf("can't start chat server: %w", err)
	}

	failed := make(chan error, 2)
	go func() {
		failed <- server.ListenAndServe(cfg.Address())
	}()

	var adminServer *http.Server
	if cfg.AdminAddress != "" {
		adminServer = &http.Server{
			Addr: cfg.AdminAddress,
			Handler: admin.NewRouter(server,
				admin.WithGatherer(registry),
				admin.WithLogger(logger.With("component", "admin")),
			),
		}
		go func() {
			logger.Info("admin listening", "address", cfg.AdminAddress)
			if err := adminServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				failed <- fmt.Errorf("admin: %w", err)
			}
		}()
	}

	var cause error
	select {
	case <-ctx.Done():
		logger.Info("got stop signal")
	case cause = <-failed:
		logger.Error("serve failure", "error", cause)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin shutdown", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Join(cause, err)
	}
	logger.Info("chat server stopped, bye")
	return cause
}
