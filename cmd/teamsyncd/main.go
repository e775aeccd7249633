package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teamsync/realtime/internal/config"
	"github.com/teamsync/realtime/internal/logging"
	"github.com/teamsync/realtime/realtime"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("teamsyncd starting",
		slog.String("version", Version),
		slog.String("user", cfg.UserID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := realtime.NewConn(realtime.ConnConfig{
		URL:    cfg.ServerWSURL,
		UserID: cfg.UserID,
		Token:  cfg.AuthToken,
	}, logging.WithComponent(logger, "conn"))

	registry := realtime.NewRegistry(conn, logging.WithComponent(logger, "registry"))

	messages := realtime.NewMessageStore(logging.WithComponent(logger, "messages"))

	api := realtime.NewAPIClient(cfg.NotificationAPIURL, cfg.AuthToken, nil)
	notifications := realtime.NewNotificationStore(api, logging.WithComponent(logger, "notifications"))

	conn.OnStateChange(func(s realtime.State) {
		logger.Info("connection state changed", slog.String("state", s.String()))
		if s == realtime.StateConnected {
			subscribeUser(registry, messages, notifications, cfg.UserID, logger)
		}
	})

	if err := conn.Connect(ctx); err != nil {
		// Not connected is a normal, retryable condition: the backoff
		// loop keeps dialing and the Connected hook re-subscribes.
		logger.Warn("initial connect failed", slog.String("error", err.Error()))
	}
	defer conn.Disconnect()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := notifications.Load(gctx); err != nil {
			// Live events still flow; the initial snapshot is best-effort.
			logger.Warn("initial notification load failed", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}

	return err
}

// subscribeUser attaches the user's inbox and notification stream. Called
// on every transition to Connected: subscriptions do not survive a
// disconnect, so each reconnect re-subscribes.
func subscribeUser(registry *realtime.Registry, messages *realtime.MessageStore, notifications *realtime.NotificationStore, userID string, logger *slog.Logger) {
	registry.SubscribeToUser(userID, func(body []byte) {
		ev, ok := realtime.NormalizeMessageEvent(body)
		if !ok {
			logger.Debug("dropping undecodable message frame")
			return
		}
		messages.Apply(ev)
	})

	registry.SubscribeToNotifications(userID, func(body []byte) {
		ev, ok := realtime.NormalizeNotificationEvent(body)
		if !ok {
			logger.Debug("dropping undecodable notification frame")
			return
		}
		notifications.Apply(ev)
	})

	logger.Info("subscribed", slog.String("user", userID))
}
