package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/config"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/handlers"
	httpx "github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/http"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/service"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version はビルド時に -ldflags "-X main.version=..." で上書きします
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "signal-server",
		Short:         "WebRTC signaling and room coordination server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(v)
			logger := newLogger(cfg)
			slog.SetDefault(logger)
			if err := run(cfg, logger); err != nil {
				logger.Error("server exited with error", "error", err)
				return err
			}
			return nil
		},
	}
	if err := config.BindFlags(cmd.Flags(), v); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}
	return cmd
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg config.Config, logger *slog.Logger) error {
	hub := handlers.NewHub(cfg.WebSocket.SendBuffer, logger)
	coord := service.NewCoordinator(hub, logger)

	status := handlers.NewStatusHandler(coord, version)
	rooms := handlers.NewRoomHandler(coord)
	ws := handlers.NewWebSocketHandler(coord, hub, cfg, logger)
	router := httpx.NewRouter(status, rooms, ws, cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// サーバーを別goroutineで起動
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "allowedOrigins", cfg.AllowedOrigins, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// シャットダウンシグナルを待つ
	// HTTPサーバーを止めてからWebSocket接続を閉じ、切断処理の完了を待つ
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"signal-server": func(ctx context.Context) error {
				logger.Info("shutdown signal received, shutting down gracefully...")
				if err := srv.Shutdown(ctx); err != nil {
					logger.Error("server shutdown error", "error", err)
				}
				return hub.CloseAll(ctx)
			},
		},
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case exitCode := <-wait:
		if exitCode != 0 {
			return fmt.Errorf("shutdown completed with exit code %d", exitCode)
		}
	}
	logger.Info("server stopped")
	return nil
}
