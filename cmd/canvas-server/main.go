// canvas-server is the signaling server: room rendezvous, negotiation relay,
// snapshot storage and the reliable-broadcast fallback path.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JustSadSock/realtime-canvas/internal/logging"
	"github.com/JustSadSock/realtime-canvas/internal/server"
	"github.com/JustSadSock/realtime-canvas/internal/signaling"
)

func main() {
	var (
		addr      = flag.String("addr", envOr("ADDR", ":8090"), "listen address")
		wsPath    = flag.String("path", envOr("WS_PATH", "/ws"), "websocket endpoint path")
		publicURL = flag.String("public", envOr("PUBLIC_WS_URL", ""), "websocket URL announced in config.json")
		dropState = flag.Bool("drop-state-when-empty", false, "discard a room's snapshot when the room empties")
	)
	flag.Parse()

	logging.Init()

	hub := signaling.NewHub(signaling.Options{DropStateWhenEmpty: *dropState})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:    *addr,
		Handler: server.NewMux(hub, server.Options{WSPath: *wsPath, PublicWSURL: *publicURL}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("signaling server listening", "addr", *addr, "path", *wsPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
