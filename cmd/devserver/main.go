// devserver is a minimal room-aware WebSocket server for running the
// projectlink client locally.
// Usage: go run ./cmd/devserver --addr :8080
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/projectlink/internal/config"
	"github.com/rickgao/projectlink/internal/logging"
	"github.com/rickgao/projectlink/internal/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	path := flag.String("path", "/ws", "WebSocket endpoint path")
	pingInterval := flag.Duration("ping-interval", 20*time.Second, "server ping interval (0 disables)")
	deny := flag.String("deny-projects", "", "comma-separated project ids whose switch is refused")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	logFormat := flag.String("log-format", "console", "log format: text, json or console")
	flag.Parse()

	logCfg := config.LoggingConfig{Level: *logLevel, Format: *logFormat}
	logger := logging.New(os.Stdout, logCfg.SlogLevel(), logCfg.Format)

	logger.Info("starting devserver",
		"version", version.Version,
		"commit", version.Commit,
		"addr", *addr,
	)

	denied := make(map[string]bool)
	for _, id := range strings.Split(*deny, ",") {
		if id = strings.TrimSpace(id); id != "" {
			denied[id] = true
		}
	}

	srv := newServer(serverConfig{
		PingInterval: *pingInterval,
		WriteTimeout: 5 * time.Second,
		DenyProjects: denied,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle(*path, srv)
	mux.Handle("/health", srv.healthHandler())

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "url", "ws://localhost"+*addr+*path)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("devserver failed", "error", err)
		os.Exit(1)
	}

	logger.Info("devserver stopped")
}
