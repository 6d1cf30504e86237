// ABOUTME: Scripted stand-in for the remote sample_agent, for local runs and E2E tests
// ABOUTME: Usage: fake-agent [-addr localhost:8080] [-path /copilotkit]
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/2389/coagent-demo/internal/demoagent"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "HTTP listen address")
	path := flag.String("path", "/copilotkit", "Path the agent answers on")
	debug := flag.Bool("debug", false, "Log every run")
	flag.Parse()

	if err := run(*addr, *path, *debug); err != nil {
		log.Fatal(err)
	}
}

func run(addr, path string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle(path, demoagent.New(logger))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake agent listening", "addr", addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
