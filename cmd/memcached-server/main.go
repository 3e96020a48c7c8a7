package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pipelined/memcached/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := ":11211"
	logger := slog.Default()

	err := server.Serve(ctx, addr, server.NewMemoryBackend(),
		server.WithLogger(logger),
		server.WithLoggingMiddleware(logger),
	)
	if err != nil {
		log.Fatal(err)
	}
}
