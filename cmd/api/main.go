package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bulwark/internal/app/bootstrap"
)

// API process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (outbox, middleware chain, admin routes).
// 3) Serve until SIGINT/SIGTERM, then drain within SHUTDOWN_GRACE.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildAPI(ctx)
	if err != nil {
		log.Fatalf("bootstrap api failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("api shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(ctx); err != nil {
		log.Printf("bulwark api stopped with error: %v", err)
	}
}
