package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/atlaschat/chat-app/internal/ai"
	"github.com/atlaschat/chat-app/internal/messaging"
)

func main() {
	log.Println("Starting Atlas AI worker...")

	backendURL := os.Getenv("AI_BACKEND_URL")
	if backendURL == "" {
		backendURL = "http://localhost:9090/complete"
	}

	backendTimeout := time.Duration(0)
	if v := os.Getenv("AI_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			backendTimeout = d
		}
	}

	concurrency := 16
	if v := os.Getenv("AI_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			concurrency = n
		}
	}

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "atlas-aiworker"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	worker := ai.NewWorker(natsClient, ai.NewBackend(backendURL, backendTimeout), concurrency)
	if err := worker.Start(); err != nil {
		log.Fatalf("failed to start AI worker: %v", err)
	}

	log.Printf("Atlas AI worker running")
	log.Printf("  backend_url: %s", backendURL)
	log.Printf("  concurrency: %d", concurrency)
	log.Printf("  nats_url:    %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	worker.Stop()
	natsClient.Close()
}
