package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicktill/tinycarbon/pkg/server"
)

// shutdownTimeout bounds the whole shutdown; the cache drain inside it is
// bounded by the configured grace period.
const shutdownTimeout = 60 * time.Second

func main() {
	log.Println("🚀 Starting TinyCarbon...")

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("⚙️  Configuration: data=%s index=%s cache=%d points (%s), storage limit=%d GB",
		cfg.DataDir, cfg.IndexDir, cfg.Cache.MaxSize, cfg.Cache.Strategy, cfg.MaxStorageGB)

	components, err := server.Initialize(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize: %v", err)
	}

	srv := server.New(components)
	if err := srv.Start(); err != nil {
		components.Close()
		log.Fatalf("❌ Failed to start: %v", err)
	}

	log.Println("📡 API endpoints:")
	log.Println("   POST /v1/ingest          - Ingest metrics (JSON or plaintext lines)")
	log.Println("   GET  /v1/fetch           - Fetch series")
	log.Println("   POST /v1/import          - Import exported series")
	log.Println("   GET  /v1/cache           - Write cache statistics")
	log.Println("   GET  /v1/rules           - Active rewrite and aggregation rules")
	log.Println("   GET  /metrics            - Prometheus endpoint")
	if cfg.LineReceiverAddr != "" {
		log.Printf("📥 Plaintext protocol on %s", cfg.LineReceiverAddr)
	}
	log.Println("✅ Server ready to accept requests")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-quit:
		log.Println("🛑 Shutdown signal received...")
	case err := <-srv.Errors():
		log.Printf("❌ Server error: %v", err)
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Shutdown finished with dropped points: %v", err)
	}
	cancel()
	if err := components.Close(); err != nil {
		log.Printf("⚠️  Failed to close index: %v", err)
	}

	log.Println("👋 TinyCarbon exited")
	os.Exit(exitCode)
}
