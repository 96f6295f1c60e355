package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicktill/tinycarbon/pkg/sdk"
	"github.com/nicktill/tinycarbon/pkg/sdk/httpx"
)

var startTime = time.Now()

func main() {
	// TINYCARBON_ENDPOINT may be http://.../v1/ingest or tcp://host:2003
	endpoint := getEnv("TINYCARBON_ENDPOINT", sdk.DefaultEndpoint)
	serverURL := getEnv("TINYCARBON_URL", "http://localhost:8080")
	addr := getEnv("EXAMPLE_ADDR", ":3000")

	client, err := sdk.New(sdk.ClientConfig{
		Prefix:     "example",
		Endpoint:   endpoint,
		FlushEvery: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to create tinycarbon client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Start(ctx); err != nil {
		log.Fatalf("Failed to start tinycarbon client: %v", err)
	}

	app := &app{
		errors:  client.Counter("errors"),
		active:  client.Gauge("active_requests"),
		backend: client.Timer("backend"),
		stats:   &statsClient{baseURL: serverURL, http: &http.Client{Timeout: 5 * time.Second}},
	}

	mux := http.NewServeMux()
	app.setupHandlers(mux)

	server := &http.Server{
		Addr:         addr,
		Handler:      httpx.Middleware(client)(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 Example app listening on %s (sending to %s)", addr, endpoint)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	go startTrafficSimulator(ctx, "http://localhost"+addr, client.Gauge("simulated_users"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down example app...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := client.Stop(); err != nil {
		log.Printf("Failed to flush metrics: %v", err)
	}
	if n := client.Failed(); n > 0 {
		log.Printf("⚠️  %d samples could not be delivered", n)
	}

	log.Println("👋 Example app exited")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
