package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/nicktill/tinycarbon/pkg/sdk/metrics"
)

// startTrafficSimulator cycles through the API endpoints every 3 seconds
func startTrafficSimulator(ctx context.Context, baseURL string, users metrics.GaugeInterface) {
	// Give the server a moment to start
	select {
	case <-ctx.Done():
		return
	case <-time.After(500 * time.Millisecond):
	}

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}
	endpoints := []string{"/api/users", "/api/orders", "/api/products"}
	log.Println("🚦 Traffic simulator started - making requests every 3 seconds")

	reqCount := 0
	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Traffic simulator stopped")
			return
		case <-ticker.C:
			reqCount++
			endpoint := endpoints[reqCount%len(endpoints)]
			users.Set(float64(reqCount%20 + 1))

			go func(ep string, count int) {
				resp, err := client.Get(baseURL + ep)
				if err != nil {
					log.Printf("⚠️  Traffic simulation failed for %s: %v", ep, err)
					return
				}
				resp.Body.Close()
				log.Printf("✅ Request #%d: %s → %s", count, ep, resp.Status)
			}(endpoint, reqCount)
		}
	}
}
