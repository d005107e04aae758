// Throughput benchmark for orbitd's submission API.
// Usage: go run ./scripts/loadtest -events 10000 -concurrency 100
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type submitRequest struct {
	ExternalJobID string          `json:"external_job_id"`
	Source        string          `json:"source"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
	DeliveryType  string          `json:"delivery_type"`
	Destination   string          `json:"destination"`
	Payload       json.RawMessage `json:"payload"`
	MaxRetries    int             `json:"max_retries,omitempty"`
}

func main() {
	numEvents := flag.Int("events", 10_000, "number of events to submit")
	apiURL := flag.String("api", "http://localhost:8080", "orbitd API base URL")
	receiverURL := flag.String("receiver", "http://receiver:9999/webhook", "webhook receiver URL events are scheduled against")
	concurrency := flag.Int("concurrency", 100, "concurrent HTTP requests")
	waitTime := flag.Int("wait", 30, "seconds to wait for delivery before checking status")
	flag.Parse()

	fmt.Println("==============================================")
	fmt.Println("  Orbit Throughput Benchmark")
	fmt.Println("==============================================")
	fmt.Printf("  Events: %d\n", *numEvents)
	fmt.Printf("  Concurrency: %d\n", *concurrency)
	fmt.Println("==============================================")
	fmt.Println()

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        *concurrency * 2,
			MaxIdleConnsPerHost: *concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	fmt.Print("[1/3] Checking API health... ")
	resp, err := client.Get(*apiURL + "/health")
	if err != nil {
		log.Fatalf("API not reachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API unhealthy: %d", resp.StatusCode)
	}
	fmt.Println("OK")

	fmt.Printf("[2/3] Submitting %d events... ", *numEvents)
	start := time.Now()
	successCount, failCount := submitEvents(client, *apiURL, *receiverURL, *numEvents, *concurrency)
	submitDuration := time.Since(start)
	rate := float64(successCount) / submitDuration.Seconds()
	fmt.Printf("done (%.2fs, %.0f events/s)\n", submitDuration.Seconds(), rate)
	if failCount > 0 {
		fmt.Printf("  WARNING: %d events failed to submit\n", failCount)
	}

	fmt.Printf("[3/3] Waiting %ds for delivery...\n", *waitTime)
	time.Sleep(time.Duration(*waitTime) * time.Second)

	totalDuration := time.Since(start)

	fmt.Println()
	fmt.Println("==============================================")
	fmt.Println("  BENCHMARK RESULTS")
	fmt.Println("==============================================")
	fmt.Println()
	fmt.Println("  Submission (API -> ingestion buffer):")
	fmt.Printf("    Events submitted: %d\n", successCount)
	fmt.Printf("    Duration: %.2fs\n", submitDuration.Seconds())
	fmt.Printf("    Throughput: %.0f events/s\n", rate)
	fmt.Println()
	fmt.Println("  End-to-end (submit -> wait window):")
	fmt.Printf("    Total duration: %.2fs\n", totalDuration.Seconds())
	fmt.Printf("    Throughput: %.0f events/s\n", float64(successCount)/totalDuration.Seconds())
	fmt.Println()
	fmt.Println("==============================================")
}

func submitEvents(client *http.Client, apiURL, receiverURL string, numEvents, concurrency int) (int64, int64) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	var successCount, failCount int64

	for i := 1; i <= numEvents; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			event := submitRequest{
				ExternalJobID: fmt.Sprintf("bench-job-%d", idx),
				Source:        "loadtest",
				ScheduledAt:   time.Now().Add(time.Second),
				DeliveryType:  "HTTP",
				Destination:   receiverURL,
				Payload:       json.RawMessage(fmt.Sprintf(`{"seq":%d}`, idx)),
				MaxRetries:    3,
			}

			body, _ := json.Marshal(event)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			req, _ := http.NewRequestWithContext(ctx, "POST", apiURL+"/api/v1/events", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				atomic.AddInt64(&failCount, 1)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				atomic.AddInt64(&successCount, 1)
			} else {
				atomic.AddInt64(&failCount, 1)
			}
		}(i)
	}

	wg.Wait()
	return successCount, failCount
}
