// Command load drives redemptions against a running ledger API and reports
// latency and outcome counts. Rejections (422) are expected once balances run
// out and are counted separately from failures.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

type redeemPayload struct {
	RewardID  string `json:"reward_id"`
	RequestID string `json:"request_id"`
}

type LoadTestConfig struct {
	BaseURL           string
	RewardID          string
	Accounts          []string
	RequestsPerSecond int
	DurationSeconds   int
	ConcurrentWorkers int
}

type Stats struct {
	committed atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64

	mu            sync.Mutex
	responseTimes []float64
}

func (s *Stats) addResponseTime(duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseTimes = append(s.responseTimes, duration)
}

func (s *Stats) sortedResponseTimes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	times := make([]float64, len(s.responseTimes))
	copy(times, s.responseTimes)
	sort.Float64s(times)
	return times
}

func sendRedeem(client *fasthttp.Client, config LoadTestConfig, account string, stats *Stats) {
	body, _ := json.Marshal(redeemPayload{RewardID: config.RewardID, RequestID: uuid.NewString()})

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(config.BaseURL + "/api/v1/redemptions")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-User-Id", account)
	req.Header.Set("X-User-Role", "customer")
	req.SetBody(body)

	start := time.Now()
	err := client.DoTimeout(req, resp, 10*time.Second)
	stats.addResponseTime(time.Since(start).Seconds())

	switch {
	case err != nil:
		stats.failed.Add(1)
	case resp.StatusCode() == fasthttp.StatusOK:
		stats.committed.Add(1)
	case resp.StatusCode() == fasthttp.StatusUnprocessableEntity:
		stats.rejected.Add(1)
	default:
		stats.failed.Add(1)
	}
}

func worker(client *fasthttp.Client, config LoadTestConfig, stats *Stats, jobs <-chan string, wg *sync.WaitGroup) {
	defer wg.Done()
	for account := range jobs {
		sendRedeem(client, config, account, stats)
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func main() {
	config := LoadTestConfig{
		BaseURL:           getEnvOrDefault("TARGET_URL", "http://localhost:8080"),
		RewardID:          getEnvOrDefault("REWARD_ID", "free_drink"),
		Accounts:          strings.Split(getEnvOrDefault("ACCOUNTS", "load-1,load-2,load-3,load-4"), ","),
		RequestsPerSecond: getEnvIntOrDefault("REQUESTS_PER_SECOND", 500),
		DurationSeconds:   getEnvIntOrDefault("DURATION_SECONDS", 30),
		ConcurrentWorkers: getEnvIntOrDefault("CONCURRENT_WORKERS", 64),
	}

	fmt.Println("Starting load test...")
	fmt.Printf("Target: %s\n", config.BaseURL)
	fmt.Printf("Accounts: %d, reward: %s\n", len(config.Accounts), config.RewardID)
	fmt.Printf("Target RPS: %d for %d seconds\n", config.RequestsPerSecond, config.DurationSeconds)
	fmt.Printf("Concurrent workers: %d\n", config.ConcurrentWorkers)
	fmt.Println(strings.Repeat("-", 50))

	stats := &Stats{}
	client := &fasthttp.Client{
		MaxConnsPerHost: config.ConcurrentWorkers,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
	}

	jobs := make(chan string, config.ConcurrentWorkers)
	var wg sync.WaitGroup
	for i := 0; i < config.ConcurrentWorkers; i++ {
		wg.Add(1)
		go worker(client, config, stats, jobs, &wg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.DurationSeconds)*time.Second)
	defer cancel()
	limiter := rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.RequestsPerSecond)

	startTime := time.Now()
	progress := time.NewTicker(time.Second)
	defer progress.Stop()

	for sent := 0; ; sent++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		jobs <- config.Accounts[sent%len(config.Accounts)]

		select {
		case <-progress.C:
			fmt.Printf("[%ds] committed: %d | rejected: %d | failed: %d\n",
				int(time.Since(startTime).Seconds()), stats.committed.Load(), stats.rejected.Load(), stats.failed.Load())
		default:
		}
	}

	close(jobs)
	wg.Wait()
	duration := time.Since(startTime).Seconds()

	committed, rejected, failed := stats.committed.Load(), stats.rejected.Load(), stats.failed.Load()
	total := committed + rejected + failed
	times := stats.sortedResponseTimes()

	var avg float64
	for _, t := range times {
		avg += t
	}
	if len(times) > 0 {
		avg /= float64(len(times))
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("LOAD TEST RESULTS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Duration: %.2f seconds\n", duration)
	fmt.Printf("Total requests: %d\n", total)
	fmt.Printf("Committed: %d\n", committed)
	fmt.Printf("Rejected: %d\n", rejected)
	fmt.Printf("Failed: %d\n", failed)
	fmt.Printf("\nActual RPS: %.2f\n", float64(total)/duration)
	fmt.Printf("\nResponse times:\n")
	fmt.Printf("  Average: %.2f ms\n", avg*1000)
	fmt.Printf("  P50: %.2f ms\n", percentile(times, 0.50)*1000)
	fmt.Printf("  P95: %.2f ms\n", percentile(times, 0.95)*1000)
	fmt.Printf("  P99: %.2f ms\n", percentile(times, 0.99)*1000)
	if len(times) > 0 {
		fmt.Printf("  Min: %.2f ms\n", times[0]*1000)
		fmt.Printf("  Max: %.2f ms\n", times[len(times)-1]*1000)
	}
}
