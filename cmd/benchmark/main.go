package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	fail409       uint64 // Conflicts (Aborts)
	fail429       uint64 // Rate limited
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&accounts, "accounts", 200, "Number of accounts to open before the run")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	ids, err := openAccounts(accounts)
	if err != nil {
		log.Fatalf("Account setup failed: %v", err)
	}
	log.Printf("Opened %d accounts", len(ids))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, ids)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func openAccounts(n int) ([]string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	ids := make([]string, 0, n)

	for i := 0; i < n; i++ {
		body, _ := json.Marshal(map[string]string{"initial_balance": "1000.00"})
		resp, err := client.Post(targetURL+"/api/v1/accounts", "application/json", bytes.NewBuffer(body))
		if err != nil {
			return nil, err
		}
		var account struct {
			ID string `json:"id"`
		}
		err = json.NewDecoder(resp.Body).Decode(&account)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if account.ID == "" {
			return nil, fmt.Errorf("account create returned status %d", resp.StatusCode)
		}
		ids = append(ids, account.ID)
	}
	return ids, nil
}

func worker(wg *sync.WaitGroup, start time.Time, ids []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		from, to := pickAccounts(ids)

		// For high contention, we might intentionally reuse keys, but for
		// standard throughput we usually want unique requests.
		key := fmt.Sprintf("bench-%s-%s-%d", from[:8], to[:8], time.Now().UnixNano())

		payload := map[string]interface{}{
			"from_account_id": from,
			"to_account_id":   to,
			"amount":          "1.00",
			"description":     "bench",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		case 429:
			atomic.AddUint64(&fail429, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickAccounts(ids []string) (string, string) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to the first two accounts
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return ids[0], ids[1]
			}
			return ids[1], ids[0]
		}
	}

	a := rand.Intn(len(ids))
	b := rand.Intn(len(ids))
	for a == b {
		b = rand.Intn(len(ids))
	}
	return ids[a], ids[b]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f429 := atomic.LoadUint64(&fail429)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	abortRate := float64(f409) / float64(total) * 100

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": s201,
		"success_replay":  s200,
		"aborts_conflict": f409,
		"rate_limited":    f429,
		"abort_rate_pct":  abortRate,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
