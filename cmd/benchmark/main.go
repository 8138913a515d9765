package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitops/internal/logging"
	"go.uber.org/zap"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	replayPct   int
)

// Metrics
var (
	totalRequests uint64
	created       uint64
	replayed      uint64 // Idempotent-Replayed: true
	fail409       uint64
	fail429       uint64
	failOther     uint64
)

var corridors = []struct{ from, to, rail string }{
	{"USD", "MXN", "BANK"},
	{"USD", "PHP", "MOBILE_MONEY"},
	{"USD", "KES", "MOBILE_MONEY"},
	{"USD", "NGN", "BANK"},
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&replayPct, "replay", 20, "Percentage of requests that resend the previous idempotency key")
}

func main() {
	flag.Parse()
	logger, err := logging.New("development", "info")
	if err != nil {
		panic(err)
	}
	logger.Info("starting benchmark",
		zap.String("workload", workload), zap.Int("workers", concurrency), zap.Duration("duration", duration))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, i, logger)
	}
	wg.Wait()
	printResults(time.Since(start), logger)
}

// corridor picks the send corridor. The hotspot workload sends 90% of
// traffic down USD->MXN.
func corridor() (string, string, string) {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		c := corridors[0]
		return c.from, c.to, c.rail
	}
	c := corridors[rand.Intn(len(corridors))]
	return c.from, c.to, c.rail
}

func worker(wg *sync.WaitGroup, start time.Time, n int, logger *zap.Logger) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	userID := fmt.Sprintf("bench-user-%d", n)

	var lastKey, lastBody string
	for time.Since(start) < duration {
		key, body := lastKey, lastBody
		if key == "" || rand.Intn(100) >= replayPct {
			quoteID, rail, err := fetchQuote(client, userID)
			if err != nil {
				atomic.AddUint64(&failOther, 1)
				logger.Debug("quote failed", zap.Error(err))
				continue
			}
			key = "bench-" + uuid.NewString()
			body = transferBody(quoteID, rail)
		}

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/transfers", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		req.Header.Set("X-User-ID", userID)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusOK && resp.Header.Get("Idempotent-Replayed") == "true":
			atomic.AddUint64(&replayed, 1)
		case resp.StatusCode == http.StatusOK:
			atomic.AddUint64(&created, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case resp.StatusCode == http.StatusTooManyRequests:
			atomic.AddUint64(&fail429, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
		lastKey, lastBody = key, body
	}
}

func fetchQuote(client *http.Client, userID string) (string, string, error) {
	from, to, rail := corridor()
	url := fmt.Sprintf("%s/api/v1/quote?from=%s&to=%s&rail=%s&sendAmount=%d", targetURL, from, to, rail, 50+rand.Intn(450))
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("X-User-ID", userID)
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("quote status %d", resp.StatusCode)
	}
	var q struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return "", "", err
	}
	return q.ID, rail, nil
}

func transferBody(quoteID, rail string) string {
	payload := map[string]string{
		"quoteId":       quoteID,
		"payoutRail":    rail,
		"recipientName": "Bench Recipient",
	}
	if rail == "BANK" {
		payload["recipientBankName"] = "Bench Bank"
		payload["recipientBankAccount"] = "000123456789"
	} else {
		payload["recipientMobileProvider"] = "bench-wallet"
		payload["recipientMobileNumber"] = "+10000000000"
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func printResults(d time.Duration, logger *zap.Logger) {
	total := atomic.LoadUint64(&totalRequests)
	tps := 0.0
	if d > 0 {
		tps = float64(total) / d.Seconds()
	}
	replayRate := 0.0
	if total > 0 {
		replayRate = float64(atomic.LoadUint64(&replayed)) / float64(total) * 100
	}

	results := map[string]any{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": atomic.LoadUint64(&created),
		"success_replay":  atomic.LoadUint64(&replayed),
		"replay_rate_pct": replayRate,
		"conflicts":       atomic.LoadUint64(&fail409),
		"rate_limited":    atomic.LoadUint64(&fail429),
		"errors":          atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		logger.Warn("could not save results", zap.Error(err))
		return
	}
	defer file.Close()
	_ = json.NewEncoder(file).Encode(results)
}
