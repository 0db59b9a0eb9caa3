// main.go - Ingest load testing tool for Pulse
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"pulse/internal/events"
	"pulse/internal/metrics"
)

const ingestPath = "/api/events/ingest"

// LoadConfig holds the configuration for a load test
type LoadConfig struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	BatchSize   int
	RatePerSec  int
	Timeout     time.Duration
}

// Result captures one ingest request
type Result struct {
	Duration   time.Duration
	StatusCode int
	Events     int
	Err        error
}

// Stats aggregates results. It is only touched by the collecting goroutine.
type Stats struct {
	Requests    int64
	Succeeded   int64
	Failed      int64
	EventsSent  int64
	StatusCodes map[int]int64
	Latencies   []float64
	StartTime   time.Time
	EndTime     time.Time
}

func main() {
	cfg := &LoadConfig{}
	flag.StringVar(&cfg.BaseURL, "url", "http://localhost:3000", "Base URL of the Pulse server")
	flag.IntVar(&cfg.Concurrency, "c", 10, "Number of concurrent clients")
	flag.DurationVar(&cfg.Duration, "d", 30*time.Second, "Duration of the test")
	flag.IntVar(&cfg.BatchSize, "batch", 10, "Events per ingest request")
	flag.IntVar(&cfg.RatePerSec, "rate", 0, "Target requests per second (0 = unlimited)")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, stop := context.WithTimeout(ctx, cfg.Duration)
	defer stop()

	logger.Info("Starting load test",
		slog.String("target", cfg.BaseURL+ingestPath),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Int("batch", cfg.BatchSize),
		slog.Int("rate", cfg.RatePerSec),
		slog.Duration("duration", cfg.Duration))

	stats := &Stats{StatusCodes: make(map[int]int64), StartTime: time.Now()}
	for result := range run(ctx, cfg) {
		stats.add(result)
	}
	stats.EndTime = time.Now()

	stats.print(os.Stdout)
}

// run starts the workers and returns their results. The channel closes when
// every worker has stopped.
func run(ctx context.Context, cfg *LoadConfig) <-chan Result {
	results := make(chan Result, cfg.Concurrency*10)

	var interval time.Duration
	if cfg.RatePerSec > 0 {
		interval = time.Duration(float64(time.Second) * float64(cfg.Concurrency) / float64(cfg.RatePerSec))
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}
			rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)))

			var ticker *time.Ticker
			if interval > 0 {
				ticker = time.NewTicker(interval)
				defer ticker.Stop()
			}

			for {
				if ticker != nil {
					select {
					case <-ticker.C:
					case <-ctx.Done():
						return
					}
				} else if ctx.Err() != nil {
					return
				}
				results <- send(ctx, client, cfg, batch(rng, worker, cfg.BatchSize))
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func send(ctx context.Context, client *http.Client, cfg *LoadConfig, batch []events.EventInput) Result {
	body, err := json.Marshal(batch)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to marshal batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+ingestPath, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(started)
	if err != nil {
		return Result{Duration: elapsed, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{Duration: elapsed, StatusCode: resp.StatusCode, Events: len(batch)}
}

var (
	paths     = []string{"/", "/products", "/pricing", "/about", "/blog", "/docs", "/signup"}
	referrers = []string{"", "https://google.com/", "https://news.ycombinator.com/", "https://twitter.com/"}
	names     = []string{"page_view", "page_view", "page_view", "click", "signup_started", "signup_completed"}
)

// batch builds events for one visitor session within the last 12 hours.
func batch(rng *rand.Rand, worker, size int) []events.EventInput {
	visitor := fmt.Sprintf("load-%d-%d", worker, rng.IntN(1000))
	session := fmt.Sprintf("%s-%d", visitor, rng.IntN(1_000_000))
	at := time.Now().UTC().Add(-time.Duration(rng.IntN(12*3600)+60) * time.Second)

	out := make([]events.EventInput, size)
	for i := range out {
		path := paths[rng.IntN(len(paths))]
		out[i] = events.EventInput{
			EventName:      names[rng.IntN(len(names))],
			EventTimestamp: at.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
			AnonymousID:    visitor,
			SessionID:      session,
			PageURL:        "https://example.com" + path,
			Referrer:       referrers[rng.IntN(len(referrers))],
			Properties:     map[string]any{"load_test": true, "worker": worker},
		}
	}
	return out
}

func (s *Stats) add(r Result) {
	s.Requests++
	if r.Err != nil {
		s.Failed++
		return
	}
	s.StatusCodes[r.StatusCode]++
	s.Latencies = append(s.Latencies, float64(r.Duration.Microseconds())/1000)
	if r.StatusCode == http.StatusOK {
		s.Succeeded++
		s.EventsSent += int64(r.Events)
	} else {
		s.Failed++
	}
}

func (s *Stats) print(out io.Writer) {
	elapsed := s.EndTime.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\nMETRIC\tVALUE\n")
	fmt.Fprintf(w, "------\t-----\n")
	fmt.Fprintf(w, "Requests\t%d (%.1f/s)\n", s.Requests, float64(s.Requests)/elapsed)
	fmt.Fprintf(w, "Succeeded\t%d\n", s.Succeeded)
	fmt.Fprintf(w, "Failed\t%d\n", s.Failed)
	fmt.Fprintf(w, "Events stored\t%d (%.1f/s)\n", s.EventsSent, float64(s.EventsSent)/elapsed)
	for _, p := range []float64{50, 90, 95, 99} {
		fmt.Fprintf(w, "p%.0f latency\t%.2fms\n", p, metrics.Percentile(s.Latencies, p))
	}
	w.Flush()

	if len(s.StatusCodes) == 0 {
		return
	}
	codes := make([]int, 0, len(s.StatusCodes))
	var most int64 = 1
	for code, n := range s.StatusCodes {
		codes = append(codes, code)
		most = max(most, n)
	}
	sort.Ints(codes)

	fmt.Fprintln(out, "\nStatus codes:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, code := range codes {
		n := s.StatusCodes[code]
		fmt.Fprintf(w, "%d\t%d\t%s\n", code, n, strings.Repeat("█", int(50*n/most)))
	}
	w.Flush()
}
