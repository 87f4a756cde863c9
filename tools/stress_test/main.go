package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/spearman-engine/api"
	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Address      string
	Concurrency  int
	RequestCount int64
	Duration     time.Duration
	AuthToken    string
	Rows         int
	Columns      int
	Mode         string
	Compression  string
	Unique       bool
	ReportFile   string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
}

type counters struct {
	total, success, failed int64
	latencySum             int64
	minLatency, maxLatency int64
}

func main() {
	config := parseFlags()

	fmt.Println("=== Spearman Server Stress Test ===")
	fmt.Printf("Target: %s\n", config.Address)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Matrix: %d columns x %d rows (%s)\n", config.Columns, config.Rows, config.Mode)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Printf("Auth: %v\n", config.AuthToken != "")
	fmt.Println()

	result, err := runStressTest(config)
	if err != nil {
		log.Fatalf("Stress test failed: %v", err)
	}

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.StringVar(&config.Address, "addr", "127.0.0.1:50051", "Correlation server address")
	flag.IntVar(&config.Concurrency, "c", 10, "Number of concurrent workers")
	flag.Int64Var(&config.RequestCount, "n", 0, "Total number of requests (0 = unlimited, use -d instead)")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.StringVar(&config.AuthToken, "token", os.Getenv(api.AuthTokenEnv), "Authentication token")
	flag.IntVar(&config.Rows, "rows", 10000, "Rows per request")
	flag.IntVar(&config.Columns, "cols", 4, "Columns per frame")
	flag.StringVar(&config.Mode, "mode", "everything", "Missing value mode")
	flag.StringVar(&config.Compression, "compression", data.CompressionLZ4, "Request compression (none|lz4|zstd)")
	flag.BoolVar(&config.Unique, "unique", false, "Send a distinct dataset per worker to bypass the result cache")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

func runStressTest(config StressTestConfig) (StressTestResult, error) {
	mode, err := spearman.ParseMode(config.Mode)
	if err != nil {
		return StressTestResult{}, err
	}
	codec, err := api.NewCodec(config.Compression)
	if err != nil {
		return StressTestResult{}, err
	}

	payloads := make([][]byte, config.Concurrency)
	for i := range payloads {
		seed := int64(1)
		if config.Unique {
			seed = int64(i + 1)
		}
		x, y := randomFrames(seed, config.Rows, config.Columns)
		if payloads[i], err = codec.EncodeRequest(x, y, mode); err != nil {
			return StressTestResult{}, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration)
	defer cancel()

	c := &counters{minLatency: 1<<63 - 1}
	var wg sync.WaitGroup
	startTime := time.Now()

	// Start workers
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(ctx, workerID, config, payloads[workerID], c)
		}(i)
	}
	wg.Wait()

	duration := time.Since(startTime)
	total := atomic.LoadInt64(&c.total)
	success := atomic.LoadInt64(&c.success)

	var avgLatency time.Duration
	if success > 0 {
		avgLatency = time.Duration(atomic.LoadInt64(&c.latencySum) / success)
	}
	minLat := atomic.LoadInt64(&c.minLatency)
	if success == 0 {
		minLat = 0
	}

	return StressTestResult{
		TotalRequests:  total,
		SuccessfulReqs: success,
		FailedReqs:     atomic.LoadInt64(&c.failed),
		TotalDuration:  duration,
		AvgLatency:     avgLatency,
		MinLatency:     time.Duration(minLat),
		MaxLatency:     time.Duration(atomic.LoadInt64(&c.maxLatency)),
		RequestsPerSec: float64(total) / duration.Seconds(),
	}, nil
}

func runWorker(ctx context.Context, id int, config StressTestConfig, payload []byte, c *counters) {
	var client *api.Client
	defer func() {
		if client != nil {
			client.Close()
		}
	}()

	for ctx.Err() == nil {
		if config.RequestCount > 0 && atomic.AddInt64(&c.total, 1) > config.RequestCount {
			atomic.AddInt64(&c.total, -1)
			return
		} else if config.RequestCount == 0 {
			atomic.AddInt64(&c.total, 1)
		}

		if client == nil {
			var err error
			client, err = api.Dial(ctx, config.Address, api.WithToken(config.AuthToken))
			if err != nil {
				atomic.AddInt64(&c.failed, 1)
				// Small sleep on error to avoid hammering
				time.Sleep(10 * time.Millisecond)
				continue
			}
		}

		start := time.Now()
		resp, err := client.RoundTrip(ctx, payload)
		if err == nil {
			_, err = api.DecodeResponse(resp)
		} else {
			// The connection state is unknown after a transport error.
			client.Close()
			client = nil
		}
		if err != nil {
			atomic.AddInt64(&c.failed, 1)
			if ctx.Err() == nil {
				log.Printf("worker %d: %v", id, err)
			}
			continue
		}

		atomic.AddInt64(&c.success, 1)
		c.observe(int64(time.Since(start)))
	}
}

func (c *counters) observe(lat int64) {
	atomic.AddInt64(&c.latencySum, lat)
	for {
		old := atomic.LoadInt64(&c.minLatency)
		if lat >= old || atomic.CompareAndSwapInt64(&c.minLatency, old, lat) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&c.maxLatency)
		if lat <= old || atomic.CompareAndSwapInt64(&c.maxLatency, old, lat) {
			break
		}
	}
}

func randomFrames(seed int64, rows, cols int) (*data.Frame, *data.Frame) {
	rng := rand.New(rand.NewSource(seed))
	xs := make([]*data.Column, cols)
	ys := make([]*data.Column, cols)
	for c := range xs {
		xv := make([]float64, rows)
		yv := make([]float64, rows)
		for r := range xv {
			xv[r] = rng.Float64()
			yv[r] = xv[r] + rng.NormFloat64()
		}
		xs[c] = data.NewNumericColumn(fmt.Sprintf("x%d", c), xv)
		ys[c] = data.NewNumericColumn(fmt.Sprintf("y%d", c), yv)
	}
	x, err := data.NewFrame(xs...)
	if err != nil {
		log.Fatalf("Failed to build frame: %v", err)
	}
	y, err := data.NewFrame(ys...)
	if err != nil {
		log.Fatalf("Failed to build frame: %v", err)
	}
	return x, y
}

func printResults(result StressTestResult) {
	pct := func(n int64) float64 {
		if result.TotalRequests == 0 {
			return 0
		}
		return float64(n) / float64(result.TotalRequests) * 100
	}
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", result.TotalRequests)
	fmt.Printf("Successful:      %d (%.2f%%)\n", result.SuccessfulReqs, pct(result.SuccessfulReqs))
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, pct(result.FailedReqs))
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]any{
		"config": map[string]any{
			"address":     config.Address,
			"concurrency": config.Concurrency,
			"duration":    config.Duration.String(),
			"rows":        config.Rows,
			"columns":     config.Columns,
			"mode":        config.Mode,
			"compression": config.Compression,
		},
		"results": map[string]any{
			"total_requests":   result.TotalRequests,
			"successful":       result.SuccessfulReqs,
			"failed":           result.FailedReqs,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	raw, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, raw, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
