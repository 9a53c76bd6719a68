// Benchmark tool for load-testing the creditscore API with synthetic ledgers.
//
// Usage:
//   go run ./cmd/benchmark -url http://localhost:8080 -merchants 500 -workers 10
//
// This tool:
//   1. Generates merchant ledgers from a fixed set of cash-flow profiles
//   2. Posts each ledger to /score (or appends it and scores the stored ledger)
//   3. Tracks latency percentiles and throughput
//   4. Reports the tier distribution per profile
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/synth"
)

// Job is one merchant ledger to score.
type Job struct {
	MerchantID string
	Profile    string
	Records    []domain.RawRecord
}

// ScoreRequest is the /score request format
type ScoreRequest struct {
	MerchantID string             `json:"merchantId"`
	AsOf       string             `json:"asOf,omitempty"`
	Records    []domain.RawRecord `json:"records"`
}

// AppendRequest is the ledger append request format
type AppendRequest struct {
	Records []domain.RawRecord `json:"records"`
}

// ScoreResponse is the subset of the score response the benchmark reads
type ScoreResponse struct {
	Result struct {
		NormalizedScore int         `json:"normalizedScore"`
		Tier            domain.Tier `json:"tier"`
	} `json:"result"`
	Cached bool `json:"cached"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64
	TotalCached    int64

	mu        sync.Mutex
	latencies []time.Duration
	tiers     map[string]map[domain.Tier]int
	scoreSum  map[string]int
}

func newMetrics() *Metrics {
	return &Metrics{
		tiers:    make(map[string]map[domain.Tier]int),
		scoreSum: make(map[string]int),
	}
}

func (m *Metrics) record(profile string, resp *ScoreResponse, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, elapsed)
	if m.tiers[profile] == nil {
		m.tiers[profile] = make(map[domain.Tier]int)
	}
	m.tiers[profile][resp.Result.Tier]++
	m.scoreSum[profile] += resp.Result.NormalizedScore
}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "creditscore base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	merchants := flag.Int("merchants", 500, "Number of merchant ledgers to score")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	months := flag.Int("months", 12, "Months of history per ledger")
	seed := flag.Uint64("seed", 1, "Seed for ledger generation")
	stored := flag.Bool("stored", false, "Append ledgers and score the stored ledger instead of POST /score")
	repeat := flag.Int("repeat", 1, "Times each ledger is scored (repeats exercise the score cache)")
	verbose := flag.Bool("verbose", false, "Print each merchant result")
	flag.Parse()

	if *merchants <= 0 || *workers <= 0 || *repeat <= 0 {
		fmt.Println("Usage: benchmark [-url http://localhost:8080] [-merchants 500] [-workers 10]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	mode := "POST /score"
	if *stored {
		mode = "append + GET /merchants/{id}/score"
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           CREDITSCORE BENCHMARK - Synthetic Ledgers           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nURL:         %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Mode:        %s\n", mode)
	fmt.Printf("Merchants:   %d\n", *merchants)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Months:      %d\n", *months)
	fmt.Printf("Repeat:      %d\n", *repeat)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: creditscore not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the server is running:")
		fmt.Println("  go run ./cmd/creditscore serve")
		os.Exit(1)
	}
	fmt.Println("✓ creditscore is healthy")

	jobs := generateJobs(*merchants, *months, *seed)
	records := 0
	for _, j := range jobs {
		records += len(j.Records)
	}
	fmt.Printf("✓ Generated %d ledgers (%d records)\n", len(jobs), records)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(jobs, *baseURL, *tenantID, *workers, *repeat, *stored, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// profiles are the cash-flow shapes the benchmark cycles through.
var profiles = []struct {
	name  string
	build func(months int, seed uint64) []domain.RawRecord
}{
	{"steady", func(months int, seed uint64) []domain.RawRecord {
		p := synth.Steady()
		p.Months, p.Seed, p.JitterHours = months, seed, 6
		return synth.Generate(p)
	}},
	{"growing", func(months int, seed uint64) []domain.RawRecord {
		p := synth.Steady()
		p.Months, p.Seed, p.MonthlyGrowth, p.DebitRatio = months, seed, 0.25, 0.3
		return synth.Generate(p)
	}},
	{"shrinking", func(months int, seed uint64) []domain.RawRecord {
		p := synth.Steady()
		p.Months, p.Seed, p.MonthlyGrowth = months, seed, -0.08
		return synth.Generate(p)
	}},
	{"irregular", func(months int, seed uint64) []domain.RawRecord {
		return synth.Generate(synth.Profile{
			Months:        months,
			CadenceDays:   19,
			PerCollection: 1,
			Channels:      []string{"cash"},
			JitterHours:   48,
			Seed:          seed,
		})
	}},
	{"lump-sum", func(months int, seed uint64) []domain.RawRecord {
		return synth.LumpSum(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC), 5_000_000+int64(seed%1000)*100)
	}},
}

func generateJobs(n, months int, seed uint64) []Job {
	jobs := make([]Job, 0, n)
	for i := 0; i < n; i++ {
		p := profiles[i%len(profiles)]
		jobs = append(jobs, Job{
			MerchantID: fmt.Sprintf("bench-%s-%05d", p.name, i),
			Profile:    p.name,
			Records:    p.build(months, seed+uint64(i)),
		})
	}
	return jobs
}

func runBenchmark(jobs []Job, baseURL, tenantID string, numWorkers, repeat int, stored, verbose bool) *Metrics {
	metrics := newMetrics()

	// Create work channel
	work := make(chan Job, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for job := range work {
				if stored {
					if err := appendLedger(client, baseURL, tenantID, job); err != nil {
						atomic.AddInt64(&metrics.TotalErrors, 1)
						if verbose {
							fmt.Printf("ERROR: append %s -> %v\n", job.MerchantID, err)
						}
						continue
					}
				}

				for r := 0; r < repeat; r++ {
					start := time.Now()
					result, err := scoreMerchant(client, baseURL, tenantID, job, stored)
					elapsed := time.Since(start)
					atomic.AddInt64(&metrics.TotalProcessed, 1)

					if err != nil {
						atomic.AddInt64(&metrics.TotalErrors, 1)
						if verbose {
							fmt.Printf("ERROR: %s -> %v\n", job.MerchantID, err)
						}
						continue
					}
					if result.Cached {
						atomic.AddInt64(&metrics.TotalCached, 1)
					}
					metrics.record(job.Profile, result, elapsed)

					if verbose && r == 0 {
						fmt.Printf("%-24s | %-10s | records: %4d | score: %3d | tier: %-9s | %v\n",
							job.MerchantID,
							job.Profile,
							len(job.Records),
							result.Result.NormalizedScore,
							result.Result.Tier,
							elapsed.Round(time.Microsecond),
						)
					}
				}
			}
		}()
	}

	// Send work
	for _, job := range jobs {
		work <- job
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func appendLedger(client *http.Client, baseURL, tenantID string, job Job) error {
	body, err := json.Marshal(AppendRequest{Records: job.Records})
	if err != nil {
		return err
	}
	resp, err := post(client, baseURL+"/merchants/"+job.MerchantID+"/transactions", tenantID, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func scoreMerchant(client *http.Client, baseURL, tenantID string, job Job, stored bool) (*ScoreResponse, error) {
	var (
		resp *http.Response
		err  error
	)
	if stored {
		var req *http.Request
		req, err = http.NewRequest(http.MethodGet, baseURL+"/merchants/"+job.MerchantID+"/score", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Tenant-ID", tenantID)
		resp, err = client.Do(req)
	} else {
		var body []byte
		body, err = json.Marshal(ScoreRequest{MerchantID: job.MerchantID, Records: job.Records})
		if err != nil {
			return nil, err
		}
		resp, err = post(client, baseURL+"/score", tenantID, body)
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func post(client *http.Client, url, tenantID string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	return client.Do(req)
}

// percentile returns the p-th percentile of sorted latencies (nearest rank).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 REQUESTS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Cache Hits:       %d\n", m.TotalCached)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 TIER DISTRIBUTION\n")
	names := make([]string, 0, len(m.tiers))
	for name := range m.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	tiers := []domain.Tier{domain.TierPoor, domain.TierFair, domain.TierGood, domain.TierExcellent}
	fmt.Printf("   %-10s %8s %8s %8s %10s %10s\n", "profile", "Poor", "Fair", "Good", "Excellent", "avg score")
	for _, name := range names {
		counts := m.tiers[name]
		total := 0
		for _, c := range counts {
			total += c
		}
		fmt.Printf("   %-10s", name)
		for _, tier := range tiers {
			fmt.Printf(" %8d", counts[tier])
		}
		fmt.Printf(" %10.1f\n", float64(m.scoreSum[name])/float64(total))
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if len(m.latencies) > 0 {
		sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })
		var sum time.Duration
		for _, l := range m.latencies {
			sum += l
		}
		fmt.Printf("   Avg Latency:      %v\n", (sum / time.Duration(len(m.latencies))).Round(time.Microsecond))
		fmt.Printf("   p50 Latency:      %v\n", percentile(m.latencies, 50).Round(time.Microsecond))
		fmt.Printf("   p95 Latency:      %v\n", percentile(m.latencies, 95).Round(time.Microsecond))
		fmt.Printf("   p99 Latency:      %v\n", percentile(m.latencies, 99).Round(time.Microsecond))
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	fmt.Println()
}
