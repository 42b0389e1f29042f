// Benchmark tool for testing Kestrel against a historical collections portfolio.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/portfolio.csv -url http://localhost:8080
//
// This tool:
//   1. Reads historical collections data (with recovery outcomes)
//   2. Creates a case in Kestrel for each account
//   3. Compares Kestrel's allocation (DIGITAL vs AGENCY/LEGAL) with actual outcomes
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// PortfolioAccount represents a row from a historical collections export
type PortfolioAccount struct {
	DebtorName  string
	Amount      float64
	AgeDays     int
	CreditScore float64 // normalized 0-1
	Recovered   bool
}

// CaseRequest is the Kestrel API request format
type CaseRequest struct {
	DebtorName   string         `json:"debtorName"`
	Amount       float64        `json:"amount"`
	Currency     string         `json:"currency"`
	InitialScore float64        `json:"initialScore"`
	AgeDays      int            `json:"ageDays"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CaseResponse is the Kestrel API response format
type CaseResponse struct {
	Case struct {
		ID          string  `json:"id"`
		Probability float64 `json:"probability"`
	} `json:"case"`
	Allocation struct {
		Action string `json:"action"`
	} `json:"allocation"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Recovered, allocated DIGITAL
	FalsePositives int64 // Not recovered, allocated DIGITAL
	TrueNegatives  int64 // Not recovered, allocated AGENCY/LEGAL
	FalseNegatives int64 // Recovered, allocated AGENCY/LEGAL

	TotalProcessed  int64
	TotalRecovered  int64
	TotalWrittenOff int64
	TotalErrors     int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to collections portfolio CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum accounts to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	recoveredOnly := flag.Bool("recovered-only", false, "Only test recovered accounts")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for written-off accounts (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each account result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/portfolio.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Portfolio Allocation Replay        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read portfolio data
	fmt.Printf("\nReading portfolio data from %s...\n", *csvPath)
	accounts, err := readPortfolioCSV(*csvPath, *limit, *recoveredOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d accounts\n", len(accounts))

	// Count recovered vs written-off
	recoveredCount := 0
	for _, acc := range accounts {
		if acc.Recovered {
			recoveredCount++
		}
	}
	fmt.Printf("  - Recovered:   %d (%.2f%%)\n", recoveredCount, 100*float64(recoveredCount)/float64(len(accounts)))
	fmt.Printf("  - Written off: %d (%.2f%%)\n", len(accounts)-recoveredCount, 100*float64(len(accounts)-recoveredCount)/float64(len(accounts)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(accounts, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
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

func readPortfolioCSV(path string, limit int, recoveredOnly bool, sampleRate float64) ([]PortfolioAccount, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	var accounts []PortfolioAccount
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		recovered := record[colIndex["recovered"]] == "1"

		// Apply filters
		if recoveredOnly && !recovered {
			continue
		}

		// Sample written-off accounts
		if !recovered && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		amount, _ := strconv.ParseFloat(record[colIndex["amount"]], 64)
		ageDays, _ := strconv.Atoi(record[colIndex["age_days"]])
		creditScore, _ := strconv.ParseFloat(record[colIndex["credit_score"]], 64)

		acc := PortfolioAccount{
			DebtorName:  record[colIndex["debtor_name"]],
			Amount:      amount,
			AgeDays:     ageDays,
			CreditScore: creditScore,
			Recovered:   recovered,
		}

		accounts = append(accounts, acc)

		if limit > 0 && len(accounts) >= limit {
			break
		}
	}

	return accounts, nil
}

func runBenchmark(accounts []PortfolioAccount, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan PortfolioAccount, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for acc := range work {
				start := time.Now()
				result, err := createCase(client, baseURL, tenantID, acc)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", acc.DebtorName, err)
					}
					continue
				}

				// Track actual outcomes
				if acc.Recovered {
					atomic.AddInt64(&metrics.TotalRecovered, 1)
				} else {
					atomic.AddInt64(&metrics.TotalWrittenOff, 1)
				}

				// Calculate confusion matrix. A DIGITAL allocation is the
				// "will recover with light touch" prediction.
				predicted := result.Allocation.Action == "ALLOCATE_DIGITAL"
				actual := acc.Recovered

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					name := acc.DebtorName
					if len(name) > 14 {
						name = name[:14]
					}
					fmt.Printf("%s %-14s | Amount: $%10.2f | Age: %4dd | Recovered: %-5v | Kestrel: %-16s (%.4f)\n",
						status,
						name,
						acc.Amount,
						acc.AgeDays,
						acc.Recovered,
						result.Allocation.Action,
						result.Case.Probability,
					)
				}
			}
		}()
	}

	// Send work
	for _, acc := range accounts {
		work <- acc
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func createCase(client *http.Client, baseURL, tenantID string, acc PortfolioAccount) (*CaseResponse, error) {
	req := CaseRequest{
		DebtorName:   acc.DebtorName,
		Amount:       acc.Amount,
		Currency:     "USD",
		InitialScore: acc.CreditScore,
		AgeDays:      acc.AgeDays,
		Metadata: map[string]any{
			"source": "benchmark",
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/cases", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result CaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Recovered:  %d\n", m.TotalRecovered)
	fmt.Printf("   Total WrittenOff: %d\n", m.TotalWrittenOff)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                 DIGITAL    AGENCY/LEGAL")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  R  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          WO  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 ALLOCATION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of DIGITAL allocations, how many recovered)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of recoveries, how many went light-touch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Allocation analysis
	fmt.Printf("\n🔍 ALLOCATION ANALYSIS\n")
	if m.TotalRecovered > 0 {
		lightTouchRate := float64(m.TruePositives) / float64(m.TotalRecovered) * 100
		overWorkedRate := float64(m.FalseNegatives) / float64(m.TotalRecovered) * 100
		fmt.Printf("   Recoveries kept light-touch:  %d / %d (%.2f%%)\n", m.TruePositives, m.TotalRecovered, lightTouchRate)
		fmt.Printf("   Recoveries over-escalated:    %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalRecovered, overWorkedRate)
	}
	if m.TotalWrittenOff > 0 {
		underWorkedRate := float64(m.FalsePositives) / float64(m.TotalWrittenOff) * 100
		fmt.Printf("   Write-offs under-worked:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalWrittenOff, underWorkedRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f cases/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - likely payers stay in the cheap channel")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - some likely payers are being over-escalated")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant over-escalation cost")
	} else {
		fmt.Println("   ❌ Poor recall - most likely payers are being over-escalated!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - DIGITAL allocations mostly pay out")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many DIGITAL allocations never recover")
	} else {
		fmt.Println("   ❌ Very low precision - DIGITAL channel is leaking recoveries")
	}

	fmt.Println()
}
