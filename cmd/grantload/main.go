// Command grantload drives concurrent grants against ledgerd and checks that
// the per-record grant cap holds under contention. Throughput and latency are
// compared with a stored baseline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kenneth/chart-vault/internal/access"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		ledgerURL      = flag.String("ledger-url", "http://localhost:9944", "ledgerd URL")
		duration       = flag.Duration("duration", 30*time.Second, "Test duration")
		workers        = flag.Int("workers", 5, "Number of worker goroutines")
		grantees       = flag.Int("grantees", 15, "Accounts granted per record in each round")
		maxGrants      = flag.Int("max-grants", ledger.DefaultMaxGrants, "Grant cap the ledger enforces")
		baselineDir    = flag.String("baseline-dir", "testdata/baselines", "Directory for baseline files")
		threshold      = flag.Float64("threshold", 10.0, "Regression threshold percentage")
		updateBaseline = flag.Bool("update-baseline", false, "Update the baseline instead of checking for regression")
		verbose        = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := access.NewRegistry(access.Options{
		Ledger:    ledger.NewClient(*ledgerURL, 10*time.Second),
		MaxGrants: *maxGrants,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("Failed to create registry: %v", err)
	}

	cfg := LoadConfig{
		NumWorkers: *workers,
		Duration:   *duration,
		Grantees:   *grantees,
		MaxGrants:  *maxGrants,
	}
	fmt.Println("=== Grant Load Test ===")
	fmt.Printf("Ledger URL: %s\n", *ledgerURL)
	fmt.Printf("Duration: %v\n", cfg.Duration)
	fmt.Printf("Workers: %d\n", cfg.NumWorkers)
	fmt.Printf("Grantees per record: %d (cap %d)\n", cfg.Grantees, cfg.MaxGrants)
	fmt.Println()

	results, err := RunGrantLoad(ctx, reg, cfg, logger)
	if err != nil {
		log.Fatalf("Grant load test failed: %v", err)
	}
	printResults(os.Stdout, results)

	if err := checkResults(results, filepath.Join(*baselineDir, "grant_load_baseline.json"), *threshold, *updateBaseline); err != nil {
		fmt.Printf("FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("PASS")
}

func checkResults(results *LoadResults, baseline string, threshold float64, update bool) error {
	if results.CapViolations > 0 {
		return fmt.Errorf("%d records exceeded the grant cap", results.CapViolations)
	}
	if update {
		if err := SaveBaseline(results, baseline); err != nil {
			return fmt.Errorf("save baseline: %w", err)
		}
		fmt.Println("Baseline updated")
		return nil
	}

	regression, err := AnalyzeRegression(results, baseline, threshold)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No baseline found, run with -update-baseline to create one")
			return nil
		}
		return fmt.Errorf("regression analysis failed: %w", err)
	}
	fmt.Printf("Throughput change: %+.1f%%\n", regression.ThroughputChange)
	fmt.Printf("P95 latency change: %+.1f%%\n", regression.P95Change)
	if regression.SignificantRegression {
		return fmt.Errorf("significant regression detected")
	}
	return nil
}

func printResults(w io.Writer, r *LoadResults) {
	fmt.Fprintf(w, "Rounds: %d\n", r.Rounds)
	fmt.Fprintf(w, "Grants confirmed: %d\n", r.Grants)
	fmt.Fprintf(w, "Cap rejections: %d\n", r.CapRejections)
	fmt.Fprintf(w, "Errors: %d\n", r.Errors)
	fmt.Fprintf(w, "Cap violations: %d\n", r.CapViolations)
	fmt.Fprintf(w, "Throughput: %.1f grants/s\n", r.GrantsPerSec)
	fmt.Fprintf(w, "Latency p50/p95/p99: %v / %v / %v\n", r.P50, r.P95, r.P99)
	fmt.Fprintln(w)
}
