// Package main runs one full feature pipeline cycle against in-memory
// stores seeded with synthetic candles, then prints the run summary and
// quality report. Useful for smoke-testing the pipeline end to end without
// a database.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/pipeline"
	"token-feature-lab/internal/storage/memory"
)

func main() {
	tokens := flag.Int("tokens", 5, "Number of synthetic tokens to generate")
	bars := flag.Int("bars", 300, "Candles per series")
	timeframe := flag.String("timeframe", "1h", "Timeframe for the synthetic series")
	seed := flag.Int64("seed", 42, "Seed for the synthetic price walk")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	tf := domain.Timeframe(*timeframe)
	if !tf.Valid() {
		fmt.Fprintf(os.Stderr, "unsupported timeframe %q\n", *timeframe)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived signal %v, cancelling pipeline...\n", sig)
		cancel()
	}()

	candleStore := memory.NewCandleStore()
	featureStore := memory.NewFeatureStore()

	tasks, err := seedCandles(ctx, candleStore, *tokens, *bars, tf, *seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding candles: %v\n", err)
		os.Exit(1)
	}

	runner, err := pipeline.NewRunner(pipeline.Options{
		CandleStore:  candleStore,
		FeatureStore: featureStore,
		Refresher:    featureStore,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building pipeline: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Feature Pipeline ===")
	summary, err := runner.Run(ctx, tasks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline error: %v\n", err)
		os.Exit(1)
	}

	printSummary(summary)
}

// seedCandles writes a synthetic random-walk series per token and returns
// the matching task list.
func seedCandles(ctx context.Context, store *memory.CandleStore, tokens, bars int, tf domain.Timeframe, seed int64) ([]domain.Task, error) {
	rng := rand.New(rand.NewSource(seed))
	interval := tf.DurationMs()
	start := time.Now().Add(-time.Duration(bars+1)*time.Duration(interval)*time.Millisecond).UnixMilli() / interval * interval

	tasks := make([]domain.Task, 0, tokens)
	for t := 0; t < tokens; t++ {
		tokenID := fmt.Sprintf("TOKEN%02d", t)
		price := 50 + rng.Float64()*100

		candles := make([]*domain.Candle, bars)
		for i := 0; i < bars; i++ {
			open := price
			price *= 1 + rng.NormFloat64()*0.01
			high := math.Max(open, price) * (1 + rng.Float64()*0.003)
			low := math.Min(open, price) * (1 - rng.Float64()*0.003)
			volume := 500 + rng.Float64()*2000

			candles[i] = &domain.Candle{
				TokenID:     tokenID,
				Timeframe:   tf,
				TimestampMs: start + int64(i)*interval,
				Open:        open,
				High:        high,
				Low:         low,
				Close:       price,
				Volume:      volume,
				QuoteVolume: volume * price,
			}
		}

		if err := store.InsertBulk(ctx, candles); err != nil {
			return nil, fmt.Errorf("seed %s: %w", tokenID, err)
		}
		tasks = append(tasks, domain.Task{TokenID: tokenID, Timeframe: tf})
	}
	return tasks, nil
}

// printSummary prints the run summary and the quality report.
func printSummary(summary *pipeline.Summary) {
	fmt.Printf("Run completed in %v:\n", summary.Duration.Round(time.Millisecond))
	fmt.Printf("  Tasks:     %d total, %d completed, %d failed\n", summary.Total, summary.Completed, summary.Failed)
	fmt.Printf("  Persisted: %d feature records\n", summary.RecordsPersisted)

	for _, failure := range summary.Failures {
		fmt.Printf("  FAILED %s/%s: %v\n", failure.Task.TokenID, failure.Task.Timeframe, failure.Err)
	}

	report := summary.Report
	if report == nil {
		return
	}

	fmt.Println("\n=== Quality Report ===")
	fmt.Printf("Overall score: %.1f\n", report.OverallScore)
	fmt.Printf("  Candles:    %.1f\n", report.ComponentScores.Candles)
	fmt.Printf("  Features:   %.1f\n", report.ComponentScores.Features)
	fmt.Printf("  Database:   %.1f\n", report.ComponentScores.Database)
	fmt.Printf("  Processing: %.1f\n", report.ComponentScores.Processing)

	if report.Issues.Critical+report.Issues.High+report.Issues.Medium+report.Issues.Low > 0 {
		fmt.Printf("Issues: %d critical, %d high, %d medium, %d low\n",
			report.Issues.Critical, report.Issues.High, report.Issues.Medium, report.Issues.Low)
	}

	if len(report.Anomalies) > 0 {
		fmt.Printf("Anomalies (%d):\n", len(report.Anomalies))
		for _, a := range report.Anomalies {
			fmt.Printf("  [%s] %s %s/%s: %s (confidence %.2f)\n",
				a.Severity, a.Type, a.TokenID, a.Timeframe, a.Description, a.Confidence)
		}
	}

	fmt.Println("Recommendations:")
	for _, rec := range report.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
}
