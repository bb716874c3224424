// Package main runs the token feature service:
// - Ingestion (continuous, optional): WebSocket candle feed into the candle store
// - Pipeline (scheduled): fetch → validate → compute → persist for every configured series
// - HTTP: health, Prometheus metrics, run status and a cached feature read endpoint
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"token-feature-lab/internal/cache"
	"token-feature-lab/internal/domain"
	"token-feature-lab/internal/features"
	"token-feature-lab/internal/ingestion"
	"token-feature-lab/internal/observability"
	"token-feature-lab/internal/pipeline"
	"token-feature-lab/internal/quality"
	"token-feature-lab/internal/resilience"
	"token-feature-lab/internal/scheduler"
	"token-feature-lab/internal/storage"
	chstore "token-feature-lab/internal/storage/clickhouse"
	"token-feature-lab/internal/storage/memory"
	"token-feature-lab/internal/storage/migrations"
	pgstore "token-feature-lab/internal/storage/postgres"
)

const featureCacheTTL = 30 * time.Second

// Server holds all components of the feature service.
type Server struct {
	// Configuration
	tasks            []domain.Task
	timeframes       []domain.Timeframe
	tokens           []string
	wsEndpoint       string
	pipelineInterval time.Duration
	fetchLimit       int

	// Stores
	candleStore  storage.CandleStore
	featureStore storage.FeatureStore
	refresher    storage.LatestFeatureRefresher

	// Shared resilience components, reused across runs so breaker state
	// survives between cycles.
	breaker  *resilience.CircuitBreaker
	recovery *resilience.Manager
	pool     *scheduler.Pool
	engine   *features.Engine
	hybrid   *quality.HybridValidator

	metrics      *observability.Metrics
	featureCache *cache.TTL[[]*domain.FeatureRecord]
	logger       *logrus.Logger

	// State
	mu              sync.Mutex
	lastRun         time.Time
	lastSummary     *pipeline.Summary
	pipelineRunning bool
	startedAt       time.Time
	pipelineRuns    int
	previousScores  map[string]float64
}

func main() {
	loadEnvFile()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (candle source)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (feature sink)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("CANDLE_WS_ENDPOINT"), "WebSocket candle feed endpoint (empty disables live ingestion)")
	tokens := flag.String("tokens", os.Getenv("TOKENS"), "Comma-separated token IDs to process")
	timeframes := flag.String("timeframes", "1h", "Comma-separated timeframes (5m, 15m, 1h, 4h, 1d)")
	pipelineInterval := flag.Duration("pipeline-interval", 1*time.Hour, "Pipeline run interval")
	fetchLimit := flag.Int("fetch-limit", pipeline.DefaultFetchLimit, "Max candles fetched per series per run")
	httpAddr := flag.String("http-addr", ":9090", "HTTP address for health/metrics/status/features")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}

	tokenList := splitList(*tokens)
	if len(tokenList) == 0 {
		logger.Fatal("--tokens is required")
	}
	timeframeList, err := parseTimeframes(*timeframes)
	if err != nil {
		logger.Fatal(err)
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics("")
	metrics.BreakerState.WithLabelValues("storage").Set(float64(resilience.StateClosed))

	server := &Server{
		tasks:            buildTasks(tokenList, timeframeList),
		timeframes:       timeframeList,
		tokens:           tokenList,
		wsEndpoint:       *wsEndpoint,
		pipelineInterval: *pipelineInterval,
		fetchLimit:       *fetchLimit,
		candleStore:      stores.candleStore,
		featureStore:     stores.featureStore,
		refresher:        stores.refresher,
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:             "storage",
			FailureThreshold: 5,
			ResetTimeout:     60 * time.Second,
			MonitorWindow:    time.Hour,
			OnStateChange: func(name string, _, to resilience.BreakerState) {
				metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			},
		}, logger),
		recovery:     resilience.NewManager(logger),
		pool:         scheduler.NewPool(scheduler.Options{Logger: logger}),
		engine:       features.NewEngine(),
		hybrid:       quality.NewHybridValidator(nil, quality.DefaultHybridConfig()),
		metrics:      metrics,
		featureCache: cache.NewTTL[[]*domain.FeatureRecord](featureCacheTTL),
		logger:       logger,
		startedAt:    time.Now(),
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Infof("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go server.startHTTPServer(*httpAddr)

	err = server.Run(ctx)
	done <- err

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Info("Shutdown complete")
}

// serverStores holds the storage implementations the server needs.
type serverStores struct {
	candleStore  storage.CandleStore
	featureStore storage.FeatureStore
	refresher    storage.LatestFeatureRefresher
}

// createStores connects to PostgreSQL and ClickHouse, runs migrations and
// returns the stores, or in-memory equivalents when useMemory is set.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *logrus.Logger) (*serverStores, func(), error) {
	if useMemory {
		featureStore := memory.NewFeatureStore()
		stores := &serverStores{
			candleStore:  memory.NewCandleStore(),
			featureStore: featureStore,
			refresher:    featureStore,
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	logger.Info("Migrations applied")

	featureStore := chstore.NewFeatureStore(chConn)
	stores := &serverStores{
		candleStore:  pgstore.NewCandleStore(pool),
		featureStore: featureStore,
		refresher:    featureStore,
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// Run starts ingestion (when configured) and the pipeline scheduler, and
// blocks until the context is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"tasks":    len(s.tasks),
		"interval": s.pipelineInterval,
	}).Info("Starting feature service")

	errCh := make(chan error, 2)

	if s.wsEndpoint != "" {
		go func() {
			err := s.runIngestion(ctx)
			if err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("ingestion: %w", err)
			}
		}()
	}

	go func() {
		err := s.runPipelineScheduler(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("pipeline scheduler: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runIngestion streams live candles into the candle store.
func (s *Server) runIngestion(ctx context.Context) error {
	s.logger.WithField("endpoint", s.wsEndpoint).Info("Starting live candle ingestion")

	source, err := ingestion.NewWSCandleSource(ctx, s.wsEndpoint, nil, s.logger)
	if err != nil {
		return fmt.Errorf("connect candle feed: %w", err)
	}
	defer source.Close()

	source.OnReconnect(func() { s.metrics.WSReconnects.Inc() })

	for _, tf := range s.timeframes {
		if err := source.Subscribe(ctx, s.tokens, tf); err != nil {
			return fmt.Errorf("subscribe %s: %w", tf, err)
		}
	}

	ingester, err := ingestion.NewIngester(ingestion.IngesterOptions{
		Store:   s.candleStore,
		Source:  source.Candles(),
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	if err != nil {
		return err
	}
	return ingester.Run(ctx)
}

// runPipelineScheduler runs the pipeline immediately and then on a ticker.
func (s *Server) runPipelineScheduler(ctx context.Context) error {
	s.runPipeline(ctx)

	ticker := time.NewTicker(s.pipelineInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runPipeline(ctx)
		}
	}
}

// runPipeline executes one full pipeline cycle over all configured tasks.
func (s *Server) runPipeline(ctx context.Context) {
	s.mu.Lock()
	if s.pipelineRunning {
		s.mu.Unlock()
		s.logger.Warn("Pipeline already running, skipping cycle")
		return
	}
	s.pipelineRunning = true
	previousScores := s.previousScores
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.pipelineRunning = false
		s.lastRun = time.Now()
		s.pipelineRuns++
		s.mu.Unlock()
	}()

	runner, err := pipeline.NewRunner(pipeline.Options{
		CandleStore:    s.candleStore,
		FeatureStore:   s.featureStore,
		Refresher:      s.refresher,
		Engine:         s.engine,
		Pool:           s.pool,
		Recovery:       s.recovery,
		Breaker:        s.breaker,
		Hybrid:         s.hybrid,
		Metrics:        s.metrics,
		Logger:         s.logger,
		FetchLimit:     s.fetchLimit,
		PreviousScores: previousScores,
	})
	if err != nil {
		s.logger.WithError(err).Error("Pipeline construction failed")
		return
	}

	summary, err := runner.Run(ctx, s.tasks)
	if err != nil {
		s.logger.WithError(err).Error("Pipeline run failed")
		return
	}

	s.mu.Lock()
	s.lastSummary = summary
	if summary.Report != nil {
		s.previousScores = map[string]float64{
			"candles":    summary.Report.ComponentScores.Candles,
			"features":   summary.Report.ComponentScores.Features,
			"database":   summary.Report.ComponentScores.Database,
			"processing": summary.Report.ComponentScores.Processing,
		}
	}
	s.mu.Unlock()
}

// startHTTPServer serves health, metrics, status and cached feature reads.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/features", s.handleFeatures)

	s.logger.WithField("addr", addr).Info("Starting HTTP server")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("HTTP server error")
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status          string    `json:"status"`
	Uptime          string    `json:"uptime"`
	LastPipelineRun time.Time `json:"last_pipeline_run,omitempty"`
	PipelineRuns    int       `json:"pipeline_runs"`
	PipelineRunning bool      `json:"pipeline_running"`
	TasksConfigured int       `json:"tasks_configured"`
	LastOverall     float64   `json:"last_overall_score,omitempty"`
	BreakerState    string    `json:"breaker_state"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := StatusResponse{
		Status:          "running",
		Uptime:          time.Since(s.startedAt).String(),
		LastPipelineRun: s.lastRun,
		PipelineRuns:    s.pipelineRuns,
		PipelineRunning: s.pipelineRunning,
		TasksConfigured: len(s.tasks),
		BreakerState:    s.breaker.State().String(),
	}
	if s.lastSummary != nil && s.lastSummary.Report != nil {
		resp.LastOverall = s.lastSummary.Report.OverallScore
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleFeatures serves the most recent feature records for one series,
// cached for featureCacheTTL to keep repeated dashboard polls off the sink.
func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	tokenID := r.URL.Query().Get("token")
	timeframe := domain.Timeframe(r.URL.Query().Get("timeframe"))
	if tokenID == "" || !timeframe.Valid() {
		http.Error(w, "token and a valid timeframe are required", http.StatusBadRequest)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be in [1,1000]", http.StatusBadRequest)
			return
		}
		limit = n
	}

	key := fmt.Sprintf("%s|%s|%d", tokenID, timeframe, limit)
	records, err := s.featureCache.GetOrCompute(key, func() ([]*domain.FeatureRecord, error) {
		return s.featureStore.GetSeries(r.Context(), tokenID, timeframe, limit)
	})
	if err != nil {
		s.logger.WithError(err).Warn("feature read failed")
		http.Error(w, "feature read failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// buildTasks crosses tokens with timeframes.
func buildTasks(tokens []string, timeframes []domain.Timeframe) []domain.Task {
	tasks := make([]domain.Task, 0, len(tokens)*len(timeframes))
	for _, token := range tokens {
		for _, tf := range timeframes {
			tasks = append(tasks, domain.Task{TokenID: token, Timeframe: tf})
		}
	}
	return tasks
}

// parseTimeframes parses a comma-separated timeframe list.
func parseTimeframes(raw string) ([]domain.Timeframe, error) {
	var out []domain.Timeframe
	for _, part := range splitList(raw) {
		tf := domain.Timeframe(part)
		if !tf.Valid() {
			return nil, fmt.Errorf("unsupported timeframe %q", part)
		}
		out = append(out, tf)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no timeframes specified")
	}
	return out, nil
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
