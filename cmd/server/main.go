// Package main provides the unified journal service:
// - HTTP API: evaluation submission/status and cached market-data reads
// - Ingestion (continuous): origin polling that persists price ticks
// - Refresh (signal-driven): merged daily candle recomputation
// - Reaper (scheduled): fails orphaned RUNNING evaluation jobs
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"coin-journal/internal/bus"
	"coin-journal/internal/cache"
	"coin-journal/internal/domain"
	"coin-journal/internal/evaluation"
	"coin-journal/internal/ingest"
	"coin-journal/internal/market"
	"coin-journal/internal/observability"
	"coin-journal/internal/refresh"
	"coin-journal/internal/storage"
	chstore "coin-journal/internal/storage/clickhouse"
	"coin-journal/internal/storage/memory"
	"coin-journal/internal/storage/migrations"
	pgstore "coin-journal/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	// Configuration
	listenAddr     string
	coins          []domain.CoinRef
	reaperInterval time.Duration

	// Components
	orchestrator *evaluation.Orchestrator
	reaper       *evaluation.Reaper
	market       *market.Service
	feed         *ingest.Feed
	listener     *refresh.Listener
	logger       *log.Logger

	// State
	mu           sync.Mutex
	started      time.Time
	lastSweep    time.Time
	sweeps       int
	jobsReaped   int
	submissions  int
	deduplicated int
}

// stores holds the storage implementations behind the service.
type stores struct {
	ledger  storage.JobLedger
	results storage.ResultStore
	ticks   storage.TickStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for cache and signal bus (empty = in-process)")
	redisPassword := flag.String("redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	signalWSEndpoint := flag.String("signal-ws-endpoint", os.Getenv("SIGNAL_WS_ENDPOINT"), "External WebSocket endpoint for ingestion signals (optional)")
	binanceBaseURL := flag.String("binance-base-url", os.Getenv("BINANCE_BASE_URL"), "Binance futures API base URL override")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	coinsFlag := flag.String("coins", envOr("COINS", ""), "Tracked coins as id:symbol pairs, e.g. 7:BTCUSDT,12:ETHUSDT")
	evalTimeout := flag.Duration("eval-timeout", 60*time.Second, "Per-job evaluation timeout")
	maxConcurrent := flag.Int("max-concurrent", 8, "Maximum concurrent evaluations")
	reaperInterval := flag.Duration("reaper-interval", time.Minute, "Stale-job sweep interval")
	maxRunning := flag.Duration("max-running", 5*time.Minute, "RUNNING staleness window before a job is reaped")
	pollInterval := flag.Duration("poll-interval", time.Minute, "Origin poll interval for the tick feed")
	ratioTTL := flag.Duration("ratio-ttl", market.DefaultRatioTTL, "Cache TTL for long/short ratios")
	candlesTTL := flag.Duration("candles-ttl", market.DefaultCandlesTTL, "Cache TTL for daily candles")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	coins, err := parseCoins(*coinsFlag)
	if err != nil {
		logger.Fatalf("Invalid --coins: %v", err)
	}
	if len(coins) == 0 {
		logger.Fatal("No coins specified. Use --coins id:symbol[,id:symbol...]")
	}
	logger.Printf("Tracking coins: %v", coins)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	st, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Create cache and signal bus
	cacheStore, publisher, subscriber, busCleanup, err := createCacheAndBus(ctx, *redisAddr, *redisPassword, *signalWSEndpoint, logger)
	if err != nil {
		logger.Fatalf("Failed to create cache and bus: %v", err)
	}
	defer busCleanup()

	// Market data: origin behind the read-through cache
	origin := market.NewBinanceOrigin(*binanceBaseURL, 15*time.Second)
	marketSvc := market.NewService(market.ServiceOptions{
		Cache:      cacheStore,
		Origin:     origin,
		Ticks:      st.ticks,
		Logger:     log.New(os.Stdout, "[market] ", log.LstdFlags),
		RatioTTL:   *ratioTTL,
		CandlesTTL: *candlesTTL,
	})

	symbols := make(map[int64]string, len(coins))
	for _, c := range coins {
		symbols[c.CoinID] = c.Symbol
	}

	orchestrator := evaluation.NewOrchestrator(evaluation.Options{
		Ledger:        st.ledger,
		Results:       st.results,
		Evaluator:     evaluation.NewMarketEvaluator(marketSvc, symbols),
		Logger:        log.New(os.Stdout, "[evaluation] ", log.LstdFlags),
		MaxConcurrent: *maxConcurrent,
		EvalTimeout:   *evalTimeout,
	})

	server := &Server{
		listenAddr:     *listenAddr,
		coins:          coins,
		reaperInterval: *reaperInterval,
		orchestrator:   orchestrator,
		reaper: evaluation.NewReaper(evaluation.ReaperOptions{
			Ledger:     st.ledger,
			Logger:     log.New(os.Stdout, "[reaper] ", log.LstdFlags),
			MaxRunning: *maxRunning,
		}),
		market: marketSvc,
		feed: ingest.NewFeed(ingest.Options{
			Origin:       origin,
			Ticks:        st.ticks,
			Bus:          publisher,
			Coins:        coins,
			Logger:       log.New(os.Stdout, "[ingest] ", log.LstdFlags),
			PollInterval: *pollInterval,
		}),
		listener: refresh.NewListener(refresh.Options{
			Bus:    subscriber,
			Ticks:  st.ticks,
			Cache:  cacheStore,
			Coins:  coins,
			Logger: log.New(os.Stdout, "[refresh] ", log.LstdFlags),
		}),
		logger:  logger,
		started: time.Now(),
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Run the unified server
	err = server.Run(ctx)
	done <- err
	cancel()

	// Let in-flight evaluations finish before closing stores.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Orchestrator shutdown: %v", err)
	}
	shutdownCancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// parseCoins parses "id:symbol,id:symbol" pairs.
func parseCoins(raw string) ([]domain.CoinRef, error) {
	var coins []domain.CoinRef
	seen := make(map[int64]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("bad coin entry %q, want id:symbol", part)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("bad coin id in %q", part)
		}
		symbol := strings.ToUpper(strings.TrimSpace(fields[1]))
		if symbol == "" {
			return nil, fmt.Errorf("empty symbol in %q", part)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate coin id %d", id)
		}
		seen[id] = true
		coins = append(coins, domain.CoinRef{CoinID: id, Symbol: symbol})
	}
	return coins, nil
}

// createStores creates the configured storage backends and runs migrations.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *log.Logger) (*stores, func(), error) {
	if useMemory {
		st := &stores{
			ledger:  memory.NewJobLedger(),
			results: memory.NewResultStore(),
			ticks:   memory.NewTickStore(),
		}
		return st, func() {}, nil
	}

	// PostgreSQL: jobs and results
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	// ClickHouse: tick timeseries
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	logger.Println("Storage migrations applied")

	st := &stores{
		ledger:  pgstore.NewJobLedger(pool),
		results: pgstore.NewResultStore(pool),
		ticks:   chstore.NewTickStore(chConn),
	}
	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return st, cleanup, nil
}

// createCacheAndBus wires the cache store and the signal bus. With a Redis
// address both live on Redis so instances share state; otherwise everything
// is in-process. An external WS endpoint replaces the local subscriber side.
func createCacheAndBus(ctx context.Context, redisAddr, redisPassword, wsEndpoint string, logger *log.Logger) (cache.Store, bus.Publisher, bus.Subscriber, func(), error) {
	var (
		cacheStore cache.Store
		publisher  bus.Publisher
		subscriber bus.Subscriber
		closers    []func()
	)

	if redisAddr != "" {
		redisCache, err := cache.NewRedisStore(ctx, redisAddr, redisPassword, 0, log.New(os.Stdout, "[cache] ", log.LstdFlags))
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, func() { redisCache.Close() })

		redisBus := bus.NewRedisBus(redisCache.Client(), log.New(os.Stdout, "[bus] ", log.LstdFlags))
		cacheStore = redisCache
		publisher = redisBus
		subscriber = redisBus
	} else {
		memCache := cache.NewMemoryStore(time.Minute, log.New(os.Stdout, "[cache] ", log.LstdFlags))
		memBus := bus.NewMemoryBus()
		closers = append(closers, memCache.Close, func() { memBus.Close() })
		cacheStore = memCache
		publisher = memBus
		subscriber = memBus
	}

	if wsEndpoint != "" {
		wsSub, err := bus.NewWSSubscriber(ctx, wsEndpoint, nil, log.New(os.Stdout, "[bus] ", log.LstdFlags))
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, nil, nil, fmt.Errorf("connect signal websocket: %w", err)
		}
		closers = append(closers, func() { wsSub.Close() })
		subscriber = wsSub
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return cacheStore, publisher, subscriber, cleanup, nil
}

// Run starts all components and blocks until ctx is cancelled or a
// component fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting unified server...")

	errCh := make(chan error, 4)

	// Tick ingestion feed
	go func() {
		err := s.feed.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("ingest feed: %w", err)
		}
	}()

	// Cache refresh listener
	go func() {
		err := s.listener.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("refresh listener: %w", err)
		}
	}()

	// Reaper schedule
	sched := cron.New()
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", s.reaperInterval), func() {
		s.runSweep(ctx)
	}); err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// HTTP API
	httpSrv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Printf("HTTP server listening on %s", s.listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runSweep runs one reaper pass.
func (s *Server) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reaped, err := s.reaper.Sweep(sweepCtx)
	if err != nil {
		s.logger.Printf("Reaper sweep failed: %v", err)
		return
	}

	s.mu.Lock()
	s.sweeps++
	s.jobsReaped += reaped
	s.lastSweep = time.Now()
	s.mu.Unlock()
}

// routes builds the HTTP API.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Evaluations
	mux.HandleFunc("/evaluations", s.handleSubmitEvaluation)
	mux.HandleFunc("/evaluations/status", s.handleEvaluationStatus)
	mux.HandleFunc("/evaluations/results", s.handleEvaluationResults)

	// Market data
	mux.HandleFunc("/market/long-short-ratio", s.handleLongShortRatio)
	mux.HandleFunc("/market/daily-candles", s.handleDailyCandles)
	mux.HandleFunc("/market/merged-candle", s.handleMergedCandle)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	return mux
}

// submitRequest is the JSON body for POST /evaluations.
type submitRequest struct {
	UserID     int64  `json:"user_id"`
	TradeID    int64  `json:"trade_id"`
	CoinID     int64  `json:"coin_id"`
	TargetDate string `json:"target_date"`
}

// jobResponse is the JSON view of an evaluation job.
type jobResponse struct {
	JobID      string `json:"job_id"`
	UserID     int64  `json:"user_id"`
	TradeID    int64  `json:"trade_id"`
	CoinID     int64  `json:"coin_id"`
	TargetDate string `json:"target_date"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	Accepted   bool   `json:"accepted"`
}

func toJobResponse(job *domain.EvaluationJob, accepted bool) jobResponse {
	return jobResponse{
		JobID:      job.JobID,
		UserID:     job.UserID,
		TradeID:    job.TradeID,
		CoinID:     job.CoinID,
		TargetDate: job.TargetDate,
		Status:     string(job.Status),
		FailReason: job.FailReason,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		Accepted:   accepted,
	}
}

// handleSubmitEvaluation accepts an evaluation request. A submission that
// collapses onto an in-flight job returns 200 with that job; a freshly
// accepted one returns 202.
func (s *Server) handleSubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	job, accepted, err := s.orchestrator.Submit(r.Context(), req.UserID, req.TradeID, req.CoinID, req.TargetDate)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Printf("Submit evaluation: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.submissions++
	if !accepted {
		s.deduplicated++
	}
	s.mu.Unlock()

	status := http.StatusOK
	if accepted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, toJobResponse(job, accepted))
}

// statusResponse is the JSON view of a job with its current result.
type statusResponse struct {
	Job    jobResponse              `json:"job"`
	Result *domain.EvaluationResult `json:"result,omitempty"`
}

func (s *Server) handleEvaluationStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryInt64(w, r, "user_id")
	if !ok {
		return
	}
	tradeID, ok := queryInt64(w, r, "trade_id")
	if !ok {
		return
	}

	view, err := s.orchestrator.GetStatus(r.Context(), userID, tradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "no evaluation for this trade", http.StatusNotFound)
			return
		}
		s.logger.Printf("Evaluation status: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Job:    toJobResponse(view.Job, false),
		Result: view.Result,
	})
}

func (s *Server) handleEvaluationResults(w http.ResponseWriter, r *http.Request) {
	tradeID, ok := queryInt64(w, r, "trade_id")
	if !ok {
		return
	}

	results, err := s.orchestrator.ListResults(r.Context(), tradeID)
	if err != nil {
		s.logger.Printf("Evaluation results: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleLongShortRatio(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	period := r.URL.Query().Get("period")
	if symbol == "" || period == "" {
		http.Error(w, "symbol and period are required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	points, err := s.market.LongShortRatio(r.Context(), symbol, period, limit)
	if err != nil {
		s.logger.Printf("Long/short ratio: %v", err)
		http.Error(w, "market data unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleDailyCandles(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	candles, err := s.market.DailyCandles(r.Context(), symbol, limit)
	if err != nil {
		s.logger.Printf("Daily candles: %v", err)
		http.Error(w, "market data unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleMergedCandle(w http.ResponseWriter, r *http.Request) {
	coinID, ok := queryInt64(w, r, "coin_id")
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date is required", http.StatusBadRequest)
		return
	}

	candle, err := s.market.MergedDailyCandle(r.Context(), coinID, date)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "no data for this day", http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Printf("Merged candle: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, candle)
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status       string    `json:"status"`
	Uptime       string    `json:"uptime"`
	Coins        int       `json:"coins"`
	Submissions  int       `json:"submissions"`
	Deduplicated int       `json:"deduplicated"`
	Sweeps       int       `json:"sweeps"`
	JobsReaped   int       `json:"jobs_reaped"`
	LastSweep    time.Time `json:"last_sweep,omitempty"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:       "running",
		Uptime:       time.Since(s.started).String(),
		Coins:        len(s.coins),
		Submissions:  s.submissions,
		Deduplicated: s.deduplicated,
		Sweeps:       s.sweeps,
		JobsReaped:   s.jobsReaped,
		LastSweep:    s.lastSweep,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		http.Error(w, fmt.Sprintf("%s must be a positive integer", name), http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
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

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
