// Command ingest runs the tick ingestion feed on its own: it polls the
// exchange for closed minute candles, persists them as price ticks, and
// publishes a prices-updated signal after every poll that stored new data.
// Deploy it separately from the server when one writer should feed several
// read-only server instances through Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"coin-journal/internal/bus"
	"coin-journal/internal/cache"
	"coin-journal/internal/domain"
	"coin-journal/internal/ingest"
	"coin-journal/internal/market"
	"coin-journal/internal/observability"
	"coin-journal/internal/storage"
	chstore "coin-journal/internal/storage/clickhouse"
	"coin-journal/internal/storage/memory"
	"coin-journal/internal/storage/migrations"
)

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the signal bus (empty = signals stay in-process)")
	redisPassword := flag.String("redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	binanceBaseURL := flag.String("binance-base-url", os.Getenv("BINANCE_BASE_URL"), "Binance futures API base URL override")
	coinsFlag := flag.String("coins", envOr("COINS", ""), "Tracked coins as id:symbol pairs, e.g. 7:BTCUSDT,12:ETHUSDT")
	pollInterval := flag.Duration("poll-interval", ingest.DefaultPollInterval, "Origin poll interval")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of ClickHouse")
	metricsAddr := flag.String("metrics-addr", envOr("METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if !*useMemory && *clickhouseDSN == "" {
		logger.Fatal("--clickhouse-dsn is required (use --use-memory for in-memory storage)")
	}

	coins, err := parseCoins(*coinsFlag)
	if err != nil {
		logger.Fatalf("Invalid --coins: %v", err)
	}
	if len(coins) == 0 {
		logger.Fatal("No coins specified. Use --coins id:symbol[,id:symbol...]")
	}
	logger.Printf("Polling coins: %v", coins)

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

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

	// Create tick store
	ticks, cleanup, err := createTickStore(ctx, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create tick store: %v", err)
	}
	defer cleanup()

	// Create signal publisher
	publisher, busCleanup, err := createPublisher(ctx, *redisAddr, *redisPassword)
	if err != nil {
		logger.Fatalf("Failed to create signal bus: %v", err)
	}
	defer busCleanup()

	feed := ingest.NewFeed(ingest.Options{
		Origin:       market.NewBinanceOrigin(*binanceBaseURL, 15*time.Second),
		Ticks:        ticks,
		Bus:          publisher,
		Coins:        coins,
		Logger:       logger,
		PollInterval: *pollInterval,
	})

	err = feed.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Feed error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createTickStore creates the configured tick store and runs migrations.
func createTickStore(ctx context.Context, clickhouseDSN string, useMemory bool, logger *log.Logger) (storage.TickStore, func(), error) {
	if useMemory {
		logger.Println("Using in-memory tick store")
		return memory.NewTickStore(), func() {}, nil
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	logger.Println("Connected to ClickHouse")

	cleanup := func() {
		if err := chConn.Close(); err != nil {
			logger.Printf("Error closing ClickHouse connection: %v", err)
		}
	}
	return chstore.NewTickStore(chConn), cleanup, nil
}

// createPublisher wires the signal publisher. With a Redis address signals
// reach other processes; otherwise they stay in this one, which only makes
// sense together with --use-memory smoke runs.
func createPublisher(ctx context.Context, redisAddr, redisPassword string) (bus.Publisher, func(), error) {
	if redisAddr == "" {
		memBus := bus.NewMemoryBus()
		return memBus, func() { memBus.Close() }, nil
	}

	redisCache, err := cache.NewRedisStore(ctx, redisAddr, redisPassword, 0, log.New(os.Stdout, "[bus] ", log.LstdFlags))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	redisBus := bus.NewRedisBus(redisCache.Client(), log.New(os.Stdout, "[bus] ", log.LstdFlags))
	return redisBus, func() { redisCache.Close() }, nil
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
