package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dexcore/internal/api"
	"dexcore/internal/engine"
	"dexcore/internal/events"
	"dexcore/internal/journal"
	"dexcore/internal/market"
	"dexcore/internal/monitor"
	"dexcore/internal/rpc"
	"dexcore/pkg/config"
	"dexcore/pkg/db"
	"dexcore/pkg/quote"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	log.Printf("starting execution core %s on :%s (chain %d)", buildVersion, cfg.Port, cfg.ChainID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	// RPC router over the configured node pool
	nodeCfgs, err := rpc.LoadNodes(cfg.NodesFile)
	if err != nil {
		log.Fatalf("load rpc nodes from %s: %v", cfg.NodesFile, err)
	}
	router := rpc.NewRouter(nodeCfgs, rpc.NewHTTPCaller(cfg.CallTimeout), rpc.Config{
		ErrorThreshold: cfg.ErrorThreshold,
		ErrorWeight:    cfg.ErrorWeight,
		PriorityWeight: cfg.PriorityWeight,
		LatencyWindow:  cfg.LatencyWindow,
		CallTimeout:    cfg.CallTimeout,
		ProbeInterval:  cfg.ProbeInterval,
		RateLimit:      cfg.NodeRateLimit,
		RateBurst:      cfg.NodeRateBurst,
	}, bus)
	router.StartProbing(ctx)
	log.Printf("rpc router up with %d nodes (probe every %s)", len(nodeCfgs), cfg.ProbeInterval)

	gas := &quote.GasOracle{Router: router, FallbackGwei: cfg.FallbackGasGwei}
	quotes := quote.NewClient(cfg.QuoteAPIURL, cfg.QuoteTimeout)

	// Market data
	var feed market.Feed
	if cfg.UseMockFeed {
		mock := market.NewMockFeed(cfg.Assets, bus)
		mock.Start(ctx)
		feed = mock
		log.Printf("mock feed started for %v", cfg.Assets)
	} else {
		stream := market.NewStreamFeed(cfg.FeedURL, bus)
		stream.Start(ctx)
		feed = stream
		log.Printf("stream feed connecting to %s", cfg.FeedURL)
	}

	// Execution engine
	eng := engine.New(engine.Config{
		ChainID:         cfg.ChainID,
		MinOrderAmount:  cfg.MinOrderAmount,
		DefaultSlippage: cfg.DefaultSlippage,
		SweepInterval:   cfg.SweepInterval,
	}, feed, quotes, gas, bus)

	metrics := monitor.NewSystemMetrics()
	eng.Latency = metrics.ExecutionLatency
	eng.QuoteLatency = metrics.QuoteLatency
	eng.Start(ctx)

	(&monitor.Collector{Bus: bus, Metrics: metrics}).Start(ctx)

	// Optional event journal
	var queries *db.Queries
	if cfg.EnableJournal {
		database, err := db.New(cfg.DBPath)
		if err != nil {
			log.Fatalf("journal db init failed: %v", err)
		}
		defer database.Close()
		if err := db.ApplyMigrations(database); err != nil {
			log.Fatalf("journal migrations failed: %v", err)
		}
		queries = database.Queries()
		journal.NewRecorder(queries, bus).Start(ctx)
		log.Printf("event journal enabled at %s", cfg.DBPath)
	}

	server := api.NewServer(bus, eng, router, metrics, queries, api.SystemMeta{
		ChainID:     cfg.ChainID,
		Assets:      cfg.Assets,
		UseMockFeed: cfg.UseMockFeed,
		Version:     buildVersion,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}
