package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Assets & price feed
	Assets      []string
	UseMockFeed bool
	FeedURL     string

	// Quote aggregator
	QuoteAPIURL  string
	ChainID      int
	QuoteTimeout time.Duration

	// Order engine
	MinOrderAmount  float64
	DefaultSlippage float64 // fraction, e.g. 0.01 = 1%
	SweepInterval   time.Duration

	// RPC router
	NodesFile      string
	CallTimeout    time.Duration
	ProbeInterval  time.Duration
	ErrorThreshold int
	ErrorWeight    float64
	PriorityWeight float64
	LatencyWindow  int
	NodeRateLimit  float64 // requests/sec per node, 0 disables
	NodeRateBurst  int

	// Gas oracle
	FallbackGasGwei float64

	// Journal
	EnableJournal bool
	DBPath        string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Assets:          splitAndTrim(getEnv("ASSETS", "ETH,WBTC,USDC")),
		UseMockFeed:     getEnv("USE_MOCK_FEED", "true") == "true",
		FeedURL:         getEnv("FEED_URL", ""),
		QuoteAPIURL:     getEnv("QUOTE_API_URL", "https://api.0x.org/swap/v1"),
		ChainID:         getEnvInt("CHAIN_ID", 1),
		QuoteTimeout:    getEnvDuration("QUOTE_TIMEOUT", 10*time.Second),
		MinOrderAmount:  getEnvFloat("MIN_ORDER_AMOUNT", 0.0001),
		DefaultSlippage: getEnvFloat("DEFAULT_SLIPPAGE", 0.01),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 10*time.Second),
		NodesFile:       getEnv("RPC_NODES_FILE", "./config/nodes.yaml"),
		CallTimeout:     getEnvDuration("RPC_CALL_TIMEOUT", 8*time.Second),
		ProbeInterval:   getEnvDuration("RPC_PROBE_INTERVAL", 30*time.Second),
		ErrorThreshold:  getEnvInt("RPC_ERROR_THRESHOLD", 5),
		ErrorWeight:     getEnvFloat("RPC_ERROR_WEIGHT", 100),
		PriorityWeight:  getEnvFloat("RPC_PRIORITY_WEIGHT", 10),
		LatencyWindow:   getEnvInt("RPC_LATENCY_WINDOW", 20),
		NodeRateLimit:   getEnvFloat("RPC_NODE_RATE_LIMIT", 0),
		NodeRateBurst:   getEnvInt("RPC_NODE_RATE_BURST", 10),
		FallbackGasGwei: getEnvFloat("FALLBACK_GAS_GWEI", 30),
		EnableJournal:   getEnv("ENABLE_JOURNAL", "true") == "true",
		DBPath:          getEnv("DB_PATH", "./data/journal.db"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
