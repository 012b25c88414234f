package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dexcore/internal/rpc"
)

// SystemMetrics tracks overall system performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	ExecutionLatency *LatencyHistogram
	QuoteLatency     *LatencyHistogram
	APILatency       *LatencyHistogram

	// Counters
	ordersPlaced    uint64
	ordersFilled    uint64
	ordersCancelled uint64
	ordersExpired   uint64
	ticksProcessed  uint64
	errorsCount     uint64
	nodeFailovers   uint64
	apiRequests     uint64
	apiErrors       uint64

	// Router stats (updated periodically from main).
	routerStats rpc.Metrics

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with a sliding window. Stats are
// computed lazily and cached until the next sample arrives.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ExecutionLatency: NewLatencyHistogram(1000),
		QuoteLatency:     NewLatencyHistogram(1000),
		APILatency:       NewLatencyHistogram(1000),
		lastUpdate:       time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementAPI increments the served-request counter.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors increments the 4xx/5xx response counter.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// MetricsSnapshot is a point-in-time view served by the dashboard API.
type MetricsSnapshot struct {
	ExecutionLatency LatencyStats `json:"execution_latency"`
	QuoteLatency     LatencyStats `json:"quote_latency"`
	APILatency       LatencyStats `json:"api_latency"`
	OrdersPlaced     uint64       `json:"orders_placed"`
	OrdersFilled     uint64       `json:"orders_filled"`
	OrdersCancelled  uint64       `json:"orders_cancelled"`
	OrdersExpired    uint64       `json:"orders_expired"`
	TicksProcessed   uint64       `json:"ticks_processed"`
	ErrorsCount      uint64       `json:"errors_count"`
	NodeFailovers    uint64       `json:"node_failovers"`
	APIRequests      uint64       `json:"api_requests"`
	APIErrors        uint64       `json:"api_errors"`
	Router           rpc.Metrics  `json:"router"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	HeapSys          uint64       `json:"heap_sys_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	router := m.routerStats
	m.mu.RUnlock()

	return MetricsSnapshot{
		ExecutionLatency: m.ExecutionLatency.Stats(),
		QuoteLatency:     m.QuoteLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		OrdersPlaced:     atomic.LoadUint64(&m.ordersPlaced),
		OrdersFilled:     atomic.LoadUint64(&m.ordersFilled),
		OrdersCancelled:  atomic.LoadUint64(&m.ordersCancelled),
		OrdersExpired:    atomic.LoadUint64(&m.ordersExpired),
		TicksProcessed:   atomic.LoadUint64(&m.ticksProcessed),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		NodeFailovers:    atomic.LoadUint64(&m.nodeFailovers),
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		APIErrors:        atomic.LoadUint64(&m.apiErrors),
		Router:           router,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Timestamp:        time.Now(),
	}
}

// SetRouterStats updates the cached router metrics.
func (m *SystemMetrics) SetRouterStats(stats rpc.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routerStats = stats
	m.lastUpdate = time.Now()
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
