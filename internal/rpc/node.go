package rpc

import (
	"sync"

	"golang.org/x/time/rate"
)

// Node is one RPC endpoint in the pool. Health and scoring state are owned by
// the router and its probe loop; callers only ever see snapshots.
type Node struct {
	Name     string
	Endpoint string
	Priority int // static tie-break, lower preferred

	mu            sync.Mutex
	healthy       bool
	errorCount    int
	latencies     []float64 // sliding window, milliseconds, oldest first
	windowSize    int
	failoverCount int
	limiter       *rate.Limiter // nil when outbound rate limiting is disabled
}

func newNode(cfg NodeConfig, windowSize int, limit float64, burst int) *Node {
	n := &Node{
		Name:       cfg.Name,
		Endpoint:   cfg.Endpoint,
		Priority:   cfg.Priority,
		healthy:    true,
		windowSize: windowSize,
	}
	if limit > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return n
}

// score returns the node's routing score; lower is better. An empty latency
// window contributes 0 so untested nodes get tried first, subject to priority.
func (n *Node) score(errorWeight, priorityWeight float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.avgLatencyLocked() + float64(n.errorCount)*errorWeight + float64(n.Priority)*priorityWeight
}

func (n *Node) avgLatencyLocked() float64 {
	if len(n.latencies) == 0 {
		return 0
	}
	var sum float64
	for _, l := range n.latencies {
		sum += l
	}
	return sum / float64(len(n.latencies))
}

// recordSuccess pushes a latency sample and decays the error count (floor 0).
func (n *Node) recordSuccess(latencyMs float64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.latencies) >= n.windowSize {
		n.latencies = n.latencies[1:]
	}
	n.latencies = append(n.latencies, latencyMs)
	if n.errorCount > 0 {
		n.errorCount--
	}
}

// recordFailure bumps the error count and reports whether the count just
// crossed threshold, flipping the node unhealthy.
func (n *Node) recordFailure(threshold int) (wentDown bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.errorCount++
	if n.healthy && n.errorCount >= threshold {
		n.healthy = false
		return true
	}
	return false
}

// markDown flips the node unhealthy regardless of threshold and bumps the
// error count. A failed health probe is treated as conclusive, unlike a
// failed routed call. Returns whether the node was healthy before.
func (n *Node) markDown() (wentDown bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.errorCount++
	wentDown = n.healthy
	n.healthy = false
	return wentDown
}

// restore marks the node healthy and resets its error count. Returns whether
// the node was down before; only the probe loop calls this.
func (n *Node) restore() (wasDown bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	wasDown = !n.healthy
	n.healthy = true
	n.errorCount = 0
	return wasDown
}

func (n *Node) isHealthy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.healthy
}

// hasRateToken reports whether an outbound token is available without consuming it.
func (n *Node) hasRateToken() bool {
	if n.limiter == nil {
		return true
	}
	return n.limiter.Tokens() >= 1
}

func (n *Node) takeRateToken() {
	if n.limiter != nil {
		n.limiter.Allow()
	}
}

func (n *Node) markFailover() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failoverCount++
}

// Status is a point-in-time snapshot of node state for metrics.
type Status struct {
	Name          string  `json:"name"`
	Endpoint      string  `json:"endpoint"`
	Priority      int     `json:"priority"`
	Healthy       bool    `json:"healthy"`
	ErrorCount    int     `json:"error_count"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	FailoverCount int     `json:"failover_count"`
}

func (n *Node) status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{
		Name:          n.Name,
		Endpoint:      n.Endpoint,
		Priority:      n.Priority,
		Healthy:       n.healthy,
		ErrorCount:    n.errorCount,
		AvgLatencyMs:  n.avgLatencyLocked(),
		FailoverCount: n.failoverCount,
	}
}
