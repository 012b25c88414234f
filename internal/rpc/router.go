// Package rpc spreads outbound blockchain calls across redundant endpoints,
// scoring node health from observed latency and error history and failing
// over when a node degrades.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"dexcore/internal/events"
)

// ErrNoHealthyNode is returned when every node in the pool has been tried
// within one logical call.
var ErrNoHealthyNode = errors.New("no healthy rpc node available")

// Config tunes scoring, failover and probing.
type Config struct {
	ErrorThreshold int           // consecutive-ish failures before a node goes down
	ErrorWeight    float64       // score contribution per accumulated error
	PriorityWeight float64       // score contribution per priority step
	LatencyWindow  int           // samples kept per node
	CallTimeout    time.Duration // per-attempt deadline
	ProbeInterval  time.Duration
	ProbeMethod    string  // defaults to eth_blockNumber
	RateLimit      float64 // outbound req/s per node, 0 disables
	RateBurst      int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 5,
		ErrorWeight:    100,
		PriorityWeight: 10,
		LatencyWindow:  20,
		CallTimeout:    8 * time.Second,
		ProbeInterval:  30 * time.Second,
		ProbeMethod:    "eth_blockNumber",
	}
}

// Router presents a single Route surface backed by N independently-failing
// endpoints. Node state is mutated only here and in the probe loop.
type Router struct {
	nodes  []*Node
	caller Caller
	cfg    Config
	bus    *events.Bus
}

// NewRouter builds the pool from static configuration. The node set is fixed
// for the life of the process.
func NewRouter(cfgs []NodeConfig, caller Caller, cfg Config, bus *events.Bus) *Router {
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 5
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = 20
	}
	if cfg.ProbeMethod == "" {
		cfg.ProbeMethod = "eth_blockNumber"
	}
	nodes := make([]*Node, 0, len(cfgs))
	for _, nc := range cfgs {
		nodes = append(nodes, newNode(nc, cfg.LatencyWindow, cfg.RateLimit, cfg.RateBurst))
	}
	return &Router{nodes: nodes, caller: caller, cfg: cfg, bus: bus}
}

// Route issues the call against the best-scoring node, failing over through
// the pool. A node is never tried twice within one logical call, bounding the
// worst case at len(nodes) sequential attempts.
func (r *Router) Route(ctx context.Context, method string, params any) (json.RawMessage, error) {
	visited := make(map[*Node]bool, len(r.nodes))

	for attempt := 0; attempt < len(r.nodes); attempt++ {
		node := r.selectNode(visited)
		if node == nil {
			break
		}
		visited[node] = true
		if attempt > 0 {
			node.markFailover()
		}
		node.takeRateToken()

		callCtx := ctx
		var cancel context.CancelFunc
		if r.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		}
		start := time.Now()
		result, err := r.caller.Call(callCtx, node.Endpoint, method, params)
		elapsed := time.Since(start)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			node.recordSuccess(float64(elapsed.Nanoseconds()) / 1e6)
			return result, nil
		}

		log.Printf("router: %s failed %s: %v", node.Name, method, err)
		if node.recordFailure(r.cfg.ErrorThreshold) {
			log.Printf("router: node %s marked down", node.Name)
			if r.bus != nil {
				r.bus.Publish(events.EventNodeDown, node.status())
			}
		}

		// Caller context gone: no point trying the remaining nodes.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, ErrNoHealthyNode
}

// selectNode picks the minimum-score node not yet visited. Healthy nodes with
// an available rate token win over healthy throttled ones; when no healthy
// node remains the best-scoring unhealthy node is still returned so the pool
// degrades instead of failing outright.
func (r *Router) selectNode(visited map[*Node]bool) *Node {
	var best *Node
	var bestScore float64
	bestRank := 3

	for _, n := range r.nodes {
		if visited[n] {
			continue
		}
		rank := 2
		if n.isHealthy() {
			rank = 1
			if n.hasRateToken() {
				rank = 0
			}
		}
		score := n.score(r.cfg.ErrorWeight, r.cfg.PriorityWeight)
		if best == nil || rank < bestRank || (rank == bestRank && score < bestScore) {
			best, bestScore, bestRank = n, score, rank
		}
	}
	return best
}

// StartProbing launches the health-probe loop. Probing is the only path that
// resurrects a down node; the request path never reconsiders one.
func (r *Router) StartProbing(ctx context.Context) {
	go func() {
		interval := r.cfg.ProbeInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.ProbeAll(ctx)
			}
		}
	}()
}

// ProbeAll probes every node regardless of current health.
func (r *Router) ProbeAll(ctx context.Context) {
	for _, node := range r.nodes {
		r.probe(ctx, node)
	}
}

func (r *Router) probe(ctx context.Context, node *Node) {
	callCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	_, err := r.caller.Call(callCtx, node.Endpoint, r.cfg.ProbeMethod, nil)
	if err != nil {
		if node.markDown() {
			log.Printf("router: probe marked node %s down: %v", node.Name, err)
			if r.bus != nil {
				r.bus.Publish(events.EventNodeDown, node.status())
			}
		}
		return
	}

	node.recordSuccess(float64(time.Since(start).Nanoseconds()) / 1e6)
	if node.restore() {
		log.Printf("router: node %s recovered", node.Name)
		if r.bus != nil {
			r.bus.Publish(events.EventNodeRecovered, node.status())
		}
	}
}

// Metrics summarizes pool state for the dashboard.
type Metrics struct {
	AvgLatencyMs    float64         `json:"avg_latency_ms"`
	NodeHealth      map[string]bool `json:"node_health"`
	RecommendedNode string          `json:"recommended_node"`
	Nodes           []Status        `json:"nodes"`
}

// Metrics returns a snapshot across the pool.
func (r *Router) Metrics() Metrics {
	m := Metrics{NodeHealth: make(map[string]bool, len(r.nodes))}

	var latSum float64
	var latCount int
	for _, n := range r.nodes {
		st := n.status()
		m.Nodes = append(m.Nodes, st)
		m.NodeHealth[st.Name] = st.Healthy
		if st.AvgLatencyMs > 0 {
			latSum += st.AvgLatencyMs
			latCount++
		}
	}
	if latCount > 0 {
		m.AvgLatencyMs = latSum / float64(latCount)
	}
	if best := r.selectNode(map[*Node]bool{}); best != nil {
		m.RecommendedNode = best.Name
	}
	return m
}
