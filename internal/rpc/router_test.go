package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"dexcore/internal/events"
)

// fakeCaller routes calls to per-endpoint handlers and records the order of
// endpoints hit.
type fakeCaller struct {
	mu       sync.Mutex
	handlers map[string]func(method string) (json.RawMessage, error)
	calls    []string
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{handlers: make(map[string]func(string) (json.RawMessage, error))}
}

func (f *fakeCaller) respond(endpoint string, fn func(string) (json.RawMessage, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[endpoint] = fn
}

func (f *fakeCaller) Call(_ context.Context, endpoint, method string, _ any) (json.RawMessage, error) {
	f.mu.Lock()
	fn := f.handlers[endpoint]
	f.calls = append(f.calls, endpoint)
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no handler")
	}
	return fn(method)
}

func (f *fakeCaller) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func ok(string) (json.RawMessage, error)   { return json.RawMessage(`"0x1"`), nil }
func fail(string) (json.RawMessage, error) { return nil, errors.New("connection refused") }

func threeNodes() []NodeConfig {
	return []NodeConfig{
		{Name: "alpha", Endpoint: "http://alpha", Priority: 1},
		{Name: "beta", Endpoint: "http://beta", Priority: 1},
		{Name: "gamma", Endpoint: "http://gamma", Priority: 1},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 5
	cfg.ProbeInterval = time.Hour // probes driven manually in tests
	cfg.CallTimeout = time.Second
	return cfg
}

func seedLatencies(n *Node, samples ...float64) {
	for _, s := range samples {
		n.recordSuccess(s)
	}
}

func TestRouteSelectsLowestLatencyNode(t *testing.T) {
	caller := newFakeCaller()
	for _, ep := range []string{"http://alpha", "http://beta", "http://gamma"} {
		caller.respond(ep, ok)
	}
	r := NewRouter(threeNodes(), caller, testConfig(), nil)

	seedLatencies(r.nodes[0], 50)
	seedLatencies(r.nodes[1], 20)
	seedLatencies(r.nodes[2], 80)

	if _, err := r.Route(context.Background(), "eth_call", nil); err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	if got := caller.callLog(); got[0] != "http://beta" {
		t.Fatalf("routed to %s, expected http://beta", got[0])
	}
}

func TestRouteFailsOverTransparently(t *testing.T) {
	caller := newFakeCaller()
	caller.respond("http://alpha", fail)
	caller.respond("http://beta", ok)
	caller.respond("http://gamma", ok)
	r := NewRouter(threeNodes(), caller, testConfig(), nil)

	// Make alpha the preferred node, beta next.
	seedLatencies(r.nodes[0], 10)
	seedLatencies(r.nodes[1], 20)
	seedLatencies(r.nodes[2], 30)

	res, err := r.Route(context.Background(), "eth_call", nil)
	if err != nil {
		t.Fatalf("Route returned error despite healthy fallback: %v", err)
	}
	if string(res) != `"0x1"` {
		t.Fatalf("unexpected result %s", res)
	}

	calls := caller.callLog()
	if len(calls) != 2 || calls[0] != "http://alpha" || calls[1] != "http://beta" {
		t.Fatalf("unexpected call sequence %v", calls)
	}
	if got := r.nodes[1].status().FailoverCount; got != 1 {
		t.Fatalf("beta failover count=%d, expected 1", got)
	}
}

func TestThresholdMarksNodeDownUntilProbeRestores(t *testing.T) {
	caller := newFakeCaller()
	caller.respond("http://alpha", fail)
	caller.respond("http://beta", ok)
	caller.respond("http://gamma", ok)

	bus := events.NewBus()
	downCh, unsubDown := bus.Subscribe(events.EventNodeDown, 4)
	defer unsubDown()
	upCh, unsubUp := bus.Subscribe(events.EventNodeRecovered, 4)
	defer unsubUp()

	r := NewRouter(threeNodes(), caller, testConfig(), bus)
	// Fallback latencies far above the error-weight penalty so alpha stays
	// preferred until it crosses the threshold.
	seedLatencies(r.nodes[0], 10)
	seedLatencies(r.nodes[1], 100000)
	seedLatencies(r.nodes[2], 200000)

	// Six consecutive failing attempts on alpha (threshold 5).
	for i := 0; i < 6; i++ {
		if _, err := r.Route(context.Background(), "eth_call", nil); err != nil {
			t.Fatalf("Route %d returned error: %v", i, err)
		}
	}

	select {
	case payload := <-downCh:
		if st := payload.(Status); st.Name != "alpha" {
			t.Fatalf("node_down for %s, expected alpha", st.Name)
		}
	default:
		t.Fatal("expected a node_down event for alpha")
	}
	if r.nodes[0].isHealthy() {
		t.Fatal("alpha should be unhealthy after crossing threshold")
	}

	// Down node is excluded from fresh selections.
	before := len(caller.callLog())
	if _, err := r.Route(context.Background(), "eth_call", nil); err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	first := caller.callLog()[before]
	if first == "http://alpha" {
		t.Fatal("down node was selected before a successful probe")
	}

	// Probe resurrects it.
	caller.respond("http://alpha", ok)
	r.ProbeAll(context.Background())

	select {
	case payload := <-upCh:
		if st := payload.(Status); st.Name != "alpha" {
			t.Fatalf("node_recovered for %s, expected alpha", st.Name)
		}
	default:
		t.Fatal("expected a node_recovered event for alpha")
	}
	if !r.nodes[0].isHealthy() {
		t.Fatal("alpha should be healthy after successful probe")
	}
	if r.nodes[0].status().ErrorCount != 0 {
		t.Fatal("probe restore should reset error count")
	}
}

func TestFailedProbeMarksNodeDownImmediately(t *testing.T) {
	caller := newFakeCaller()
	caller.respond("http://alpha", fail)
	caller.respond("http://beta", ok)
	caller.respond("http://gamma", ok)

	bus := events.NewBus()
	downCh, unsubDown := bus.Subscribe(events.EventNodeDown, 4)
	defer unsubDown()

	r := NewRouter(threeNodes(), caller, testConfig(), bus)

	// One failed probe is conclusive; the routed-call threshold does not apply.
	r.ProbeAll(context.Background())

	if r.nodes[0].isHealthy() {
		t.Fatal("alpha should be unhealthy after a single failed probe")
	}
	if st := r.nodes[0].status(); st.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, expected 1", st.ErrorCount)
	}
	select {
	case payload := <-downCh:
		if st := payload.(Status); st.Name != "alpha" {
			t.Fatalf("node_down for %s, expected alpha", st.Name)
		}
	default:
		t.Fatal("expected a node_down event for alpha")
	}

	// A repeat failure keeps it down without a duplicate event.
	r.ProbeAll(context.Background())
	select {
	case <-downCh:
		t.Fatal("node_down published again for an already-down node")
	default:
	}

	// Routed traffic avoids the down node.
	before := len(caller.callLog())
	if _, err := r.Route(context.Background(), "eth_call", nil); err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	if caller.callLog()[before] == "http://alpha" {
		t.Fatal("down node was selected for routed traffic")
	}
}

func TestRouteExhaustsPoolOnce(t *testing.T) {
	caller := newFakeCaller()
	for _, ep := range []string{"http://alpha", "http://beta", "http://gamma"} {
		caller.respond(ep, fail)
	}
	r := NewRouter(threeNodes(), caller, testConfig(), nil)

	_, err := r.Route(context.Background(), "eth_call", nil)
	if !errors.Is(err, ErrNoHealthyNode) {
		t.Fatalf("err=%v, expected ErrNoHealthyNode", err)
	}

	calls := caller.callLog()
	if len(calls) != 3 {
		t.Fatalf("made %d attempts, expected exactly 3 (one per node)", len(calls))
	}
	seen := map[string]bool{}
	for _, ep := range calls {
		if seen[ep] {
			t.Fatalf("endpoint %s tried twice within one call", ep)
		}
		seen[ep] = true
	}
}

func TestRouteDegradesWhenNoNodeHealthy(t *testing.T) {
	caller := newFakeCaller()
	caller.respond("http://alpha", ok)
	caller.respond("http://beta", ok)
	caller.respond("http://gamma", ok)

	cfg := testConfig()
	cfg.ErrorThreshold = 1
	r := NewRouter(threeNodes(), caller, cfg, nil)
	for _, n := range r.nodes {
		n.recordFailure(cfg.ErrorThreshold)
	}

	// Best-effort: an all-down pool still serves the call.
	if _, err := r.Route(context.Background(), "eth_call", nil); err != nil {
		t.Fatalf("degraded Route returned error: %v", err)
	}
}

func TestRouteStopsWhenCallerContextCancelled(t *testing.T) {
	caller := newFakeCaller()
	for _, ep := range []string{"http://alpha", "http://beta", "http://gamma"} {
		caller.respond(ep, fail)
	}
	r := NewRouter(threeNodes(), caller, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Route(ctx, "eth_call", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, expected context.Canceled", err)
	}
	if calls := caller.callLog(); len(calls) > 1 {
		t.Fatalf("made %d attempts after cancellation, expected at most 1", len(calls))
	}
}

func TestMetricsRecommendsBestNode(t *testing.T) {
	caller := newFakeCaller()
	r := NewRouter(threeNodes(), caller, testConfig(), nil)
	seedLatencies(r.nodes[0], 50)
	seedLatencies(r.nodes[1], 20)
	seedLatencies(r.nodes[2], 80)

	m := r.Metrics()
	if m.RecommendedNode != "beta" {
		t.Fatalf("RecommendedNode=%s, expected beta", m.RecommendedNode)
	}
	if len(m.NodeHealth) != 3 {
		t.Fatalf("NodeHealth has %d entries, expected 3", len(m.NodeHealth))
	}
	want := (50.0 + 20.0 + 80.0) / 3
	if m.AvgLatencyMs != want {
		t.Fatalf("AvgLatencyMs=%v, expected %v", m.AvgLatencyMs, want)
	}
}
