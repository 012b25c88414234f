package rpc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLatencyWindowIsBounded(t *testing.T) {
	n := newNode(NodeConfig{Name: "a", Endpoint: "http://a"}, 3, 0, 0)

	for i := 0; i < 10; i++ {
		n.recordSuccess(float64(i))
	}
	if len(n.latencies) != 3 {
		t.Fatalf("window holds %d samples, capacity 3", len(n.latencies))
	}
	// Oldest evicted: remaining samples are 7, 8, 9.
	if n.latencies[0] != 7 {
		t.Fatalf("oldest sample=%v, expected 7", n.latencies[0])
	}
}

func TestScoreComposition(t *testing.T) {
	tests := []struct {
		name      string
		latencies []float64
		errors    int
		priority  int
		want      float64
	}{
		{name: "empty window scores zero", want: 0},
		{name: "priority only", priority: 3, want: 30},
		{name: "latency average", latencies: []float64{10, 20, 30}, want: 20},
		{name: "errors weighted", latencies: []float64{40}, errors: 2, priority: 1, want: 40 + 200 + 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newNode(NodeConfig{Name: "n", Endpoint: "http://n", Priority: tt.priority}, 10, 0, 0)
			for _, l := range tt.latencies {
				n.recordSuccess(l)
			}
			n.errorCount = tt.errors

			if got := n.score(100, 10); got != tt.want {
				t.Fatalf("score=%v, expected %v", got, tt.want)
			}
		})
	}
}

func TestErrorCountFloorsAtZero(t *testing.T) {
	n := newNode(NodeConfig{Name: "a", Endpoint: "http://a"}, 5, 0, 0)

	n.recordFailure(10)
	n.recordSuccess(1)
	n.recordSuccess(1) // would go negative without the floor
	if n.status().ErrorCount != 0 {
		t.Fatalf("errorCount=%d, expected 0", n.status().ErrorCount)
	}
}

func TestRecordFailureReportsThresholdCrossingOnce(t *testing.T) {
	n := newNode(NodeConfig{Name: "a", Endpoint: "http://a"}, 5, 0, 0)

	downs := 0
	for i := 0; i < 4; i++ {
		if n.recordFailure(3) {
			downs++
		}
	}
	if downs != 1 {
		t.Fatalf("threshold crossing reported %d times, expected once", downs)
	}
	if n.isHealthy() {
		t.Fatal("node should be unhealthy")
	}

	if wasDown := n.restore(); !wasDown {
		t.Fatal("restore should report the node was down")
	}
	if !n.isHealthy() || n.status().ErrorCount != 0 {
		t.Fatal("restore should reset health and error count")
	}
}

func TestLoadNodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.yaml")
	data := `nodes:
  - name: infura
    endpoint: https://mainnet.infura.io/v3/key
    priority: 1
  - name: alchemy
    endpoint: https://eth-mainnet.alchemyapi.io/v2/key
    priority: 2
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write nodes file: %v", err)
	}

	nodes, err := LoadNodes(path)
	if err != nil {
		t.Fatalf("LoadNodes returned error: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("loaded %d nodes, expected 2", len(nodes))
	}
	if nodes[0].Name != "infura" || nodes[0].Priority != 1 {
		t.Fatalf("unexpected first node %+v", nodes[0])
	}
}

func TestLoadNodesRejectsIncompleteEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.yaml")
	if err := os.WriteFile(path, []byte("nodes:\n  - name: broken\n"), 0o644); err != nil {
		t.Fatalf("write nodes file: %v", err)
	}

	if _, err := LoadNodes(path); err == nil {
		t.Fatal("expected error for entry without endpoint")
	}
}
