package market

import (
	"context"
	"math/rand"
	"time"

	"dexcore/internal/events"
)

// MockFeed generates synthetic ticks for local development.
type MockFeed struct {
	Bus        *events.Bus
	Assets     []string
	StartPrice float64
	Step       float64
	Interval   time.Duration
	*fanout
}

// NewMockFeed builds a random-walk feed for the given assets.
func NewMockFeed(assets []string, bus *events.Bus) *MockFeed {
	return &MockFeed{
		Bus:    bus,
		Assets: assets,
		fanout: newFanout(),
	}
}

// Subscribe registers a per-asset tick channel and an unsubscribe function.
func (m *MockFeed) Subscribe(asset string, buffer int) (<-chan Tick, func()) {
	return m.subscribe(asset, buffer)
}

// Price returns the most recent synthetic price for the asset.
func (m *MockFeed) Price(_ context.Context, asset string) (float64, error) {
	if p, ok := m.price(asset); ok {
		return p, nil
	}
	return 0, ErrNoPrice
}

// Start begins generating ticks until ctx is cancelled.
func (m *MockFeed) Start(ctx context.Context) {
	if len(m.Assets) == 0 {
		m.Assets = []string{"ETH"}
	}
	start := m.StartPrice
	if start == 0 {
		start = 100.0
	}
	step := m.Step
	if step == 0 {
		step = 0.5
	}
	interval := m.Interval
	if interval == 0 {
		interval = time.Second
	}

	prices := make(map[string]float64, len(m.Assets))
	for _, a := range m.Assets {
		prices[a] = start
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, asset := range m.Assets {
					// simple random walk
					prices[asset] += (rand.Float64()*2 - 1) * step
					tick := Tick{Asset: asset, Price: prices[asset], Time: time.Now()}
					m.dispatch(tick)
					if m.Bus != nil {
						m.Bus.Publish(events.EventPriceTick, tick)
					}
				}
			}
		}
	}()
}
