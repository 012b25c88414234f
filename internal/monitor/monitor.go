package monitor

import (
	"context"
	"sync/atomic"

	"dexcore/internal/events"
)

// Collector tallies bus traffic into the metrics counters. It runs on the
// firehose so new event topics are counted without wiring changes.
type Collector struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
}

func (c *Collector) Start(ctx context.Context) {
	stream, unsub := c.Bus.SubscribeAll(256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				c.Metrics.count(msg.Topic)
			}
		}
	}()
}

func (m *SystemMetrics) count(topic events.Event) {
	switch topic {
	case events.EventOrderPlaced:
		atomic.AddUint64(&m.ordersPlaced, 1)
	case events.EventOrderFilled:
		atomic.AddUint64(&m.ordersFilled, 1)
	case events.EventOrderCancelled:
		atomic.AddUint64(&m.ordersCancelled, 1)
	case events.EventOrderExpired:
		atomic.AddUint64(&m.ordersExpired, 1)
	case events.EventPriceTick:
		atomic.AddUint64(&m.ticksProcessed, 1)
	case events.EventOrderError:
		atomic.AddUint64(&m.errorsCount, 1)
	case events.EventNodeDown:
		atomic.AddUint64(&m.nodeFailovers, 1)
	}
}
