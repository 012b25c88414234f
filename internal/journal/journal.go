// Package journal persists lifecycle and node health events from the bus
// into the SQLite audit trail.
package journal

import (
	"context"
	"fmt"
	"log"

	"dexcore/internal/engine"
	"dexcore/internal/events"
	"dexcore/internal/rpc"
	"dexcore/pkg/db"
)

// Recorder drains the event firehose into the database. Writes happen on a
// single goroutine so SQLite's single-writer constraint is never contended.
type Recorder struct {
	queries *db.Queries
	bus     *events.Bus
}

func NewRecorder(queries *db.Queries, bus *events.Bus) *Recorder {
	return &Recorder{queries: queries, bus: bus}
}

// Start consumes bus events until ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	ch, unsub := r.bus.SubscribeAll(1024)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := r.record(ctx, msg); err != nil && ctx.Err() == nil {
					log.Printf("journal: record %s: %v", msg.Topic, err)
				}
			}
		}
	}()
}

func (r *Recorder) record(ctx context.Context, msg events.Message) error {
	switch msg.Topic {
	case events.EventOrderPlaced, events.EventOrderFilled,
		events.EventOrderCancelled, events.EventOrderExpired:
		o, ok := msg.Payload.(engine.Order)
		if !ok {
			return nil
		}
		price := o.LimitPrice
		if o.Status == engine.StatusFilled {
			price = o.FillPrice
		}
		return r.queries.InsertOrderEvent(ctx, db.OrderEvent{
			OrderID: o.ID,
			UserID:  o.UserID,
			Event:   string(msg.Topic),
			Asset:   o.Asset,
			Side:    string(o.Side),
			Kind:    string(o.Kind),
			Amount:  o.Amount,
			Price:   price,
			Detail:  o.TxHash,
		})

	case events.EventOrderError:
		oe, ok := msg.Payload.(engine.OrderError)
		if !ok {
			return nil
		}
		return r.queries.InsertOrderEvent(ctx, db.OrderEvent{
			OrderID: oe.OrderID,
			Event:   string(msg.Topic),
			Detail:  fmt.Sprintf("%s: %s", oe.Stage, oe.Reason),
		})

	case events.EventNodeDown, events.EventNodeRecovered:
		st, ok := msg.Payload.(rpc.Status)
		if !ok {
			return nil
		}
		return r.queries.InsertNodeEvent(ctx, db.NodeEvent{
			Node:   st.Name,
			Event:  string(msg.Topic),
			Detail: fmt.Sprintf("errors=%d avg_latency_ms=%.1f", st.ErrorCount, st.AvgLatencyMs),
		})
	}

	// Price ticks and anything else stay out of the journal.
	return nil
}
