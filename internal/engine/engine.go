// Package engine holds resting orders in memory, reacts to the price feed,
// re-validates economic favorability at execution time, and drives orders
// through the external quote-and-execute boundary exactly once.
package engine

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"dexcore/internal/events"
	"dexcore/internal/market"
	"dexcore/pkg/quote"

	"github.com/google/uuid"
)

// QuoteService is the external quote/liquidity boundary.
type QuoteService interface {
	GetQuote(ctx context.Context, req quote.Request) (quote.Quote, error)
	Execute(ctx context.Context, req quote.Request) (string, error)
}

// GasOracle recommends a gas price at call time.
type GasOracle interface {
	GasPrice(ctx context.Context) (float64, error)
}

// LatencyRecorder receives execution-attempt durations (typically a
// monitor.LatencyHistogram).
type LatencyRecorder interface {
	RecordDuration(d time.Duration)
}

// Config tunes order validation and the expiry sweep.
type Config struct {
	ChainID         int
	QuoteAsset      string // settlement currency for the other swap leg
	MinOrderAmount  float64
	DefaultSlippage float64
	SweepInterval   time.Duration
}

// Engine is the order lifecycle engine. One instance owns the book for the
// life of the process.
type Engine struct {
	cfg    Config
	book   *Book
	feed   market.Feed
	quotes QuoteService
	gas    GasOracle
	bus    *events.Bus

	// Optional latency sinks for end-to-end execution and quote fetches.
	Latency      LatencyRecorder
	QuoteLatency LatencyRecorder

	mu    sync.Mutex
	ctx   context.Context
	loops map[string]func() // asset -> feed unsubscribe
}

// New builds an engine over its collaborators.
func New(cfg Config, feed market.Feed, quotes QuoteService, gas GasOracle, bus *events.Bus) *Engine {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDC"
	}
	return &Engine{
		cfg:    cfg,
		book:   NewBook(),
		feed:   feed,
		quotes: quotes,
		gas:    gas,
		bus:    bus,
		loops:  make(map[string]func()),
	}
}

// Start launches the expiry sweep and records the lifecycle context used by
// tick-driven attempts. Must be called before orders are placed.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.stopLoops()
				return
			case <-ticker.C:
				e.sweep(time.Now())
			}
		}
	}()
}

// PlaceOrder validates the request and creates the order. Market orders execute
// synchronously and never return pending; limit orders rest in the book.
func (e *Engine) PlaceOrder(ctx context.Context, spec Spec) (Order, error) {
	if err := e.validate(spec); err != nil {
		return Order{}, err
	}

	slippage := spec.MaxSlippage
	if slippage <= 0 {
		slippage = e.cfg.DefaultSlippage
	}
	o := Order{
		ID:          uuid.NewString(),
		UserID:      spec.UserID,
		Asset:       spec.Asset,
		Side:        spec.Side,
		Kind:        spec.Kind,
		Amount:      spec.Amount,
		LimitPrice:  spec.LimitPrice,
		MaxSlippage: slippage,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
		ExpiresAt:   spec.ExpiresAt,
	}

	if o.Kind == KindMarket {
		e.book.Insert(o, true)
		e.publishOrder(events.EventOrderPlaced, o)

		ref, err := e.feed.Price(ctx, o.Asset)
		if err != nil {
			ref = 0 // no reference: deviation check is skipped
		}
		e.runAttempt(ctx, o, ref)
		e.book.EndAttempt(o.ID)

		final, _ := e.book.Get(o.ID)
		return final, nil
	}

	e.book.Insert(o, false)
	e.publishOrder(events.EventOrderPlaced, o)
	e.watchAsset(o.Asset)

	// One immediate check against the current price; afterwards the feed
	// subscription drives the order.
	if price, err := e.feed.Price(ctx, o.Asset); err == nil && o.triggered(price) {
		if ord, ok := e.book.TryBeginAttempt(o.ID); ok {
			e.runAttempt(ctx, ord, price)
			e.book.EndAttempt(o.ID)
		}
	}

	cur, _ := e.book.Get(o.ID)
	return cur, nil
}

// CancelOrder requests pending -> cancelled. Returns false for unknown,
// terminal, or already-submitted orders.
func (e *Engine) CancelOrder(id string) bool {
	o, ok := e.book.Cancel(id)
	if !ok {
		return false
	}
	e.publishOrder(events.EventOrderCancelled, o)
	return true
}

// GetOrder returns a snapshot of the order.
func (e *Engine) GetOrder(id string) (Order, bool) {
	return e.book.Get(id)
}

// OrdersForUser returns snapshots of the user's orders, oldest first.
func (e *Engine) OrdersForUser(userID string) []Order {
	return e.book.ByUser(userID)
}

func (e *Engine) validate(spec Spec) error {
	if spec.Asset == "" {
		return ErrAssetRequired
	}
	if spec.Side != SideBuy && spec.Side != SideSell {
		return ErrInvalidSide
	}
	if spec.Kind != KindMarket && spec.Kind != KindLimit {
		return ErrInvalidKind
	}
	if spec.Amount < e.cfg.MinOrderAmount || spec.Amount <= 0 {
		return ErrOrderTooSmall
	}
	if spec.Kind == KindLimit && spec.LimitPrice <= 0 {
		return ErrLimitPriceRequired
	}
	return nil
}

// watchAsset lazily starts the per-asset tick loop. Ticks for one asset are
// dispatched in arrival order; attempts run concurrently across orders.
func (e *Engine) watchAsset(asset string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.loops[asset]; ok {
		return
	}
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	ch, unsub := e.feed.Subscribe(asset, 256)
	e.loops[asset] = unsub

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-ch:
				if !ok {
					return
				}
				e.onTick(ctx, tick.Asset, tick.Price)
			}
		}
	}()
}

func (e *Engine) stopLoops() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for asset, unsub := range e.loops {
		unsub()
		delete(e.loops, asset)
	}
}

// onTick scans resting limit orders for the asset. The trigger is necessary
// but not sufficient: each attempt re-validates against a fresh quote. An
// order with an attempt already in flight is skipped, never double-submitted.
func (e *Engine) onTick(ctx context.Context, asset string, price float64) {
	for _, o := range e.book.PendingLimit(asset) {
		if !o.triggered(price) {
			continue
		}
		ord, ok := e.book.TryBeginAttempt(o.ID)
		if !ok {
			continue
		}
		go func(ord Order, ref float64) {
			defer e.book.EndAttempt(ord.ID)
			e.runAttempt(ctx, ord, ref)
		}(ord, price)
	}
}

// sweep expires pending orders past their deadline, independent of feed
// traffic.
func (e *Engine) sweep(now time.Time) {
	for _, o := range e.book.ExpireDue(now) {
		log.Printf("engine: order %s expired", o.ID)
		e.publishOrder(events.EventOrderExpired, o)
	}
}

// runAttempt drives one execution attempt. refPrice is the price that decided
// to attempt (the triggering tick for limit orders); the attempt itself always
// works from a freshly fetched quote.
func (e *Engine) runAttempt(ctx context.Context, o Order, refPrice float64) {
	start := time.Now()

	sell, buy := e.cfg.QuoteAsset, o.Asset
	if o.Side == SideSell {
		sell, buy = o.Asset, e.cfg.QuoteAsset
	}
	req := quote.Request{
		ChainID:     e.cfg.ChainID,
		UserID:      o.UserID,
		SellAsset:   sell,
		BuyAsset:    buy,
		Amount:      o.Amount,
		MaxSlippage: o.MaxSlippage,
	}

	quoteStart := time.Now()
	q, err := e.quotes.GetQuote(ctx, req)
	if e.QuoteLatency != nil {
		e.QuoteLatency.RecordDuration(time.Since(quoteStart))
	}
	if err != nil {
		e.attemptError(o, "quote", err)
		return
	}

	// Favorability re-check on the quote's effective price, not the tick.
	if o.Kind == KindLimit && !o.triggered(q.Price) {
		e.abandon(o) // expected and frequent; no event
		return
	}

	// Staleness: how far the executable price drifted from the reference.
	if refPrice > 0 {
		deviation := math.Abs(q.Price-refPrice) / refPrice
		if deviation > o.MaxSlippage {
			log.Printf("engine: order %s skipped, deviation %.4f > %.4f", o.ID, deviation, o.MaxSlippage)
			e.abandon(o)
			return
		}
	}

	gasPrice, err := e.gas.GasPrice(ctx)
	if err != nil {
		e.attemptError(o, "gas", err)
		return
	}

	if !e.book.BeginSubmit(o.ID) {
		// Cancelled or expired while the attempt was running.
		return
	}
	txHash, err := e.quotes.Execute(ctx, req)
	if err != nil {
		e.book.FailSubmit(o.ID)
		e.attemptError(o, "execute", err)
		return
	}

	filled, ok := e.book.Fill(o.ID, q.Price, gasPrice, txHash)
	if !ok {
		return
	}
	if e.Latency != nil {
		e.Latency.RecordDuration(time.Since(start))
	}
	log.Printf("engine: order %s filled at %.6f (tx %s)", filled.ID, filled.FillPrice, txHash)
	e.publishOrder(events.EventOrderFilled, filled)
}

// attemptError reports an attempt-scoped failure. Limit orders stay pending
// for retry on the next qualifying tick; market orders are cancelled.
func (e *Engine) attemptError(o Order, stage string, err error) {
	log.Printf("engine: order %s %s failed: %v", o.ID, stage, err)
	if e.bus != nil {
		e.bus.Publish(events.EventOrderError, OrderError{OrderID: o.ID, Stage: stage, Reason: err.Error()})
	}
	if o.Kind == KindMarket {
		if cancelled, ok := e.book.Abort(o.ID); ok {
			e.publishOrder(events.EventOrderCancelled, cancelled)
		}
	}
}

// abandon silently drops an attempt. Limit orders rest on; market orders are
// cancelled without an error event.
func (e *Engine) abandon(o Order) {
	if o.Kind == KindMarket {
		if cancelled, ok := e.book.Abort(o.ID); ok {
			e.publishOrder(events.EventOrderCancelled, cancelled)
		}
	}
}

func (e *Engine) publishOrder(topic events.Event, o Order) {
	if e.bus != nil {
		e.bus.Publish(topic, o)
	}
}

