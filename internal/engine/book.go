package engine

import (
	"sort"
	"sync"
	"time"
)

// entry couples an order with its attempt flags. inFlight serializes execution
// attempts per order; submitted marks the point of no return for cancellation.
type entry struct {
	order     Order
	inFlight  bool
	submitted bool
}

// Book is the in-memory order store. It owns every order for the life of the
// process and is the single synchronization point for status transitions.
type Book struct {
	mu      sync.RWMutex
	orders  map[string]*entry
	byUser  map[string][]string
	byAsset map[string]map[string]bool // asset -> pending limit order ids
}

// NewBook creates an empty order book.
func NewBook() *Book {
	return &Book{
		orders:  make(map[string]*entry),
		byUser:  make(map[string][]string),
		byAsset: make(map[string]map[string]bool),
	}
}

// Insert stores a new pending order. Market orders are inserted already
// in-flight so a concurrent tick can never race their synchronous attempt.
func (b *Book) Insert(o Order, inFlight bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders[o.ID] = &entry{order: o, inFlight: inFlight}
	b.byUser[o.UserID] = append(b.byUser[o.UserID], o.ID)
	if o.Kind == KindLimit {
		if b.byAsset[o.Asset] == nil {
			b.byAsset[o.Asset] = make(map[string]bool)
		}
		b.byAsset[o.Asset][o.ID] = true
	}
}

// Get returns a copy of the order.
func (b *Book) Get(id string) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return e.order, true
}

// ByUser returns copies of the user's orders, oldest first.
func (b *Book) ByUser(userID string) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := b.byUser[userID]
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		if e, ok := b.orders[id]; ok {
			out = append(out, e.order)
		}
	}
	return out
}

// PendingLimit returns copies of pending limit orders for the asset, oldest
// first, skipping orders with an attempt already in flight.
func (b *Book) PendingLimit(asset string) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Order, 0, len(b.byAsset[asset]))
	for id := range b.byAsset[asset] {
		e, ok := b.orders[id]
		if !ok || e.order.Status != StatusPending || e.inFlight {
			continue
		}
		out = append(out, e.order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// TryBeginAttempt acquires the per-order attempt slot. At most one attempt per
// order is ever in flight.
func (b *Book) TryBeginAttempt(id string) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.orders[id]
	if !ok || e.order.Status != StatusPending || e.inFlight {
		return Order{}, false
	}
	e.inFlight = true
	return e.order, true
}

// EndAttempt releases the attempt slot.
func (b *Book) EndAttempt(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.orders[id]; ok {
		e.inFlight = false
	}
}

// BeginSubmit marks the trade as submitted. After this point cancellation and
// expiry are rejected; the terminal state follows the execution outcome.
// Fails when the order was cancelled or expired while the attempt was running.
func (b *Book) BeginSubmit(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.orders[id]
	if !ok || e.order.Status != StatusPending || e.submitted {
		return false
	}
	e.submitted = true
	return true
}

// FailSubmit clears the submitted mark after a failed execution, leaving the
// order pending and eligible for retry on the next qualifying tick.
func (b *Book) FailSubmit(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.orders[id]; ok {
		e.submitted = false
	}
}

// Fill transitions pending -> filled and records the fill fields.
func (b *Book) Fill(id string, fillPrice, gasPrice float64, txHash string) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.orders[id]
	if !ok || e.order.Status != StatusPending {
		return Order{}, false
	}
	e.order.Status = StatusFilled
	e.order.FillPrice = fillPrice
	e.order.GasPrice = gasPrice
	e.order.TxHash = txHash
	b.dropIndexLocked(e)
	return e.order, true
}

// Cancel transitions pending -> cancelled on behalf of the user. It loses to
// an in-flight attempt only once the trade has been submitted.
func (b *Book) Cancel(id string) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.orders[id]
	if !ok || e.order.Status != StatusPending || e.submitted {
		return Order{}, false
	}
	e.order.Status = StatusCancelled
	b.dropIndexLocked(e)
	return e.order, true
}

// Abort cancels a pending order from inside the execution path (failed or
// abandoned market orders), ignoring the submitted mark.
func (b *Book) Abort(id string) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.orders[id]
	if !ok || e.order.Status != StatusPending {
		return Order{}, false
	}
	e.order.Status = StatusCancelled
	b.dropIndexLocked(e)
	return e.order, true
}

// ExpireDue transitions every pending order past its deadline to expired and
// returns the expired copies. Orders that already submitted a trade are left
// to their execution outcome.
func (b *Book) ExpireDue(now time.Time) []Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Order
	for _, e := range b.orders {
		if e.order.Status != StatusPending || e.submitted {
			continue
		}
		if e.order.ExpiresAt.IsZero() || e.order.ExpiresAt.After(now) {
			continue
		}
		e.order.Status = StatusExpired
		b.dropIndexLocked(e)
		out = append(out, e.order)
	}
	return out
}

func (b *Book) dropIndexLocked(e *entry) {
	if assets, ok := b.byAsset[e.order.Asset]; ok {
		delete(assets, e.order.ID)
	}
}
