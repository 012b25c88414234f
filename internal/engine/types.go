package engine

import (
	"errors"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Kind distinguishes market from limit orders.
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindLimit  Kind = "LIMIT"
)

// Status is the order lifecycle state. All non-pending states are terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Validation errors returned synchronously by PlaceOrder.
var (
	ErrOrderTooSmall      = errors.New("order amount below configured minimum")
	ErrLimitPriceRequired = errors.New("limit orders require a limit price")
	ErrInvalidSide        = errors.New("side must be BUY or SELL")
	ErrInvalidKind        = errors.New("kind must be MARKET or LIMIT")
	ErrAssetRequired      = errors.New("asset is required")
)

// Spec is the caller-facing order intent.
type Spec struct {
	UserID      string    `json:"user_id"`
	Asset       string    `json:"asset"`
	Side        Side      `json:"side"`
	Kind        Kind      `json:"kind"`
	Amount      float64   `json:"amount"`
	LimitPrice  float64   `json:"limit_price"`
	MaxSlippage float64   `json:"max_slippage"` // fraction; 0 takes the configured default
	ExpiresAt   time.Time `json:"expires_at"`   // zero = never expires
}

// Order is the engine-owned order record. Fill fields are populated only on
// the transition to FILLED.
type Order struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Asset       string    `json:"asset"`
	Side        Side      `json:"side"`
	Kind        Kind      `json:"kind"`
	Amount      float64   `json:"amount"`
	LimitPrice  float64   `json:"limit_price,omitempty"`
	MaxSlippage float64   `json:"max_slippage"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	FillPrice   float64   `json:"fill_price,omitempty"`
	GasPrice    float64   `json:"gas_price,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
}

// Terminal reports whether the order reached an absorbing state.
func (o *Order) Terminal() bool {
	return o.Status != StatusPending
}

// triggered reports whether a feed price satisfies the limit condition:
// buy when price drops to or below the limit, sell when it rises to or above.
func (o *Order) triggered(price float64) bool {
	if o.Kind != KindLimit {
		return false
	}
	if o.Side == SideBuy {
		return price <= o.LimitPrice
	}
	return price >= o.LimitPrice
}

// OrderError is the payload of an order_error event. Attempt-scoped and
// non-fatal: the order keeps its current status unless noted.
type OrderError struct {
	OrderID string `json:"order_id"`
	Stage   string `json:"stage"` // quote, gas, execute
	Reason  string `json:"reason"`
}
