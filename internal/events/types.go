package events

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventPriceTick Event = "price_tick"

	// Order lifecycle
	EventOrderPlaced    Event = "order_placed"
	EventOrderFilled    Event = "order_filled"
	EventOrderCancelled Event = "order_cancelled"
	EventOrderExpired   Event = "order_expired"
	EventOrderError     Event = "order_error"

	// RPC node health
	EventNodeDown      Event = "node_down"
	EventNodeRecovered Event = "node_recovered"
)

// Message pairs a topic with its payload for firehose subscribers.
type Message struct {
	Topic   Event
	Payload any
}
