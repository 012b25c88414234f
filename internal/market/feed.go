package market

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"dexcore/internal/events"

	"github.com/gorilla/websocket"
)

// ErrNoPrice is returned when no tick for the asset has been observed yet.
var ErrNoPrice = errors.New("no price observed for asset")

// Tick is one price observation pushed by the feed.
type Tick struct {
	Asset string    `json:"asset"`
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// Feed streams asset prices. Subscribe delivers ticks for one asset in arrival
// order; Price pulls the most recent observation.
type Feed interface {
	Subscribe(asset string, buffer int) (<-chan Tick, func())
	Price(ctx context.Context, asset string) (float64, error)
}

// fanout holds per-asset subscriber channels and the last-price cache shared
// by the stream and mock feeds.
type fanout struct {
	mu   sync.RWMutex
	subs map[string][]chan Tick
	last map[string]float64
}

func newFanout() *fanout {
	return &fanout{
		subs: make(map[string][]chan Tick),
		last: make(map[string]float64),
	}
}

func (f *fanout) subscribe(asset string, buffer int) (<-chan Tick, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Tick, buffer)
	f.subs[asset] = append(f.subs[asset], ch)

	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs := f.subs[asset]
		for i, c := range subs {
			if c == ch {
				close(c)
				f.subs[asset] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

func (f *fanout) dispatch(t Tick) {
	// Sends happen under the lock so unsubscribe cannot close a channel
	// mid-dispatch. Sends never block, so the lock is held briefly.
	f.mu.Lock()
	defer f.mu.Unlock()

	f.last[t.Asset] = t.Price
	for _, ch := range f.subs[t.Asset] {
		select {
		case ch <- t:
		default:
			// drop for slow subscribers; the next tick carries fresher data anyway
		}
	}
}

func (f *fanout) price(asset string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.last[asset]
	return p, ok
}

// StreamFeed consumes a push websocket stream of price ticks.
type StreamFeed struct {
	URL    string
	Bus    *events.Bus
	dialer *websocket.Dialer
	*fanout
}

// NewStreamFeed builds a feed client for the given websocket URL.
func NewStreamFeed(url string, bus *events.Bus) *StreamFeed {
	return &StreamFeed{
		URL:    url,
		Bus:    bus,
		dialer: websocket.DefaultDialer,
		fanout: newFanout(),
	}
}

// Subscribe registers a per-asset tick channel and an unsubscribe function.
func (s *StreamFeed) Subscribe(asset string, buffer int) (<-chan Tick, func()) {
	return s.subscribe(asset, buffer)
}

// Price returns the most recent streamed price for the asset.
func (s *StreamFeed) Price(_ context.Context, asset string) (float64, error) {
	if p, ok := s.price(asset); ok {
		return p, nil
	}
	return 0, ErrNoPrice
}

// Start runs the read loop, reconnecting with backoff until ctx is cancelled.
func (s *StreamFeed) Start(ctx context.Context) {
	go func() {
		backoff := time.Second
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.readLoop(ctx); err != nil {
				log.Printf("feed: stream error: %v (reconnecting in %v)", err, backoff)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}

func (s *StreamFeed) readLoop(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}

		tick, err := parseTickMessage(msg)
		if err != nil {
			log.Printf("feed: parse error: %v", err)
			continue
		}
		s.dispatch(tick)
		if s.Bus != nil {
			s.Bus.Publish(events.EventPriceTick, tick)
		}
	}
}

func parseTickMessage(msg []byte) (Tick, error) {
	var raw struct {
		Asset string  `json:"asset"`
		Price float64 `json:"price"`
		Ts    int64   `json:"ts"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Tick{}, err
	}
	if raw.Asset == "" {
		return Tick{}, errors.New("tick missing asset")
	}
	t := Tick{Asset: raw.Asset, Price: raw.Price, Time: time.Now()}
	if raw.Ts > 0 {
		t.Time = time.UnixMilli(raw.Ts)
	}
	return t, nil
}
