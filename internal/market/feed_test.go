package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFanoutDispatchAndPrice(t *testing.T) {
	f := newFanout()
	ch, unsub := f.subscribe("ETH", 4)
	defer unsub()

	f.dispatch(Tick{Asset: "ETH", Price: 1900, Time: time.Now()})
	f.dispatch(Tick{Asset: "WBTC", Price: 60000, Time: time.Now()})

	select {
	case tick := <-ch:
		if tick.Price != 1900 {
			t.Fatalf("tick price=%v, expected 1900", tick.Price)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
	}

	// Subscription is per asset: the WBTC tick must not arrive here.
	select {
	case tick := <-ch:
		t.Fatalf("unexpected tick for %s on ETH subscription", tick.Asset)
	default:
	}

	if p, ok := f.price("WBTC"); !ok || p != 60000 {
		t.Fatalf("price(WBTC)=%v,%v, expected 60000,true", p, ok)
	}
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	f := newFanout()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			f.dispatch(Tick{Asset: "ETH", Price: float64(i), Time: time.Now()})
		}
	}()

	// Churn subscriptions while ticks are in flight. Closing a channel the
	// dispatcher is about to send on would panic the dispatch goroutine and
	// leave done unclosed.
	for i := 0; i < 500; i++ {
		_, unsub := f.subscribe("ETH", 1)
		unsub()
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch goroutine did not finish; likely panicked on a closed channel")
	}
}

func TestPriceBeforeAnyTick(t *testing.T) {
	feed := NewMockFeed([]string{"ETH"}, nil)
	if _, err := feed.Price(context.Background(), "ETH"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("err=%v, expected ErrNoPrice", err)
	}
}

func TestParseTickMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		want    Tick
		wantErr bool
	}{
		{
			name: "valid",
			msg:  `{"asset":"ETH","price":1950.5,"ts":1700000000000}`,
			want: Tick{Asset: "ETH", Price: 1950.5},
		},
		{name: "missing asset", msg: `{"price":1}`, wantErr: true},
		{name: "garbage", msg: `not-json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTickMessage([]byte(tt.msg))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if got.Asset != tt.want.Asset || got.Price != tt.want.Price {
				t.Fatalf("got %+v, expected %+v", got, tt.want)
			}
		})
	}
}

func TestMockFeedGeneratesTicks(t *testing.T) {
	feed := NewMockFeed([]string{"ETH"}, nil)
	feed.Interval = 5 * time.Millisecond

	ch, unsub := feed.Subscribe("ETH", 16)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx)

	select {
	case tick := <-ch:
		if tick.Asset != "ETH" || tick.Price <= 0 {
			t.Fatalf("unexpected tick %+v", tick)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mock feed produced no ticks")
	}

	if _, err := feed.Price(ctx, "ETH"); err != nil {
		t.Fatalf("Price after ticks returned error: %v", err)
	}
}
