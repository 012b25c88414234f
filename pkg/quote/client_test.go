package quote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("sellToken") != "ETH" || q.Get("buyToken") != "USDC" {
			t.Fatalf("unexpected pair %s/%s", q.Get("sellToken"), q.Get("buyToken"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"1950.25","buyAmount":"1950.25","sellAmount":"1","gas":"150000"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	q, err := c.GetQuote(context.Background(), Request{ChainID: 1, SellAsset: "ETH", BuyAsset: "USDC", Amount: 1, MaxSlippage: 0.01})
	if err != nil {
		t.Fatalf("GetQuote returned error: %v", err)
	}
	if q.Price != 1950.25 {
		t.Fatalf("Price=%v, expected 1950.25", q.Price)
	}
}

func TestGetQuoteErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"reason":"insufficient liquidity"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetQuote(context.Background(), Request{ChainID: 1, SellAsset: "ETH", BuyAsset: "USDC", Amount: 1})
	if err == nil {
		t.Fatal("expected error from 400 response")
	}
}

func TestExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/execute" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["userId"] != "user-1" {
			t.Fatalf("userId=%v, expected user-1", body["userId"])
		}
		_, _ = w.Write([]byte(`{"txHash":"0xabc123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	tx, err := c.Execute(context.Background(), Request{ChainID: 1, UserID: "user-1", SellAsset: "ETH", BuyAsset: "USDC", Amount: 1})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if tx != "0xabc123" {
		t.Fatalf("txHash=%s, expected 0xabc123", tx)
	}
}

type fakeRouter struct {
	result json.RawMessage
	err    error
}

func (f *fakeRouter) Route(context.Context, string, any) (json.RawMessage, error) {
	return f.result, f.err
}

func TestGasPriceFromRouter(t *testing.T) {
	// 0x6fc23ac00 = 30 gwei
	oracle := &GasOracle{Router: &fakeRouter{result: json.RawMessage(`"0x6fc23ac00"`)}, FallbackGwei: 99}
	gwei, err := oracle.GasPrice(context.Background())
	if err != nil {
		t.Fatalf("GasPrice returned error: %v", err)
	}
	if gwei != 30 {
		t.Fatalf("gwei=%v, expected 30", gwei)
	}
}

func TestGasPriceFallsBack(t *testing.T) {
	oracle := &GasOracle{Router: &fakeRouter{err: errors.New("pool exhausted")}, FallbackGwei: 25}
	gwei, err := oracle.GasPrice(context.Background())
	if err != nil {
		t.Fatalf("GasPrice returned error: %v", err)
	}
	if gwei != 25 {
		t.Fatalf("gwei=%v, expected fallback 25", gwei)
	}
}

func TestParseHexWei(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		wantErr bool
	}{
		{name: "thirty gwei", raw: `"0x6fc23ac00"`, want: 30},
		{name: "one wei", raw: `"0x1"`, want: 1e-9},
		{name: "empty", raw: `"0x"`, wantErr: true},
		{name: "not hex", raw: `"0xzz"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseHexWei(json.RawMessage(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, expected %v", got, tt.want)
			}
		})
	}
}
