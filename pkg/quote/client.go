// Package quote wraps the external swap-quote aggregator.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Quote is a priced swap offer from the aggregator.
type Quote struct {
	Price      float64 `json:"price,string"`
	BuyAmount  float64 `json:"buyAmount,string"`
	SellAmount float64 `json:"sellAmount,string"`
	Gas        float64 `json:"gas,string"`
}

// Request identifies the swap being priced or executed.
type Request struct {
	ChainID     int
	UserID      string // execute only
	SellAsset   string
	BuyAsset    string
	Amount      float64
	MaxSlippage float64
}

// Client wraps REST access to the quote/liquidity service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a REST client for the aggregator at base.
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(base, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// GetQuote fetches a fresh price for the swap.
func (c *Client) GetQuote(ctx context.Context, req Request) (Quote, error) {
	params := url.Values{}
	params.Set("chainId", strconv.Itoa(req.ChainID))
	params.Set("sellToken", req.SellAsset)
	params.Set("buyToken", req.BuyAsset)
	params.Set("sellAmount", strconv.FormatFloat(req.Amount, 'f', -1, 64))
	params.Set("slippagePercentage", strconv.FormatFloat(req.MaxSlippage, 'f', -1, 64))

	u := fmt.Sprintf("%s/quote?%s", c.BaseURL, params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, err
	}

	res, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return Quote{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Quote{}, decodeAPIError(res)
	}

	var q Quote
	if err := json.NewDecoder(res.Body).Decode(&q); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	if q.Price <= 0 {
		return Quote{}, fmt.Errorf("quote has no price")
	}
	return q, nil
}

// Execute submits the swap and returns the transaction hash.
func (c *Client) Execute(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(map[string]any{
		"chainId":            req.ChainID,
		"userId":             req.UserID,
		"sellToken":          req.SellAsset,
		"buyToken":           req.BuyAsset,
		"sellAmount":         strconv.FormatFloat(req.Amount, 'f', -1, 64),
		"slippagePercentage": req.MaxSlippage,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/execute", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", decodeAPIError(res)
	}

	var parsed struct {
		TxHash string `json:"txHash"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode execute response: %w", err)
	}
	if parsed.TxHash == "" {
		return "", fmt.Errorf("execute response missing txHash")
	}
	return parsed.TxHash, nil
}

func decodeAPIError(res *http.Response) error {
	var apiErr struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(res.Body).Decode(&apiErr); err == nil && apiErr.Reason != "" {
		return fmt.Errorf("aggregator status %d: %s", res.StatusCode, apiErr.Reason)
	}
	return fmt.Errorf("aggregator status %d", res.StatusCode)
}
