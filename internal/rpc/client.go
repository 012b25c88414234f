package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Caller performs a single JSON-RPC exchange against one endpoint.
// The router fans calls out over it; tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, endpoint, method string, params any) (json.RawMessage, error)
}

// RPCError is an application-level error payload returned by a node. The
// router counts it as a node failure just like a transport error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPCaller speaks JSON-RPC 2.0 over HTTP POST.
type HTTPCaller struct {
	Client *http.Client
	seq    atomic.Int64
}

// NewHTTPCaller builds a caller with the given per-call timeout.
func NewHTTPCaller(timeout time.Duration) *HTTPCaller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCaller{Client: &http.Client{Timeout: timeout}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *HTTPCaller) Call(ctx context.Context, endpoint, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc status %d", res.StatusCode)
	}

	var parsed rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if parsed.Error != nil {
		return nil, parsed.Error
	}
	return parsed.Result, nil
}
