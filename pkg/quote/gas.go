package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Routable is the slice of the RPC router the oracle needs.
type Routable interface {
	Route(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// GasOracle recommends a gas price in gwei, asking the node pool first and
// falling back to a configured static value when routing fails.
type GasOracle struct {
	Router       Routable
	FallbackGwei float64
}

// GasPrice returns the current recommended gas price in gwei.
func (g *GasOracle) GasPrice(ctx context.Context) (float64, error) {
	if g.Router != nil {
		raw, err := g.Router.Route(ctx, "eth_gasPrice", nil)
		if err == nil {
			gwei, perr := parseHexWei(raw)
			if perr == nil {
				return gwei, nil
			}
			log.Printf("gas oracle: bad eth_gasPrice payload: %v", perr)
		} else {
			log.Printf("gas oracle: route failed: %v", err)
		}
	}
	if g.FallbackGwei > 0 {
		return g.FallbackGwei, nil
	}
	return 0, fmt.Errorf("gas price unavailable")
}

// parseHexWei decodes a JSON-quoted 0x-hex wei value into gwei.
func parseHexWei(raw json.RawMessage) (float64, error) {
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return 0, err
	}
	hex = strings.TrimPrefix(hex, "0x")
	if hex == "" {
		return 0, fmt.Errorf("empty gas price")
	}
	wei, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, err
	}
	return float64(wei) / 1e9, nil
}
