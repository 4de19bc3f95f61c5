package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const gasPriceMethod = "eth_gasPrice"

// GasOptions parameterise the JSON-RPC gas fetcher.
type GasOptions struct {
	Timeout time.Duration
}

// GasRPC fetches eth_gasPrice through go-ethereum's rpc client, one client per endpoint.
type GasRPC struct {
	opts      GasOptions
	logger    zerolog.Logger
	clients   map[string]*rpc.Client
	clientMux sync.Mutex
}

// NewGasRPC builds a gas price fetcher.
func NewGasRPC(opts GasOptions, logger zerolog.Logger) *GasRPC {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &GasRPC{
		opts:    opts,
		logger:  logger.With().Str("component", "gas_fetcher").Logger(),
		clients: make(map[string]*rpc.Client),
	}
}

// FetchGasPrice returns the endpoint's gas price in gwei rounded to 3 decimals.
func (g *GasRPC) FetchGasPrice(ctx context.Context, rpcURL string) (decimal.Decimal, error) {
	if rpcURL == "" {
		return decimal.Decimal{}, errors.New("rpc url not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	client, err := g.getClient(ctx, rpcURL)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var result hexutil.Big
	if err := client.CallContext(ctx, &result, gasPriceMethod); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", gasPriceMethod, err)
	}

	wei := (*big.Int)(&result)
	if wei.Sign() < 0 {
		return decimal.Decimal{}, fmt.Errorf("%s returned negative price %s", gasPriceMethod, wei)
	}

	gwei := decimal.NewFromBigInt(wei, -9).Round(3)
	g.logger.Debug().Str("rpc", redactURL(rpcURL)).Str("wei", wei.String()).Str("gwei", gwei.String()).Msg("fetched gas price")
	return gwei, nil
}

// Close releases every cached rpc client.
func (g *GasRPC) Close() {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()
	for url, client := range g.clients {
		client.Close()
		delete(g.clients, url)
	}
}

func (g *GasRPC) getClient(ctx context.Context, rpcURL string) (*rpc.Client, error) {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()

	if client, ok := g.clients[rpcURL]; ok {
		return client, nil
	}

	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", redactURL(rpcURL), err)
	}
	g.clients[rpcURL] = client
	return client, nil
}

// redactURL trims provider API keys that are usually carried in the path.
func redactURL(raw string) string {
	const keep = 32
	if len(raw) <= keep {
		return raw
	}
	return raw[:keep] + "..."
}

var _ GasPriceFetcher = (*GasRPC)(nil)
