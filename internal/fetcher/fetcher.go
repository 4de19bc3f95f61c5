package fetcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// GasPriceFetcher reads the current gas price, in gwei, from an EVM JSON-RPC endpoint.
type GasPriceFetcher interface {
	FetchGasPrice(ctx context.Context, rpcURL string) (decimal.Decimal, error)
}

// FiatRateFetcher retrieves an asset's price in the configured fiat currency.
type FiatRateFetcher interface {
	FetchRate(ctx context.Context, asset string) (decimal.Decimal, error)
}
