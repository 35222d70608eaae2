// Package providers contains the external market-data collaborators: gas
// price, exchange rate, and balance sources used to assemble the
// MarketConditions snapshots consumed by the ranking pipeline.
//
// Providers are the only layer that talks to the outside world. The ranking
// pipeline itself never fetches; it works entirely from snapshots handed to
// it, so provider failures degrade data freshness rather than rankings.
package providers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/types"
)

// GasPriceProvider supplies a gas snapshot for one chain.
type GasPriceProvider interface {
	FetchGasPrice(ctx context.Context, chainID types.ChainID) (*types.NetworkConditions, error)
}

// ExchangeRateProvider supplies a conversion quote between two symbols.
type ExchangeRateProvider interface {
	FetchRate(ctx context.Context, from, to string) (*types.ExchangeRate, error)
}

// BalanceProvider reports an address's balance for a payment method's token.
type BalanceProvider interface {
	FetchBalance(ctx context.Context, address string, method *types.PaymentMethod) (decimal.Decimal, error)
}

// Closer is implemented by providers holding live connections.
type Closer interface {
	Close()
}
