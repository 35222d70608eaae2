package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/types"
)

var _ GasPriceProvider = (*StaticGasProvider)(nil)
var _ ExchangeRateProvider = (*StaticRateProvider)(nil)
var _ BalanceProvider = (*StaticBalanceProvider)(nil)

// staticFallbackConfidence marks quotes served from fixed tables rather than
// a live source.
const staticFallbackConfidence = 0.3

// StaticGasProvider serves gas snapshots from a fixed per-chain table. It
// backs tests, examples, and the degraded path when live sources are down.
type StaticGasProvider struct {
	mu     sync.RWMutex
	prices map[types.ChainID]types.NetworkConditions
}

// NewStaticGasProvider returns a provider primed with typical mainnet values.
func NewStaticGasProvider() *StaticGasProvider {
	return &StaticGasProvider{prices: defaultGasTable()}
}

func defaultGasTable() map[types.ChainID]types.NetworkConditions {
	return map[types.ChainID]types.NetworkConditions{
		types.ChainEthereum: {
			ChainID:         types.ChainEthereum,
			GasPriceGwei:    decimal.NewFromInt(20),
			GasPriceUSD:     decimal.NewFromFloat(1.26),
			CongestionLevel: types.CongestionMedium,
			BlockTime:       12 * time.Second,
		},
		types.ChainPolygon: {
			ChainID:         types.ChainPolygon,
			GasPriceGwei:    decimal.NewFromInt(35),
			GasPriceUSD:     decimal.NewFromFloat(0.0006),
			CongestionLevel: types.CongestionLow,
			BlockTime:       2 * time.Second,
		},
		types.ChainBase: {
			ChainID:         types.ChainBase,
			GasPriceGwei:    decimal.NewFromFloat(0.05),
			GasPriceUSD:     decimal.NewFromFloat(0.003),
			CongestionLevel: types.CongestionLow,
			BlockTime:       2 * time.Second,
		},
		types.ChainArbitrum: {
			ChainID:         types.ChainArbitrum,
			GasPriceGwei:    decimal.NewFromFloat(0.1),
			GasPriceUSD:     decimal.NewFromFloat(0.006),
			CongestionLevel: types.CongestionLow,
			BlockTime:       time.Second,
		},
	}
}

func (p *StaticGasProvider) FetchGasPrice(_ context.Context, chainID types.ChainID) (*types.NetworkConditions, error) {
	p.mu.RLock()
	cond, ok := p.prices[chainID]
	p.mu.RUnlock()

	if !ok {
		return nil, types.PrioritizationError{
			Code:    types.ErrUnsupportedChain,
			Message: fmt.Sprintf("no gas data for chain %s", chainID),
		}
	}

	cond.LastUpdated = time.Now()
	return &cond, nil
}

// SetConditions replaces the stored snapshot for a chain. Tests and examples
// use this to simulate market movement.
func (p *StaticGasProvider) SetConditions(cond types.NetworkConditions) {
	p.mu.Lock()
	p.prices[cond.ChainID] = cond
	p.mu.Unlock()
}

// StaticRateProvider serves exchange rates from a fixed pair table.
type StaticRateProvider struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

// NewStaticRateProvider returns a provider primed with reference quotes.
func NewStaticRateProvider() *StaticRateProvider {
	return &StaticRateProvider{
		rates: map[string]decimal.Decimal{
			ratePairKey("ETH", "USD"):   decimal.NewFromInt(3000),
			ratePairKey("MATIC", "USD"): decimal.NewFromFloat(0.80),
			ratePairKey("USDC", "USD"):  decimal.NewFromInt(1),
			ratePairKey("USDT", "USD"):  decimal.NewFromInt(1),
		},
	}
}

func ratePairKey(from, to string) string {
	return from + "/" + to
}

func (p *StaticRateProvider) FetchRate(_ context.Context, from, to string) (*types.ExchangeRate, error) {
	if from == to {
		return &types.ExchangeRate{
			From:        from,
			To:          to,
			Rate:        decimal.NewFromInt(1),
			Confidence:  1,
			LastUpdated: time.Now(),
		}, nil
	}

	p.mu.RLock()
	rate, ok := p.rates[ratePairKey(from, to)]
	p.mu.RUnlock()

	if !ok {
		return nil, types.PrioritizationError{
			Code:    types.ErrEstimationFailed,
			Message: fmt.Sprintf("no rate for pair %s/%s", from, to),
		}
	}

	return &types.ExchangeRate{
		From:        from,
		To:          to,
		Rate:        rate,
		Confidence:  staticFallbackConfidence,
		LastUpdated: time.Now(),
	}, nil
}

// SetRate replaces one pair's stored quote.
func (p *StaticRateProvider) SetRate(from, to string, rate decimal.Decimal) {
	p.mu.Lock()
	p.rates[ratePairKey(from, to)] = rate
	p.mu.Unlock()
}

// StaticBalanceProvider serves balances from an in-memory map keyed by
// address and method ID.
type StaticBalanceProvider struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
}

func NewStaticBalanceProvider() *StaticBalanceProvider {
	return &StaticBalanceProvider{balances: make(map[string]decimal.Decimal)}
}

func balanceKey(address, methodID string) string {
	return address + "|" + methodID
}

// SetBalance stores an address's balance for one method.
func (p *StaticBalanceProvider) SetBalance(address, methodID string, balance decimal.Decimal) {
	p.mu.Lock()
	p.balances[balanceKey(address, methodID)] = balance
	p.mu.Unlock()
}

// FetchBalance returns the stored balance. Unknown address/method pairs
// report a zero balance with no error.
func (p *StaticBalanceProvider) FetchBalance(_ context.Context, address string, method *types.PaymentMethod) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if bal, ok := p.balances[balanceKey(address, method.ID)]; ok {
		return bal, nil
	}
	return decimal.Zero, nil
}
