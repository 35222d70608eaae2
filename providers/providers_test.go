package providers

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/payrank/types"
)

func TestStaticGasProvider(t *testing.T) {
	p := NewStaticGasProvider()
	ctx := context.Background()

	cond, err := p.FetchGasPrice(ctx, types.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, types.ChainEthereum, cond.ChainID)
	assert.True(t, cond.GasPriceGwei.IsPositive())
	assert.False(t, cond.LastUpdated.IsZero())

	_, err = p.FetchGasPrice(ctx, types.ChainID(999))
	require.Error(t, err)

	var perr types.PrioritizationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrUnsupportedChain, perr.Code)
}

func TestStaticGasProviderSetConditions(t *testing.T) {
	p := NewStaticGasProvider()

	p.SetConditions(types.NetworkConditions{
		ChainID:         types.ChainEthereum,
		GasPriceGwei:    decimal.NewFromInt(200),
		CongestionLevel: types.CongestionHigh,
	})

	cond, err := p.FetchGasPrice(context.Background(), types.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, types.CongestionHigh, cond.CongestionLevel)
	assert.True(t, cond.GasPriceGwei.Equal(decimal.NewFromInt(200)))
}

func TestStaticRateProvider(t *testing.T) {
	p := NewStaticRateProvider()
	ctx := context.Background()

	rate, err := p.FetchRate(ctx, "ETH", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, staticFallbackConfidence, rate.Confidence)

	// Identity pairs are always available at full confidence.
	rate, err = p.FetchRate(ctx, "USD", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 1.0, rate.Confidence)

	_, err = p.FetchRate(ctx, "DOGE", "USD")
	assert.Error(t, err)

	p.SetRate("DOGE", "USD", decimal.NewFromFloat(0.1))
	rate, err = p.FetchRate(ctx, "DOGE", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.NewFromFloat(0.1)))
}

func TestStaticBalanceProvider(t *testing.T) {
	p := NewStaticBalanceProvider()
	ctx := context.Background()
	method := &types.PaymentMethod{ID: "usdc-eth", Type: types.MethodUSDC}

	bal, err := p.FetchBalance(ctx, "0xabc", method)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	p.SetBalance("0xabc", "usdc-eth", decimal.NewFromInt(500))
	bal, err = p.FetchBalance(ctx, "0xabc", method)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(500)))
}

func TestClassifyCongestion(t *testing.T) {
	tests := []struct {
		name    string
		chainID types.ChainID
		gwei    decimal.Decimal
		want    types.CongestionLevel
	}{
		{"ethereum at baseline", types.ChainEthereum, decimal.NewFromInt(20), types.CongestionLow},
		{"ethereum moderately busy", types.ChainEthereum, decimal.NewFromInt(45), types.CongestionMedium},
		{"ethereum spiking", types.ChainEthereum, decimal.NewFromInt(60), types.CongestionHigh},
		{"polygon calm", types.ChainPolygon, decimal.NewFromInt(30), types.CongestionLow},
		{"unknown chain defaults medium", types.ChainID(555), decimal.NewFromInt(1), types.CongestionMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyCongestion(tt.chainID, tt.gwei))
		})
	}
}
