package payrank

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/payrank/providers"
	"github.com/vitwit/payrank/types"
)

func testMethods() []*types.PaymentMethod {
	return []*types.PaymentMethod{
		{
			ID:              "usdc-eth",
			Type:            types.MethodUSDC,
			Name:            "USDC",
			ChainID:         types.ChainEthereum,
			Enabled:         true,
			Token:           &types.TokenInfo{Symbol: "USDC", Decimals: 6},
			SupportedChains: []types.ChainID{types.ChainEthereum},
		},
		{
			ID:              "eth-native",
			Type:            types.MethodNative,
			Name:            "ETH",
			ChainID:         types.ChainEthereum,
			Enabled:         true,
			SupportedChains: []types.ChainID{types.ChainEthereum},
		},
		{
			ID:      "card-default",
			Type:    types.MethodCard,
			Name:    "Visa",
			Enabled: true,
		},
	}
}

func healthyMarket(gasUSD float64) types.MarketConditions {
	return types.MarketConditions{
		GasConditions: []types.NetworkConditions{{
			ChainID:         types.ChainEthereum,
			GasPriceGwei:    decimal.NewFromInt(20),
			GasPriceUSD:     decimal.NewFromFloat(gasUSD),
			CongestionLevel: types.CongestionLow,
			BlockTime:       12 * time.Second,
			LastUpdated:     time.Now(),
		}},
		ExchangeRates: []types.ExchangeRate{{
			From:        "ETH",
			To:          "USD",
			Rate:        decimal.NewFromInt(3000),
			Confidence:  0.95,
			LastUpdated: time.Now(),
		}},
		LastUpdated: time.Now(),
	}
}

func rankRequest() *types.PrioritizationRequest {
	return &types.PrioritizationRequest{
		UserID:      "user-1",
		UserAddress: "0x1111111111111111111111111111111111111111",
		ChainID:     types.ChainEthereum,
		Amount:      decimal.NewFromInt(100),
		Currency:    "USD",
		Methods:     testMethods(),
		Market:      healthyMarket(1.50),
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	svc := New(nil)

	assert.True(t, svc.GasThresholds().WarningUSD.Equal(decimal.NewFromInt(10)))
	assert.NotEmpty(t, svc.Weights())
}

func TestNewNormalizesPartialConfig(t *testing.T) {
	svc := New(&types.Config{CacheTTL: types.Duration(10 * time.Second)})

	res, err := svc.PrioritizePaymentMethods(context.Background(), rankRequest())
	require.NoError(t, err)
	assert.Len(t, res.PrioritizedMethods, 3)
}

func TestPrioritizeEndToEnd(t *testing.T) {
	svc := NewWithDefaults(WithClock(clock.NewMock()))

	res, err := svc.PrioritizePaymentMethods(context.Background(), rankRequest())
	require.NoError(t, err)

	require.Len(t, res.PrioritizedMethods, 3)
	assert.Equal(t, "usdc-eth", res.PrioritizedMethods[0].Method.ID)
	for i, m := range res.PrioritizedMethods {
		assert.Equal(t, i+1, m.Priority)
		require.NotNil(t, m.CostEstimate)
		require.NotNil(t, m.Components)
	}

	require.NotNil(t, res.DefaultMethod)
	assert.Equal(t, "usdc-eth", res.DefaultMethod.Method.ID)
	assert.NotEmpty(t, res.Recommendations)
	assert.Contains(t, res.Recommendations[0], "USDC")

	_, err = uuid.Parse(res.Metadata.RequestID)
	assert.NoError(t, err)
	assert.False(t, res.Metadata.CacheHit)
	assert.NotEmpty(t, res.Metadata.MarketHash)
	assert.False(t, res.Metadata.GeneratedAt.IsZero())
}

func TestPrioritizeValidatesRequest(t *testing.T) {
	svc := NewWithDefaults()

	_, err := svc.PrioritizePaymentMethods(context.Background(), nil)
	var perr types.PrioritizationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrInvalidRequest, perr.Code)

	req := rankRequest()
	req.UserID = ""
	_, err = svc.PrioritizePaymentMethods(context.Background(), req)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrInvalidRequest, perr.Code)
}

func TestPrioritizeCacheHitKeepsScoresStable(t *testing.T) {
	svc := NewWithDefaults(WithClock(clock.NewMock()))
	ctx := context.Background()

	first, err := svc.PrioritizePaymentMethods(ctx, rankRequest())
	require.NoError(t, err)
	second, err := svc.PrioritizePaymentMethods(ctx, rankRequest())
	require.NoError(t, err)

	assert.False(t, first.Metadata.CacheHit)
	assert.True(t, second.Metadata.CacheHit)

	// Rule bonuses must apply exactly once per request, never compound
	// through the cache.
	require.Len(t, second.PrioritizedMethods, len(first.PrioritizedMethods))
	for i := range first.PrioritizedMethods {
		assert.Equal(t, first.PrioritizedMethods[i].Method.ID, second.PrioritizedMethods[i].Method.ID)
		assert.InDelta(t, first.PrioritizedMethods[i].TotalScore, second.PrioritizedMethods[i].TotalScore, 1e-9)
	}
}

func TestPrioritizeFallbackWhenPrimaryDisabled(t *testing.T) {
	svc := NewWithDefaults()

	req := rankRequest()
	req.Methods[0].Enabled = false
	req.Methods = append(req.Methods, &types.PaymentMethod{
		ID:              "usdt-eth",
		Type:            types.MethodUSDT,
		Name:            "USDT",
		ChainID:         types.ChainEthereum,
		Enabled:         true,
		Token:           &types.TokenInfo{Symbol: "USDT", Decimals: 6},
		SupportedChains: []types.ChainID{types.ChainEthereum},
	})

	res, err := svc.PrioritizePaymentMethods(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, res.DefaultMethod)
	assert.Equal(t, "usdt-eth", res.DefaultMethod.Method.ID)

	found := false
	for _, rec := range res.Recommendations {
		if strings.Contains(rec, "fallback") {
			found = true
		}
	}
	assert.True(t, found, "fallback recommendation missing: %v", res.Recommendations)
}

func TestHighGasWarning(t *testing.T) {
	svc := NewWithDefaults()

	req := rankRequest()
	req.Market = healthyMarket(5) // stablecoin transfer gas lands at $15

	res, err := svc.PrioritizePaymentMethods(context.Background(), req)
	require.NoError(t, err)

	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "gas fees are high on ethereum") {
			found = true
		}
	}
	assert.True(t, found, "high gas warning missing: %v", res.Warnings)
}

func TestNoAvailableMethodWarning(t *testing.T) {
	svc := NewWithDefaults()

	req := rankRequest()
	for _, m := range req.Methods {
		m.Enabled = false
	}

	res, err := svc.PrioritizePaymentMethods(context.Background(), req)
	require.NoError(t, err)

	assert.Nil(t, res.DefaultMethod)
	assert.Contains(t, res.Warnings, "no payment method is currently available")
}

func TestSetWeightsPurgesCache(t *testing.T) {
	svc := NewWithDefaults(WithClock(clock.NewMock()))
	ctx := context.Background()

	_, err := svc.PrioritizePaymentMethods(ctx, rankRequest())
	require.NoError(t, err)

	err = svc.SetWeights(map[types.MethodType]types.ScoringWeights{
		types.MethodUSDC: {Cost: 1},
	})
	require.NoError(t, err)

	res, err := svc.PrioritizePaymentMethods(ctx, rankRequest())
	require.NoError(t, err)
	assert.False(t, res.Metadata.CacheHit)

	assert.Equal(t, 1.0, svc.Weights()[types.MethodUSDC].Cost)
}

func TestSetGasThresholds(t *testing.T) {
	svc := NewWithDefaults()

	err := svc.SetGasThresholds(types.GasFeeThresholds{
		WarningUSD:          decimal.NewFromInt(-1),
		MaxAcceptableUSD:    decimal.NewFromInt(50),
		BlockTransactionUSD: decimal.NewFromInt(100),
	})
	var perr types.PrioritizationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrConfigError, perr.Code)

	next := types.GasFeeThresholds{
		WarningUSD:          decimal.NewFromInt(5),
		MaxAcceptableUSD:    decimal.NewFromInt(20),
		BlockTransactionUSD: decimal.NewFromInt(40),
	}
	require.NoError(t, svc.SetGasThresholds(next))
	assert.True(t, svc.GasThresholds().WarningUSD.Equal(decimal.NewFromInt(5)))
}

func TestRecordTransactionOutcome(t *testing.T) {
	svc := NewWithDefaults()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := svc.RecordTransactionOutcome(ctx, "user-9", types.TransactionOutcome{
			MethodType: types.MethodUSDT,
			Amount:     decimal.NewFromInt(40),
			Successful: true,
			ChainID:    types.ChainEthereum,
			Timestamp:  time.Now(),
		})
		require.NoError(t, err)
	}

	prefs, err := svc.Preferences(ctx, "user-9")
	require.NoError(t, err)
	pref, ok := prefs.PreferenceFor(types.MethodUSDT)
	require.True(t, ok)
	assert.Equal(t, 3, pref.UsageCount)
	// Prior 0.6 nudged up by the 0.1 learning rate per success.
	assert.InDelta(t, 0.9, pref.Score, 1e-9)
	assert.Equal(t, decimal.NewFromInt(40).String(), pref.AverageTransactionAmount.String())
}

func TestMarketAssembledFromProviders(t *testing.T) {
	svc := NewWithDefaults(
		WithConditionsProvider(providers.NewStaticGasProvider()),
		WithRateProvider(providers.NewStaticRateProvider()),
	)

	req := rankRequest()
	req.Market = types.MarketConditions{}

	res, err := svc.PrioritizePaymentMethods(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, res.Metadata.MarketHash)
	require.NotNil(t, res.DefaultMethod)
	assert.True(t, res.DefaultMethod.CostEstimate.GasFee.IsPositive())
}

func TestBalancesFilledFromProvider(t *testing.T) {
	balances := providers.NewStaticBalanceProvider()
	balances.SetBalance("0x1111111111111111111111111111111111111111", "usdc-eth", decimal.NewFromInt(5))
	balances.SetBalance("0x1111111111111111111111111111111111111111", "eth-native", decimal.NewFromInt(500))

	svc := NewWithDefaults(WithBalanceProvider(balances))

	res, err := svc.PrioritizePaymentMethods(context.Background(), rankRequest())
	require.NoError(t, err)

	var usdc *types.PrioritizedPaymentMethod
	for _, m := range res.PrioritizedMethods {
		if m.Method.ID == "usdc-eth" {
			usdc = m
		}
	}
	require.NotNil(t, usdc)
	assert.Equal(t, types.AvailabilityInsufficientBalance, usdc.AvailabilityStatus)

	require.NotNil(t, res.DefaultMethod)
	assert.NotEqual(t, "usdc-eth", res.DefaultMethod.Method.ID)
}

func TestEstimateCosts(t *testing.T) {
	svc := NewWithDefaults()
	market := healthyMarket(1.50)

	comparisons := svc.EstimateCosts(context.Background(), testMethods(), decimal.NewFromInt(100), "USD", &market)

	require.Len(t, comparisons, 3)
	recommended := 0
	for _, c := range comparisons {
		require.NotNil(t, c.Estimate)
		assert.True(t, c.Estimate.TotalCost.IsPositive())
		if c.Recommended {
			recommended++
		}
	}
	assert.GreaterOrEqual(t, recommended, 1)
}

func TestUpdatePrioritizationPassthrough(t *testing.T) {
	svc := NewWithDefaults()

	res, err := svc.PrioritizePaymentMethods(context.Background(), rankRequest())
	require.NoError(t, err)

	congested := healthyMarket(1.50)
	congested.GasConditions[0].CongestionLevel = types.CongestionHigh

	updated := svc.UpdatePrioritization(res.PrioritizedMethods, &congested)
	require.Len(t, updated, len(res.PrioritizedMethods))

	before := map[string]float64{}
	for _, m := range res.PrioritizedMethods {
		before[m.Method.ID] = m.TotalScore
	}
	for _, m := range updated {
		if m.Method.Type == types.MethodCard {
			assert.InDelta(t, before[m.Method.ID], m.TotalScore, 0.0001)
		} else {
			assert.Less(t, m.TotalScore, before[m.Method.ID],
				"on-chain method %s should be penalized under congestion", m.Method.ID)
		}
	}
}
