package engine

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/payrank/estimator"
	"github.com/vitwit/payrank/preference"
	"github.com/vitwit/payrank/scoring"
	"github.com/vitwit/payrank/types"
)

func newTestEngine(clk clock.Clock) *Reprioritizer {
	cfg := types.DefaultConfig()
	learner := preference.NewLearner(preference.NewInMemoryStore())
	scorer := scoring.NewScoringService(cfg, learner, nil)
	est := estimator.NewCostEstimator(cfg.DefaultTimeout.Std())
	return NewReprioritizerWith(cfg, scorer, est, learner, nil, clk, nil, nil)
}

func rankRequest() *types.PrioritizationRequest {
	return &types.PrioritizationRequest{
		UserID:      "user-1",
		UserAddress: "0x1111111111111111111111111111111111111111",
		ChainID:     types.ChainEthereum,
		Amount:      decimal.NewFromInt(100),
		Currency:    "USD",
		Methods: []*types.PaymentMethod{
			{
				ID:              "usdc-eth",
				Type:            types.MethodUSDC,
				ChainID:         types.ChainEthereum,
				Enabled:         true,
				SupportedChains: []types.ChainID{types.ChainEthereum},
				Token:           &types.TokenInfo{Symbol: "USDC", Decimals: 6},
			},
			{
				ID:              "eth-native",
				Type:            types.MethodNative,
				ChainID:         types.ChainEthereum,
				Enabled:         true,
				SupportedChains: []types.ChainID{types.ChainEthereum},
			},
			{
				ID:      "card-default",
				Type:    types.MethodCard,
				Enabled: true,
			},
		},
		Market: freshMarket(types.CongestionLow, 1.50),
	}
}

func freshMarket(congestion types.CongestionLevel, gasUSD float64) types.MarketConditions {
	return types.MarketConditions{
		GasConditions: []types.NetworkConditions{
			{
				ChainID:         types.ChainEthereum,
				GasPriceGwei:    decimal.NewFromInt(20),
				GasPriceUSD:     decimal.NewFromFloat(gasUSD),
				CongestionLevel: congestion,
				BlockTime:       12 * time.Second,
				LastUpdated:     time.Now(),
			},
		},
		ExchangeRates: []types.ExchangeRate{
			{From: "ETH", To: "USD", Rate: decimal.NewFromInt(3000), Confidence: 0.95, LastUpdated: time.Now()},
		},
		LastUpdated: time.Now(),
	}
}

func assertContiguousPriorities(t *testing.T, methods []*types.PrioritizedPaymentMethod) {
	t.Helper()
	for i, m := range methods {
		assert.Equal(t, i+1, m.Priority)
		if i > 0 {
			assert.GreaterOrEqual(t, methods[i-1].TotalScore, m.TotalScore)
		}
	}
}

func TestPrioritizeRanksByScore(t *testing.T) {
	r := newTestEngine(clock.NewMock())

	ranking, err := r.Prioritize(context.Background(), rankRequest())
	require.NoError(t, err)
	require.Len(t, ranking.Methods, 3)

	assertContiguousPriorities(t, ranking.Methods)
	assert.False(t, ranking.CacheHit)
	assert.NotEmpty(t, ranking.MarketHash)

	// Cheap stablecoin on a quiet chain outranks native and card.
	assert.Equal(t, "usdc-eth", ranking.Methods[0].Method.ID)
	for _, m := range ranking.Methods {
		require.NotNil(t, m.CostEstimate)
		require.NotNil(t, m.Components)
		assert.Equal(t, types.AvailabilityAvailable, m.AvailabilityStatus)
	}
}

func TestPrioritizeRejectsEmptyRequest(t *testing.T) {
	r := newTestEngine(clock.NewMock())

	_, err := r.Prioritize(context.Background(), &types.PrioritizationRequest{})
	require.Error(t, err)

	var perr types.PrioritizationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrInvalidRequest, perr.Code)
}

func TestCacheHitWithinTTL(t *testing.T) {
	mock := clock.NewMock()
	r := newTestEngine(mock)
	req := rankRequest()

	first, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	mock.Add(10 * time.Second)
	second, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)

	require.Len(t, second.Methods, len(first.Methods))
	for i := range first.Methods {
		assert.Equal(t, first.Methods[i].Method.ID, second.Methods[i].Method.ID)
		assert.Equal(t, first.Methods[i].Priority, second.Methods[i].Priority)
		assert.Equal(t, first.Methods[i].TotalScore, second.Methods[i].TotalScore)
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	mock := clock.NewMock()
	r := newTestEngine(mock)
	req := rankRequest()

	_, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)

	mock.Add(31 * time.Second)
	second, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
}

func TestCongestionFlipInvalidatesCache(t *testing.T) {
	mock := clock.NewMock()
	r := newTestEngine(mock)
	req := rankRequest()

	_, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)

	req.Market.GasConditions[0].CongestionLevel = types.CongestionHigh
	second, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	assert.True(t, second.DriftDetected)
}

func TestCachedEntriesAreIsolated(t *testing.T) {
	mock := clock.NewMock()
	r := newTestEngine(mock)
	req := rankRequest()

	first, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)
	originalScore := first.Methods[0].TotalScore

	// Caller mutation must not leak into the cache.
	first.Methods[0].TotalScore = 0
	first.Methods[0].Benefits = append(first.Methods[0].Benefits, "mutated")

	second, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	assert.Equal(t, originalScore, second.Methods[0].TotalScore)
	assert.Empty(t, second.Methods[0].Benefits)
}

func TestCongestionPenaltySparesCard(t *testing.T) {
	r := newTestEngine(clock.NewMock())
	req := rankRequest()
	req.Market = freshMarket(types.CongestionHigh, 1.50)

	ranking, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)

	assertContiguousPriorities(t, ranking.Methods)
	assert.Equal(t, "card-default", ranking.Methods[0].Method.ID)

	penalized := 0
	for _, adj := range ranking.Adjustments {
		if adj.ScoreDelta == -congestionPenalty {
			penalized++
			assert.NotEqual(t, types.MethodCard, adj.MethodType)
			assert.Contains(t, adj.Reason, "high congestion")
		}
	}
	assert.Equal(t, 2, penalized)
}

func TestCostRatioPenalty(t *testing.T) {
	r := newTestEngine(clock.NewMock())
	req := rankRequest()
	// $20 native transfer gas on a $100 purchase is a 20% overhead.
	req.Market = freshMarket(types.CongestionLow, 20)

	ranking, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)

	var nativeAdjusted bool
	for _, adj := range ranking.Adjustments {
		if adj.MethodType == types.MethodNative && adj.ScoreDelta == -costRatioPenalty {
			nativeAdjusted = true
			assert.Contains(t, adj.Reason, "15%")
		}
	}
	assert.True(t, nativeAdjusted)
}

func TestStrongPreferenceBonus(t *testing.T) {
	r := newTestEngine(clock.NewMock())
	req := rankRequest()
	req.Preferences = &types.UserPreferences{
		PreferredMethods: []types.MethodPreference{
			{MethodType: types.MethodUSDC, Score: 0.95, LastUsed: time.Now(), UsageCount: 12},
		},
		PreferStablecoins:    true,
		AutoSelectBestOption: true,
		MaxGasFeeThreshold:   decimal.NewFromInt(25),
	}

	ranking, err := r.Prioritize(context.Background(), req)
	require.NoError(t, err)

	var boosted bool
	for _, adj := range ranking.Adjustments {
		if adj.MethodType == types.MethodUSDC && adj.ScoreDelta == strongPreferenceBonus {
			boosted = true
			assert.Equal(t, adj.NewPriority, ranking.Methods[0].Priority)
		}
	}
	assert.True(t, boosted)
}

func TestUpdatePrioritizationReRanks(t *testing.T) {
	r := newTestEngine(clock.NewMock())

	current := []*types.PrioritizedPaymentMethod{
		{
			Method:     &types.PaymentMethod{ID: "usdc-eth", Type: types.MethodUSDC, ChainID: types.ChainEthereum, Enabled: true},
			Priority:   1,
			TotalScore: 0.9,
		},
		{
			Method:     &types.PaymentMethod{ID: "card-default", Type: types.MethodCard, Enabled: true},
			Priority:   2,
			TotalScore: 0.8,
		},
	}

	market := freshMarket(types.CongestionHigh, 1.50)
	updated := r.UpdatePrioritization(current, &market)

	require.Len(t, updated, 2)
	assert.Equal(t, "card-default", updated[0].Method.ID)
	assert.InDelta(t, 0.7, updated[1].TotalScore, 0.0001)
	assertContiguousPriorities(t, updated)

	// Input ranking is left untouched.
	assert.Equal(t, 0.9, current[0].TotalScore)
	assert.Equal(t, 1, current[0].Priority)
}

func TestHasSignificantChange(t *testing.T) {
	r := newTestEngine(clock.NewMock())

	prev := []*types.PrioritizedPaymentMethod{
		{
			Method: &types.PaymentMethod{ID: "usdc-eth", Type: types.MethodUSDC, ChainID: types.ChainEthereum},
			CostEstimate: &types.CostEstimate{
				GasFee: decimal.NewFromFloat(4.50), // implied by $1.50 plain-transfer gas
			},
		},
	}

	t.Run("steady market", func(t *testing.T) {
		market := freshMarket(types.CongestionLow, 1.50)
		assert.False(t, r.hasSignificantChange(prev, &market))
	})

	t.Run("small move stays quiet", func(t *testing.T) {
		market := freshMarket(types.CongestionLow, 1.55)
		assert.False(t, r.hasSignificantChange(prev, &market))
	})

	t.Run("gas jump", func(t *testing.T) {
		market := freshMarket(types.CongestionLow, 2.00)
		assert.True(t, r.hasSignificantChange(prev, &market))
	})

	t.Run("high congestion", func(t *testing.T) {
		market := freshMarket(types.CongestionHigh, 1.50)
		assert.True(t, r.hasSignificantChange(nil, &market))
	})

	t.Run("nil market", func(t *testing.T) {
		assert.False(t, r.hasSignificantChange(prev, nil))
	})
}

func TestCacheKeyIgnoresMethodOrder(t *testing.T) {
	req := rankRequest()
	key := CacheKey(req)

	req.Methods[0], req.Methods[2] = req.Methods[2], req.Methods[0]
	assert.Equal(t, key, CacheKey(req))

	req.Amount = decimal.NewFromInt(200)
	assert.NotEqual(t, key, CacheKey(req))
}

func TestMarketHash(t *testing.T) {
	market := freshMarket(types.CongestionLow, 1.50)
	base := MarketHash(&market)

	t.Run("stable across snapshot copies", func(t *testing.T) {
		other := freshMarket(types.CongestionLow, 1.50)
		assert.Equal(t, base, MarketHash(&other))
	})

	t.Run("congestion changes the hash", func(t *testing.T) {
		other := freshMarket(types.CongestionHigh, 1.50)
		assert.NotEqual(t, base, MarketHash(&other))
	})

	t.Run("gas price changes the hash", func(t *testing.T) {
		other := freshMarket(types.CongestionLow, 1.50)
		other.GasConditions[0].GasPriceGwei = decimal.NewFromInt(90)
		assert.NotEqual(t, base, MarketHash(&other))
	})

	t.Run("rate changes the hash", func(t *testing.T) {
		other := freshMarket(types.CongestionLow, 1.50)
		other.ExchangeRates[0].Rate = decimal.NewFromInt(3100)
		assert.NotEqual(t, base, MarketHash(&other))
	})

	t.Run("entry order is irrelevant", func(t *testing.T) {
		other := freshMarket(types.CongestionLow, 1.50)
		other.GasConditions = append(other.GasConditions, types.NetworkConditions{
			ChainID:         types.ChainPolygon,
			GasPriceGwei:    decimal.NewFromInt(35),
			CongestionLevel: types.CongestionLow,
		})
		reordered := freshMarket(types.CongestionLow, 1.50)
		reordered.GasConditions = []types.NetworkConditions{
			other.GasConditions[1], other.GasConditions[0],
		}
		assert.Equal(t, MarketHash(&other), MarketHash(&reordered))
	})

	t.Run("nil market hashes empty", func(t *testing.T) {
		assert.Equal(t, "", MarketHash(nil))
	})
}

func TestLRUCacheEviction(t *testing.T) {
	cache := NewLRUCache(2, time.Minute)

	for _, key := range []string{"a", "b", "c"} {
		cache.Set(key, &types.CachedRanking{Key: key})
	}

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("a")
	assert.False(t, ok)
	_, ok = cache.Get("c")
	assert.True(t, ok)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}
