package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodTypeClassification(t *testing.T) {
	tests := []struct {
		method     MethodType
		stablecoin bool
		fiat       bool
		chainGas   bool
	}{
		{MethodUSDC, true, false, true},
		{MethodUSDT, true, false, true},
		{MethodNative, false, false, true},
		{MethodCard, false, true, false},
		{MethodX402, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			assert.Equal(t, tt.stablecoin, tt.method.IsStablecoin())
			assert.Equal(t, tt.fiat, tt.method.IsFiat())
			assert.Equal(t, tt.chainGas, tt.method.UsesChainGas())
		})
	}
}

func TestCostEstimateFeeRatio(t *testing.T) {
	est := &CostEstimate{
		TotalCost: decimal.NewFromInt(105),
		BaseCost:  decimal.NewFromInt(100),
	}

	ratio := est.FeeRatio(decimal.NewFromInt(100))
	assert.True(t, ratio.Equal(decimal.NewFromFloat(0.05)), "expected 5%% fee ratio, got %s", ratio)

	// Zero amounts must not divide.
	assert.True(t, est.FeeRatio(decimal.Zero).IsZero())
}

func TestCachedRankingExpired(t *testing.T) {
	now := time.Now()
	entry := &CachedRanking{
		Timestamp: now,
		TTL:       30 * time.Second,
	}

	assert.False(t, entry.Expired(now.Add(29*time.Second)))
	assert.False(t, entry.Expired(now.Add(30*time.Second)))
	assert.True(t, entry.Expired(now.Add(31*time.Second)))
}

func TestMarketConditionsLookups(t *testing.T) {
	market := MarketConditions{
		GasConditions: []NetworkConditions{
			{ChainID: ChainEthereum, CongestionLevel: CongestionHigh},
			{ChainID: ChainBase, CongestionLevel: CongestionLow},
		},
		ExchangeRates: []ExchangeRate{
			{From: "ETH", To: "USD", Rate: decimal.NewFromInt(3000)},
		},
		NetworkAvailability: []NetworkAvailability{
			{ChainID: ChainPolygon, Available: false},
		},
	}

	cond, ok := market.ConditionsFor(ChainEthereum)
	require.True(t, ok)
	assert.Equal(t, CongestionHigh, cond.CongestionLevel)

	_, ok = market.ConditionsFor(ChainArbitrum)
	assert.False(t, ok)

	rate, ok := market.RateFor("ETH", "USD")
	require.True(t, ok)
	assert.True(t, rate.Rate.Equal(decimal.NewFromInt(3000)))

	_, ok = market.RateFor("USD", "ETH")
	assert.False(t, ok)

	assert.False(t, market.AvailableOn(ChainPolygon))
	// No entry means available.
	assert.True(t, market.AvailableOn(ChainBase))
	assert.True(t, market.AvailableOn(ChainArbitrum))
}

func TestPrioritizationRequestValidate(t *testing.T) {
	valid := func() *PrioritizationRequest {
		return &PrioritizationRequest{
			UserID:   "user-1",
			ChainID:  ChainEthereum,
			Amount:   decimal.NewFromInt(100),
			Currency: "USD",
			Methods: []*PaymentMethod{
				{ID: "usdc-eth", Type: MethodUSDC, Enabled: true},
			},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*PrioritizationRequest)
		errMsg string
	}{
		{"missing user", func(r *PrioritizationRequest) { r.UserID = "" }, "userId is required"},
		{"missing chain", func(r *PrioritizationRequest) { r.ChainID = 0 }, "chainId is required"},
		{"negative amount", func(r *PrioritizationRequest) { r.Amount = decimal.NewFromInt(-1) }, "amount cannot be negative"},
		{"missing currency", func(r *PrioritizationRequest) { r.Currency = "" }, "currency is required"},
		{"no methods", func(r *PrioritizationRequest) { r.Methods = nil }, "at least one payment method"},
		{"method without id", func(r *PrioritizationRequest) { r.Methods = []*PaymentMethod{{Type: MethodUSDC}} }, "needs an id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			err := req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestUserPreferencesHelpers(t *testing.T) {
	prefs := &UserPreferences{
		PreferredMethods: []MethodPreference{
			{MethodType: MethodUSDC, Score: 0.9},
		},
		AvoidedMethods: []MethodType{MethodNative},
	}

	pref, ok := prefs.PreferenceFor(MethodUSDC)
	require.True(t, ok)
	assert.Equal(t, 0.9, pref.Score)

	_, ok = prefs.PreferenceFor(MethodCard)
	assert.False(t, ok)

	assert.True(t, prefs.Avoided(MethodNative))
	assert.False(t, prefs.Avoided(MethodUSDC))
}

func TestPrioritizationError(t *testing.T) {
	err := PrioritizationError{
		Code:    ErrInvalidRequest,
		Message: "bad request",
	}
	assert.Equal(t, "bad request", err.Error())
}
