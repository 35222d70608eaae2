package estimator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/types"
)

// fallbackConfidence marks estimates built from static tables instead of
// live market data.
const fallbackConfidence = 0.3

// fallbackGasUSD is the static per-chain gas table used when live
// conditions are unavailable.
var fallbackGasUSD = map[types.ChainID]decimal.Decimal{
	types.ChainEthereum: decimal.NewFromFloat(2.50),
	types.ChainPolygon:  decimal.NewFromFloat(0.01),
	types.ChainBase:     decimal.NewFromFloat(0.05),
	types.ChainArbitrum: decimal.NewFromFloat(0.10),
}

// fallbackGasDefaultUSD covers chains missing from the table.
var fallbackGasDefaultUSD = decimal.NewFromInt(1)

// fallbackEstimate builds the degraded estimate served when live data is
// missing or estimation failed. Fees come from static tables; time assumes
// medium congestion.
func (e *CostEstimator) fallbackEstimate(
	method *types.PaymentMethod,
	amount decimal.Decimal,
	currency string,
) *types.CostEstimate {
	gas := decimal.Zero
	processing := decimal.Zero
	protocol := decimal.Zero

	switch method.Type {
	case types.MethodUSDC, types.MethodUSDT:
		gas = staticGasFor(method.ChainID).Mul(tokenTransferGasFactor)
	case types.MethodNative:
		gas = staticGasFor(method.ChainID)
	case types.MethodCard:
		processing = amount.Mul(cardPercentFee).Add(cardFixedFeeUSD)
	case types.MethodX402:
		protocol = amount.Mul(x402ProtocolFeeRate)
	}

	base, ok := baseSettlementTime[method.Type]
	if !ok {
		base = 3 * time.Minute
	}
	estTime := base
	if method.Type.UsesChainGas() {
		estTime = time.Duration(float64(base) * congestionTimeFactor[types.CongestionMedium])
	}

	return &types.CostEstimate{
		TotalCost:     amount.Add(gas).Add(processing).Add(protocol),
		BaseCost:      amount,
		GasFee:        gas,
		EstimatedTime: estTime,
		Confidence:    fallbackConfidence,
		Currency:      currency,
		Breakdown: types.CostBreakdown{
			BaseAmount:    amount,
			NetworkFee:    gas,
			ProcessingFee: processing,
			ProtocolFee:   protocol,
			Explanation:   "static fallback estimate, live market data unavailable",
		},
	}
}

func staticGasFor(chainID types.ChainID) decimal.Decimal {
	if gas, ok := fallbackGasUSD[chainID]; ok {
		return gas
	}
	return fallbackGasDefaultUSD
}
