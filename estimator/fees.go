package estimator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/types"
)

// Card rails charge a percentage plus a fixed per-transaction fee.
var (
	cardPercentFee  = decimal.NewFromFloat(0.029)
	cardFixedFeeUSD = decimal.NewFromFloat(0.30)
)

// The fee-abstracted protocol charges a flat facilitation fee and absorbs
// gas on the buyer's behalf.
var x402ProtocolFeeRate = decimal.NewFromFloat(0.001)

// Token transfers typically use more gas than native transfers.
var tokenTransferGasFactor = decimal.NewFromInt(3)

// methodFees is the per-type fee split feeding a cost breakdown.
type methodFees struct {
	gas         decimal.Decimal
	processing  decimal.Decimal
	protocol    decimal.Decimal
	explanation string
}

// feesFor computes the buyer-side fees for one method. Chain-gas methods
// need a conditions snapshot; its absence is an estimation failure that the
// caller turns into a fallback.
func (e *CostEstimator) feesFor(
	method *types.PaymentMethod,
	amount decimal.Decimal,
	conditions *types.NetworkConditions,
) (*methodFees, error) {
	switch method.Type {
	case types.MethodUSDC, types.MethodUSDT:
		gas, err := gasFeeFrom(conditions, tokenTransferGasFactor)
		if err != nil {
			return nil, err
		}
		return &methodFees{
			gas:         gas,
			processing:  decimal.Zero,
			protocol:    decimal.Zero,
			explanation: "stablecoin transfer: base amount plus token-transfer gas",
		}, nil

	case types.MethodNative:
		gas, err := gasFeeFrom(conditions, decimal.NewFromInt(1))
		if err != nil {
			return nil, err
		}
		return &methodFees{
			gas:         gas,
			processing:  decimal.Zero,
			protocol:    decimal.Zero,
			explanation: "native transfer: base amount plus gas",
		}, nil

	case types.MethodCard:
		return &methodFees{
			gas:         decimal.Zero,
			processing:  amount.Mul(cardPercentFee).Add(cardFixedFeeUSD),
			protocol:    decimal.Zero,
			explanation: "card rail: base amount plus processing fee",
		}, nil

	case types.MethodX402:
		return &methodFees{
			gas:         decimal.Zero,
			processing:  decimal.Zero,
			protocol:    amount.Mul(x402ProtocolFeeRate),
			explanation: "fee-abstracted transfer: base amount plus protocol fee, gas sponsored",
		}, nil

	default:
		return nil, types.PrioritizationError{
			Code:    types.ErrEstimationFailed,
			Message: fmt.Sprintf("unknown method type: %s", method.Type),
		}
	}
}

// ImpliedGasFee is the USD gas cost a method type implies under the given
// conditions. Methods that do not spend chain gas imply zero.
func ImpliedGasFee(t types.MethodType, conditions *types.NetworkConditions) decimal.Decimal {
	if conditions == nil || !t.UsesChainGas() {
		return decimal.Zero
	}
	if t.IsStablecoin() {
		return conditions.GasPriceUSD.Mul(tokenTransferGasFactor)
	}
	return conditions.GasPriceUSD
}

// gasFeeFrom scales the snapshot's plain-transfer USD cost by the given
// factor.
func gasFeeFrom(conditions *types.NetworkConditions, factor decimal.Decimal) (decimal.Decimal, error) {
	if conditions == nil {
		return decimal.Zero, types.PrioritizationError{
			Code:    types.ErrEstimationFailed,
			Message: "no network conditions for chain-gas method",
		}
	}
	if conditions.GasPriceUSD.IsNegative() {
		return decimal.Zero, types.PrioritizationError{
			Code:    types.ErrEstimationFailed,
			Message: "negative gas price in conditions snapshot",
		}
	}
	return conditions.GasPriceUSD.Mul(factor), nil
}

// Base settlement times per method type, before congestion and chain pacing.
var baseSettlementTime = map[types.MethodType]time.Duration{
	types.MethodCard:   time.Minute,
	types.MethodX402:   time.Minute,
	types.MethodUSDC:   2 * time.Minute,
	types.MethodUSDT:   2 * time.Minute,
	types.MethodNative: 3 * time.Minute,
}

// Congestion stretches (or shrinks) settlement expectations.
var congestionTimeFactor = map[types.CongestionLevel]float64{
	types.CongestionLow:    0.8,
	types.CongestionMedium: 1.5,
	types.CongestionHigh:   2.0,
}

// Faster chains settle in fewer wall-clock minutes.
var chainTimeFactor = map[types.ChainID]float64{
	types.ChainEthereum: 1.0,
	types.ChainPolygon:  0.5,
	types.ChainBase:     0.5,
	types.ChainArbitrum: 0.4,
}

// estimateTime projects settlement time for a method. Card and
// fee-abstracted rails ignore chain pacing.
func (e *CostEstimator) estimateTime(method *types.PaymentMethod, conditions *types.NetworkConditions) time.Duration {
	base, ok := baseSettlementTime[method.Type]
	if !ok {
		base = 3 * time.Minute
	}

	if !method.Type.UsesChainGas() {
		return base
	}

	factor := 1.0
	if conditions != nil {
		if f, ok := congestionTimeFactor[conditions.CongestionLevel]; ok {
			factor = f
		}
	}
	if f, ok := chainTimeFactor[method.ChainID]; ok {
		factor *= f
	}

	return time.Duration(float64(base) * factor)
}

// Confidence blend weights over the individual data-quality signals.
const (
	gasConfidenceWeight        = 0.4
	rateConfidenceWeight       = 0.3
	networkConfidenceWeight    = 0.2
	historicalConfidenceWeight = 0.1

	// Static heuristic tables hold steady over time.
	historicalConfidence = 0.8
)

// confidence blends the sub-confidences of the data that went into an
// estimate.
func (e *CostEstimator) confidence(
	method *types.PaymentMethod,
	conditions *types.NetworkConditions,
	rateConfidence float64,
) float64 {
	gasConf := 1.0
	netConf := 1.0

	if method.Type.UsesChainGas() {
		if conditions == nil {
			gasConf = fallbackConfidence
			netConf = fallbackConfidence
		} else {
			gasConf = ageDecay(time.Since(conditions.LastUpdated))
			switch conditions.CongestionLevel {
			case types.CongestionLow:
				netConf = 1.0
			case types.CongestionMedium:
				netConf = 0.8
			case types.CongestionHigh:
				netConf = 0.6
			default:
				netConf = fallbackConfidence
			}
		}
	}

	c := gasConfidenceWeight*gasConf +
		rateConfidenceWeight*rateConfidence +
		networkConfidenceWeight*netConf +
		historicalConfidenceWeight*historicalConfidence

	return clamp01(c)
}

// ageDecay lowers confidence linearly as a snapshot ages, bottoming out at
// 0.5 after ten minutes.
func ageDecay(age time.Duration) float64 {
	if age <= 0 {
		return 1.0
	}
	decayed := 1.0 - age.Minutes()/10.0
	if decayed < 0.5 {
		return 0.5
	}
	return decayed
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
