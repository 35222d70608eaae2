// Package estimator computes buyer-facing cost estimates for payment
// methods under current network conditions. Estimation never hard-fails:
// when market data is missing or inconsistent it degrades to static
// per-chain fallback tables with an explicitly lowered confidence, so the
// ranking pipeline never aborts for cost-data unavailability.
package estimator

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vitwit/payrank/logger"
	"github.com/vitwit/payrank/metrics"
	"github.com/vitwit/payrank/types"
)

// recommendedBandRatio marks methods within 5% of the cheapest as still
// recommended.
var recommendedBandRatio = decimal.NewFromFloat(0.05)

// lowFeeBoundUSD is the gas level under which a stablecoin is considered
// cheap regardless of its relative cost position.
var lowFeeBoundUSD = decimal.NewFromInt(5)

// CostEstimator produces cost estimates and cross-method comparisons.
type CostEstimator struct {
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder
}

// NewCostEstimator creates an estimator with the given per-call timeout.
func NewCostEstimator(timeout time.Duration) *CostEstimator {
	return NewCostEstimatorWith(timeout, logger.NoopLogger{}, metrics.NoopRecorder{})
}

// NewCostEstimatorWith creates an estimator with explicit observability
// hooks.
func NewCostEstimatorWith(timeout time.Duration, log logger.Logger, rec metrics.Recorder) *CostEstimator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	return &CostEstimator{
		timeout: timeout,
		logger:  log,
		metrics: rec,
	}
}

// Estimate returns the projected cost of paying amount with the given
// method. conditions may be nil; market may be nil. Failures degrade to a
// fallback estimate instead of returning an error.
func (e *CostEstimator) Estimate(
	ctx context.Context,
	method *types.PaymentMethod,
	amount decimal.Decimal,
	currency string,
	conditions *types.NetworkConditions,
	market *types.MarketConditions,
) *types.CostEstimate {
	est, err := e.estimate(ctx, method, amount, currency, conditions, market)
	if err != nil {
		e.logger.Warn("cost estimation degraded to fallback", map[string]any{
			"method": method.ID,
			"type":   method.Type.String(),
			"chain":  method.ChainID.String(),
			"error":  err.Error(),
		})
		e.metrics.IncCounter(metrics.EventFallbackEstimate, map[string]string{
			"chain": method.ChainID.String(),
		})
		return e.fallbackEstimate(method, amount, currency)
	}
	return est
}

func (e *CostEstimator) estimate(
	ctx context.Context,
	method *types.PaymentMethod,
	amount decimal.Decimal,
	currency string,
	conditions *types.NetworkConditions,
	market *types.MarketConditions,
) (*types.CostEstimate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, types.PrioritizationError{
			Code:    types.ErrEstimationFailed,
			Message: "amount cannot be negative",
		}
	}

	fees, err := e.feesFor(method, amount, conditions)
	if err != nil {
		return nil, err
	}

	rate, rateConfidence := e.exchangeRateFor(method, currency, market)

	est := &types.CostEstimate{
		BaseCost:      amount,
		GasFee:        fees.gas,
		TotalCost:     amount.Add(fees.gas).Add(fees.processing).Add(fees.protocol),
		ExchangeRate:  rate,
		EstimatedTime: e.estimateTime(method, conditions),
		Currency:      currency,
		Breakdown: types.CostBreakdown{
			BaseAmount:    amount,
			NetworkFee:    fees.gas,
			ProcessingFee: fees.processing,
			ProtocolFee:   fees.protocol,
			Explanation:   fees.explanation,
		},
	}
	est.Confidence = e.confidence(method, conditions, rateConfidence)

	return est, nil
}

// Compare estimates every method concurrently, sorts ascending by total
// cost, and annotates savings against the most expensive option and the
// distance to the cheapest.
func (e *CostEstimator) Compare(
	ctx context.Context,
	methods []*types.PaymentMethod,
	amount decimal.Decimal,
	currency string,
	market *types.MarketConditions,
) []types.CostComparison {
	if len(methods) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	comparisons := make([]types.CostComparison, len(methods))

	g, gctx := errgroup.WithContext(ctx)
	for i, method := range methods {
		g.Go(func() error {
			var conditions *types.NetworkConditions
			if market != nil {
				if cond, ok := market.ConditionsFor(method.ChainID); ok {
					conditions = cond
				}
			}
			comparisons[i] = types.CostComparison{
				Method:   method,
				Estimate: e.Estimate(gctx, method, amount, currency, conditions, market),
			}
			return nil
		})
	}
	// Estimate never errors, so the group only propagates ctx cancellation.
	_ = g.Wait()

	sort.SliceStable(comparisons, func(i, j int) bool {
		return comparisons[i].Estimate.TotalCost.LessThan(comparisons[j].Estimate.TotalCost)
	})

	cheapest := comparisons[0].Estimate.TotalCost
	mostExpensive := comparisons[len(comparisons)-1].Estimate.TotalCost

	for i := range comparisons {
		total := comparisons[i].Estimate.TotalCost
		comparisons[i].Savings = mostExpensive.Sub(total)
		comparisons[i].CostDifference = total.Sub(cheapest)
		comparisons[i].Recommended = e.recommended(&comparisons[i], cheapest)
	}

	return comparisons
}

// recommended marks the cheapest method, anything within the 5% band of it,
// and cheap-gas stablecoins.
func (e *CostEstimator) recommended(c *types.CostComparison, cheapest decimal.Decimal) bool {
	if c.CostDifference.IsZero() {
		return true
	}
	if cheapest.IsPositive() && c.CostDifference.Div(cheapest).LessThanOrEqual(recommendedBandRatio) {
		return true
	}
	if c.Method.Type.IsStablecoin() && c.Estimate.GasFee.LessThan(lowFeeBoundUSD) {
		return true
	}
	return false
}

// exchangeRateFor resolves the conversion quote a method needs to display
// cost in the settlement currency, along with the quote's confidence.
func (e *CostEstimator) exchangeRateFor(
	method *types.PaymentMethod,
	currency string,
	market *types.MarketConditions,
) (*decimal.Decimal, float64) {
	symbol := ""
	switch {
	case method.Type == types.MethodNative:
		symbol = method.ChainID.NativeSymbol()
	case method.Type.IsStablecoin():
		if method.Token != nil {
			symbol = method.Token.Symbol
		}
	default:
		// Card and fee-abstracted rails settle directly in the purchase
		// currency.
		return nil, 1.0
	}

	// Dollar-pegged tokens paying in dollars need no quote.
	if method.Type.IsStablecoin() && currency == "USD" {
		return nil, 1.0
	}

	if market == nil || symbol == "" {
		return nil, fallbackConfidence
	}

	if rate, ok := market.RateFor(symbol, currency); ok {
		r := rate.Rate
		return &r, rate.Confidence
	}
	return nil, fallbackConfidence
}
