// Package scoring combines cost, preference, availability, stablecoin
// affinity, and network congestion into one weighted total per payment
// method. Weights are configurable per method type and mutable at runtime;
// every sub-score lands in [0,1] and the weighted total is clamped there.
package scoring

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/logger"
	"github.com/vitwit/payrank/preference"
	"github.com/vitwit/payrank/types"
)

// Context carries the request-scoped inputs a scoring pass needs.
type Context struct {
	ChainID     types.ChainID
	Amount      decimal.Decimal
	Market      *types.MarketConditions
	Preferences *types.UserPreferences

	// Balances is keyed by method ID. A missing entry means the balance is
	// unknown and treated as sufficient.
	Balances map[string]decimal.Decimal
}

// ScoringService computes per-method scoring components.
type ScoringService struct {
	mu              sync.RWMutex
	weights         map[types.MethodType]types.ScoringWeights
	stablecoinBonus float64

	learner *preference.Learner
	logger  logger.Logger
}

// NewScoringService creates a scorer with the given weight sets. The
// learner supplies preference sub-scores; nil gets a default in-memory one.
func NewScoringService(cfg *types.Config, learner *preference.Learner, log logger.Logger) *ScoringService {
	if cfg == nil {
		cfg = types.DefaultConfig()
	}
	if learner == nil {
		learner = preference.NewLearner(nil)
	}
	if log == nil {
		log = logger.NoopLogger{}
	}

	weights := make(map[types.MethodType]types.ScoringWeights, len(cfg.Weights))
	for t, w := range cfg.Weights {
		weights[t] = w
	}

	return &ScoringService{
		weights:         weights,
		stablecoinBonus: cfg.StablecoinBonus,
		learner:         learner,
		logger:          log,
	}
}

// UpdateWeights replaces the weight sets for the given method types.
// Unmentioned types keep their current weights.
func (s *ScoringService) UpdateWeights(updates map[types.MethodType]types.ScoringWeights) error {
	for t, w := range updates {
		if err := w.Validate(); err != nil {
			return types.PrioritizationError{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("weights for %s: %v", t, err),
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for t, w := range updates {
		s.weights[t] = w
	}
	return nil
}

// Weights returns a copy of the active weight sets.
func (s *ScoringService) Weights() map[types.MethodType]types.ScoringWeights {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.MethodType]types.ScoringWeights, len(s.weights))
	for t, w := range s.weights {
		out[t] = w
	}
	return out
}

func (s *ScoringService) weightsFor(t types.MethodType) types.ScoringWeights {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.weights[t]; ok {
		return w
	}
	if w, ok := types.DefaultWeights()[t]; ok {
		return w
	}
	return types.ScoringWeights{Cost: 0.5, Preference: 0, Availability: 0.5, Network: 0}
}

// Score produces the full component breakdown for one method.
func (s *ScoringService) Score(method *types.PaymentMethod, sctx *Context, estimate *types.CostEstimate) (*types.ScoringComponents, error) {
	if method == nil || sctx == nil || estimate == nil {
		return nil, types.PrioritizationError{
			Code:    types.ErrScoringFailed,
			Message: "scoring requires a method, context, and estimate",
		}
	}

	components := &types.ScoringComponents{
		CostScore:       CostScore(estimate, sctx.Amount),
		PreferenceScore: s.learner.Score(method.Type, sctx.Preferences),
		NetworkScore:    s.networkScore(method, sctx),
	}
	availability, _ := s.Availability(method, sctx)
	components.AvailabilityScore = availability

	if method.Type.IsStablecoin() {
		components.StablecoinBonus = s.stablecoinBonus
	}

	w := s.weightsFor(method.Type)
	if !w.Balanced() {
		s.logger.Warn("scoring weights do not sum to 1", map[string]any{
			"type": method.Type.String(),
			"sum":  w.Sum(),
		})
	}

	total := w.Cost*components.CostScore +
		w.Preference*components.PreferenceScore +
		w.Availability*components.AvailabilityScore +
		w.Network*components.NetworkScore +
		components.StablecoinBonus
	components.TotalScore = clamp01(total)

	return components, nil
}

// CostScore is a step function of the fee overhead relative to the
// transaction amount. Zero-amount transactions score zero rather than
// dividing.
func CostScore(estimate *types.CostEstimate, amount decimal.Decimal) float64 {
	if amount.IsZero() || amount.IsNegative() {
		return 0
	}

	ratio := estimate.FeeRatio(amount)

	switch {
	case ratio.LessThanOrEqual(decimal.NewFromFloat(0.01)):
		return 1.0
	case ratio.LessThanOrEqual(decimal.NewFromFloat(0.02)):
		return 0.9
	case ratio.LessThanOrEqual(decimal.NewFromFloat(0.05)):
		return 0.7
	case ratio.LessThanOrEqual(decimal.NewFromFloat(0.10)):
		return 0.5
	case ratio.LessThanOrEqual(decimal.NewFromFloat(0.20)):
		return 0.3
	default:
		return 0.1
	}
}

// Availability classifies whether a method can complete this purchase and
// returns the matching sub-score: unsupported 0, underfunded 0.2, else 1.
func (s *ScoringService) Availability(method *types.PaymentMethod, sctx *Context) (float64, types.AvailabilityStatus) {
	if !method.Enabled {
		return 0, types.AvailabilityUnsupported
	}

	chainBound := method.Type.UsesChainGas() || method.Type == types.MethodX402
	if chainBound {
		if !method.SupportsChain(sctx.ChainID) {
			return 0, types.AvailabilityUnsupported
		}
		if sctx.Market != nil && !sctx.Market.AvailableOn(sctx.ChainID) {
			return 0, types.AvailabilityUnsupported
		}
	}

	if balance, ok := sctx.Balances[method.ID]; ok {
		if balance.LessThan(sctx.Amount) {
			return 0.2, types.AvailabilityInsufficientBalance
		}
	}

	return 1.0, types.AvailabilityAvailable
}

// Congestion tiers for the network sub-score.
var congestionScore = map[types.CongestionLevel]float64{
	types.CongestionLow:    1.0,
	types.CongestionMedium: 0.6,
	types.CongestionHigh:   0.2,
}

// networkScore rates how well the active chain serves this method right
// now. Methods without a chain dependency always score 1.
func (s *ScoringService) networkScore(method *types.PaymentMethod, sctx *Context) float64 {
	if !method.Type.UsesChainGas() {
		return 1.0
	}

	if sctx.Market == nil {
		return 0.5
	}
	conditions, ok := sctx.Market.ConditionsFor(sctx.ChainID)
	if !ok {
		return 0.5
	}

	score, ok := congestionScore[conditions.CongestionLevel]
	if !ok {
		score = 0.5
	}

	// Fast chains absorb congestion better.
	if sctx.ChainID.IsLayer2() {
		score = clamp01(score + 0.1)
	}

	return score
}

// Validate hard-fails on sub-scores outside [0,1] and warns (without
// failing) when a method type's weights do not sum to 1.
func (s *ScoringService) Validate(method *types.PaymentMethod, components *types.ScoringComponents) error {
	checks := map[string]float64{
		"costScore":         components.CostScore,
		"preferenceScore":   components.PreferenceScore,
		"availabilityScore": components.AvailabilityScore,
		"networkScore":      components.NetworkScore,
		"totalScore":        components.TotalScore,
	}

	for name, v := range checks {
		if v < 0 || v > 1 {
			return types.PrioritizationError{
				Code:    types.ErrScoringFailed,
				Message: fmt.Sprintf("%s for %s out of range: %v", name, method.ID, v),
			}
		}
	}

	if w := s.weightsFor(method.Type); !w.Balanced() {
		s.logger.Warn("configured weights drift from 1", map[string]any{
			"type": method.Type.String(),
			"sum":  w.Sum(),
		})
	}

	return nil
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
