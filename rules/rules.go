// Package rules applies the stablecoin preference rules to an already-scored
// method list. Rules are declarative condition/effect pairs evaluated in fixed
// priority order; both halves are pure functions, so the rule set can be
// inspected, reordered, and tested in isolation. The engine folds effects into
// the methods and runs the fallback chain when the primary stablecoin is not
// available.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/logger"
	"github.com/vitwit/payrank/metrics"
	"github.com/vitwit/payrank/types"
)

// Score deltas applied by the default rule set.
const (
	primaryStablecoinBonus = 0.15
	lowGasPrimaryBonus     = 0.10
	stableOverVolatile     = 0.10
	networkOptimizedBonus  = 0.05
	fallbackBoost          = 0.20
)

// lowGasThresholdUSD gates the low-gas primary bonus.
var lowGasThresholdUSD = decimal.NewFromInt(5)

// Context carries the request-scoped data rules may condition on.
type Context struct {
	ChainID     types.ChainID
	Market      *types.MarketConditions
	Preferences *types.UserPreferences
}

func (c *Context) prefersStablecoins() bool {
	if c == nil || c.Preferences == nil {
		return true
	}
	return c.Preferences.PreferStablecoins
}

func (c *Context) congestionLow(chainID types.ChainID) bool {
	if c == nil || c.Market == nil {
		return false
	}
	conditions, ok := c.Market.ConditionsFor(chainID)
	return ok && conditions.CongestionLevel == types.CongestionLow
}

// Effect is the outcome of one rule matching one method. ScoreDelta is added
// to the method's total score, clamped to [0,1] after each rule.
type Effect struct {
	ScoreDelta float64
	Reason     string
	Benefit    string
	Warning    string
}

// Rule is one entry of the ordered rule list. Condition and Effect must be
// pure: they read the method and context and never mutate either.
type Rule struct {
	Name          string
	Priority      int
	Condition     func(m *types.PrioritizedPaymentMethod, rctx *Context) bool
	Effect        func(m *types.PrioritizedPaymentMethod, rctx *Context) Effect
	FallbackChain []types.MethodType
}

// Result reports what a rule pass did: the re-scored stablecoin subset, the
// names of the rules that matched at least one method, and whether the
// fallback chain fired.
type Result struct {
	Stablecoins       []*types.PrioritizedPaymentMethod `json:"stablecoins"`
	AppliedRules      []string                          `json:"appliedRules"`
	FallbackActivated bool                              `json:"fallbackActivated"`
}

// DefaultRules returns the built-in rule set, already ordered by priority:
// USDC first, a low-gas bonus on top, stablecoins over volatile assets, and a
// congestion bonus for stablecoins on quiet chains. Bonus rules only lift
// methods that are actually available; the volatility penalty applies
// regardless.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "primary-stablecoin-first",
			Priority: 1,
			Condition: func(m *types.PrioritizedPaymentMethod, _ *Context) bool {
				return m.Method.Type == types.MethodUSDC && m.Available()
			},
			Effect: func(_ *types.PrioritizedPaymentMethod, _ *Context) Effect {
				return Effect{
					ScoreDelta: primaryStablecoinBonus,
					Reason:     "USDC is the preferred primary stablecoin",
					Benefit:    "USD-pegged settlement with the widest acceptance",
				}
			},
			FallbackChain: []types.MethodType{types.MethodUSDT, types.MethodCard},
		},
		{
			Name:     "low-gas-primary-bonus",
			Priority: 2,
			Condition: func(m *types.PrioritizedPaymentMethod, _ *Context) bool {
				return m.Method.Type == types.MethodUSDC &&
					m.Available() &&
					m.CostEstimate != nil &&
					m.CostEstimate.GasFee.LessThan(lowGasThresholdUSD)
			},
			Effect: func(m *types.PrioritizedPaymentMethod, _ *Context) Effect {
				return Effect{
					ScoreDelta: lowGasPrimaryBonus,
					Benefit: fmt.Sprintf("gas currently under $%s on %s",
						lowGasThresholdUSD, m.Method.ChainID.Name()),
				}
			},
		},
		{
			Name:     "stablecoin-over-volatile",
			Priority: 3,
			Condition: func(m *types.PrioritizedPaymentMethod, rctx *Context) bool {
				if !rctx.prefersStablecoins() {
					return false
				}
				if m.Method.Type.IsStablecoin() {
					return m.Available()
				}
				return m.Method.Type == types.MethodNative
			},
			Effect: func(m *types.PrioritizedPaymentMethod, _ *Context) Effect {
				if m.Method.Type.IsStablecoin() {
					return Effect{
						ScoreDelta: stableOverVolatile,
						Benefit:    "price-stable settlement asset",
					}
				}
				return Effect{
					ScoreDelta: -stableOverVolatile,
					Warning:    "native token value may move before settlement",
				}
			},
		},
		{
			Name:     "network-optimized-stablecoin",
			Priority: 4,
			Condition: func(m *types.PrioritizedPaymentMethod, rctx *Context) bool {
				return m.Method.Type.IsStablecoin() &&
					m.Available() &&
					rctx.congestionLow(m.Method.ChainID)
			},
			Effect: func(m *types.PrioritizedPaymentMethod, _ *Context) Effect {
				return Effect{
					ScoreDelta: networkOptimizedBonus,
					Benefit:    fmt.Sprintf("low congestion on %s", m.Method.ChainID.Name()),
				}
			},
		},
	}
}

// Engine evaluates a rule list against scored methods.
type Engine struct {
	rules   []Rule
	logger  logger.Logger
	metrics metrics.Recorder
}

// NewEngine builds an engine over the default rule set.
func NewEngine(log logger.Logger, rec metrics.Recorder) *Engine {
	return NewEngineWithRules(DefaultRules(), log, rec)
}

// NewEngineWithRules builds an engine over a caller-supplied rule set. Rules
// are evaluated in ascending priority order regardless of slice order.
func NewEngineWithRules(rs []Rule, log logger.Logger, rec metrics.Recorder) *Engine {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	ordered := make([]Rule, len(rs))
	copy(ordered, rs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return &Engine{rules: ordered, logger: log, metrics: rec}
}

// Rules returns a copy of the rule list in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Apply runs every rule against every method, folding score deltas, reasons,
// benefits, and warnings into the methods in place. After the rule pass it
// activates the fallback chain if no primary stablecoin instance is available.
// The final re-sort is the caller's job; Apply only adjusts scores.
func (e *Engine) Apply(methods []*types.PrioritizedPaymentMethod, rctx *Context) *Result {
	result := &Result{}
	var fallbackChain []types.MethodType

	for _, rule := range e.rules {
		fired := false
		for _, m := range methods {
			if m == nil || m.Method == nil || !rule.Condition(m, rctx) {
				continue
			}
			effect := rule.Effect(m, rctx)
			m.TotalScore = clamp01(m.TotalScore + effect.ScoreDelta)
			if effect.Reason != "" && m.RecommendationReason == "" {
				m.RecommendationReason = effect.Reason
			}
			if effect.Benefit != "" {
				m.Benefits = append(m.Benefits, effect.Benefit)
			}
			if effect.Warning != "" {
				m.Warnings = append(m.Warnings, effect.Warning)
			}
			fired = true
		}
		if fired {
			result.AppliedRules = append(result.AppliedRules, rule.Name)
			e.metrics.IncCounter(metrics.EventRuleApplied, nil)
			if rule.FallbackChain != nil {
				fallbackChain = rule.FallbackChain
			}
		}
	}

	if fallbackChain == nil {
		fallbackChain = []types.MethodType{types.MethodUSDT, types.MethodCard}
	}
	if !anyAvailable(methods, types.MethodUSDC) {
		result.FallbackActivated = e.activateFallback(methods, fallbackChain)
	}

	for _, m := range methods {
		if m != nil && m.Method != nil && m.Method.Type.IsStablecoin() {
			result.Stablecoins = append(result.Stablecoins, m)
		}
	}
	return result
}

// activateFallback boosts the first family in the chain that has an available
// instance. Returns false when nothing in the chain can take over.
func (e *Engine) activateFallback(methods []*types.PrioritizedPaymentMethod, chain []types.MethodType) bool {
	for _, family := range chain {
		if !anyAvailable(methods, family) {
			continue
		}
		for _, m := range methods {
			if m.Method == nil || m.Method.Type != family || !m.Available() {
				continue
			}
			m.TotalScore = clamp01(m.TotalScore + fallbackBoost)
			m.Benefits = append(m.Benefits, fallbackBenefit(family))
		}
		e.logger.Info("stablecoin fallback activated", map[string]any{
			"family": string(family),
		})
		e.metrics.IncCounter(metrics.EventFallbackActivated, nil)
		return true
	}
	return false
}

func fallbackBenefit(family types.MethodType) string {
	if family == types.MethodCard {
		return "fallback activated: card payment substituted for stablecoins"
	}
	return fmt.Sprintf("fallback activated: %s substituted for USDC", strings.ToUpper(family.String()))
}

func anyAvailable(methods []*types.PrioritizedPaymentMethod, t types.MethodType) bool {
	for _, m := range methods {
		if m != nil && m.Method != nil && m.Method.Type == t && m.Available() {
			return true
		}
	}
	return false
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
