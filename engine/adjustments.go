package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/metrics"
	"github.com/vitwit/payrank/types"
)

// Post-scoring threshold adjustments.
const (
	congestionPenalty     = 0.2
	costRatioPenalty      = 0.3
	strongPreferenceBonus = 0.1

	// Preference scores above this mark a strongly favored method.
	strongPreferenceFloor = 0.8
)

// Fees above this share of the transaction amount draw the cost penalty.
var costRatioLimit = decimal.NewFromFloat(0.15)

// Implied gas moves above this ratio count as market drift.
var gasDriftRatio = decimal.NewFromFloat(0.10)

// pendingAdjustment ties an adjustment record to its method so the final
// priority can be filled in after the re-sort.
type pendingAdjustment struct {
	method *types.PrioritizedPaymentMethod
	record types.PriorityAdjustment
}

// applyAdjustments folds the threshold adjustments into the ranked methods'
// scores: a congestion penalty for non-card methods on busy chains, a penalty
// for oversized fees, and a bonus for strongly preferred methods. Priorities
// recorded here are pre-sort; the caller re-sorts and fills the new ones.
func (r *Reprioritizer) applyAdjustments(ranked []*types.PrioritizedPaymentMethod, req *types.PrioritizationRequest) []pendingAdjustment {
	var pending []pendingAdjustment

	apply := func(m *types.PrioritizedPaymentMethod, delta float64, reason string) {
		m.TotalScore = clamp01(m.TotalScore + delta)
		pending = append(pending, pendingAdjustment{
			method: m,
			record: types.PriorityAdjustment{
				MethodType:  m.Method.Type,
				OldPriority: m.Priority,
				ScoreDelta:  delta,
				Reason:      reason,
			},
		})
		r.metrics.IncCounter(metrics.EventAdjustmentApplied, map[string]string{
			"chain": req.ChainID.String(),
		})
	}

	for _, m := range ranked {
		chainID := methodChain(m.Method, req.ChainID)
		if conditions, ok := req.Market.ConditionsFor(chainID); ok &&
			conditions.CongestionLevel == types.CongestionHigh &&
			m.Method.Type != types.MethodCard {
			apply(m, -congestionPenalty, fmt.Sprintf("high congestion on %s", chainID.Name()))
		}

		if m.CostEstimate != nil && m.CostEstimate.FeeRatio(req.Amount).GreaterThan(costRatioLimit) {
			apply(m, -costRatioPenalty, "fees exceed 15% of the transaction amount")
		}

		if m.Components != nil && m.Components.PreferenceScore > strongPreferenceFloor {
			apply(m, strongPreferenceBonus, "frequently chosen by this user")
		}
	}

	return pending
}
