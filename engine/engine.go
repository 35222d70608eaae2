// Package engine implements the dynamic reprioritization pipeline: check the
// ranking cache, fan out scoring across the candidate methods, apply
// threshold adjustments, strictly re-sort, and store the result keyed by
// request fingerprint and market hash.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/vitwit/payrank/estimator"
	"github.com/vitwit/payrank/logger"
	"github.com/vitwit/payrank/metrics"
	"github.com/vitwit/payrank/preference"
	"github.com/vitwit/payrank/scoring"
	"github.com/vitwit/payrank/types"
)

// Ranking is one finished reprioritization pass. Methods are sorted by total
// score descending with priorities 1..N; stablecoin rules have not been
// applied yet.
type Ranking struct {
	Methods       []*types.PrioritizedPaymentMethod
	Adjustments   []types.PriorityAdjustment
	CacheHit      bool
	MarketHash    string
	DriftDetected bool
}

// Reprioritizer runs scoring passes and owns the prioritization cache.
type Reprioritizer struct {
	scorer    *scoring.ScoringService
	estimator *estimator.CostEstimator
	learner   *preference.Learner
	cache     Cache
	cacheTTL  time.Duration
	clock     clock.Clock
	logger    logger.Logger
	metrics   metrics.Recorder
}

// NewReprioritizer wires the engine with a default LRU cache and wall clock.
func NewReprioritizer(cfg *types.Config, scorer *scoring.ScoringService, est *estimator.CostEstimator, learner *preference.Learner) *Reprioritizer {
	return NewReprioritizerWith(cfg, scorer, est, learner, nil, nil, nil, nil)
}

// NewReprioritizerWith accepts explicit cache, clock, logger, and metrics;
// nil arguments fall back to defaults.
func NewReprioritizerWith(
	cfg *types.Config,
	scorer *scoring.ScoringService,
	est *estimator.CostEstimator,
	learner *preference.Learner,
	cache Cache,
	clk clock.Clock,
	log logger.Logger,
	rec metrics.Recorder,
) *Reprioritizer {
	if cfg == nil {
		cfg = types.DefaultConfig()
	}
	if cache == nil {
		cache = NewLRUCache(cfg.CacheSize, cfg.CacheTTL.Std())
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Reprioritizer{
		scorer:    scorer,
		estimator: est,
		learner:   learner,
		cache:     cache,
		cacheTTL:  cfg.CacheTTL.Std(),
		clock:     clk,
		logger:    log,
		metrics:   rec,
	}
}

// Prioritize runs one ranking pass. A cache entry is reused only while its
// TTL holds and the market hash is unchanged; a stale or drifted entry is
// evicted and recomputed. Cached methods are cloned on the way out so callers
// never mutate stored state.
func (r *Reprioritizer) Prioritize(ctx context.Context, req *types.PrioritizationRequest) (*Ranking, error) {
	if req == nil || len(req.Methods) == 0 {
		return nil, types.PrioritizationError{
			Code:    types.ErrInvalidRequest,
			Message: "no candidate methods to rank",
		}
	}

	key := CacheKey(req)
	hash := MarketHash(&req.Market)
	chainLabel := map[string]string{"chain": req.ChainID.String()}
	drift := false

	if entry, ok := r.cache.Get(key); ok {
		if !entry.Expired(r.clock.Now()) && entry.MarketHash == hash {
			r.metrics.IncCounter(metrics.EventCacheHit, chainLabel)
			return &Ranking{
				Methods:    cloneMethods(entry.Methods),
				CacheHit:   true,
				MarketHash: hash,
			}, nil
		}
		drift = r.hasSignificantChange(entry.Methods, &req.Market)
		if drift {
			r.metrics.IncCounter(metrics.EventMarketDrift, chainLabel)
			r.logger.Debug("market drift invalidated cached ranking", map[string]any{
				"key": key,
			})
		}
		r.cache.Remove(key)
	}
	r.metrics.IncCounter(metrics.EventCacheMiss, chainLabel)

	prefs := req.Preferences
	if prefs == nil {
		p, err := r.learner.Preferences(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		prefs = p
	}

	sctx := &scoring.Context{
		ChainID:     req.ChainID,
		Amount:      req.Amount,
		Market:      &req.Market,
		Preferences: prefs,
		Balances:    req.Balances,
	}

	ranked := make([]*types.PrioritizedPaymentMethod, len(req.Methods))
	g, gctx := errgroup.WithContext(ctx)
	for i, method := range req.Methods {
		g.Go(func() error {
			conditions, _ := req.Market.ConditionsFor(methodChain(method, req.ChainID))
			est := r.estimator.Estimate(gctx, method, req.Amount, req.Currency, conditions, &req.Market)
			components, err := r.scorer.Score(method, sctx, est)
			if err != nil {
				return err
			}
			_, status := r.scorer.Availability(method, sctx)
			ranked[i] = &types.PrioritizedPaymentMethod{
				Method:              method,
				CostEstimate:        est,
				AvailabilityStatus:  status,
				UserPreferenceScore: components.PreferenceScore,
				TotalScore:          components.TotalScore,
				Components:          components,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	SortByScore(ranked)
	pending := r.applyAdjustments(ranked, req)
	SortByScore(ranked)

	adjustments := make([]types.PriorityAdjustment, 0, len(pending))
	for _, p := range pending {
		p.record.NewPriority = p.method.Priority
		adjustments = append(adjustments, p.record)
	}

	r.cache.Set(key, &types.CachedRanking{
		Key:        key,
		Methods:    cloneMethods(ranked),
		Timestamp:  r.clock.Now(),
		MarketHash: hash,
		TTL:        r.cacheTTL,
	})

	return &Ranking{
		Methods:       ranked,
		Adjustments:   adjustments,
		MarketHash:    hash,
		DriftDetected: drift,
	}, nil
}

// UpdatePrioritization re-ranks an existing result against fresh market
// conditions without re-estimating costs: market-driven adjustments are
// applied on top of the current scores and the list is strictly re-sorted.
// The input slice is not modified.
func (r *Reprioritizer) UpdatePrioritization(currentMethods []*types.PrioritizedPaymentMethod, market *types.MarketConditions) []*types.PrioritizedPaymentMethod {
	updated := cloneMethods(currentMethods)
	if len(updated) == 0 || market == nil {
		return updated
	}

	if r.hasSignificantChange(currentMethods, market) {
		r.metrics.IncCounter(metrics.EventMarketDrift, nil)
		r.logger.Info("re-ranking on significant market change", map[string]any{
			"methods": len(updated),
		})
	}

	for _, m := range updated {
		if m == nil || m.Method == nil {
			continue
		}
		conditions, ok := market.ConditionsFor(m.Method.ChainID)
		if !ok {
			continue
		}
		if conditions.CongestionLevel == types.CongestionHigh && m.Method.Type != types.MethodCard {
			m.TotalScore = clamp01(m.TotalScore - congestionPenalty)
		}
	}

	SortByScore(updated)
	return updated
}

// Purge drops every cached ranking.
func (r *Reprioritizer) Purge() {
	r.cache.Purge()
}

// hasSignificantChange reports market drift against a previous ranking: any
// tracked chain at high congestion, or an implied gas move above 10% versus
// the gas fee embedded in a method's estimate. Telemetry only; it never
// bypasses the cache checks.
func (r *Reprioritizer) hasSignificantChange(previous []*types.PrioritizedPaymentMethod, market *types.MarketConditions) bool {
	if market == nil {
		return false
	}
	for _, c := range market.GasConditions {
		if c.CongestionLevel == types.CongestionHigh {
			return true
		}
	}
	for _, m := range previous {
		if m == nil || m.Method == nil || m.CostEstimate == nil || !m.Method.Type.UsesChainGas() {
			continue
		}
		if m.CostEstimate.GasFee.IsZero() {
			continue
		}
		conditions, ok := market.ConditionsFor(m.Method.ChainID)
		if !ok {
			continue
		}
		implied := estimator.ImpliedGasFee(m.Method.Type, conditions)
		delta := implied.Sub(m.CostEstimate.GasFee).Abs().Div(m.CostEstimate.GasFee)
		if delta.GreaterThan(gasDriftRatio) {
			return true
		}
	}
	return false
}

// SortByScore orders methods by total score descending and reassigns
// priorities 1..N. Ties break by method id so repeated passes are
// deterministic.
func SortByScore(methods []*types.PrioritizedPaymentMethod) {
	sort.SliceStable(methods, func(i, j int) bool {
		if methods[i].TotalScore != methods[j].TotalScore {
			return methods[i].TotalScore > methods[j].TotalScore
		}
		return methods[i].Method.ID < methods[j].Method.ID
	})
	for i, m := range methods {
		m.Priority = i + 1
	}
}

// methodChain resolves the chain a method settles on, falling back to the
// request chain for catalog entries without one.
func methodChain(m *types.PaymentMethod, fallback types.ChainID) types.ChainID {
	if m != nil && m.ChainID != 0 {
		return m.ChainID
	}
	return fallback
}

// cloneMethods deep-copies rankings so cache entries never alias live
// results. Catalog entries and finished estimates are immutable and shared.
func cloneMethods(methods []*types.PrioritizedPaymentMethod) []*types.PrioritizedPaymentMethod {
	out := make([]*types.PrioritizedPaymentMethod, len(methods))
	for i, m := range methods {
		if m == nil {
			continue
		}
		c := *m
		if m.Components != nil {
			cc := *m.Components
			c.Components = &cc
		}
		c.Warnings = append([]string(nil), m.Warnings...)
		c.Benefits = append([]string(nil), m.Benefits...)
		out[i] = &c
	}
	return out
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
