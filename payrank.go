// Package payrank ranks a buyer's payment methods for a purchase across
// chains and rails. Each candidate is scored on cost, learned user
// preference, availability, and network health; stablecoin preference rules
// and market-driven adjustments reshape the ranking before it is returned
// with a default method, cost estimates, and human-readable notes. Rankings
// are cached per market snapshot and recomputed when conditions move.
package payrank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/engine"
	"github.com/vitwit/payrank/estimator"
	"github.com/vitwit/payrank/logger"
	"github.com/vitwit/payrank/market"
	"github.com/vitwit/payrank/metrics"
	"github.com/vitwit/payrank/preference"
	"github.com/vitwit/payrank/providers"
	"github.com/vitwit/payrank/rules"
	"github.com/vitwit/payrank/scoring"
	"github.com/vitwit/payrank/types"
)

// Service is the prioritization façade. It wires the scorer, cost estimator,
// preference learner, rule engine, and ranking cache together behind one
// entry point. Construct it with New or NewWithDefaults; it is safe for
// concurrent use.
type Service struct {
	config *types.Config

	logger  logger.Logger
	metrics metrics.Recorder
	clock   clock.Clock

	store    preference.Store
	cache    engine.Cache
	gas      providers.GasPriceProvider
	rates    providers.ExchangeRateProvider
	balances providers.BalanceProvider

	scorer    *scoring.ScoringService
	estimator *estimator.CostEstimator
	learner   *preference.Learner
	rules     *rules.Engine
	ranker    *engine.Reprioritizer

	mu         sync.RWMutex
	thresholds types.GasFeeThresholds
}

// New creates a Service with the given configuration. Absent config fields
// take built-in defaults; an invalid configuration is logged and replaced
// with the defaults rather than failing construction.
func New(config *types.Config, opts ...Option) *Service {
	s := &Service{
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = normalizeConfig(config, s.logger)
	s.thresholds = s.config.GasThresholds

	if s.store == nil {
		s.store = preference.NewInMemoryStore()
	}
	s.learner = preference.NewLearnerWith(s.store, s.clock, s.logger)
	s.scorer = scoring.NewScoringService(s.config, s.learner, s.logger)
	s.estimator = estimator.NewCostEstimatorWith(s.config.DefaultTimeout.Std(), s.logger, s.metrics)
	s.rules = rules.NewEngine(s.logger, s.metrics)
	s.ranker = engine.NewReprioritizerWith(s.config, s.scorer, s.estimator, s.learner, s.cache, s.clock, s.logger, s.metrics)

	return s
}

// NewWithDefaults creates a Service with the default configuration.
func NewWithDefaults(opts ...Option) *Service {
	return New(types.DefaultConfig(), opts...)
}

// normalizeConfig fills absent fields from the defaults and falls back to
// the full default set when the result still fails validation.
func normalizeConfig(config *types.Config, log logger.Logger) *types.Config {
	defaults := types.DefaultConfig()
	if config == nil {
		return defaults
	}

	cfg := *config
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaults.CacheSize
	}
	if cfg.Weights == nil {
		cfg.Weights = defaults.Weights
	}
	if cfg.GasThresholds.Validate() != nil {
		cfg.GasThresholds = defaults.GasThresholds
	}

	if err := cfg.Validate(); err != nil {
		log.Warn("invalid configuration, using defaults", map[string]any{
			"error": err.Error(),
		})
		return defaults
	}
	return &cfg
}

// PrioritizePaymentMethods ranks the request's candidate methods for the
// purchase it describes. The returned result carries the full ordering, the
// default method (nil when nothing is available), recommendations, and
// warnings. Internal faults surface as a single generic error with no
// partial result.
func (s *Service) PrioritizePaymentMethods(ctx context.Context, req *types.PrioritizationRequest) (*types.PrioritizationResult, error) {
	started := s.clock.Now()

	if req == nil {
		return nil, types.PrioritizationError{
			Code:    types.ErrInvalidRequest,
			Message: "request is required",
		}
	}
	if err := req.Validate(); err != nil {
		return nil, types.PrioritizationError{
			Code:    types.ErrInvalidRequest,
			Message: err.Error(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.DefaultTimeout.Std())
	defer cancel()

	// Work on a shallow copy so provider hydration never mutates the
	// caller's request.
	work := *req
	work.Market = s.marketFor(ctx, req)
	s.fillBalances(ctx, &work)

	prefs := work.Preferences
	if prefs == nil {
		p, err := s.learner.Preferences(ctx, work.UserID)
		if err != nil {
			return nil, s.internalFailure("preference lookup failed", err)
		}
		prefs = p
		work.Preferences = prefs
	}

	ranking, err := s.ranker.Prioritize(ctx, &work)
	if err != nil {
		var perr types.PrioritizationError
		if errors.As(err, &perr) && perr.Code == types.ErrInvalidRequest {
			return nil, err
		}
		return nil, s.internalFailure("ranking failed", err)
	}

	ruleResult := s.rules.Apply(ranking.Methods, &rules.Context{
		ChainID:     work.ChainID,
		Market:      &work.Market,
		Preferences: prefs,
	})
	engine.SortByScore(ranking.Methods)

	result := &types.PrioritizationResult{
		PrioritizedMethods: ranking.Methods,
		DefaultMethod:      defaultMethod(ranking.Methods),
		Adjustments:        ranking.Adjustments,
	}
	result.Recommendations = s.recommendations(&work, ranking.Methods, result.DefaultMethod, ruleResult)
	result.Warnings = s.warnings(ranking, &work)
	if result.DefaultMethod == nil {
		result.Warnings = append(result.Warnings, "no payment method is currently available")
	}

	duration := s.clock.Since(started)
	result.Metadata = types.ResultMetadata{
		RequestID:   uuid.NewString(),
		GeneratedAt: s.clock.Now(),
		CacheHit:    ranking.CacheHit,
		MarketHash:  ranking.MarketHash,
		Duration:    duration,
	}

	s.metrics.ObserveLatency(metrics.OpPrioritize, duration, map[string]string{"chain": work.ChainID.String()})
	s.logger.Debug("prioritization complete", map[string]any{
		"user":     work.UserID,
		"methods":  len(ranking.Methods),
		"cacheHit": ranking.CacheHit,
	})
	return result, nil
}

// UpdatePrioritization re-ranks an existing result against fresh market
// conditions without a full scoring pass. The input slice is not modified.
func (s *Service) UpdatePrioritization(methods []*types.PrioritizedPaymentMethod, market *types.MarketConditions) []*types.PrioritizedPaymentMethod {
	return s.ranker.UpdatePrioritization(methods, market)
}

// EstimateCosts compares the full cost of each method under the given
// market without ranking them.
func (s *Service) EstimateCosts(ctx context.Context, methods []*types.PaymentMethod, amount decimal.Decimal, currency string, market *types.MarketConditions) []types.CostComparison {
	return s.estimator.Compare(ctx, methods, amount, currency, market)
}

// RecordTransactionOutcome feeds one completed (or failed) transaction into
// the preference learner so future rankings reflect it.
func (s *Service) RecordTransactionOutcome(ctx context.Context, userID string, outcome types.TransactionOutcome) error {
	return s.learner.RecordOutcome(ctx, userID, outcome)
}

// Preferences returns the learned profile for a user, or the neutral
// defaults when the user has no history.
func (s *Service) Preferences(ctx context.Context, userID string) (*types.UserPreferences, error) {
	return s.learner.Preferences(ctx, userID)
}

// SetWeights replaces scoring weights for the given method types. Cached
// rankings are dropped so subsequent requests score with the new weights.
func (s *Service) SetWeights(updates map[types.MethodType]types.ScoringWeights) error {
	if err := s.scorer.UpdateWeights(updates); err != nil {
		return err
	}
	s.ranker.Purge()
	return nil
}

// Weights returns a copy of the active scoring weights.
func (s *Service) Weights() map[types.MethodType]types.ScoringWeights {
	return s.scorer.Weights()
}

// SetGasThresholds replaces the USD gas bounds used for result warnings.
func (s *Service) SetGasThresholds(t types.GasFeeThresholds) error {
	if err := t.Validate(); err != nil {
		return types.PrioritizationError{
			Code:    types.ErrConfigError,
			Message: err.Error(),
		}
	}
	s.mu.Lock()
	s.thresholds = t
	s.mu.Unlock()
	return nil
}

// GasThresholds returns the active USD gas bounds.
func (s *Service) GasThresholds() types.GasFeeThresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thresholds
}

// MarketMonitor builds a background monitor over the service's providers
// for the given chains. The caller owns its lifecycle. Returns nil when the
// service has no conditions provider.
func (s *Service) MarketMonitor(chains []types.ChainID, pairs []market.RatePair, interval time.Duration) *market.Monitor {
	if s.gas == nil {
		return nil
	}
	return market.NewMonitorWith(s.gas, s.rates, chains, pairs, interval, s.clock, s.logger, s.metrics)
}

// Close releases any provider connections the service holds.
func (s *Service) Close() {
	for _, p := range []any{s.gas, s.rates, s.balances} {
		if c, ok := p.(providers.Closer); ok {
			c.Close()
		}
	}
}

// marketFor returns the request's market snapshot, assembling one from the
// configured providers when the request carries none.
func (s *Service) marketFor(ctx context.Context, req *types.PrioritizationRequest) types.MarketConditions {
	if len(req.Market.GasConditions) > 0 || len(req.Market.ExchangeRates) > 0 || s.gas == nil {
		return req.Market
	}

	assembled := types.MarketConditions{LastUpdated: s.clock.Now()}
	for _, chainID := range requestChains(req) {
		cond, err := s.gas.FetchGasPrice(ctx, chainID)
		if err != nil {
			s.logger.Warn("gas fetch failed", map[string]any{
				"chain": chainID.String(),
				"error": err.Error(),
			})
			continue
		}
		assembled.GasConditions = append(assembled.GasConditions, *cond)
	}
	if s.rates != nil {
		for _, pair := range requestRatePairs(req) {
			rate, err := s.rates.FetchRate(ctx, pair.From, pair.To)
			if err != nil {
				s.logger.Warn("rate fetch failed", map[string]any{
					"from":  pair.From,
					"to":    pair.To,
					"error": err.Error(),
				})
				continue
			}
			assembled.ExchangeRates = append(assembled.ExchangeRates, *rate)
		}
	}
	return assembled
}

// fillBalances hydrates missing balance data so availability scoring can
// flag underfunded methods. Fetch failures leave the entry absent, which
// scoring treats as sufficient.
func (s *Service) fillBalances(ctx context.Context, req *types.PrioritizationRequest) {
	if s.balances == nil || req.UserAddress == "" || req.Balances != nil {
		return
	}

	balances := make(map[string]decimal.Decimal, len(req.Methods))
	for _, m := range req.Methods {
		if m == nil || !m.Type.UsesChainGas() {
			continue
		}
		bal, err := s.balances.FetchBalance(ctx, req.UserAddress, m)
		if err != nil {
			s.logger.Warn("balance fetch failed", map[string]any{
				"method": m.ID,
				"error":  err.Error(),
			})
			continue
		}
		balances[m.ID] = bal
	}
	if len(balances) > 0 {
		req.Balances = balances
	}
}

func (s *Service) internalFailure(msg string, err error) error {
	s.logger.Error(msg, map[string]any{"error": err.Error()})
	return types.PrioritizationError{
		Code:    types.ErrPrioritizationFailed,
		Message: "prioritization failed",
	}
}

// defaultMethod picks the highest-ranked method that can actually complete
// the purchase.
func defaultMethod(methods []*types.PrioritizedPaymentMethod) *types.PrioritizedPaymentMethod {
	for _, m := range methods {
		if m.Available() {
			return m
		}
	}
	return nil
}

// recommendations derives the human-readable notes for a result: why the
// default method leads, what switching would save, and whether a fallback
// was promoted.
func (s *Service) recommendations(req *types.PrioritizationRequest, methods []*types.PrioritizedPaymentMethod, top *types.PrioritizedPaymentMethod, ruleResult *rules.Result) []string {
	var recs []string

	if top != nil && top.RecommendationReason != "" {
		recs = append(recs, fmt.Sprintf("%s: %s", methodLabel(top), top.RecommendationReason))
	}

	if top != nil && top.CostEstimate != nil {
		cheapest := top
		for _, m := range methods {
			if !m.Available() || m.CostEstimate == nil {
				continue
			}
			if m.CostEstimate.TotalCost.LessThan(cheapest.CostEstimate.TotalCost) {
				cheapest = m
			}
		}
		if cheapest != top {
			savings := top.CostEstimate.TotalCost.Sub(cheapest.CostEstimate.TotalCost)
			if savings.IsPositive() {
				recs = append(recs, fmt.Sprintf("switching from %s to %s would save %s %s",
					methodLabel(top), methodLabel(cheapest), savings.StringFixed(2), req.Currency))
			}
		}
	}

	if ruleResult.FallbackActivated {
		recs = append(recs, "preferred stablecoin is unavailable; a fallback method was promoted")
	}
	return recs
}

// warnings derives the result-level cautions: chains whose gas fees exceed
// the warning threshold and rankings recomputed because the market moved.
func (s *Service) warnings(ranking *engine.Ranking, req *types.PrioritizationRequest) []string {
	var warnings []string

	thresholds := s.GasThresholds()
	highest := map[types.ChainID]decimal.Decimal{}
	for _, m := range ranking.Methods {
		if m.CostEstimate == nil || m.Method == nil || !m.Method.Type.UsesChainGas() {
			continue
		}
		chain := m.Method.ChainID
		if chain == 0 {
			chain = req.ChainID
		}
		if m.CostEstimate.GasFee.GreaterThan(highest[chain]) {
			highest[chain] = m.CostEstimate.GasFee
		}
	}

	chains := make([]types.ChainID, 0, len(highest))
	for chain := range highest {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
	for _, chain := range chains {
		if highest[chain].GreaterThan(thresholds.WarningUSD) {
			warnings = append(warnings, fmt.Sprintf("gas fees are high on %s: %s USD",
				chain.Name(), highest[chain].StringFixed(2)))
		}
	}

	if ranking.DriftDetected {
		warnings = append(warnings, "market conditions shifted; ranking was recomputed")
	}
	return warnings
}

// requestChains lists the distinct chains a request touches, the settlement
// chain first.
func requestChains(req *types.PrioritizationRequest) []types.ChainID {
	seen := map[types.ChainID]bool{req.ChainID: true}
	chains := []types.ChainID{req.ChainID}
	for _, m := range req.Methods {
		if m == nil || m.ChainID == 0 || seen[m.ChainID] {
			continue
		}
		seen[m.ChainID] = true
		chains = append(chains, m.ChainID)
	}
	return chains
}

// requestRatePairs lists the conversion quotes the estimator will look up
// for a request: native tokens always need one, stablecoins only when the
// purchase currency is not USD.
func requestRatePairs(req *types.PrioritizationRequest) []market.RatePair {
	seen := map[string]bool{}
	var pairs []market.RatePair
	add := func(from, to string) {
		if from == "" || to == "" || from == to || seen[from+"/"+to] {
			return
		}
		seen[from+"/"+to] = true
		pairs = append(pairs, market.RatePair{From: from, To: to})
	}

	for _, m := range req.Methods {
		if m == nil {
			continue
		}
		chain := m.ChainID
		if chain == 0 {
			chain = req.ChainID
		}
		switch {
		case m.Type == types.MethodNative:
			add(chain.NativeSymbol(), req.Currency)
		case m.Type.IsStablecoin() && req.Currency != "USD" && m.Token != nil:
			add(m.Token.Symbol, req.Currency)
		}
	}
	return pairs
}

func methodLabel(m *types.PrioritizedPaymentMethod) string {
	if m.Method.Name != "" {
		return m.Method.Name
	}
	return string(m.Method.Type)
}

// Version is the library release tag.
const Version = "1.0.0"

// GetVersion returns library metadata for diagnostics endpoints.
func GetVersion() map[string]interface{} {
	known := types.KnownChains()
	chains := make([]string, 0, len(known))
	for _, c := range known {
		chains = append(chains, c.Name())
	}
	return map[string]interface{}{
		"library_version":  Version,
		"supported_chains": chains,
		"supported_methods": []string{
			string(types.MethodUSDC),
			string(types.MethodUSDT),
			string(types.MethodNative),
			string(types.MethodCard),
			string(types.MethodX402),
		},
	}
}
