package preference

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/logger"
	"github.com/vitwit/payrank/types"
)

// learningRate is how far one outcome moves a method's score.
const learningRate = 0.1

// decayWindowDays is the unused period after which a score bottoms out.
const decayWindowDays = 30.0

// decayFloor keeps long-unused methods from decaying to nothing.
const decayFloor = 0.1

// familyWindow is how many recent successful outcomes the family-preference
// rederivation looks at.
const familyWindow = 5

// familyMinSamples is the minimum successful outcomes before rederiving.
const familyMinSamples = 3

// familyShareThreshold is the share one family must exceed to be preferred.
const familyShareThreshold = 0.6

// Default priors reflect volatility aversion: dollar-pegged methods over
// the chain's native token.
var defaultPriors = map[types.MethodType]float64{
	types.MethodUSDC:   0.8,
	types.MethodCard:   0.7,
	types.MethodUSDT:   0.6,
	types.MethodX402:   0.5,
	types.MethodNative: 0.4,
}

// neutralPrior covers method types with no configured prior.
const neutralPrior = 0.5

// Gas comfort adjustment bounds, driven by historical transaction size.
var (
	largeAmountUSD    = decimal.NewFromInt(1000)
	smallAmountUSD    = decimal.NewFromInt(100)
	raisedGasFloorUSD = decimal.NewFromInt(50)
	loweredGasCapUSD  = decimal.NewFromInt(15)
	defaultGasComfort = decimal.NewFromInt(25)
)

// Learner scores methods from learned user history and folds new
// transaction outcomes back into that history.
type Learner struct {
	store  Store
	clock  clock.Clock
	logger logger.Logger
}

// NewLearner creates a learner over the given store.
func NewLearner(store Store) *Learner {
	return NewLearnerWith(store, clock.New(), logger.NoopLogger{})
}

// NewLearnerWith creates a learner with an explicit clock and logger. Tests
// use a mock clock to drive decay deterministically.
func NewLearnerWith(store Store, clk clock.Clock, log logger.Logger) *Learner {
	if store == nil {
		store = NewInMemoryStore()
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.NoopLogger{}
	}

	return &Learner{store: store, clock: clk, logger: log}
}

// Score returns the learned affinity for a method type in [0,1]. Without
// history it returns the method-type prior; with history it applies linear
// time decay toward disuse.
func (l *Learner) Score(method types.MethodType, prefs *types.UserPreferences) float64 {
	if prefs == nil {
		return priorFor(method)
	}

	pref, ok := prefs.PreferenceFor(method)
	if !ok {
		return priorFor(method)
	}

	score := pref.Score
	if !pref.LastUsed.IsZero() {
		days := l.clock.Now().Sub(pref.LastUsed).Hours() / 24
		factor := 1 - days/decayWindowDays
		if factor < decayFloor {
			factor = decayFloor
		}
		score *= factor
	}

	return clamp01(score)
}

// Preferences returns the stored state for a user, lazily creating defaults
// on first lookup.
func (l *Learner) Preferences(ctx context.Context, userID string) (*types.UserPreferences, error) {
	prefs, ok, err := l.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		return prefs, nil
	}

	prefs = defaultPreferences()
	if err := l.store.Put(ctx, userID, prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

func defaultPreferences() *types.UserPreferences {
	return &types.UserPreferences{
		PreferredMethods:     []types.MethodPreference{},
		MaxGasFeeThreshold:   defaultGasComfort,
		PreferStablecoins:    true,
		AutoSelectBestOption: true,
	}
}

// RecordOutcome folds one completed transaction into the user's learned
// state: score nudge, usage stats, recent-history ring, family preference
// rederivation, and gas comfort adjustment.
func (l *Learner) RecordOutcome(ctx context.Context, userID string, outcome types.TransactionOutcome) error {
	prefs, err := l.Preferences(ctx, userID)
	if err != nil {
		return err
	}

	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = l.clock.Now()
	}

	l.updateMethodEntry(prefs, outcome)
	pushRecent(prefs, outcome)
	rederiveFamilyPreferences(prefs)
	adjustGasComfort(prefs, outcome.MethodType)

	l.logger.Debug("recorded transaction outcome", map[string]any{
		"user":       userID,
		"method":     outcome.MethodType.String(),
		"successful": outcome.Successful,
	})

	return l.store.Put(ctx, userID, prefs)
}

func (l *Learner) updateMethodEntry(prefs *types.UserPreferences, outcome types.TransactionOutcome) {
	pref, ok := prefs.PreferenceFor(outcome.MethodType)
	if !ok {
		prefs.PreferredMethods = append(prefs.PreferredMethods, types.MethodPreference{
			MethodType: outcome.MethodType,
			Score:      priorFor(outcome.MethodType),
		})
		pref = &prefs.PreferredMethods[len(prefs.PreferredMethods)-1]
	}

	if outcome.Successful {
		pref.Score = clamp01(pref.Score + learningRate)
	} else {
		pref.Score = clamp01(pref.Score - learningRate)
	}

	// Running average over all attempts, successful or not.
	count := decimal.NewFromInt(int64(pref.UsageCount))
	total := pref.AverageTransactionAmount.Mul(count).Add(outcome.Amount)
	pref.UsageCount++
	pref.AverageTransactionAmount = total.Div(decimal.NewFromInt(int64(pref.UsageCount)))

	pref.LastUsed = outcome.Timestamp
}

// pushRecent appends to the fixed-size recent-history ring.
func pushRecent(prefs *types.UserPreferences, outcome types.TransactionOutcome) {
	prefs.LastUsedMethods = append(prefs.LastUsedMethods, outcome)
	if len(prefs.LastUsedMethods) > types.RecentHistorySize {
		prefs.LastUsedMethods = prefs.LastUsedMethods[len(prefs.LastUsedMethods)-types.RecentHistorySize:]
	}
}

// rederiveFamilyPreferences recomputes the stablecoin/fiat preference
// booleans from the most recent successful outcomes. It needs at least
// familyMinSamples successes within the window to act.
func rederiveFamilyPreferences(prefs *types.UserPreferences) {
	var recent []types.TransactionOutcome
	for i := len(prefs.LastUsedMethods) - 1; i >= 0 && len(recent) < familyWindow; i-- {
		if prefs.LastUsedMethods[i].Successful {
			recent = append(recent, prefs.LastUsedMethods[i])
		}
	}

	if len(recent) < familyMinSamples {
		return
	}

	var stablecoin, fiat int
	for _, outcome := range recent {
		if outcome.MethodType.IsStablecoin() {
			stablecoin++
		}
		if outcome.MethodType.IsFiat() {
			fiat++
		}
	}

	total := float64(len(recent))
	prefs.PreferStablecoins = float64(stablecoin)/total > familyShareThreshold
	prefs.PreferFiat = float64(fiat)/total > familyShareThreshold
}

// adjustGasComfort moves the user's gas tolerance with their typical
// transaction size: big spenders tolerate more gas, small ones less.
func adjustGasComfort(prefs *types.UserPreferences, method types.MethodType) {
	pref, ok := prefs.PreferenceFor(method)
	if !ok {
		return
	}

	avg := pref.AverageTransactionAmount
	switch {
	case avg.GreaterThan(largeAmountUSD):
		if prefs.MaxGasFeeThreshold.LessThan(raisedGasFloorUSD) {
			prefs.MaxGasFeeThreshold = raisedGasFloorUSD
		}
	case avg.LessThan(smallAmountUSD):
		if prefs.MaxGasFeeThreshold.GreaterThan(loweredGasCapUSD) {
			prefs.MaxGasFeeThreshold = loweredGasCapUSD
		}
	}
}

func priorFor(method types.MethodType) float64 {
	if prior, ok := defaultPriors[method]; ok {
		return prior
	}
	return neutralPrior
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

// DaysSinceUse reports how long a method has gone unused, for diagnostics.
func (l *Learner) DaysSinceUse(prefs *types.UserPreferences, method types.MethodType) (float64, bool) {
	if prefs == nil {
		return 0, false
	}
	pref, ok := prefs.PreferenceFor(method)
	if !ok || pref.LastUsed.IsZero() {
		return 0, false
	}
	return l.clock.Now().Sub(pref.LastUsed).Hours() / 24, true
}
