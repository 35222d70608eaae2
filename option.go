package payrank

import (
	"github.com/benbjohnson/clock"

	"github.com/vitwit/payrank/engine"
	"github.com/vitwit/payrank/logger"
	"github.com/vitwit/payrank/metrics"
	"github.com/vitwit/payrank/preference"
	"github.com/vitwit/payrank/providers"
)

// Option customizes a Service at construction time.
type Option func(*Service)

// WithLogger routes service diagnostics to l.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMetrics records pipeline counters and latencies with r.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = r
	}
}

// WithClock substitutes the time source. Tests use a mock clock to drive
// cache expiry and preference decay.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithPreferenceStore keeps learned user preferences somewhere other than
// process memory.
func WithPreferenceStore(store preference.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithCache replaces the ranking cache.
func WithCache(c engine.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithConditionsProvider supplies gas snapshots for requests that arrive
// without a market view.
func WithConditionsProvider(p providers.GasPriceProvider) Option {
	return func(s *Service) {
		s.gas = p
	}
}

// WithRateProvider supplies conversion quotes for requests that arrive
// without a market view.
func WithRateProvider(p providers.ExchangeRateProvider) Option {
	return func(s *Service) {
		s.rates = p
	}
}

// WithBalanceProvider supplies token balances for requests that arrive
// without them.
func WithBalanceProvider(p providers.BalanceProvider) Option {
	return func(s *Service) {
		s.balances = p
	}
}
