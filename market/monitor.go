// Package market tracks per-chain network conditions in the background.
// A Monitor polls a gas provider on a fixed interval, keeps the latest
// snapshot per chain, and publishes an Event to subscribers whenever a
// chain's gas price moves by at least one percent or its congestion level
// flips. Callers assemble prioritization requests from Snapshot instead of
// blocking on live sources.
package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/logger"
	"github.com/vitwit/payrank/metrics"
	"github.com/vitwit/payrank/providers"
	"github.com/vitwit/payrank/types"
)

// DefaultPollInterval is how often each tracked chain is refreshed when the
// caller does not choose an interval.
const DefaultPollInterval = 15 * time.Second

// subscriberBuffer is the channel depth handed to each subscriber. Events
// beyond it are dropped rather than blocking the poll loop.
const subscriberBuffer = 16

// gasChangeRatio is the relative gas move that counts as a change.
var gasChangeRatio = decimal.NewFromFloat(0.01)

// Event describes one observed change in a chain's conditions. Previous is
// nil for the first observation after Start.
type Event struct {
	ChainID   types.ChainID            `json:"chainId"`
	Previous  *types.NetworkConditions `json:"previous,omitempty"`
	Current   types.NetworkConditions  `json:"current"`
	Timestamp time.Time                `json:"timestamp"`
}

// RatePair names one currency conversion the monitor keeps fresh alongside
// gas snapshots.
type RatePair struct {
	From string
	To   string
}

// Monitor polls network conditions for a set of chains and fans change
// events out to subscribers. It is safe for concurrent use; Start and Stop
// may each be called more than once.
type Monitor struct {
	gas      providers.GasPriceProvider
	rates    providers.ExchangeRateProvider
	chains   []types.ChainID
	pairs    []RatePair
	interval time.Duration
	clock    clock.Clock
	logger   logger.Logger
	metrics  metrics.Recorder

	mu          sync.RWMutex
	conditions  map[types.ChainID]types.NetworkConditions
	rateTable   map[string]types.ExchangeRate
	subscribers []chan Event
	running     bool
	cancel      context.CancelFunc

	wg sync.WaitGroup
}

// NewMonitor returns a monitor over the given chains with no rate tracking
// and default dependencies.
func NewMonitor(gas providers.GasPriceProvider, chains []types.ChainID, interval time.Duration) *Monitor {
	return NewMonitorWith(gas, nil, chains, nil, interval, clock.New(), logger.NoopLogger{}, metrics.NoopRecorder{})
}

// NewMonitorWith returns a monitor with explicit dependencies. A nil rate
// provider or empty pair list disables rate tracking; nil clock, logger, or
// recorder fall back to defaults.
func NewMonitorWith(
	gas providers.GasPriceProvider,
	rates providers.ExchangeRateProvider,
	chains []types.ChainID,
	pairs []RatePair,
	interval time.Duration,
	clk clock.Clock,
	log logger.Logger,
	rec metrics.Recorder,
) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
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
	return &Monitor{
		gas:        gas,
		rates:      rates,
		chains:     append([]types.ChainID(nil), chains...),
		pairs:      append([]RatePair(nil), pairs...),
		interval:   interval,
		clock:      clk,
		logger:     log,
		metrics:    rec,
		conditions: make(map[types.ChainID]types.NetworkConditions),
		rateTable:  make(map[string]types.ExchangeRate),
	}
}

// Start launches one poll loop per tracked chain plus a rate loop when rate
// tracking is configured. Each loop refreshes immediately and then on every
// interval tick until Stop is called or ctx is done. Calling Start on a
// running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	for _, chainID := range m.chains {
		m.wg.Add(1)
		go m.track(ctx, chainID)
	}
	if m.rates != nil && len(m.pairs) > 0 {
		m.wg.Add(1)
		go m.trackRates(ctx)
	}

	m.logger.Info("market monitor started", map[string]any{
		"chains":   len(m.chains),
		"pairs":    len(m.pairs),
		"interval": m.interval.String(),
	})
	return nil
}

// Stop halts all poll loops and waits for them to exit. Subscriber channels
// are left open; they simply stop receiving. Stop is safe to call more than
// once and before Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("market monitor stopped", nil)
}

// Subscribe registers a new change listener. The returned channel is
// buffered; events that arrive while it is full are dropped.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Conditions returns the latest snapshot for one chain, if the monitor has
// observed it.
func (m *Monitor) Conditions(chainID types.ChainID) (types.NetworkConditions, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cond, ok := m.conditions[chainID]
	return cond, ok
}

// Snapshot assembles the current view of every tracked chain and rate pair
// into a MarketConditions value ready to embed in a prioritization request.
func (m *Monitor) Snapshot() *types.MarketConditions {
	m.mu.RLock()
	defer m.mu.RUnlock()

	market := &types.MarketConditions{LastUpdated: m.clock.Now()}
	for _, cond := range m.conditions {
		market.GasConditions = append(market.GasConditions, cond)
	}
	sort.Slice(market.GasConditions, func(i, j int) bool {
		return market.GasConditions[i].ChainID < market.GasConditions[j].ChainID
	})
	for _, rate := range m.rateTable {
		market.ExchangeRates = append(market.ExchangeRates, rate)
	}
	sort.Slice(market.ExchangeRates, func(i, j int) bool {
		a, b := market.ExchangeRates[i], market.ExchangeRates[j]
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return market
}

func (m *Monitor) track(ctx context.Context, chainID types.ChainID) {
	defer m.wg.Done()

	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	m.refresh(ctx, chainID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx, chainID)
		}
	}
}

func (m *Monitor) trackRates(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	m.refreshRates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshRates(ctx)
		}
	}
}

// refresh fetches one chain's conditions, stores them, and publishes an
// event when they differ from the previous snapshot.
func (m *Monitor) refresh(ctx context.Context, chainID types.ChainID) {
	current, err := m.gas.FetchGasPrice(ctx, chainID)
	if err != nil {
		m.logger.Warn("conditions refresh failed", map[string]any{
			"chain": chainID.String(),
			"error": err.Error(),
		})
		return
	}

	m.mu.Lock()
	previous, seen := m.conditions[chainID]
	m.conditions[chainID] = *current
	subs := append([]chan Event(nil), m.subscribers...)
	m.mu.Unlock()

	if seen && !conditionsChanged(&previous, current) {
		return
	}

	ev := Event{
		ChainID:   chainID,
		Current:   *current,
		Timestamp: m.clock.Now(),
	}
	if seen {
		prev := previous
		ev.Previous = &prev
	}

	m.metrics.IncCounter(metrics.EventConditionsChange, map[string]string{"chain": chainID.String()})
	m.logger.Debug("conditions changed", map[string]any{
		"chain":      chainID.String(),
		"gasGwei":    current.GasPriceGwei.String(),
		"congestion": string(current.CongestionLevel),
	})

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("subscriber behind, dropping event", map[string]any{
				"chain": chainID.String(),
			})
		}
	}
}

func (m *Monitor) refreshRates(ctx context.Context) {
	for _, pair := range m.pairs {
		rate, err := m.rates.FetchRate(ctx, pair.From, pair.To)
		if err != nil {
			m.logger.Warn("rate refresh failed", map[string]any{
				"from":  pair.From,
				"to":    pair.To,
				"error": err.Error(),
			})
			continue
		}
		m.mu.Lock()
		m.rateTable[pair.From+"/"+pair.To] = *rate
		m.mu.Unlock()
	}
}

// conditionsChanged reports whether the new snapshot moved enough to tell
// subscribers: a congestion flip, or a gas move of at least one percent.
func conditionsChanged(previous, current *types.NetworkConditions) bool {
	if previous.CongestionLevel != current.CongestionLevel {
		return true
	}
	if previous.GasPriceGwei.IsZero() {
		return !current.GasPriceGwei.IsZero()
	}
	delta := current.GasPriceGwei.Sub(previous.GasPriceGwei).Abs()
	return delta.Div(previous.GasPriceGwei).GreaterThanOrEqual(gasChangeRatio)
}
