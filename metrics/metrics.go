// Package metrics defines the counters and latency histograms the
// prioritization pipeline emits: cache hits and misses, ranking passes,
// threshold adjustments, and fallback estimates. The default recorder is a
// no-op; a Prometheus-backed one is provided.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter and operation names emitted by the pipeline.
const (
	EventCacheHit          = "cache_hit"
	EventCacheMiss         = "cache_miss"
	EventFallbackEstimate  = "fallback_estimate"
	EventAdjustmentApplied = "adjustment_applied"
	EventRuleApplied       = "rule_applied"
	EventFallbackActivated = "rule_fallback_activated"
	EventMarketDrift       = "market_drift"
	EventConditionsChange  = "conditions_change"

	OpPrioritize = "prioritize"
	OpEstimate   = "estimate"
	OpScore      = "score"
)
