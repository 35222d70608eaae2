package types

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// WeightSumTolerance is how far a weight set may drift from 1.0 before the
// scoring engine emits a diagnostic warning.
const WeightSumTolerance = 0.001

// Duration wraps time.Duration so YAML configs can use human-readable values
// like "30s". Bare integers are read as seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration %q", raw)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// ScoringWeights is one method type's weight set. Weights should sum to 1;
// a drifted sum is reported as a warning, not a hard failure.
type ScoringWeights struct {
	Cost         float64 `json:"costWeight" yaml:"costWeight"`
	Preference   float64 `json:"preferenceWeight" yaml:"preferenceWeight"`
	Availability float64 `json:"availabilityWeight" yaml:"availabilityWeight"`
	Network      float64 `json:"networkWeight" yaml:"networkWeight"`
}

// Sum returns the total of all weights.
func (w ScoringWeights) Sum() float64 {
	return w.Cost + w.Preference + w.Availability + w.Network
}

// Balanced reports whether the weights sum to 1 within tolerance.
func (w ScoringWeights) Balanced() bool {
	return math.Abs(w.Sum()-1.0) <= WeightSumTolerance
}

// Validate rejects negative or out-of-range weights. A sum away from 1 is
// deliberately not an error here.
func (w ScoringWeights) Validate() error {
	for name, v := range map[string]float64{
		"costWeight":         w.Cost,
		"preferenceWeight":   w.Preference,
		"availabilityWeight": w.Availability,
		"networkWeight":      w.Network,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	return nil
}

// DefaultWeights returns the built-in per-method-type weight sets. Volatile
// methods weigh cost heavier; card rails barely care about congestion.
func DefaultWeights() map[MethodType]ScoringWeights {
	return map[MethodType]ScoringWeights{
		MethodUSDC:   {Cost: 0.30, Preference: 0.25, Availability: 0.25, Network: 0.20},
		MethodUSDT:   {Cost: 0.30, Preference: 0.25, Availability: 0.25, Network: 0.20},
		MethodNative: {Cost: 0.40, Preference: 0.20, Availability: 0.25, Network: 0.15},
		MethodCard:   {Cost: 0.35, Preference: 0.30, Availability: 0.30, Network: 0.05},
		MethodX402:   {Cost: 0.35, Preference: 0.20, Availability: 0.30, Network: 0.15},
	}
}

// GasFeeThresholds are the USD gas-fee bounds the pipeline reacts to
type GasFeeThresholds struct {
	// Above this, results carry a high-gas warning.
	WarningUSD decimal.Decimal `json:"warningThresholdUsd" yaml:"warningThresholdUsd"`

	// Above this, a method is considered uneconomical for ranking bonuses.
	MaxAcceptableUSD decimal.Decimal `json:"maxAcceptableGasFeeUsd" yaml:"maxAcceptableGasFeeUsd"`

	// Above this, on-chain methods are flagged as effectively blocked.
	BlockTransactionUSD decimal.Decimal `json:"blockTransactionThresholdUsd" yaml:"blockTransactionThresholdUsd"`
}

// DefaultGasFeeThresholds returns the built-in USD gas bounds.
func DefaultGasFeeThresholds() GasFeeThresholds {
	return GasFeeThresholds{
		WarningUSD:          decimal.NewFromInt(10),
		MaxAcceptableUSD:    decimal.NewFromInt(50),
		BlockTransactionUSD: decimal.NewFromInt(100),
	}
}

// Validate checks the thresholds are positive and ordered.
func (g GasFeeThresholds) Validate() error {
	if !g.WarningUSD.IsPositive() || !g.MaxAcceptableUSD.IsPositive() || !g.BlockTransactionUSD.IsPositive() {
		return fmt.Errorf("gas fee thresholds must be positive")
	}
	if g.WarningUSD.GreaterThan(g.MaxAcceptableUSD) || g.MaxAcceptableUSD.GreaterThan(g.BlockTransactionUSD) {
		return fmt.Errorf("gas fee thresholds must be ordered: warning <= maxAcceptable <= blockTransaction")
	}
	return nil
}

// Config contains global configuration for the prioritization library
type Config struct {
	DefaultTimeout  Duration                      `json:"defaultTimeout,omitempty" yaml:"defaultTimeout"`
	CacheTTL        Duration                      `json:"cacheTtl,omitempty" yaml:"cacheTtl"`
	CacheSize       int                           `json:"cacheSize,omitempty" yaml:"cacheSize"`
	Weights         map[MethodType]ScoringWeights `json:"weights,omitempty" yaml:"weights"`
	GasThresholds   GasFeeThresholds              `json:"gasThresholds" yaml:"gasThresholds"`
	StablecoinBonus float64                       `json:"stablecoinBonus" yaml:"stablecoinBonus"`
	LogLevel        string                        `json:"logLevel,omitempty" yaml:"logLevel"`
	EnableMetrics   bool                          `json:"enableMetrics,omitempty" yaml:"enableMetrics"`
	Extra           ExtraData                     `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// DefaultConfig returns a Config populated with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout:  Duration(30 * time.Second),
		CacheTTL:        Duration(30 * time.Second),
		CacheSize:       1024,
		Weights:         DefaultWeights(),
		GasThresholds:   DefaultGasFeeThresholds(),
		StablecoinBonus: 0.1,
		LogLevel:        "info",
	}
}

// Validate checks the whole configuration, accumulating every problem found.
func (c *Config) Validate() error {
	var errs error

	if c.DefaultTimeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("defaultTimeout must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("cacheTtl must be positive"))
	}
	if c.CacheSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("cacheSize must be positive"))
	}
	if c.StablecoinBonus < 0 || c.StablecoinBonus > 1 {
		errs = multierr.Append(errs, fmt.Errorf("stablecoinBonus must be in [0,1]"))
	}
	for t, w := range c.Weights {
		if err := w.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("weights[%s]: %w", t, err))
		}
	}
	if err := c.GasThresholds.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// WeightsFor returns the weight set for a method type, falling back to the
// built-in defaults for unconfigured types.
func (c *Config) WeightsFor(t MethodType) ScoringWeights {
	if w, ok := c.Weights[t]; ok {
		return w
	}
	if w, ok := DefaultWeights()[t]; ok {
		return w
	}
	// Unknown method types score on cost and availability alone.
	return ScoringWeights{Cost: 0.5, Preference: 0, Availability: 0.5, Network: 0}
}

// LoadConfig reads a YAML config file layered over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, PrioritizationError{
			Code:    ErrConfigError,
			Message: fmt.Sprintf("failed to read config file: %v", err),
		}
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, PrioritizationError{
			Code:    ErrConfigError,
			Message: fmt.Sprintf("failed to parse config file: %v", err),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, PrioritizationError{
			Code:    ErrConfigError,
			Message: fmt.Sprintf("invalid configuration: %v", err),
		}
	}

	return cfg, nil
}
