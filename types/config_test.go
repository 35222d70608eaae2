package types

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultWeightsBalanced(t *testing.T) {
	for methodType, weights := range DefaultWeights() {
		assert.True(t, weights.Balanced(), "weights for %s sum to %v", methodType, weights.Sum())
		assert.NoError(t, weights.Validate())
	}
}

func TestScoringWeightsValidate(t *testing.T) {
	bad := ScoringWeights{Cost: -0.1, Preference: 0.5, Availability: 0.3, Network: 0.3}
	assert.Error(t, bad.Validate())

	// Unbalanced but in-range weights are legal; they only warn downstream.
	skewed := ScoringWeights{Cost: 0.9, Preference: 0.9, Availability: 0.1, Network: 0.1}
	assert.NoError(t, skewed.Validate())
	assert.False(t, skewed.Balanced())
}

func TestGasFeeThresholdsValidate(t *testing.T) {
	require.NoError(t, DefaultGasFeeThresholds().Validate())

	unordered := GasFeeThresholds{
		WarningUSD:          decimal.NewFromInt(60),
		MaxAcceptableUSD:    decimal.NewFromInt(50),
		BlockTransactionUSD: decimal.NewFromInt(100),
	}
	assert.Error(t, unordered.Validate())

	zero := GasFeeThresholds{}
	assert.Error(t, zero.Validate())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.CacheTTL.Std())
	assert.Equal(t, 0.1, cfg.StablecoinBonus)
	assert.Len(t, cfg.Weights, 5)
}

func TestConfigValidateAccumulates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheTTL = 0
	cfg.StablecoinBonus = 2
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cacheTtl")
	assert.Contains(t, err.Error(), "stablecoinBonus")
}

func TestConfigWeightsFor(t *testing.T) {
	cfg := DefaultConfig()
	custom := ScoringWeights{Cost: 0.7, Preference: 0.1, Availability: 0.1, Network: 0.1}
	cfg.Weights[MethodNative] = custom

	assert.Equal(t, custom, cfg.WeightsFor(MethodNative))
	assert.Equal(t, DefaultWeights()[MethodUSDC], cfg.WeightsFor(MethodUSDC))

	// Unknown types get the neutral fallback split.
	fallback := cfg.WeightsFor(MethodType("venmo"))
	assert.Equal(t, 0.5, fallback.Cost)
	assert.Equal(t, 0.5, fallback.Availability)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := []byte(`
cacheTtl: 45s
stablecoinBonus: 0.2
gasThresholds:
  warningThresholdUsd: 5
  maxAcceptableGasFeeUsd: 25
  blockTransactionThresholdUsd: 80
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.CacheTTL.Std())
	assert.Equal(t, 0.2, cfg.StablecoinBonus)
	assert.True(t, cfg.GasThresholds.WarningUSD.Equal(decimal.NewFromInt(5)))
	// Unset fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.DefaultTimeout.Std())
	assert.Len(t, cfg.Weights, 5)
}

func TestDurationYAMLForms(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte("90s"), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	// Bare integers are seconds.
	require.NoError(t, yaml.Unmarshal([]byte("15"), &d))
	assert.Equal(t, 15*time.Second, d.Std())

	assert.Error(t, yaml.Unmarshal([]byte("soon"), &d))
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	var perr PrioritizationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrConfigError, perr.Code)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cacheTtl: [not a duration"), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
