package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MethodType represents the category of a payment instrument
type MethodType string

const (
	// Stablecoins
	MethodUSDC MethodType = "usdc"
	MethodUSDT MethodType = "usdt"

	// Chain native token (ETH, MATIC, ...)
	MethodNative MethodType = "native"

	// Fiat card rails
	MethodCard MethodType = "card"

	// Fee-abstracted settlement protocol
	MethodX402 MethodType = "x402"
)

// TokenInfo contains information about the token backing a payment method
type TokenInfo struct {
	Address  string  `json:"address,omitempty"` // Contract address for tokens, empty for native
	Symbol   string  `json:"symbol" validate:"required"`
	Decimals int     `json:"decimals"`
	Name     string  `json:"name,omitempty"`
	ChainID  ChainID `json:"chainId,omitempty"`
	Verified bool    `json:"verified,omitempty"`
}

// PaymentMethod is an immutable catalog entry for a payment instrument.
// Instances come from configuration and are never mutated at runtime.
type PaymentMethod struct {
	ID              string     `json:"id" validate:"required"`
	Type            MethodType `json:"type" validate:"required"`
	Name            string     `json:"name,omitempty"`
	Token           *TokenInfo `json:"token,omitempty"`
	ChainID         ChainID    `json:"chainId,omitempty"`
	Enabled         bool       `json:"enabled"`
	SupportedChains []ChainID  `json:"supportedChains,omitempty"`
	Extra           ExtraData  `json:"extra,omitempty"`
}

// ExtraData contains additional method-specific data
type ExtraData map[string]interface{}

// ExchangeRate is a conversion quote between two symbols
type ExchangeRate struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Rate        decimal.Decimal `json:"rate"`
	Confidence  float64         `json:"confidence"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// NetworkAvailability records whether a chain is currently serving requests
type NetworkAvailability struct {
	ChainID   ChainID `json:"chainId"`
	Available bool    `json:"available"`
}

// MarketConditions is the market snapshot supplied with a prioritization
// request. The engine consumes it wholesale and never fetches on its own.
type MarketConditions struct {
	GasConditions       []NetworkConditions   `json:"gasConditions"`
	ExchangeRates       []ExchangeRate        `json:"exchangeRates"`
	NetworkAvailability []NetworkAvailability `json:"networkAvailability,omitempty"`
	LastUpdated         time.Time             `json:"lastUpdated"`
}

// ConditionsFor returns the gas snapshot for a chain, if present.
func (m *MarketConditions) ConditionsFor(chainID ChainID) (*NetworkConditions, bool) {
	for i := range m.GasConditions {
		if m.GasConditions[i].ChainID == chainID {
			return &m.GasConditions[i], true
		}
	}
	return nil, false
}

// RateFor returns the exchange rate for a symbol pair, if present.
func (m *MarketConditions) RateFor(from, to string) (*ExchangeRate, bool) {
	for i := range m.ExchangeRates {
		if m.ExchangeRates[i].From == from && m.ExchangeRates[i].To == to {
			return &m.ExchangeRates[i], true
		}
	}
	return nil, false
}

// AvailableOn reports whether a chain is marked available. Chains without an
// explicit availability entry are treated as available.
func (m *MarketConditions) AvailableOn(chainID ChainID) bool {
	for _, a := range m.NetworkAvailability {
		if a.ChainID == chainID {
			return a.Available
		}
	}
	return true
}

// CostBreakdown itemizes a buyer-facing cost estimate. Seller-side platform
// fees are excluded from the buyer total.
type CostBreakdown struct {
	BaseAmount    decimal.Decimal `json:"baseAmount"`
	NetworkFee    decimal.Decimal `json:"networkFee"`
	ProcessingFee decimal.Decimal `json:"processingFee"`
	ProtocolFee   decimal.Decimal `json:"protocolFee"`
	Explanation   string          `json:"explanation,omitempty"`
}

// CostEstimate is the projected buyer-facing cost of paying with a method
// under the given network conditions
type CostEstimate struct {
	TotalCost     decimal.Decimal  `json:"totalCost"`
	BaseCost      decimal.Decimal  `json:"baseCost"`
	GasFee        decimal.Decimal  `json:"gasFee"`
	ExchangeRate  *decimal.Decimal `json:"exchangeRate,omitempty"`
	EstimatedTime time.Duration    `json:"estimatedTime"`
	Confidence    float64          `json:"confidence"`
	Currency      string           `json:"currency"`
	Breakdown     CostBreakdown    `json:"breakdown"`
}

// FeeRatio returns the fee overhead relative to the transaction amount:
// (total - base) / amount. A zero amount yields a zero ratio.
func (e *CostEstimate) FeeRatio(amount decimal.Decimal) decimal.Decimal {
	if amount.IsZero() {
		return decimal.Zero
	}
	return e.TotalCost.Sub(e.BaseCost).Div(amount)
}

// CostComparison relates one method's estimate to the rest of the candidate
// set: savings against the most expensive option and distance to the cheapest
type CostComparison struct {
	Method         *PaymentMethod  `json:"method"`
	Estimate       *CostEstimate   `json:"estimate"`
	Savings        decimal.Decimal `json:"savings"`
	CostDifference decimal.Decimal `json:"costDifference"`
	Recommended    bool            `json:"recommended"`
}

// ScoringComponents is the per-method scoring breakdown. Every sub-score is
// in [0,1]; StablecoinBonus is additive and the final sum is clamped to [0,1].
type ScoringComponents struct {
	CostScore         float64 `json:"costScore"`
	PreferenceScore   float64 `json:"preferenceScore"`
	AvailabilityScore float64 `json:"availabilityScore"`
	StablecoinBonus   float64 `json:"stablecoinBonus"`
	NetworkScore      float64 `json:"networkScore"`
	TotalScore        float64 `json:"totalScore"`
}

// AvailabilityStatus classifies whether a method can complete the purchase
type AvailabilityStatus string

const (
	AvailabilityAvailable           AvailabilityStatus = "available"
	AvailabilityInsufficientBalance AvailabilityStatus = "insufficient_balance"
	AvailabilityUnsupported         AvailabilityStatus = "unsupported"
)

// PrioritizedPaymentMethod is one row of a ranked result. Priority is a
// derived property reassigned on every re-sort, 1 being the best.
type PrioritizedPaymentMethod struct {
	Method               *PaymentMethod     `json:"method"`
	Priority             int                `json:"priority"`
	CostEstimate         *CostEstimate      `json:"costEstimate"`
	AvailabilityStatus   AvailabilityStatus `json:"availabilityStatus"`
	UserPreferenceScore  float64            `json:"userPreferenceScore"`
	RecommendationReason string             `json:"recommendationReason,omitempty"`
	TotalScore           float64            `json:"totalScore"`
	Components           *ScoringComponents `json:"components,omitempty"`
	Warnings             []string           `json:"warnings,omitempty"`
	Benefits             []string           `json:"benefits,omitempty"`
}

// Available reports whether the method can actually complete the purchase.
func (p *PrioritizedPaymentMethod) Available() bool {
	return p.AvailabilityStatus == AvailabilityAvailable
}

// TransactionOutcome records one completed (or failed) payment attempt and
// feeds preference learning
type TransactionOutcome struct {
	MethodType MethodType      `json:"methodType"`
	Amount     decimal.Decimal `json:"amount"`
	Successful bool            `json:"successful"`
	ChainID    ChainID         `json:"chainId,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// MethodPreference is the learned affinity for one method type
type MethodPreference struct {
	MethodType               MethodType      `json:"methodType"`
	Score                    float64         `json:"score"`
	LastUsed                 time.Time       `json:"lastUsed"`
	UsageCount               int             `json:"usageCount"`
	AverageTransactionAmount decimal.Decimal `json:"averageTransactionAmount"`
}

// RecentHistorySize bounds the per-user recent transaction ring
const RecentHistorySize = 10

// UserPreferences is the per-user learning state. It is lazily created with
// defaults on first lookup and updated after every recorded transaction.
type UserPreferences struct {
	PreferredMethods     []MethodPreference   `json:"preferredMethods"`
	AvoidedMethods       []MethodType         `json:"avoidedMethods,omitempty"`
	MaxGasFeeThreshold   decimal.Decimal      `json:"maxGasFeeThreshold"`
	PreferStablecoins    bool                 `json:"preferStablecoins"`
	PreferFiat           bool                 `json:"preferFiat"`
	LastUsedMethods      []TransactionOutcome `json:"lastUsedMethods,omitempty"`
	AutoSelectBestOption bool                 `json:"autoSelectBestOption"`
}

// PreferenceFor returns the learned entry for a method type, if any.
func (p *UserPreferences) PreferenceFor(t MethodType) (*MethodPreference, bool) {
	for i := range p.PreferredMethods {
		if p.PreferredMethods[i].MethodType == t {
			return &p.PreferredMethods[i], true
		}
	}
	return nil, false
}

// Avoided reports whether the user has marked a method type as avoided.
func (p *UserPreferences) Avoided(t MethodType) bool {
	for _, a := range p.AvoidedMethods {
		if a == t {
			return true
		}
	}
	return false
}

// PriorityAdjustment records one post-scoring threshold adjustment applied
// during dynamic reprioritization
type PriorityAdjustment struct {
	MethodType  MethodType `json:"methodType"`
	OldPriority int        `json:"oldPriority"`
	NewPriority int        `json:"newPriority"`
	ScoreDelta  float64    `json:"scoreDelta"`
	Reason      string     `json:"reason"`
}

// CachedRanking is one prioritization cache entry. It is valid only while
// unexpired and while its market-conditions hash matches the current one.
type CachedRanking struct {
	Key        string                      `json:"key"`
	Methods    []*PrioritizedPaymentMethod `json:"methods"`
	Timestamp  time.Time                   `json:"timestamp"`
	MarketHash string                      `json:"marketConditionsHash"`
	TTL        time.Duration               `json:"ttl"`
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
func (c *CachedRanking) Expired(now time.Time) bool {
	return now.Sub(c.Timestamp) > c.TTL
}

// PrioritizationRequest carries everything one ranking pass needs
type PrioritizationRequest struct {
	// Caller identity, used for preference lookups.
	UserID string `json:"userId" validate:"required"`

	// Wallet address paying on-chain methods, if any.
	UserAddress string `json:"userAddress,omitempty"`

	// Chain the purchase settles on.
	ChainID ChainID `json:"chainId" validate:"required"`

	// Purchase amount in Currency units.
	Amount decimal.Decimal `json:"amount"`

	// Settlement currency, e.g. "USD".
	Currency string `json:"currency" validate:"required"`

	// Candidate methods to rank.
	Methods []*PaymentMethod `json:"methods" validate:"required,min=1"`

	// Market snapshot the ranking is computed against.
	Market MarketConditions `json:"market"`

	// Optional pre-fetched preferences; looked up by UserID when nil.
	Preferences *UserPreferences `json:"preferences,omitempty"`

	// Known balances keyed by method ID. Missing entries are treated as
	// sufficient.
	Balances map[string]decimal.Decimal `json:"balances,omitempty"`
}

// ResultMetadata describes how a prioritization result was produced
type ResultMetadata struct {
	RequestID   string        `json:"requestId"`
	GeneratedAt time.Time     `json:"generatedAt"`
	CacheHit    bool          `json:"cacheHit"`
	MarketHash  string        `json:"marketConditionsHash"`
	Duration    time.Duration `json:"duration"`
}

// PrioritizationResult is the ranked answer: the full ordering, the single
// default method (nil when nothing is available), and derived notes
type PrioritizationResult struct {
	PrioritizedMethods []*PrioritizedPaymentMethod `json:"prioritizedMethods"`
	DefaultMethod      *PrioritizedPaymentMethod   `json:"defaultMethod,omitempty"`
	Recommendations    []string                    `json:"recommendations,omitempty"`
	Warnings           []string                    `json:"warnings,omitempty"`
	Adjustments        []PriorityAdjustment        `json:"adjustments,omitempty"`
	Metadata           ResultMetadata              `json:"metadata"`
}

// Error types
type PrioritizationError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e PrioritizationError) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidRequest       = "INVALID_REQUEST"
	ErrNoMethodsAvailable   = "NO_METHODS_AVAILABLE"
	ErrUnsupportedChain     = "UNSUPPORTED_CHAIN"
	ErrEstimationFailed     = "ESTIMATION_FAILED"
	ErrScoringFailed        = "SCORING_FAILED"
	ErrConfigError          = "CONFIG_ERROR"
	ErrPrioritizationFailed = "PRIORITIZATION_FAILED"
)

func (r *PrioritizationRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("userId is required")
	}

	if r.ChainID == 0 {
		return fmt.Errorf("chainId is required")
	}

	if r.Amount.IsNegative() {
		return fmt.Errorf("amount cannot be negative")
	}

	if r.Currency == "" {
		return fmt.Errorf("currency is required")
	}

	if len(r.Methods) == 0 {
		return fmt.Errorf("at least one payment method is required")
	}

	for _, m := range r.Methods {
		if m == nil || m.ID == "" {
			return fmt.Errorf("every payment method needs an id")
		}
	}

	return nil
}

// Helper functions for method classification
func (t MethodType) IsStablecoin() bool {
	return t == MethodUSDC || t == MethodUSDT
}

func (t MethodType) IsFiat() bool {
	return t == MethodCard
}

// UsesChainGas reports whether the buyer pays gas on the active chain. Card
// rails have no chain and x402 abstracts gas away from the buyer.
func (t MethodType) UsesChainGas() bool {
	return t == MethodUSDC || t == MethodUSDT || t == MethodNative
}

func (t MethodType) String() string {
	return string(t)
}
