package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ChainID identifies an EVM chain by its numeric chain ID
type ChainID uint64

const (
	ChainEthereum ChainID = 1
	ChainPolygon  ChainID = 137
	ChainBase     ChainID = 8453
	ChainArbitrum ChainID = 42161
)

// chainInfo holds static per-chain metadata
type chainInfo struct {
	Name           string
	NativeSymbol   string
	NativeDecimals int
	AvgBlockTime   time.Duration
	Layer2         bool
}

var chainRegistry = map[ChainID]chainInfo{
	ChainEthereum: {Name: "ethereum", NativeSymbol: "ETH", NativeDecimals: 18, AvgBlockTime: 12 * time.Second},
	ChainPolygon:  {Name: "polygon", NativeSymbol: "MATIC", NativeDecimals: 18, AvgBlockTime: 2 * time.Second, Layer2: true},
	ChainBase:     {Name: "base", NativeSymbol: "ETH", NativeDecimals: 18, AvgBlockTime: 2 * time.Second, Layer2: true},
	ChainArbitrum: {Name: "arbitrum", NativeSymbol: "ETH", NativeDecimals: 18, AvgBlockTime: time.Second, Layer2: true},
}

// Supported reports whether the chain is in the built-in registry.
func (c ChainID) Supported() bool {
	_, ok := chainRegistry[c]
	return ok
}

// Name returns the registry name for the chain, or its numeric form when
// unknown.
func (c ChainID) Name() string {
	if info, ok := chainRegistry[c]; ok {
		return info.Name
	}
	return c.String()
}

// NativeSymbol returns the chain's gas token symbol, defaulting to ETH for
// unknown chains.
func (c ChainID) NativeSymbol() string {
	if info, ok := chainRegistry[c]; ok {
		return info.NativeSymbol
	}
	return "ETH"
}

// AvgBlockTime returns the chain's typical block interval. Unknown chains
// assume mainnet pacing.
func (c ChainID) AvgBlockTime() time.Duration {
	if info, ok := chainRegistry[c]; ok {
		return info.AvgBlockTime
	}
	return 12 * time.Second
}

// IsLayer2 reports whether the chain is a rollup or sidechain.
func (c ChainID) IsLayer2() bool {
	if info, ok := chainRegistry[c]; ok {
		return info.Layer2
	}
	return false
}

func (c ChainID) String() string {
	return fmt.Sprintf("%d", uint64(c))
}

// KnownChains returns the registered chain IDs in ascending order.
func KnownChains() []ChainID {
	return []ChainID{ChainEthereum, ChainPolygon, ChainBase, ChainArbitrum}
}

// CongestionLevel classifies how busy a chain currently is
type CongestionLevel string

const (
	CongestionLow    CongestionLevel = "low"
	CongestionMedium CongestionLevel = "medium"
	CongestionHigh   CongestionLevel = "high"
)

// Valid reports whether the level is one of the known values.
func (l CongestionLevel) Valid() bool {
	return l == CongestionLow || l == CongestionMedium || l == CongestionHigh
}

// NetworkConditions is a point-in-time gas snapshot for one chain
type NetworkConditions struct {
	ChainID         ChainID         `json:"chainId"`
	GasPriceGwei    decimal.Decimal `json:"gasPriceGwei"`
	GasPriceUSD     decimal.Decimal `json:"gasPriceUsd"`
	CongestionLevel CongestionLevel `json:"congestionLevel"`
	BlockTime       time.Duration   `json:"blockTime"`
	LastUpdated     time.Time       `json:"lastUpdated"`
}

// Stale reports whether the snapshot is older than maxAge at the given
// instant.
func (n *NetworkConditions) Stale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(n.LastUpdated) > maxAge
}
