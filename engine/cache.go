package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vitwit/payrank/types"
)

// DefaultCacheSize bounds the ranking cache when the config does not.
const DefaultCacheSize = 1024

// Cache stores finished rankings keyed by request fingerprint. TTL and market
// hash validation happen in the engine; implementations only provide bounded
// storage. Two concurrent requests may miss on the same key and both
// recompute; the last write wins, which is harmless because recomputation is
// idempotent.
type Cache interface {
	Get(key string) (*types.CachedRanking, bool)
	Set(key string, entry *types.CachedRanking)
	Remove(key string)
	Purge()
	Len() int
}

type lruCache struct {
	inner *expirable.LRU[string, *types.CachedRanking]
}

var _ Cache = (*lruCache)(nil)

// NewLRUCache returns a bounded LRU whose entries also age out after ttl, as
// a backstop to the engine's own validity checks.
func NewLRUCache(size int, ttl time.Duration) Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &lruCache{inner: expirable.NewLRU[string, *types.CachedRanking](size, nil, ttl)}
}

func (c *lruCache) Get(key string) (*types.CachedRanking, bool) { return c.inner.Get(key) }
func (c *lruCache) Set(key string, entry *types.CachedRanking) { c.inner.Add(key, entry) }
func (c *lruCache) Remove(key string)                          { c.inner.Remove(key) }
func (c *lruCache) Purge()                                     { c.inner.Purge() }
func (c *lruCache) Len() int                                   { return c.inner.Len() }

// CacheKey fingerprints a request: chain, amount, payer address, and the
// sorted candidate method ids.
func CacheKey(req *types.PrioritizationRequest) string {
	ids := make([]string, 0, len(req.Methods))
	for _, m := range req.Methods {
		if m != nil {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return fmt.Sprintf("%d|%s|%s|%s",
		req.ChainID, req.Amount.String(), req.UserAddress, strings.Join(ids, ","))
}

// MarketHash digests a market snapshot: per-chain gas and congestion in
// chain-id order, then exchange rates in symbol-pair order. Two snapshots
// hash equal iff every tracked value is unchanged.
func MarketHash(market *types.MarketConditions) string {
	if market == nil {
		return ""
	}

	gas := make([]types.NetworkConditions, len(market.GasConditions))
	copy(gas, market.GasConditions)
	sort.Slice(gas, func(i, j int) bool { return gas[i].ChainID < gas[j].ChainID })

	rates := make([]types.ExchangeRate, len(market.ExchangeRates))
	copy(rates, market.ExchangeRates)
	sort.Slice(rates, func(i, j int) bool {
		if rates[i].From != rates[j].From {
			return rates[i].From < rates[j].From
		}
		return rates[i].To < rates[j].To
	})

	d := xxhash.New()
	for _, c := range gas {
		fmt.Fprintf(d, "%d|%s|%s;", c.ChainID, c.GasPriceGwei.String(), c.CongestionLevel)
	}
	for _, r := range rates {
		fmt.Fprintf(d, "%s/%s=%s;", r.From, r.To, r.Rate.String())
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
