package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"krw-trading-engine/internal/candle"
)

// TickerCache wraps a Client so the scan loop and dashboard share a single
// ≈3s-TTL ticker read per symbol, per spec.md §5's rate-limiting note. An
// optional Redis client provides a shared L2 cache across processes; when
// nil the cache is purely in-process.
type TickerCache struct {
	Client
	ttl   time.Duration
	mu    sync.Mutex
	cache map[candle.Symbol]cachedTicker
	redis *redis.Client
}

type cachedTicker struct {
	ticker Ticker
	at     time.Time
}

// DefaultTickerTTL is the ≈3s TTL spec.md §5 names.
const DefaultTickerTTL = 3 * time.Second

// NewTickerCache wraps client with an in-process TTL cache. r may be nil.
func NewTickerCache(client Client, r *redis.Client) *TickerCache {
	return &TickerCache{Client: client, ttl: DefaultTickerTTL, cache: make(map[candle.Symbol]cachedTicker), redis: r}
}

// GetTicker serves from the in-process cache when fresh, falls back to the
// shared Redis L2 cache when configured, and only then delegates to the
// wrapped client, repopulating both cache layers on a miss.
func (c *TickerCache) GetTicker(ctx context.Context, symbol candle.Symbol) (Ticker, bool) {
	c.mu.Lock()
	if entry, ok := c.cache[symbol]; ok && time.Since(entry.at) < c.ttl {
		c.mu.Unlock()
		return entry.ticker, true
	}
	c.mu.Unlock()

	if t, ok := c.getRedis(ctx, symbol); ok {
		c.mu.Lock()
		c.cache[symbol] = cachedTicker{ticker: t, at: time.Now()}
		c.mu.Unlock()
		return t, true
	}

	t, ok := c.Client.GetTicker(ctx, symbol)
	if !ok {
		return Ticker{}, false
	}
	now := time.Now()
	c.mu.Lock()
	c.cache[symbol] = cachedTicker{ticker: t, at: now}
	c.mu.Unlock()
	c.setRedis(ctx, symbol, t)
	return t, true
}

// redisKey namespaces the shared cache by symbol so multiple tenant
// processes reading the same exchange's tickers share one L2 entry.
func redisKey(symbol candle.Symbol) string {
	return "ticker:" + string(symbol)
}

func (c *TickerCache) getRedis(ctx context.Context, symbol candle.Symbol) (Ticker, bool) {
	if c.redis == nil {
		return Ticker{}, false
	}
	raw, err := c.redis.Get(ctx, redisKey(symbol)).Bytes()
	if err != nil {
		return Ticker{}, false
	}
	var t Ticker
	if err := json.Unmarshal(raw, &t); err != nil {
		return Ticker{}, false
	}
	return t, true
}

func (c *TickerCache) setRedis(ctx context.Context, symbol candle.Symbol, t Ticker) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	c.redis.Set(ctx, redisKey(symbol), raw, c.ttl)
}

// PaperMode forwards the wrapped client's paper-mode flag when it has one,
// so wrapping a paper exchange in TickerCache doesn't hide it from callers
// that type-assert for it.
func (c *TickerCache) PaperMode() bool {
	type paperTagged interface{ PaperMode() bool }
	if p, ok := c.Client.(paperTagged); ok {
		return p.PaperMode()
	}
	return false
}

// GetAllTickers fetches only the symbols whose cache entry is stale, merging
// fresh entries with cached ones.
func (c *TickerCache) GetAllTickers(ctx context.Context, symbols []candle.Symbol) (map[candle.Symbol]Ticker, bool) {
	result := make(map[candle.Symbol]Ticker, len(symbols))
	var stale []candle.Symbol

	c.mu.Lock()
	now := time.Now()
	for _, s := range symbols {
		if entry, ok := c.cache[s]; ok && now.Sub(entry.at) < c.ttl {
			result[s] = entry.ticker
		} else {
			stale = append(stale, s)
		}
	}
	c.mu.Unlock()

	if len(stale) == 0 {
		return result, true
	}

	fetched, ok := c.Client.GetAllTickers(ctx, stale)
	if !ok {
		if len(result) > 0 {
			return result, true
		}
		return nil, false
	}

	c.mu.Lock()
	for s, t := range fetched {
		c.cache[s] = cachedTicker{ticker: t, at: now}
		result[s] = t
	}
	c.mu.Unlock()
	return result, true
}
