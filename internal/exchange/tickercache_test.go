package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krw-trading-engine/internal/candle"
)

type countingClient struct {
	Unconfigured
	calls  int
	ticker Ticker
}

func (c *countingClient) GetTicker(ctx context.Context, symbol candle.Symbol) (Ticker, bool) {
	c.calls++
	return c.ticker, true
}

func TestTickerCache_ServesFromCacheWithinTTL(t *testing.T) {
	inner := &countingClient{ticker: Ticker{Price: 100}}
	cache := NewTickerCache(inner, nil)
	symbol := candle.NewSymbol("BTC", "KRW")

	got, ok := cache.GetTicker(context.Background(), symbol)
	require.True(t, ok)
	assert.Equal(t, 100.0, got.Price)
	assert.Equal(t, 1, inner.calls)

	got, ok = cache.GetTicker(context.Background(), symbol)
	require.True(t, ok)
	assert.Equal(t, 100.0, got.Price)
	assert.Equal(t, 1, inner.calls, "second read within TTL should not hit the wrapped client")
}

func TestTickerCache_RefetchesAfterTTLExpires(t *testing.T) {
	inner := &countingClient{ticker: Ticker{Price: 200}}
	cache := NewTickerCache(inner, nil)
	cache.ttl = time.Millisecond
	symbol := candle.NewSymbol("ETH", "KRW")

	_, ok := cache.GetTicker(context.Background(), symbol)
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)

	_, ok = cache.GetTicker(context.Background(), symbol)
	require.True(t, ok)
	assert.Equal(t, 2, inner.calls)
}

func TestTickerCache_PaperModeForwardsWrappedClient(t *testing.T) {
	cache := NewTickerCache(&countingClient{}, nil)
	assert.False(t, cache.PaperMode())
}
