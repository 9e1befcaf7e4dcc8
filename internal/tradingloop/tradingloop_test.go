package tradingloop

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krw-trading-engine/config"
	"krw-trading-engine/internal/candle"
	"krw-trading-engine/internal/exchange"
	"krw-trading-engine/internal/executor"
	"krw-trading-engine/internal/ledger"
	"krw-trading-engine/internal/notification"
	"krw-trading-engine/internal/position"
	"krw-trading-engine/internal/risk"
	"krw-trading-engine/internal/signal"
)

// fakeClient is a minimal, deterministic exchange.Client double: every
// order fills synchronously at the current ticker price with no fees.
type fakeClient struct {
	candles   map[candle.Symbol][]candle.Candle
	tickers   map[candle.Symbol]exchange.Ticker
	balance   exchange.Balance
	holdings  map[string]exchange.Holding
	topSyms   []candle.Symbol
	topSymsOk bool
	orderSeq  int
	orders    map[string]exchange.OrderResult
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		candles:  make(map[candle.Symbol][]candle.Candle),
		tickers:  make(map[candle.Symbol]exchange.Ticker),
		holdings: make(map[string]exchange.Holding),
		orders:   make(map[string]exchange.OrderResult),
	}
}

func (f *fakeClient) Connect(ctx context.Context) bool { return true }

func (f *fakeClient) GetCandles(ctx context.Context, symbol candle.Symbol, tf candle.Timeframe, count int) ([]candle.Candle, bool) {
	cs, ok := f.candles[symbol]
	return cs, ok
}

func (f *fakeClient) GetTicker(ctx context.Context, symbol candle.Symbol) (exchange.Ticker, bool) {
	t, ok := f.tickers[symbol]
	return t, ok
}

func (f *fakeClient) GetAllTickers(ctx context.Context, symbols []candle.Symbol) (map[candle.Symbol]exchange.Ticker, bool) {
	return f.tickers, true
}

func (f *fakeClient) GetBalance(ctx context.Context) (exchange.Balance, bool) { return f.balance, true }

func (f *fakeClient) GetHoldings(ctx context.Context) (map[string]float64, bool) {
	out := make(map[string]float64, len(f.holdings))
	for base, h := range f.holdings {
		out[base] = h.Quantity
	}
	return out, true
}

func (f *fakeClient) GetDetailedHoldings(ctx context.Context) (map[string]exchange.Holding, bool) {
	return f.holdings, true
}

func (f *fakeClient) fill(symbol candle.Symbol, price, quantity, amount float64) exchange.OrderResult {
	f.orderSeq++
	result := exchange.OrderResult{OrderID: "order-" + string(rune('0'+f.orderSeq)), Price: price, Quantity: quantity, Amount: amount}
	f.orders[result.OrderID] = result
	return result
}

func (f *fakeClient) Buy(ctx context.Context, symbol candle.Symbol, krwAmount float64) (exchange.OrderResult, bool) {
	t, ok := f.tickers[symbol]
	if !ok {
		return exchange.OrderResult{}, false
	}
	qty := krwAmount / t.Price
	h := f.holdings[symbol.Base()]
	h.Quantity += qty
	h.AvgBuyPrice = t.Price
	f.holdings[symbol.Base()] = h
	f.balance.Free -= krwAmount
	return f.fill(symbol, t.Price, qty, krwAmount), true
}

func (f *fakeClient) Sell(ctx context.Context, symbol candle.Symbol, quantity float64) (exchange.OrderResult, bool) {
	t, ok := f.tickers[symbol]
	if !ok {
		return exchange.OrderResult{}, false
	}
	h := f.holdings[symbol.Base()]
	if quantity > h.Quantity {
		quantity = h.Quantity
	}
	h.Quantity -= quantity
	f.holdings[symbol.Base()] = h
	amount := quantity * t.Price
	f.balance.Free += amount
	return f.fill(symbol, t.Price, quantity, amount), true
}

func (f *fakeClient) LimitBuy(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (exchange.OrderResult, bool) {
	return f.Buy(ctx, symbol, size)
}

func (f *fakeClient) LimitSell(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (exchange.OrderResult, bool) {
	return f.Sell(ctx, symbol, size)
}

func (f *fakeClient) OrderStatus(ctx context.Context, orderID string) (exchange.OrderStatus, bool) {
	result, ok := f.orders[orderID]
	if !ok {
		return exchange.OrderStatus{}, false
	}
	return exchange.OrderStatus{Filled: true, FillPrice: result.Price, FillQuantity: result.Quantity}, true
}

func (f *fakeClient) CancelOrder(ctx context.Context, orderID string) (bool, bool) { return true, true }

func (f *fakeClient) TopVolumeSymbols(ctx context.Context, quote string, limit int) ([]candle.Symbol, bool) {
	return f.topSyms, f.topSymsOk
}

func newTestLoop(t *testing.T, client *fakeClient) *Loop {
	t.Helper()
	store, err := ledger.Open(t.TempDir())
	require.NoError(t, err)

	exec := executor.New(client, zerolog.Nop(), executor.LimitFallbackParams{
		OffsetPct: 0.001, PollEvery: 5 * time.Millisecond, Timeout: 20 * time.Millisecond,
	})

	return New(Deps{
		TenantID: "t1",
		Quote:    "KRW",
		Client:   client,
		Exec:     exec,
		Store:    store,
		Notifier: notification.NoopNotifier{},
		Log:      zerolog.Nop(),
		Strategy: config.DefaultStrategy(),
	})
}

func flatCandles(n int, price float64) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		out[i] = candle.Candle{TsMs: int64(i) * 300_000, Open: price, High: price * 1.001, Low: price * 0.999, Close: price, Volume: 10}
	}
	return out
}

func TestNew_BuildsLoopReadyToRun(t *testing.T) {
	client := newFakeClient()
	loop := newTestLoop(t, client)
	assert.Equal(t, "t1", loop.tenantID)
	assert.NotNil(t, loop.riskState)
	assert.NotNil(t, loop.btcTracker)
}

func TestRefreshSymbols_UnionsTopVolumeAndHeldPositions(t *testing.T) {
	client := newFakeClient()
	client.topSyms = []candle.Symbol{"BTC/KRW", "ETH/KRW"}
	client.topSymsOk = true
	loop := newTestLoop(t, client)

	positions := loop.store.Positions()
	positions["XRP/KRW"] = &position.Position{Symbol: "XRP/KRW", Quantity: 1, EntryPrice: 500}
	require.NoError(t, loop.store.SavePositions(positions))

	loop.refreshSymbols(context.Background())

	loop.mu.RLock()
	watched := append([]candle.Symbol(nil), loop.watched...)
	loop.mu.RUnlock()

	assert.Contains(t, watched, candle.Symbol("BTC/KRW"))
	assert.Contains(t, watched, candle.Symbol("ETH/KRW"))
	assert.Contains(t, watched, candle.Symbol("XRP/KRW"))
}

func TestSyncPositions_DetectsExternalSellAndRemovesPosition(t *testing.T) {
	client := newFakeClient()
	loop := newTestLoop(t, client)

	positions := loop.store.Positions()
	positions["BTC/KRW"] = &position.Position{Symbol: "BTC/KRW", Quantity: 1.0, EntryPrice: 1000}
	require.NoError(t, loop.store.SavePositions(positions))
	// Exchange no longer holds BTC: the user sold it manually outside the bot.

	loop.syncPositions(context.Background())

	assert.Empty(t, loop.store.Positions())

	entries, err := loop.store.JournalEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ActionSell, entries[0].Action)
}

func TestSyncPositions_BootstrapProtectsUntrackedHoldingsOnFirstBoot(t *testing.T) {
	client := newFakeClient()
	client.holdings["ADA"] = exchange.Holding{Quantity: 1000, AvgBuyPrice: 500}
	loop := newTestLoop(t, client)

	loop.syncPositions(context.Background())

	assert.True(t, loop.protected.IsProtected("ADA"))
	assert.Empty(t, loop.store.Positions())
}

func TestSyncPositions_AdoptsUntrackedHoldingsAfterBootstrap(t *testing.T) {
	client := newFakeClient()
	loop := newTestLoop(t, client)
	loop.mu.Lock()
	loop.bootstrapped = true
	loop.mu.Unlock()

	client.holdings["ADA"] = exchange.Holding{Quantity: 1000, AvgBuyPrice: 500}
	loop.syncPositions(context.Background())

	positions := loop.store.Positions()
	require.Contains(t, positions, "ADA/KRW")
	assert.Equal(t, 500.0, positions["ADA/KRW"].EntryPrice)
}

func TestSyncPositions_IgnoresDustBelowThreshold(t *testing.T) {
	client := newFakeClient()
	loop := newTestLoop(t, client)
	loop.mu.Lock()
	loop.bootstrapped = true
	loop.mu.Unlock()

	client.holdings["DUST"] = exchange.Holding{Quantity: 0.001, AvgBuyPrice: 100}
	loop.syncPositions(context.Background())

	assert.Empty(t, loop.store.Positions())
	assert.False(t, loop.protected.IsProtected("DUST"))
}

func TestEvaluateAdaptive_BumpsScoreOnConsecutiveLosses(t *testing.T) {
	client := newFakeClient()
	loop := newTestLoop(t, client)
	loop.riskState.ConsecutiveLosses = 2

	result := loop.evaluateAdaptive()
	assert.GreaterOrEqual(t, result.MinScoreBump, 0.5)
	assert.Contains(t, result.Reasons, "consecutive_losses")
}

func TestExecuteSellReason_ForceRemovesWhenHoldingsInsufficient(t *testing.T) {
	client := newFakeClient()
	client.tickers["BTC/KRW"] = exchange.Ticker{Price: 1000}
	loop := newTestLoop(t, client)

	pos := &position.Position{Symbol: "BTC/KRW", Quantity: 1.0, EntryPrice: 900}
	positions := loop.store.Positions()
	positions["BTC/KRW"] = pos
	require.NoError(t, loop.store.SavePositions(positions))

	// No holdings recorded on the exchange at all (below the 10% guard band).
	loop.executeSellReason(context.Background(), "BTC/KRW", pos, 1000, "test_force_remove", 1.0)

	entries, err := loop.store.JournalEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ActionForceRemove, entries[0].Action)
	assert.Empty(t, loop.store.Positions())
}

func TestExecuteSellReason_SellsFullyAndJournalsPnL(t *testing.T) {
	client := newFakeClient()
	client.tickers["BTC/KRW"] = exchange.Ticker{Price: 1100}
	client.holdings["BTC"] = exchange.Holding{Quantity: 1.0, AvgBuyPrice: 1000}
	loop := newTestLoop(t, client)

	pos := &position.Position{Symbol: "BTC/KRW", Quantity: 1.0, EntryPrice: 1000}
	positions := loop.store.Positions()
	positions["BTC/KRW"] = pos
	require.NoError(t, loop.store.SavePositions(positions))

	loop.executeSellReason(context.Background(), "BTC/KRW", pos, 1100, "take_profit", 1.0)

	entries, err := loop.store.JournalEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ActionSell, entries[0].Action)
	require.NotNil(t, entries[0].PnLPct)
	assert.InDelta(t, 10.0, *entries[0].PnLPct, 0.01)
	assert.Empty(t, loop.store.Positions())
}

func TestScanSymbol_NoPanicOnInsufficientIndicatorData(t *testing.T) {
	client := newFakeClient()
	client.candles["BTC/KRW"] = flatCandles(5, 1000)
	client.tickers["BTC/KRW"] = exchange.Ticker{Price: 1000}
	loop := newTestLoop(t, client)

	assert.NotPanics(t, func() {
		loop.scanSymbol(context.Background(), "BTC/KRW", "defensive", nil, risk.AdaptiveResult{})
	})
	assert.Empty(t, loop.store.Positions())
}

// A buy attempted while the adaptive filter's hard cooldown is active must
// be rejected before any balance is spent, so the circuit-breaker-style
// lockout it computes actually has teeth.
func TestExecuteBuy_RejectedDuringAdaptiveHardCooldown(t *testing.T) {
	client := newFakeClient()
	client.balance = exchange.Balance{Free: 1_000_000, Total: 1_000_000}
	client.tickers["BTC/KRW"] = exchange.Ticker{Price: 1000}
	loop := newTestLoop(t, client)

	loop.riskState.ConsecutiveLosses = 2
	loop.riskState.LastSellTsBySymbol["BTC/KRW"] = time.Now()

	loop.executeBuy(context.Background(), "BTC/KRW", signal.Signal{Action: signal.ActionBuy, BuyScore: 10}, "defensive", nil)

	assert.Empty(t, loop.store.Positions())
	assert.Equal(t, 1_000_000.0, client.balance.Free)
}

// Snapshot must price a position's P&L against the latest cached ticker, not
// its own entry price (which always yields 0%), and must populate each
// watched symbol's price/change from the same cache.
func TestSnapshot_PricesPositionsAndSymbolsFromCachedTickers(t *testing.T) {
	client := newFakeClient()
	loop := newTestLoop(t, client)

	pos := &position.Position{Symbol: "BTC/KRW", Quantity: 2.0, EntryPrice: 1000}
	positions := loop.store.Positions()
	positions["BTC/KRW"] = pos
	require.NoError(t, loop.store.SavePositions(positions))

	loop.mu.Lock()
	loop.watched = []candle.Symbol{"BTC/KRW"}
	loop.lastTickers["BTC/KRW"] = exchange.Ticker{Price: 1200, Change: 4.5}
	loop.lastSignals["BTC/KRW"] = signal.Signal{Action: signal.ActionHold, BuyScore: 1}
	loop.mu.Unlock()

	snap := loop.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.InDelta(t, 20.0, snap.Positions[0].PnLPct, 0.01)

	require.Len(t, snap.SymbolData, 1)
	assert.Equal(t, 1200.0, snap.SymbolData[0].Price)
	assert.Equal(t, 4.5, snap.SymbolData[0].Change)
}

func TestComputeMarketMode_DefaultsGracefullyWithoutFeeds(t *testing.T) {
	client := newFakeClient()
	client.tickers["BTC/KRW"] = exchange.Ticker{Price: 50_000_000}
	client.candles["BTC/KRW"] = flatCandles(200, 50_000_000)
	loop := newTestLoop(t, client)

	mode, regime := loop.computeMarketMode(context.Background())
	assert.NotEmpty(t, mode)
	_ = regime // may be nil or non-nil depending on synthetic data; must not panic
}
