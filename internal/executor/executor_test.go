package executor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krw-trading-engine/internal/candle"
	"krw-trading-engine/internal/exchange"
)

type fakeClient struct {
	buyResult  exchange.OrderResult
	buyOK      bool
	sellResult exchange.OrderResult
	sellOK     bool

	limitBuyResult  exchange.OrderResult
	limitBuyOK      bool
	statusSequence  []exchange.OrderStatus
	statusOKSeq     []bool
	statusCallIdx   int
	cancelAlreadyFilled bool
	cancelOK            bool
}

func (f *fakeClient) Connect(ctx context.Context) bool { return true }
func (f *fakeClient) GetCandles(ctx context.Context, symbol candle.Symbol, tf candle.Timeframe, count int) ([]candle.Candle, bool) {
	return nil, false
}
func (f *fakeClient) GetTicker(ctx context.Context, symbol candle.Symbol) (exchange.Ticker, bool) {
	return exchange.Ticker{}, false
}
func (f *fakeClient) GetAllTickers(ctx context.Context, symbols []candle.Symbol) (map[candle.Symbol]exchange.Ticker, bool) {
	return nil, false
}
func (f *fakeClient) GetBalance(ctx context.Context) (exchange.Balance, bool) { return exchange.Balance{}, false }
func (f *fakeClient) GetHoldings(ctx context.Context) (map[string]float64, bool) { return nil, false }
func (f *fakeClient) GetDetailedHoldings(ctx context.Context) (map[string]exchange.Holding, bool) {
	return nil, false
}
func (f *fakeClient) Buy(ctx context.Context, symbol candle.Symbol, krwAmount float64) (exchange.OrderResult, bool) {
	return f.buyResult, f.buyOK
}
func (f *fakeClient) Sell(ctx context.Context, symbol candle.Symbol, quantity float64) (exchange.OrderResult, bool) {
	return f.sellResult, f.sellOK
}
func (f *fakeClient) LimitBuy(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (exchange.OrderResult, bool) {
	return f.limitBuyResult, f.limitBuyOK
}
func (f *fakeClient) LimitSell(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (exchange.OrderResult, bool) {
	return f.limitBuyResult, f.limitBuyOK
}
func (f *fakeClient) OrderStatus(ctx context.Context, orderID string) (exchange.OrderStatus, bool) {
	idx := f.statusCallIdx
	if idx >= len(f.statusSequence) {
		idx = len(f.statusSequence) - 1
	}
	f.statusCallIdx++
	return f.statusSequence[idx], f.statusOKSeq[idx]
}
func (f *fakeClient) CancelOrder(ctx context.Context, orderID string) (bool, bool) {
	return f.cancelAlreadyFilled, f.cancelOK
}
func (f *fakeClient) TopVolumeSymbols(ctx context.Context, quote string, limit int) ([]candle.Symbol, bool) {
	return nil, false
}

func testParams() LimitFallbackParams {
	return LimitFallbackParams{OffsetPct: 0.001, PollEvery: 5 * time.Millisecond, Timeout: 12 * time.Millisecond}
}

func TestLimitBuy_FillsWithinPoll(t *testing.T) {
	fc := &fakeClient{
		limitBuyResult: exchange.OrderResult{OrderID: "o1"},
		limitBuyOK:     true,
		statusSequence: []exchange.OrderStatus{{Filled: true, FillPrice: 100, FillQuantity: 1}},
		statusOKSeq:    []bool{true},
	}
	e := New(fc, zerolog.Nop(), testParams())
	result, ok := e.LimitBuy(context.Background(), "BTC/KRW", 1, 100)
	require.True(t, ok)
	assert.Equal(t, 100.0, result.Price)
}

func TestLimitBuy_FallsBackToMarketOnTimeout(t *testing.T) {
	fc := &fakeClient{
		limitBuyResult: exchange.OrderResult{OrderID: "o1"},
		limitBuyOK:     true,
		statusSequence: []exchange.OrderStatus{{Filled: false}, {Filled: false}, {Filled: false}},
		statusOKSeq:    []bool{true, true, true},
		cancelAlreadyFilled: false,
		cancelOK:            true,
		buyResult:           exchange.OrderResult{OrderID: "market1", Price: 101},
		buyOK:               true,
	}
	e := New(fc, zerolog.Nop(), testParams())
	result, ok := e.LimitBuy(context.Background(), "BTC/KRW", 1, 100)
	require.True(t, ok)
	assert.Equal(t, "market1", result.OrderID)
}

func TestLimitBuy_AcceptsAlreadyFilledOnCancel(t *testing.T) {
	fc := &fakeClient{
		limitBuyResult: exchange.OrderResult{OrderID: "o1"},
		limitBuyOK:     true,
		statusSequence: []exchange.OrderStatus{{Filled: false}, {Filled: true, FillPrice: 99, FillQuantity: 1}},
		statusOKSeq:    []bool{true, true},
		cancelAlreadyFilled: true,
		cancelOK:            true,
	}
	// The deadline has passed by the first poll, so the unfilled status leads
	// straight to cancel, which reports already-filled and is re-queried.
	params := testParams()
	params.Timeout = time.Millisecond
	e := New(fc, zerolog.Nop(), params)
	result, ok := e.LimitBuy(context.Background(), "BTC/KRW", 1, 100)
	require.True(t, ok)
	assert.Equal(t, 99.0, result.Price)
}

func TestLimitBuy_FallsBackOnExternalCancel(t *testing.T) {
	fc := &fakeClient{
		limitBuyResult: exchange.OrderResult{OrderID: "o1"},
		limitBuyOK:     true,
		statusSequence: []exchange.OrderStatus{{CanceledByUser: true}},
		statusOKSeq:    []bool{true},
		buyResult:      exchange.OrderResult{OrderID: "market2"},
		buyOK:          true,
	}
	e := New(fc, zerolog.Nop(), testParams())
	result, ok := e.LimitBuy(context.Background(), "BTC/KRW", 1, 100)
	require.True(t, ok)
	assert.Equal(t, "market2", result.OrderID)
}

func TestReconcileSellQuantity_RemovesOnNearZeroBalance(t *testing.T) {
	d := ReconcileSellQuantity(10, 0.5)
	assert.False(t, d.Proceed)
	assert.Equal(t, ReasonInsufficientBalance, d.RemoveReason)
}

func TestReconcileSellQuantity_ShrinksToHeld(t *testing.T) {
	d := ReconcileSellQuantity(10, 7)
	assert.True(t, d.Proceed)
	assert.Equal(t, 7.0, d.SellQuantity)
}

func TestReconcileSellQuantity_FullQuantityWhenHeldCoversRecorded(t *testing.T) {
	d := ReconcileSellQuantity(10, 10)
	assert.True(t, d.Proceed)
	assert.Equal(t, 10.0, d.SellQuantity)
}

func TestShouldForceRemove_ThresholdAtTen(t *testing.T) {
	assert.False(t, ShouldForceRemove(9))
	assert.True(t, ShouldForceRemove(10))
}
