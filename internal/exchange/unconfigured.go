package exchange

import (
	"context"

	"krw-trading-engine/internal/candle"
)

// Unconfigured is the null-object Client: every method reports failure,
// matching the "return null on failure without throwing" contract spec.md
// §6 requires of every real implementation. The supervisor (C10) wires this
// in when a tenant's config names no concrete venue adapter, so a
// mis-provisioned tenant fails closed (empty candles, rejected orders)
// rather than panicking on a nil interface.
type Unconfigured struct{}

var _ Client = Unconfigured{}

func (Unconfigured) Connect(ctx context.Context) bool { return false }

func (Unconfigured) GetCandles(ctx context.Context, symbol candle.Symbol, tf candle.Timeframe, count int) ([]candle.Candle, bool) {
	return nil, false
}

func (Unconfigured) GetTicker(ctx context.Context, symbol candle.Symbol) (Ticker, bool) {
	return Ticker{}, false
}

func (Unconfigured) GetAllTickers(ctx context.Context, symbols []candle.Symbol) (map[candle.Symbol]Ticker, bool) {
	return nil, false
}

func (Unconfigured) GetBalance(ctx context.Context) (Balance, bool) { return Balance{}, false }

func (Unconfigured) GetHoldings(ctx context.Context) (map[string]float64, bool) { return nil, false }

func (Unconfigured) GetDetailedHoldings(ctx context.Context) (map[string]Holding, bool) {
	return nil, false
}

func (Unconfigured) Buy(ctx context.Context, symbol candle.Symbol, krwAmount float64) (OrderResult, bool) {
	return OrderResult{}, false
}

func (Unconfigured) Sell(ctx context.Context, symbol candle.Symbol, quantity float64) (OrderResult, bool) {
	return OrderResult{}, false
}

func (Unconfigured) LimitBuy(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (OrderResult, bool) {
	return OrderResult{}, false
}

func (Unconfigured) LimitSell(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (OrderResult, bool) {
	return OrderResult{}, false
}

func (Unconfigured) OrderStatus(ctx context.Context, orderID string) (OrderStatus, bool) {
	return OrderStatus{}, false
}

func (Unconfigured) CancelOrder(ctx context.Context, orderID string) (alreadyFilled bool, ok bool) {
	return false, false
}

func (Unconfigured) TopVolumeSymbols(ctx context.Context, quote string, limit int) ([]candle.Symbol, bool) {
	return nil, false
}
