// Package exchange defines the ExchangeClient interface the core consumes
// (spec.md §6) plus a TTL ticker cache wrapper so the scan loop and the
// dashboard never double-fetch.
package exchange

import (
	"context"

	"krw-trading-engine/internal/candle"
)

// Ticker is the latest trade-price snapshot for a symbol.
type Ticker struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Change float64 `json:"change"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
}

// Balance is the tenant's fiat account balance.
type Balance struct {
	Free  float64 `json:"free"`
	Total float64 `json:"total"`
}

// Holding is a detailed exchange holding including the average buy price,
// used by position-sync reconciliation and adoption.
type Holding struct {
	Quantity     float64 `json:"quantity"`
	AvgBuyPrice  float64 `json:"avg_buy_price"`
}

// OrderResult is returned by buy/sell/limit calls on success; nil
// (represented by the (OrderResult, false) form) on failure, per spec.md §6
// ("All methods return null on failure without throwing").
type OrderResult struct {
	OrderID  string  `json:"order_id"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Amount   float64 `json:"amount"`
}

// OrderStatus is the state of a previously-placed limit order.
type OrderStatus struct {
	Filled         bool
	CanceledByUser bool
	FillPrice      float64
	FillQuantity   float64
}

// Client is the exchange collaborator the core consumes. Every method
// degrades to a zero-value/false/nil result on failure rather than
// returning an error — matching spec.md §6's "All methods return null on
// failure without throwing" contract, adapted to Go as an (value, ok) pair.
type Client interface {
	Connect(ctx context.Context) bool

	GetCandles(ctx context.Context, symbol candle.Symbol, tf candle.Timeframe, count int) ([]candle.Candle, bool)
	GetTicker(ctx context.Context, symbol candle.Symbol) (Ticker, bool)
	GetAllTickers(ctx context.Context, symbols []candle.Symbol) (map[candle.Symbol]Ticker, bool)

	GetBalance(ctx context.Context) (Balance, bool)
	GetHoldings(ctx context.Context) (map[string]float64, bool)
	GetDetailedHoldings(ctx context.Context) (map[string]Holding, bool)

	Buy(ctx context.Context, symbol candle.Symbol, krwAmount float64) (OrderResult, bool)
	Sell(ctx context.Context, symbol candle.Symbol, quantity float64) (OrderResult, bool)

	LimitBuy(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (OrderResult, bool)
	LimitSell(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (OrderResult, bool)
	OrderStatus(ctx context.Context, orderID string) (OrderStatus, bool)
	CancelOrder(ctx context.Context, orderID string) (alreadyFilled bool, ok bool)

	TopVolumeSymbols(ctx context.Context, quote string, limit int) ([]candle.Symbol, bool)
}
