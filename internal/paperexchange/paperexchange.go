// Package paperexchange implements C9: an in-memory exchange shim that uses
// a real market-data feed but simulates order fills, fees, and balances.
// Grounded on chidi150c-coinbase's PaperBroker (mutex-guarded in-memory
// state, uuid order IDs, price-at-fill-time simulation).
package paperexchange

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"krw-trading-engine/internal/candle"
	"krw-trading-engine/internal/exchange"
)

// MarketDataFeed is the real-data subset of exchange.Client the paper
// exchange delegates to for candles/tickers — only orders and balances are
// simulated.
type MarketDataFeed interface {
	Connect(ctx context.Context) bool
	GetCandles(ctx context.Context, symbol candle.Symbol, tf candle.Timeframe, count int) ([]candle.Candle, bool)
	GetTicker(ctx context.Context, symbol candle.Symbol) (exchange.Ticker, bool)
	GetAllTickers(ctx context.Context, symbols []candle.Symbol) (map[candle.Symbol]exchange.Ticker, bool)
	TopVolumeSymbols(ctx context.Context, quote string, limit int) ([]candle.Symbol, bool)
}

// Exchange is a exchange.Client backed by real market data but simulated
// execution, for a tenant's paper_mode.
type Exchange struct {
	feed    MarketDataFeed
	feeRate float64

	mu         sync.Mutex
	krwBalance float64
	holdings   map[string]exchange.Holding // base asset -> holding
	orders     map[string]simOrder
}

type simOrder struct {
	result exchange.OrderResult
}

// New builds a paper exchange seeded with startBalance KRW and the given
// taker fee rate (e.g. 0.0005 for 5bps).
func New(feed MarketDataFeed, startBalance, feeRate float64) *Exchange {
	return &Exchange{
		feed:       feed,
		feeRate:    feeRate,
		krwBalance: startBalance,
		holdings:   make(map[string]exchange.Holding),
		orders:     make(map[string]simOrder),
	}
}

var _ exchange.Client = (*Exchange)(nil)

// PaperMode reports true, letting callers that type-assert for it (the
// dashboard snapshot) distinguish simulated fills from a real venue.
func (e *Exchange) PaperMode() bool { return true }

func (e *Exchange) Connect(ctx context.Context) bool { return e.feed.Connect(ctx) }

func (e *Exchange) GetCandles(ctx context.Context, symbol candle.Symbol, tf candle.Timeframe, count int) ([]candle.Candle, bool) {
	return e.feed.GetCandles(ctx, symbol, tf, count)
}

func (e *Exchange) GetTicker(ctx context.Context, symbol candle.Symbol) (exchange.Ticker, bool) {
	return e.feed.GetTicker(ctx, symbol)
}

func (e *Exchange) GetAllTickers(ctx context.Context, symbols []candle.Symbol) (map[candle.Symbol]exchange.Ticker, bool) {
	return e.feed.GetAllTickers(ctx, symbols)
}

func (e *Exchange) TopVolumeSymbols(ctx context.Context, quote string, limit int) ([]candle.Symbol, bool) {
	return e.feed.TopVolumeSymbols(ctx, quote, limit)
}

func (e *Exchange) GetBalance(ctx context.Context) (exchange.Balance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return exchange.Balance{Free: e.krwBalance, Total: e.krwBalance}, true
}

func (e *Exchange) GetHoldings(ctx context.Context) (map[string]float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.holdings))
	for base, h := range e.holdings {
		out[base] = h.Quantity
	}
	return out, true
}

func (e *Exchange) GetDetailedHoldings(ctx context.Context) (map[string]exchange.Holding, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]exchange.Holding, len(e.holdings))
	for k, v := range e.holdings {
		out[k] = v
	}
	return out, true
}

func (e *Exchange) Buy(ctx context.Context, symbol candle.Symbol, krwAmount float64) (exchange.OrderResult, bool) {
	ticker, ok := e.feed.GetTicker(ctx, symbol)
	if !ok || ticker.Price <= 0 || krwAmount <= 0 {
		return exchange.OrderResult{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.krwBalance < krwAmount {
		return exchange.OrderResult{}, false
	}

	fee := krwAmount * e.feeRate
	netAmount := krwAmount - fee
	qty := netAmount / ticker.Price

	e.krwBalance -= krwAmount
	base := symbol.Base()
	existing := e.holdings[base]
	totalCost := existing.AvgBuyPrice*existing.Quantity + ticker.Price*qty
	totalQty := existing.Quantity + qty
	avg := ticker.Price
	if totalQty > 0 {
		avg = totalCost / totalQty
	}
	e.holdings[base] = exchange.Holding{Quantity: totalQty, AvgBuyPrice: avg}

	result := exchange.OrderResult{OrderID: uuid.NewString(), Price: ticker.Price, Quantity: qty, Amount: krwAmount}
	e.orders[result.OrderID] = simOrder{result: result}
	return result, true
}

func (e *Exchange) Sell(ctx context.Context, symbol candle.Symbol, quantity float64) (exchange.OrderResult, bool) {
	ticker, ok := e.feed.GetTicker(ctx, symbol)
	if !ok || ticker.Price <= 0 || quantity <= 0 {
		return exchange.OrderResult{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	base := symbol.Base()
	h := e.holdings[base]
	if h.Quantity < quantity {
		quantity = h.Quantity
	}
	if quantity <= 0 {
		return exchange.OrderResult{}, false
	}

	gross := ticker.Price * quantity
	fee := gross * e.feeRate
	net := gross - fee

	h.Quantity -= quantity
	if h.Quantity <= 1e-12 {
		delete(e.holdings, base)
	} else {
		e.holdings[base] = h
	}
	e.krwBalance += net

	result := exchange.OrderResult{OrderID: uuid.NewString(), Price: ticker.Price, Quantity: quantity, Amount: net}
	e.orders[result.OrderID] = simOrder{result: result}
	return result, true
}

// LimitBuy/LimitSell fill immediately as the market Buy/Sell do, at the
// current ticker price; targetPrice is not used, since the paper exchange
// has no real order book to rest on.
func (e *Exchange) LimitBuy(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (exchange.OrderResult, bool) {
	return e.Buy(ctx, symbol, size)
}

func (e *Exchange) LimitSell(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (exchange.OrderResult, bool) {
	return e.Sell(ctx, symbol, size)
}

func (e *Exchange) OrderStatus(ctx context.Context, orderID string) (exchange.OrderStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return exchange.OrderStatus{}, false
	}
	return exchange.OrderStatus{Filled: true, FillPrice: o.result.Price, FillQuantity: o.result.Quantity}, true
}

func (e *Exchange) CancelOrder(ctx context.Context, orderID string) (bool, bool) {
	// Paper orders fill synchronously, so a cancel always observes
	// "already filled".
	return true, true
}
