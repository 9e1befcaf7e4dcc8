// Package executor implements C6: the order executor. It wraps an
// exchange.Client with limit-then-market-fallback semantics, a sell-sizing
// guard against stale recorded quantities, and a force-remove counter for
// positions whose sells keep failing. Grounded on the teacher's
// internal/order/manager.go (order lifecycle bookkeeping) generalized to the
// limit-then-market-fallback idea sketched in internal/orders/*.
package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"krw-trading-engine/internal/candle"
	"krw-trading-engine/internal/exchange"
)

// ReasonInsufficientBalance is journaled when a sell is abandoned because
// the exchange holds far less than the recorded position quantity.
const ReasonInsufficientBalance = "잔고 부족"

// MaxSellAttempts is the threshold at which a repeatedly failing sell causes
// the position to be force-removed from internal state.
const MaxSellAttempts = 10

// LimitFallbackParams configures the limit-then-market-fallback loop.
type LimitFallbackParams struct {
	OffsetPct   float64       // price offset applied to the target for marketable limits
	PollEvery   time.Duration // status poll interval
	Timeout     time.Duration // overall time before cancel + market fallback
}

// DefaultLimitFallbackParams matches spec.md §4.6: poll every 3s for up to 30s.
func DefaultLimitFallbackParams() LimitFallbackParams {
	return LimitFallbackParams{OffsetPct: 0.001, PollEvery: 3 * time.Second, Timeout: 30 * time.Second}
}

// Executor wraps an exchange.Client with the fill-confirmation and
// sizing-guard logic the trading loop delegates order placement to.
type Executor struct {
	client exchange.Client
	log    zerolog.Logger
	params LimitFallbackParams
}

// New builds an Executor around client, logging under log.
func New(client exchange.Client, log zerolog.Logger, params LimitFallbackParams) *Executor {
	return &Executor{client: client, log: log, params: params}
}

// Buy places a market buy for krwAmount worth of symbol.
func (e *Executor) Buy(ctx context.Context, symbol candle.Symbol, krwAmount float64) (exchange.OrderResult, bool) {
	result, ok := e.client.Buy(ctx, symbol, krwAmount)
	if !ok {
		e.log.Warn().Str("symbol", string(symbol)).Float64("krw_amount", krwAmount).Msg("buy failed")
		return exchange.OrderResult{}, false
	}
	return result, true
}

// Sell places a market sell for quantity of symbol.
func (e *Executor) Sell(ctx context.Context, symbol candle.Symbol, quantity float64) (exchange.OrderResult, bool) {
	result, ok := e.client.Sell(ctx, symbol, quantity)
	if !ok {
		e.log.Warn().Str("symbol", string(symbol)).Float64("quantity", quantity).Msg("sell failed")
		return exchange.OrderResult{}, false
	}
	return result, true
}

// LimitBuy places a marketable limit at target*(1-offset), polls for a fill,
// and falls back to a market buy on timeout/cancel per spec.md §4.6 steps 1-5.
func (e *Executor) LimitBuy(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (exchange.OrderResult, bool) {
	limitPrice := targetPrice * (1 - e.params.OffsetPct)
	return e.limitWithFallback(ctx, symbol, size, limitPrice, func() (exchange.OrderResult, bool) {
		return e.client.LimitBuy(ctx, symbol, size, limitPrice)
	}, func() (exchange.OrderResult, bool) {
		return e.client.Buy(ctx, symbol, size)
	})
}

// LimitSell places a marketable limit at target*(1+offset), polls for a
// fill, and falls back to a market sell on timeout/cancel.
func (e *Executor) LimitSell(ctx context.Context, symbol candle.Symbol, size, targetPrice float64) (exchange.OrderResult, bool) {
	limitPrice := targetPrice * (1 + e.params.OffsetPct)
	return e.limitWithFallback(ctx, symbol, size, limitPrice, func() (exchange.OrderResult, bool) {
		return e.client.LimitSell(ctx, symbol, size, limitPrice)
	}, func() (exchange.OrderResult, bool) {
		return e.client.Sell(ctx, symbol, size)
	})
}

func (e *Executor) limitWithFallback(
	ctx context.Context,
	symbol candle.Symbol,
	size, limitPrice float64,
	place func() (exchange.OrderResult, bool),
	marketFallback func() (exchange.OrderResult, bool),
) (exchange.OrderResult, bool) {
	placed, ok := place()
	if !ok {
		e.log.Warn().Str("symbol", string(symbol)).Msg("limit order placement failed, falling back to market")
		return marketFallback()
	}

	deadline := time.Now().Add(e.params.Timeout)
	ticker := time.NewTicker(e.params.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return exchange.OrderResult{}, false
		case <-ticker.C:
		}

		status, ok := e.client.OrderStatus(ctx, placed.OrderID)
		if ok && status.Filled {
			placed.Price = status.FillPrice
			placed.Quantity = status.FillQuantity
			return placed, true
		}
		if ok && status.CanceledByUser {
			e.log.Info().Str("symbol", string(symbol)).Str("order_id", placed.OrderID).Msg("limit order canceled externally, falling back to market")
			return marketFallback()
		}
		if time.Now().After(deadline) {
			alreadyFilled, cancelOk := e.client.CancelOrder(ctx, placed.OrderID)
			if cancelOk && alreadyFilled {
				if status, ok := e.client.OrderStatus(ctx, placed.OrderID); ok && status.Filled {
					placed.Price = status.FillPrice
					placed.Quantity = status.FillQuantity
					return placed, true
				}
			}
			e.log.Info().Str("symbol", string(symbol)).Str("order_id", placed.OrderID).Msg("limit order timed out, falling back to market")
			return marketFallback()
		}
	}
}

// SellGuardDecision is the outcome of reconciling a recorded position
// quantity against the exchange's actual held balance before a sell.
type SellGuardDecision struct {
	Proceed       bool
	SellQuantity  float64
	RemoveReason  string // non-empty when the position should be dropped without an order
}

// ReconcileSellQuantity implements spec.md §4.6's sell-sizing guard: below
// 10% held vs recorded, abandon and remove; below recorded, shrink to held.
func ReconcileSellQuantity(recordedQty, heldQty float64) SellGuardDecision {
	if recordedQty <= 0 {
		return SellGuardDecision{Proceed: false, RemoveReason: ReasonInsufficientBalance}
	}
	if heldQty < recordedQty*0.10 {
		return SellGuardDecision{Proceed: false, RemoveReason: ReasonInsufficientBalance}
	}
	if heldQty < recordedQty {
		return SellGuardDecision{Proceed: true, SellQuantity: heldQty}
	}
	return SellGuardDecision{Proceed: true, SellQuantity: recordedQty}
}

// ShouldForceRemove reports whether repeated sell failures for a position
// have crossed the force-remove threshold.
func ShouldForceRemove(sellAttempts int) bool {
	return sellAttempts >= MaxSellAttempts
}
