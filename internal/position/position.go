// Package position implements C4's position record and lifecycle state
// machine: break-even, trailing stop, partial take-profit, DCA,
// whipsaw-confirmed stop-loss, and time-based exits.
package position

import "time"

// Position is the per-symbol open-exposure record spec.md §3 defines. It is
// created by the executor on a BUY fill, mutated only by the trading loop,
// and destroyed by a full sell, force-remove, or external-sell detection.
type Position struct {
	Symbol      string    `json:"symbol"`
	EntryPrice  float64   `json:"entry_price"`
	Quantity    float64   `json:"quantity"`
	CostAmount  float64   `json:"cost_amount"`
	EntryTs     time.Time `json:"entry_ts"`

	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	HighestPrice   float64   `json:"highest_price"`
	MaxHoldUntilTs time.Time `json:"max_hold_until_ts"`

	BreakevenSet   bool `json:"breakeven_set"`
	TrailingActive bool `json:"trailing_active"`
	ScalpMode      bool `json:"scalp_mode"`

	DCACount     int `json:"dca_count"`
	PartialSells int `json:"partial_sells"`
	SellAttempts int `json:"sell_attempts"`

	StopHitCount        int       `json:"stop_hit_count"`
	FirstStopHitTs       time.Time `json:"first_stop_hit_ts"`
	LastStopHitTs        time.Time `json:"last_stop_hit_ts"`
	RSIProtectionLogged  bool      `json:"rsi_protection_logged"`

	LastDCATs time.Time `json:"last_dca_ts"`

	ATRPctAtEntry *float64 `json:"atr_pct_at_entry,omitempty"`
	LastRSI       *float64 `json:"last_rsi,omitempty"`
}

// PnLPct returns the unrealized P&L percentage at price, relative to entry.
func (p *Position) PnLPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// HoldDuration returns how long the position has been open as of now.
func (p *Position) HoldDuration(now time.Time) time.Duration {
	return now.Sub(p.EntryTs)
}

// Valid checks the structural invariants spec.md §3 names. maxSLPct (in
// percent) caps the stop-loss: a stop at or above entry*(1+maxSLPct/100) is
// invalid.
func (p *Position) Valid(maxSLPct float64) bool {
	if p.Quantity <= 0 {
		return false
	}
	if p.StopLoss >= p.EntryPrice*(1+maxSLPct/100) {
		return false
	}
	if p.TakeProfit <= p.EntryPrice {
		return false
	}
	if p.HighestPrice < p.EntryPrice {
		return false
	}
	return true
}
