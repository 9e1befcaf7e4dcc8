// Package risk implements C4's risk governor (can_open precedence chain)
// and adaptive filter, grounded on the teacher's internal/risk/manager.go
// and internal/circuit/breaker.go daily/hourly/consecutive-loss bookkeeping.
package risk

import "time"

// Params bundles every configured limit the governor enforces.
type Params struct {
	DailyLossLimitKRW     float64 // positive magnitude; breach when DailyPnL <= -limit
	RecoveryCooldown      time.Duration
	InitialBalance        float64
	MaxDailyLossPct       float64
	HourlyMaxTrades       int
	BaseMaxPositions      int
	ScalpExtraSlot        int
	CooldownAfterSell     time.Duration
	MaxPositionPct        float64 // of balance
}

// State is the governor's per-tenant mutable bookkeeping, owned by the
// trading loop and updated as trades settle.
type State struct {
	DailyPnL            float64
	LastBuyTs           time.Time
	LastSellTsBySymbol  map[string]time.Time
	OpenPositionSymbols map[string]bool
	BuyTimestamps       []time.Time // rolling, for hourly-rate check
	ConsecutiveLosses   int
}

// NewState returns a zero-value State with its maps initialized.
func NewState() *State {
	return &State{
		LastSellTsBySymbol:  make(map[string]time.Time),
		OpenPositionSymbols: make(map[string]bool),
	}
}

// PruneHourly drops buy timestamps older than 1h from now, keeping the
// hourly-rate counter accurate across ticks.
func (s *State) PruneHourly(now time.Time) {
	cutoff := now.Add(-time.Hour)
	out := s.BuyTimestamps[:0]
	for _, ts := range s.BuyTimestamps {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	s.BuyTimestamps = out
}

// DynamicMaxPositions reduces BaseMaxPositions by 1/2/3 at 2/3/5 consecutive
// losses, plus ScalpExtraSlot when the candidate is scalp-eligible.
func DynamicMaxPositions(base, consecutiveLosses, scalpExtra int, scalpEligible bool) int {
	reduction := 0
	switch {
	case consecutiveLosses >= 5:
		reduction = 3
	case consecutiveLosses >= 3:
		reduction = 2
	case consecutiveLosses >= 2:
		reduction = 1
	}
	max := base - reduction
	if scalpEligible {
		max += scalpExtra
	}
	if max < 0 {
		max = 0
	}
	return max
}

// Decision is can_open's result.
type Decision struct {
	Allowed   bool
	Reason    string
	MaxAmount float64
}

// CanOpen evaluates the precedence chain spec.md §4.4 defines, in order,
// short-circuiting on the first violated rule. It is deterministic given
// identical state/params/args.
func CanOpen(state *State, params Params, now time.Time, symbol string, amount, balance float64, scalpEligible bool) Decision {
	// 1. Daily realized P&L <= configured KRW loss limit.
	if state.DailyPnL <= -params.DailyLossLimitKRW {
		return Decision{Reason: "daily loss limit"}
	}

	// 2. Within 80% of the limit AND last buy inside recovery cooldown.
	if state.DailyPnL <= -params.DailyLossLimitKRW*0.8 && !state.LastBuyTs.IsZero() &&
		now.Sub(state.LastBuyTs) < params.RecoveryCooldown {
		return Decision{Reason: "recovery cooldown"}
	}

	// 3. Daily P&L <= initial_balance * -max_daily_loss_pct.
	if params.InitialBalance > 0 && state.DailyPnL <= -params.InitialBalance*params.MaxDailyLossPct/100 {
		return Decision{Reason: "max daily loss pct"}
	}

	// 4. Last-hour buy count >= hourly_max_trades.
	if len(state.BuyTimestamps) >= params.HourlyMaxTrades {
		return Decision{Reason: "hourly trade limit"}
	}

	// 5. Open positions >= dynamic max.
	dynMax := DynamicMaxPositions(params.BaseMaxPositions, state.ConsecutiveLosses, params.ScalpExtraSlot, scalpEligible)
	if len(state.OpenPositionSymbols) >= dynMax {
		return Decision{Reason: "max open positions"}
	}

	// 6. Symbol already holds a position.
	if state.OpenPositionSymbols[symbol] {
		return Decision{Reason: "position already open"}
	}

	// 7. Last sell on symbol within cooldown_ms.
	if lastSell, ok := state.LastSellTsBySymbol[symbol]; ok && now.Sub(lastSell) < params.CooldownAfterSell {
		return Decision{Reason: "symbol cooldown"}
	}

	// 8. Requested amount > max_position_pct of balance.
	maxAmount := balance * params.MaxPositionPct / 100
	if amount > maxAmount {
		return Decision{Reason: "exceeds max position size", MaxAmount: maxAmount}
	}

	return Decision{Allowed: true, MaxAmount: maxAmount}
}
