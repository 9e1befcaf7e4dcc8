package position

import "time"

// ExitAction is the sell decision the state machine may emit for a tick.
type ExitAction string

const (
	ExitNone        ExitAction = ""
	ExitHardDrop     ExitAction = "hard_drop"        // "급락"
	ExitWhipsaw      ExitAction = "whipsaw_stop"
	ExitTakeProfit   ExitAction = "take_profit"
	ExitSoftTimeout  ExitAction = "soft_timeout"
	ExitHardTimeout  ExitAction = "hard_timeout"
	ExitStale        ExitAction = "stale_exit"
)

// Decision is the state machine's tick result: either no action, a partial
// sell fraction, or a full-exit reason. Force is set for hard-timeout exits,
// which must execute even mid-whipsaw-confirmation.
type Decision struct {
	Exit           ExitAction
	Force          bool
	PartialSellFraction float64 // >0 means sell this fraction and continue holding
}

// Params bundles every threshold the state machine needs for one tick. The
// *Pct fields and PartialP1/PartialP2 are pnl percentages (1.0 = 1%),
// compared against PnLPct; TrailingDistance is a fraction of price and
// PartialF1/PartialF2 are fractions of the position.
type Params struct {
	BreakevenTriggerPct float64 // pnl_pct >= this raises SL to breakeven
	TrailingActivatePct float64
	TrailingDistance    float64 // fraction below highest_price

	PartialP1, PartialF1 float64
	PartialP2, PartialF2 float64

	HardDropPct float64 // negative, e.g. -7

	ConfirmInterval time.Duration
	ConfirmCount    int
	ConfirmDuration time.Duration
	RSIOversoldProtection float64

	HardMaxHoldHours float64
}

// Tick advances the position's internal state for the current price and
// returns any exit/partial-sell decision. Transitions are idempotent under
// repeated ticks with the same price/time.
func Tick(p *Position, price float64, now time.Time, params Params) Decision {
	if price > p.HighestPrice {
		p.HighestPrice = price
	}

	pnlPct := p.PnLPct(price)

	// 2. Break-even.
	if pnlPct >= params.BreakevenTriggerPct {
		be := p.EntryPrice * 1.001
		if be > p.StopLoss {
			p.StopLoss = be
		}
		p.BreakevenSet = true
	}

	// 3. Trailing.
	if pnlPct >= params.TrailingActivatePct {
		trail := p.HighestPrice * (1 - params.TrailingDistance)
		if trail > p.StopLoss {
			p.StopLoss = trail
		}
		p.TrailingActive = true
	}

	// 4. Partial exits.
	if p.PartialSells == 0 && pnlPct >= params.PartialP1 {
		p.PartialSells = 1
		raiseStopLossFloor(p, 0.998)
		return Decision{PartialSellFraction: params.PartialF1}
	}
	if p.PartialSells == 1 && pnlPct >= params.PartialP2 {
		p.PartialSells = 2
		raiseStopLossFloor(p, 0.998)
		return Decision{PartialSellFraction: params.PartialF2}
	}

	// 5. Hard-drop stop.
	if pnlPct <= params.HardDropPct {
		return Decision{Exit: ExitHardDrop}
	}

	// 9. Hard time-out takes precedence over whipsaw suppression since it is
	// forced regardless of in-flight confirmation state.
	holdHours := now.Sub(p.EntryTs).Hours()
	if params.HardMaxHoldHours > 0 && holdHours >= params.HardMaxHoldHours {
		return Decision{Exit: ExitHardTimeout, Force: true}
	}

	// 6. Whipsaw-confirmed stop.
	if exit := evaluateWhipsaw(p, price, now, params); exit != ExitNone {
		return Decision{Exit: exit}
	}

	// 7. Take-profit.
	if price >= p.TakeProfit {
		return Decision{Exit: ExitTakeProfit}
	}

	// 8. Soft time-out.
	if !p.MaxHoldUntilTs.IsZero() && !now.Before(p.MaxHoldUntilTs) {
		return Decision{Exit: ExitSoftTimeout}
	}

	// 10. Stale exit.
	if holdHours >= 2 && pnlPct > -0.3 && pnlPct < 0.5 {
		return Decision{Exit: ExitStale}
	}

	return Decision{}
}

func raiseStopLossFloor(p *Position, mult float64) {
	floor := p.EntryPrice * mult
	if floor > p.StopLoss {
		p.StopLoss = floor
	}
}

// evaluateWhipsaw implements step 6: repeated, spaced touches of the stop
// loss must be confirmed before a sell fires, unless RSI protection
// suppresses the stop for this tick, or price recovers above SL (a
// successful fake-out resets all whipsaw state).
func evaluateWhipsaw(p *Position, price float64, now time.Time, params Params) ExitAction {
	if p.LastRSI != nil && *p.LastRSI < params.RSIOversoldProtection {
		return ExitNone
	}

	if price > p.StopLoss {
		if p.StopHitCount > 0 {
			resetWhipsaw(p)
		}
		return ExitNone
	}

	// price <= StopLoss: a touch.
	if p.StopHitCount == 0 {
		p.StopHitCount = 1
		p.FirstStopHitTs = now
		p.LastStopHitTs = now
		return ExitNone
	}

	if now.Sub(p.LastStopHitTs) >= params.ConfirmInterval {
		p.StopHitCount++
		p.LastStopHitTs = now
	}

	if p.StopHitCount >= params.ConfirmCount && now.Sub(p.FirstStopHitTs) >= params.ConfirmDuration {
		return ExitWhipsaw
	}
	return ExitNone
}

func resetWhipsaw(p *Position) {
	p.StopHitCount = 0
	p.FirstStopHitTs = time.Time{}
	p.LastStopHitTs = time.Time{}
	p.RSIProtectionLogged = false
}

// DCAParams bundles the preconditions spec.md §4.4 names for can_dca.
type DCAParams struct {
	TriggerPct   float64 // pnl_pct <= this
	MaxCount     int
	MinHold      time.Duration
	RSIMax       float64
	MinInterval  time.Duration
}

// CanDCA reports whether p is eligible to dollar-cost-average at price/now
// given rsi (nil when unavailable, in which case the RSI precondition is
// skipped per spec.md's "when available").
func CanDCA(p *Position, price float64, now time.Time, rsi *float64, params DCAParams) bool {
	if p.PnLPct(price) > params.TriggerPct {
		return false
	}
	if p.DCACount >= params.MaxCount {
		return false
	}
	if now.Sub(p.EntryTs) < params.MinHold {
		return false
	}
	if rsi != nil && *rsi > params.RSIMax {
		return false
	}
	if !p.LastDCATs.IsZero() && now.Sub(p.LastDCATs) < params.MinInterval {
		return false
	}
	if p.StopLoss > 0 && absf(price-p.StopLoss)/price < 0.005 {
		return false
	}
	return true
}

// ApplyDCA folds a new fill into the position: recomputes the weighted
// average entry price and resets SL/TP/highest_price/whipsaw/exit flags, per
// spec.md §4.4.
func ApplyDCA(p *Position, fillPrice, fillQty float64, now time.Time, newSL, newTP float64) {
	totalCost := p.CostAmount + fillPrice*fillQty
	totalQty := p.Quantity + fillQty
	p.CostAmount = totalCost
	p.Quantity = totalQty
	if totalQty > 0 {
		p.EntryPrice = totalCost / totalQty
	}
	p.StopLoss = newSL
	p.TakeProfit = newTP
	p.HighestPrice = p.EntryPrice
	resetWhipsaw(p)
	p.BreakevenSet = false
	p.TrailingActive = false
	p.DCACount++
	p.LastDCATs = now
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
