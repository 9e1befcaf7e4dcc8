package indicators

import "github.com/markcheno/go-talib"

const DefaultATRPeriod = 14

// ATR is the EMA of true range plus its expression as a percentage of the
// last close, which the risk layer uses to derive dynamic SL/TP multipliers.
type ATR struct {
	Value float64 `json:"value"`
	Pct   float64 `json:"pct"`
}

// ComputeATR returns the ATR bundle for the last bar, or nil on insufficient
// history or a zero close.
func ComputeATR(highs, lows, closes []float64, period int) *ATR {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	out := talib.Atr(highs, lows, closes, period)
	v := lastValid(out)
	if v == nil {
		return nil
	}
	last := closes[len(closes)-1]
	if last == 0 {
		return nil
	}
	return &ATR{Value: *v, Pct: *v / last * 100}
}

// ClampMultiplier bounds an ATR-derived SL/TP multiplier to configured
// floors/ceilings, matching spec.md §4.1's "clamped to configured bounds".
func ClampMultiplier(mult, min, max float64) float64 {
	if mult < min {
		return min
	}
	if mult > max {
		return max
	}
	return mult
}
