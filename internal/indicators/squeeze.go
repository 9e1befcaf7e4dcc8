package indicators

// Squeeze reports whether Bollinger bandwidth has contracted into a
// historically tight range, a precondition screeners use for imminent
// breakout setups.
type Squeeze struct {
	Active        bool    `json:"active"`
	BandwidthPct  float64 `json:"bandwidth_pct"`
	PercentileLow bool    `json:"percentile_low"`
}

// DetectSqueeze flags a squeeze when the current bandwidth is at or below
// the 20th percentile of the trailing `lookback` bandwidth readings.
func DetectSqueeze(closes []float64, lookback int) *Squeeze {
	if lookback <= 0 {
		lookback = 60
	}
	if len(closes) < DefaultBBPeriod+lookback {
		return nil
	}
	cur := ComputeBollinger(closes, DefaultBBPeriod, DefaultBBK)
	if cur == nil {
		return nil
	}

	widths := make([]float64, 0, lookback)
	start := len(closes) - lookback
	for i := start; i < len(closes); i++ {
		if bb := ComputeBollinger(closes[:i+1], DefaultBBPeriod, DefaultBBK); bb != nil {
			widths = append(widths, bb.BandwidthPct)
		}
	}
	if len(widths) == 0 {
		return nil
	}
	threshold := percentile(widths, 0.2)
	return &Squeeze{
		Active:        cur.BandwidthPct <= threshold,
		BandwidthPct:  cur.BandwidthPct,
		PercentileLow: cur.BandwidthPct <= threshold,
	}
}

func percentile(xs []float64, p float64) float64 {
	sorted := append([]float64(nil), xs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// VolatilityBreakout reports whether the most recent close broke above or
// below the prior bar's Bollinger bands, with the bar's move in percent.
type VolatilityBreakout struct {
	Triggered bool    `json:"triggered"`
	Direction string  `json:"direction"` // "up" | "down"
	MovePct   float64 `json:"move_pct"`
}

// DetectVolatilityBreakout fires when the last close moves beyond the prior
// bar's Bollinger bands. It does not check whether a squeeze preceded the
// move.
func DetectVolatilityBreakout(closes []float64) *VolatilityBreakout {
	if len(closes) < DefaultBBPeriod+2 {
		return nil
	}
	prevBB := ComputeBollinger(closes[:len(closes)-1], DefaultBBPeriod, DefaultBBK)
	if prevBB == nil {
		return nil
	}
	last := closes[len(closes)-1]
	prevClose := closes[len(closes)-2]
	if prevClose == 0 {
		return nil
	}
	move := (last - prevClose) / prevClose * 100

	switch {
	case last > prevBB.Upper:
		return &VolatilityBreakout{Triggered: true, Direction: "up", MovePct: move}
	case last < prevBB.Lower:
		return &VolatilityBreakout{Triggered: true, Direction: "down", MovePct: move}
	default:
		return &VolatilityBreakout{Triggered: false, MovePct: move}
	}
}
