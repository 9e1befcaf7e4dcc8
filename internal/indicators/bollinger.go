package indicators

import "github.com/markcheno/go-talib"

// DefaultBBPeriod and DefaultBBK are the Bollinger band defaults spec.md §4.1
// names: period=20, k=2.
const (
	DefaultBBPeriod = 20
	DefaultBBK      = 2.0
)

// Bollinger holds the upper/middle/lower bands plus bandwidth expressed as a
// percentage of the middle band, used by both the squeeze detector and the
// signal compositor's price-position scoring.
type Bollinger struct {
	Upper        float64 `json:"upper"`
	Middle       float64 `json:"middle"`
	Lower        float64 `json:"lower"`
	BandwidthPct float64 `json:"bandwidth_pct"`
}

// ComputeBollinger returns the Bollinger bands for the last close, or nil
// when closes is shorter than period.
func ComputeBollinger(closes []float64, period int, k float64) *Bollinger {
	if period <= 0 || len(closes) < period {
		return nil
	}
	upper, middle, lower := talib.BBands(closes, period, k, k, talib.SMA)
	u, m, l := lastValid(upper), lastValid(middle), lastValid(lower)
	if u == nil || m == nil || l == nil || *m == 0 {
		return nil
	}
	return &Bollinger{
		Upper:        *u,
		Middle:       *m,
		Lower:        *l,
		BandwidthPct: (*u - *l) / *m * 100,
	}
}

// Position returns where the last close sits within the band, clamped to
// [0,1] (0 = at/below lower band, 1 = at/above upper band).
func (b *Bollinger) Position(lastClose float64) float64 {
	width := b.Upper - b.Lower
	if width <= 0 {
		switch {
		case lastClose > b.Upper:
			return 1
		case lastClose < b.Lower:
			return 0
		}
		return 0.5
	}
	p := (lastClose - b.Lower) / width
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}
