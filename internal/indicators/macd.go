package indicators

import "github.com/markcheno/go-talib"

const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// Trend is the coarse MACD-line direction used by the compositor and the
// multi-timeframe aggregator.
type Trend string

const (
	TrendUp   Trend = "UP"
	TrendDown Trend = "DOWN"
)

// Divergence classifies price/MACD swing disagreement over the lookback
// window spec.md §4.1 names (last 20 closes, 2-bar-confirmed swings).
type Divergence string

const (
	DivergenceNone     Divergence = "none"
	DivergenceBullish  Divergence = "bullish"
	DivergenceBearish  Divergence = "bearish"
)

// MACD is the full MACD bundle spec.md §4.1 requires.
type MACD struct {
	MACD         float64    `json:"macd"`
	Signal       float64    `json:"signal"`
	Histogram    float64    `json:"histogram"`
	BullishCross bool       `json:"bullish_cross"`
	BearishCross bool       `json:"bearish_cross"`
	Trend        Trend      `json:"trend"`
	Divergence   Divergence `json:"divergence"`
}

// ComputeMACD returns the MACD bundle for the last bar, or nil when closes
// is too short for a signal-line value.
func ComputeMACD(closes []float64, fast, slow, signal int) *MACD {
	if len(closes) < slow+signal {
		return nil
	}
	macdLine, signalLine, hist := talib.Macd(closes, fast, slow, signal)
	n := len(macdLine)
	if n < 2 {
		return nil
	}
	m, s, h := macdLine[n-1], signalLine[n-1], hist[n-1]
	if isNaN(m) || isNaN(s) || isNaN(h) {
		return nil
	}
	prevM, prevS := macdLine[n-2], signalLine[n-2]

	bullCross := prevM <= prevS && m > s
	bearCross := prevM >= prevS && m < s

	trend := TrendDown
	if m > s {
		trend = TrendUp
	}

	return &MACD{
		MACD:         m,
		Signal:       s,
		Histogram:    h,
		BullishCross: bullCross,
		BearishCross: bearCross,
		Trend:        trend,
		Divergence:   detectDivergence(closes, macdLine),
	}
}

// swing is a local price/MACD extremum confirmed by two bars on each side.
type swing struct {
	index int
	price float64
	macd  float64
}

// detectDivergence compares the two most recent swing lows (for bullish) or
// swing highs (for bearish) within the last 20 closes.
func detectDivergence(closes, macdLine []float64) Divergence {
	const window = 20
	const confirm = 2

	start := len(closes) - window
	if start < confirm {
		start = confirm
	}
	if len(closes) < start+1 || len(macdLine) != len(closes) {
		return DivergenceNone
	}

	var lows, highs []swing
	for i := start; i < len(closes)-confirm; i++ {
		if i < confirm {
			continue
		}
		isLow, isHigh := true, true
		for j := 1; j <= confirm; j++ {
			if closes[i-j] < closes[i] || closes[i+j] < closes[i] {
				isLow = false
			}
			if closes[i-j] > closes[i] || closes[i+j] > closes[i] {
				isHigh = false
			}
		}
		if isLow {
			lows = append(lows, swing{i, closes[i], macdLine[i]})
		}
		if isHigh {
			highs = append(highs, swing{i, closes[i], macdLine[i]})
		}
	}

	if len(lows) >= 2 {
		a, b := lows[len(lows)-2], lows[len(lows)-1]
		if b.price < a.price && b.macd > a.macd {
			return DivergenceBullish
		}
	}
	if len(highs) >= 2 {
		a, b := highs[len(highs)-2], highs[len(highs)-1]
		if b.price > a.price && b.macd < a.macd {
			return DivergenceBearish
		}
	}
	return DivergenceNone
}
