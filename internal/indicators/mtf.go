package indicators

import (
	"github.com/markcheno/go-talib"

	"krw-trading-engine/internal/candle"
)

// TimeframeTrend is the per-timeframe {trend, strength} bundle spec.md §4.1
// requires for 5m/1h/4h.
type TimeframeTrend struct {
	Trend    string  `json:"trend"` // up | down | neutral
	Strength float64 `json:"strength"`
}

// MTFBundle is the aggregate boost plus the per-timeframe breakdown that
// produced it.
type MTFBundle struct {
	Frames map[candle.Timeframe]TimeframeTrend `json:"frames"`
	Boost  float64                             `json:"boost"` // [-1.5, +1.5]
}

// timeframeTrend derives {trend, strength} from RSI + MACD trend + SMA slope
// + BB position, matching spec.md §4.1's inputs for a single timeframe.
func timeframeTrend(cs []candle.Candle) (TimeframeTrend, bool) {
	closes := candle.Closes(cs)
	if len(closes) < 35 {
		return TimeframeTrend{}, false
	}

	var votes float64
	var n float64

	if rsi := RSI(closes, DefaultRSIPeriod); rsi != nil {
		n++
		switch {
		case *rsi > 55:
			votes++
		case *rsi < 45:
			votes--
		}
	}
	if macd := ComputeMACD(closes, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal); macd != nil {
		n++
		if macd.Trend == TrendUp {
			votes++
		} else {
			votes--
		}
	}
	if sma := talib.Sma(closes, 20); len(sma) >= 6 {
		cur, prev := sma[len(sma)-1], sma[len(sma)-6]
		if !isNaN(cur) && !isNaN(prev) && prev != 0 {
			n++
			slopePct := (cur - prev) / prev * 100
			switch {
			case slopePct > 0.1:
				votes++
			case slopePct < -0.1:
				votes--
			}
		}
	}
	if bb := ComputeBollinger(closes, DefaultBBPeriod, DefaultBBK); bb != nil {
		n++
		pos := bb.Position(closes[len(closes)-1])
		switch {
		case pos > 0.6:
			votes++
		case pos < 0.4:
			votes--
		}
	}

	if n == 0 {
		return TimeframeTrend{}, false
	}
	strength := clamp01(abs(votes) / n)
	trend := "neutral"
	switch {
	case votes > 0:
		trend = "up"
	case votes < 0:
		trend = "down"
	}
	return TimeframeTrend{Trend: trend, Strength: strength}, true
}

// AggregateMTF combines per-timeframe trends into a single boost in
// [-1.5, +1.5], damped by 0.3 when the 4h frame contradicts 5m per spec.md
// §4.1.
func AggregateMTF(byTimeframe map[candle.Timeframe][]candle.Candle) *MTFBundle {
	frames := make(map[candle.Timeframe]TimeframeTrend)
	for tf, cs := range byTimeframe {
		if t, ok := timeframeTrend(cs); ok {
			frames[tf] = t
		}
	}
	if len(frames) == 0 {
		return nil
	}

	dirScore := func(t TimeframeTrend) float64 {
		switch t.Trend {
		case "up":
			return t.Strength
		case "down":
			return -t.Strength
		default:
			return 0
		}
	}

	var aligned, total int
	var sum float64
	for _, t := range frames {
		sum += dirScore(t)
		total++
		if t.Trend != "neutral" {
			aligned++
		}
	}

	var boost float64
	switch {
	case total == 0:
		boost = 0
	case aligned == total && total == len(byTimeframe):
		boost = 1.5 * sign(sum)
	case float64(aligned) >= float64(total)*2.0/3.0:
		boost = 0.8 * sign(sum)
	default:
		boost = 0.3 * sign(sum)
	}

	if five, ok := frames[candle.Timeframe5m]; ok {
		if four, ok := frames[candle.Timeframe4h]; ok {
			if (five.Trend == "up" && four.Trend == "down") || (five.Trend == "down" && four.Trend == "up") {
				boost *= 0.3
			}
		}
	}

	return &MTFBundle{Frames: frames, Boost: boost}
}

func sign(f float64) float64 {
	if f > 0 {
		return 1
	}
	if f < 0 {
		return -1
	}
	return 0
}
