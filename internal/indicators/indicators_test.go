package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krw-trading-engine/internal/candle"
)

func syntheticCandles(n int, start float64, trendPerBar float64) []candle.Candle {
	out := make([]candle.Candle, n)
	price := start
	ts := time.Now().Add(-time.Duration(n) * 5 * time.Minute).UnixMilli()
	for i := 0; i < n; i++ {
		open := price
		price += trendPerBar
		high := open + abs(trendPerBar) + 0.5
		low := open - abs(trendPerBar) - 0.5
		out[i] = candle.Candle{
			TsMs:   ts + int64(i)*5*60*1000,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: 100 + float64(i%5),
		}
	}
	return out
}

func TestRSI_InsufficientDataReturnsNil(t *testing.T) {
	closes := candle.Closes(syntheticCandles(5, 100, 0.1))
	assert.Nil(t, RSI(closes, DefaultRSIPeriod))
}

func TestRSI_EnoughDataReturnsBoundedValue(t *testing.T) {
	closes := candle.Closes(syntheticCandles(60, 100, 0.2))
	v := RSI(closes, DefaultRSIPeriod)
	require.NotNil(t, v)
	assert.GreaterOrEqual(t, *v, 0.0)
	assert.LessOrEqual(t, *v, 100.0)
}

func TestBollinger_PositionClamped(t *testing.T) {
	closes := candle.Closes(syntheticCandles(40, 100, 0))
	bb := ComputeBollinger(closes, DefaultBBPeriod, DefaultBBK)
	require.NotNil(t, bb)
	p := bb.Position(10000) // far above band
	assert.Equal(t, 1.0, p)
	p = bb.Position(-10000)
	assert.Equal(t, 0.0, p)
}

func TestMACD_NilBelowMinimum(t *testing.T) {
	closes := candle.Closes(syntheticCandles(10, 100, 0.1))
	assert.Nil(t, ComputeMACD(closes, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal))
}

func TestATR_PercentOfClose(t *testing.T) {
	cs := syntheticCandles(40, 100, 0.3)
	atr := ComputeATR(candle.Highs(cs), candle.Lows(cs), candle.Closes(cs), DefaultATRPeriod)
	require.NotNil(t, atr)
	assert.Greater(t, atr.Value, 0.0)
	assert.Greater(t, atr.Pct, 0.0)
}

func TestClassifyRegime_TrendingOnStrongSlope(t *testing.T) {
	cs := syntheticCandles(80, 100, 1.2)
	r := ClassifyRegime(candle.Highs(cs), candle.Lows(cs), candle.Closes(cs))
	require.NotNil(t, r)
	assert.NotEmpty(t, r.Regime)
	assert.Equal(t, RegimeTrending, r.Regime)
	assert.GreaterOrEqual(t, r.Confidence, 0.0)
	assert.LessOrEqual(t, r.Confidence, 1.0)
}

func TestVolumeRatio_AboveAverageOnSpike(t *testing.T) {
	volumes := make([]float64, 25)
	for i := range volumes {
		volumes[i] = 100
	}
	volumes[len(volumes)-1] = 500
	ratio := VolumeRatio(volumes, 20)
	require.NotNil(t, ratio)
	assert.Greater(t, *ratio, 4.0)
}

func TestVWAP_NilOnZeroVolume(t *testing.T) {
	cs := []candle.Candle{{Open: 1, High: 1, Low: 1, Close: 1, Volume: 0}}
	assert.Nil(t, ComputeVWAP(cs))
}

func TestDetectCandlesticks_HammerOnLongLowerWick(t *testing.T) {
	cs := []candle.Candle{
		{Open: 100, High: 101, Low: 99, Close: 100.5},
		{Open: 100, High: 101, Low: 99, Close: 100.2},
		{Open: 100, High: 100.35, Low: 90, Close: 100.3},
	}
	patterns := DetectCandlesticks(cs)
	found := false
	for _, p := range patterns {
		if p.Type == PatternHammer {
			found = true
		}
	}
	assert.True(t, found)
}

func TestIchimoku_NilBelowMinimum(t *testing.T) {
	cs := syntheticCandles(10, 100, 0.1)
	assert.Nil(t, ComputeIchimoku(cs))
}

func TestAggregateMTF_AllAlignedMaxBoost(t *testing.T) {
	up := syntheticCandles(60, 100, 1.5)
	bundle := AggregateMTF(map[candle.Timeframe][]candle.Candle{
		candle.Timeframe5m: up,
		candle.Timeframe1h: up,
		candle.Timeframe4h: up,
	})
	require.NotNil(t, bundle)
	assert.True(t, bundle.Boost > 0)
	assert.InDelta(t, 1.5, bundle.Boost, 1e-9)
}
