package indicators

import (
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// Regime is the coarse market-state label that drives multiplicative
// parameter adjustments throughout the compositor and risk layer.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeVolatile Regime = "volatile"
)

// RegimeResult carries the label, a confidence in [0,1], and the per-regime
// parameter multipliers the compositor applies to thresholds.
type RegimeResult struct {
	Regime        Regime  `json:"regime"`
	Confidence    float64 `json:"confidence"`
	ThresholdMult float64 `json:"threshold_mult"`
	ADX           float64 `json:"adx"`
	SMASlope      float64 `json:"sma_slope"`
	BBWidthPct    float64 `json:"bb_width_pct"`
	ATRChangePct  float64 `json:"atr_change_pct"`
}

// regimeMultipliers holds the compositor's buy-threshold multiplier per
// regime label.
var regimeMultipliers = map[Regime]float64{
	RegimeTrending: 0.9,
	RegimeRanging:  1.15,
	RegimeVolatile: 1.3,
}

// ClassifyRegime implements spec.md §4.1's rule cascade over the last 30+
// closes: volatile first (ATR spike or high ATR%), then trending (ADX +
// SMA slope), then ranging (low ADX + tight bands), else nearest-by-ADX.
func ClassifyRegime(highs, lows, closes []float64) *RegimeResult {
	const minBars = 31
	if len(closes) < minBars {
		return nil
	}

	adxSeries := talib.Adx(highs, lows, closes, 14)
	adxPtr := lastValid(adxSeries)
	if adxPtr == nil {
		return nil
	}
	adx := *adxPtr

	smaSeries := talib.Sma(closes, 20)
	smaSlope := 0.0
	if n := len(smaSeries); n >= 6 {
		cur, prev := smaSeries[n-1], smaSeries[n-6]
		if !isNaN(cur) && !isNaN(prev) && prev != 0 {
			smaSlope = (cur - prev) / prev * 100
		}
	}

	bb := ComputeBollinger(closes, DefaultBBPeriod, DefaultBBK)
	bbWidth := 0.0
	if bb != nil {
		bbWidth = bb.BandwidthPct
	}

	atr := ComputeATR(highs, lows, closes, DefaultATRPeriod)
	atrChange := 0.0
	atrPct := 0.0
	if atr != nil {
		atrPct = atr.Pct
		if len(closes) >= DefaultATRPeriod*2+1 {
			priorHighs := highs[:len(highs)-DefaultATRPeriod]
			priorLows := lows[:len(lows)-DefaultATRPeriod]
			priorCloses := closes[:len(closes)-DefaultATRPeriod]
			if prior := ComputeATR(priorHighs, priorLows, priorCloses, DefaultATRPeriod); prior != nil && prior.Pct > 0 {
				atrChange = (atrPct - prior.Pct) / prior.Pct * 100
			}
		}
	}

	result := &RegimeResult{ADX: adx, SMASlope: smaSlope, BBWidthPct: bbWidth, ATRChangePct: atrChange}

	switch {
	case atrChange > 50 || atrPct > 3:
		result.Regime = RegimeVolatile
		result.Confidence = confidenceFromMargin(maxf(atrChange-50, atrPct-3), 20)
	case adx > 25 && abs(smaSlope) > 0.3:
		result.Regime = RegimeTrending
		result.Confidence = confidenceFromMargin(adx-25, 25)
	case adx < 20 && bbWidth < 3:
		result.Regime = RegimeRanging
		result.Confidence = confidenceFromMargin(20-adx, 20)
	default:
		// nearest by ADX: pick whichever boundary (20 or 25) is closer.
		if abs(adx-20) < abs(adx-25) {
			result.Regime = RegimeRanging
		} else {
			result.Regime = RegimeTrending
		}
		result.Confidence = 0.4
	}
	result.ThresholdMult = regimeMultipliers[result.Regime]
	return result
}

func confidenceFromMargin(margin, scale float64) float64 {
	if scale <= 0 {
		return 0.5
	}
	c := 0.5 + margin/scale*0.5
	return clamp01(c)
}

// Correlation computes the Pearson correlation between two equal-length
// price-change series, used by the risk governor's correlation filter.
func Correlation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	return stat.Correlation(a, b, nil)
}
