package risk

import "krw-trading-engine/internal/indicators"

// CorrelationFilter rejects a new position when its recent price-change
// series is too tightly correlated with an already-open position, to avoid
// stacking effectively-duplicate exposure.
type CorrelationFilter struct {
	Threshold float64 // e.g. 0.85
}

// Allows returns false when candidate correlates with any open symbol's
// returns series above Threshold.
func (f CorrelationFilter) Allows(candidateReturns []float64, openReturns map[string][]float64) (bool, string) {
	for symbol, returns := range openReturns {
		c := indicators.Correlation(candidateReturns, returns)
		if c >= f.Threshold {
			return false, "correlated with " + symbol
		}
	}
	return true, ""
}
