package indicators

import "github.com/markcheno/go-talib"

// DefaultRSIPeriod is the Wilder-smoothed lookback used by the compositor
// unless a tenant's learned params override it.
const DefaultRSIPeriod = 14

// RSI returns the Wilder-smoothed Relative Strength Index of closes, or nil
// when there is not enough history for one fully-formed value.
func RSI(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	out := talib.Rsi(closes, period)
	return lastValid(out)
}

func lastValid(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if isNaN(v) {
		return nil
	}
	return &v
}

func isNaN(f float64) bool { return f != f }
