package indicators

import "github.com/markcheno/go-talib"

const (
	DefaultStochRSIPeriod = 14
	DefaultStochFastK     = 5
	DefaultStochFastD     = 3
)

// StochRSI is the fast-K/fast-D pair of the Stochastic RSI oscillator.
type StochRSI struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// ComputeStochRSI returns the last StochRSI value, or nil when closes is too
// short.
func ComputeStochRSI(closes []float64, period, fastK, fastD int) *StochRSI {
	if len(closes) < period+fastK+fastD {
		return nil
	}
	k, d := talib.StochRsi(closes, period, fastK, fastD, talib.SMA)
	kv, dv := lastValid(k), lastValid(d)
	if kv == nil || dv == nil {
		return nil
	}
	return &StochRSI{K: *kv, D: *dv}
}
