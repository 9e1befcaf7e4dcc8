package marketcontext

import "krw-trading-engine/internal/indicators"

// Mode is the orthogonal, scalar-driven strategy profile label spec.md's
// GLOSSARY defines: {aggressive, scalping, defensive}.
type Mode string

const (
	ModeAggressive Mode = "aggressive"
	ModeScalping   Mode = "scalping"
	ModeDefensive  Mode = "defensive"
)

// Profile is the full set of strategy parameters a mode carries, read by the
// trading loop on every scan per spec.md §4.2.
type Profile struct {
	Mode                Mode    `json:"mode"`
	BuyThresholdMult    float64 `json:"buy_threshold_mult"`
	MaxPositions        int     `json:"max_positions"`
	PositionSizeMult    float64 `json:"position_size_mult"`
	StopLossPct         float64 `json:"stop_loss_pct"`
	TakeProfitPct       float64 `json:"take_profit_pct"`
	MaxHoldMult         float64 `json:"max_hold_mult"`
	TrailingDistance    float64 `json:"trailing_distance"`
	HourlyMaxTrades     int     `json:"hourly_max_trades"`
	DCAEnabled          bool    `json:"dca_enabled"`
}

// profiles is the static table of mode profiles, grounded on the teacher's
// GinieTradingMode / default_settings.go shape.
var profiles = map[Mode]Profile{
	ModeAggressive: {Mode: ModeAggressive, BuyThresholdMult: 0.85, MaxPositions: 8, PositionSizeMult: 1.2, StopLossPct: 3.0, TakeProfitPct: 6.0, MaxHoldMult: 1.2, TrailingDistance: 0.015, HourlyMaxTrades: 12, DCAEnabled: true},
	ModeScalping:   {Mode: ModeScalping, BuyThresholdMult: 0.9, MaxPositions: 6, PositionSizeMult: 0.8, StopLossPct: 1.5, TakeProfitPct: 2.5, MaxHoldMult: 0.4, TrailingDistance: 0.008, HourlyMaxTrades: 20, DCAEnabled: false},
	ModeDefensive:  {Mode: ModeDefensive, BuyThresholdMult: 1.3, MaxPositions: 3, PositionSizeMult: 0.6, StopLossPct: 2.0, TakeProfitPct: 4.0, MaxHoldMult: 0.8, TrailingDistance: 0.01, HourlyMaxTrades: 5, DCAEnabled: false},
}

// Profile returns the profile for a mode, defaulting to defensive if the
// mode is unrecognized (fail safe).
func (m Mode) Profile() Profile {
	if p, ok := profiles[m]; ok {
		return p
	}
	return profiles[ModeDefensive]
}

// ModeInputs bundles the signals spec.md §4.2 names as mode classification
// inputs.
type ModeInputs struct {
	FearGreed       float64 // 0-100
	Regime          indicators.Regime
	BTCMomentumPct  float64 // average recent BTC % change
	BTCDominanceUp  bool
}

// ClassifyMode combines Fear&Greed, regime, BTC momentum and BTC-dominance
// trend into a scalar and maps it to a mode.
func ClassifyMode(in ModeInputs) Mode {
	score := 0.0

	switch {
	case in.FearGreed >= 75:
		score += 1.5
	case in.FearGreed >= 55:
		score += 0.7
	case in.FearGreed <= 20:
		score -= 1.5
	case in.FearGreed <= 40:
		score -= 0.5
	}

	switch in.Regime {
	case indicators.RegimeTrending:
		score += 1.0
	case indicators.RegimeVolatile:
		score -= 1.0
	}

	switch {
	case in.BTCMomentumPct >= 1:
		score += 1.0
	case in.BTCMomentumPct <= -1:
		score -= 1.0
	}

	if in.BTCDominanceUp {
		score -= 0.3 // altcoin conditions weaken when BTC dominance rises
	}

	switch {
	case score >= 1.5:
		return ModeAggressive
	case score <= -1.5:
		return ModeDefensive
	case in.Regime == indicators.RegimeVolatile:
		return ModeScalping
	default:
		return ModeDefensive
	}
}
