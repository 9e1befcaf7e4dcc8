package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTestParams() Params {
	return Params{
		DailyLossLimitKRW: 10000,
		RecoveryCooldown:  30 * time.Minute,
		InitialBalance:    1000000,
		MaxDailyLossPct:   5,
		HourlyMaxTrades:   10,
		BaseMaxPositions:  5,
		ScalpExtraSlot:    1,
		CooldownAfterSell: 10 * time.Minute,
		MaxPositionPct:    20,
	}
}

func TestCanOpen_RejectsOnDailyLossLimit(t *testing.T) {
	state := NewState()
	state.DailyPnL = -11000
	d := CanOpen(state, baseTestParams(), time.Now(), "BTC/KRW", 10000, 1000000, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, "daily loss limit", d.Reason)
}

func TestCanOpen_DeterministicAndBoundsOpenPositions(t *testing.T) {
	params := baseTestParams()
	params.BaseMaxPositions = 2
	state := NewState()
	state.OpenPositionSymbols["A/KRW"] = true
	state.OpenPositionSymbols["B/KRW"] = true

	d1 := CanOpen(state, params, time.Now(), "C/KRW", 1000, 1000000, false)
	d2 := CanOpen(state, params, time.Now(), "C/KRW", 1000, 1000000, false)
	assert.Equal(t, d1, d2)
	assert.False(t, d1.Allowed)
}

func TestCanOpen_RejectsWhenSymbolAlreadyOpen(t *testing.T) {
	state := NewState()
	state.OpenPositionSymbols["BTC/KRW"] = true
	d := CanOpen(state, baseTestParams(), time.Now(), "BTC/KRW", 1000, 1000000, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, "position already open", d.Reason)
}

func TestCanOpen_RejectsDuringSymbolCooldown(t *testing.T) {
	state := NewState()
	now := time.Now()
	state.LastSellTsBySymbol["BTC/KRW"] = now.Add(-1 * time.Minute)
	d := CanOpen(state, baseTestParams(), now, "BTC/KRW", 1000, 1000000, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, "symbol cooldown", d.Reason)
}

func TestCanOpen_RejectsAmountAboveMaxPositionPct(t *testing.T) {
	state := NewState()
	d := CanOpen(state, baseTestParams(), time.Now(), "BTC/KRW", 500000, 1000000, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, "exceeds max position size", d.Reason)
}

func TestDynamicMaxPositions_ReducesOnConsecutiveLosses(t *testing.T) {
	assert.Equal(t, 5, DynamicMaxPositions(5, 0, 1, false))
	assert.Equal(t, 4, DynamicMaxPositions(5, 2, 1, false))
	assert.Equal(t, 3, DynamicMaxPositions(5, 3, 1, false))
	assert.Equal(t, 2, DynamicMaxPositions(5, 5, 1, false))
	assert.Equal(t, 3, DynamicMaxPositions(5, 5, 1, true))
}

func TestAdaptiveEvaluate_NightHoursAddsBump(t *testing.T) {
	now := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	res := Evaluate(AdaptiveInputs{Now: now})
	assert.GreaterOrEqual(t, res.MinScoreBump, 0.5)
}

func TestAdaptiveEvaluate_ConsecutiveLossesTriggersHardCooldown(t *testing.T) {
	now := time.Now()
	res := Evaluate(AdaptiveInputs{Now: now, ConsecutiveLosses: 3, LastLossTs: now.Add(-5 * time.Minute)})
	assert.True(t, res.HardCooldown)
}

func TestAdaptiveEvaluate_LowWinRateHalvesSize(t *testing.T) {
	res := Evaluate(AdaptiveInputs{Now: time.Now(), TodaySells: 6, TodayWins: 1})
	assert.Equal(t, 0.5, res.SizeMultiplier)
}

func TestProtectedCoins_NeverSold(t *testing.T) {
	p := NewProtectedCoins([]string{"BTC", "ETH"})
	require.True(t, p.IsProtected("BTC"))
	assert.False(t, p.IsProtected("DOGE"))
}
