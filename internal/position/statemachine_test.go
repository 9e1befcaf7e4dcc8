package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseParams() Params {
	return Params{
		BreakevenTriggerPct: 1.0,
		TrailingActivatePct: 2.0,
		TrailingDistance:    0.01,
		PartialP1:           3.0,
		PartialF1:           0.3,
		PartialP2:           6.0,
		PartialF2:           0.3,
		HardDropPct:         -7,
		ConfirmInterval:     60 * time.Second,
		ConfirmCount:        3,
		ConfirmDuration:     300 * time.Second,
		RSIOversoldProtection: 25,
		HardMaxHoldHours:    48,
	}
}

func newPosition(entry float64, now time.Time) *Position {
	return &Position{
		EntryPrice:   entry,
		Quantity:     1,
		CostAmount:   entry,
		EntryTs:      now,
		StopLoss:     entry * 0.975,
		TakeProfit:   entry * 1.05,
		HighestPrice: entry,
	}
}

func TestTick_BasicTakeProfit(t *testing.T) {
	now := time.Now()
	p := newPosition(100, now)
	path := []float64{100, 101, 103, 105, 105.01}
	var lastDecision Decision
	for _, price := range path {
		lastDecision = Tick(p, price, now, baseParams())
		if lastDecision.Exit != ExitNone {
			break
		}
	}
	assert.Equal(t, ExitTakeProfit, lastDecision.Exit)
	assert.InDelta(t, 5.0, p.PnLPct(105), 0.5)
}

func TestTick_HighestPriceMonotoneNonDecreasing(t *testing.T) {
	now := time.Now()
	p := newPosition(100, now)
	prev := p.HighestPrice
	for _, price := range []float64{101, 99, 103, 98, 104} {
		Tick(p, price, now, baseParams())
		assert.GreaterOrEqual(t, p.HighestPrice, prev)
		prev = p.HighestPrice
	}
}

func TestTick_BreakevenFloorHoldsOnceSet(t *testing.T) {
	now := time.Now()
	p := newPosition(100, now)
	Tick(p, 101.5, now, baseParams())
	require.True(t, p.BreakevenSet)
	assert.GreaterOrEqual(t, p.StopLoss, p.EntryPrice*0.998)
}

func TestWhipsaw_NoSellOnRecoveryBetweenTouches(t *testing.T) {
	params := baseParams()
	params.ConfirmCount = 3
	params.ConfirmDuration = 300 * time.Second
	params.ConfirmInterval = 60 * time.Second

	now := time.Now()
	p := newPosition(100, now)
	p.StopLoss = 97.5

	prices := []float64{97.4, 98.0, 97.3, 98.1, 97.4, 98.2}
	t0 := now
	for i, price := range prices {
		tick := t0.Add(time.Duration(i) * 70 * time.Second)
		d := Tick(p, price, tick, params)
		assert.NotEqual(t, ExitWhipsaw, d.Exit)
	}
}

func TestWhipsaw_SellsAfterConfirmCountAndDuration(t *testing.T) {
	params := baseParams()
	params.ConfirmCount = 3
	params.ConfirmDuration = 300 * time.Second
	params.ConfirmInterval = 60 * time.Second
	params.RSIOversoldProtection = -1 // disable suppression for this test

	now := time.Now()
	p := newPosition(100, now)
	p.StopLoss = 97.5

	touches := []time.Duration{0, 90 * time.Second, 200 * time.Second, 310 * time.Second}
	var last Decision
	for _, d := range touches {
		last = Tick(p, 97.0, now.Add(d), params)
	}
	assert.Equal(t, ExitWhipsaw, last.Exit)
}

func TestCanDCA_RespectsAllPreconditions(t *testing.T) {
	now := time.Now()
	p := newPosition(100, now.Add(-time.Hour))
	p.StopLoss = 90
	rsi := 25.0
	params := DCAParams{TriggerPct: -1.5, MaxCount: 2, MinHold: 30 * time.Minute, RSIMax: 35, MinInterval: 10 * time.Minute}
	assert.True(t, CanDCA(p, 98, now, &rsi, params))

	highRSI := 50.0
	assert.False(t, CanDCA(p, 98, now, &highRSI, params))
}

func TestApplyDCA_RecomputesWeightedEntry(t *testing.T) {
	now := time.Now()
	p := newPosition(100, now)
	p.Quantity = 1
	p.CostAmount = 100
	ApplyDCA(p, 98, 1, now, 95, 105)
	assert.InDelta(t, 99.0, p.EntryPrice, 0.001)
	assert.Equal(t, 1, p.DCACount)
	assert.False(t, p.BreakevenSet)
}

func TestTick_HardTimeoutForcesExitEvenMidWhipsaw(t *testing.T) {
	params := baseParams()
	params.HardMaxHoldHours = 1
	now := time.Now()
	p := newPosition(100, now.Add(-2*time.Hour))
	p.StopLoss = 99
	d := Tick(p, 98, now, params)
	assert.Equal(t, ExitHardTimeout, d.Exit)
	assert.True(t, d.Force)
}
