package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krw-trading-engine/internal/indicators"
	"krw-trading-engine/internal/marketcontext"
)

type fakeCombo struct {
	adjustment float64
	block      bool
	ok         bool
}

func (f fakeCombo) Lookup(key string) (float64, bool, bool) { return f.adjustment, f.block, f.ok }

type fakeLossChecker struct{ block bool }

func (f fakeLossChecker) Check(in LossPatternInput) bool { return f.block }

func TestComposite_BuySignalOnOversoldRSI(t *testing.T) {
	rsi := 25.0
	bundle := Bundle{LastClose: 100, RSI: &rsi}
	cfg := DefaultConfig()
	sig := Composite(bundle, ContextInputs{}, cfg, cfg.BuyThreshold, nil, nil)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Contains(t, sig.ReasonNames, "RSI")
}

func TestComposite_HoldWhenBelowThreshold(t *testing.T) {
	rsi := 50.0
	bundle := Bundle{LastClose: 100, RSI: &rsi}
	cfg := DefaultConfig()
	sig := Composite(bundle, ContextInputs{}, cfg, cfg.BuyThreshold, nil, nil)
	assert.Equal(t, ActionHold, sig.Action)
}

func TestComposite_ComboBlockShortCircuitsToHold(t *testing.T) {
	rsi := 20.0
	bundle := Bundle{LastClose: 100, RSI: &rsi}
	cfg := DefaultConfig()
	sig := Composite(bundle, ContextInputs{}, cfg, cfg.BuyThreshold, fakeCombo{block: true, ok: true}, nil)
	assert.Equal(t, ActionHold, sig.Action)
	assert.Equal(t, "combo_blocked", sig.BlockReason)
}

func TestComposite_LossPatternBlockShortCircuitsToHold(t *testing.T) {
	rsi := 20.0
	bundle := Bundle{LastClose: 100, RSI: &rsi}
	cfg := DefaultConfig()
	sig := Composite(bundle, ContextInputs{}, cfg, cfg.BuyThreshold, nil, fakeLossChecker{block: true})
	assert.Equal(t, ActionHold, sig.Action)
	assert.Equal(t, "loss_pattern_blocked", sig.BlockReason)
}

func TestComposite_SellSignalOnOverboughtRSI(t *testing.T) {
	rsi := 85.0
	bundle := Bundle{LastClose: 100, RSI: &rsi}
	cfg := DefaultConfig()
	sig := Composite(bundle, ContextInputs{}, cfg, cfg.BuyThreshold, nil, nil)
	require.Equal(t, ActionHold, sig.Action) // 2.0 sell score alone is below sell_threshold=3.0
	assert.Equal(t, 2.0, sig.SellScore)
}

func TestReasonSet_ComboKeyIsSortedAndJoined(t *testing.T) {
	rs := ReasonSet(0).With(ReasonMACD).With(ReasonRSI).With(ReasonBB)
	assert.Equal(t, "BB+MACD+RSI", rs.ComboKey())
}

func TestSentimentFragment_CombinesMarketAndSymbol(t *testing.T) {
	r := marketcontext.SentimentResult{MarketScore: 60}
	f := r.Fragment()
	assert.Greater(t, f.BuyBoost, 0.0)
}

func TestScoreMACD_CapsAtOnePointFive(t *testing.T) {
	acc := &scoreAccumulator{}
	scoreMACD(acc, &indicators.MACD{BullishCross: true, Trend: indicators.TrendUp, Divergence: indicators.DivergenceBullish})
	assert.Equal(t, 1.5, acc.buy)
}
