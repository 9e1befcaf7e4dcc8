package marketcontext

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krw-trading-engine/internal/indicators"
)

func TestBTCLeaderTracker_NilBeforeTwoSamples(t *testing.T) {
	tr := NewBTCLeaderTracker()
	tr.Update(time.Now(), 90000000)
	assert.Nil(t, tr.Evaluate(time.Now()))
}

func TestBTCLeaderTracker_BuyOnSharpRise(t *testing.T) {
	tr := NewBTCLeaderTracker()
	now := time.Now()
	tr.Update(now.Add(-5*time.Minute), 90000000)
	tr.Update(now.Add(-3*time.Minute), 90500000)
	tr.Update(now.Add(-1*time.Minute), 91800000)
	tr.Update(now, 92500000)
	result := tr.Evaluate(now)
	require.NotNil(t, result)
	// 1m/3m/5m changes of about 0.76%, 2.21% and 2.78% average 1.92%: "buy".
	assert.Equal(t, BTCBuy, result.Class)
	frag := result.Fragment()
	assert.GreaterOrEqual(t, frag.BuyBoost, 0.0)
}

func TestClassifyMode_DefensiveOnFear(t *testing.T) {
	mode := ClassifyMode(ModeInputs{FearGreed: 10, Regime: indicators.RegimeVolatile, BTCMomentumPct: -2})
	assert.Equal(t, ModeDefensive, mode)
}

func TestProfile_UnknownModeFallsBackToDefensive(t *testing.T) {
	p := Mode("bogus").Profile()
	assert.Equal(t, ModeDefensive, p.Mode)
}

func TestAggregateSentiment_ContrarianBoostOnExtremeFear(t *testing.T) {
	r := AggregateSentiment(SentimentInputs{FearGreed: 10, FearGreedHas: true})
	assert.True(t, r.ContrarianBoost)
}

func TestAggregateSentiment_SymbolScoreOnlyWhenMentioned(t *testing.T) {
	r := AggregateSentiment(SentimentInputs{SymbolMentions: 0, SymbolScore: 50})
	assert.Nil(t, r.SymbolScore)

	r = AggregateSentiment(SentimentInputs{SymbolMentions: 1, SymbolScore: 50})
	require.NotNil(t, r.SymbolScore)
	assert.Equal(t, 50.0, *r.SymbolScore)
}

func TestCachedProvider_FallsBackToNeutralWithNoPriorSuccess(t *testing.T) {
	p := NewCachedProvider(time.Minute, func(ctx context.Context) (Fragment, error) {
		return Fragment{}, errors.New("boom")
	})
	assert.Equal(t, Neutral, p.Get(context.Background()))
}

func TestCachedProvider_CachesWithinTTL(t *testing.T) {
	calls := 0
	p := NewCachedProvider(time.Minute, func(ctx context.Context) (Fragment, error) {
		calls++
		return Fragment{BuyBoost: 1}, nil
	})
	p.Get(context.Background())
	p.Get(context.Background())
	assert.Equal(t, 1, calls)
}
