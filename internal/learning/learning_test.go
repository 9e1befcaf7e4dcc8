package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krw-trading-engine/config"
	"krw-trading-engine/internal/ledger"
)

func pnlEntry(pnlPct float64) *float64 { return &pnlPct }

func buildJournal(t *testing.T, symbol string, pairs int, pnlPct float64, baseTs int64) []ledger.TradeJournalEntry {
	t.Helper()
	var entries []ledger.TradeJournalEntry
	ts := baseTs
	for i := 0; i < pairs; i++ {
		entries = append(entries, ledger.TradeJournalEntry{
			TradeID: "buy", TsMs: ts, Symbol: symbol, Action: ledger.ActionBuy,
			Price: 100, Reason: "rsi_oversold",
		})
		ts += 3600_000
		entries = append(entries, ledger.TradeJournalEntry{
			TradeID: "sell", TsMs: ts, Symbol: symbol, Action: ledger.ActionSell,
			Price: 100 * (1 + pnlPct/100), PnLPct: pnlEntry(pnlPct),
		})
		ts += 3600_000
	}
	return entries
}

func TestMatchPairs_FIFOMatchesBuysAndSells(t *testing.T) {
	entries := buildJournal(t, "BTC/KRW", 2, 3.0, 1_700_000_000_000)
	pairs := MatchPairs(entries)
	require.Len(t, pairs, 2)
	assert.Equal(t, "BTC/KRW", pairs[0].Symbol)
	assert.Equal(t, 3.0, pairs[0].PnLPct)
	assert.Greater(t, pairs[0].HoldMs, int64(0))
}

func TestMatchPairs_DCARebasesOpenInPlace(t *testing.T) {
	entries := []ledger.TradeJournalEntry{
		{TradeID: "b", TsMs: 1000, Symbol: "ETH/KRW", Action: ledger.ActionBuy, Price: 100, Reason: "rsi_oversold"},
		{TradeID: "d", TsMs: 2000, Symbol: "ETH/KRW", Action: ledger.ActionDCA, Price: 90},
		{TradeID: "s", TsMs: 3000, Symbol: "ETH/KRW", Action: ledger.ActionSell, Price: 95, PnLPct: pnlEntry(5.5)},
	}
	pairs := MatchPairs(entries)
	require.Len(t, pairs, 1)
	assert.Equal(t, 90.0, pairs[0].BuyPrice)
	assert.Equal(t, "rsi_oversold", pairs[0].BuyReason)
}

func TestMatchPairs_SellWithoutOpenIsIgnored(t *testing.T) {
	entries := []ledger.TradeJournalEntry{
		{TradeID: "s", TsMs: 1000, Symbol: "XRP/KRW", Action: ledger.ActionSell, Price: 100, PnLPct: pnlEntry(1)},
	}
	assert.Empty(t, MatchPairs(entries))
}

func TestRun_AbortsBelowMinPairs(t *testing.T) {
	dir := t.TempDir()
	store, err := ledger.Open(dir)
	require.NoError(t, err)

	for _, e := range buildJournal(t, "BTC/KRW", 5, 2.0, 1_700_000_000_000) {
		_, err := store.AppendTrade(e)
		require.NoError(t, err)
	}

	report, err := Run(store, config.DefaultStrategy(), time.Now())
	require.NoError(t, err)
	assert.False(t, report.Ran)
	assert.Equal(t, 5, report.PairCount)
}

func TestRun_ProducesLearnedParamsAboveMinPairs(t *testing.T) {
	dir := t.TempDir()
	store, err := ledger.Open(dir)
	require.NoError(t, err)

	for _, e := range buildJournal(t, "BTC/KRW", MinPairs+5, 4.0, 1_700_000_000_000) {
		_, err := store.AppendTrade(e)
		require.NoError(t, err)
	}

	defaults := config.DefaultStrategy()
	report, err := Run(store, defaults, time.Now())
	require.NoError(t, err)
	require.True(t, report.Ran)
	assert.GreaterOrEqual(t, report.Params.Confidence, 0.0)
	assert.LessOrEqual(t, report.Params.Confidence, 1.0)

	for _, key := range allKeys {
		def := currentValue(key, defaults)
		got := report.Params.Params[string(key)]
		assert.InDelta(t, def, got, absf(def)*0.5+1e-9, "key %s out of +/-50%% bound", key)
	}

	persisted := store.LearnedParams()
	assert.Equal(t, report.Params.Confidence, persisted.Confidence)
}

func TestRun_BuildsBlacklistForConsistentLosers(t *testing.T) {
	dir := t.TempDir()
	store, err := ledger.Open(dir)
	require.NoError(t, err)

	entries := buildJournal(t, "LOSER/KRW", MinPairs, -3.0, 1_700_000_000_000)
	for _, e := range entries {
		_, err := store.AppendTrade(e)
		require.NoError(t, err)
	}

	report, err := Run(store, config.DefaultStrategy(), time.Now())
	require.NoError(t, err)
	require.True(t, report.Ran)
	assert.Contains(t, report.Params.Blacklist, "LOSER/KRW")
}

func TestClamp_BoundsToHalfOfDefault(t *testing.T) {
	assert.Equal(t, 15.0, Clamp(100.0, 10.0))
	assert.Equal(t, 5.0, Clamp(-100.0, 10.0))
	assert.Equal(t, 10.0, Clamp(10.0, 10.0))
}

// The loss-pattern block rule buildLossPatterns writes must be keyed exactly
// the way ledger.PatternKey/Store.Check build a key from live market facts
// at buy time, or a learned rule can never match a future buy.
func TestBuildLossPatterns_KeysMatchLedgerPatternKey(t *testing.T) {
	key := ledger.PatternKey(25, true, 0.1, true, 3, "ranging", "LOSER/KRW")

	var entries []ledger.TradeJournalEntry
	ts := int64(1_700_000_000_000)
	for i := 0; i < 6; i++ {
		entries = append(entries, ledger.TradeJournalEntry{
			TradeID: "buy", TsMs: ts, Symbol: "LOSER/KRW", Action: ledger.ActionBuy,
			Price: 100, Reason: "rsi_oversold",
		})
		ts += 3600_000
		entries = append(entries, ledger.TradeJournalEntry{
			TradeID: "sell", TsMs: ts, Symbol: "LOSER/KRW", Action: ledger.ActionSell,
			Price: 97, PnLPct: pnlEntry(-3.0), Snapshot: key,
		})
		ts += 3600_000
	}

	pairs := MatchPairs(entries)
	require.Len(t, pairs, 6)
	for _, p := range pairs {
		assert.Equal(t, key, p.PatternKey)
	}

	stats := ComputeStats(pairs)
	rules := buildLossPatterns(stats)
	require.Len(t, rules, 1)
	assert.Equal(t, key, rules[0].Key)
	assert.Equal(t, "block", rules[0].Action)
}

func TestComputeStats_BucketsByHoldDuration(t *testing.T) {
	pairs := []Pair{
		{Symbol: "A", PnLPct: 1, HoldMs: int64(30 * time.Minute / time.Millisecond)},
		{Symbol: "A", PnLPct: -1, HoldMs: int64(2 * time.Hour / time.Millisecond)},
	}
	stats := ComputeStats(pairs)
	assert.Equal(t, 1, stats.ByHold[HoldUnder1h].Trades)
	assert.Equal(t, 1, stats.ByHold[Hold1to4h].Trades)
}
