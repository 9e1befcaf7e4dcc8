package ledger

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"krw-trading-engine/internal/position"
	"krw-trading-engine/internal/signal"
)

var (
	_ signal.ComboLookup       = (*Store)(nil)
	_ signal.LossPatternChecker = (*Store)(nil)
)

// Store is the full per-tenant persistence surface: the journal plus every
// JSON snapshot file spec.md §4.7 names, all guarded by one mutex since a
// tenant's trading loop is single-threaded cooperative.
type Store struct {
	dir     string
	journal *Journal

	mu             sync.RWMutex
	positions      PositionsSnapshot
	comboStats     map[string]ComboStat
	lossPatterns   []LossPatternRule
	learnedParams  LearnedParams
	protected      []string
	pnlMinutes     []PnLMinuteSample
	blacklist      []string
	appliedTradeID map[string]bool
}

// Open loads (or initializes) all snapshot files under dir and opens the
// journal. dir is created if it does not exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	journal, err := NewJournal(filepath.Join(dir, "trades.jsonl"))
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:            dir,
		journal:        journal,
		comboStats:     make(map[string]ComboStat),
		appliedTradeID: make(map[string]bool),
	}
	s.positions.Positions = make(map[string]*position.Position)

	if err := readJSON(s.path("positions.json"), &s.positions); err != nil {
		return nil, err
	}
	if s.positions.Positions == nil {
		s.positions.Positions = make(map[string]*position.Position)
	}
	if err := readJSON(s.path("combo-stats.json"), &s.comboStats); err != nil {
		return nil, err
	}
	if err := readJSON(s.path("loss-patterns.json"), &s.lossPatterns); err != nil {
		return nil, err
	}
	if err := readJSON(s.path("learned-params.json"), &s.learnedParams); err != nil {
		return nil, err
	}
	if err := readJSON(s.path("protected-coins.json"), &s.protected); err != nil {
		return nil, err
	}
	if err := readJSON(s.path("pnl-minutes.json"), &s.pnlMinutes); err != nil {
		return nil, err
	}
	if err := readJSON(s.path("blacklist.json"), &s.blacklist); err != nil {
		return nil, err
	}

	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// replay walks the journal to seed the idempotency set and reconcile
// daily_pnl from today's SELL/PARTIAL_SELL rows, per spec.md §4.7's FIFO
// reconstruction requirement (simplified here: pnl_amount is always
// journaled explicitly at exit time, so replay is a direct sum rather than
// re-deriving it from pct — see the resolved Open Question in DESIGN.md).
func (s *Store) replay() error {
	entries, err := s.journal.ReadAll()
	if err != nil {
		return err
	}

	todayStart := startOfDay(time.Now())
	var dailyPnL float64
	for _, e := range entries {
		if e.TradeID != "" {
			s.appliedTradeID[e.TradeID] = true
		}
		ts := time.UnixMilli(e.TsMs)
		if ts.Before(todayStart) {
			continue
		}
		if (e.Action == ActionSell || e.Action == ActionPartialSell) && e.PnLAmount != nil {
			dailyPnL += *e.PnLAmount
		}
	}
	s.positions.DailyPnL = dailyPnL
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AppendTrade writes entry to the journal first (assigning a trade_id if
// absent), then returns it so the caller can mutate in-memory state only on
// success — the journal-before-mutation ordering spec.md's resolved Open
// Question requires.
func (s *Store) AppendTrade(entry TradeJournalEntry) (TradeJournalEntry, error) {
	if entry.TradeID == "" {
		entry.TradeID = uuid.NewString()
	}
	if err := s.journal.Append(entry); err != nil {
		return entry, err
	}
	s.mu.Lock()
	s.appliedTradeID[entry.TradeID] = true
	if (entry.Action == ActionSell || entry.Action == ActionPartialSell) && entry.PnLAmount != nil {
		s.positions.DailyPnL += *entry.PnLAmount
	}
	s.mu.Unlock()
	return entry, nil
}

// AlreadyApplied reports whether a trade_id has already been journaled,
// letting a restart replay treat a matching row as already-applied.
func (s *Store) AlreadyApplied(tradeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appliedTradeID[tradeID]
}

// DailyPnL returns today's running realized P&L.
func (s *Store) DailyPnL() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions.DailyPnL
}

// Positions returns a snapshot copy of the open positions map.
func (s *Store) Positions() map[string]*position.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*position.Position, len(s.positions.Positions))
	for k, v := range s.positions.Positions {
		out[k] = v
	}
	return out
}

// SavePositions rewrites positions.json atomically with the given open
// position set and today's daily P&L.
func (s *Store) SavePositions(positions map[string]*position.Position) error {
	s.mu.Lock()
	s.positions.Positions = positions
	s.positions.UpdatedTsMs = time.Now().UnixMilli()
	snap := s.positions
	s.mu.Unlock()
	return writeJSONAtomic(s.path("positions.json"), snap)
}

// RecordPnLMinute appends a 1-minute P&L sample, trimming anything older
// than 48h, and persists the series.
func (s *Store) RecordPnLMinute(now time.Time, pnl float64) error {
	s.mu.Lock()
	s.pnlMinutes = append(s.pnlMinutes, PnLMinuteSample{TsMs: now.UnixMilli(), PnL: pnl})
	cutoff := now.Add(-48 * time.Hour).UnixMilli()
	trimmed := s.pnlMinutes[:0]
	for _, sample := range s.pnlMinutes {
		if sample.TsMs >= cutoff {
			trimmed = append(trimmed, sample)
		}
	}
	s.pnlMinutes = trimmed
	snap := append([]PnLMinuteSample(nil), s.pnlMinutes...)
	s.mu.Unlock()
	return writeJSONAtomic(s.path("pnl-minutes.json"), snap)
}

// PnLMinutes returns a copy of the rolling P&L series.
func (s *Store) PnLMinutes() []PnLMinuteSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PnLMinuteSample(nil), s.pnlMinutes...)
}

// Lookup implements signal.ComboLookup: it reads the learned combo-stats
// store and never writes.
func (s *Store) Lookup(comboKey string) (adjustment float64, block bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stat, found := s.comboStats[comboKey]
	if !found || stat.Trades < 3 {
		return 0, false, false
	}
	winRate := stat.WinRate()
	switch {
	case winRate >= 0.65:
		return 1.0, false, true
	case winRate <= 0.25:
		return 0, true, true
	case winRate >= 0.5:
		return 0.5, false, true
	default:
		return -0.5, false, true
	}
}

// RecordComboOutcome folds one closed trade's pnl_pct and buy_score into the
// combo's running stats; the trading loop calls it after every SELL and
// PARTIAL_SELL fill.
func (s *Store) RecordComboOutcome(comboKey string, buyScore, pnlPct float64, win bool) error {
	s.mu.Lock()
	stat := s.comboStats[comboKey]
	stat.Trades++
	if win {
		stat.Wins++
	} else {
		stat.Losses++
	}
	stat.TotalPnLPct += pnlPct
	stat.AvgBuyScore = (stat.AvgBuyScore*float64(stat.Trades-1) + buyScore) / float64(stat.Trades)
	stat.RecentPnLs = append(stat.RecentPnLs, pnlPct)
	if len(stat.RecentPnLs) > MaxRecentPnLs {
		stat.RecentPnLs = stat.RecentPnLs[len(stat.RecentPnLs)-MaxRecentPnLs:]
	}
	s.comboStats[comboKey] = stat
	snap := make(map[string]ComboStat, len(s.comboStats))
	for k, v := range s.comboStats {
		snap[k] = v
	}
	s.mu.Unlock()
	return writeJSONAtomic(s.path("combo-stats.json"), snap)
}

// Check implements signal.LossPatternChecker against the learned
// loss-pattern rule set.
func (s *Store) Check(in signal.LossPatternInput) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := PatternKey(in.RSI, in.HasRSI, in.BBPosition, in.HasBB, in.Hour, string(in.Regime), in.Symbol)
	for _, rule := range s.lossPatterns {
		if rule.Action == "block" && rule.Key == key {
			return true
		}
	}
	return false
}

// PatternKey builds the fact-pattern key the loss-pattern rule set matches
// on, from an RSI band, a Bollinger-position band, an hour-of-day band, a
// regime label, and a symbol. Both Check (read, against live market facts)
// and the learning pass (write, against journaled exit facts) must build
// this key the same way or the two never intersect.
func PatternKey(rsi float64, hasRSI bool, bbPosition float64, hasBB bool, hour int, regime, symbol string) string {
	rsiBucket := "na"
	if hasRSI {
		rsiBucket = rsiBand(rsi)
	}
	bbBucket := "na"
	if hasBB {
		bbBucket = bbBand(bbPosition)
	}
	return rsiBucket + "|" + bbBucket + "|" + hourBand(hour) + "|" + regime + "|" + symbol
}

func rsiBand(rsi float64) string {
	switch {
	case rsi < 30:
		return "oversold"
	case rsi > 70:
		return "overbought"
	default:
		return "neutral"
	}
}

func bbBand(pos float64) string {
	switch {
	case pos < 0.2:
		return "lower"
	case pos > 0.8:
		return "upper"
	default:
		return "mid"
	}
}

func hourBand(hour int) string {
	switch {
	case hour >= 0 && hour < 6:
		return "night"
	case hour >= 6 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

// LossPatterns returns a copy of the currently learned loss-pattern rule
// set, for the dashboard's learning-status view.
func (s *Store) LossPatterns() []LossPatternRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LossPatternRule(nil), s.lossPatterns...)
}

// SetLossPatterns replaces the learned loss-pattern rule set (learning-pass
// write path) and persists it.
func (s *Store) SetLossPatterns(rules []LossPatternRule) error {
	s.mu.Lock()
	s.lossPatterns = rules
	snap := append([]LossPatternRule(nil), rules...)
	s.mu.Unlock()
	return writeJSONAtomic(s.path("loss-patterns.json"), snap)
}

// LearnedParams returns the currently persisted learned-params record.
func (s *Store) LearnedParams() LearnedParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.learnedParams
}

// SetLearnedParams replaces and persists the learned-params record.
func (s *Store) SetLearnedParams(p LearnedParams) error {
	s.mu.Lock()
	s.learnedParams = p
	s.mu.Unlock()
	return writeJSONAtomic(s.path("learned-params.json"), p)
}

// ProtectedCoins returns the persisted protected-coin base-asset list.
func (s *Store) ProtectedCoins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.protected...)
}

// SetProtectedCoins replaces and persists the protected-coin list.
func (s *Store) SetProtectedCoins(bases []string) error {
	s.mu.Lock()
	s.protected = bases
	snap := append([]string(nil), bases...)
	s.mu.Unlock()
	return writeJSONAtomic(s.path("protected-coins.json"), snap)
}

// Blacklist returns the persisted symbol blacklist.
func (s *Store) Blacklist() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.blacklist...)
}

// SetBlacklist replaces and persists the symbol blacklist, sorted for
// deterministic dashboard rendering.
func (s *Store) SetBlacklist(symbols []string) error {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	s.mu.Lock()
	s.blacklist = sorted
	s.mu.Unlock()
	return writeJSONAtomic(s.path("blacklist.json"), sorted)
}

// ComboStats returns a copy of the combo-performance store, for dashboard
// rendering.
func (s *Store) ComboStats() map[string]ComboStat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ComboStat, len(s.comboStats))
	for k, v := range s.comboStats {
		out[k] = v
	}
	return out
}

// JournalEntries replays the full trade journal, for the learning pass.
func (s *Store) JournalEntries() ([]TradeJournalEntry, error) {
	return s.journal.ReadAll()
}
