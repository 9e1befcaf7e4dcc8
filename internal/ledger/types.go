// Package ledger implements C7: per-tenant durable state. A JSONL trade
// journal is the only append-only channel; positions, combo stats,
// loss-patterns, learned params, protected coins, the rolling P&L-minute
// series, and the blacklist are JSON snapshots rewritten atomically on every
// mutation. Grounded on the teacher's chidi150c-coinbase-style
// write-tmp-then-rename snapshot pattern, generalized from a single
// BotState to the multi-file per-tenant layout spec.md §4.7 names.
package ledger

import "krw-trading-engine/internal/position"

// TradeAction is the kind of event a journal row records.
type TradeAction string

const (
	ActionBuy         TradeAction = "BUY"
	ActionDCA         TradeAction = "DCA"
	ActionSell        TradeAction = "SELL"
	ActionPartialSell TradeAction = "PARTIAL_SELL"
	ActionForceRemove TradeAction = "FORCE_REMOVE"
)

// TradeJournalEntry is one append-only row. PnLPct/PnLAmount are only set on
// exits (SELL/PARTIAL_SELL); per the resolved Open Question, PnLAmount is
// always journaled explicitly at exit time rather than reconstructed later.
type TradeJournalEntry struct {
	TradeID       string      `json:"trade_id"`
	TsMs          int64       `json:"ts_ms"`
	Symbol        string      `json:"symbol"`
	Action        TradeAction `json:"action"`
	Price         float64     `json:"price"`
	Quantity      float64     `json:"quantity"`
	Amount        float64     `json:"amount"`
	Reason        string      `json:"reason"`
	PnLPct        *float64    `json:"pnl_pct,omitempty"`
	PnLAmount     *float64    `json:"pnl_amount,omitempty"`
	Snapshot      string      `json:"snapshot,omitempty"`
	Regime        string      `json:"regime,omitempty"`
	UserID        string      `json:"user_id,omitempty"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
}

// ComboStat is one entry of the combo-performance store, keyed by a
// normalized ReasonSet combo key.
type ComboStat struct {
	Trades      int       `json:"trades"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	TotalPnLPct float64   `json:"total_pnl_pct"`
	AvgBuyScore float64   `json:"avg_buy_score"`
	RecentPnLs  []float64 `json:"recent_pnls"`
}

// MaxRecentPnLs bounds ComboStat.RecentPnLs per spec.md §3.
const MaxRecentPnLs = 20

// WinRate returns wins/(wins+losses), or 0 with no closed trades.
func (c ComboStat) WinRate() float64 {
	total := c.Wins + c.Losses
	if total == 0 {
		return 0
	}
	return float64(c.Wins) / float64(total)
}

// LossPatternRule is a learned block/warn rule keyed by the same fact
// pattern the compositor matches on.
type LossPatternRule struct {
	Key       string  `json:"key"`
	LossRate  float64 `json:"loss_rate"`
	Trades    int     `json:"trades"`
	Action    string  `json:"action"` // "block" or "warn"
}

// LearnedParams is the bounded-delta override record spec.md §3 names. The
// strategy loader merges it into defaults only when Confidence >= 0.5, and
// only within +/-50% of each learnable default.
type LearnedParams struct {
	Params         map[string]float64 `json:"params"`
	Confidence     float64            `json:"confidence"`
	Blacklist      []string           `json:"blacklist"`
	PreferredHours []int              `json:"preferred_hours"`
	AvoidHours     []int              `json:"avoid_hours"`
	SymbolScores   map[string]float64 `json:"symbol_scores"`
	UpdatedTsMs    int64              `json:"updated_ts"`
}

// PnLMinuteSample is one point of the rolling 48h 1-minute P&L series.
type PnLMinuteSample struct {
	TsMs int64   `json:"ts_ms"`
	PnL  float64 `json:"pnl"`
}

// PositionsSnapshot is the full rewritten-atomically positions.json
// document: every open position plus today's running P&L.
type PositionsSnapshot struct {
	Positions map[string]*position.Position `json:"positions"`
	DailyPnL  float64                       `json:"daily_pnl"`
	UpdatedTsMs int64                       `json:"updated_ts"`
}
