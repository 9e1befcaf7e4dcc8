package signal

import (
	"time"

	"krw-trading-engine/internal/indicators"
	"krw-trading-engine/internal/marketcontext"
)

// Action is the compositor's decision.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Default score thresholds spec.md §4.3 names.
const (
	DefaultBuyThreshold  = 2.0
	DefaultSellThreshold = 3.0
	DefaultVolumeThreshold = 1.5
)

// Bundle is the C1 indicator output for one symbol/scan, assembled by the
// trading loop before calling Composite.
type Bundle struct {
	LastClose     float64
	RSI           *float64
	BB            *indicators.Bollinger
	MACD          *indicators.MACD
	ATR           *indicators.ATR
	StochRSI      *indicators.StochRSI
	Ichimoku      *indicators.Ichimoku
	VWAP          *indicators.VWAP
	VolumeRatio   *float64
	Regime        *indicators.RegimeResult
	Squeeze       *indicators.Squeeze
	Breakout      *indicators.VolatilityBreakout
	Candlesticks  []indicators.DetectedPattern
	ChartPatterns []indicators.DetectedPattern
	MTF           *indicators.MTFBundle
	BullishCandle bool
}

// OrderbookInput is the external order-book snapshot fed in by the trading
// loop's exchange-client collaborator; absent when HasData is false.
type OrderbookInput struct {
	HasData          bool
	ImbalanceRatio    float64 // bid volume / ask volume
	WhaleWallNearBid  bool
	WhaleWallNearAsk  bool
}

// ContextInputs is the C2 fragment bundle for one symbol/scan.
type ContextInputs struct {
	BTCLeader     marketcontext.Fragment
	Sentiment     marketcontext.SentimentResult
	FundingRate   marketcontext.Fragment
	KimchiPremium marketcontext.Fragment
	WhaleFlow     marketcontext.Fragment
	Orderbook     OrderbookInput
	Hour          int
	Symbol        string
}

// Config is the compositor's tunable thresholds, sourced from tenant
// defaults merged with learned-params overrides (C8).
type Config struct {
	RSIOversold     float64
	RSIOverbought   float64
	VolumeThreshold float64
	BuyThreshold    float64
	SellThreshold   float64
}

// DefaultConfig returns the spec.md-named defaults.
func DefaultConfig() Config {
	return Config{
		RSIOversold:     30,
		RSIOverbought:   70,
		VolumeThreshold: DefaultVolumeThreshold,
		BuyThreshold:    DefaultBuyThreshold,
		SellThreshold:   DefaultSellThreshold,
	}
}

// ComboLookup is the C7-backed online combo store the compositor consults
// read-only (never writes).
type ComboLookup interface {
	// Lookup returns the learned adjustment for a combo key and whether it
	// should be blocked outright. ok is false when the combo is unseen.
	Lookup(comboKey string) (adjustment float64, block bool, ok bool)
}

// LossPatternInput is the fact pattern the loss-pattern checker matches
// against.
type LossPatternInput struct {
	RSI        float64
	HasRSI     bool
	BBPosition float64
	HasBB      bool
	Hour       int
	Regime     indicators.Regime
	Symbol     string
}

// LossPatternChecker is the C7-backed blocklist the compositor consults
// read-only.
type LossPatternChecker interface {
	Check(in LossPatternInput) (block bool)
}

// Signal is the compositor's full output, carrying both the decision and
// every input that fed it for journaling/dashboarding.
type Signal struct {
	Action      Action                        `json:"action"`
	BuyScore    float64                       `json:"buy_score"`
	SellScore   float64                       `json:"sell_score"`
	Reasons     ReasonSet                     `json:"-"`
	ReasonNames []string                      `json:"reasons"`
	ComboKey    string                        `json:"combo_key"`
	Indicators  Bundle                        `json:"indicators"`
	Sentiment   marketcontext.SentimentResult `json:"sentiment"`
	Regime      *indicators.RegimeResult      `json:"regime"`
	BlockReason string                        `json:"block_reason,omitempty"`
}

type scoreAccumulator struct {
	buy, sell float64
	reasons   ReasonSet
}

func (a *scoreAccumulator) addBuy(f ReasonFlag, amount float64) {
	if amount <= 0 {
		return
	}
	a.buy += amount
	a.reasons = a.reasons.With(f)
}

func (a *scoreAccumulator) addSell(f ReasonFlag, amount float64) {
	if amount <= 0 {
		return
	}
	a.sell += amount
	a.reasons = a.reasons.With(f)
}

// Composite fuses bundle + ctx into a Signal. effectiveBuyThreshold is the
// caller-computed `base_threshold * regime.mult * mode.mult + adaptive_bump`
// (C4 owns the adaptive filter and mode/regime math); Composite itself stays
// pure and performs no I/O.
func Composite(bundle Bundle, ctx ContextInputs, cfg Config, effectiveBuyThreshold float64, combo ComboLookup, lossChecker LossPatternChecker) Signal {
	acc := &scoreAccumulator{}

	scoreRSI(acc, bundle.RSI, cfg)
	scoreBollinger(acc, bundle.BB, bundle.LastClose)
	scoreVolume(acc, bundle.VolumeRatio, bundle.BullishCandle, cfg)
	scoreMACD(acc, bundle.MACD)
	scorePatterns(acc, bundle.Candlesticks, bundle.ChartPatterns)
	scoreMTF(acc, bundle.MTF)
	scoreOrderbook(acc, ctx.Orderbook)
	scoreFragment(acc, ReasonSENT, ctx.Sentiment.Fragment())
	scoreFragment(acc, ReasonSENT, ctx.BTCLeader)
	scoreFragment(acc, ReasonSENT, ctx.FundingRate)
	scoreFragment(acc, ReasonSENT, ctx.KimchiPremium)
	scoreFragment(acc, ReasonSENT, ctx.WhaleFlow)

	comboKey := acc.reasons.ComboKey()
	blockReason := ""
	if combo != nil {
		if adj, block, ok := combo.Lookup(comboKey); ok {
			if block {
				return holdSignal(bundle, ctx, acc, comboKey, "combo_blocked")
			}
			acc.buy += adj
		}
	}

	if lossChecker != nil {
		rsiVal, hasRSI := 0.0, false
		if bundle.RSI != nil {
			rsiVal, hasRSI = *bundle.RSI, true
		}
		bbPos, hasBB := 0.0, false
		if bundle.BB != nil {
			bbPos, hasBB = bundle.BB.Position(bundle.LastClose), true
		}
		regime := indicators.Regime("")
		if bundle.Regime != nil {
			regime = bundle.Regime.Regime
		}
		in := LossPatternInput{RSI: rsiVal, HasRSI: hasRSI, BBPosition: bbPos, HasBB: hasBB, Hour: ctx.Hour, Regime: regime, Symbol: ctx.Symbol}
		if lossChecker.Check(in) {
			blockReason = "loss_pattern_blocked"
			return holdSignal(bundle, ctx, acc, comboKey, blockReason)
		}
	}

	action := ActionHold
	switch {
	case acc.buy >= effectiveBuyThreshold:
		action = ActionBuy
	case acc.sell >= cfg.SellThreshold:
		action = ActionSell
	}

	return Signal{
		Action:      action,
		BuyScore:    acc.buy,
		SellScore:   acc.sell,
		Reasons:     acc.reasons,
		ReasonNames: acc.reasons.Names(),
		ComboKey:    comboKey,
		Indicators:  bundle,
		Sentiment:   ctx.Sentiment,
		Regime:      bundle.Regime,
	}
}

func holdSignal(bundle Bundle, ctx ContextInputs, acc *scoreAccumulator, comboKey, reason string) Signal {
	return Signal{
		Action:      ActionHold,
		BuyScore:    acc.buy,
		SellScore:   acc.sell,
		Reasons:     acc.reasons,
		ReasonNames: acc.reasons.Names(),
		ComboKey:    comboKey,
		Indicators:  bundle,
		Sentiment:   ctx.Sentiment,
		Regime:      bundle.Regime,
		BlockReason: reason,
	}
}

func scoreRSI(acc *scoreAccumulator, rsi *float64, cfg Config) {
	if rsi == nil {
		return
	}
	if *rsi <= cfg.RSIOversold {
		acc.addBuy(ReasonRSI, 2.0)
	} else if *rsi >= cfg.RSIOverbought {
		acc.addSell(ReasonRSI, 2.0)
	}
}

func scoreBollinger(acc *scoreAccumulator, bb *indicators.Bollinger, lastClose float64) {
	if bb == nil {
		return
	}
	pos := bb.Position(lastClose)

	buy := 0.0
	switch {
	case pos <= 0.05:
		buy = 1.0
	case pos <= 0.15:
		buy = 0.6
	}
	if pos <= 0.3 {
		buy += 1.0
	}
	if buy > 2.0 {
		buy = 2.0
	}
	acc.addBuy(ReasonBB, buy)

	sell := 0.0
	switch {
	case pos >= 0.95:
		sell = 1.0
	case pos >= 0.85:
		sell = 0.6
	}
	if pos >= 0.7 {
		sell += 1.0
	}
	if sell > 2.0 {
		sell = 2.0
	}
	acc.addSell(ReasonBB, sell)
}

func scoreVolume(acc *scoreAccumulator, ratio *float64, bullishCandle bool, cfg Config) {
	if ratio == nil || *ratio < cfg.VolumeThreshold {
		return
	}
	if bullishCandle {
		acc.addBuy(ReasonVOL, 1.0)
	} else {
		acc.addSell(ReasonVOL, 1.0)
	}
}

func scoreMACD(acc *scoreAccumulator, m *indicators.MACD) {
	if m == nil {
		return
	}
	buy, sell := 0.0, 0.0
	if m.BullishCross {
		buy += 1.0
	}
	if m.BearishCross {
		sell += 1.0
	}
	if m.Trend == indicators.TrendUp {
		buy += 0.3
	} else {
		sell += 0.3
	}
	switch m.Divergence {
	case indicators.DivergenceBullish:
		buy += 1.5
	case indicators.DivergenceBearish:
		sell += 1.5
	}
	if buy > 1.5 {
		buy = 1.5
	}
	if sell > 1.5 {
		sell = 1.5
	}
	acc.addBuy(ReasonMACD, buy)
	acc.addSell(ReasonMACD, sell)
}

func scorePatterns(acc *scoreAccumulator, candlesticks, chart []indicators.DetectedPattern) {
	buy, sell := 0.0, 0.0
	for _, p := range candlesticks {
		contribution := p.Strength * 0.5
		if p.Direction == indicators.DirectionBullish {
			buy += contribution
		} else {
			sell += contribution
		}
	}
	for _, p := range chart {
		contribution := 0.7
		if p.Direction == indicators.DirectionBullish {
			buy += contribution
		} else {
			sell += contribution
		}
	}
	if buy > 3.0 {
		buy = 3.0
	}
	if sell > 3.0 {
		sell = 3.0
	}
	acc.addBuy(ReasonPAT, buy)
	acc.addSell(ReasonPAT, sell)
	if len(chart) > 0 {
		acc.reasons = acc.reasons.With(ReasonCHART)
	}
}

func scoreMTF(acc *scoreAccumulator, m *indicators.MTFBundle) {
	if m == nil {
		return
	}
	if m.Boost > 0 {
		acc.addBuy(ReasonMTF, m.Boost)
	} else if m.Boost < 0 {
		acc.addSell(ReasonMTF, -m.Boost)
	}
}

func scoreOrderbook(acc *scoreAccumulator, ob OrderbookInput) {
	if !ob.HasData {
		return
	}
	buy, sell := 0.0, 0.0
	switch {
	case ob.ImbalanceRatio >= 2.0:
		buy = 1.5
	case ob.ImbalanceRatio >= 1.3:
		buy = 0.8
	case ob.ImbalanceRatio <= 0.5:
		sell = 1.5
	case ob.ImbalanceRatio <= 0.77:
		sell = 0.8
	}
	if ob.WhaleWallNearBid {
		buy += 0.5
	}
	if ob.WhaleWallNearAsk {
		sell += 0.5
	}
	if buy > 2.0 {
		buy = 2.0
	}
	if sell > 2.0 {
		sell = 2.0
	}
	acc.addBuy(ReasonVOL, buy)
	acc.addSell(ReasonVOL, sell)
}

func scoreFragment(acc *scoreAccumulator, f ReasonFlag, frag marketcontext.Fragment) {
	acc.addBuy(f, frag.BuyBoost)
	acc.addSell(f, frag.SellBoost)
}

// Hour extracts the 0-23 hour-of-day (time.Time.Hour), the same value the
// adaptive filter and the loss-pattern checker key on.
func Hour(t time.Time) int { return t.Hour() }
