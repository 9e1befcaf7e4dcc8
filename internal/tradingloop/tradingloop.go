// Package tradingloop implements C5: the per-tenant cooperative scan loop
// that ties together C1 (indicators), C2 (market context), C3 (compositor),
// C4 (position/risk state) and C6 (executor) into the periodic orchestrator
// spec.md §4.5 describes. Grounded on the teacher's internal/bot/bot.go
// runStrategy/evaluateStrategy/monitorPositions goroutine-per-concern shape,
// collapsed into the single-threaded cooperative loop spec.md §5 mandates
// (one tenant, one in-flight scan, suspension only at exchange/file/sleep
// boundaries).
package tradingloop

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"krw-trading-engine/config"
	"krw-trading-engine/internal/candle"
	"krw-trading-engine/internal/events"
	"krw-trading-engine/internal/exchange"
	"krw-trading-engine/internal/executor"
	"krw-trading-engine/internal/indicators"
	"krw-trading-engine/internal/learning"
	"krw-trading-engine/internal/ledger"
	"krw-trading-engine/internal/marketcontext"
	"krw-trading-engine/internal/notification"
	"krw-trading-engine/internal/position"
	"krw-trading-engine/internal/risk"
	"krw-trading-engine/internal/signal"
)

// dustThresholdKRW is the minimum notional an untracked exchange holding
// must clear before position-sync bothers adopting or protecting it.
const dustThresholdKRW = 5000.0

// MentionsFetcher returns a per-symbol sentiment score and mention count; ok
// is false when the upstream source has nothing for this symbol.
type MentionsFetcher func(ctx context.Context, symbol string) (score float64, mentions int, ok bool)

// ScalarFetcher returns a single market-wide scalar reading.
type ScalarFetcher func(ctx context.Context) (value float64, ok bool)

// BoolFetcher returns a single market-wide boolean reading.
type BoolFetcher func(ctx context.Context) (value bool, ok bool)

// OrderbookFetcher returns the order-book snapshot input for one symbol.
type OrderbookFetcher func(ctx context.Context, symbol string) (signal.OrderbookInput, bool)

// MarketFeeds bundles every optional C2 upstream collaborator. Every field
// is nil-safe: an absent feed degrades its fragment to neutral rather than
// blocking the scan, per spec.md §4.2's "must degrade to null/neutral on
// failure without propagating".
type MarketFeeds struct {
	FearGreed        ScalarFetcher
	SocialSentiment  ScalarFetcher
	NewsSentiment    ScalarFetcher
	BTCDominanceUp   BoolFetcher
	SymbolMentions   MentionsFetcher
	FundingRate      marketcontext.FundingRateFetcher
	KimchiPremium    marketcontext.KimchiPremiumFetcher
	WhaleFlow        marketcontext.WhaleFlowFetcher
	Orderbook        OrderbookFetcher
}

// Deps is everything one tenant's loop needs, assembled by the tenant
// supervisor (C10) per spec.md §9's "explicit per-tenant context" redesign
// note — no singleton strategy config or journal path is read here.
type Deps struct {
	TenantID string
	Quote    string // fiat quote currency, e.g. "KRW"

	Client   exchange.Client
	Exec     *executor.Executor
	Store    *ledger.Store
	Notifier notification.Notifier
	Bus      *events.Bus
	Log      zerolog.Logger

	Strategy  config.StrategyDefaults
	Protected *risk.ProtectedCoins
	Feeds     MarketFeeds
}

type symbolProviders struct {
	funding *marketcontext.CachedProvider
	kimchi  *marketcontext.CachedProvider
	whale   *marketcontext.CachedProvider

	mentionsAt    time.Time
	mentionsScore float64
	mentionsCount int
}

// Loop is one tenant's running trading loop. All mutable fields are guarded
// by mu; the dashboard reads a Snapshot copy rather than touching these
// directly (spec.md §5: "no lock required on the read side because
// snapshots are built as immutable values").
type Loop struct {
	tenantID string
	quote    string

	client   exchange.Client
	exec     *executor.Executor
	store    *ledger.Store
	notifier notification.Notifier
	bus      *events.Bus
	log      zerolog.Logger

	strategy  config.StrategyDefaults
	protected *risk.ProtectedCoins
	feeds     MarketFeeds

	mu                sync.RWMutex
	watched           []candle.Symbol
	lastSymbolRefresh time.Time
	scanCount         int
	running           bool
	bootstrapped      bool

	riskState       *risk.State
	btcTracker      *marketcontext.BTCLeaderTracker
	symbolProviders map[candle.Symbol]*symbolProviders
	lastSignals     map[candle.Symbol]signal.Signal
	lastTickers     map[candle.Symbol]exchange.Ticker
	lastMode        marketcontext.Mode
	lastRegime      *indicators.RegimeResult
	lastAdaptive    risk.AdaptiveResult
	lastDominance   bool
	lastKimchi      marketcontext.Fragment
	lastBalance     exchange.Balance

	sentiment   marketcontext.SentimentResult
	sentimentAt time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Loop ready to Run. It does not start any goroutine.
func New(deps Deps) *Loop {
	protected := deps.Protected
	if protected == nil {
		protected = risk.NewProtectedCoins(nil)
	}
	return &Loop{
		tenantID:        deps.TenantID,
		quote:           deps.Quote,
		client:          deps.Client,
		exec:            deps.Exec,
		store:           deps.Store,
		notifier:        deps.Notifier,
		bus:             deps.Bus,
		log:             deps.Log,
		strategy:        deps.Strategy,
		protected:       protected,
		feeds:           deps.Feeds,
		riskState:       risk.NewState(),
		btcTracker:      marketcontext.NewBTCLeaderTracker(),
		symbolProviders: make(map[candle.Symbol]*symbolProviders),
		lastSignals:     make(map[candle.Symbol]signal.Signal),
		lastTickers:     make(map[candle.Symbol]exchange.Ticker),
		lastMode:        marketcontext.ModeDefensive,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

func (l *Loop) publish(typ events.Type, data interface{}) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(events.Event{Type: typ, TenantID: l.tenantID, Data: data})
}

// Run executes the scan loop described in spec.md §4.5 until ctx is
// canceled or Stop is called. It seeds the initial watched-symbol set and
// protected-coin bootstrap before entering the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()
	defer close(l.doneCh)

	l.client.Connect(ctx)
	l.refreshSymbols(ctx)
	l.syncPositions(ctx)

	ticker := time.NewTicker(l.strategy.ScanInterval)
	defer ticker.Stop()

	for {
		l.scan(ctx)

		select {
		case <-ctx.Done():
			l.liquidateAll(context.Background())
			return ctx.Err()
		case <-l.stopCh:
			l.liquidateAll(context.Background())
			return nil
		case <-ticker.C:
		}
	}
}

// Stop requests an orderly shutdown; Run returns once the in-flight scan
// (if any) completes and positions are liquidated.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()
	close(l.stopCh)
	<-l.doneCh
}

// scan runs one full pass over the watched symbol set, per spec.md §4.5's
// pseudocode. Every symbol's work is isolated so one symbol's failure never
// aborts the scan (spec.md §7's "uncaught exception in a symbol scan").
func (l *Loop) scan(ctx context.Context) {
	l.mu.Lock()
	l.scanCount++
	scanCount := l.scanCount
	refreshDue := time.Since(l.lastSymbolRefresh) > time.Hour
	l.mu.Unlock()

	if refreshDue {
		l.refreshSymbols(ctx)
	}
	if scanCount%5 == 0 {
		l.syncPositions(ctx)
	}

	mode, regime := l.computeMarketMode(ctx)
	l.mu.Lock()
	l.lastMode = mode
	l.lastRegime = regime
	watched := append([]candle.Symbol(nil), l.watched...)
	l.mu.Unlock()

	adaptive := l.evaluateAdaptive()
	l.mu.Lock()
	l.lastAdaptive = adaptive
	l.mu.Unlock()

	for _, symbol := range watched {
		l.scanSymbol(ctx, symbol, mode, regime, adaptive)
	}

	if scanCount%10 == 0 {
		l.emitStatusLog(mode, regime)
	}

	if err := l.store.RecordPnLMinute(time.Now(), l.store.DailyPnL()); err != nil {
		l.log.Warn().Err(err).Msg("pnl-minute record failed")
	}
}

func (l *Loop) scanSymbol(ctx context.Context, symbol candle.Symbol, mode marketcontext.Mode, regime *indicators.RegimeResult, adaptive risk.AdaptiveResult) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("symbol", string(symbol)).Interface("panic", r).Msg("symbol scan panicked, continuing")
		}
	}()

	candles, ok := l.client.GetCandles(ctx, symbol, candle.Timeframe5m, 200)
	if !ok || len(candles) == 0 {
		return
	}

	ticker, hasTicker := l.client.GetTicker(ctx, symbol)
	if hasTicker {
		l.mu.Lock()
		l.lastTickers[symbol] = ticker
		l.mu.Unlock()
	}

	pos, hasPosition := l.position(symbol)
	var rsi *float64
	if hasPosition {
		if !hasTicker {
			return
		}
		rsi = indicators.RSI(candle.Closes(candles), 14)
		if rsi != nil {
			pos.LastRSI = rsi
		}
		decision := position.Tick(pos, ticker.Price, time.Now(), l.positionParams(mode))
		if decision.Exit != position.ExitNone {
			l.executeSell(ctx, symbol, pos, ticker.Price, decision.Exit, 1.0)
			return
		}
		if decision.PartialSellFraction > 0 {
			l.executeSell(ctx, symbol, pos, ticker.Price, "partial_take_profit", decision.PartialSellFraction)
		}
		if l.maybeDCA(ctx, symbol, pos, ticker.Price, rsi) {
			// position mutated in place; fall through to persist below.
		}
		l.savePosition(symbol, pos)
	}

	sig, err := l.evaluateSignal(ctx, symbol, candles, mode, regime, adaptive)
	if err != nil {
		l.log.Warn().Str("symbol", string(symbol)).Err(err).Msg("signal evaluation failed")
		return
	}
	l.mu.Lock()
	l.lastSignals[symbol] = sig
	l.mu.Unlock()

	switch {
	case sig.Action == signal.ActionBuy && !hasPosition:
		if l.protected.IsProtected(symbol.Base()) {
			return
		}
		if blocked, reason := l.correlationBlocked(ctx, symbol, candles); blocked {
			l.log.Debug().Str("symbol", string(symbol)).Str("reason", reason).Msg("buy rejected by correlation filter")
			return
		}
		l.executeBuy(ctx, symbol, sig, mode, regime)
	case sig.Action == signal.ActionSell && hasPosition:
		if l.protected.IsProtected(symbol.Base()) {
			return
		}
		if !hasTicker {
			return
		}
		l.executeSell(ctx, symbol, pos, ticker.Price, "signal_sell", 1.0)
	}
}

func (l *Loop) positionParams(mode marketcontext.Mode) position.Params {
	profile := mode.Profile()
	s := l.strategy
	return position.Params{
		BreakevenTriggerPct:   s.BreakevenTriggerPct,
		TrailingActivatePct:   s.TrailingActivatePct,
		TrailingDistance:      profile.TrailingDistance,
		PartialP1:             s.PartialP1,
		PartialF1:             s.PartialF1,
		PartialP2:             s.PartialP2,
		PartialF2:             s.PartialF2,
		HardDropPct:           s.HardDropPct,
		ConfirmInterval:       s.ConfirmInterval,
		ConfirmCount:          s.ConfirmCount,
		ConfirmDuration:       s.ConfirmDuration,
		RSIOversoldProtection: s.RSIOversoldProtection,
		HardMaxHoldHours:      s.HardMaxHoldHours * profile.MaxHoldMult,
	}
}

// correlationFilterThreshold is the Pearson-correlation cutoff above which a
// candidate symbol is treated as effectively duplicate exposure of an
// already-open position, per spec.md §2's C4 "correlation filter" row.
const correlationFilterThreshold = 0.85

// correlationBlocked compares candidate's recent return series against
// every currently open position's return series and rejects the buy when
// any pair correlates above correlationFilterThreshold.
func (l *Loop) correlationBlocked(ctx context.Context, symbol candle.Symbol, candles []candle.Candle) (bool, string) {
	positions := l.store.Positions()
	if len(positions) == 0 {
		return false, ""
	}
	candidateReturns := returnsOf(candle.Closes(candles))
	openReturns := make(map[string][]float64, len(positions))
	for sym := range positions {
		if sym == string(symbol) {
			continue
		}
		held, ok := l.client.GetCandles(ctx, candle.Symbol(sym), candle.Timeframe5m, 200)
		if !ok {
			continue
		}
		openReturns[sym] = returnsOf(candle.Closes(held))
	}
	filter := risk.CorrelationFilter{Threshold: correlationFilterThreshold}
	allowed, reason := filter.Allows(candidateReturns, openReturns)
	return !allowed, reason
}

// returnsOf converts a close-price series into successive percent changes.
func returnsOf(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}

func (l *Loop) maybeDCA(ctx context.Context, symbol candle.Symbol, pos *position.Position, price float64, rsi *float64) bool {
	s := l.strategy
	params := position.DCAParams{
		TriggerPct:  s.DCATriggerPct,
		MaxCount:    s.DCAMaxCount,
		MinHold:     time.Duration(s.DCAMinHoldMin) * time.Minute,
		RSIMax:      s.DCARSIMax,
		MinInterval: s.DCAMinInterval,
	}
	if !position.CanDCA(pos, price, time.Now(), rsi, params) {
		return false
	}

	amount := pos.CostAmount / float64(pos.DCACount+1)
	if amount <= 0 {
		return false
	}
	result, ok := l.exec.Buy(ctx, symbol, amount)
	if !ok {
		return false
	}

	newSL := result.Price * (1 - s.StopLossPct/100)
	newTP := result.Price * (1 + s.TakeProfitPct/100)
	position.ApplyDCA(pos, result.Price, result.Quantity, time.Now(), newSL, newTP)

	entry, err := l.store.AppendTrade(ledger.TradeJournalEntry{
		TsMs: time.Now().UnixMilli(), Symbol: string(symbol), Action: ledger.ActionDCA,
		Price: result.Price, Quantity: result.Quantity, Amount: result.Amount, Reason: "dca",
	})
	if err != nil {
		l.log.Error().Str("symbol", string(symbol)).Err(err).Msg("journal write failed for DCA")
	}
	l.publish(events.TypeTradeEvent, entry)
	return true
}

// evaluateSignal assembles the C1 bundle and C2 context for symbol and
// composes a Signal, applying the regime/mode/adaptive threshold stack per
// spec.md §4.3.
func (l *Loop) evaluateSignal(ctx context.Context, symbol candle.Symbol, candles5m []candle.Candle, mode marketcontext.Mode, regime *indicators.RegimeResult, adaptive risk.AdaptiveResult) (signal.Signal, error) {
	bundle := l.buildBundle(ctx, symbol, candles5m)
	bundle.Regime = regime

	ctxInputs := l.buildContext(ctx, symbol)

	threshold := l.strategy.BuyThreshold
	if regime != nil {
		threshold *= regime.ThresholdMult
	}
	threshold *= mode.Profile().BuyThresholdMult
	threshold += adaptive.MinScoreBump

	cfg := signal.Config{
		RSIOversold:     l.strategy.RSIOversold,
		RSIOverbought:   l.strategy.RSIOverbought,
		VolumeThreshold: l.strategy.VolumeThreshold,
		BuyThreshold:    l.strategy.BuyThreshold,
		SellThreshold:   l.strategy.SellThreshold,
	}

	if learned := l.store.LearnedParams(); learned.Confidence >= 0.5 {
		cfg = mergeLearned(cfg, learned)
	}

	sig := signal.Composite(bundle, ctxInputs, cfg, threshold, l.store, l.store)
	return sig, nil
}

// mergeLearned overlays a confident learned-params record onto cfg, each
// key already clamped to +/-50% of default by internal/learning.
func mergeLearned(cfg signal.Config, learned ledger.LearnedParams) signal.Config {
	if v, ok := learned.Params["RSI_OVERSOLD"]; ok {
		cfg.RSIOversold = v
	}
	if v, ok := learned.Params["RSI_OVERBOUGHT"]; ok {
		cfg.RSIOverbought = v
	}
	if v, ok := learned.Params["BUY_THRESHOLD"]; ok {
		cfg.BuyThreshold = v
	}
	return cfg
}

// mergeLearnedInto overlays a confident learned-params record onto the
// live strategy defaults, mirroring mergeLearned's signal.Config overlay
// for the broader set of learnable keys the offline pass tunes.
func mergeLearnedInto(defaults config.StrategyDefaults, learned ledger.LearnedParams) config.StrategyDefaults {
	apply := map[string]*float64{
		"RSI_OVERSOLD":      &defaults.RSIOversold,
		"RSI_OVERBOUGHT":    &defaults.RSIOverbought,
		"STOP_LOSS_PCT":     &defaults.StopLossPct,
		"TAKE_PROFIT_PCT":   &defaults.TakeProfitPct,
		"MAX_HOLD_HOURS":    &defaults.HardMaxHoldHours,
		"BASE_POSITION_PCT": &defaults.BasePositionPct,
		"BUY_THRESHOLD":     &defaults.BuyThreshold,
	}
	for key, target := range apply {
		if v, ok := learned.Params[key]; ok {
			*target = v
		}
	}
	return defaults
}

func (l *Loop) buildBundle(ctx context.Context, symbol candle.Symbol, candles5m []candle.Candle) signal.Bundle {
	closes := candle.Closes(candles5m)
	highs := candle.Highs(candles5m)
	lows := candle.Lows(candles5m)
	volumes := candle.Volumes(candles5m)
	last, _ := candle.Last(candles5m)

	bundle := signal.Bundle{
		LastClose:     last.Close,
		RSI:           indicators.RSI(closes, 14),
		BB:            indicators.ComputeBollinger(closes, indicators.DefaultBBPeriod, indicators.DefaultBBK),
		MACD:          indicators.ComputeMACD(closes, indicators.DefaultMACDFast, indicators.DefaultMACDSlow, indicators.DefaultMACDSignal),
		ATR:           indicators.ComputeATR(highs, lows, closes, indicators.DefaultATRPeriod),
		StochRSI:      indicators.ComputeStochRSI(closes, 14, 3, 3),
		Ichimoku:      indicators.ComputeIchimoku(candles5m),
		VWAP:          indicators.ComputeVWAP(candles5m),
		VolumeRatio:   indicators.VolumeRatio(volumes, 20),
		Squeeze:       indicators.DetectSqueeze(closes, 60),
		Breakout:      indicators.DetectVolatilityBreakout(closes),
		Candlesticks:  indicators.DetectCandlesticks(candles5m),
		ChartPatterns: indicators.DetectChartPatterns(candles5m),
		BullishCandle: last.Close > last.Open,
	}

	byTF := map[candle.Timeframe][]candle.Candle{candle.Timeframe5m: candles5m}
	if c1h, ok := l.client.GetCandles(ctx, symbol, candle.Timeframe1h, 60); ok {
		byTF[candle.Timeframe1h] = c1h
	}
	if c4h, ok := l.client.GetCandles(ctx, symbol, candle.Timeframe4h, 60); ok {
		byTF[candle.Timeframe4h] = c4h
	}
	bundle.MTF = indicators.AggregateMTF(byTF)

	return bundle
}

func (l *Loop) buildContext(ctx context.Context, symbol candle.Symbol) signal.ContextInputs {
	hour := time.Now().Hour()

	var obInput signal.OrderbookInput
	if l.feeds.Orderbook != nil {
		if ob, ok := l.feeds.Orderbook(ctx, string(symbol)); ok {
			obInput = ob
		}
	}

	sp := l.providersFor(symbol)
	fundingFrag := marketcontext.Neutral
	if sp.funding != nil {
		fundingFrag = sp.funding.Get(ctx)
	}
	kimchiFrag := marketcontext.Neutral
	if sp.kimchi != nil {
		kimchiFrag = sp.kimchi.Get(ctx)
	}
	l.mu.Lock()
	l.lastKimchi = kimchiFrag
	l.mu.Unlock()
	whaleFrag := marketcontext.Neutral
	if sp.whale != nil {
		whaleFrag = sp.whale.Get(ctx)
	}

	btcFrag := marketcontext.Neutral
	if res := l.btcTracker.Evaluate(time.Now()); res != nil {
		btcFrag = res.Fragment()
	}

	return signal.ContextInputs{
		BTCLeader:     btcFrag,
		Sentiment:     l.currentSentiment(ctx, symbol),
		FundingRate:   fundingFrag,
		KimchiPremium: kimchiFrag,
		WhaleFlow:     whaleFrag,
		Orderbook:     obInput,
		Hour:          hour,
		Symbol:        string(symbol),
	}
}

func (l *Loop) providersFor(symbol candle.Symbol) *symbolProviders {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sp, ok := l.symbolProviders[symbol]; ok {
		return sp
	}
	sp := &symbolProviders{}
	if l.feeds.FundingRate != nil {
		fetch := marketcontext.FundingRateFragment(l.feeds.FundingRate)
		sp.funding = marketcontext.NewCachedProvider(5*time.Minute, func(ctx context.Context) (marketcontext.Fragment, error) {
			return fetch(ctx, string(symbol))
		})
	}
	if l.feeds.KimchiPremium != nil {
		fetch := marketcontext.KimchiPremiumFragment(l.feeds.KimchiPremium)
		sp.kimchi = marketcontext.NewCachedProvider(10*time.Minute, func(ctx context.Context) (marketcontext.Fragment, error) {
			return fetch(ctx, string(symbol))
		})
	}
	if l.feeds.WhaleFlow != nil {
		fetch := marketcontext.WhaleFlowFragment(l.feeds.WhaleFlow, 100)
		sp.whale = marketcontext.NewCachedProvider(5*time.Minute, func(ctx context.Context) (marketcontext.Fragment, error) {
			return fetch(ctx, string(symbol))
		})
	}
	l.symbolProviders[symbol] = sp
	return sp
}

// currentSentiment returns the cached market-wide sentiment merged with
// symbol's mention score when available, refreshing at most every 10
// minutes, per spec.md §4.2's 2-15 minute TTL band.
func (l *Loop) currentSentiment(ctx context.Context, symbol candle.Symbol) marketcontext.SentimentResult {
	l.mu.Lock()
	fresh := time.Since(l.sentimentAt) < 10*time.Minute && !l.sentimentAt.IsZero()
	cached := l.sentiment
	l.mu.Unlock()

	in := marketcontext.SentimentInputs{}
	if !fresh {
		if l.feeds.FearGreed != nil {
			if v, ok := l.feeds.FearGreed(ctx); ok {
				in.FearGreed, in.FearGreedHas = v, true
			}
		}
		if l.feeds.SocialSentiment != nil {
			if v, ok := l.feeds.SocialSentiment(ctx); ok {
				in.SocialScore, in.SocialHas = v, true
			}
		}
		if l.feeds.NewsSentiment != nil {
			if v, ok := l.feeds.NewsSentiment(ctx); ok {
				in.NewsScore, in.NewsHas = v, true
			}
		}
		cached = marketcontext.AggregateSentiment(in)
		l.mu.Lock()
		l.sentiment = cached
		l.sentimentAt = time.Now()
		l.mu.Unlock()
	}

	if l.feeds.SymbolMentions != nil {
		if score, mentions, ok := l.feeds.SymbolMentions(ctx, string(symbol)); ok && mentions >= 1 {
			cached.SymbolScore = &score
		}
	}
	return cached
}

func (l *Loop) computeMarketMode(ctx context.Context) (marketcontext.Mode, *indicators.RegimeResult) {
	btcSymbol := candle.NewSymbol("BTC", l.quote)
	ticker, ok := l.client.GetTicker(ctx, btcSymbol)
	if ok {
		l.btcTracker.Update(time.Now(), ticker.Price)
	}

	var regime *indicators.RegimeResult
	if candles, ok := l.client.GetCandles(ctx, btcSymbol, candle.Timeframe5m, 200); ok {
		regime = indicators.ClassifyRegime(candle.Highs(candles), candle.Lows(candles), candle.Closes(candles))
	}

	fearGreed, hasFG := 50.0, false
	if l.feeds.FearGreed != nil {
		if v, ok := l.feeds.FearGreed(ctx); ok {
			fearGreed, hasFG = v, true
		}
	}
	if !hasFG {
		fearGreed = 50
	}

	btcMomentum := 0.0
	if res := l.btcTracker.Evaluate(time.Now()); res != nil {
		btcMomentum = res.Change5m
	}

	dominanceUp := false
	if l.feeds.BTCDominanceUp != nil {
		if v, ok := l.feeds.BTCDominanceUp(ctx); ok {
			dominanceUp = v
		}
	}
	l.mu.Lock()
	l.lastDominance = dominanceUp
	l.mu.Unlock()

	regimeLabel := indicators.Regime("")
	if regime != nil {
		regimeLabel = regime.Regime
	}

	mode := marketcontext.ClassifyMode(marketcontext.ModeInputs{
		FearGreed:      fearGreed,
		Regime:         regimeLabel,
		BTCMomentumPct: btcMomentum,
		BTCDominanceUp: dominanceUp,
	})
	return mode, regime
}

func (l *Loop) evaluateAdaptive() risk.AdaptiveResult {
	l.mu.RLock()
	consecutiveLosses := l.riskState.ConsecutiveLosses
	l.mu.RUnlock()

	fearGreed, hasFG := 0.0, false
	if l.feeds.FearGreed != nil {
		if v, ok := l.feeds.FearGreed(context.Background()); ok {
			fearGreed, hasFG = v, true
		}
	}

	today := l.todaySellStats()

	return risk.Evaluate(risk.AdaptiveInputs{
		Now:               time.Now(),
		ConsecutiveLosses: consecutiveLosses,
		LastLossTs:        l.lastLossTs(),
		FearGreed:         fearGreed,
		HasFearGreed:      hasFG,
		TodaySells:        today.sells,
		TodayWins:         today.wins,
	})
}

type dailySellStats struct{ sells, wins int }

func (l *Loop) todaySellStats() dailySellStats {
	entries, err := l.store.JournalEntries()
	if err != nil {
		return dailySellStats{}
	}
	todayStart := time.Now().Truncate(24 * time.Hour)
	var stats dailySellStats
	for _, e := range entries {
		if e.Action != ledger.ActionSell && e.Action != ledger.ActionPartialSell {
			continue
		}
		if time.UnixMilli(e.TsMs).Before(todayStart) {
			continue
		}
		stats.sells++
		if e.PnLPct != nil && *e.PnLPct > 0 {
			stats.wins++
		}
	}
	return stats
}

func (l *Loop) lastLossTs() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var latest time.Time
	for _, ts := range l.riskState.LastSellTsBySymbol {
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

func (l *Loop) position(symbol candle.Symbol) (*position.Position, bool) {
	positions := l.store.Positions()
	pos, ok := positions[string(symbol)]
	return pos, ok
}

func (l *Loop) savePosition(symbol candle.Symbol, pos *position.Position) {
	positions := l.store.Positions()
	positions[string(symbol)] = pos
	if err := l.store.SavePositions(positions); err != nil {
		l.log.Error().Str("symbol", string(symbol)).Err(err).Msg("position persist failed")
	}
}

// executeBuy runs the risk governor, sizes the order, places it, and opens
// a new position on a successful fill.
func (l *Loop) executeBuy(ctx context.Context, symbol candle.Symbol, sig signal.Signal, mode marketcontext.Mode, regime *indicators.RegimeResult) {
	balance, ok := l.client.GetBalance(ctx)
	if !ok {
		return
	}
	l.mu.Lock()
	l.lastBalance = balance
	l.mu.Unlock()
	profile := mode.Profile()
	adaptive := l.evaluateAdaptive()
	if adaptive.HardCooldown {
		l.log.Debug().Str("symbol", string(symbol)).Time("until", adaptive.HardCooldownUntil).Msg("buy rejected by adaptive hard cooldown")
		return
	}

	amount := balance.Free * l.strategy.BasePositionPct / 100 * profile.PositionSizeMult * adaptive.SizeMultiplier
	scalpEligible := mode == marketcontext.ModeScalping

	l.mu.Lock()
	l.riskState.PruneHourly(time.Now())
	params := risk.Params{
		DailyLossLimitKRW: l.strategy.DailyLossLimitKRW,
		RecoveryCooldown:  l.strategy.RecoveryCooldown,
		InitialBalance:    balance.Total,
		MaxDailyLossPct:   l.strategy.MaxDailyLossPct,
		HourlyMaxTrades:   profile.HourlyMaxTrades,
		BaseMaxPositions:  l.strategy.BaseMaxPositions,
		ScalpExtraSlot:    l.strategy.ScalpExtraSlot,
		CooldownAfterSell: l.strategy.CooldownAfterSell,
		MaxPositionPct:    l.strategy.MaxPositionPct,
	}
	l.riskState.DailyPnL = l.store.DailyPnL()
	decision := risk.CanOpen(l.riskState, params, time.Now(), string(symbol), amount, balance.Total, scalpEligible)
	if !decision.Allowed && decision.Reason == "exceeds max position size" && decision.MaxAmount > 0 {
		amount = decision.MaxAmount
		decision = risk.CanOpen(l.riskState, params, time.Now(), string(symbol), amount, balance.Total, scalpEligible)
	}
	if !decision.Allowed {
		l.mu.Unlock()
		l.log.Debug().Str("symbol", string(symbol)).Str("reason", decision.Reason).Msg("buy rejected by risk governor")
		return
	}
	l.mu.Unlock()

	result, ok := l.exec.Buy(ctx, symbol, amount)
	if !ok {
		return
	}

	sl := result.Price * (1 - profile.StopLossPct/100)
	if sl == 0 {
		sl = result.Price * (1 - l.strategy.StopLossPct/100)
	}
	tp := result.Price * (1 + profile.TakeProfitPct/100)

	pos := &position.Position{
		Symbol:         string(symbol),
		EntryPrice:     result.Price,
		Quantity:       result.Quantity,
		CostAmount:     result.Amount,
		EntryTs:        time.Now(),
		StopLoss:       sl,
		TakeProfit:     tp,
		HighestPrice:   result.Price,
		MaxHoldUntilTs: time.Now().Add(time.Duration(l.strategy.MaxHoldMinutes) * time.Minute),
		ScalpMode:      scalpEligible,
	}

	regimeLabel := ""
	if regime != nil {
		regimeLabel = string(regime.Regime)
	}
	entry, err := l.store.AppendTrade(ledger.TradeJournalEntry{
		TsMs: time.Now().UnixMilli(), Symbol: string(symbol), Action: ledger.ActionBuy,
		Price: result.Price, Quantity: result.Quantity, Amount: result.Amount,
		Reason: strings.Join(sig.ReasonNames, "+"), Regime: regimeLabel,
	})
	if err != nil {
		l.log.Error().Str("symbol", string(symbol)).Err(err).Msg("journal write failed for BUY")
	}

	l.mu.Lock()
	l.riskState.OpenPositionSymbols[string(symbol)] = true
	l.riskState.LastBuyTs = time.Now()
	l.riskState.BuyTimestamps = append(l.riskState.BuyTimestamps, time.Now())
	l.mu.Unlock()

	l.savePosition(symbol, pos)
	l.publish(events.TypeTradeEvent, entry)
	l.notifier.NotifyTrade(notification.Trade{Kind: notification.KindTradeOpen, Symbol: string(symbol), Reason: entry.Reason, Price: result.Price, Quantity: result.Quantity, Amount: result.Amount, Timestamp: time.Now()})
}

// executeSell reconciles the sell-sizing guard, places the order, journals
// the exit, and updates the position (partial) or removes it (full).
func (l *Loop) executeSell(ctx context.Context, symbol candle.Symbol, pos *position.Position, price float64, reason position.ExitAction, fraction float64) {
	l.executeSellReason(ctx, symbol, pos, price, string(reason), fraction)
}

func (l *Loop) executeSellReason(ctx context.Context, symbol candle.Symbol, pos *position.Position, price float64, reason string, fraction float64) {
	holdings, ok := l.client.GetDetailedHoldings(ctx)
	heldQty := pos.Quantity
	if ok {
		if h, found := holdings[symbol.Base()]; found {
			heldQty = h.Quantity
		} else {
			heldQty = 0
		}
	}

	target := pos.Quantity * fraction
	guard := executor.ReconcileSellQuantity(target, heldQty)
	if !guard.Proceed {
		l.forceRemovePosition(symbol, pos, guard.RemoveReason)
		return
	}

	var result exchange.OrderResult
	result, ok = l.exec.LimitSell(ctx, symbol, guard.SellQuantity, price)
	if !ok {
		pos.SellAttempts++
		if executor.ShouldForceRemove(pos.SellAttempts) {
			l.forceRemovePosition(symbol, pos, "sell_attempts_exceeded")
			return
		}
		l.savePosition(symbol, pos)
		return
	}

	pnlPct := pos.PnLPct(result.Price)
	pnlAmount := (result.Price - pos.EntryPrice) * result.Quantity
	action := ledger.ActionSell
	isPartial := fraction < 1.0
	if isPartial {
		action = ledger.ActionPartialSell
	}

	entry, err := l.store.AppendTrade(ledger.TradeJournalEntry{
		TsMs: time.Now().UnixMilli(), Symbol: string(symbol), Action: action,
		Price: result.Price, Quantity: result.Quantity, Amount: result.Amount,
		Reason: reason, PnLPct: &pnlPct, PnLAmount: &pnlAmount,
		Snapshot: l.exitPatternKey(symbol),
	})
	if err != nil {
		l.log.Error().Str("symbol", string(symbol)).Err(err).Msg("journal write failed for SELL")
	}
	l.publish(events.TypeTradeEvent, entry)
	l.notifier.NotifyTrade(notification.Trade{Kind: notification.KindTradeClose, Symbol: string(symbol), Reason: reason, Price: result.Price, Quantity: result.Quantity, Amount: result.Amount, PnLPct: &pnlPct, PnLAmount: &pnlAmount, Timestamp: time.Now()})

	comboKey := l.lastComboKey(symbol)
	buyScore := l.lastBuyScore(symbol)
	if comboKey != "" {
		if err := l.store.RecordComboOutcome(comboKey, buyScore, pnlPct, pnlPct > 0); err != nil {
			l.log.Error().Err(err).Msg("combo outcome record failed")
		}
	}

	l.mu.Lock()
	if pnlPct > 0 {
		l.riskState.ConsecutiveLosses = 0
	} else {
		l.riskState.ConsecutiveLosses++
	}
	l.riskState.LastSellTsBySymbol[string(symbol)] = time.Now()
	l.mu.Unlock()

	if isPartial {
		pos.Quantity -= result.Quantity
		pos.CostAmount -= pos.EntryPrice * result.Quantity
		l.savePosition(symbol, pos)
		return
	}

	l.removePosition(symbol)
}

func (l *Loop) forceRemovePosition(symbol candle.Symbol, pos *position.Position, reason string) {
	entry, err := l.store.AppendTrade(ledger.TradeJournalEntry{
		TsMs: time.Now().UnixMilli(), Symbol: string(symbol), Action: ledger.ActionForceRemove,
		Price: pos.EntryPrice, Quantity: pos.Quantity, Reason: reason,
	})
	if err != nil {
		l.log.Error().Str("symbol", string(symbol)).Err(err).Msg("journal write failed for FORCE_REMOVE")
	}
	l.publish(events.TypeTradeEvent, entry)
	l.removePosition(symbol)
}

func (l *Loop) removePosition(symbol candle.Symbol) {
	positions := l.store.Positions()
	delete(positions, string(symbol))
	if err := l.store.SavePositions(positions); err != nil {
		l.log.Error().Str("symbol", string(symbol)).Err(err).Msg("position persist failed")
	}
	l.mu.Lock()
	delete(l.riskState.OpenPositionSymbols, string(symbol))
	l.mu.Unlock()
}

func (l *Loop) lastComboKey(symbol candle.Symbol) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if sig, ok := l.lastSignals[symbol]; ok {
		return sig.ComboKey
	}
	return ""
}

func (l *Loop) lastBuyScore(symbol candle.Symbol) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if sig, ok := l.lastSignals[symbol]; ok {
		return sig.BuyScore
	}
	return 0
}

// exitPatternKey builds the same fact-pattern key Store.Check matches
// against, from the most recent scan's indicator bundle for symbol. Used to
// stamp TradeJournalEntry.Snapshot at exit time so the learning pass can
// key buildLossPatterns the way the online checker reads it back.
func (l *Loop) exitPatternKey(symbol candle.Symbol) string {
	l.mu.RLock()
	sig, ok := l.lastSignals[symbol]
	l.mu.RUnlock()
	if !ok {
		return ""
	}
	rsiVal, hasRSI := 0.0, false
	if sig.Indicators.RSI != nil {
		rsiVal, hasRSI = *sig.Indicators.RSI, true
	}
	bbPos, hasBB := 0.0, false
	if sig.Indicators.BB != nil {
		bbPos, hasBB = sig.Indicators.BB.Position(sig.Indicators.LastClose), true
	}
	regime := ""
	if sig.Regime != nil {
		regime = string(sig.Regime.Regime)
	}
	return ledger.PatternKey(rsiVal, hasRSI, bbPos, hasBB, time.Now().Hour(), regime, string(symbol))
}

// refreshSymbols rebuilds the watched set from top-volume symbols, unioned
// with any symbol currently holding a position, per spec.md §3.
func (l *Loop) refreshSymbols(ctx context.Context) {
	top, ok := l.client.TopVolumeSymbols(ctx, l.quote, l.strategy.MaxWatchedSymbols)
	if !ok {
		top = nil
	}
	held := l.store.Positions()

	seen := make(map[candle.Symbol]bool, len(top)+len(held))
	watched := make([]candle.Symbol, 0, len(top)+len(held))
	for _, s := range top {
		if !seen[s] {
			seen[s] = true
			watched = append(watched, s)
		}
	}
	for sym := range held {
		s := candle.Symbol(sym)
		if !seen[s] {
			seen[s] = true
			watched = append(watched, s)
		}
	}
	sort.Slice(watched, func(i, j int) bool { return watched[i] < watched[j] })

	l.mu.Lock()
	l.watched = watched
	l.lastSymbolRefresh = time.Now()
	l.mu.Unlock()
}

func (l *Loop) addWatched(symbol candle.Symbol) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.watched {
		if s == symbol {
			return
		}
	}
	l.watched = append(l.watched, symbol)
}

// syncPositions implements spec.md §4.4's external-sell detection and
// untracked-holding adoption. On the very first boot (no protected coins
// and no positions recorded yet) untracked holdings are protected rather
// than adopted, matching scenario 6 of spec.md §8.
func (l *Loop) syncPositions(ctx context.Context) {
	holdings, ok := l.client.GetDetailedHoldings(ctx)
	if !ok {
		return
	}

	positions := l.store.Positions()
	l.mu.Lock()
	bootstrap := !l.bootstrapped && len(l.protected.List()) == 0 && len(positions) == 0
	l.mu.Unlock()

	for sym, pos := range positions {
		symbol := candle.Symbol(sym)
		h, held := holdings[symbol.Base()]
		heldQty := 0.0
		if held {
			heldQty = h.Quantity
		}
		if heldQty < pos.Quantity*0.10 {
			entry, err := l.store.AppendTrade(ledger.TradeJournalEntry{
				TsMs: time.Now().UnixMilli(), Symbol: sym, Action: ledger.ActionSell,
				Price: pos.EntryPrice, Quantity: pos.Quantity, Reason: "수동 매도",
			})
			if err != nil {
				l.log.Error().Str("symbol", sym).Err(err).Msg("journal write failed for external sell")
			}
			l.publish(events.TypeTradeEvent, entry)
			delete(positions, sym)
			l.mu.Lock()
			delete(l.riskState.OpenPositionSymbols, sym)
			l.mu.Unlock()
		}
	}

	for base, h := range holdings {
		symbol := candle.NewSymbol(base, l.quote)
		if _, isPosition := positions[string(symbol)]; isPosition {
			continue
		}
		if l.protected.IsProtected(base) {
			continue
		}
		if h.Quantity*h.AvgBuyPrice < dustThresholdKRW {
			continue
		}
		if bootstrap {
			l.protected.Add(base)
			continue
		}

		positions[string(symbol)] = &position.Position{
			Symbol:       string(symbol),
			EntryPrice:   h.AvgBuyPrice,
			Quantity:     h.Quantity,
			CostAmount:   h.AvgBuyPrice * h.Quantity,
			EntryTs:      time.Now(),
			HighestPrice: h.AvgBuyPrice,
			StopLoss:     h.AvgBuyPrice * (1 - l.strategy.StopLossPct/100),
			TakeProfit:   h.AvgBuyPrice * (1 + l.strategy.TakeProfitPct/100),
		}
		l.addWatched(symbol)
		l.mu.Lock()
		l.riskState.OpenPositionSymbols[string(symbol)] = true
		l.mu.Unlock()
	}

	if bootstrap {
		if err := l.store.SetProtectedCoins(l.protected.List()); err != nil {
			l.log.Error().Err(err).Msg("protected-coins persist failed")
		}
		l.mu.Lock()
		l.bootstrapped = true
		l.mu.Unlock()
	}
	if err := l.store.SavePositions(positions); err != nil {
		l.log.Error().Err(err).Msg("position persist failed after sync")
	}
}

// liquidateAll best-effort market-sells every open position at shutdown,
// per spec.md §4.5's "on shutdown" clause.
func (l *Loop) liquidateAll(ctx context.Context) {
	positions := l.store.Positions()
	for sym, pos := range positions {
		symbol := candle.Symbol(sym)
		ticker, ok := l.client.GetTicker(ctx, symbol)
		price := pos.EntryPrice
		if ok {
			price = ticker.Price
		}
		l.executeSellReason(ctx, symbol, pos, price, "shutdown_liquidation", 1.0)
	}
}

// PositionView is the dashboard-facing, JSON-ready projection of one open
// position.
type PositionView struct {
	Symbol       string    `json:"symbol"`
	EntryPrice   float64   `json:"entry_price"`
	Quantity     float64   `json:"quantity"`
	PnLPct       float64   `json:"pnl_pct"`
	EntryTs      time.Time `json:"entry_ts"`
	DCACount     int       `json:"dca_count"`
	PartialSells int       `json:"partial_sells"`
	StopHitCount int       `json:"stop_hit_count"`
	TrailingStop bool      `json:"trailing_active"`
}

// SymbolView is one watched symbol's latest ticker + signal snapshot.
type SymbolView struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	Action    string    `json:"action"`
	BuyScore  float64   `json:"buy_score"`
	SellScore float64   `json:"sell_score"`
	Reasons   []string  `json:"reasons"`
	ComboKey  string    `json:"combo_key"`
}

// TradeStats is the dashboard's today/total P&L rollup, built from the trade
// journal at snapshot time rather than maintained incrementally.
type TradeStats struct {
	TodayTrades    int     `json:"today_trades"`
	TodayWins      int     `json:"today_wins"`
	TodayPnLPct    float64 `json:"today_pnl_pct"`
	TotalTrades    int     `json:"total_trades"`
	TotalWins      int     `json:"total_wins"`
	TotalPnLPct    float64 `json:"total_pnl_pct"`
	Realized       float64 `json:"realized"`
	Unrealized     float64 `json:"unrealized"`
	WinRate        float64 `json:"win_rate"`
	Best           float64 `json:"best"`
	Worst          float64 `json:"worst"`
}

// BacktestStatus is a placeholder status block: no backtest engine runs in
// this process, so the dashboard only ever sees "not configured" here.
type BacktestStatus struct {
	Available bool   `json:"available"`
	Status    string `json:"status"`
}

// Snapshot is the immutable, JSON-ready status view the dashboard (C11)
// polls; it is assembled under mu.RLock and then handed out by value so the
// read side never contends with the scan goroutine.
type Snapshot struct {
	TenantID          string                      `json:"tenant_id"`
	Running           bool                        `json:"running"`
	ScanCount         int                         `json:"scan_count"`
	PositionCount     int                         `json:"position_count"`
	MaxPositions      int                         `json:"max_positions"`
	DailyPnL          float64                     `json:"daily_pnl"`
	Positions         []PositionView              `json:"positions"`
	Symbols           []string                    `json:"symbols"`
	SymbolData        []SymbolView                `json:"symbol_data"`
	PnLHistory        []ledger.PnLMinuteSample    `json:"pnl_history"`
	Stats             TradeStats                  `json:"stats"`
	TodayTrades       int                         `json:"today_trades"`
	RecentTrades      []ledger.TradeJournalEntry  `json:"recent_trades"`
	ComboStats        map[string]ledger.ComboStat `json:"combo"`
	Blacklist         []string                    `json:"blacklist"`
	LossPatterns      []ledger.LossPatternRule    `json:"loss_patterns"`
	Learning          ledger.LearnedParams        `json:"learning"`
	Regime            string                      `json:"regime"`
	RegimeConfidence  float64                     `json:"regime_confidence"`
	Drawdown          float64                     `json:"drawdown"`
	MarketMode        string                      `json:"market_mode"`
	Sentiment         marketcontext.SentimentResult `json:"sentiment"`
	ConsecutiveLosses int                         `json:"consecutive_losses"`
	Backtest          BacktestStatus              `json:"backtest"`
	Kimchi            marketcontext.Fragment      `json:"kimchi"`
	Balance           exchange.Balance            `json:"balance"`
	BTCLeader         marketcontext.Fragment      `json:"btc_leader"`
	AdaptiveFilter    risk.AdaptiveResult         `json:"adaptive_filter"`
	BTCDominanceUp    bool                        `json:"btc_dominance"`
	PaperMode         bool                        `json:"paper_mode"`
	Timestamp         time.Time                   `json:"timestamp"`
}

// Snapshot builds the current dashboard view. Concurrency-safe: it takes a
// read lock over the loop's own fields and delegates position/trade data to
// the ledger store, which guards its own state independently.
func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	watched := make([]candle.Symbol, len(l.watched))
	copy(watched, l.watched)
	scanCount := l.scanCount
	running := l.running
	mode := l.lastMode
	regime := l.lastRegime
	sentiment := l.sentiment
	signals := make(map[candle.Symbol]signal.Signal, len(l.lastSignals))
	for k, v := range l.lastSignals {
		signals[k] = v
	}
	tickers := make(map[candle.Symbol]exchange.Ticker, len(l.lastTickers))
	for k, v := range l.lastTickers {
		tickers[k] = v
	}
	riskState := l.riskState
	adaptive := l.lastAdaptive
	dominanceUp := l.lastDominance
	kimchi := l.lastKimchi
	balance := l.lastBalance
	l.mu.RUnlock()

	positions := l.store.Positions()
	views := make([]PositionView, 0, len(positions))
	var unrealized float64
	for sym, pos := range positions {
		price := pos.EntryPrice
		if t, ok := tickers[candle.Symbol(sym)]; ok {
			price = t.Price
		}
		unrealized += (price - pos.EntryPrice) * pos.Quantity
		views = append(views, PositionView{
			Symbol:       sym,
			EntryPrice:   pos.EntryPrice,
			Quantity:     pos.Quantity,
			PnLPct:       pos.PnLPct(price),
			EntryTs:      pos.EntryTs,
			DCACount:     pos.DCACount,
			PartialSells: pos.PartialSells,
			StopHitCount: pos.StopHitCount,
			TrailingStop: pos.TrailingActive,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Symbol < views[j].Symbol })

	symbolStrs := make([]string, len(watched))
	symbolData := make([]SymbolView, 0, len(watched))
	for i, sym := range watched {
		symbolStrs[i] = string(sym)
		sig, ok := signals[sym]
		if !ok {
			continue
		}
		t := tickers[sym]
		symbolData = append(symbolData, SymbolView{
			Symbol:    string(sym),
			Price:     t.Price,
			Change:    t.Change,
			Action:    string(sig.Action),
			BuyScore:  sig.BuyScore,
			SellScore: sig.SellScore,
			Reasons:   sig.ReasonNames,
			ComboKey:  sig.ComboKey,
		})
	}

	regimeLabel, regimeConf := "unknown", 0.0
	if regime != nil {
		regimeLabel = string(regime.Regime)
		regimeConf = regime.Confidence
	}

	maxPositions := risk.DynamicMaxPositions(l.strategy.BaseMaxPositions, riskState.ConsecutiveLosses, l.strategy.ScalpExtraSlot, false)

	var recent []ledger.TradeJournalEntry
	var stats TradeStats
	if entries, err := l.store.JournalEntries(); err == nil {
		start := 0
		if len(entries) > 50 {
			start = len(entries) - 50
		}
		recent = make([]ledger.TradeJournalEntry, 0, len(entries)-start)
		for i := len(entries) - 1; i >= start; i-- {
			recent = append(recent, entries[i])
		}
		stats = computeTradeStats(entries, unrealized)
	}

	pnlHistory := l.store.PnLMinutes()

	btcLeader := marketcontext.Neutral
	if res := l.btcTracker.Evaluate(time.Now()); res != nil {
		btcLeader = res.Fragment()
	}

	return Snapshot{
		TenantID:          l.tenantID,
		Running:           running,
		ScanCount:         scanCount,
		PositionCount:     len(positions),
		MaxPositions:      maxPositions,
		DailyPnL:          l.store.DailyPnL(),
		Positions:         views,
		Symbols:           symbolStrs,
		SymbolData:        symbolData,
		PnLHistory:        pnlHistory,
		Stats:             stats,
		TodayTrades:       stats.TodayTrades,
		RecentTrades:      recent,
		ComboStats:        l.store.ComboStats(),
		Blacklist:         l.store.Blacklist(),
		LossPatterns:      l.store.LossPatterns(),
		Learning:          l.store.LearnedParams(),
		Regime:            regimeLabel,
		RegimeConfidence:  regimeConf,
		Drawdown:          drawdownFrom(pnlHistory),
		MarketMode:        string(mode),
		Sentiment:         sentiment,
		ConsecutiveLosses: riskState.ConsecutiveLosses,
		Backtest:          BacktestStatus{Available: false, Status: "not configured"},
		Kimchi:            kimchi,
		Balance:           balance,
		BTCLeader:         btcLeader,
		AdaptiveFilter:    adaptive,
		BTCDominanceUp:    dominanceUp,
		PaperMode:         l.isPaperMode(),
		Timestamp:         time.Now(),
	}
}

// computeTradeStats rolls up the trade journal into today/total win-rate and
// best/worst figures for the dashboard stats block.
func computeTradeStats(entries []ledger.TradeJournalEntry, unrealized float64) TradeStats {
	todayStart := time.Now().Truncate(24 * time.Hour)
	var s TradeStats
	s.Unrealized = unrealized
	for _, e := range entries {
		if e.Action != ledger.ActionSell && e.Action != ledger.ActionPartialSell {
			continue
		}
		if e.PnLPct == nil {
			continue
		}
		pnlPct := *e.PnLPct
		s.TotalTrades++
		s.TotalPnLPct += pnlPct
		if pnlPct > 0 {
			s.TotalWins++
		}
		if pnlPct > s.Best || s.TotalTrades == 1 {
			s.Best = pnlPct
		}
		if pnlPct < s.Worst || s.TotalTrades == 1 {
			s.Worst = pnlPct
		}
		if e.PnLAmount != nil {
			s.Realized += *e.PnLAmount
		}
		if !time.UnixMilli(e.TsMs).Before(todayStart) {
			s.TodayTrades++
			s.TodayPnLPct += pnlPct
			if pnlPct > 0 {
				s.TodayWins++
			}
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.TotalWins) / float64(s.TotalTrades)
	}
	return s
}

// drawdownFrom returns the largest peak-to-current drop in the cumulative
// P&L curve built from the rolling 1-minute samples.
func drawdownFrom(samples []ledger.PnLMinuteSample) float64 {
	var cumulative, peak, maxDrawdown float64
	for _, s := range samples {
		cumulative += s.PnL
		if cumulative > peak {
			peak = cumulative
		}
		if drop := peak - cumulative; drop > maxDrawdown {
			maxDrawdown = drop
		}
	}
	return maxDrawdown
}

// isPaperMode reports whether the loop's exchange client is the simulated
// paper exchange rather than a real venue connector.
func (l *Loop) isPaperMode() bool {
	type paperTagged interface{ PaperMode() bool }
	if p, ok := l.client.(paperTagged); ok {
		return p.PaperMode()
	}
	return false
}

// Candles is the dashboard's read-only passthrough to the exchange client's
// candle feed, kept on Loop so the dashboard never touches l.client
// directly.
func (l *Loop) Candles(ctx context.Context, symbol candle.Symbol, tf candle.Timeframe, count int) ([]candle.Candle, bool) {
	return l.client.GetCandles(ctx, symbol, tf, count)
}

// Position exposes the current position for one symbol, for candle-overlay
// rendering.
func (l *Loop) Position(symbol candle.Symbol) (*position.Position, bool) {
	return l.position(symbol)
}

// SetBlacklist replaces the learned blacklist, used by the dashboard's
// manual blacklist-editing endpoint.
func (l *Loop) SetBlacklist(symbols []string) error {
	return l.store.SetBlacklist(symbols)
}

// TriggerLearning runs the offline learning pass against this tenant's
// journal and, on success with a confidence of at least 0.5, hot-merges the
// resulting params into the live strategy defaults.
func (l *Loop) TriggerLearning(now time.Time) (learning.Report, error) {
	report, err := learning.Run(l.store, l.strategy, now)
	if err != nil {
		return report, err
	}
	if report.Ran {
		if report.Params.Confidence >= 0.5 {
			l.mu.Lock()
			l.strategy = mergeLearnedInto(l.strategy, report.Params)
			l.mu.Unlock()
		}
		l.publish(events.TypeLearningStatus, report)
	}
	return report, nil
}

func (l *Loop) emitStatusLog(mode marketcontext.Mode, regime *indicators.RegimeResult) {
	positions := l.store.Positions()
	regimeLabel := "unknown"
	if regime != nil {
		regimeLabel = string(regime.Regime)
	}
	l.log.Info().
		Str("tenant", l.tenantID).
		Int("scan_count", l.scanCount).
		Int("positions", len(positions)).
		Str("mode", string(mode)).
		Str("regime", regimeLabel).
		Float64("daily_pnl", l.store.DailyPnL()).
		Msg("scan status")
	l.publish(events.TypeStatus, fmt.Sprintf("scan=%d positions=%d mode=%s regime=%s", l.scanCount, len(positions), mode, regimeLabel))
}
