package marketcontext

import (
	"context"
	"sync"
	"time"
)

// CachedProvider wraps a fetch function behind a TTL cache and degrades to a
// neutral Fragment on error, per spec.md §4.2's "must degrade to null/neutral
// on failure without propagating". TTL is expected in the 2-15 minute band
// spec.md names.
type CachedProvider struct {
	mu      sync.Mutex
	ttl     time.Duration
	fetch   func(ctx context.Context) (Fragment, error)
	last    Fragment
	lastAt  time.Time
	hasLast bool
}

// NewCachedProvider builds a provider around fetch, caching successful
// results for ttl.
func NewCachedProvider(ttl time.Duration, fetch func(ctx context.Context) (Fragment, error)) *CachedProvider {
	return &CachedProvider{ttl: ttl, fetch: fetch}
}

// Get returns the cached fragment if still fresh, else calls fetch. On
// error it returns the last known-good fragment if any, else Neutral — it
// never returns an error to the caller.
func (p *CachedProvider) Get(ctx context.Context) Fragment {
	p.mu.Lock()
	if p.hasLast && time.Since(p.lastAt) < p.ttl {
		f := p.last
		p.mu.Unlock()
		return f
	}
	p.mu.Unlock()

	f, err := p.fetch(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if p.hasLast {
			return p.last
		}
		return Neutral
	}
	p.last = f
	p.lastAt = time.Now()
	p.hasLast = true
	return f
}

// FundingRateFetcher returns the raw funding rate (as a fraction, e.g.
// 0.0003 for 0.03%) for a symbol; it is the exchange-side collaborator this
// provider consumes.
type FundingRateFetcher func(ctx context.Context, symbol string) (float64, error)

// FundingRateFragment converts a funding rate into the ±1.5 contribution
// spec.md §4.3 names: deeply positive funding (longs paying shorts) is a
// contrarian sell signal; deeply negative is a contrarian buy signal.
func FundingRateFragment(fetch FundingRateFetcher) func(ctx context.Context, symbol string) (Fragment, error) {
	return func(ctx context.Context, symbol string) (Fragment, error) {
		rate, err := fetch(ctx, symbol)
		if err != nil {
			return Neutral, err
		}
		pct := rate * 100
		boost := -pct / 0.1 * 0.5 // every 0.1% of funding shifts the boost by 0.5
		if boost > 1.5 {
			boost = 1.5
		}
		if boost < -1.5 {
			boost = -1.5
		}
		f := Fragment{Reason: "funding_rate"}
		if boost > 0 {
			f.BuyBoost = boost
		} else {
			f.SellBoost = -boost
		}
		return f, nil
	}
}

// KimchiPremiumFetcher returns the KRW exchange price premium over the
// reference global price as a percentage (positive = KRW trades above
// global).
type KimchiPremiumFetcher func(ctx context.Context, symbol string) (premiumPct float64, err error)

// KimchiPremiumFragment treats an elevated premium as overheated local
// demand (sell-leaning) and a discount as a buy-leaning dislocation.
func KimchiPremiumFragment(fetch KimchiPremiumFetcher) func(ctx context.Context, symbol string) (Fragment, error) {
	return func(ctx context.Context, symbol string) (Fragment, error) {
		premium, err := fetch(ctx, symbol)
		if err != nil {
			return Neutral, err
		}
		boost := -premium / 5 * 1.5 // +5% premium -> -1.5 (sell-leaning)
		if boost > 1.5 {
			boost = 1.5
		}
		if boost < -1.5 {
			boost = -1.5
		}
		f := Fragment{Reason: "kimchi_premium"}
		if boost > 0 {
			f.BuyBoost = boost
		} else {
			f.SellBoost = -boost
		}
		return f, nil
	}
}

// WhaleFlowFetcher returns the net large-wallet flow for a symbol over a
// short window, positive meaning net inflow to exchanges (sell pressure).
type WhaleFlowFetcher func(ctx context.Context, symbol string) (netFlow float64, err error)

// WhaleFlowFragment treats net inflow as sell-leaning (whales depositing to
// sell) and net outflow as buy-leaning (accumulation off-exchange).
func WhaleFlowFragment(fetch WhaleFlowFetcher, scale float64) func(ctx context.Context, symbol string) (Fragment, error) {
	if scale <= 0 {
		scale = 1
	}
	return func(ctx context.Context, symbol string) (Fragment, error) {
		flow, err := fetch(ctx, symbol)
		if err != nil {
			return Neutral, err
		}
		boost := -flow / scale * 1.5
		if boost > 1.5 {
			boost = 1.5
		}
		if boost < -1.5 {
			boost = -1.5
		}
		f := Fragment{Reason: "whale_flow"}
		if boost > 0 {
			f.BuyBoost = boost
		} else {
			f.SellBoost = -boost
		}
		return f, nil
	}
}
