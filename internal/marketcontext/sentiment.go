package marketcontext

// SentimentWeights are the fixed merge weights spec.md §4.2 names.
var SentimentWeights = struct {
	Social float64
	News   float64
	FearGreed float64
}{Social: 0.35, News: 0.25, FearGreed: 0.40}

// SentimentInputs is the raw per-source data the aggregator merges. Each
// score is expected in [-100, 100]; FearGreed is 0-100.
type SentimentInputs struct {
	SocialScore   float64
	SocialHas     bool
	NewsScore     float64
	NewsHas       bool
	FearGreed     float64
	FearGreedHas  bool
	SymbolMentions int
	SymbolScore   float64
}

// SentimentResult is the merged [-100,100] market score plus an optional
// per-symbol score (present only when mentions >= 1) and a contrarian flag.
type SentimentResult struct {
	MarketScore     float64 `json:"market_score"`
	SymbolScore     *float64 `json:"symbol_score,omitempty"`
	ContrarianBoost bool     `json:"contrarian_boost"`
}

// AggregateSentiment merges social + news + Fear&Greed with the weights
// above. Grounded on the teacher's internal/ai/sentiment/analyzer.go
// merge-weight pattern.
func AggregateSentiment(in SentimentInputs) SentimentResult {
	var weightedSum, weightTotal float64

	if in.SocialHas {
		weightedSum += in.SocialScore * SentimentWeights.Social
		weightTotal += SentimentWeights.Social
	}
	if in.NewsHas {
		weightedSum += in.NewsScore * SentimentWeights.News
		weightTotal += SentimentWeights.News
	}
	fgNormalized := (in.FearGreed - 50) * 2 // 0-100 -> -100..100
	if in.FearGreedHas {
		weightedSum += fgNormalized * SentimentWeights.FearGreed
		weightTotal += SentimentWeights.FearGreed
	}

	var market float64
	if weightTotal > 0 {
		market = weightedSum / weightTotal
	}

	res := SentimentResult{MarketScore: market}
	if in.SymbolMentions >= 1 {
		s := in.SymbolScore
		res.SymbolScore = &s
	}
	res.ContrarianBoost = in.FearGreedHas && (in.FearGreed < 20 || in.FearGreed > 80)
	return res
}

// Fragment converts the merged sentiment into the ±1.5 compositor
// contribution spec.md §4.3 names, applying the market score and, when
// present, the per-symbol score with equal weight.
func (r SentimentResult) Fragment() Fragment {
	score := r.MarketScore
	if r.SymbolScore != nil {
		score = (score + *r.SymbolScore) / 2
	}
	boost := score / 100 * 1.5
	if boost > 1.5 {
		boost = 1.5
	}
	if boost < -1.5 {
		boost = -1.5
	}
	f := Fragment{Reason: "sentiment"}
	if boost > 0 {
		f.BuyBoost = boost
	} else {
		f.SellBoost = -boost
	}
	return f
}
