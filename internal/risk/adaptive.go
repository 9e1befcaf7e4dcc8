package risk

import "time"

// AdaptiveResult is the compositor-facing output of the adaptive filter: an
// additive minimum-buy-score bump and a position-size multiplier.
type AdaptiveResult struct {
	MinScoreBump    float64
	SizeMultiplier  float64
	HardCooldown    bool
	HardCooldownUntil time.Time
	Reasons         []string
}

// AdaptiveInputs is everything the filter needs for one evaluation.
type AdaptiveInputs struct {
	Now               time.Time
	ConsecutiveLosses int
	LastLossTs        time.Time
	FearGreed         float64
	HasFearGreed      bool
	TodaySells        int
	TodayWins         int
}

// Evaluate runs the four adaptive-filter rules spec.md §4.4 lists. Rules
// compose additively on MinScoreBump; SizeMultiplier is the product of any
// triggered size-shrink rules.
func Evaluate(in AdaptiveInputs) AdaptiveResult {
	res := AdaptiveResult{SizeMultiplier: 1.0}

	hour := in.Now.Hour()
	if hour >= 0 && hour < 6 {
		res.MinScoreBump += 0.5
		res.Reasons = append(res.Reasons, "night_hours")
	}

	if in.ConsecutiveLosses >= 2 {
		res.MinScoreBump += 0.5
		res.Reasons = append(res.Reasons, "consecutive_losses")
		if !in.LastLossTs.IsZero() {
			until := in.LastLossTs.Add(30 * time.Minute)
			if in.Now.Before(until) {
				res.HardCooldown = true
				res.HardCooldownUntil = until
			}
		}
	}

	if in.HasFearGreed && in.FearGreed < 20 {
		res.MinScoreBump += 1.0
		res.Reasons = append(res.Reasons, "extreme_fear")
	}

	if in.TodaySells >= 5 {
		winRate := 0.0
		if in.TodaySells > 0 {
			winRate = float64(in.TodayWins) / float64(in.TodaySells)
		}
		if winRate < 0.4 {
			res.SizeMultiplier *= 0.5
			res.Reasons = append(res.Reasons, "low_win_rate")
		}
	}

	return res
}
