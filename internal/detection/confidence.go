package detection

import "math"

// EstimateConfidence derives a confidence in [0, 0.99] from how far the
// probability sits from the undecided midpoint, plus a data-richness bonus:
// more interaction samples mean the distance is earned rather than an
// artifact of thin data. Known-bot matches short-circuit upstream at a
// fixed 0.99 and never reach this formula.
func EstimateConfidence(botProbability float64, f FeatureVector) float64 {
	distance := math.Abs(botProbability-0.5) * 2

	bonus := 0.0
	eventCount := f.MouseEventCount + f.ScrollEventCount + f.ClickCount
	if eventCount > 50 {
		bonus += 0.2
	} else if eventCount > 20 {
		bonus += 0.1
	}
	if f.HasMouseData && f.HasScrollData {
		bonus += 0.1
	}
	if f.IsKnownBot {
		bonus += 0.3
	}

	return round4(math.Min(0.99, distance+bonus))
}
