package detection

// botThreshold is the single bot/human decision boundary. Probabilities at
// or above it classify as bot.
const botThreshold = 0.75

// HeuristicResult carries everything the fixed rule set derives from a
// feature vector.
type HeuristicResult struct {
	BotScore       int
	HumanScore     int
	BotProbability float64
	Confidence     float64
	Category       Category
	Indicators     []string
}

// IsBot applies the decision threshold to the scored probability.
func (r HeuristicResult) IsBot() bool { return r.BotProbability >= botThreshold }

// ScoreHeuristic applies the rule table to a feature vector. Point
// magnitudes are fixed; changing them changes classification behavior for
// every stored threshold downstream.
func ScoreHeuristic(f FeatureVector) HeuristicResult {
	botScore := 0
	humanScore := 0
	var indicators []string

	// Bot-leaning rules.
	if !f.HasMouseData && !f.HasScrollData {
		botScore += 30
		indicators = append(indicators, "no_client_interaction")
	}
	if f.RequestRate > 60 {
		botScore += 25
		indicators = append(indicators, "high_request_rate")
	} else if f.RequestRate > 30 {
		botScore += 15
		indicators = append(indicators, "elevated_request_rate")
	}
	if f.SuspiciousMouse {
		botScore += 20
		indicators = append(indicators, "suspicious_mouse")
	}
	if f.SuspiciousScroll {
		botScore += 15
		indicators = append(indicators, "suspicious_scroll")
	}
	if f.HasBotUA {
		botScore += 25
		indicators = append(indicators, "bot_user_agent")
	}
	if f.EngagementScore < 5 {
		botScore += 20
		indicators = append(indicators, "very_low_engagement")
	} else if f.EngagementScore < 15 {
		botScore += 10
		indicators = append(indicators, "low_engagement")
	}
	if f.PathEfficiency > 0.95 {
		botScore += 10
		indicators = append(indicators, "perfect_path_efficiency")
	}
	if !f.HasReferrer {
		botScore += 5
		indicators = append(indicators, "no_referrer")
	}

	// Human-leaning rules.
	if f.HasMouseData {
		humanScore += 15
		indicators = append(indicators, "has_mouse_data")
	}
	if f.HasScrollData {
		humanScore += 15
		indicators = append(indicators, "has_scroll_data")
	}
	if f.MouseDirectionChanges > 10 {
		humanScore += 15
		indicators = append(indicators, "natural_mouse_movement")
	}
	if f.MaxScrollDepth > 75 {
		humanScore += 10
		indicators = append(indicators, "deep_scroll")
	}
	if f.ClickCount > 0 {
		humanScore += 10
		indicators = append(indicators, "has_clicks")
	}
	if f.FormInteractionCount > 0 {
		humanScore += 10
		indicators = append(indicators, "form_interaction")
	}
	if f.RequestRate > 0 && f.RequestRate < 20 {
		humanScore += 10
		indicators = append(indicators, "normal_request_rate")
	}
	if f.EngagementScore > 60 {
		humanScore += 15
		indicators = append(indicators, "high_engagement")
	}
	if f.IsLoggedIn {
		// Strongest single human signal.
		humanScore += 25
		indicators = append(indicators, "logged_in_user")
	}
	if f.EventTimeVariance > 100 {
		// Humans are irregular; too-steady timing never earns this.
		humanScore += 10
		indicators = append(indicators, "irregular_timing")
	}

	total := botScore + humanScore
	botProbability := 0.5 // undecided default when nothing fired
	if total > 0 {
		botProbability = float64(botScore) / float64(total)
	}

	// Balance correction: a lopsided indicator count pulls the probability
	// toward the dominant side.
	if f.HumanIndicators > f.BotIndicators+3 {
		botProbability = clamp01(botProbability - 0.2)
	} else if f.BotIndicators > f.HumanIndicators+2 {
		botProbability = clamp01(botProbability + 0.2)
	}
	botProbability = round4(botProbability)

	return HeuristicResult{
		BotScore:       botScore,
		HumanScore:     humanScore,
		BotProbability: botProbability,
		Confidence:     EstimateConfidence(botProbability, f),
		Category:       ResolveCategory(f, botProbability),
		Indicators:     indicators,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
