package detection

// Category classifies what kind of automated visitor a session looks like.
type Category string

const (
	CategoryTrainingHarvester  Category = "training_harvester"
	CategorySearchIndexer      Category = "search_indexer"
	CategoryResearchAggregator Category = "research_aggregator"
	CategoryMaliciousScraper   Category = "malicious_scraper"
	CategoryUnknownBot         Category = "unknown_bot"
	CategoryHuman              Category = "human"
)

// ResolveCategory maps feature patterns and bot probability onto a category.
// It is an ordered decision list: the first matching rule wins. Sessions
// below the bot threshold are always human; a prior known-bot registry match
// overrides this resolver entirely (handled by the classifier).
func ResolveCategory(f FeatureVector, botProbability float64) Category {
	if botProbability < botThreshold {
		return CategoryHuman
	}

	// Systematic, polite, comprehensive: crawls everything once at a
	// modest rate without pretending to read anything.
	if f.RequestRate < 30 && f.PathEfficiency > 0.8 && f.EngagementScore < 20 {
		return CategoryTrainingHarvester
	}

	// Selective and fast, structured-data focused.
	if f.RequestRate > 20 && f.RequestRate < 100 && f.EngagementScore < 30 {
		return CategorySearchIndexer
	}

	// Aggressive or headless-and-hammering.
	if f.RequestRate > 100 || (!f.HasMouseData && !f.HasScrollData && f.RequestRate > 50) {
		return CategoryMaliciousScraper
	}

	// Human-like pacing with some real scrolling.
	if f.EngagementScore > 20 && f.EngagementScore < 50 && f.HasScrollData {
		return CategoryResearchAggregator
	}

	return CategoryUnknownBot
}
