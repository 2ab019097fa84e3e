package detection

import "testing"

func TestResolveCategory(t *testing.T) {
	t.Run("below threshold is always human", func(t *testing.T) {
		f := FeatureVector{RequestRate: 500} // would otherwise be a scraper
		if got := ResolveCategory(f, 0.74); got != CategoryHuman {
			t.Errorf("category = %s, want %s", got, CategoryHuman)
		}
	})

	t.Run("harvester rule fires before the others", func(t *testing.T) {
		f := FeatureVector{
			RequestRate:     10,
			PathEfficiency:  0.9,
			EngagementScore: 5,
		}
		if got := ResolveCategory(f, 0.9); got != CategoryTrainingHarvester {
			t.Errorf("category = %s, want %s", got, CategoryTrainingHarvester)
		}
	})

	t.Run("moderate rate with low engagement is an indexer", func(t *testing.T) {
		f := FeatureVector{RequestRate: 50, EngagementScore: 10}
		if got := ResolveCategory(f, 0.8); got != CategorySearchIndexer {
			t.Errorf("category = %s, want %s", got, CategorySearchIndexer)
		}
	})

	t.Run("hammering rate is a malicious scraper", func(t *testing.T) {
		f := FeatureVector{RequestRate: 150, EngagementScore: 40}
		if got := ResolveCategory(f, 0.9); got != CategoryMaliciousScraper {
			t.Errorf("category = %s, want %s", got, CategoryMaliciousScraper)
		}
	})

	t.Run("headless at speed is a malicious scraper", func(t *testing.T) {
		f := FeatureVector{RequestRate: 60, EngagementScore: 40}
		if got := ResolveCategory(f, 0.9); got != CategoryMaliciousScraper {
			t.Errorf("category = %s, want %s", got, CategoryMaliciousScraper)
		}
	})

	t.Run("mid engagement with scrolling is a research aggregator", func(t *testing.T) {
		f := FeatureVector{
			RequestRate:     5,
			EngagementScore: 35,
			HasScrollData:   true,
			HasMouseData:    true,
		}
		if got := ResolveCategory(f, 0.8); got != CategoryResearchAggregator {
			t.Errorf("category = %s, want %s", got, CategoryResearchAggregator)
		}
	})

	t.Run("nothing matching falls through to unknown bot", func(t *testing.T) {
		f := FeatureVector{
			RequestRate:     5,
			EngagementScore: 60,
			HasMouseData:    true,
			HasScrollData:   true,
		}
		if got := ResolveCategory(f, 0.8); got != CategoryUnknownBot {
			t.Errorf("category = %s, want %s", got, CategoryUnknownBot)
		}
	})
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()

	t.Run("matches seeded crawler case-insensitively", func(t *testing.T) {
		bot, ok := reg.Match("Mozilla/5.0 AppleWebKit/537.36 (compatible; gptbot/1.0)")
		if !ok {
			t.Fatal("expected a match for GPTBot")
		}
		if bot.Name != "GPTBot" {
			t.Errorf("Name = %s, want GPTBot", bot.Name)
		}
		if bot.Type != CategoryTrainingHarvester {
			t.Errorf("Type = %s, want %s", bot.Type, CategoryTrainingHarvester)
		}
	})

	t.Run("matches alternate patterns", func(t *testing.T) {
		if _, ok := reg.Match("compatible; CommonCrawl fetcher"); !ok {
			t.Error("expected CommonCrawl pattern to resolve CCBot")
		}
	})

	t.Run("plain browsers do not match", func(t *testing.T) {
		if _, ok := reg.Match("Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0"); ok {
			t.Error("browser UA must not match the registry")
		}
	})

	t.Run("first registered pattern wins", func(t *testing.T) {
		reg := NewStaticRegistry([]KnownBot{
			{Name: "first", UAPatterns: []string{"shared"}},
			{Name: "second", UAPatterns: []string{"shared"}},
		})
		bot, ok := reg.Match("a shared token")
		if !ok || bot.Name != "first" {
			t.Errorf("Match = %v %v, want first", bot.Name, ok)
		}
	})
}
