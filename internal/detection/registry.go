package detection

import "strings"

// KnownBot is one entry in the registry of declared, self-identifying
// crawlers. Trusted bots still classify as bots; trust only affects how the
// host chooses to rate limit them.
type KnownBot struct {
	Name        string
	Type        Category
	UAPatterns  []string // case-insensitive substring matches
	Trusted     bool
	RateLimit   int // requests per minute the operator documents as polite
	OfficialURL string
}

// Registry answers whether a user agent belongs to a known bot.
type Registry interface {
	Match(userAgent string) (KnownBot, bool)
}

// StaticRegistry is an immutable in-memory Registry. The enclosing system
// may refresh it wholesale from storage on its own schedule; the matcher
// itself never mutates.
type StaticRegistry struct {
	bots []KnownBot
}

// NewStaticRegistry builds a registry over the given entries.
func NewStaticRegistry(bots []KnownBot) *StaticRegistry {
	return &StaticRegistry{bots: bots}
}

// Match scans UA patterns in registration order, first hit wins.
func (r *StaticRegistry) Match(userAgent string) (KnownBot, bool) {
	ua := strings.ToLower(userAgent)
	for _, bot := range r.bots {
		for _, pattern := range bot.UAPatterns {
			if strings.Contains(ua, strings.ToLower(pattern)) {
				return bot, true
			}
		}
	}
	return KnownBot{}, false
}

// DefaultRegistry returns the seed list of LLM-era crawlers.
func DefaultRegistry() *StaticRegistry {
	return NewStaticRegistry([]KnownBot{
		{
			Name:        "GPTBot",
			Type:        CategoryTrainingHarvester,
			UAPatterns:  []string{"GPTBot", "OpenAI"},
			Trusted:     true,
			RateLimit:   100,
			OfficialURL: "https://openai.com/gptbot",
		},
		{
			Name:        "ClaudeBot",
			Type:        CategoryTrainingHarvester,
			UAPatterns:  []string{"ClaudeBot", "anthropic"},
			Trusted:     true,
			RateLimit:   100,
			OfficialURL: "https://www.anthropic.com",
		},
		{
			Name:        "Google-Extended",
			Type:        CategoryTrainingHarvester,
			UAPatterns:  []string{"Google-Extended"},
			Trusted:     true,
			RateLimit:   200,
			OfficialURL: "https://developers.google.com/search/docs/crawling-indexing/overview-google-crawlers",
		},
		{
			Name:        "CCBot",
			Type:        CategoryTrainingHarvester,
			UAPatterns:  []string{"CCBot", "CommonCrawl"},
			Trusted:     true,
			RateLimit:   50,
			OfficialURL: "https://commoncrawl.org",
		},
		{
			Name:        "PerplexityBot",
			Type:        CategorySearchIndexer,
			UAPatterns:  []string{"PerplexityBot"},
			Trusted:     true,
			RateLimit:   150,
			OfficialURL: "https://www.perplexity.ai",
		},
		{
			Name:        "OAI-SearchBot",
			Type:        CategorySearchIndexer,
			UAPatterns:  []string{"OAI-SearchBot"},
			Trusted:     true,
			RateLimit:   150,
			OfficialURL: "https://openai.com/search",
		},
		{
			Name:        "ChatGPT-User",
			Type:        CategoryResearchAggregator,
			UAPatterns:  []string{"ChatGPT-User"},
			Trusted:     true,
			RateLimit:   200,
			OfficialURL: "https://openai.com/chatgpt",
		},
		{
			Name:        "Meta-ExternalAgent",
			Type:        CategoryTrainingHarvester,
			UAPatterns:  []string{"Meta-ExternalAgent", "FacebookBot"},
			Trusted:     true,
			RateLimit:   100,
			OfficialURL: "https://ai.meta.com",
		},
	})
}
