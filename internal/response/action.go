package response

import (
	"github.com/wardenlabs/botwarden/internal/detection"
	"github.com/wardenlabs/botwarden/pkg/config"
)

// Action is the enforcement decision for a classified session. The values
// form a severity ranking, not a transition path: the engine computes the
// target action directly each time.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionMonitor   Action = "monitor"
	ActionChallenge Action = "challenge"
	ActionBlock     Action = "block"
	ActionTarpit    Action = "tarpit"
)

var severity = map[Action]int{
	ActionAllow:     0,
	ActionMonitor:   1,
	ActionChallenge: 2,
	ActionBlock:     3,
	ActionTarpit:    4,
}

// Severity returns the action's rank for override comparisons.
func (a Action) Severity() int { return severity[a] }

// categoryOverrides take precedence over the threshold-derived default.
var categoryOverrides = map[detection.Category]Action{
	detection.CategoryTrainingHarvester:  ActionMonitor,
	detection.CategorySearchIndexer:      ActionMonitor,
	detection.CategoryResearchAggregator: ActionAllow,
	detection.CategoryMaliciousScraper:   ActionBlock,
	detection.CategoryUnknownBot:         ActionChallenge,
}

// Decide maps a classification onto a response action: a confidence
// threshold ladder first, then the category override table on top. Human
// sessions never reach the ladder.
func Decide(result detection.Result, cfg config.Config) Action {
	if !result.IsBot || result.Category == detection.CategoryHuman {
		return ActionAllow
	}

	action := ActionAllow
	switch {
	case result.Confidence >= cfg.AutoBlockThreshold:
		action = ActionBlock
	case result.Confidence >= cfg.ChallengeThreshold:
		action = ActionChallenge
	case result.Confidence >= cfg.MinConfidenceThreshold:
		action = ActionMonitor
	}

	if override, ok := categoryOverrides[result.Category]; ok {
		action = override
	}
	return action
}
