package detection

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/wardenlabs/botwarden/internal/metrics"
	"github.com/wardenlabs/botwarden/internal/session"
)

// Method identifies which pipeline produced a classification.
type Method string

const (
	MethodHeuristic Method = "heuristic"
	MethodMLLocal   Method = "ml_local"
	MethodMLCloud   Method = "ml_cloud"
	MethodEnsemble  Method = "ensemble"
)

// Result is the one-per-session classification verdict. Re-classification
// overwrites it in storage; the storage layer enforces the upsert.
type Result struct {
	SessionID        string    `json:"session_id"`
	IsBot            bool      `json:"is_bot"`
	BotProbability   float64   `json:"bot_probability"`
	HumanProbability float64   `json:"human_probability"`
	Confidence       float64   `json:"confidence"`
	Category         Category  `json:"category"`
	Method           Method    `json:"method"`
	Indicators       []string  `json:"indicators,omitempty"`
	BotName          string    `json:"bot_name,omitempty"` // set on known-bot matches
	ModelVersion     string    `json:"model_version,omitempty"`
	RequiresReview   bool      `json:"requires_review"`
	ClassifiedAt     time.Time `json:"classified_at"`
}

// Classifier runs the full scoring pipeline. It holds no per-session state:
// calling Classify twice with the same inputs yields the same result, and
// concurrent calls for the same session are safe (last write wins at the
// storage layer).
type Classifier struct {
	Registry Registry
	External ExternalClassifier // nil disables the ensemble path

	// ExternalTrigger is the heuristic confidence below which the external
	// model is consulted.
	ExternalTrigger float64
	// ReviewThreshold marks results below it for human review.
	ReviewThreshold float64
	// ExternalTimeout bounds the external call.
	ExternalTimeout time.Duration

	// Metrics counts external classifier failures when set.
	Metrics *metrics.Metrics

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewClassifier wires a classifier with the default registry and thresholds.
func NewClassifier(registry Registry, external ExternalClassifier) *Classifier {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Classifier{
		Registry:        registry,
		External:        external,
		ExternalTrigger: 0.85,
		ReviewThreshold: 0.75,
		ExternalTimeout: 5 * time.Second,
		Now:             time.Now,
	}
}

func (c *Classifier) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Classify scores a session against its events-so-far. It never returns an
// error: external classifier failure degrades to the heuristic-only result.
func (c *Classifier) Classify(ctx context.Context, s session.Session, events []session.Event) Result {
	// Known-bot short circuit: a declared crawler is classified by its
	// registry entry, feature scoring is skipped entirely.
	if c.Registry != nil {
		if bot, ok := c.Registry.Match(s.UserAgent); ok {
			return c.finish(Result{
				SessionID:      s.ID,
				IsBot:          true,
				BotProbability: 1,
				Confidence:     0.99,
				Category:       bot.Type,
				Method:         MethodHeuristic,
				BotName:        bot.Name,
				Indicators:     []string{"known_bot_signature"},
			})
		}
	}

	features := ExtractFeatures(s, events)
	heuristic := ScoreHeuristic(features)

	result := Result{
		SessionID:      s.ID,
		IsBot:          heuristic.IsBot(),
		BotProbability: heuristic.BotProbability,
		Confidence:     heuristic.Confidence,
		Category:       heuristic.Category,
		Method:         MethodHeuristic,
		Indicators:     heuristic.Indicators,
	}

	// Consult the external model only for uncertain heuristic verdicts.
	if c.External != nil && heuristic.Confidence < c.ExternalTrigger {
		callCtx := ctx
		if c.ExternalTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.ExternalTimeout)
			defer cancel()
		}
		ext, err := c.External.Classify(callCtx, s.ID, features.Normalized())
		if err != nil {
			// Degrade to heuristic-only; the method tag must not claim
			// an ensemble that never happened.
			log.Printf("detection: external classifier unavailable for session %s: %v", s.ID, err)
			if c.Metrics != nil {
				kind := "request_failed"
				if errors.Is(err, context.DeadlineExceeded) {
					kind = "timeout"
				}
				c.Metrics.IncrementExternalClassifierErrors(kind)
			}
		} else {
			prob, conf, cat := combine(heuristic, ext)
			result.IsBot = prob >= botThreshold
			result.BotProbability = prob
			result.Confidence = conf
			result.Category = cat
			result.Method = MethodEnsemble
			result.ModelVersion = ext.ModelVersion
		}
	}

	return c.finish(result)
}

func (c *Classifier) finish(r Result) Result {
	r.HumanProbability = round4(1 - r.BotProbability)
	r.RequiresReview = r.Confidence < c.reviewThreshold()
	r.ClassifiedAt = c.now()
	return r
}

func (c *Classifier) reviewThreshold() float64 {
	if c.ReviewThreshold > 0 {
		return c.ReviewThreshold
	}
	return 0.75
}
