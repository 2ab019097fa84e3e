package detection

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wardenlabs/botwarden/internal/metrics"
	"github.com/wardenlabs/botwarden/internal/session"
)

type fakeExternal struct {
	result ExternalResult
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeExternal) Classify(ctx context.Context, sessionID string, vector map[string]float64) (ExternalResult, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return ExternalResult{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.result, f.err
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func botheavySession() session.Session {
	return session.Session{
		ID:           "s1",
		UserAgent:    "Mozilla/5.0 normal browser",
		RequestCount: 1,
		PageViews:    1,
		Duration:     60,
	}
}

func TestClassify(t *testing.T) {
	t.Run("known bot short-circuits feature scoring", func(t *testing.T) {
		ext := &fakeExternal{}
		c := NewClassifier(DefaultRegistry(), ext)
		c.Now = fixedNow

		s := session.Session{
			ID:        "s1",
			UserAgent: "Mozilla/5.0 (compatible; GPTBot/1.0; +https://openai.com/gptbot)",
			// Feature values that would otherwise scream human.
			IsLoggedIn: true,
		}
		r := c.Classify(context.Background(), s, nil)

		if !r.IsBot {
			t.Error("known bot must classify as bot")
		}
		if r.BotProbability != 1 {
			t.Errorf("BotProbability = %v, want 1", r.BotProbability)
		}
		if r.Confidence != 0.99 {
			t.Errorf("Confidence = %v, want 0.99", r.Confidence)
		}
		if r.BotName != "GPTBot" {
			t.Errorf("BotName = %s, want GPTBot", r.BotName)
		}
		if r.Category != CategoryTrainingHarvester {
			t.Errorf("Category = %s, want %s", r.Category, CategoryTrainingHarvester)
		}
		if ext.calls != 0 {
			t.Error("external classifier must not run for known bots")
		}
		if r.RequiresReview {
			t.Error("0.99 confidence must not require review")
		}
	})

	t.Run("probabilities are complementary", func(t *testing.T) {
		c := NewClassifier(DefaultRegistry(), nil)
		r := c.Classify(context.Background(), botheavySession(), nil)
		if sum := r.BotProbability + r.HumanProbability; math.Abs(sum-1) > 1e-9 {
			t.Errorf("probability sum = %v, want 1", sum)
		}
	})

	t.Run("classification is a pure function of its inputs", func(t *testing.T) {
		c := NewClassifier(DefaultRegistry(), nil)
		c.Now = fixedNow

		s := botheavySession()
		first := c.Classify(context.Background(), s, nil)
		second := c.Classify(context.Background(), s, nil)

		if !reflect.DeepEqual(first, second) {
			t.Errorf("repeated classification differs:\n%+v\n%+v", first, second)
		}
	})

	t.Run("external failure degrades to the heuristic result", func(t *testing.T) {
		ext := &fakeExternal{err: errors.New("model offline")}
		c := NewClassifier(DefaultRegistry(), ext)
		c.Now = fixedNow
		c.Metrics = metrics.InitMetrics()
		before := testutil.ToFloat64(c.Metrics.ExternalClassifierErr.WithLabelValues("request_failed"))

		r := c.Classify(context.Background(), botheavySession(), nil)

		if ext.calls != 1 {
			t.Errorf("external calls = %d, want 1", ext.calls)
		}
		if r.Method != MethodHeuristic {
			t.Errorf("Method = %s, want %s after external failure", r.Method, MethodHeuristic)
		}
		after := testutil.ToFloat64(c.Metrics.ExternalClassifierErr.WithLabelValues("request_failed"))
		if after-before != 1 {
			t.Errorf("error counter moved by %v, want 1", after-before)
		}
	})

	t.Run("external timeout keeps the heuristic tag", func(t *testing.T) {
		ext := &fakeExternal{
			result: ExternalResult{BotProbability: 0.1, Confidence: 0.9},
			delay:  time.Second,
		}
		c := NewClassifier(DefaultRegistry(), ext)
		c.ExternalTimeout = 5 * time.Millisecond
		c.Now = fixedNow

		r := c.Classify(context.Background(), botheavySession(), nil)

		if r.Method != MethodHeuristic {
			t.Errorf("Method = %s, want %s on timeout", r.Method, MethodHeuristic)
		}
	})

	t.Run("confident heuristic skips the external model", func(t *testing.T) {
		ext := &fakeExternal{}
		c := NewClassifier(DefaultRegistry(), ext)
		c.ExternalTrigger = 0.1 // everything is confident enough

		c.Classify(context.Background(), botheavySession(), nil)

		if ext.calls != 0 {
			t.Errorf("external calls = %d, want 0 above the trigger", ext.calls)
		}
	})

	t.Run("successful external blend is tagged ensemble", func(t *testing.T) {
		ext := &fakeExternal{result: ExternalResult{
			BotProbability: 0.95,
			Confidence:     0.9,
			Category:       CategoryMaliciousScraper,
			ModelVersion:   "v3",
		}}
		c := NewClassifier(DefaultRegistry(), ext)
		c.ExternalTrigger = 1.01 // always consult
		c.Now = fixedNow

		r := c.Classify(context.Background(), botheavySession(), nil)

		if r.Method != MethodEnsemble {
			t.Errorf("Method = %s, want %s", r.Method, MethodEnsemble)
		}
		if r.ModelVersion != "v3" {
			t.Errorf("ModelVersion = %s, want v3", r.ModelVersion)
		}
		if r.Category != CategoryMaliciousScraper {
			t.Errorf("Category = %s, want the external category", r.Category)
		}
	})

	t.Run("low confidence marks the result for review", func(t *testing.T) {
		c := NewClassifier(DefaultRegistry(), nil)

		// A sparse session lands near the midpoint.
		s := session.Session{ID: "s1", UserAgent: "Mozilla/5.0", RequestCount: 2, PageViews: 1, Duration: 30, Referrer: "https://x.test"}
		r := c.Classify(context.Background(), s, nil)

		if r.Confidence < c.ReviewThreshold && !r.RequiresReview {
			t.Error("sub-threshold confidence must set RequiresReview")
		}
		if r.Confidence >= c.ReviewThreshold && r.RequiresReview {
			t.Error("confident result must not set RequiresReview")
		}
	})
}

func TestCombine(t *testing.T) {
	t.Run("weights probabilities by confidence", func(t *testing.T) {
		h := HeuristicResult{BotProbability: 0.8, Confidence: 0.6}
		ext := ExternalResult{BotProbability: 0.2, Confidence: 0.3}

		prob, conf, _ := combine(h, ext)

		// 0.8*(0.6/0.9) + 0.2*(0.3/0.9)
		if want := round4(0.8*(2.0/3.0) + 0.2*(1.0/3.0)); prob != want {
			t.Errorf("probability = %v, want %v", prob, want)
		}
		if conf != 0.6 {
			t.Errorf("confidence = %v, want the higher source 0.6", conf)
		}
	})

	t.Run("zero confidence on both sides splits evenly", func(t *testing.T) {
		h := HeuristicResult{BotProbability: 1}
		ext := ExternalResult{BotProbability: 0}

		prob, _, _ := combine(h, ext)
		if prob != 0.5 {
			t.Errorf("probability = %v, want 0.5", prob)
		}
	})

	t.Run("bot verdict prefers the external category", func(t *testing.T) {
		h := HeuristicResult{BotProbability: 0.9, Confidence: 0.8, Category: CategorySearchIndexer}
		ext := ExternalResult{BotProbability: 0.9, Confidence: 0.8, Category: CategoryMaliciousScraper}

		_, _, cat := combine(h, ext)
		if cat != CategoryMaliciousScraper {
			t.Errorf("category = %s, want %s", cat, CategoryMaliciousScraper)
		}
	})

	t.Run("missing external category falls back to heuristic", func(t *testing.T) {
		h := HeuristicResult{BotProbability: 0.9, Confidence: 0.8, Category: CategorySearchIndexer}
		ext := ExternalResult{BotProbability: 0.9, Confidence: 0.8}

		_, _, cat := combine(h, ext)
		if cat != CategorySearchIndexer {
			t.Errorf("category = %s, want %s", cat, CategorySearchIndexer)
		}
	})

	t.Run("human verdict forces human category", func(t *testing.T) {
		h := HeuristicResult{BotProbability: 0.2, Confidence: 0.8, Category: CategoryHuman}
		ext := ExternalResult{BotProbability: 0.1, Confidence: 0.9, Category: CategoryUnknownBot}

		_, _, cat := combine(h, ext)
		if cat != CategoryHuman {
			t.Errorf("category = %s, want %s", cat, CategoryHuman)
		}
	})
}
