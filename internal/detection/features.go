package detection

import (
	"math"
	"sort"
	"strings"

	"github.com/wardenlabs/botwarden/internal/session"
)

// FeatureVector is a fixed-schema summary of a session's behavior. It is
// recomputed fresh on every classification call as a pure function of
// (session, events); nothing here is persisted. Absent data extracts to
// zero values, never to errors.
type FeatureVector struct {
	// Request features.
	RequestRate  float64 // requests per minute
	RequestCount int
	UALength     int
	HasBotUA     bool
	IsKnownBot   bool
	HasTLSFP     bool

	// Session features.
	PathEfficiency  float64 // page views / requests, in [0,1]
	SessionDuration int64   // seconds
	PagesPerMinute  float64
	IsLoggedIn      bool
	HasReferrer     bool

	// Client interaction features.
	HasMouseData          bool
	HasScrollData         bool
	MouseEventCount       int
	AvgMouseVelocity      float64
	MouseDirectionChanges int
	TotalMouseDistance    float64
	SuspiciousMouse       bool
	ScrollEventCount      int
	AvgScrollVelocity     float64
	MaxScrollVelocity     float64
	MaxScrollDepth        int
	ScrollDirectionChanges int
	SuspiciousScroll      bool
	ClickCount            int
	FormInteractionCount  int
	ElementVisibleCount   int

	// Temporal features.
	AvgTimeBetweenEvents float64 // seconds
	EventTimeVariance    float64
	EventTimeStdDev      float64

	// Behavioral pattern features.
	InteractionDepthRatio float64
	MouseScrollRatio      float64
	EngagementScore       float64
	BotIndicators         int
	HumanIndicators       int
}

var botUATokens = []string{"bot", "crawler", "spider", "scraper"}

// ExtractFeatures derives the feature vector for a session from its ordered
// event list. It never fails: an empty event list produces zeroed
// interaction features with the request-side features still populated.
func ExtractFeatures(s session.Session, events []session.Event) FeatureVector {
	var f FeatureVector

	extractRequestFeatures(&f, s)
	extractSessionFeatures(&f, s)
	extractInteractionFeatures(&f, events)
	extractTemporalFeatures(&f, events)
	extractBehavioralPatterns(&f, s, events)

	return f
}

func extractRequestFeatures(f *FeatureVector, s session.Session) {
	duration := s.Duration
	if duration < 1 {
		duration = 1
	}
	f.RequestCount = s.RequestCount
	f.RequestRate = round2(float64(s.RequestCount) / float64(duration) * 60)

	f.UALength = len(s.UserAgent)
	ua := strings.ToLower(s.UserAgent)
	for _, tok := range botUATokens {
		if strings.Contains(ua, tok) {
			f.HasBotUA = true
			break
		}
	}

	f.IsKnownBot = s.IsKnownBot
	f.HasTLSFP = s.JA3 != ""
}

func extractSessionFeatures(f *FeatureVector, s session.Session) {
	requests := s.RequestCount
	if requests < 1 {
		requests = 1
	}
	f.PathEfficiency = round4(math.Min(1, float64(s.PageViews)/float64(requests)))
	f.SessionDuration = s.Duration
	if s.Duration > 0 {
		f.PagesPerMinute = round2(float64(s.PageViews) / float64(s.Duration) * 60)
	}
	f.IsLoggedIn = s.IsLoggedIn
	f.HasReferrer = s.Referrer != ""
}

func extractInteractionFeatures(f *FeatureVector, events []session.Event) {
	var mouseVelocities, scrollVelocities []float64

	for _, e := range events {
		switch e.Type {
		case session.EventMouseTrajectory:
			f.MouseEventCount++
			m := e.DecodeMotion()
			if m.AvgVelocity != nil {
				mouseVelocities = append(mouseVelocities, *m.AvgVelocity)
			}
			f.MouseDirectionChanges += m.DirectionChanges
			f.TotalMouseDistance += m.Distance

		case session.EventScrollBehavior, session.EventScrollMilestone:
			f.ScrollEventCount++
			m := e.DecodeMotion()
			if m.AvgVelocity != nil {
				scrollVelocities = append(scrollVelocities, *m.AvgVelocity)
			}
			if m.MaxVelocity != nil {
				scrollVelocities = append(scrollVelocities, *m.MaxVelocity)
			}
			if m.Depth > f.MaxScrollDepth {
				f.MaxScrollDepth = m.Depth
			}
			if m.FinalDepth > f.MaxScrollDepth {
				f.MaxScrollDepth = m.FinalDepth
			}
			f.ScrollDirectionChanges += m.DirectionChanges

		case session.EventClick:
			f.ClickCount++
		case session.EventFormInteraction:
			f.FormInteractionCount++
		case session.EventElementVisible:
			f.ElementVisibleCount++
		}
	}

	f.HasMouseData = f.MouseEventCount > 0
	f.HasScrollData = f.ScrollEventCount > 0
	f.AvgMouseVelocity = round2(mean(mouseVelocities))
	f.AvgScrollVelocity = round2(mean(scrollVelocities))
	f.MaxScrollVelocity = maxOf(scrollVelocities)

	f.SuspiciousMouse = suspiciousMousePattern(mouseVelocities)
	f.SuspiciousScroll = suspiciousScrollPattern(scrollVelocities)
}

// suspiciousMousePattern flags motion that is either too uniform or faster
// than a human hand: variance < 0.1 across more than 5 samples, or any
// reported velocity above 5000 units/sec.
func suspiciousMousePattern(velocities []float64) bool {
	if len(velocities) == 0 {
		return false
	}
	if variance(velocities) < 0.1 && len(velocities) > 5 {
		return true
	}
	return maxOf(velocities) > 5000
}

// suspiciousScrollPattern is the scroll analogue with looser uniformity
// (variance < 0.5, >3 samples) and a 10000 units/sec speed ceiling.
func suspiciousScrollPattern(velocities []float64) bool {
	if len(velocities) == 0 {
		return false
	}
	if variance(velocities) < 0.5 && len(velocities) > 3 {
		return true
	}
	return maxOf(velocities) > 10000
}

func extractTemporalFeatures(f *FeatureVector, events []session.Event) {
	if len(events) < 2 {
		return
	}

	timestamps := make([]float64, len(events))
	for i, e := range events {
		timestamps[i] = float64(e.Timestamp.UnixMilli()) / 1000
	}
	sort.Float64s(timestamps)

	gaps := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		gaps = append(gaps, timestamps[i]-timestamps[i-1])
	}

	f.AvgTimeBetweenEvents = round2(mean(gaps))
	f.EventTimeVariance = variance(gaps)
	f.EventTimeStdDev = round2(math.Sqrt(f.EventTimeVariance))
}

func extractBehavioralPatterns(f *FeatureVector, s session.Session, events []session.Event) {
	pageViews := s.PageViews
	if pageViews < 1 {
		pageViews = 1
	}
	f.InteractionDepthRatio = round2(float64(len(events)) / float64(pageViews))

	if f.ScrollEventCount > 0 {
		f.MouseScrollRatio = round2(float64(f.MouseEventCount) / float64(f.ScrollEventCount))
	}

	f.EngagementScore = engagementScore(f)
	f.BotIndicators = countBotIndicators(f)
	f.HumanIndicators = countHumanIndicators(f)
}

// engagementScore is a weighted, capped sum of interaction activity in
// [0,100]. Each channel saturates so a flood of one event type cannot fake
// a fully engaged visitor.
func engagementScore(f *FeatureVector) float64 {
	score := math.Min(30, float64(f.MouseEventCount)*2)
	score += math.Min(25, float64(f.ScrollEventCount)*3)
	score += math.Min(20, float64(f.ClickCount)*5)
	score += math.Min(15, float64(f.FormInteractionCount)*5)
	score += math.Min(10, float64(f.ElementVisibleCount))
	return round2(score)
}

func countBotIndicators(f *FeatureVector) int {
	n := 0
	if f.MouseEventCount == 0 {
		n++
	}
	if f.ScrollEventCount == 0 {
		n++
	}
	if f.RequestRate > 100 {
		n++
	}
	if f.SuspiciousMouse {
		n++
	}
	if f.SuspiciousScroll {
		n++
	}
	if f.HasBotUA {
		n += 2
	}
	if f.EngagementScore < 10 {
		n++
	}
	return n
}

func countHumanIndicators(f *FeatureVector) int {
	n := 0
	if f.MouseEventCount > 0 {
		n++
	}
	if f.ScrollEventCount > 0 {
		n++
	}
	if f.RequestRate > 0 && f.RequestRate < 30 {
		n++
	}
	if f.MouseDirectionChanges > 5 {
		n++
	}
	if f.MaxScrollDepth > 50 {
		n++
	}
	if f.ClickCount > 0 {
		n++
	}
	if f.FormInteractionCount > 0 {
		n++
	}
	if f.EngagementScore > 50 {
		n++
	}
	if f.IsLoggedIn {
		n += 2
	}
	return n
}

// Normalized returns the model-facing view of the vector with every entry
// scaled into [0,1]. Key names are part of the external classifier contract.
func (f FeatureVector) Normalized() map[string]float64 {
	return map[string]float64{
		"request_rate":        norm(f.RequestRate, 0, 100),
		"path_efficiency":     f.PathEfficiency,
		"session_duration":    norm(float64(f.SessionDuration), 0, 3600),
		"has_mouse_data":      boolToFloat(f.HasMouseData),
		"has_scroll_data":     boolToFloat(f.HasScrollData),
		"mouse_event_count":   norm(float64(f.MouseEventCount), 0, 100),
		"scroll_event_count":  norm(float64(f.ScrollEventCount), 0, 50),
		"click_count":         norm(float64(f.ClickCount), 0, 20),
		"avg_mouse_velocity":  norm(f.AvgMouseVelocity, 0, 1000),
		"avg_scroll_velocity": norm(f.AvgScrollVelocity, 0, 500),
		"max_scroll_depth":    norm(float64(f.MaxScrollDepth), 0, 100),
		"engagement_score":    norm(f.EngagementScore, 0, 100),
		"bot_indicators":      norm(float64(f.BotIndicators), 0, 10),
		"human_indicators":    norm(float64(f.HumanIndicators), 0, 10),
		"event_time_variance": norm(f.EventTimeVariance, 0, 10000),
		"has_referrer":        boolToFloat(f.HasReferrer),
		"is_logged_in":        boolToFloat(f.IsLoggedIn),
		"has_bot_ua":          boolToFloat(f.HasBotUA),
		"suspicious_mouse":    boolToFloat(f.SuspiciousMouse),
		"suspicious_scroll":   boolToFloat(f.SuspiciousScroll),
	}
}

func norm(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return math.Max(0, math.Min(1, (v-min)/(max-min)))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
