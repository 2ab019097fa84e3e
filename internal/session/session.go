package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Session is one visitor's tracked browsing interval. IPs are stored only as
// salted hashes; the raw address never leaves the ingest boundary.
type Session struct {
	ID            string    `json:"session_id"`
	IPHash        string    `json:"ip_hash"`
	UserAgent     string    `json:"user_agent"`
	UserAgentHash string    `json:"user_agent_hash"`
	Referrer      string    `json:"referrer,omitempty"`
	JA3           string    `json:"ja3_fingerprint,omitempty"`

	PageViews    int   `json:"page_views"`
	RequestCount int   `json:"request_count"`
	Duration     int64 `json:"session_duration"` // seconds

	HasMouseData bool `json:"has_mouse_data"`
	HasScroll    bool `json:"has_scroll_data"`
	IsLoggedIn   bool `json:"is_logged_in"`
	IsKnownBot   bool `json:"is_known_bot"`

	// ChallengePassed suppresses re-challenging a visitor that already
	// solved a proof-of-work puzzle.
	ChallengePassed bool `json:"challenge_passed"`
	// ResponseAction is the last action the response engine took.
	ResponseAction string `json:"response_action,omitempty"`

	StartedAt time.Time `json:"session_start"`
	UpdatedAt time.Time `json:"last_update"`
}

// NewID returns a fresh opaque session token.
func NewID() string { return uuid.NewString() }

// HashIP produces the salted hash stored in place of a raw client address.
func HashIP(ip, secret string) string {
	sum := sha256.Sum256([]byte(ip + secret))
	return hex.EncodeToString(sum[:])
}

// HashUserAgent hashes a UA string for grouping without retaining odd
// high-entropy values verbatim in indexes.
func HashUserAgent(ua string) string {
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])
}

// New constructs a session record from the ingest-visible request facts.
func New(id, clientIP, userAgent, referrer, secret string, now time.Time) Session {
	if id == "" {
		id = NewID()
	}
	return Session{
		ID:            id,
		IPHash:        HashIP(clientIP, secret),
		UserAgent:     userAgent,
		UserAgentHash: HashUserAgent(userAgent),
		Referrer:      referrer,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

// Touch updates the bookkeeping an event implies: counters, interaction
// flags, and the running duration. Only page views count as requests;
// interaction events belong to the page that produced them.
func (s *Session) Touch(e Event, now time.Time) {
	switch e.Type {
	case EventPageView:
		s.PageViews++
		s.RequestCount++
	case EventMouseTrajectory:
		s.HasMouseData = true
	case EventScrollBehavior, EventScrollMilestone:
		s.HasScroll = true
	}
	if d := int64(now.Sub(s.StartedAt) / time.Second); d > s.Duration {
		s.Duration = d
	}
	s.UpdatedAt = now
}
