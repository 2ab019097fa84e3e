package session

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of interaction events the client SDK reports.
type EventType string

const (
	EventPageView         EventType = "page_view"
	EventMouseTrajectory  EventType = "mouse_trajectory"
	EventScrollBehavior   EventType = "scroll_behavior"
	EventClick            EventType = "click"
	EventFormInteraction  EventType = "form_interaction"
	EventElementVisible   EventType = "element_visible"
	EventSessionStart     EventType = "session_start"
	EventSessionEnd       EventType = "session_end"
	EventScrollMilestone  EventType = "scroll_milestone"
	EventViewportResize   EventType = "viewport_resize"
	EventVisibilityChange EventType = "visibility_change"
	EventPageExit         EventType = "page_exit"
)

var validEventTypes = map[EventType]bool{
	EventPageView:         true,
	EventMouseTrajectory:  true,
	EventScrollBehavior:   true,
	EventClick:            true,
	EventFormInteraction:  true,
	EventElementVisible:   true,
	EventSessionStart:     true,
	EventSessionEnd:       true,
	EventScrollMilestone:  true,
	EventViewportResize:   true,
	EventVisibilityChange: true,
	EventPageExit:         true,
}

// Valid reports whether t is part of the event-type enumeration.
func (t EventType) Valid() bool { return validEventTypes[t] }

// Terminal reports whether t ends a session and should force classification.
func (t EventType) Terminal() bool {
	return t == EventSessionEnd || t == EventPageExit
}

// Event is one observed interaction within a session. Events are append-only
// and immutable once stored; Payload stays opaque to everything except the
// feature extractor.
type Event struct {
	ID        string          `json:"event_id,omitempty"`
	SessionID string          `json:"session_id"`
	Type      EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"event_data,omitempty"`
}

// Motion holds the kinematic fields the SDK reports on mouse and scroll
// events. The velocity fields are pointers so a reported zero (a perfectly
// still cursor, which is itself a signal) stays distinct from an absent
// field; the remaining counts decode absent as zero.
type Motion struct {
	AvgVelocity      *float64 `json:"avgVelocity,omitempty"`
	MaxVelocity      *float64 `json:"maxVelocity,omitempty"`
	DirectionChanges int     `json:"directionChanges"`
	Distance         float64 `json:"distance"`
	Depth            int     `json:"depth"`
	FinalDepth       int     `json:"finalDepth"`
}

// DecodeMotion parses the event payload as motion data. Malformed payloads
// yield the zero value; the extractor never fails on bad client input.
func (e Event) DecodeMotion() Motion {
	var m Motion
	if len(e.Payload) == 0 {
		return m
	}
	_ = json.Unmarshal(e.Payload, &m)
	return m
}
