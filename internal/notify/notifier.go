package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator-facing notification. Delivery (email, Slack, a
// dashboard) is the consumer's problem; the core only emits.
type Alert struct {
	ID        string    `json:"alert_id"`
	Type      string    `json:"alert_type"` // bot_detected, challenge_issued, session_blocked
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	IPHash    string    `json:"ip_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAlert fills in the id and timestamp.
func NewAlert(alertType string, severity Severity, title, message, sessionID, ipHash string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Severity:  severity,
		Title:     title,
		Message:   message,
		SessionID: sessionID,
		IPHash:    ipHash,
		CreatedAt: time.Now().UTC(),
	}
}

// Notifier delivers alerts to an external channel.
type Notifier interface {
	Start(ctx context.Context) error
	Emit(a Alert) error
	Close() error
	Name() string
}
