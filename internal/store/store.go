package store

import (
	"context"
	"errors"
	"time"

	"github.com/wardenlabs/botwarden/internal/detection"
	"github.com/wardenlabs/botwarden/internal/session"
)

// ErrNotFound is returned when a session or classification does not exist.
// Callers treat it as "no data yet", never as a failure.
var ErrNotFound = errors.New("store: not found")

// BlockEntry is one blocklist row. Expired entries stop matching but are
// retained for the audit trail.
type BlockEntry struct {
	SessionID string    `json:"session_id"`
	IPHash    string    `json:"ip_hash"`
	Reason    string    `json:"reason"`
	Evidence  string    `json:"evidence,omitempty"` // serialized classification
	BlockedBy string    `json:"blocked_by"`
	HitCount  int       `json:"hit_count"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Repository is the persistence collaborator the core consumes. The
// "at most one current classification per session" invariant is enforced
// here via upsert; concurrent classifiers for the same session resolve to
// last write wins.
type Repository interface {
	GetSession(ctx context.Context, id string) (session.Session, error)
	UpsertSession(ctx context.Context, s session.Session) error
	UpdateResponseAction(ctx context.Context, sessionID, action string) error

	AppendEvent(ctx context.Context, e session.Event) error
	GetEvents(ctx context.Context, sessionID string) ([]session.Event, error)
	CountEvents(ctx context.Context, sessionID string) (int, error)

	UpsertClassification(ctx context.Context, r detection.Result) error
	GetClassification(ctx context.Context, sessionID string) (detection.Result, error)

	AppendToBlocklist(ctx context.Context, e BlockEntry) error
	// IsBlocked matches an active, unexpired entry by session id or IP hash
	// and bumps its hit count on match.
	IsBlocked(ctx context.Context, sessionID, ipHash string) (bool, error)

	Close() error
}
