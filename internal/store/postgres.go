package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/wardenlabs/botwarden/internal/detection"
	"github.com/wardenlabs/botwarden/internal/session"
)

// PGStore is the Postgres-backed Repository.
type PGStore struct {
	db *sql.DB
}

// NewPGStore opens a connection pool for the given DSN and verifies it.
func NewPGStore(dsn string) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PGStore{db: db}, nil
}

// NewPGStoreWithDB wraps an existing handle; used by tests with sqlmock.
func NewPGStoreWithDB(db *sql.DB) *PGStore { return &PGStore{db: db} }

// EnsureSchema creates the tables if they do not exist.
func (p *PGStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id       TEXT PRIMARY KEY,
			ip_hash          TEXT NOT NULL,
			user_agent       TEXT NOT NULL DEFAULT '',
			user_agent_hash  TEXT NOT NULL DEFAULT '',
			referrer         TEXT NOT NULL DEFAULT '',
			ja3_fingerprint  TEXT NOT NULL DEFAULT '',
			page_views       INT NOT NULL DEFAULT 0,
			request_count    INT NOT NULL DEFAULT 0,
			session_duration BIGINT NOT NULL DEFAULT 0,
			has_mouse_data   BOOLEAN NOT NULL DEFAULT FALSE,
			has_scroll_data  BOOLEAN NOT NULL DEFAULT FALSE,
			is_logged_in     BOOLEAN NOT NULL DEFAULT FALSE,
			is_known_bot     BOOLEAN NOT NULL DEFAULT FALSE,
			challenge_passed BOOLEAN NOT NULL DEFAULT FALSE,
			response_action  TEXT NOT NULL DEFAULT '',
			session_start    TIMESTAMPTZ NOT NULL,
			last_update      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id         BIGSERIAL PRIMARY KEY,
			event_id   TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL,
			payload    JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS events_session_ts ON events (session_id, ts)`,
		`CREATE TABLE IF NOT EXISTS classifications (
			session_id        TEXT PRIMARY KEY,
			is_bot            BOOLEAN NOT NULL,
			bot_probability   DOUBLE PRECISION NOT NULL,
			human_probability DOUBLE PRECISION NOT NULL,
			confidence        DOUBLE PRECISION NOT NULL,
			category          TEXT NOT NULL,
			method            TEXT NOT NULL,
			indicators        JSONB,
			bot_name          TEXT NOT NULL DEFAULT '',
			model_version     TEXT NOT NULL DEFAULT '',
			requires_review   BOOLEAN NOT NULL,
			classified_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blocklist (
			id         BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			ip_hash    TEXT NOT NULL DEFAULT '',
			reason     TEXT NOT NULL DEFAULT '',
			evidence   JSONB,
			blocked_by TEXT NOT NULL DEFAULT 'system',
			hit_count  INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS blocklist_lookup ON blocklist (session_id, ip_hash, expires_at)`,
	}
	for _, stmt := range ddl {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (p *PGStore) GetSession(ctx context.Context, id string) (session.Session, error) {
	var s session.Session
	err := p.db.QueryRowContext(ctx, `
		SELECT session_id, ip_hash, user_agent, user_agent_hash, referrer, ja3_fingerprint,
		       page_views, request_count, session_duration,
		       has_mouse_data, has_scroll_data, is_logged_in, is_known_bot,
		       challenge_passed, response_action,
		       session_start, last_update
		FROM sessions WHERE session_id = $1`, id).Scan(
		&s.ID, &s.IPHash, &s.UserAgent, &s.UserAgentHash, &s.Referrer, &s.JA3,
		&s.PageViews, &s.RequestCount, &s.Duration,
		&s.HasMouseData, &s.HasScroll, &s.IsLoggedIn, &s.IsKnownBot,
		&s.ChallengePassed, &s.ResponseAction,
		&s.StartedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return session.Session{}, ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	return s, nil
}

func (p *PGStore) UpsertSession(ctx context.Context, s session.Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, ip_hash, user_agent, user_agent_hash, referrer, ja3_fingerprint,
			page_views, request_count, session_duration,
			has_mouse_data, has_scroll_data, is_logged_in, is_known_bot,
			challenge_passed, response_action,
			session_start, last_update)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (session_id) DO UPDATE SET
			page_views = EXCLUDED.page_views,
			request_count = EXCLUDED.request_count,
			session_duration = EXCLUDED.session_duration,
			has_mouse_data = EXCLUDED.has_mouse_data,
			has_scroll_data = EXCLUDED.has_scroll_data,
			is_logged_in = EXCLUDED.is_logged_in,
			is_known_bot = EXCLUDED.is_known_bot,
			challenge_passed = EXCLUDED.challenge_passed,
			response_action = EXCLUDED.response_action,
			last_update = EXCLUDED.last_update`,
		s.ID, s.IPHash, s.UserAgent, s.UserAgentHash, s.Referrer, s.JA3,
		s.PageViews, s.RequestCount, s.Duration,
		s.HasMouseData, s.HasScroll, s.IsLoggedIn, s.IsKnownBot,
		s.ChallengePassed, s.ResponseAction,
		s.StartedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

func (p *PGStore) UpdateResponseAction(ctx context.Context, sessionID, action string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET response_action = $2 WHERE session_id = $1`, sessionID, action)
	if err != nil {
		return fmt.Errorf("failed to update response action: %w", err)
	}
	return nil
}

func (p *PGStore) AppendEvent(ctx context.Context, e session.Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO events (event_id, session_id, event_type, ts, payload)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.SessionID, string(e.Type), e.Timestamp, nullableJSON(e.Payload))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (p *PGStore) GetEvents(ctx context.Context, sessionID string) ([]session.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT event_id, session_id, event_type, ts, COALESCE(payload, 'null'::jsonb)
		FROM events WHERE session_id = $1 ORDER BY ts ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	var out []session.Event
	for rows.Next() {
		var e session.Event
		var typ string
		var payload []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &typ, &e.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = session.EventType(typ)
		if string(payload) != "null" {
			e.Payload = payload
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PGStore) CountEvents(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func (p *PGStore) UpsertClassification(ctx context.Context, r detection.Result) error {
	indicators, err := json.Marshal(r.Indicators)
	if err != nil {
		return fmt.Errorf("failed to encode indicators: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO classifications (session_id, is_bot, bot_probability, human_probability,
			confidence, category, method, indicators, bot_name, model_version,
			requires_review, classified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (session_id) DO UPDATE SET
			is_bot = EXCLUDED.is_bot,
			bot_probability = EXCLUDED.bot_probability,
			human_probability = EXCLUDED.human_probability,
			confidence = EXCLUDED.confidence,
			category = EXCLUDED.category,
			method = EXCLUDED.method,
			indicators = EXCLUDED.indicators,
			bot_name = EXCLUDED.bot_name,
			model_version = EXCLUDED.model_version,
			requires_review = EXCLUDED.requires_review,
			classified_at = EXCLUDED.classified_at`,
		r.SessionID, r.IsBot, r.BotProbability, r.HumanProbability,
		r.Confidence, string(r.Category), string(r.Method), indicators,
		r.BotName, r.ModelVersion, r.RequiresReview, r.ClassifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert classification: %w", err)
	}
	return nil
}

func (p *PGStore) GetClassification(ctx context.Context, sessionID string) (detection.Result, error) {
	var r detection.Result
	var category, method string
	var indicators []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT session_id, is_bot, bot_probability, human_probability, confidence,
		       category, method, COALESCE(indicators, 'null'::jsonb), bot_name,
		       model_version, requires_review, classified_at
		FROM classifications WHERE session_id = $1`, sessionID).Scan(
		&r.SessionID, &r.IsBot, &r.BotProbability, &r.HumanProbability, &r.Confidence,
		&category, &method, &indicators, &r.BotName,
		&r.ModelVersion, &r.RequiresReview, &r.ClassifiedAt,
	)
	if err == sql.ErrNoRows {
		return detection.Result{}, ErrNotFound
	}
	if err != nil {
		return detection.Result{}, fmt.Errorf("failed to load classification: %w", err)
	}
	r.Category = detection.Category(category)
	r.Method = detection.Method(method)
	if string(indicators) != "null" {
		if err := json.Unmarshal(indicators, &r.Indicators); err != nil {
			log.Printf("store: dropping malformed indicators for session %s: %v", sessionID, err)
		}
	}
	return r, nil
}

func (p *PGStore) AppendToBlocklist(ctx context.Context, e BlockEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO blocklist (session_id, ip_hash, reason, evidence, blocked_by, hit_count, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.SessionID, e.IPHash, e.Reason, nullableJSON([]byte(e.Evidence)), e.BlockedBy,
		e.HitCount, e.CreatedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to append blocklist entry: %w", err)
	}
	return nil
}

func (p *PGStore) IsBlocked(ctx context.Context, sessionID, ipHash string) (bool, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		SELECT id FROM blocklist
		WHERE ((session_id = $1 AND $1 <> '') OR (ip_hash = $2 AND $2 <> ''))
		  AND expires_at > NOW()
		ORDER BY id DESC LIMIT 1`, sessionID, ipHash).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check blocklist: %w", err)
	}
	if _, err := p.db.ExecContext(ctx,
		`UPDATE blocklist SET hit_count = hit_count + 1 WHERE id = $1`, id); err != nil {
		log.Printf("store: failed to bump blocklist hit count: %v", err)
	}
	return true, nil
}

func (p *PGStore) Close() error { return p.db.Close() }

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
