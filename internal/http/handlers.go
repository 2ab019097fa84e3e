package httpx

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wardenlabs/botwarden/internal/response"
	"github.com/wardenlabs/botwarden/internal/session"
	"github.com/wardenlabs/botwarden/internal/store"
)

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Repo != nil {
		// A cheap repository round trip verifies the store is reachable.
		if _, err := e.Repo.CountEvents(r.Context(), "readyz-check"); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// collectEvent is the wire shape of one SDK event.
type collectEvent struct {
	SessionID string          `json:"session_id,omitempty"`
	Type      string          `json:"event_type"`
	Timestamp int64           `json:"timestamp,omitempty"` // unix milliseconds
	Data      json.RawMessage `json:"event_data,omitempty"`
	LoggedIn  bool            `json:"is_logged_in,omitempty"`
}

// Collect accepts a single event object or an array of events from the SDK,
// updates session bookkeeping, and triggers classification on its cadence.
func (e Env) Collect(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	if e.Cfg.DNTRespect && r.Header.Get("DNT") == "1" {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": 0, "status": "dnt"})
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var incoming []collectEvent
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &incoming); err != nil {
			http.Error(w, "invalid json array", http.StatusBadRequest)
			return
		}
	} else {
		var one collectEvent
		if err := json.Unmarshal(raw, &one); err != nil {
			http.Error(w, "invalid json object", http.StatusBadRequest)
			return
		}
		incoming = []collectEvent{one}
	}

	ctx := r.Context()
	now := time.Now().UTC()
	sessionID := sessionIDFromRequest(r)

	accepted := 0
	var classifyAfter bool
	for _, in := range incoming {
		evType := session.EventType(in.Type)
		if !evType.Valid() {
			continue
		}
		if sessionID == "" {
			sessionID = in.SessionID
		}
		if sessionID == "" {
			sessionID = session.NewID()
		}

		sess, err := e.Repo.GetSession(ctx, sessionID)
		if err == store.ErrNotFound {
			sess = session.New(sessionID, clientIP(r, e.Cfg.TrustProxy), r.UserAgent(), r.Referer(), e.Cfg.IPHashSecret, now)
		} else if err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		if in.LoggedIn {
			sess.IsLoggedIn = true
		}

		ts := now
		if in.Timestamp > 0 {
			ts = time.UnixMilli(in.Timestamp).UTC()
		}
		ev := session.Event{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Type:      evType,
			Timestamp: ts,
			Payload:   in.Data,
		}

		sess.Touch(ev, now)
		if err := e.Repo.UpsertSession(ctx, sess); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := e.Repo.AppendEvent(ctx, ev); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		if e.Metrics != nil {
			e.Metrics.IncrementEventsIngested(string(evType))
		}
		accepted++
		if evType.Terminal() {
			classifyAfter = true
		}
	}

	outcomeHeader := ""
	if accepted > 0 {
		count, err := e.Repo.CountEvents(ctx, sessionID)
		if err != nil {
			count = 0
		}
		// Canonical cadence: every N events, past the backstop, or on a
		// session-ending event.
		if classifyAfter || (count > 0 && count%e.Cfg.ClassifyEveryNEvents == 0) || count > e.Cfg.ClassifyBackstopEvents {
			outcomeHeader = e.runClassification(r, sessionID)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   86400,
		SameSite: http.SameSiteLaxMode,
	})

	w.Header().Set("Content-Type", "application/json")
	if outcomeHeader != "" {
		w.Header().Set("X-Botwarden-Action", outcomeHeader)
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"accepted": accepted, "status": "ok", "session_id": sessionID})
}

// runClassification classifies the session and applies the response. The
// returned action name is surfaced to the SDK so it can fetch a challenge.
func (e Env) runClassification(r *http.Request, sessionID string) string {
	ctx := r.Context()

	sess, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return ""
	}
	events, err := e.Repo.GetEvents(ctx, sessionID)
	if err != nil {
		return ""
	}

	start := time.Now()
	result := e.Classifier.Classify(ctx, sess, events)
	if e.Metrics != nil {
		e.Metrics.ObserveClassifyDuration(string(result.Method), time.Since(start))
		e.Metrics.IncrementClassifications(string(result.Category), string(result.Method))
		if result.BotName != "" {
			e.Metrics.KnownBotMatches.Inc()
		}
	}

	if err := e.Repo.UpsertClassification(ctx, result); err != nil {
		log.Printf("http: failed to store classification for session %s: %v", sessionID, err)
	}
	if result.BotName != "" && !sess.IsKnownBot {
		sess.IsKnownBot = true
		_ = e.Repo.UpsertSession(ctx, sess)
	}

	// The response engine only runs for bot verdicts that clear the
	// minimum confidence bar.
	if !result.IsBot || result.Confidence < e.Cfg.MinConfidenceThreshold || e.Engine == nil {
		return ""
	}
	outcome, err := e.Engine.Respond(ctx, sess, result)
	if err != nil {
		log.Printf("http: response dispatch failed for session %s: %v", sessionID, err)
	}
	if e.Metrics != nil {
		e.Metrics.IncrementResponseActions(string(outcome.Action))
	}
	return string(outcome.Action)
}

// ClassifyNow forces an immediate classification, used by operators and the
// maintenance scheduler.
func (e Env) ClassifyNow(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	sess, err := e.Repo.GetSession(r.Context(), sessionID)
	if err == store.ErrNotFound {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	events, err := e.Repo.GetEvents(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	result := e.Classifier.Classify(r.Context(), sess, events)
	if err := e.Repo.UpsertClassification(r.Context(), result); err != nil {
		log.Printf("http: failed to store classification for session %s: %v", sessionID, err)
	}
	if e.Metrics != nil {
		e.Metrics.IncrementClassifications(string(result.Category), string(result.Method))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// GetClassification returns the current stored verdict for a session.
func (e Env) GetClassification(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	result, err := e.Repo.GetClassification(r.Context(), sessionID)
	if err == store.ErrNotFound {
		http.Error(w, "no classification", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// IssueChallenge hands the current session a fresh proof-of-work puzzle.
func (e Env) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		http.Error(w, "no session", http.StatusBadRequest)
		return
	}
	ttl := time.Duration(e.Cfg.ChallengeDurationSeconds) * time.Second
	c := e.Challenges.Issue(sessionID, e.Cfg.ChallengeDifficulty, ttl)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c)
}

// VerifyChallenge checks a submitted solution and, if valid, records the
// pass on the session so the response engine does not challenge it again.
func (e Env) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var sol response.PoWSolution
	if err := json.NewDecoder(r.Body).Decode(&sol); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	outcome := e.Challenges.Verify(sol)

	w.Header().Set("Content-Type", "application/json")
	if !outcome.Valid {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": false, "reason": outcome.Reason})
		return
	}

	if outcome.SessionID != "" {
		sess, err := e.Repo.GetSession(r.Context(), outcome.SessionID)
		if err == nil && !sess.ChallengePassed {
			sess.ChallengePassed = true
			if err := e.Repo.UpsertSession(r.Context(), sess); err != nil {
				log.Printf("http: failed to record challenge pass for session %s: %v", outcome.SessionID, err)
			}
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"valid": true})
}
