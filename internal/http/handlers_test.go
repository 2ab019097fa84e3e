package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wardenlabs/botwarden/internal/detection"
	"github.com/wardenlabs/botwarden/internal/notify"
	"github.com/wardenlabs/botwarden/internal/response"
	"github.com/wardenlabs/botwarden/internal/session"
	"github.com/wardenlabs/botwarden/internal/store"
	"github.com/wardenlabs/botwarden/pkg/config"
)

func newTestEnv() (Env, *store.MemoryStore) {
	repo := store.NewMemoryStore()
	cfg := config.Config{
		MaxBodyBytes: 1 << 20,
		DNTRespect:   true,
		IPHashSecret: "test-salt",
	}.Normalized()
	challenges := response.NewChallengeStore("test-secret")
	engine := response.NewEngine(repo, notify.NewLogNotifier(), challenges, cfg)
	engine.Sleep = func(time.Duration) {}

	return Env{
		Cfg:        cfg,
		Repo:       repo,
		Classifier: detection.NewClassifier(detection.DefaultRegistry(), nil),
		Engine:     engine,
		Challenges: challenges,
	}, repo
}

func collectBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(b)
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("healthz returns ok", func(t *testing.T) {
		env, _ := newTestEnv()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()

		env.Healthz(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if w.Body.String() != "ok" {
			t.Errorf("body = %q, want ok", w.Body.String())
		}
	})

	t.Run("readyz succeeds with a live store", func(t *testing.T) {
		env, _ := newTestEnv()
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()

		env.Readyz(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})
}

func TestCollect(t *testing.T) {
	t.Run("accepts a single event object", func(t *testing.T) {
		env, repo := newTestEnv()

		body := collectBody(t, map[string]any{
			"session_id": "s1",
			"event_type": "page_view",
		})
		req := httptest.NewRequest(http.MethodPost, "/collect", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		env.Collect(w, req)

		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
		}
		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["accepted"] != float64(1) {
			t.Errorf("accepted = %v, want 1", resp["accepted"])
		}

		s, err := repo.GetSession(context.Background(), "s1")
		if err != nil {
			t.Fatalf("session not stored: %v", err)
		}
		if s.PageViews != 1 || s.RequestCount != 1 {
			t.Errorf("session = %+v", s)
		}
		if n, _ := repo.CountEvents(context.Background(), "s1"); n != 1 {
			t.Errorf("events = %d, want 1", n)
		}
	})

	t.Run("accepts an event array", func(t *testing.T) {
		env, repo := newTestEnv()

		body := collectBody(t, []map[string]any{
			{"session_id": "s1", "event_type": "page_view"},
			{"session_id": "s1", "event_type": "click"},
			{"session_id": "s1", "event_type": "bogus_type"},
		})
		req := httptest.NewRequest(http.MethodPost, "/collect", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		env.Collect(w, req)

		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		var resp map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["accepted"] != float64(2) {
			t.Errorf("accepted = %v, want 2 (invalid type skipped)", resp["accepted"])
		}
		if n, _ := repo.CountEvents(context.Background(), "s1"); n != 2 {
			t.Errorf("events = %d, want 2", n)
		}
	})

	t.Run("respects DNT", func(t *testing.T) {
		env, repo := newTestEnv()

		body := collectBody(t, map[string]any{"session_id": "s1", "event_type": "page_view"})
		req := httptest.NewRequest(http.MethodPost, "/collect", body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("DNT", "1")
		w := httptest.NewRecorder()

		env.Collect(w, req)

		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d", w.Code)
		}
		var resp map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["accepted"] != float64(0) {
			t.Errorf("accepted = %v, want 0 under DNT", resp["accepted"])
		}
		if n, _ := repo.CountEvents(context.Background(), "s1"); n != 0 {
			t.Errorf("events = %d, want 0", n)
		}
	})

	t.Run("rejects wrong content type", func(t *testing.T) {
		env, _ := newTestEnv()
		req := httptest.NewRequest(http.MethodPost, "/collect", bytes.NewReader([]byte("a=b")))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()

		env.Collect(w, req)

		if w.Code != http.StatusUnsupportedMediaType {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnsupportedMediaType)
		}
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		env, _ := newTestEnv()
		req := httptest.NewRequest(http.MethodPost, "/collect", bytes.NewReader([]byte("{{{")))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		env.Collect(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("sets the session cookie", func(t *testing.T) {
		env, _ := newTestEnv()
		body := collectBody(t, map[string]any{"event_type": "page_view"})
		req := httptest.NewRequest(http.MethodPost, "/collect", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		env.Collect(w, req)

		cookies := w.Result().Cookies()
		found := false
		for _, c := range cookies {
			if c.Name == SessionCookie && c.Value != "" {
				found = true
			}
		}
		if !found {
			t.Error("expected a session cookie on the response")
		}
	})

	t.Run("terminal event triggers classification", func(t *testing.T) {
		env, repo := newTestEnv()

		// A sessionless single page view then an exit; the exit forces
		// classification regardless of the event-count cadence.
		for _, evType := range []string{"page_view", "page_exit"} {
			body := collectBody(t, map[string]any{"session_id": "s1", "event_type": evType})
			req := httptest.NewRequest(http.MethodPost, "/collect", body)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("User-Agent", "Mozilla/5.0 normal browser")
			w := httptest.NewRecorder()
			env.Collect(w, req)
			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
		}

		if _, err := repo.GetClassification(context.Background(), "s1"); err != nil {
			t.Errorf("expected a stored classification after page_exit: %v", err)
		}
	})

	t.Run("classifies on the event-count cadence", func(t *testing.T) {
		env, repo := newTestEnv()

		var events []map[string]any
		for i := 0; i < env.Cfg.ClassifyEveryNEvents; i++ {
			events = append(events, map[string]any{"session_id": "s1", "event_type": "mouse_trajectory"})
		}
		body := collectBody(t, events)
		req := httptest.NewRequest(http.MethodPost, "/collect", body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Mozilla/5.0 normal browser")
		w := httptest.NewRecorder()
		env.Collect(w, req)

		if _, err := repo.GetClassification(context.Background(), "s1"); err != nil {
			t.Errorf("expected a classification at %d events: %v", env.Cfg.ClassifyEveryNEvents, err)
		}
	})

	t.Run("known bot gets a response action", func(t *testing.T) {
		env, repo := newTestEnv()

		body := collectBody(t, map[string]any{"session_id": "bot-1", "event_type": "page_exit"})
		req := httptest.NewRequest(http.MethodPost, "/collect", body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; GPTBot/1.0)")
		w := httptest.NewRecorder()
		env.Collect(w, req)

		r, err := repo.GetClassification(context.Background(), "bot-1")
		if err != nil {
			t.Fatalf("classification missing: %v", err)
		}
		if r.BotName != "GPTBot" {
			t.Errorf("BotName = %s, want GPTBot", r.BotName)
		}
		// Training harvesters are monitored, not blocked.
		if got := w.Header().Get("X-Botwarden-Action"); got != "monitor" {
			t.Errorf("action header = %q, want monitor", got)
		}
		s, _ := repo.GetSession(context.Background(), "bot-1")
		if !s.IsKnownBot {
			t.Error("session should be flagged as a known bot")
		}
	})
}

func TestClassifyNow(t *testing.T) {
	t.Run("classifies an existing session", func(t *testing.T) {
		env, repo := newTestEnv()
		_ = repo.UpsertSession(context.Background(), session.Session{
			ID: "s1", UserAgent: "Mozilla/5.0 normal browser", RequestCount: 1, PageViews: 1, Duration: 60,
		})

		w := serveRouter(env, httptest.NewRequest(http.MethodPost, "/classify/s1", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		var result detection.Result
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !result.IsBot {
			t.Error("interactionless session should classify as bot")
		}
		if _, err := repo.GetClassification(context.Background(), "s1"); err != nil {
			t.Errorf("classification not stored: %v", err)
		}
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		env, _ := newTestEnv()
		w := serveRouter(env, httptest.NewRequest(http.MethodPost, "/classify/ghost", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestGetClassification(t *testing.T) {
	t.Run("returns the stored verdict", func(t *testing.T) {
		env, repo := newTestEnv()
		_ = repo.UpsertClassification(context.Background(), detection.Result{
			SessionID: "s1", IsBot: true, Category: detection.CategoryUnknownBot,
		})

		w := serveRouter(env, httptest.NewRequest(http.MethodGet, "/session/s1/classification", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var r detection.Result
		_ = json.Unmarshal(w.Body.Bytes(), &r)
		if r.Category != detection.CategoryUnknownBot {
			t.Errorf("Category = %s", r.Category)
		}
	})

	t.Run("no verdict is 404", func(t *testing.T) {
		env, _ := newTestEnv()
		w := serveRouter(env, httptest.NewRequest(http.MethodGet, "/session/s1/classification", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestChallengeEndpoints(t *testing.T) {
	t.Run("issue then verify round trip", func(t *testing.T) {
		env, repo := newTestEnv()
		env.Cfg.ChallengeDifficulty = 1
		_ = repo.UpsertSession(context.Background(), session.Session{ID: "s1"})

		req := httptest.NewRequest(http.MethodGet, "/challenge", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "s1"})
		w := httptest.NewRecorder()
		env.IssueChallenge(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("issue status = %d: %s", w.Code, w.Body.String())
		}
		var c response.PoWChallenge
		if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
			t.Fatalf("decode challenge: %v", err)
		}

		nonce, ok := response.Solve(c, 1_000_000)
		if !ok {
			t.Fatal("could not solve issued challenge")
		}

		body := collectBody(t, response.PoWSolution{ChallengeID: c.ID, Nonce: nonce})
		vr := httptest.NewRequest(http.MethodPost, "/challenge/verify", body)
		vw := httptest.NewRecorder()
		env.VerifyChallenge(vw, vr)

		if vw.Code != http.StatusOK {
			t.Errorf("verify status = %d: %s", vw.Code, vw.Body.String())
		}
		s, err := repo.GetSession(context.Background(), "s1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if !s.ChallengePassed {
			t.Error("a verified solution must mark the session as passed")
		}
	})

	t.Run("passed session is not challenged again", func(t *testing.T) {
		env, repo := newTestEnv()
		_ = repo.UpsertSession(context.Background(), session.Session{
			ID: "s1", UserAgent: "Mozilla/5.0 normal browser", ChallengePassed: true,
		})
		// An interactionless session at this confidence would normally
		// draw a challenge.
		r := detection.Result{
			SessionID: "s1", IsBot: true, BotProbability: 0.87,
			Confidence: 0.82, Category: detection.CategoryUnknownBot,
		}
		sess, _ := repo.GetSession(context.Background(), "s1")
		out, err := env.Engine.Respond(context.Background(), sess, r)
		if err != nil {
			t.Fatalf("Respond: %v", err)
		}
		if out.Action != response.ActionAllow || out.Challenge != nil {
			t.Errorf("outcome = %+v, want allow with no re-challenge", out)
		}
	})

	t.Run("issue without a session is rejected", func(t *testing.T) {
		env, _ := newTestEnv()
		w := httptest.NewRecorder()
		env.IssueChallenge(w, httptest.NewRequest(http.MethodGet, "/challenge", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("bad solution is 403", func(t *testing.T) {
		env, _ := newTestEnv()
		body := collectBody(t, response.PoWSolution{ChallengeID: "ghost", Nonce: 1})
		w := httptest.NewRecorder()
		env.VerifyChallenge(w, httptest.NewRequest(http.MethodPost, "/challenge/verify", body))
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

func TestBlocklistMiddleware(t *testing.T) {
	t.Run("blocked session gets 403 before any handler", func(t *testing.T) {
		env, repo := newTestEnv()
		now := time.Now().UTC()
		_ = repo.AppendToBlocklist(context.Background(), store.BlockEntry{
			SessionID: "blocked-1", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		})

		req := httptest.NewRequest(http.MethodPost, "/collect", bytes.NewReader([]byte("{}")))
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "blocked-1"})
		w := serveRouter(env, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("unblocked traffic passes through", func(t *testing.T) {
		env, _ := newTestEnv()
		w := serveRouter(env, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})
}

func serveRouter(env Env, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	NewRouter(env).ServeHTTP(w, req)
	return w
}
