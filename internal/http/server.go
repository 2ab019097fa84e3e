// Package httpx is the ingest and enforcement surface: it accepts event
// batches from the client SDK, drives classification on its cadence, and
// applies the decided response to the live request.
package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wardenlabs/botwarden/internal/detection"
	"github.com/wardenlabs/botwarden/internal/metrics"
	"github.com/wardenlabs/botwarden/internal/response"
	"github.com/wardenlabs/botwarden/internal/store"
	"github.com/wardenlabs/botwarden/pkg/config"
)

// SessionCookie carries the opaque session token between requests.
const SessionCookie = "bw_session"

// Env bundles the collaborators the handlers need.
type Env struct {
	Cfg        config.Config
	Repo       store.Repository
	Classifier *detection.Classifier
	Engine     *response.Engine
	Challenges *response.ChallengeStore
	Metrics    *metrics.Metrics
}

// NewRouter builds the HTTP surface.
func NewRouter(e Env) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger)
	r.Use(CORS)
	if e.Metrics != nil {
		r.Use(MetricsMiddleware(e.Metrics))
	}
	r.Use(Blocklist(e))

	r.Get("/healthz", e.Healthz)
	r.Get("/readyz", e.Readyz)

	r.Post("/collect", e.Collect)
	r.Post("/classify/{sessionID}", e.ClassifyNow)
	r.Get("/session/{sessionID}/classification", e.GetClassification)

	r.Get("/challenge", e.IssueChallenge)
	r.Post("/challenge/verify", e.VerifyChallenge)

	return r
}
