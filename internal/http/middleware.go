package httpx

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wardenlabs/botwarden/internal/metrics"
	"github.com/wardenlabs/botwarden/internal/session"
	"github.com/wardenlabs/botwarden/internal/store"
)

func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s ua=%q dur=%s", r.Method, r.URL.Path, r.UserAgent(), time.Since(start))
	})
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Very permissive for dev; tighten in production.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, DNT")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware records request counts and durations.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.IncrementHTTPRequests(r.URL.Path, r.Method, strconv.Itoa(rec.status))
			m.ObserveHTTPDuration(r.URL.Path, r.Method, time.Since(start))
		})
	}
}

// Blocklist rejects requests from blocked sessions or IPs with a 403 before
// they reach any handler. A repository error fails open: detection must
// never take the site down.
func Blocklist(e Env) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if e.Repo == nil {
				next.ServeHTTP(w, r)
				return
			}
			sessionID := sessionIDFromRequest(r)
			ipHash := session.HashIP(clientIP(r, e.Cfg.TrustProxy), e.Cfg.IPHashSecret)

			blocked, err := e.Repo.IsBlocked(r.Context(), sessionID, ipHash)
			if err != nil && err != store.ErrNotFound {
				log.Printf("http: blocklist check failed: %v", err)
			}
			if blocked {
				http.Error(w, "Access temporarily restricted. Please try again later.", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionIDFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get("X-Botwarden-Session")
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
