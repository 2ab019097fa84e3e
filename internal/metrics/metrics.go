package metrics

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the Prometheus metrics for botwarden.
type Metrics struct {
	// Counters
	EventsIngested        *prometheus.CounterVec
	ClassificationsTotal  *prometheus.CounterVec
	ResponseActionsTotal  *prometheus.CounterVec
	ExternalClassifierErr *prometheus.CounterVec
	NotifierErrors        *prometheus.CounterVec
	HTTPRequests          *prometheus.CounterVec

	// Gauges
	KnownBotMatches prometheus.Counter

	// Histograms
	ClassifyDuration *prometheus.HistogramVec
	HTTPDuration     *prometheus.HistogramVec
}

// Config holds configuration for the metrics server.
type Config struct {
	Enabled bool
	Addr    string
	TLSCert string
	TLSKey  string
}

// LoadConfig loads metrics configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Enabled: getBool("METRICS_ENABLED", false),
		Addr:    getOr("METRICS_ADDR", "127.0.0.1:9090"),
		TLSCert: getOr("METRICS_TLS_CERT", ""),
		TLSKey:  getOr("METRICS_TLS_KEY", ""),
	}
}

// NewMetrics creates and registers all botwarden metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botwarden_events_ingested_total",
				Help: "Total interaction events ingested by event type",
			},
			[]string{"event_type"},
		),

		ClassificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botwarden_classifications_total",
				Help: "Total classifications by category and method",
			},
			[]string{"category", "method"},
		),

		ResponseActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botwarden_response_actions_total",
				Help: "Total response actions taken",
			},
			[]string{"action"},
		),

		ExternalClassifierErr: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botwarden_external_classifier_errors_total",
				Help: "Total external classifier failures by error type",
			},
			[]string{"error_type"},
		),

		NotifierErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botwarden_notifier_errors_total",
				Help: "Total errors delivering alerts",
			},
			[]string{"notifier"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botwarden_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		KnownBotMatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "botwarden_known_bot_matches_total",
				Help: "Total sessions short-circuited by the known-bot registry",
			},
		),

		ClassifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botwarden_classify_duration_seconds",
				Help:    "Latency of one classification call",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"method"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botwarden_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),
	}

	prometheus.MustRegister(m.EventsIngested)
	prometheus.MustRegister(m.ClassificationsTotal)
	prometheus.MustRegister(m.ResponseActionsTotal)
	prometheus.MustRegister(m.ExternalClassifierErr)
	prometheus.MustRegister(m.NotifierErrors)
	prometheus.MustRegister(m.HTTPRequests)
	prometheus.MustRegister(m.KnownBotMatches)
	prometheus.MustRegister(m.ClassifyDuration)
	prometheus.MustRegister(m.HTTPDuration)

	return m
}

var defaultMetrics *Metrics

// InitMetrics initializes the process-wide metrics instance. Registration
// with the default prometheus registry can only happen once, so repeated
// calls return the same instance.
func InitMetrics() *Metrics {
	if defaultMetrics == nil {
		defaultMetrics = NewMetrics()
	}
	return defaultMetrics
}

// Convenience methods for common operations.
func (m *Metrics) IncrementEventsIngested(eventType string) {
	m.EventsIngested.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementClassifications(category, method string) {
	m.ClassificationsTotal.WithLabelValues(category, method).Inc()
}

func (m *Metrics) IncrementResponseActions(action string) {
	m.ResponseActionsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) IncrementExternalClassifierErrors(errorType string) {
	m.ExternalClassifierErr.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncrementNotifierErrors(notifier string) {
	m.NotifierErrors.WithLabelValues(notifier).Inc()
}

func (m *Metrics) ObserveClassifyDuration(method string, duration time.Duration) {
	m.ClassifyDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Server represents the metrics HTTP server.
type Server struct {
	server *http.Server
	config Config
}

// NewServer creates a new metrics server.
func NewServer(config Config) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.TLSCert != "" && config.TLSKey != "" {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Server{server: srv, config: config}
}

// Start starts the metrics server in a separate goroutine.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		log.Printf("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		var err error
		if s.config.TLSCert != "" && s.config.TLSKey != "" {
			log.Printf("metrics: HTTPS server listening on %s", s.config.Addr)
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			log.Printf("metrics: HTTP server listening on %s", s.config.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	log.Printf("metrics: shutting down server...")
	return s.server.Shutdown(ctx)
}

func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
