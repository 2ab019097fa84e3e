package metrics

import (
	"context"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadConfig()
		if cfg.Addr != "127.0.0.1:9090" {
			t.Errorf("Addr = %s, want 127.0.0.1:9090", cfg.Addr)
		}
		if cfg.Enabled {
			t.Error("metrics should default to disabled")
		}
		if cfg.TLSCert != "" || cfg.TLSKey != "" {
			t.Error("TLS should default to off")
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("METRICS_ADDR", ":9999")
		cfg := LoadConfig()
		if cfg.Addr != ":9999" {
			t.Errorf("Addr = %s, want :9999", cfg.Addr)
		}
	})
}

func TestInitMetrics(t *testing.T) {
	t.Run("creates every collector", func(t *testing.T) {
		m := InitMetrics()

		if m.EventsIngested == nil || m.ClassificationsTotal == nil ||
			m.ResponseActionsTotal == nil || m.ExternalClassifierErr == nil ||
			m.NotifierErrors == nil || m.HTTPRequests == nil ||
			m.KnownBotMatches == nil || m.ClassifyDuration == nil ||
			m.HTTPDuration == nil {
			t.Error("all collectors must be initialized")
		}
	})

	t.Run("repeated calls return the same instance", func(t *testing.T) {
		if InitMetrics() != InitMetrics() {
			t.Error("InitMetrics must be a singleton")
		}
	})
}

func TestConvenienceMethods(t *testing.T) {
	m := InitMetrics()

	// None of these should panic.
	m.IncrementEventsIngested("page_view")
	m.IncrementClassifications("training_harvester", "heuristic")
	m.IncrementResponseActions("monitor")
	m.IncrementExternalClassifierErrors("timeout")
	m.IncrementNotifierErrors("kafka")
	m.IncrementHTTPRequests("/collect", "POST", "202")
	m.ObserveClassifyDuration("heuristic", 3*time.Millisecond)
	m.ObserveHTTPDuration("/collect", "POST", 5*time.Millisecond)
	m.KnownBotMatches.Inc()
}

func TestServerLifecycle(t *testing.T) {
	t.Run("disabled server is a no-op", func(t *testing.T) {
		srv := NewServer(Config{Addr: "127.0.0.1:0"})
		if err := srv.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := srv.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})

	t.Run("starts and shuts down", func(t *testing.T) {
		srv := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0"})
		ctx := context.Background()

		if err := srv.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		time.Sleep(50 * time.Millisecond)

		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
}
