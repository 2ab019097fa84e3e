package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardenlabs/botwarden/internal/detection"
	httpx "github.com/wardenlabs/botwarden/internal/http"
	"github.com/wardenlabs/botwarden/internal/metrics"
	"github.com/wardenlabs/botwarden/internal/notify"
	"github.com/wardenlabs/botwarden/internal/response"
	"github.com/wardenlabs/botwarden/internal/store"
	"github.com/wardenlabs/botwarden/pkg/config"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// storage
	var repo store.Repository
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPGStore(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
		repo = pg
		log.Printf("botwarden using postgres store")
	} else {
		repo = store.NewMemoryStore()
		log.Printf("botwarden using in-memory store; set POSTGRES_DSN for persistence")
	}

	// metrics
	m := metrics.InitMetrics()
	metricsSrv := metrics.NewServer(metrics.LoadConfig())
	if err := metricsSrv.Start(ctx); err != nil {
		log.Fatalf("metrics server: %v", err)
	}

	// notifiers
	notifier := buildNotifier(cfg, m)
	if err := notifier.Start(ctx); err != nil {
		log.Fatalf("notifier start: %v", err)
	}

	// classification pipeline
	var external detection.ExternalClassifier
	if cfg.MLEnabled && cfg.MLEndpoint != "" {
		external = detection.NewHTTPClassifier(cfg.MLEndpoint, cfg.MLAPIKey, time.Duration(cfg.MLTimeoutSeconds)*time.Second)
		log.Printf("botwarden external classifier enabled: %s", cfg.MLEndpoint)
	}
	classifier := detection.NewClassifier(detection.DefaultRegistry(), external)
	classifier.ExternalTrigger = cfg.MLConfidenceTrigger
	classifier.ReviewThreshold = cfg.MinConfidenceThreshold
	classifier.ExternalTimeout = time.Duration(cfg.MLTimeoutSeconds) * time.Second
	classifier.Metrics = m

	challenges := response.NewChallengeStore(cfg.IPHashSecret)
	engine := response.NewEngine(repo, notifier, challenges, cfg)
	engine.Metrics = m

	// expired challenges get swept on a slow cadence
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				challenges.Sweep()
			}
		}
	}()

	env := httpx.Env{
		Cfg:        cfg,
		Repo:       repo,
		Classifier: classifier,
		Engine:     engine,
		Challenges: challenges,
		Metrics:    m,
	}

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           httpx.NewRouter(env),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("botwarden listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("botwarden shutting down")

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = notifier.Close()
	_ = repo.Close()
}

func buildNotifier(cfg config.Config, m *metrics.Metrics) notify.Notifier {
	var notifiers []notify.Notifier
	for _, out := range cfg.Outputs {
		switch out {
		case "log":
			notifiers = append(notifiers, notify.NewLogNotifier())
		case "kafka":
			notifiers = append(notifiers, notify.NewKafkaNotifierFromEnv())
		default:
			log.Printf("unknown output %q, skipping", out)
		}
	}
	if len(notifiers) == 0 {
		notifiers = append(notifiers, notify.NewLogNotifier())
	}
	if len(notifiers) == 1 {
		return notifiers[0]
	}
	f := notify.NewFanout(notifiers...)
	f.Metrics = m
	return f
}
