package response

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/wardenlabs/botwarden/internal/detection"
	"github.com/wardenlabs/botwarden/internal/metrics"
	"github.com/wardenlabs/botwarden/internal/notify"
	"github.com/wardenlabs/botwarden/internal/session"
	"github.com/wardenlabs/botwarden/internal/store"
	"github.com/wardenlabs/botwarden/pkg/config"
)

// Outcome reports what the engine did so the transport layer can finish the
// job: terminate the blocked request, hand out the challenge, or hold the
// response for the tarpit delay.
type Outcome struct {
	Action           Action
	TerminateRequest bool
	Challenge        *PoWChallenge
	TarpitDelay      time.Duration
}

// Engine executes response actions through injected collaborators. It holds
// no per-session state of its own.
type Engine struct {
	Repo       store.Repository
	Notifier   notify.Notifier
	Challenges *ChallengeStore
	Cfg        config.Config
	Metrics    *metrics.Metrics

	// Rand and Sleep are injectable for tests.
	Rand  *rand.Rand
	Sleep func(time.Duration)
}

// NewEngine wires an engine over the given collaborators.
func NewEngine(repo store.Repository, notifier notify.Notifier, challenges *ChallengeStore, cfg config.Config) *Engine {
	return &Engine{
		Repo:       repo,
		Notifier:   notifier,
		Challenges: challenges,
		Cfg:        cfg,
		Rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		Sleep:      time.Sleep,
	}
}

// Respond decides and executes the response for a classification. The
// decision itself is pure (Decide); everything else is dispatch.
func (e *Engine) Respond(ctx context.Context, s session.Session, result detection.Result) (Outcome, error) {
	action := Decide(result, e.Cfg)

	// A visitor that already solved a proof-of-work puzzle is not
	// challenged again for the lifetime of the session.
	if action == ActionChallenge && s.ChallengePassed {
		action = ActionAllow
	}

	if e.Repo != nil {
		if err := e.Repo.UpdateResponseAction(ctx, s.ID, string(action)); err != nil && err != store.ErrNotFound {
			log.Printf("response: failed to record action for session %s: %v", s.ID, err)
		}
	}

	switch action {
	case ActionAllow:
		return Outcome{Action: action}, nil
	case ActionMonitor:
		return e.monitor(s, result)
	case ActionChallenge:
		return e.challenge(s, result)
	case ActionBlock:
		return e.block(ctx, s, result)
	case ActionTarpit:
		return e.tarpit(s)
	}
	return Outcome{Action: ActionAllow}, nil
}

func (e *Engine) monitor(s session.Session, result detection.Result) (Outcome, error) {
	e.emit(notify.NewAlert(
		"bot_detected",
		notify.SeverityWarning,
		"Bot detected - monitoring",
		fmt.Sprintf("Session %s flagged as potential bot (confidence: %d%%). Category: %s. Enhanced monitoring enabled.",
			s.ID, int(result.Confidence*100), result.Category),
		s.ID, s.IPHash,
	))
	return Outcome{Action: ActionMonitor}, nil
}

func (e *Engine) challenge(s session.Session, result detection.Result) (Outcome, error) {
	ttl := time.Duration(e.Cfg.ChallengeDurationSeconds) * time.Second
	c := e.Challenges.Issue(s.ID, e.Cfg.ChallengeDifficulty, ttl)

	e.emit(notify.NewAlert(
		"challenge_issued",
		notify.SeverityWarning,
		"Proof-of-work challenge issued",
		fmt.Sprintf("Challenge issued to session %s (confidence: %d%%).", s.ID, int(result.Confidence*100)),
		s.ID, s.IPHash,
	))
	return Outcome{Action: ActionChallenge, Challenge: &c}, nil
}

func (e *Engine) block(ctx context.Context, s session.Session, result detection.Result) (Outcome, error) {
	evidence, err := json.Marshal(result)
	if err != nil {
		evidence = nil
	}
	now := time.Now().UTC()
	entry := store.BlockEntry{
		SessionID: s.ID,
		IPHash:    s.IPHash,
		Reason:    "High confidence bot detection: " + string(result.Category),
		Evidence:  string(evidence),
		BlockedBy: "system",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(e.Cfg.BlockDurationSeconds) * time.Second),
	}
	if e.Repo != nil {
		if err := e.Repo.AppendToBlocklist(ctx, entry); err != nil {
			return Outcome{Action: ActionBlock}, fmt.Errorf("failed to write blocklist entry: %w", err)
		}
	}

	e.emit(notify.NewAlert(
		"session_blocked",
		notify.SeverityCritical,
		"Session blocked",
		fmt.Sprintf("Session %s has been blocked. Category: %s (confidence: %d%%).",
			s.ID, result.Category, int(result.Confidence*100)),
		s.ID, s.IPHash,
	))

	// The current request belongs to the session being blocked, so it is
	// terminated as well.
	return Outcome{Action: ActionBlock, TerminateRequest: true}, nil
}

func (e *Engine) tarpit(s session.Session) (Outcome, error) {
	min := e.Cfg.TarpitDelayMinSeconds
	max := e.Cfg.TarpitDelayMaxSeconds
	delay := time.Duration(min) * time.Second
	if max > min {
		delay += time.Duration(e.Rand.Intn(max-min+1)) * time.Second
	}
	// Only the session's own current request is delayed.
	if e.Sleep != nil {
		e.Sleep(delay)
	}
	return Outcome{Action: ActionTarpit, TarpitDelay: delay}, nil
}

func (e *Engine) emit(a notify.Alert) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Emit(a); err != nil {
		log.Printf("response: failed to emit alert %s: %v", a.Type, err)
		if e.Metrics != nil {
			e.Metrics.IncrementNotifierErrors(e.Notifier.Name())
		}
	}
}
