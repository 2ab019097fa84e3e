package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/wardenlabs/botwarden/internal/metrics"
)

// Fanout delivers every alert to all configured notifiers. A failing channel
// is logged and skipped; the others still receive the alert.
type Fanout struct {
	notifiers []Notifier

	// Metrics counts per-channel delivery failures when set.
	Metrics *metrics.Metrics
}

func NewFanout(notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

func (f *Fanout) Start(ctx context.Context) error {
	for _, n := range f.notifiers {
		if err := n.Start(ctx); err != nil {
			return fmt.Errorf("start %s notifier: %w", n.Name(), err)
		}
	}
	return nil
}

func (f *Fanout) Emit(a Alert) error {
	var failed []string
	for _, n := range f.notifiers {
		if err := n.Emit(a); err != nil {
			log.Printf("notify: %s delivery failed for alert %s: %v", n.Name(), a.ID, err)
			if f.Metrics != nil {
				f.Metrics.IncrementNotifierErrors(n.Name())
			}
			failed = append(failed, n.Name())
		}
	}
	if len(failed) == len(f.notifiers) && len(f.notifiers) > 0 {
		return fmt.Errorf("all notifiers failed: %s", strings.Join(failed, ","))
	}
	return nil
}

func (f *Fanout) Close() error {
	var firstErr error
	for _, n := range f.notifiers {
		if err := n.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Fanout) Name() string {
	names := make([]string, 0, len(f.notifiers))
	for _, n := range f.notifiers {
		names = append(names, n.Name())
	}
	return "fanout(" + strings.Join(names, ",") + ")"
}
