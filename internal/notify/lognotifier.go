package notify

import (
	"context"
	"encoding/json"
	"log"
)

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Start(ctx context.Context) error { return nil }

func (n *LogNotifier) Emit(a Alert) error {
	b, _ := json.Marshal(a)
	log.Printf("alert %s", string(b))
	return nil
}

func (n *LogNotifier) Close() error { return nil }

func (n *LogNotifier) Name() string { return "log" }
