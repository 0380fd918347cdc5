package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/newsproof/newsbot/internal/runlog"
)

// RunEventVersion tags every run record published by this package.
const RunEventVersion = "newsbot.run.v1"

const DefaultTopic = "newsbot.runs"

var ErrInvalidConfig = errors.New("events: invalid config")

// RunEvent is the wire form of a finished pipeline pass.
type RunEvent struct {
	Version      string `json:"version"`
	RunID        string `json:"runId"`
	UpdateID     int64  `json:"updateId"`
	Stage        string `json:"stage"`
	Outcome      string `json:"outcome"`
	DerivedValue string `json:"derivedValue,omitempty"`
	TxHash       string `json:"txHash,omitempty"`
	Error        string `json:"error,omitempty"`
	StartedAt    string `json:"startedAt"`
	FinishedAt   string `json:"finishedAt,omitempty"`
}

func NewRunEvent(run runlog.Run) RunEvent {
	ev := RunEvent{
		Version:   RunEventVersion,
		RunID:     run.RunID.Hex(),
		UpdateID:  run.UpdateID,
		Stage:     string(run.Stage),
		Outcome:   string(run.Outcome),
		Error:     run.Error,
		StartedAt: run.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if run.DerivedValue != nil {
		ev.DerivedValue = run.DerivedValue.String()
	}
	if (run.TxHash != common.Hash{}) {
		ev.TxHash = run.TxHash.Hex()
	}
	if !run.FinishedAt.IsZero() {
		ev.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	return ev
}

type Publisher struct {
	producer Producer
	topic    string
}

func NewPublisher(producer Producer, topic string) (*Publisher, error) {
	if producer == nil {
		return nil, fmt.Errorf("%w: nil producer", ErrInvalidConfig)
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{producer: producer, topic: topic}, nil
}

// PublishRun emits run keyed by its run id.
func (p *Publisher) PublishRun(ctx context.Context, run runlog.Run) error {
	payload, err := json.Marshal(NewRunEvent(run))
	if err != nil {
		return fmt.Errorf("events: marshal run: %w", err)
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(run.RunID.Hex()), payload); err != nil {
		return fmt.Errorf("events: publish run %s: %w", run.RunID.Hex(), err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
