// Package notify publishes promotion outcomes for downstream consumers
// (smoke runner, dashboards).
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/promoter"
)

// Event is the message value; the message key is "<service>/<env>".
type Event struct {
	RunID      entity.ID `json:"runId"`
	QueueID    entity.ID `json:"queueId"`
	Service    string    `json:"service"`
	Env        string    `json:"env"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	Digest     string    `json:"digest,omitempty"`
	EvidenceID entity.ID `json:"evidenceId,omitempty"`
	Error      string    `json:"error,omitempty"`
	Commit     string    `json:"commit,omitempty"`
	At         time.Time `json:"at"`
}

// EventsOf builds one event per entry of a finished run. Skipped entries
// were already terminal and produce none.
func EventsOf(run *entity.PromotionRun) []Event {
	events := make([]Event, 0, len(run.Entries))
	for _, e := range run.Entries {
		if e.Outcome == string(promoter.OutcomeSkipped) {
			continue
		}
		events = append(events, Event{
			RunID:      run.ID,
			QueueID:    e.QueueID,
			Service:    e.Service,
			Env:        e.Env,
			Outcome:    e.Outcome,
			Attempts:   e.Attempts,
			Digest:     e.Digest,
			EvidenceID: e.EvidenceID,
			Error:      e.Error,
			Commit:     run.Commit,
			At:         run.FinishedAt,
		})
	}
	return events
}

type Publisher interface {
	Publish(ctx context.Context, events []Event) error
	Close() error
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []Event) error { return nil }
func (NopPublisher) Close() error                           { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic required")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w, timeout: cfg.WriteTimeout}, nil
}

// Publish writes all events in one batch. Events of the same service/env hash
// to the same partition, so consumers see them in order.
func (p *KafkaPublisher) Publish(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.QueueID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(entity.Key{Service: ev.Service, Env: ev.Env}.String()),
			Value: value,
			Time:  ev.At,
		})
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: publish %d events: %w", len(msgs), err)
	}
	zerolog.Ctx(ctx).Debug().Int("events", len(msgs)).Msg("published promotion events")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
