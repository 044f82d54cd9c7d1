package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	audit "examgate/pkg/platform/audit"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Sink publishes audit events to a Kafka topic, keyed by attempt so one tab's
// events stay ordered within a partition.
type Sink struct {
	client *kgo.Client
	topic  string
}

// message is the wire shape of one audit record.
type message struct {
	Category   string    `json:"category"`
	Timestamp  time.Time `json:"timestamp"`
	AttemptID  string    `json:"attempt_id"`
	SubjectID  int64     `json:"subject_id,omitempty"`
	SessionID  int64     `json:"session_id,omitempty"`
	Action     string    `json:"action"`
	Checkpoint string    `json:"checkpoint,omitempty"`
	Modality   string    `json:"modality,omitempty"`
	Decision   string    `json:"decision,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Epoch      uint64    `json:"epoch"`
	Device     string    `json:"device,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

// New connects to the given brokers.
func New(brokers []string, topic string) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Sink{client: client, topic: topic}, nil
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (s *Sink) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	admin := kadm.NewClient(s.client)
	resp, err := admin.CreateTopics(ctx, partitions, replication, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Append produces one record and waits for the broker ack.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Key:   []byte(event.AttemptID.String()),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func (s *Sink) Close() {
	s.client.Close()
}

// Encode renders an event in the topic's JSON shape.
func Encode(event audit.Event) ([]byte, error) {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	b, err := json.Marshal(message{
		Category:   string(category),
		Timestamp:  event.Timestamp.UTC(),
		AttemptID:  event.AttemptID.String(),
		SubjectID:  int64(event.SubjectID),
		SessionID:  int64(event.SessionID),
		Action:     event.Action,
		Checkpoint: event.Checkpoint,
		Modality:   event.Modality,
		Decision:   event.Decision,
		Reason:     event.Reason,
		Epoch:      event.Epoch,
		Device:     event.Device,
		RequestID:  event.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return b, nil
}
