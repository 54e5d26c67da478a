package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

const (
	UpdateSOSTriggered = "sos_triggered"
	UpdateSOSEscalated = "sos_escalated"
	UpdateSOSStatus    = "sos_status"
)

// EmergencyUpdate is the payload sent to police dispatch and the live dashboard feed.
type EmergencyUpdate struct {
	Type   string     `json:"type"`
	Event  *sos.Event `json:"event"`
	Target sos.Target `json:"target,omitempty"`
	At     time.Time  `json:"at"`
}

func newUpdate(kind string, e *sos.Event, at time.Time) EmergencyUpdate {
	return EmergencyUpdate{Type: kind, Event: e, Target: sos.TargetFor(e.EscalationLevel), At: at}
}

// Dispatcher hands emergency updates to the police dispatch system.
type Dispatcher interface {
	Publish(ctx context.Context, u EmergencyUpdate) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes updates keyed by event id so each event's
// updates stay ordered on one partition.
type KafkaDispatcher struct {
	w messageWriter
}

func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}
}

func (d *KafkaDispatcher) Publish(ctx context.Context, u EmergencyUpdate) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode dispatch update: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(u.Event.ID.String()),
		Value: body,
		Time:  u.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(u.Type)},
			{Key: "priority", Value: []byte(u.Event.Priority)},
		},
	}
	if err := d.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for %s: %w", u.Type, u.Event.ID, err)
	}
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.w.Close()
}
