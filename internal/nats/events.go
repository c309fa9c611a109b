package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
)

const (
	// StreamName is the name of the turn events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all turn event subjects.
	SubjectPrefix = "chat"
)

// EventPublisher publishes turn lifecycle events to JetStream so other
// consumers (analytics, audit) can observe conversations.
type EventPublisher struct {
	client *Client
}

// NewEventPublisher creates a publisher on an established client.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{client: client}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (p *EventPublisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Turn lifecycle events for assistant conversations",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject for a turn event.
func EventSubject(userID string, eventType model.TurnEventType) string {
	return fmt.Sprintf("%s.%s.turn.%s", SubjectPrefix, userID, eventType)
}

// Publish publishes a turn event to JetStream.
func (p *EventPublisher) Publish(ctx context.Context, ev model.TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal turn event: %w", err)
	}

	if _, err := p.client.JetStream().Publish(ctx, EventSubject(ev.UserID, ev.Type), data); err != nil {
		return fmt.Errorf("failed to publish turn event: %w", err)
	}
	return nil
}
