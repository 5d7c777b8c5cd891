// Package events publishes account lifecycle events to the message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/healwise/apiserver/internal/mq"
	"github.com/healwise/apiserver/types"
)

// Event types.
const (
	TypeUserRegistered = "user.registered"
	TypeUserLoggedIn   = "user.logged_in"
)

// AttrType carries the event type as a message attribute so consumers can
// filter without decoding the body.
const AttrType = "type"

// AccountEvent is the JSON body of every published message.
type AccountEvent struct {
	Type       string     `json:"type"`
	UserID     int        `json:"user_id"`
	Email      string     `json:"email"`
	Role       types.Role `json:"role"`
	Provider   string     `json:"provider"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, event AccountEvent) error
}

// Broker is the subset of *mq.MQ used to send events.
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// BrokerPublisher encodes events as JSON and sends them on one channel.
type BrokerPublisher struct {
	broker  Broker
	channel string
}

func NewBrokerPublisher(broker Broker, channel string) *BrokerPublisher {
	return &BrokerPublisher{broker: broker, channel: channel}
}

func (p *BrokerPublisher) Publish(ctx context.Context, event AccountEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	id, err := p.broker.Publish(ctx, p.channel, data, map[string]string{
		AttrType:           event.Type,
		mq.AttrContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	slog.Debug("account event published", "type", event.Type, "user_id", event.UserID, "message_id", id)
	return nil
}

// Discard drops every event. It is used when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, AccountEvent) error { return nil }

// Decode parses a message body produced by BrokerPublisher.
func Decode(msg mq.Message) (AccountEvent, error) {
	var event AccountEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return AccountEvent{}, fmt.Errorf("decode account event %s: %w", msg.ID, err)
	}
	return event, nil
}

// NewUserEvent builds an event for user.
func NewUserEvent(eventType string, user types.User) AccountEvent {
	provider := user.OAuthProvider
	if provider == "" {
		provider = "local"
	}
	return AccountEvent{
		Type:     eventType,
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		Provider: provider,
	}
}
