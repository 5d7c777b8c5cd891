package events

import (
	"context"
	"errors"
	"testing"

	"github.com/healwise/apiserver/internal/mq"
	"github.com/healwise/apiserver/types"
)

type recordingBroker struct {
	channel string
	data    []byte
	attrs   map[string]string
	err     error
}

func (b *recordingBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.channel = channel
	b.data = data
	b.attrs = attrs
	return "msg-1", nil
}

func TestBrokerPublisherRoundTrip(t *testing.T) {
	broker := &recordingBroker{}
	publisher := NewBrokerPublisher(broker, "healwise.accounts")

	user := types.User{ID: 9, Email: "a@x.com", Role: types.RolePatient}
	if err := publisher.Publish(context.Background(), NewUserEvent(TypeUserRegistered, user)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if broker.channel != "healwise.accounts" {
		t.Fatalf("channel = %q", broker.channel)
	}
	if broker.attrs[AttrType] != TypeUserRegistered {
		t.Fatalf("attrs[type] = %q", broker.attrs[AttrType])
	}
	if broker.attrs[mq.AttrContentType] != "application/json" {
		t.Fatalf("attrs[content-type] = %q", broker.attrs[mq.AttrContentType])
	}

	event, err := Decode(mq.Message{ID: "msg-1", Data: broker.data})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if event.UserID != 9 || event.Role != types.RolePatient || event.Provider != "local" {
		t.Fatalf("event = %+v", event)
	}
	if event.OccurredAt.IsZero() {
		t.Fatal("expected OccurredAt to be set")
	}
}

func TestBrokerPublisherWrapsErrors(t *testing.T) {
	boom := errors.New("broker down")
	publisher := NewBrokerPublisher(&recordingBroker{err: boom}, "c")
	err := publisher.Publish(context.Background(), AccountEvent{Type: TypeUserLoggedIn})
	if !errors.Is(err, boom) {
		t.Fatalf("Publish() error = %v, want wrapped broker error", err)
	}
}

func TestNewUserEventUsesOAuthProvider(t *testing.T) {
	event := NewUserEvent(TypeUserRegistered, types.User{ID: 1, OAuthProvider: "google"})
	if event.Provider != "google" {
		t.Fatalf("Provider = %q, want google", event.Provider)
	}
}
