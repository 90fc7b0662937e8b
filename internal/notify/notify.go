// Package notify is the outbound boundary of the payment core: completed
// payments and redemptions are published as events, and user/admin
// notifications are handed off to whatever drives message delivery (the bot
// process consumes the subjects; delivery itself is not this core's job).
package notify

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Event is the envelope published for every domain event.
type Event struct {
	ID         string          `json:"event_id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Event types published by the payment core.
const (
	EventPaymentCompleted = "payments.completed"
	EventPromoRedeemed    = "promos.redeemed"
)

// NewEvent creates an event envelope around a payload.
func NewEvent(eventType string, data any) (*Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return &Event{
		ID:         ulid.MustNew(ulid.Now(), rand.Reader).String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}, nil
}

// Notifier delivers user-facing and admin-facing notifications and domain
// events. Implementations must tolerate being invoked at most once per
// completed transaction.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, text string) error
	NotifyAdmins(ctx context.Context, text string) error
	PublishEvent(ctx context.Context, event *Event) error
}

// NATSNotifier publishes notifications and events to NATS subjects.
type NATSNotifier struct {
	conn *nats.Conn
}

// NewNATSNotifier creates a notifier over an established NATS connection.
func NewNATSNotifier(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn}
}

type userMessage struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

type adminMessage struct {
	Text string `json:"text"`
}

// NotifyUser publishes a user notification to notify.user.
func (n *NATSNotifier) NotifyUser(ctx context.Context, userID int64, text string) error {
	return n.publish("notify.user", userMessage{UserID: userID, Text: text})
}

// NotifyAdmins publishes an admin notification to notify.admins.
func (n *NATSNotifier) NotifyAdmins(ctx context.Context, text string) error {
	return n.publish("notify.admins", adminMessage{Text: text})
}

// PublishEvent publishes a domain event on its type subject.
func (n *NATSNotifier) PublishEvent(ctx context.Context, event *Event) error {
	return n.publish(event.Type, event)
}

func (n *NATSNotifier) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", subject, err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Connect establishes a NATS connection with reconnect logging.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return conn, nil
}

// LogNotifier logs notifications instead of delivering them. Used when NATS
// is not configured.
type LogNotifier struct{}

// NotifyUser logs a user notification.
func (LogNotifier) NotifyUser(ctx context.Context, userID int64, text string) error {
	log.Info().Int64("user_id", userID).Str("text", text).Msg("user notification")
	return nil
}

// NotifyAdmins logs an admin notification.
func (LogNotifier) NotifyAdmins(ctx context.Context, text string) error {
	log.Info().Str("text", text).Msg("admin notification")
	return nil
}

// PublishEvent logs a domain event.
func (LogNotifier) PublishEvent(ctx context.Context, event *Event) error {
	log.Info().Str("event_id", event.ID).Str("type", event.Type).Msg("domain event")
	return nil
}
