package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/loomline/api/internal/services"
)

// PubSubOrderPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderPublisher)(nil)

// NewPubSubOrderPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent publishes event ordered by order id so consumers see transitions in sequence.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.Status))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: strings.TrimSpace(event.OrderID),
	})
	if _, err := result.Get(ctx); err != nil {
		p.topic.ResumePublish(strings.TrimSpace(event.OrderID))
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// MailMessage is the outbox payload consumed by the mail delivery worker.
type MailMessage struct {
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	HTML     string    `json:"html"`
	QueuedAt time.Time `json:"queuedAt"`
}

// PubSubMailer hands rendered emails to the mail outbox topic.
type PubSubMailer struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	now     func() time.Time
}

var _ services.Mailer = (*PubSubMailer)(nil)

// NewPubSubMailer constructs a mailer that enqueues messages on topic.
func NewPubSubMailer(topic *pubsub.Topic, clock func() time.Time) (*PubSubMailer, error) {
	if topic == nil {
		return nil, errors.New("pubsub mailer: topic is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &PubSubMailer{
		topic:   topic,
		marshal: json.Marshal,
		now:     func() time.Time { return clock().UTC() },
	}, nil
}

func (m *PubSubMailer) Send(ctx context.Context, email services.Email) error {
	if m == nil || m.topic == nil {
		return errors.New("pubsub mailer: not initialised")
	}
	to := strings.TrimSpace(email.To)
	if to == "" {
		return errors.New("pubsub mailer: recipient is required")
	}

	data, err := m.marshal(MailMessage{
		To:       to,
		Subject:  email.Subject,
		HTML:     email.HTML,
		QueuedAt: m.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal mail message: %w", err)
	}

	result := m.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": "email"},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish mail message: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
