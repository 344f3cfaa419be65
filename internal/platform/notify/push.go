package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/messaging"

	"github.com/loomline/api/internal/services"
)

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMPusher delivers push notifications through Firebase Cloud Messaging.
type FCMPusher struct {
	client messageSender
}

var _ services.Pusher = (*FCMPusher)(nil)

// NewFCMPusher wraps a messaging client.
func NewFCMPusher(client *messaging.Client) (*FCMPusher, error) {
	if client == nil {
		return nil, errors.New("fcm pusher: messaging client is required")
	}
	return &FCMPusher{client: client}, nil
}

func (p *FCMPusher) Send(ctx context.Context, token, title, body string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("fcm pusher: device token is required")
	}
	_, err := p.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	})
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("fcm pusher: token no longer registered: %w", err)
		}
		return fmt.Errorf("fcm pusher: send: %w", err)
	}
	return nil
}
