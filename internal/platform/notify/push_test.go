package notify

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
)

type stubSender struct {
	messages []*messaging.Message
	err      error
}

func (s *stubSender) Send(_ context.Context, message *messaging.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.messages = append(s.messages, message)
	return "projects/test/messages/1", nil
}

func TestFCMPusherSend(t *testing.T) {
	sender := &stubSender{}
	pusher := &FCMPusher{client: sender}

	if err := pusher.Send(context.Background(), " device-1 ", "Order placed", "Your order LL-2025-000001 was placed."); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.messages))
	}
	msg := sender.messages[0]
	if msg.Token != "device-1" || msg.Notification == nil || msg.Notification.Title != "Order placed" {
		t.Fatalf("unexpected message %+v", msg)
	}

	if err := pusher.Send(context.Background(), "", "t", "b"); err == nil {
		t.Fatal("expected missing token to fail")
	}

	sender.err = errors.New("unavailable")
	if err := pusher.Send(context.Background(), "device-1", "t", "b"); err == nil {
		t.Fatal("expected send error")
	}
}

func TestNewFCMPusherRequiresClient(t *testing.T) {
	if _, err := NewFCMPusher(nil); err == nil {
		t.Fatal("expected error")
	}
}
