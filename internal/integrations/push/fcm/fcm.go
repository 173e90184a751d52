package fcm

import (
	"context"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/integrations/push"
	"github.com/pkg/errors"
)

type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Notifier sends high-priority notifications through Firebase Cloud Messaging.
type Notifier struct {
	s sender
}

func New(ctx context.Context, app *firebase.App) (*Notifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firebase messaging client")
	}
	return &Notifier{s: client}, nil
}

func newWithSender(s sender) *Notifier {
	return &Notifier{s: s}
}

func (n *Notifier) Notify(ctx context.Context, token string, note push.Notification) error {
	if token == "" {
		return apperr.Validation("push token is empty")
	}
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: note.Title,
			Body:  note.Body,
		},
		Data: note.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}

	id, err := n.s.Send(ctx, msg)
	if err != nil {
		return apperr.TransientIO(err, "fcm send")
	}
	slog.Debug("fcm notification sent", "message_id", id, "type", note.Data["type"])
	return nil
}
