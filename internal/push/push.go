// Package push delivers reminders to mobile devices through Firebase Cloud
// Messaging.
package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"reminder-engine/internal/model"
)

var (
	// ErrInvalidToken means the registration is gone and will never succeed.
	ErrInvalidToken = errors.New("invalid push token")
	// ErrUnavailable is returned when no push credentials are configured.
	ErrUnavailable = errors.New("push channel unavailable")
)

// Message is one notification addressed to a single device token.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

type sendFunc func(ctx context.Context, msg *messaging.Message) (string, error)

// FCMSender sends one message per call so a bad token only fails itself.
type FCMSender struct {
	send      sendFunc
	isInvalid func(error) bool
}

// NewFCMSender initialises a Firebase app from a service account file.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	if credentialsFile == "" {
		return nil, ErrUnavailable
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCMSender{send: client.Send, isInvalid: isInvalidTokenError}, nil
}

// Platform is the device token tag this sender serves.
func (s *FCMSender) Platform() string { return model.PlatformFCM }

func (s *FCMSender) Send(ctx context.Context, msg Message) error {
	if s == nil || s.send == nil {
		return ErrUnavailable
	}
	_, err := s.send(ctx, &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
		},
	})
	if err == nil {
		return nil
	}
	if s.isInvalid != nil && s.isInvalid(err) {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return fmt.Errorf("fcm send: %w", err)
}

// isInvalidTokenError matches FCM errors that mean the token is dead:
// unregistered, malformed, or issued for another sender.
func isInvalidTokenError(err error) bool {
	return messaging.IsUnregistered(err) ||
		messaging.IsInvalidArgument(err) ||
		messaging.IsSenderIDMismatch(err)
}
