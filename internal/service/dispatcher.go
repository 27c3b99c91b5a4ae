package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reminder-engine/internal/metrics"
	"reminder-engine/internal/model"
	"reminder-engine/internal/push"
)

// ErrNoChannel is reported when an owner has no usable delivery endpoint.
var ErrNoChannel = errors.New("no delivery channel for owner")

// TargetStore resolves owners to endpoints and forgets dead push tokens.
type TargetStore interface {
	ResolveOwnerChannels(ctx context.Context, ownerID string) (model.DeliveryTarget, error)
	DeleteDeviceTokens(ctx context.Context, tokens []string) error
}

// ChatResponse mirrors the chat API's reply envelope.
type ChatResponse struct {
	OK          bool
	Description string
}

// ChatSender delivers HTML formatted text to a chat.
type ChatSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) (ChatResponse, error)
}

// PushSender delivers one push notification to one device token.
type PushSender interface {
	Platform() string
	Send(ctx context.Context, msg push.Message) error
}

// ChannelOutcome counts what happened on one channel.
type ChannelOutcome struct {
	Attempted int
	Sent      int
	Failed    int
	Errors    []string
}

func (o *ChannelOutcome) fail(err error) {
	o.Failed++
	o.Errors = append(o.Errors, err.Error())
}

// PushOutcome adds the tokens found invalid during the send.
type PushOutcome struct {
	ChannelOutcome
	InvalidTokens []string
	PruneError    string
}

// DeliveryResult aggregates both channels. Success is true when at least
// one channel delivered at least once.
type DeliveryResult struct {
	Success bool
	Chat    ChannelOutcome
	Push    PushOutcome
	Err     error
}

// Dispatcher fans a notification out to the chat and push channels.
// A failure on one channel or token never prevents the others.
type Dispatcher struct {
	store   TargetStore
	chat    ChatSender
	push    PushSender
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher wires the channels. chat and push may be nil when the
// channel is not configured; deliveries then skip it.
func NewDispatcher(store TargetStore, chat ChatSender, pusher PushSender, timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{store: store, chat: chat, push: pusher, timeout: timeout, log: log, metrics: m}
}

// PushAvailable reports whether push credentials were configured.
func (d *Dispatcher) PushAvailable() bool { return d.push != nil }

// ChatAvailable reports whether the chat channel is configured.
func (d *Dispatcher) ChatAvailable() bool { return d.chat != nil }

// Send resolves ownerID and delivers title/message on every channel.
func (d *Dispatcher) Send(ctx context.Context, ownerID, title, message string) DeliveryResult {
	return d.sendVia(ctx, d.store, ownerID, title, message, nil)
}

func (d *Dispatcher) sendVia(ctx context.Context, store TargetStore, ownerID, title, message string, data map[string]string) DeliveryResult {
	log := d.log.With().Str("owner_id", ownerID).Logger()

	resolveCtx, cancel := context.WithTimeout(ctx, d.timeout)
	target, err := store.ResolveOwnerChannels(resolveCtx, ownerID)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("resolve delivery target")
		return DeliveryResult{Err: fmt.Errorf("resolve owner %s: %w", ownerID, err)}
	}

	var tokens []string
	if d.push != nil {
		tokens = target.TokensFor(d.push.Platform())
	}
	chatUsable := target.ChatID != nil && d.chat != nil
	if !chatUsable && len(tokens) == 0 {
		log.Debug().Msg("owner has no usable channel")
		return DeliveryResult{Err: ErrNoChannel}
	}

	var res DeliveryResult
	if chatUsable {
		res.Chat = d.sendChat(ctx, *target.ChatID, title, message)
	}
	if len(tokens) > 0 {
		res.Push = d.sendPush(ctx, store, tokens, title, message, data)
	}

	res.Success = res.Chat.Sent > 0 || res.Push.Sent > 0
	if !res.Success {
		res.Err = errors.New("no channel delivered")
	}
	log.Debug().
		Bool("success", res.Success).
		Int("chat_sent", res.Chat.Sent).
		Int("push_sent", res.Push.Sent).
		Int("push_failed", res.Push.Failed).
		Msg("delivery finished")
	return res
}

func (d *Dispatcher) sendChat(ctx context.Context, chatID int64, title, message string) ChannelOutcome {
	var out ChannelOutcome
	out.Attempted = 1

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	resp, err := d.chat.SendMessage(sendCtx, chatID, FormatChatMessage(title, message))
	switch {
	case err != nil:
		out.fail(err)
	case !resp.OK:
		out.fail(fmt.Errorf("chat api: %s", resp.Description))
	default:
		out.Sent = 1
	}

	if out.Sent == 0 {
		d.log.Warn().Int64("chat_id", chatID).Strs("errors", out.Errors).Msg("chat delivery failed")
		d.metrics.ChannelSend("chat", "failed")
	} else {
		d.metrics.ChannelSend("chat", "sent")
	}
	return out
}

func (d *Dispatcher) sendPush(ctx context.Context, store TargetStore, tokens []string, title, message string, data map[string]string) PushOutcome {
	var out PushOutcome
	for _, token := range tokens {
		out.Attempted++

		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.push.Send(sendCtx, push.Message{Token: token, Title: title, Body: message, Data: data})
		cancel()

		switch {
		case err == nil:
			out.Sent++
			d.metrics.ChannelSend("push", "sent")
		case errors.Is(err, push.ErrInvalidToken):
			out.fail(err)
			out.InvalidTokens = append(out.InvalidTokens, token)
			d.metrics.ChannelSend("push", "invalid_token")
		default:
			out.fail(err)
			d.log.Warn().Err(err).Msg("push delivery failed")
			d.metrics.ChannelSend("push", "failed")
		}
	}

	if len(out.InvalidTokens) > 0 {
		pruneCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := store.DeleteDeviceTokens(pruneCtx, out.InvalidTokens)
		cancel()
		if err != nil {
			out.PruneError = err.Error()
			d.log.Error().Err(err).Int("tokens", len(out.InvalidTokens)).Msg("delete invalid push tokens")
		} else {
			d.log.Info().Int("tokens", len(out.InvalidTokens)).Msg("pruned invalid push tokens")
			d.metrics.Pruned(len(out.InvalidTokens))
		}
	}
	return out
}
