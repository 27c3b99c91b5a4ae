package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"reminder-engine/internal/repository"
	"reminder-engine/internal/service"
)

// botAPI is the part of tgbotapi.BotAPI the bot relies on.
type botAPI interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// ChatLinker attaches a Telegram chat to a reminder owner.
type ChatLinker interface {
	LinkChat(ctx context.Context, userID string, chatID int64) error
}

// Bot delivers reminders to Telegram chats and links chats to owners.
type Bot struct {
	api     botAPI
	linker  ChatLinker
	limiter *rate.Limiter
	log     zerolog.Logger
}

// pollTimeout is the getUpdates long-poll window in seconds.
const pollTimeout = 60

// clientTimeout bounds one HTTP call. The client also carries the long
// poll, so it must outlast the poll window.
func clientTimeout(callTimeout time.Duration) time.Duration {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return pollTimeout*time.Second + callTimeout
}

// New authorizes token against the Bot API. ratePerSec caps outgoing
// messages across all chats.
func New(token string, timeout time.Duration, ratePerSec int, linker ChatLinker, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: clientTimeout(timeout)})
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Info().Str("account", api.Self.UserName).Msg("bot authorized")
	return newBot(api, ratePerSec, linker, log), nil
}

func newBot(api botAPI, ratePerSec int, linker ChatLinker, log zerolog.Logger) *Bot {
	if ratePerSec <= 0 {
		ratePerSec = 25
	}
	return &Bot{
		api:     api,
		linker:  linker,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}
}

type requestResult struct {
	resp *tgbotapi.APIResponse
	err  error
}

// SendMessage posts HTML text to chatID. A reply from the API with ok=false
// comes back as a response, not an error. The call gives up when ctx ends;
// the request itself is bounded by the client timeout.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) (service.ChatResponse, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return service.ChatResponse{}, fmt.Errorf("wait for send slot: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	done := make(chan requestResult, 1)
	go func() {
		resp, err := b.api.Request(msg)
		done <- requestResult{resp: resp, err: err}
	}()

	var resp *tgbotapi.APIResponse
	var err error
	select {
	case <-ctx.Done():
		return service.ChatResponse{}, fmt.Errorf("send message: %w", ctx.Err())
	case r := <-done:
		resp, err = r.resp, r.err
	}
	if resp != nil && !resp.Ok {
		return service.ChatResponse{OK: false, Description: resp.Description}, nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return service.ChatResponse{OK: false, Description: apiErr.Message}, nil
	}
	if err != nil {
		return service.ChatResponse{}, fmt.Errorf("send message: %w", err)
	}
	return service.ChatResponse{OK: true}, nil
}

// Start polls updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info().Msg("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		msg := update.Message
		if msg == nil || msg.Chat == nil || !msg.Chat.IsPrivate() || !msg.IsCommand() {
			continue
		}
		if err := b.handleCommand(ctx, msg); err != nil {
			b.log.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("handle command")
		}
	}
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.reply(ctx, msg.Chat.ID, helpText)
	default:
		return b.reply(ctx, msg.Chat.ID, "Unknown command. See /help.")
	}
}

const helpText = "ℹ️ <b>Reminders</b>\n" +
	"• /start &lt;user id&gt; — send reminders for this account to this chat\n" +
	"• /help — this message"

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	userID := strings.TrimSpace(msg.CommandArguments())
	if userID == "" {
		return b.reply(ctx, msg.Chat.ID, "👋 Hi! Open the link from the app, or send /start &lt;user id&gt; to receive reminders here.")
	}

	err := b.linker.LinkChat(ctx, userID, msg.Chat.ID)
	switch {
	case err == nil:
		b.log.Info().Str("owner_id", userID).Int64("chat_id", msg.Chat.ID).Msg("chat linked")
		return b.reply(ctx, msg.Chat.ID, "✅ Reminders will arrive in this chat.")
	case errors.Is(err, repository.ErrOwnerNotFound):
		return b.reply(ctx, msg.Chat.ID, fmt.Sprintf("No account <code>%s</code>. Check the link and try again.", html.EscapeString(userID)))
	default:
		if replyErr := b.reply(ctx, msg.Chat.ID, "Could not link this chat right now. Try again later."); replyErr != nil {
			b.log.Warn().Err(replyErr).Msg("reply after link failure")
		}
		return fmt.Errorf("link chat: %w", err)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	resp, err := b.SendMessage(ctx, chatID, text)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("telegram: %s", resp.Description)
	}
	return nil
}
