package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-engine/internal/repository"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	resp    *tgbotapi.APIResponse
	err     error
	updates chan tgbotapi.Update
	block   chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{resp: &tgbotapi.APIResponse{Ok: true}, updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return f.resp, f.err
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

type fakeLinker struct {
	links map[string]int64
	err   error
}

func (f *fakeLinker) LinkChat(_ context.Context, userID string, chatID int64) error {
	if f.err != nil {
		return f.err
	}
	f.links[userID] = chatID
	return nil
}

func command(chatID int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	for i, r := range text {
		if r == ' ' {
			cmdLen = i
			break
		}
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID, Type: "private"},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func TestSendMessage(t *testing.T) {
	api := newFakeAPI()
	b := newBot(api, 100, &fakeLinker{}, zerolog.Nop())

	resp, err := b.SendMessage(context.Background(), 42, "<b>hi</b>")
	require.NoError(t, err)
	assert.True(t, resp.OK)

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(42), sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, sent[0].ParseMode)
	assert.Equal(t, "<b>hi</b>", sent[0].Text)
}

func TestSendMessageNotOK(t *testing.T) {
	api := newFakeAPI()
	api.resp = &tgbotapi.APIResponse{Ok: false, Description: "Forbidden: bot was blocked by the user"}
	api.err = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	b := newBot(api, 100, &fakeLinker{}, zerolog.Nop())

	resp, err := b.SendMessage(context.Background(), 42, "hi")
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Description, "blocked")
}

func TestSendMessageTransportError(t *testing.T) {
	api := newFakeAPI()
	api.resp = nil
	api.err = errors.New("connection reset")
	b := newBot(api, 100, &fakeLinker{}, zerolog.Nop())

	_, err := b.SendMessage(context.Background(), 42, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSendMessageCancelled(t *testing.T) {
	api := newFakeAPI()
	b := newBot(api, 1, &fakeLinker{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.SendMessage(ctx, 42, "hi")
	require.Error(t, err)
	assert.Empty(t, api.messages())
}

func TestSendMessageStopsWaitingWhenContextEnds(t *testing.T) {
	api := newFakeAPI()
	api.block = make(chan struct{})
	defer close(api.block)
	b := newBot(api, 100, &fakeLinker{}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := b.SendMessage(ctx, 42, "hi")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), time.Second)
}

func TestClientTimeoutOutlastsLongPoll(t *testing.T) {
	for _, call := range []time.Duration{0, time.Second, 10 * time.Second} {
		assert.Greater(t, clientTimeout(call), time.Duration(pollTimeout)*time.Second)
	}
	assert.Equal(t, 70*time.Second, clientTimeout(10*time.Second))
}

func TestStartLinksChat(t *testing.T) {
	api := newFakeAPI()
	linker := &fakeLinker{links: map[string]int64{}}
	b := newBot(api, 100, linker, zerolog.Nop())

	api.updates <- command(7, "/start user-1")
	api.updates <- command(8, "/start")
	api.updates <- command(9, "/weather")
	close(api.updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))

	assert.Equal(t, map[string]int64{"user-1": 7}, linker.links)
	sent := api.messages()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[0].Text, "this chat")
	assert.Contains(t, sent[1].Text, "/start &lt;user id&gt;")
	assert.Contains(t, sent[2].Text, "/help")
}

func TestStartUnknownOwner(t *testing.T) {
	api := newFakeAPI()
	linker := &fakeLinker{err: fmt.Errorf("link: %w", repository.ErrOwnerNotFound)}
	b := newBot(api, 100, linker, zerolog.Nop())

	require.NoError(t, b.handleCommand(context.Background(), command(7, "/start <bad>").Message))
	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "&lt;bad&gt;")
}

func TestStartLinkFailure(t *testing.T) {
	api := newFakeAPI()
	b := newBot(api, 100, &fakeLinker{err: errors.New("db locked")}, zerolog.Nop())

	err := b.handleCommand(context.Background(), command(7, "/start u1").Message)
	require.Error(t, err)
	assert.Len(t, api.messages(), 1)
}
