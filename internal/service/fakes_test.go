package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"reminder-engine/internal/model"
	"reminder-engine/internal/push"
)

type fakeStore struct {
	mu           sync.Mutex
	rules        []model.Rule
	listErr      error
	activities   map[string]*model.ActivityRecord
	activityErr  map[string]error
	targets      map[string]model.DeliveryTarget
	resolveCalls int
	deleted      []string
	deleteErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		activities:  map[string]*model.ActivityRecord{},
		activityErr: map[string]error{},
		targets:     map[string]model.DeliveryTarget{},
	}
}

func activityKey(subject string, kind model.ActivityKind) string {
	return subject + "|" + string(kind)
}

func (f *fakeStore) ListEnabledRules(context.Context) ([]model.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Rule(nil), f.rules...), nil
}

func (f *fakeStore) GetLatestActivity(_ context.Context, subjectID string, kind model.ActivityKind) (*model.ActivityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := activityKey(subjectID, kind)
	if err := f.activityErr[key]; err != nil {
		return nil, err
	}
	return f.activities[key], nil
}

func (f *fakeStore) ResolveOwnerChannels(_ context.Context, ownerID string) (model.DeliveryTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	t, ok := f.targets[ownerID]
	if !ok {
		return model.DeliveryTarget{}, fmt.Errorf("owner %s: %w", ownerID, errOwnerMissing)
	}
	return model.DeliveryTarget{ChatID: t.ChatID, Tokens: append([]model.DeviceToken(nil), t.Tokens...)}, nil
}

func (f *fakeStore) DeleteDeviceTokens(_ context.Context, tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, tokens...)
	gone := map[string]bool{}
	for _, t := range tokens {
		gone[t] = true
	}
	for owner, target := range f.targets {
		var kept []model.DeviceToken
		for _, tok := range target.Tokens {
			if !gone[tok.Token] {
				kept = append(kept, tok)
			}
		}
		target.Tokens = kept
		f.targets[owner] = target
	}
	return nil
}

var errOwnerMissing = errors.New("owner missing")

type chatCall struct {
	ChatID int64
	Text   string
}

type fakeChat struct {
	mu    sync.Mutex
	calls []chatCall
	resp  ChatResponse
	err   error
}

func newFakeChat() *fakeChat { return &fakeChat{resp: ChatResponse{OK: true}} }

func (f *fakeChat) SendMessage(_ context.Context, chatID int64, text string) (ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatCall{ChatID: chatID, Text: text})
	return f.resp, f.err
}

func (f *fakeChat) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePush struct {
	mu     sync.Mutex
	calls  []push.Message
	errors map[string]error
}

func newFakePush() *fakePush { return &fakePush{errors: map[string]error{}} }

func (f *fakePush) Platform() string { return model.PlatformFCM }

func (f *fakePush) Send(_ context.Context, msg push.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	return f.errors[msg.Token]
}

func (f *fakePush) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Token)
	}
	return out
}

func chatID(v int64) *int64 { return &v }

func fcmTokens(tokens ...string) []model.DeviceToken {
	out := make([]model.DeviceToken, len(tokens))
	for i, t := range tokens {
		out[i] = model.DeviceToken{Token: t, Platform: model.PlatformFCM}
	}
	return out
}

var errInvalid = fmt.Errorf("%w: unregistered", push.ErrInvalidToken)
