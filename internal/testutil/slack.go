package testutil

import (
	"context"
	"strconv"
	"sync"

	"emojipapertrail/relay/internal/model"
	"emojipapertrail/relay/internal/slack"
)

// FakeSlack records calls and serves a fixed emoji directory.
type FakeSlack struct {
	mu sync.Mutex

	Emoji      map[string]model.EmojiListEntry
	AdminEmoji map[string]model.EmojiListEntry
	ListErr    error
	PostErr    error
	BotID      string

	Posted     []slack.Message
	Tokens     []string
	AdminCalls int
}

func (f *FakeSlack) ListEmoji(_ context.Context, token string) (map[string]model.EmojiListEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tokens = append(f.Tokens, token)
	return f.Emoji, f.ListErr
}

func (f *FakeSlack) ListAdminEmoji(_ context.Context, token string) (map[string]model.EmojiListEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tokens = append(f.Tokens, token)
	f.AdminCalls++
	return f.AdminEmoji, f.ListErr
}

func (f *FakeSlack) PostMessage(_ context.Context, token string, msg slack.Message) (*slack.PostMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PostErr != nil {
		return nil, f.PostErr
	}
	f.Tokens = append(f.Tokens, token)
	f.Posted = append(f.Posted, msg)
	return &slack.PostMessageResponse{Channel: msg.Channel, TS: strconv.Itoa(len(f.Posted)) + ".000"}, nil
}

func (f *FakeSlack) AuthTest(_ context.Context, token string) (*slack.AuthTestResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tokens = append(f.Tokens, token)
	return &slack.AuthTestResponse{BotID: f.BotID}, nil
}

func (f *FakeSlack) PostedMessages() []slack.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]slack.Message(nil), f.Posted...)
}
