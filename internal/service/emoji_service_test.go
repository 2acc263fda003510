package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	slackgo "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emojipapertrail/relay/internal/model"
	"emojipapertrail/relay/internal/repository"
	"emojipapertrail/relay/internal/slack"
	"emojipapertrail/relay/internal/testutil"
)

type emojiHarness struct {
	svc           *EmojiService
	api           *testutil.FakeSlack
	clock         *testutil.Clock
	installations *repository.InstallationStore
}

func newEmojiHarness(t *testing.T, cfg EmojiServiceConfig, tokens TokenResolver) emojiHarness {
	t.Helper()
	clock := testutil.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	kv := repository.NewMemoryKVStore(repository.WithClock(clock.Now))
	installations := repository.NewInstallationStore(kv, "client-id")

	api := &testutil.FakeSlack{
		Emoji: map[string]model.EmojiListEntry{
			"party":  {Name: "party", URL: "https://emoji.example/party.png"},
			"fiesta": {Name: "fiesta", URL: "alias:party"},
		},
		AdminEmoji: map[string]model.EmojiListEntry{
			"party": {Name: "party", URL: "https://emoji.example/party.png", UploadedBy: "U123"},
		},
	}
	if tokens == nil {
		tokens = StaticTokenResolver("xoxb-static")
	}
	if cfg.Channel == "" {
		cfg.Channel = "#emoji-papertrail"
	}

	svc := NewEmojiService(
		cfg,
		api,
		tokens,
		installations,
		NewIdempotencyGuard(kv, DefaultIdempotencyRetention),
		NewDebounceGuard[model.EmojiKey](clock.Now),
		nil,
	)
	return emojiHarness{svc: svc, api: api, clock: clock, installations: installations}
}

func addEvent(name, value, ts string) *slack.EmojiChangedEvent {
	return &slack.EmojiChangedEvent{
		Type:           slack.EventEmojiChanged,
		Subtype:        slack.EmojiSubtypeAdd,
		Name:           name,
		Value:          value,
		EventTimeStamp: ts,
	}
}

// flakyKV fails the next n idempotency writes.
type flakyKV struct {
	repository.KVStore
	failures atomic.Int32
}

func (f *flakyKV) SetAndGetPrevious(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	if f.failures.Add(-1) >= 0 {
		return "", false, repository.ErrBackendUnavailable
	}
	return f.KVStore.SetAndGetPrevious(ctx, key, value, ttl)
}

var testTenant = model.Tenant{TeamID: "T1"}

func TestEmojiService_PostsNewEmoji(t *testing.T) {
	h := newEmojiHarness(t, EmojiServiceConfig{ReportAliasChanges: true, DebounceInterval: 5 * time.Second}, nil)

	outcome, err := h.svc.HandleEmojiChanged(context.Background(), testTenant, addEvent("party", "https://emoji.example/party.png", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)

	posted := h.api.PostedMessages()
	require.Len(t, posted, 1)
	assert.Equal(t, "#emoji-papertrail", posted[0].Channel)
	assert.Equal(t, "New emoji added!", posted[0].Text)
	assert.Equal(t, []string{"xoxb-static", "xoxb-static"}, h.api.Tokens)
}

func TestEmojiService_IgnoresNonAdd(t *testing.T) {
	h := newEmojiHarness(t, EmojiServiceConfig{}, nil)

	ev := addEvent("party", "", "1.0")
	ev.Subtype = "remove"
	outcome, err := h.svc.HandleEmojiChanged(context.Background(), testTenant, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, h.api.Tokens, "no API calls for ignored events")
}

func TestEmojiService_Alias(t *testing.T) {
	t.Run("reported with target image", func(t *testing.T) {
		h := newEmojiHarness(t, EmojiServiceConfig{ReportAliasChanges: true}, nil)

		outcome, err := h.svc.HandleEmojiChanged(context.Background(), testTenant, addEvent("fiesta", "alias:party", "1.0"))
		require.NoError(t, err)
		assert.Equal(t, OutcomePosted, outcome)

		posted := h.api.PostedMessages()
		require.Len(t, posted, 1)
		assert.Equal(t, "New alias of `:party:` added!", posted[0].Text)
		sections := posted[0].SectionBlocks()
		require.Len(t, sections, 1)
		assert.Equal(t, "https://emoji.example/party.png", sections[0].Accessory.ImageElement.ImageURL)
	})

	t.Run("skipped when disabled", func(t *testing.T) {
		h := newEmojiHarness(t, EmojiServiceConfig{ReportAliasChanges: false}, nil)

		outcome, err := h.svc.HandleEmojiChanged(context.Background(), testTenant, addEvent("fiesta", "alias:party", "1.0"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAliasSkipped, outcome)
		assert.Empty(t, h.api.PostedMessages())
	})

	t.Run("unknown target fails", func(t *testing.T) {
		h := newEmojiHarness(t, EmojiServiceConfig{ReportAliasChanges: true}, nil)

		_, err := h.svc.HandleEmojiChanged(context.Background(), testTenant, addEvent("ghost", "alias:nope", "1.0"))
		assert.ErrorIs(t, err, model.ErrUnknownEmoji)
		assert.Empty(t, h.api.PostedMessages())
	})
}

func TestEmojiService_Debounce(t *testing.T) {
	h := newEmojiHarness(t, EmojiServiceConfig{DebounceInterval: 5 * time.Second}, nil)
	ctx := context.Background()

	outcome, err := h.svc.HandleEmojiChanged(ctx, testTenant, addEvent("party", "https://emoji.example/party.png", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)

	// A different event token for the same emoji within the window.
	outcome, err = h.svc.HandleEmojiChanged(ctx, testTenant, addEvent("party", "https://emoji.example/party.png", "2.0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDebounced, outcome)

	h.clock.Advance(10 * time.Second)
	outcome, err = h.svc.HandleEmojiChanged(ctx, testTenant, addEvent("party", "https://emoji.example/party.png", "3.0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)

	assert.Len(t, h.api.PostedMessages(), 2)
}

func TestEmojiService_DuplicateDeliveryPostsOnce(t *testing.T) {
	h := newEmojiHarness(t, EmojiServiceConfig{DebounceInterval: 5 * time.Second}, nil)
	ctx := context.Background()
	ev := addEvent("party", "https://emoji.example/party.png", "1671070007.348400")

	outcome, err := h.svc.HandleEmojiChanged(ctx, testTenant, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)

	h.clock.Advance(time.Second)
	outcome, err = h.svc.HandleEmojiChanged(ctx, testTenant, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	// Redelivered after the debounce window: the idempotency guard catches it.
	h.clock.Advance(time.Minute)
	outcome, err = h.svc.HandleEmojiChanged(ctx, testTenant, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Len(t, h.api.PostedMessages(), 1)
}

func TestEmojiService_BackendFailureThenRedelivery(t *testing.T) {
	h := newEmojiHarness(t, EmojiServiceConfig{DebounceInterval: 5 * time.Second}, nil)
	ctx := context.Background()

	kv := &flakyKV{KVStore: repository.NewMemoryKVStore(repository.WithClock(h.clock.Now))}
	kv.failures.Store(1)
	h.svc.idempotency = NewIdempotencyGuard(kv, DefaultIdempotencyRetention)

	ev := addEvent("party", "https://emoji.example/party.png", "1671070007.348400")
	_, err := h.svc.HandleEmojiChanged(ctx, testTenant, ev)
	assert.ErrorIs(t, err, repository.ErrBackendUnavailable)
	assert.Empty(t, h.api.PostedMessages())

	// Slack redelivers well inside the debounce window.
	h.clock.Advance(time.Second)
	outcome, err := h.svc.HandleEmojiChanged(ctx, testTenant, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)
	assert.Len(t, h.api.PostedMessages(), 1)
}

func TestEmojiService_EnterpriseListing(t *testing.T) {
	h := newEmojiHarness(t, EmojiServiceConfig{EnterpriseTenant: true}, nil)

	outcome, err := h.svc.HandleEmojiChanged(context.Background(), testTenant, addEvent("party", "https://emoji.example/party.png", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)
	assert.Equal(t, 1, h.api.AdminCalls)

	posted := h.api.PostedMessages()
	require.Len(t, posted, 1)
	assert.Equal(t, "New emoji added by @U123!", posted[0].Text)
}

func TestEmojiService_Failures(t *testing.T) {
	t.Run("listing error", func(t *testing.T) {
		h := newEmojiHarness(t, EmojiServiceConfig{}, nil)
		h.api.ListErr = slackgo.SlackErrorResponse{Err: "invalid_auth"}

		_, err := h.svc.HandleEmojiChanged(context.Background(), testTenant, addEvent("party", "", "1.0"))
		var apiErr slackgo.SlackErrorResponse
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "invalid_auth", apiErr.Err)
	})

	t.Run("post error", func(t *testing.T) {
		h := newEmojiHarness(t, EmojiServiceConfig{}, nil)
		boom := errors.New("boom")
		h.api.PostErr = boom

		_, err := h.svc.HandleEmojiChanged(context.Background(), testTenant, addEvent("party", "", "1.0"))
		assert.ErrorIs(t, err, boom)
	})
}

func TestEmojiService_InstallationTokens(t *testing.T) {
	h := newEmojiHarness(t, EmojiServiceConfig{}, nil)
	ctx := context.Background()
	h.svc.tokens = NewInstallationTokenResolver(h.installations)

	_, err := h.svc.HandleEmojiChanged(ctx, testTenant, addEvent("party", "", "1.0"))
	assert.ErrorIs(t, err, ErrNotInstalled)

	require.NoError(t, h.installations.Save(ctx, &model.Installation{
		TeamID:      "T1",
		BotToken:    "xoxb-installed",
		BotID:       "B1",
		UserID:      "U1",
		InstalledAt: h.clock.Now(),
	}))

	outcome, err := h.svc.HandleEmojiChanged(ctx, testTenant, addEvent("party", "", "2.0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)
	assert.Contains(t, h.api.Tokens, "xoxb-installed")
}

func TestEmojiService_Uninstall(t *testing.T) {
	h := newEmojiHarness(t, EmojiServiceConfig{}, nil)
	ctx := context.Background()

	installedAt := h.clock.Now()
	require.NoError(t, h.installations.Save(ctx, &model.Installation{
		TeamID: "T1", BotToken: "xoxb-1", UserID: "U1", InstalledAt: installedAt,
	}))

	require.NoError(t, h.svc.HandleUninstall(ctx, testTenant))

	inst, err := h.installations.FindInstallation(ctx, "", "T1", false)
	require.NoError(t, err)
	assert.Nil(t, inst)
	bot, err := h.installations.FindBot(ctx, "", "T1", false)
	require.NoError(t, err)
	assert.Nil(t, bot)

	old, err := h.installations.FindInstallationAt(ctx, "", "T1", false, installedAt)
	require.NoError(t, err)
	require.NotNil(t, old, "history survives uninstall")
	assert.Equal(t, "xoxb-1", old.BotToken)
}

func TestEmojiService_TokensRevoked(t *testing.T) {
	h := newEmojiHarness(t, EmojiServiceConfig{}, nil)
	ctx := context.Background()

	require.NoError(t, h.installations.Save(ctx, &model.Installation{
		TeamID: "T1", BotToken: "xoxb-1", UserID: "U1", InstalledAt: h.clock.Now(),
	}))

	ev := &slack.TokensRevokedEvent{Type: slack.EventTokensRevoked}
	ev.Tokens.Bot = []string{"B1"}
	require.NoError(t, h.svc.HandleTokensRevoked(ctx, testTenant, ev))

	bot, err := h.installations.FindBot(ctx, "", "T1", false)
	require.NoError(t, err)
	assert.Nil(t, bot)

	inst, err := h.installations.FindInstallation(ctx, "", "T1", false)
	require.NoError(t, err)
	assert.NotNil(t, inst, "user tokens were not revoked")
}

func TestEmojiService_EnterpriseInstallLifecycle(t *testing.T) {
	h := newEmojiHarness(t, EmojiServiceConfig{}, nil)
	ctx := context.Background()
	org := model.Tenant{EnterpriseID: "E1", TeamID: "T5", IsEnterpriseInstall: true}

	save := func() {
		require.NoError(t, h.installations.Save(ctx, &model.Installation{
			EnterpriseID: "E1", TeamID: "T1", IsEnterpriseInstall: true,
			BotToken: "xoxb-org", UserToken: "xoxp-org", UserID: "U1", InstalledAt: h.clock.Now(),
		}))
	}

	save()
	ev := &slack.TokensRevokedEvent{Type: slack.EventTokensRevoked}
	ev.Tokens.Oauth = []string{"U1"}
	ev.Tokens.Bot = []string{"B1"}
	require.NoError(t, h.svc.HandleTokensRevoked(ctx, org, ev))

	inst, err := h.installations.FindInstallation(ctx, "E1", "", true)
	require.NoError(t, err)
	assert.Nil(t, inst)
	bot, err := h.installations.FindBot(ctx, "E1", "", true)
	require.NoError(t, err)
	assert.Nil(t, bot)

	save()
	require.NoError(t, h.svc.HandleUninstall(ctx, org))
	inst, err = h.installations.FindInstallation(ctx, "E1", "", true)
	require.NoError(t, err)
	assert.Nil(t, inst)
}
