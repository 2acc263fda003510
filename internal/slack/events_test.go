package slack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emojipapertrail/relay/internal/model"
)

func TestParseEnvelope(t *testing.T) {
	t.Run("url verification", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"url_verification","challenge":"abc","token":"x"}`))
		require.NoError(t, err)
		assert.Equal(t, EnvelopeURLVerification, env.Type)
		assert.Equal(t, "abc", env.Challenge)
		assert.Empty(t, env.EventType)
		assert.Nil(t, env.Inner)
	})

	t.Run("emoji changed", func(t *testing.T) {
		body := `{
			"type": "event_callback",
			"team_id": "T1",
			"enterprise_id": null,
			"event_id": "Ev1",
			"event": {
				"type": "emoji_changed",
				"subtype": "add",
				"name": "test-emoji-pls-ignore-1",
				"value": "https://emoji.slack-edge.com/EXAMPLE/test-emoji-pls-ignore-1/0da8457a872dfe8a.png",
				"event_ts": "1671070007.348400"
			},
			"authorizations": [{"enterprise_id": "E1", "team_id": "T1", "is_enterprise_install": false}]
		}`
		env, err := ParseEnvelope([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, EventEmojiChanged, env.EventType)
		assert.Equal(t, "Ev1", env.EventID)

		ev, ok := env.Inner.(*EmojiChangedEvent)
		require.True(t, ok, "inner event is %T", env.Inner)
		assert.Equal(t, EmojiSubtypeAdd, ev.Subtype)
		assert.Equal(t, "test-emoji-pls-ignore-1", ev.Name)
		assert.Equal(t, "1671070007.348400", ev.EventTimeStamp)

		assert.Equal(t, model.Tenant{EnterpriseID: "E1", TeamID: "T1"}, env.Tenant())
	})

	t.Run("tenant without authorizations", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"event_callback","team_id":"T9","enterprise_id":"E9","event":{"type":"app_uninstalled"}}`))
		require.NoError(t, err)
		assert.IsType(t, &AppUninstalledEvent{}, env.Inner)
		assert.Equal(t, model.Tenant{EnterpriseID: "E9", TeamID: "T9"}, env.Tenant())
	})

	t.Run("enterprise install authorization", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"event_callback","team_id":"T1","event":{"type":"app_uninstalled"},"authorizations":[{"enterprise_id":"E1","team_id":null,"is_enterprise_install":true}]}`))
		require.NoError(t, err)
		assert.Equal(t, model.Tenant{EnterpriseID: "E1", IsEnterpriseInstall: true}, env.Tenant())
	})

	t.Run("tokens revoked", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"event_callback","team_id":"T1","event":{"type":"tokens_revoked","tokens":{"oauth":["U1"],"bot":["B1"]}}}`))
		require.NoError(t, err)

		ev, ok := env.Inner.(*TokensRevokedEvent)
		require.True(t, ok, "inner event is %T", env.Inner)
		assert.Equal(t, []string{"U1"}, ev.Tokens.Oauth)
		assert.Equal(t, []string{"B1"}, ev.Tokens.Bot)
	})

	t.Run("unhandled inner type", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"event_callback","team_id":"T1","event":{"type":"reaction_added","reaction":"tada"}}`))
		require.NoError(t, err)
		assert.Equal(t, "reaction_added", env.EventType)
		assert.Nil(t, env.Inner)
	})

	t.Run("other envelope types pass through", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"app_rate_limited","team_id":"T1","minute_rate_limited":1518467820}`))
		require.NoError(t, err)
		assert.Equal(t, "app_rate_limited", env.Type)
		assert.Nil(t, env.Inner)
	})

	t.Run("malformed", func(t *testing.T) {
		for name, body := range map[string]string{
			"truncated":         `{`,
			"no type":           `{}`,
			"callback no event": `{"type":"event_callback","team_id":"T1"}`,
			"bad inner field":   `{"type":"event_callback","event":{"type":"emoji_changed","name":42}}`,
		} {
			_, err := ParseEnvelope([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedEnvelope, name)
		}
	})
}
