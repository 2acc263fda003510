package slack

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/slack-go/slack/slackevents"

	"emojipapertrail/relay/internal/model"
)

const (
	EnvelopeURLVerification = slackevents.URLVerification
	EnvelopeEventCallback   = slackevents.CallbackEvent

	EventEmojiChanged   = string(slackevents.EmojiChanged)
	EventAppUninstalled = string(slackevents.AppUninstalled)
	EventTokensRevoked  = string(slackevents.TokensRevoked)

	EmojiSubtypeAdd = "add"
)

var ErrMalformedEnvelope = errors.New("malformed slack event envelope")

type (
	// EmojiChangedEvent is the inner event for emoji additions, removals and
	// renames.
	EmojiChangedEvent = slackevents.EmojiChangedEvent
	// TokensRevokedEvent lists the user (OAuth) and bot tokens that were
	// revoked.
	TokensRevokedEvent  = slackevents.TokensRevokedEvent
	AppUninstalledEvent = slackevents.AppUninstalledEvent
)

// Envelope is a parsed Events API request. Inner holds the decoded inner
// event for the types the relay acts on and is nil otherwise.
type Envelope struct {
	Type           string
	Challenge      string
	EventID        string
	TeamID         string
	EnterpriseID   string
	EventType      string
	Inner          any
	Authorizations []Authorization
}

type Authorization struct {
	EnterpriseID        string `json:"enterprise_id"`
	TeamID              string `json:"team_id"`
	UserID              string `json:"user_id"`
	IsBot               bool   `json:"is_bot"`
	IsEnterpriseInstall bool   `json:"is_enterprise_install"`
}

// envelopeHead carries what slackevents leaves out: authorizations, and the
// inner type ahead of decoding.
type envelopeHead struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	TeamID       string `json:"team_id"`
	EnterpriseID string `json:"enterprise_id"`
	Event        *struct {
		Type string `json:"type"`
	} `json:"event"`
	Authorizations []Authorization `json:"authorizations"`
}

func handled(eventType string) bool {
	switch eventType {
	case EventEmojiChanged, EventAppUninstalled, EventTokensRevoked:
		return true
	}
	return false
}

// ParseEnvelope decodes a webhook body. Callback events of types the relay
// does not act on come back with a nil Inner.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var head envelopeHead
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}

	env := &Envelope{
		Type:           head.Type,
		EventID:        head.EventID,
		TeamID:         head.TeamID,
		EnterpriseID:   head.EnterpriseID,
		Authorizations: head.Authorizations,
	}

	switch head.Type {
	case EnvelopeEventCallback:
		if head.Event == nil {
			return nil, fmt.Errorf("%w: callback without event", ErrMalformedEnvelope)
		}
		env.EventType = head.Event.Type
		if !handled(env.EventType) {
			return env, nil
		}
	case EnvelopeURLVerification:
	default:
		return env, nil
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if v, ok := ev.Data.(*slackevents.EventsAPIURLVerificationEvent); ok {
		env.Challenge = v.Challenge
	}
	env.Inner = ev.InnerEvent.Data
	return env, nil
}

// Tenant is the installation the event was delivered for. The first
// authorization wins; older payloads without authorizations fall back to the
// envelope ids.
func (e *Envelope) Tenant() model.Tenant {
	if len(e.Authorizations) > 0 {
		a := e.Authorizations[0]
		return model.Tenant{
			EnterpriseID:        a.EnterpriseID,
			TeamID:              a.TeamID,
			IsEnterpriseInstall: a.IsEnterpriseInstall,
		}
	}
	return model.Tenant{EnterpriseID: e.EnterpriseID, TeamID: e.TeamID}
}
