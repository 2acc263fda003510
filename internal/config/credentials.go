package config

import "errors"

var (
	ErrNoCredentials          = errors.New("either slack.bot_token or slack.client_id/client_secret is required")
	ErrConflictingCredentials = errors.New("slack.bot_token and slack.client_id are mutually exclusive")
)

// Credentials is either StaticToken or OAuthApp.
type Credentials interface {
	credentials()
}

// StaticToken serves a single workspace with a fixed bot token.
type StaticToken struct {
	BotToken string
}

// OAuthApp serves any workspace that installs the app through OAuth.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	UserScopes   []string
}

func (StaticToken) credentials() {}
func (OAuthApp) credentials()    {}

// Credentials resolves the credential mode. Exactly one must be configured.
func (c SlackConfig) Credentials() (Credentials, error) {
	hasToken := c.BotToken != ""
	hasOAuth := c.ClientID != "" || c.ClientSecret != ""

	switch {
	case hasToken && hasOAuth:
		return nil, ErrConflictingCredentials
	case hasToken:
		return StaticToken{BotToken: c.BotToken}, nil
	case c.ClientID != "" && c.ClientSecret != "":
		return OAuthApp{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       c.Scopes,
			UserScopes:   c.UserScopes,
		}, nil
	default:
		return nil, ErrNoCredentials
	}
}
