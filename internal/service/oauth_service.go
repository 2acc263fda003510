package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"emojipapertrail/relay/internal/model"
	"emojipapertrail/relay/internal/slack"
)

const (
	SlackAuthorizeURL = "https://slack.com/oauth/v2/authorize"
	SlackTokenURL     = "https://slack.com/api/oauth.v2.access"
)

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	UserScopes   []string

	// AuthURL and TokenURL default to Slack's endpoints.
	AuthURL  string
	TokenURL string
}

// StateStore issues and consumes single-use OAuth state values.
type StateStore interface {
	Issue(ctx context.Context) (string, error)
	Consume(ctx context.Context, state string) (bool, error)
}

// BotIdentifier resolves a fresh bot token to its bot id.
type BotIdentifier interface {
	AuthTest(ctx context.Context, token string) (*slack.AuthTestResponse, error)
}

// OAuthService runs the "Add to Slack" install flow.
type OAuthService struct {
	oauth         *oauth2.Config
	scopes        []string
	userScopes    []string
	states        StateStore
	installations InstallationRepository
	identify      BotIdentifier
	httpClient    *http.Client
	now           func() time.Time
	logger        *zap.Logger
}

func NewOAuthService(
	cfg OAuthConfig,
	states StateStore,
	installations InstallationRepository,
	identify BotIdentifier,
	httpClient *http.Client,
	logger *zap.Logger,
) (*OAuthService, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingOAuthID
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = SlackAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = SlackTokenURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OAuthService{
		// Scopes are left empty here: oauth2 joins them with spaces while
		// Slack expects a comma separated list, see InstallURL.
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		scopes:        cfg.Scopes,
		userScopes:    cfg.UserScopes,
		states:        states,
		installations: installations,
		identify:      identify,
		httpClient:    httpClient,
		now:           time.Now,
		logger:        logger,
	}, nil
}

// InstallURL issues a fresh state and returns the authorize URL to send the
// installing user to.
func (s *OAuthService) InstallURL(ctx context.Context) (string, error) {
	state, err := s.states.Issue(ctx)
	if err != nil {
		return "", fmt.Errorf("issue oauth state: %w", err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("scope", strings.Join(s.scopes, ",")),
	}
	if len(s.userScopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("user_scope", strings.Join(s.userScopes, ",")))
	}
	return s.oauth.AuthCodeURL(state, opts...), nil
}

// HandleCallback validates state, exchanges code and stores the resulting
// installation.
func (s *OAuthService) HandleCallback(ctx context.Context, code, state string) (*model.Installation, error) {
	ok, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	if !ok {
		return nil, ErrInvalidState
	}

	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOAuthExchange, err)
	}

	access, err := decodeAccessResponse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOAuthExchange, err)
	}

	installation := access.installation(token, s.now())
	if s.identify != nil && installation.BotToken != "" {
		who, err := s.identify.AuthTest(ctx, installation.BotToken)
		if err != nil {
			return nil, fmt.Errorf("identify bot: %w", err)
		}
		installation.BotID = who.BotID
	}

	if err := s.installations.Save(ctx, installation); err != nil {
		return nil, fmt.Errorf("save installation: %w", err)
	}

	s.logger.Info("app installed",
		zap.String("enterprise_id", installation.EnterpriseID),
		zap.String("team_id", installation.TeamID),
		zap.Bool("enterprise_install", installation.IsEnterpriseInstall),
		zap.String("user_id", installation.UserID),
	)
	return installation, nil
}

type namedID struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// accessResponse holds the oauth.v2.access fields oauth2.Token leaves in Extra.
type accessResponse struct {
	AppID               string   `json:"app_id"`
	BotUserID           string   `json:"bot_user_id"`
	Scope               string   `json:"scope"`
	Team                *namedID `json:"team"`
	Enterprise          *namedID `json:"enterprise"`
	IsEnterpriseInstall bool     `json:"is_enterprise_install"`
	AuthedUser          struct {
		ID          string `json:"id"`
		Scope       string `json:"scope"`
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	} `json:"authed_user"`
}

var accessExtraKeys = []string{
	"app_id", "bot_user_id", "scope", "team", "enterprise", "is_enterprise_install", "authed_user",
}

func decodeAccessResponse(token *oauth2.Token) (*accessResponse, error) {
	fields := make(map[string]any, len(accessExtraKeys))
	for _, k := range accessExtraKeys {
		if v := token.Extra(k); v != nil {
			fields[k] = v
		}
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var out accessResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode oauth.v2.access: %w", err)
	}
	return &out, nil
}

func (a *accessResponse) installation(token *oauth2.Token, installedAt time.Time) *model.Installation {
	inst := &model.Installation{
		AppID:               a.AppID,
		BotToken:            token.AccessToken,
		BotUserID:           a.BotUserID,
		BotScopes:           splitScopes(a.Scope),
		UserID:              a.AuthedUser.ID,
		UserToken:           a.AuthedUser.AccessToken,
		UserScopes:          splitScopes(a.AuthedUser.Scope),
		TokenType:           token.TokenType,
		IsEnterpriseInstall: a.IsEnterpriseInstall,
		InstalledAt:         installedAt.UTC(),
	}
	if a.Team != nil {
		inst.TeamID, inst.TeamName = a.Team.ID, a.Team.Name
	}
	if a.Enterprise != nil {
		inst.EnterpriseID, inst.EnterpriseName = a.Enterprise.ID, a.Enterprise.Name
	}
	return inst
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
