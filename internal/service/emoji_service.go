package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"emojipapertrail/relay/internal/model"
	"emojipapertrail/relay/internal/slack"
)

// SlackAPI is the subset of the Slack Web API the relay calls.
type SlackAPI interface {
	ListEmoji(ctx context.Context, token string) (map[string]model.EmojiListEntry, error)
	ListAdminEmoji(ctx context.Context, token string) (map[string]model.EmojiListEntry, error)
	PostMessage(ctx context.Context, token string, msg slack.Message) (*slack.PostMessageResponse, error)
}

// InstallationRepository is implemented by repository.InstallationStore.
type InstallationRepository interface {
	Save(ctx context.Context, installation *model.Installation) error
	FindInstallation(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) (*model.Installation, error)
	FindBot(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) (*model.Bot, error)
	DeleteInstallation(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) error
	DeleteBot(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) error
	DeleteAll(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) error
}

// Outcome says what HandleEmojiChanged did with an event.
type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomeAliasSkipped Outcome = "alias_skipped"
	OutcomeDebounced    Outcome = "debounced"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomePosted       Outcome = "posted"
)

type EmojiServiceConfig struct {
	Channel            string
	ReportAliasChanges bool
	DebounceInterval   time.Duration
	// EnterpriseTenant lists emoji through admin.emoji.list, which carries
	// uploader ids on Enterprise Grid.
	EnterpriseTenant bool
}

type EmojiService struct {
	cfg           EmojiServiceConfig
	api           SlackAPI
	tokens        TokenResolver
	installations InstallationRepository
	idempotency   *IdempotencyGuard
	debounce      *DebounceGuard[model.EmojiKey]
	logger        *zap.Logger
}

func NewEmojiService(
	cfg EmojiServiceConfig,
	api SlackAPI,
	tokens TokenResolver,
	installations InstallationRepository,
	idempotency *IdempotencyGuard,
	debounce *DebounceGuard[model.EmojiKey],
	logger *zap.Logger,
) *EmojiService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmojiService{
		cfg:           cfg,
		api:           api,
		tokens:        tokens,
		installations: installations,
		idempotency:   idempotency,
		debounce:      debounce,
		logger:        logger,
	}
}

// HandleEmojiChanged announces a newly added emoji in the configured channel.
// Removals and renames are ignored. The idempotency check runs before the
// debounce stamp, so a backend failure leaves no trace and Slack's redelivery
// is processed normally.
func (s *EmojiService) HandleEmojiChanged(ctx context.Context, tenant model.Tenant, event *slack.EmojiChangedEvent) (Outcome, error) {
	if event.Subtype != slack.EmojiSubtypeAdd {
		return OutcomeIgnored, nil
	}

	token, err := s.tokens.BotToken(ctx, tenant)
	if err != nil {
		return "", err
	}

	directory, err := s.listEmoji(ctx, token)
	if err != nil {
		return "", fmt.Errorf("list emoji: %w", err)
	}

	emoji, err := model.ResolveEmoji(event.Name, event.Value, directory)
	if err != nil {
		return "", fmt.Errorf("resolve :%s:: %w", event.Name, err)
	}

	log := s.logger.With(
		zap.String("emoji_name", emoji.Name),
		zap.String("team_id", tenant.TeamID),
		zap.String("event_ts", event.EventTimeStamp),
	)

	if emoji.IsAlias() && !s.cfg.ReportAliasChanges {
		log.Debug("alias reporting disabled, skipping")
		return OutcomeAliasSkipped, nil
	}

	handled, err := s.idempotency.HasHandled(ctx, emoji.Name, event.EventTimeStamp)
	if err != nil {
		return "", err
	}
	if handled {
		log.Info("event already handled, skipping")
		return OutcomeDuplicate, nil
	}

	if s.debounce.SeenTooRecently(emoji.Key(), s.cfg.DebounceInterval) {
		log.Info("emoji seen too recently, skipping")
		return OutcomeDebounced, nil
	}

	resp, err := s.api.PostMessage(ctx, token, slack.NewEmojiUpdateMessage(s.cfg.Channel, emoji))
	if err != nil {
		return "", fmt.Errorf("post emoji update: %w", err)
	}
	log.Info("emoji update posted",
		zap.String("channel", resp.Channel),
		zap.String("ts", resp.TS),
		zap.Bool("alias", emoji.IsAlias()),
	)
	return OutcomePosted, nil
}

func (s *EmojiService) listEmoji(ctx context.Context, token string) (map[string]model.EmojiListEntry, error) {
	if s.cfg.EnterpriseTenant {
		return s.api.ListAdminEmoji(ctx, token)
	}
	return s.api.ListEmoji(ctx, token)
}

// HandleUninstall drops the latest installation and bot records for tenant.
// History is kept.
func (s *EmojiService) HandleUninstall(ctx context.Context, tenant model.Tenant) error {
	if err := s.installations.DeleteAll(ctx, tenant.EnterpriseID, tenant.TeamID, tenant.IsEnterpriseInstall); err != nil {
		return fmt.Errorf("delete installation: %w", err)
	}
	s.logger.Info("installation removed",
		zap.String("enterprise_id", tenant.EnterpriseID),
		zap.String("team_id", tenant.TeamID),
		zap.Bool("enterprise_install", tenant.IsEnterpriseInstall),
	)
	return nil
}

// HandleTokensRevoked deletes the bot record when bot tokens were revoked and
// the installation record when user tokens were.
func (s *EmojiService) HandleTokensRevoked(ctx context.Context, tenant model.Tenant, event *slack.TokensRevokedEvent) error {
	var errs []error
	if len(event.Tokens.Bot) > 0 {
		if err := s.installations.DeleteBot(ctx, tenant.EnterpriseID, tenant.TeamID, tenant.IsEnterpriseInstall); err != nil {
			errs = append(errs, fmt.Errorf("delete bot: %w", err))
		}
	}
	if len(event.Tokens.Oauth) > 0 {
		if err := s.installations.DeleteInstallation(ctx, tenant.EnterpriseID, tenant.TeamID, tenant.IsEnterpriseInstall); err != nil {
			errs = append(errs, fmt.Errorf("delete installation: %w", err))
		}
	}
	return errors.Join(errs...)
}
