package service

import (
	"context"
	"fmt"

	"emojipapertrail/relay/internal/model"
)

// TokenResolver finds the bot token to call the API with on behalf of a tenant.
type TokenResolver interface {
	BotToken(ctx context.Context, tenant model.Tenant) (string, error)
}

// StaticTokenResolver serves a single workspace with one configured token.
type StaticTokenResolver string

func (r StaticTokenResolver) BotToken(context.Context, model.Tenant) (string, error) {
	return string(r), nil
}

// InstallationTokenResolver looks the bot up in the installation store.
type InstallationTokenResolver struct {
	installations InstallationRepository
}

func NewInstallationTokenResolver(installations InstallationRepository) *InstallationTokenResolver {
	return &InstallationTokenResolver{installations: installations}
}

func (r *InstallationTokenResolver) BotToken(ctx context.Context, tenant model.Tenant) (string, error) {
	bot, err := r.installations.FindBot(ctx, tenant.EnterpriseID, tenant.TeamID, tenant.IsEnterpriseInstall)
	if err != nil {
		return "", fmt.Errorf("find bot: %w", err)
	}
	if bot == nil || bot.BotToken == "" {
		return "", fmt.Errorf("%w: enterprise=%q team=%q", ErrNotInstalled, tenant.EnterpriseID, tenant.TeamID)
	}
	return bot.BotToken, nil
}
