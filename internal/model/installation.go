package model

import "time"

// Installation is a recorded OAuth grant for one workspace or enterprise.
// An enterprise-wide install has IsEnterpriseInstall set and no team scope.
type Installation struct {
	AppID               string    `json:"app_id"`
	EnterpriseID        string    `json:"enterprise_id,omitempty"`
	EnterpriseName      string    `json:"enterprise_name,omitempty"`
	TeamID              string    `json:"team_id,omitempty"`
	TeamName            string    `json:"team_name,omitempty"`
	BotToken            string    `json:"bot_token,omitempty"`
	BotID               string    `json:"bot_id,omitempty"`
	BotUserID           string    `json:"bot_user_id,omitempty"`
	BotScopes           []string  `json:"bot_scopes,omitempty"`
	UserID              string    `json:"user_id"`
	UserToken           string    `json:"user_token,omitempty"`
	UserScopes          []string  `json:"user_scopes,omitempty"`
	TokenType           string    `json:"token_type,omitempty"`
	IsEnterpriseInstall bool      `json:"is_enterprise_install"`
	InstalledAt         time.Time `json:"installed_at"`
}

// Bot is the bot credential subset of an Installation.
type Bot struct {
	AppID               string    `json:"app_id"`
	EnterpriseID        string    `json:"enterprise_id,omitempty"`
	EnterpriseName      string    `json:"enterprise_name,omitempty"`
	TeamID              string    `json:"team_id,omitempty"`
	TeamName            string    `json:"team_name,omitempty"`
	BotToken            string    `json:"bot_token"`
	BotID               string    `json:"bot_id"`
	BotUserID           string    `json:"bot_user_id"`
	BotScopes           []string  `json:"bot_scopes,omitempty"`
	IsEnterpriseInstall bool      `json:"is_enterprise_install"`
	InstalledAt         time.Time `json:"installed_at"`
}

// ToBot derives the bot record saved alongside the installation.
func (i Installation) ToBot() Bot {
	return Bot{
		AppID:               i.AppID,
		EnterpriseID:        i.EnterpriseID,
		EnterpriseName:      i.EnterpriseName,
		TeamID:              i.TeamID,
		TeamName:            i.TeamName,
		BotToken:            i.BotToken,
		BotID:               i.BotID,
		BotUserID:           i.BotUserID,
		BotScopes:           i.BotScopes,
		IsEnterpriseInstall: i.IsEnterpriseInstall,
		InstalledAt:         i.InstalledAt,
	}
}
