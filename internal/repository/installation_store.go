package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"emojipapertrail/relay/internal/model"
)

// ErrCorruptRecord means a stored record could not be decoded. There is no
// partial recovery from it.
var ErrCorruptRecord = errors.New("stored record is unreadable")

const (
	DefaultInstallationKeyPrefix = "slack_installation_store"

	suffixInstallerLatest = "installer-latest"
	suffixBotLatest       = "bot-latest"
	suffixHistory         = "installation"
	missingID             = "none"
	historyFieldLayout    = time.RFC3339Nano
)

// InstallationStore keeps the latest installation and bot per workspace plus
// an append-only history of every saved installation.
type InstallationStore struct {
	kv                    KVStore
	clientID              string
	keyPrefix             string
	historicalDataEnabled bool
}

type InstallationStoreOption func(*InstallationStore)

func WithKeyPrefix(prefix string) InstallationStoreOption {
	return func(s *InstallationStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

func WithHistoricalData(enabled bool) InstallationStoreOption {
	return func(s *InstallationStore) {
		s.historicalDataEnabled = enabled
	}
}

func NewInstallationStore(kv KVStore, clientID string, opts ...InstallationStoreOption) *InstallationStore {
	s := &InstallationStore{
		kv:                    kv,
		clientID:              clientID,
		keyPrefix:             DefaultInstallationKeyPrefix,
		historicalDataEnabled: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WorkspaceKey returns {prefix}:{clientID}:{enterpriseID}-{teamID}, with
// "none" standing in for a missing id. Enterprise-wide installs are keyed
// without the team.
func (s *InstallationStore) WorkspaceKey(enterpriseID, teamID string, isEnterpriseInstall bool) string {
	if enterpriseID == "" {
		enterpriseID = missingID
	}
	if teamID == "" {
		teamID = missingID
	}
	return fmt.Sprintf("%s:%s:%s-%s", s.keyPrefix, s.clientID, enterpriseID, teamID)
}

func (s *InstallationStore) key(enterpriseID, teamID string, isEnterpriseInstall bool, suffix string) string {
	return s.WorkspaceKey(enterpriseID, teamID, isEnterpriseInstall) + ":" + suffix
}

// scope drops the team for enterprise-wide installs.
func scope(enterpriseID, teamID string, isEnterpriseInstall bool) (string, string) {
	if isEnterpriseInstall {
		return enterpriseID, ""
	}
	return enterpriseID, teamID
}

// HistoryField formats an install timestamp as a history hash field.
func HistoryField(installedAt time.Time) string {
	return installedAt.UTC().Format(historyFieldLayout)
}

// Save writes the derived bot, replaces the latest installation and, when
// history is enabled, adds an entry keyed by InstalledAt. History is never
// overwritten by a later save with a different timestamp.
func (s *InstallationStore) Save(ctx context.Context, installation *model.Installation) error {
	if err := s.SaveBot(ctx, installation.ToBot()); err != nil {
		return err
	}

	data, err := json.Marshal(installation)
	if err != nil {
		return fmt.Errorf("marshal installation: %w", err)
	}

	enterpriseID, teamID, isEnterpriseInstall := installation.EnterpriseID, installation.TeamID, installation.IsEnterpriseInstall
	if err := s.kv.Set(ctx, s.key(enterpriseID, teamID, isEnterpriseInstall, suffixInstallerLatest), string(data), 0); err != nil {
		return fmt.Errorf("save installation: %w", err)
	}

	if s.historicalDataEnabled {
		field := HistoryField(installation.InstalledAt)
		if err := s.kv.HSet(ctx, s.key(enterpriseID, teamID, isEnterpriseInstall, suffixHistory), field, string(data)); err != nil {
			return fmt.Errorf("save installation history: %w", err)
		}
	}
	return nil
}

func (s *InstallationStore) SaveBot(ctx context.Context, bot model.Bot) error {
	data, err := json.Marshal(bot)
	if err != nil {
		return fmt.Errorf("marshal bot: %w", err)
	}
	if err := s.kv.Set(ctx, s.key(bot.EnterpriseID, bot.TeamID, bot.IsEnterpriseInstall, suffixBotLatest), string(data), 0); err != nil {
		return fmt.Errorf("save bot: %w", err)
	}
	return nil
}

// FindInstallation returns the latest installation, or nil if there is none.
// For enterprise installs teamID is ignored.
func (s *InstallationStore) FindInstallation(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) (*model.Installation, error) {
	data, found, err := s.kv.Get(ctx, s.key(enterpriseID, teamID, isEnterpriseInstall, suffixInstallerLatest))
	if err != nil {
		return nil, fmt.Errorf("find installation: %w", err)
	}
	if !found {
		return nil, nil
	}
	return decodeInstallation(data)
}

// FindBot returns the latest bot, or nil if there is none.
func (s *InstallationStore) FindBot(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) (*model.Bot, error) {
	data, found, err := s.kv.Get(ctx, s.key(enterpriseID, teamID, isEnterpriseInstall, suffixBotLatest))
	if err != nil {
		return nil, fmt.Errorf("find bot: %w", err)
	}
	if !found {
		return nil, nil
	}
	var bot model.Bot
	if err := json.Unmarshal([]byte(data), &bot); err != nil {
		return nil, fmt.Errorf("%w: bot: %v", ErrCorruptRecord, err)
	}
	return &bot, nil
}

// FindInstallationAt returns the historical installation saved with installedAt.
func (s *InstallationStore) FindInstallationAt(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool, installedAt time.Time) (*model.Installation, error) {
	data, found, err := s.kv.HGet(ctx, s.key(enterpriseID, teamID, isEnterpriseInstall, suffixHistory), HistoryField(installedAt))
	if err != nil {
		return nil, fmt.Errorf("find installation history: %w", err)
	}
	if !found {
		return nil, nil
	}
	return decodeInstallation(data)
}

// History returns every historical installation for the workspace, oldest first.
func (s *InstallationStore) History(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) ([]model.Installation, error) {
	fields, err := s.kv.HGetAll(ctx, s.key(enterpriseID, teamID, isEnterpriseInstall, suffixHistory))
	if err != nil {
		return nil, fmt.Errorf("list installation history: %w", err)
	}

	out := make([]model.Installation, 0, len(fields))
	for _, data := range fields {
		inst, err := decodeInstallation(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InstalledAt.Before(out[j].InstalledAt)
	})
	return out, nil
}

// DeleteInstallation removes the latest pointer. History is kept.
func (s *InstallationStore) DeleteInstallation(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) error {
	if _, err := s.kv.Delete(ctx, s.key(enterpriseID, teamID, isEnterpriseInstall, suffixInstallerLatest)); err != nil {
		return fmt.Errorf("delete installation: %w", err)
	}
	return nil
}

func (s *InstallationStore) DeleteBot(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) error {
	if _, err := s.kv.Delete(ctx, s.key(enterpriseID, teamID, isEnterpriseInstall, suffixBotLatest)); err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	return nil
}

// DeleteAll removes the latest bot and installation. For enterprise installs
// teamID is ignored.
func (s *InstallationStore) DeleteAll(ctx context.Context, enterpriseID, teamID string, isEnterpriseInstall bool) error {
	if err := s.DeleteBot(ctx, enterpriseID, teamID, isEnterpriseInstall); err != nil {
		return err
	}
	return s.DeleteInstallation(ctx, enterpriseID, teamID, isEnterpriseInstall)
}

func decodeInstallation(data string) (*model.Installation, error) {
	var inst model.Installation
	if err := json.Unmarshal([]byte(data), &inst); err != nil {
		return nil, fmt.Errorf("%w: installation: %v", ErrCorruptRecord, err)
	}
	return &inst, nil
}
