// Package app builds the relay's object graph once and tears it down again.
package app

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"emojipapertrail/relay/internal/config"
	"emojipapertrail/relay/internal/handler"
	"emojipapertrail/relay/internal/model"
	"emojipapertrail/relay/internal/repository"
	"emojipapertrail/relay/internal/service"
	"emojipapertrail/relay/internal/slack"
)

const slackHTTPTimeout = 30 * time.Second

type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	KV            repository.KVStore
	Installations *repository.InstallationStore
	States        *repository.OAuthStateStore
	EmojiService  *service.EmojiService
	OAuthService  *service.OAuthService // nil with a static bot token
	Router        *gin.Engine
}

// NewLogger builds a production (json) or development logger at cfg.Level.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// OpenStore connects the configured state backend.
func OpenStore(cfg *config.Config, logger *zap.Logger) (repository.KVStore, error) {
	switch cfg.State.Backend {
	case config.BackendRedis:
		client, err := config.NewRedisClient(cfg.Database.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis state store")
		return repository.NewRedisKVStore(client, repository.RedisRetryPolicy()), nil

	case config.BackendPostgres:
		db, err := config.NewPostgresDB(cfg.Database.Postgres)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Postgres.AutoMigrate {
			if err := model.AutoMigrate(db); err != nil {
				return nil, errors.Join(fmt.Errorf("auto-migrate: %w", err), closeDB(db))
			}
			logger.Info("database migration completed")
		}
		logger.Info("using postgres state store")
		return repository.NewPGKVStore(db, repository.PostgresRetryPolicy()), nil

	case config.BackendMemory:
		logger.Warn("using in-memory state store, state is lost on restart and not shared between instances")
		return repository.NewMemoryKVStore(), nil

	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// NewInstallationStore scopes the installation store to the configured app.
func NewInstallationStore(cfg *config.Config, kv repository.KVStore) *repository.InstallationStore {
	return repository.NewInstallationStore(kv, cfg.Slack.ClientID,
		repository.WithKeyPrefix(cfg.Slack.InstallationKeyPrefix),
		repository.WithHistoricalData(cfg.Slack.HistoricalDataEnabled),
	)
}

// New validates cfg and constructs every service and handler.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	creds, err := cfg.Slack.Credentials()
	if err != nil {
		return nil, err
	}

	kv, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	a := &App{
		Config:        cfg,
		Logger:        logger,
		KV:            kv,
		Installations: NewInstallationStore(cfg, kv),
		States:        repository.NewOAuthStateStore(kv, cfg.Slack.StateTTL),
	}

	httpClient := &http.Client{Timeout: slackHTTPTimeout}
	api := slack.NewClient(
		slack.WithBaseURL(cfg.Slack.APIBaseURL),
		slack.WithHTTPClient(httpClient),
		slack.WithLogger(logger.Named("slack")),
	)

	var tokens service.TokenResolver
	switch c := creds.(type) {
	case config.StaticToken:
		tokens = service.StaticTokenResolver(c.BotToken)
	case config.OAuthApp:
		tokens = service.NewInstallationTokenResolver(a.Installations)
		a.OAuthService, err = service.NewOAuthService(service.OAuthConfig{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       c.Scopes,
			UserScopes:   c.UserScopes,
		}, a.States, a.Installations, api, httpClient, logger.Named("oauth"))
		if err != nil {
			return nil, errors.Join(err, kv.Close())
		}
	}

	a.EmojiService = service.NewEmojiService(
		service.EmojiServiceConfig{
			Channel:            cfg.Slack.Channel,
			ReportAliasChanges: cfg.Slack.ReportAliasChanges,
			DebounceInterval:   cfg.Slack.DebounceInterval,
			EnterpriseTenant:   cfg.Slack.EnterpriseTenant,
		},
		api,
		tokens,
		a.Installations,
		service.NewIdempotencyGuard(kv, cfg.Idempotency.Retention),
		service.NewDebounceGuard[model.EmojiKey](nil),
		logger.Named("emoji"),
	)

	var oauthHandler *handler.OAuthHandler
	if a.OAuthService != nil {
		oauthHandler = handler.NewOAuthHandler(a.OAuthService, logger)
	}
	a.Router = handler.SetupRouter(cfg, logger,
		handler.NewHealthHandler(kv, logger),
		handler.NewEventsHandler(a.EmojiService, logger),
		oauthHandler,
	)
	return a, nil
}

// Close releases the state backend.
func (a *App) Close() error {
	if err := a.KV.Close(); err != nil {
		return fmt.Errorf("close state store: %w", err)
	}
	return nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
