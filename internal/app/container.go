package app

import (
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/api"
	"github.com/nhle/onebox/internal/api/handlers"
	"github.com/nhle/onebox/internal/categorize"
	"github.com/nhle/onebox/internal/credential"
	"github.com/nhle/onebox/internal/logging"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/notify"
	"github.com/nhle/onebox/internal/pipeline"
	"github.com/nhle/onebox/internal/source"
	"github.com/nhle/onebox/internal/source/email"
	"github.com/nhle/onebox/internal/store"
	"github.com/nhle/onebox/internal/suggest"
	"github.com/nhle/onebox/internal/sync"
)

// openAIKeyName is the keyring entry consulted when no API key is configured.
const openAIKeyName = "openai-api-key"

// BuildContainer registers every component. cfg is provided as loaded so
// callers and tests can build it however they like.
func BuildContainer(cfg *model.AppConfig) (*dig.Container, error) {
	c := dig.New()

	providers := []any{
		func() *model.AppConfig { return cfg },
		func(cfg *model.AppConfig) (*zap.Logger, error) { return logging.New(cfg.Logging) },
		func(cfg *model.AppConfig) (*store.SQLiteStore, error) {
			return store.NewSQLiteStore(cfg.Store.Path)
		},
		func(s *store.SQLiteStore) store.Store { return s },
		newCredentialStore,
		newCategorizer,
		newSuggester,
		func(cfg *model.AppConfig) notify.Notifier { return notify.FromConfig(cfg.Notify) },
		func(logger *zap.Logger) source.Dialer { return email.NewIMAPDialer(logger) },
		newEngine,
		newPipeline,
		newServer,
		New,
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return nil, fmt.Errorf("registering provider: %w", err)
		}
	}

	return c, nil
}

// newCredentialStore opens the system keyring only when an account refers
// to it; otherwise nil is returned and nothing touches the keyring.
func newCredentialStore(cfg *model.AppConfig, logger *zap.Logger) credential.Store {
	needed := false
	for _, acct := range cfg.Accounts {
		if acct.Password == "" && acct.PasswordKey != "" {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	ring, err := credential.Open()
	if err != nil {
		logger.Warn("keyring unavailable", zap.Error(err))
		return nil
	}
	return ring
}

// newCategorizer uses OpenAI when an API key is available from the
// configuration, the OPENAI_API_KEY environment variable or the keyring,
// and falls back to leaving every message uncategorized.
func newCategorizer(
	cfg *model.AppConfig,
	creds credential.Store,
	logger *zap.Logger,
) categorize.Categorizer {
	apiKey := openAIKey(cfg, creds)
	if apiKey == "" {
		logger.Info("no OpenAI API key, messages stay uncategorized")
		return categorize.Static{}
	}
	return categorize.NewOpenAI(apiKey, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, logger)
}

// newSuggester returns nil without an API key; the suggestion routes
// then answer 503.
func newSuggester(
	cfg *model.AppConfig,
	s store.Store,
	creds credential.Store,
	logger *zap.Logger,
) handlers.ReplySuggester {
	apiKey := openAIKey(cfg, creds)
	if apiKey == "" {
		return nil
	}
	return suggest.New(apiKey, s, cfg.Suggest, logger.Named("suggest"))
}

func openAIKey(cfg *model.AppConfig, creds credential.Store) string {
	apiKey := cfg.OpenAI.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && creds != nil {
		apiKey, _ = creds.Get(openAIKeyName)
	}
	return apiKey
}

func newEngine(
	cfg *model.AppConfig,
	creds credential.Store,
	dialer source.Dialer,
	logger *zap.Logger,
) *sync.Engine {
	accounts, err := credential.ResolvePasswords(creds, cfg.Accounts)
	if err != nil {
		logger.Warn("some account passwords could not be resolved", zap.Error(err))
	}
	return sync.NewEngine(accounts, dialer, sync.OptionsFromConfig(cfg.Sync), logger)
}

func newPipeline(
	cfg *model.AppConfig,
	s store.Store,
	c categorize.Categorizer,
	n notify.Notifier,
	logger *zap.Logger,
) *pipeline.Pipeline {
	return pipeline.New(s, c, n, cfg.Pipeline.Workers, logger.Named("pipeline"))
}

func newServer(
	s store.Store,
	engine *sync.Engine,
	suggester handlers.ReplySuggester,
	logger *zap.Logger,
) *echo.Echo {
	return api.NewRouter(api.RouterConfig{
		Store:     s,
		Accounts:  engine,
		Suggester: suggester,
		Logger:    logger.Named("http"),
	})
}
