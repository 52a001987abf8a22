package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SyncConfig holds the account-independent synchronization policy.
type SyncConfig struct {
	// Folder is the mailbox selected for backlog and IDLE.
	Folder string `mapstructure:"folder" yaml:"folder"`

	// Lookback bounds the initial backlog fetch.
	Lookback time.Duration `mapstructure:"lookback" yaml:"lookback"`

	// IdleRearm is how long an IDLE hold is kept before it is torn down
	// and re-issued. Must stay below the server's IDLE timeout.
	IdleRearm time.Duration `mapstructure:"idle_rearm" yaml:"idle_rearm"`

	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`

	// BufferSize is the capacity of the merged message stream.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`

	// FailFastOnAuth marks an account permanently failed on the first
	// rejected login instead of retrying with backoff.
	FailFastOnAuth bool `mapstructure:"fail_fast_on_auth" yaml:"fail_fast_on_auth"`
}

// StoreConfig holds the message store settings.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// OpenAIConfig holds settings for the categorization model.
type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SuggestConfig holds settings for reply suggestions. The API key is
// shared with OpenAIConfig.
type SuggestConfig struct {
	Model          string `mapstructure:"model" yaml:"model"`
	EmbeddingModel string `mapstructure:"embedding_model" yaml:"embedding_model"`
	MaxTokens      int    `mapstructure:"max_tokens" yaml:"max_tokens"`

	// The fields below seed the knowledge table on first use.
	ProductName    string `mapstructure:"product_name" yaml:"product_name"`
	OutreachAgenda string `mapstructure:"outreach_agenda" yaml:"outreach_agenda"`
	BookingLink    string `mapstructure:"booking_link" yaml:"booking_link"`
}

// NotifyConfig holds the outbound notification targets. Empty URLs
// disable the corresponding notifier.
type NotifyConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url" yaml:"slack_webhook_url"`
	WebhookURL      string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// PipelineConfig controls the downstream message consumer.
type PipelineConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// LoggingConfig controls log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Sync     SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Store    StoreConfig     `mapstructure:"store" yaml:"store"`
	HTTP     HTTPConfig      `mapstructure:"http" yaml:"http"`
	OpenAI   OpenAIConfig    `mapstructure:"openai" yaml:"openai"`
	Suggest  SuggestConfig   `mapstructure:"suggest" yaml:"suggest"`
	Notify   NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	Pipeline PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Logging  LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

const envPrefix = "ONEBOX"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/onebox/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "onebox", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sync.folder", "INBOX")
	v.SetDefault("sync.lookback", 30*24*time.Hour)
	v.SetDefault("sync.idle_rearm", 29*time.Minute)
	v.SetDefault("sync.base_delay", time.Second)
	v.SetDefault("sync.max_delay", 30*time.Second)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.buffer_size", 1024)
	v.SetDefault("sync.fail_fast_on_auth", false)

	v.SetDefault("store.path", "onebox.db")
	v.SetDefault("http.addr", ":3000")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 20)

	v.SetDefault("suggest.model", "gpt-4")
	v.SetDefault("suggest.embedding_model", "text-embedding-ada-002")
	v.SetDefault("suggest.max_tokens", 300)
	v.SetDefault("suggest.product_name", "Onebox")
	v.SetDefault("suggest.outreach_agenda", "I am applying for a job position.")
	v.SetDefault("suggest.booking_link", "https://cal.com/example")

	v.SetDefault("notify.slack_webhook_url", "")
	v.SetDefault("notify.webhook_url", "")

	v.SetDefault("pipeline.workers", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with ONEBOX_ override file values
// (e.g. ONEBOX_HTTP_ADDR). A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Accounts {
		if cfg.Accounts[i].ID == "" {
			cfg.Accounts[i].ID = fmt.Sprintf("account-%d", i+1)
		}
		if cfg.Accounts[i].Port == 0 {
			cfg.Accounts[i].Port = 993
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *AppConfig) Validate() error {
	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if seen[a.ID] {
			return fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Port <= 0 || a.Port > 65535 {
			return fmt.Errorf("account %q: port must be between 1 and 65535", a.ID)
		}
	}
	if c.Sync.BaseDelay <= 0 || c.Sync.MaxDelay < c.Sync.BaseDelay {
		return fmt.Errorf("sync: base_delay must be positive and not exceed max_delay")
	}
	if c.Sync.MaxAttempts < 0 {
		return fmt.Errorf("sync: max_attempts must not be negative")
	}
	if c.Sync.IdleRearm <= 0 {
		return fmt.Errorf("sync: idle_rearm must be positive")
	}
	return nil
}
