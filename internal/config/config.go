package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Defaults mirror the panel deployment the bot was written against.
const (
	DefaultAPIBaseURL          = "https://remnawave.tgvpnbot.com/api"
	DefaultFrontendURL         = "https://remnawave.tgvpnbot.com"
	DefaultSubscriptionBaseURL = "https://sub.officialbot.org/officialvpn/sub"
	DefaultDatabasePath        = "remnabot.db"
	DefaultSubscriptionDays    = 7
	DefaultAPITimeout          = 30 * time.Second
)

type Config struct {
	BotToken            string        `mapstructure:"bot_token"`
	PanelToken          string        `mapstructure:"panel_token"`
	APIBaseURL          string        `mapstructure:"api_base_url"`
	FrontendURL         string        `mapstructure:"frontend_url"`
	SubscriptionBaseURL string        `mapstructure:"subscription_base_url"`
	DatabasePath        string        `mapstructure:"database_path"`
	SubscriptionDays    int           `mapstructure:"subscription_days"`
	APITimeout          time.Duration `mapstructure:"api_timeout"`
}

// Load reads configuration from the environment, layered over an optional
// TOML file. When path is empty, remnabot.toml in the working directory is
// used if present; a missing default file is not an error, an explicit path
// that does not exist is.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("api_base_url", DefaultAPIBaseURL)
	v.SetDefault("frontend_url", DefaultFrontendURL)
	v.SetDefault("subscription_base_url", DefaultSubscriptionBaseURL)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("subscription_days", DefaultSubscriptionDays)
	v.SetDefault("api_timeout", DefaultAPITimeout)

	// Env names kept from the original deployment.
	v.BindEnv("bot_token", "BOT_TOKEN")
	v.BindEnv("panel_token", "REMNAWAVE_API_TOKEN")
	v.BindEnv("api_base_url", "REMNAWAVE_API_URL")
	v.BindEnv("frontend_url", "REMNAWAVE_FRONTEND_URL")
	v.BindEnv("subscription_base_url", "SUBSCRIPTION_BASE_URL")
	v.BindEnv("database_path", "DATABASE_PATH")
	v.BindEnv("subscription_days", "SUBSCRIPTION_DAYS")
	v.BindEnv("api_timeout", "API_TIMEOUT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("remnabot")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// ValidateServe checks the fields the serve command cannot run without.
func (c *Config) ValidateServe() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is not set")
	}
	if c.PanelToken == "" {
		return errors.New("REMNAWAVE_API_TOKEN is not set")
	}
	if c.SubscriptionDays <= 0 {
		return fmt.Errorf("subscription_days must be positive, got %d", c.SubscriptionDays)
	}
	return nil
}
