package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM    LLMConfig
	Server ServerConfig
	Log    LogConfig
	Chat   ChatConfig
	Wallet WalletConfig
}

// LLMConfig holds the assistant responder configuration
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	CannedDelay  time.Duration `mapstructure:"canned_delay"`
	CannedReply  string        `mapstructure:"canned_reply"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ChatConfig holds the metering rules of a conversation session
type ChatConfig struct {
	CostPerMessage int           `mapstructure:"cost_per_message"`
	Greeting       string        `mapstructure:"greeting"`
	ReplyTimeout   time.Duration `mapstructure:"reply_timeout"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// WalletConfig selects and configures the wallet ledger driver
type WalletConfig struct {
	Driver          string `mapstructure:"driver"`
	DBPath          string `mapstructure:"db_path"`
	StartingBalance int    `mapstructure:"starting_balance"`
}

const (
	ProviderOpenAI = "openai"
	ProviderCanned = "canned"

	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", ProviderCanned)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.canned_delay", 2*time.Second)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("chat.cost_per_message", 2)
	v.SetDefault("chat.reply_timeout", 30*time.Second)
	v.SetDefault("chat.session_ttl", 30*time.Minute)
	v.SetDefault("chat.sweep_interval", time.Minute)
	v.SetDefault("wallet.driver", DriverMemory)
	v.SetDefault("wallet.db_path", "wallet.db")
	v.SetDefault("wallet.starting_balance", 150)
}

// Load loads the configuration from config.yaml (or the file named by CONFIG_PATH).
// A missing config file is not an error; defaults and COINCHAT_* variables apply.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("coinchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks the values the service cannot run without.
func (c *Config) Validate() error {
	if c.Chat.CostPerMessage <= 0 {
		return fmt.Errorf("chat.cost_per_message must be > 0")
	}
	if c.Chat.ReplyTimeout <= 0 {
		return fmt.Errorf("chat.reply_timeout must be > 0")
	}
	if c.Chat.SessionTTL < 0 {
		return fmt.Errorf("chat.session_ttl cannot be negative")
	}
	if c.Chat.SessionTTL > 0 && c.Chat.SweepInterval <= 0 {
		return fmt.Errorf("chat.sweep_interval must be > 0 when chat.session_ttl is set")
	}
	if c.Wallet.StartingBalance < 0 {
		return fmt.Errorf("wallet.starting_balance cannot be negative")
	}
	switch c.Wallet.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Wallet.DBPath == "" {
			return fmt.Errorf("wallet.db_path cannot be empty for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported wallet.driver %q", c.Wallet.Driver)
	}
	switch c.LLM.Provider {
	case ProviderCanned:
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key cannot be empty for the openai provider")
		}
	default:
		return fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider)
	}
	return nil
}
