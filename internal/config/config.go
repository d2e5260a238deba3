// This file defines the configuration structure shared by the relay and the agent.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/vrsandeep/fastchecker/internal/models"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Relay struct {
		Port  int `mapstructure:"port"`
		Redis struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			Channel  string `mapstructure:"channel"`
		} `mapstructure:"redis"`
	} `mapstructure:"relay"`
	Agent       AgentConfig `mapstructure:"agent"`
	Database    struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Sellability struct {
		Provider    string `mapstructure:"provider"`
		Marketplace string `mapstructure:"marketplace"`
		Endpoint    string `mapstructure:"endpoint"`
		TokenURL    string `mapstructure:"token_url"`
	} `mapstructure:"sellability"`
	Credentials models.Credentials `mapstructure:"credentials"`
	Log         struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// AgentConfig holds the orchestrator's connection and pacing settings.
type AgentConfig struct {
	Port             int           `mapstructure:"port"`
	RelayURL         string        `mapstructure:"relay_url"`
	MailboxURL       string        `mapstructure:"mailbox_url"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	ItemDelay        time.Duration `mapstructure:"item_delay"`
	LookupTimeout    time.Duration `mapstructure:"lookup_timeout"`
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom is Load on a caller-owned viper instance, so flags can be bound
// before reading and the instance can be watched afterwards.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	// e.g., FASTCHECKER_AGENT_RELAY_URL overrides `agent.relay_url`.
	v.SetEnvPrefix("FASTCHECKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	return decode(v)
}

// SetDefaults registers every key with its default so env overrides apply
// even when no config file exists.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("relay.port", 3000)
	v.SetDefault("relay.redis.addr", "")
	v.SetDefault("relay.redis.password", "")
	v.SetDefault("relay.redis.db", 0)
	v.SetDefault("relay.redis.channel", "fastchecker:relay")

	v.SetDefault("agent.port", 8090)
	v.SetDefault("agent.relay_url", "ws://localhost:3000/ws")
	v.SetDefault("agent.mailbox_url", "http://localhost:3000/mailbox")
	v.SetDefault("agent.reconnect_delay", 10*time.Second)
	v.SetDefault("agent.item_delay", 500*time.Millisecond)
	v.SetDefault("agent.lookup_timeout", 30*time.Second)
	v.SetDefault("agent.watchdog_interval", time.Minute)

	v.SetDefault("database.path", "./fastchecker.db")

	v.SetDefault("sellability.provider", "spapi")
	v.SetDefault("sellability.marketplace", "US")
	v.SetDefault("sellability.endpoint", "")
	v.SetDefault("sellability.token_url", "https://api.amazon.com/auth/o2/token")

	v.SetDefault("credentials.refresh_token", "")
	v.SetDefault("credentials.client_id", "")
	v.SetDefault("credentials.client_secret", "")
	v.SetDefault("credentials.seller_id", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Watch re-reads the config file whenever it changes on disk and hands the
// new Config to onChange. Decode failures keep the previous settings.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
