// Package config holds the server and client settings shared by the
// miochat commands. Values layer as defaults < config file < MIOCHAT_*
// environment < command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "MIOCHAT"

// BlockPolicy controls what a block does beyond hiding the peer from the
// blocker's contact list.
type BlockPolicy string

const (
	// BlockListOnly only hides the blocked peer from the blocker's contacts.
	BlockListOnly BlockPolicy = "list_only"
	// BlockSuppressDelivery also refuses messages sent to the blocker.
	BlockSuppressDelivery BlockPolicy = "suppress_delivery"
)

func (p BlockPolicy) Valid() bool {
	return p == BlockListOnly || p == BlockSuppressDelivery
}

type Config struct {
	Addr             string        `mapstructure:"addr"`
	Socket           string        `mapstructure:"socket"`
	DB               string        `mapstructure:"db"`
	KeysFile         string        `mapstructure:"keys_file"`
	WatchKeys        bool          `mapstructure:"watch_keys"`
	LogLevel         string        `mapstructure:"log_level"`
	SendRate         float64       `mapstructure:"send_rate"`
	SendBurst        int           `mapstructure:"send_burst"`
	BlockPolicy      BlockPolicy   `mapstructure:"block_policy"`
	SearchLimit      int           `mapstructure:"search_limit"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	SubscribeTimeout time.Duration `mapstructure:"subscribe_timeout"`
	SlowQuery        time.Duration `mapstructure:"slow_query"`

	// Client side.
	Server string `mapstructure:"server"`
	Token  string `mapstructure:"token"`
}

// SetDefaults registers every key so environment variables bind even when
// no config file mentions them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:7440")
	v.SetDefault("socket", "")
	v.SetDefault("db", "miochat.db")
	v.SetDefault("keys_file", "miochat.keys.yaml")
	v.SetDefault("watch_keys", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("send_rate", 5.0)
	v.SetDefault("send_burst", 20)
	v.SetDefault("block_policy", string(BlockListOnly))
	v.SetDefault("search_limit", 50)
	v.SetDefault("history_limit", 0)
	v.SetDefault("subscribe_timeout", 10*time.Second)
	v.SetDefault("slow_query", 100*time.Millisecond)
	v.SetDefault("server", "http://127.0.0.1:7440")
	v.SetDefault("token", "")
}

// New returns a viper instance wired for the MIOCHAT_ environment. When
// file is non-empty it must exist.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v, nil
}

func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !c.BlockPolicy.Valid() {
		return fmt.Errorf("block_policy must be %q or %q, got %q", BlockListOnly, BlockSuppressDelivery, c.BlockPolicy)
	}
	if c.SendRate < 0 || c.SendBurst < 0 {
		return fmt.Errorf("send_rate and send_burst must not be negative")
	}
	if c.SlowQuery < 0 {
		return fmt.Errorf("slow_query must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// ApplyLogging sets the global logrus level and formatter.
func (c Config) ApplyLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
