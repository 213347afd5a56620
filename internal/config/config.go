package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// HMACSecret keys intent signature verification. Intake is fail-closed:
	// with an empty secret every submission is rejected.
	HMACSecret string `yaml:"hmac_secret"`

	StorePath         string        `yaml:"store_path"`
	DefaultTTL        time.Duration `yaml:"default_ttl"`
	HydrateRecent     int           `yaml:"hydrate_recent"`
	LogLevel          string        `yaml:"log_level"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Operators maps operator id to role: observer, operator or risk_owner.
	// Operators not listed here resolve to observer.
	Operators map[string]string `yaml:"operators"`

	Posture  PostureConfig  `yaml:"posture"`
	Telegram TelegramConfig `yaml:"telegram"`
	API      APIConfig      `yaml:"api"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type PostureConfig struct {
	Mode   string   `yaml:"mode"`
	Phases []string `yaml:"phases"`

	MaxExposureUSD  float64 `yaml:"max_exposure_usd"`
	MaxDailyLossUSD float64 `yaml:"max_daily_loss_usd"`
	MaxOpenOrders   float64 `yaml:"max_open_orders"`
}

func Default() Config {
	return Config{
		StorePath:         "opscore.db",
		DefaultTTL:        30 * time.Second,
		HydrateRecent:     200,
		LogLevel:          "info",
		HeartbeatInterval: 30 * time.Second,
		Posture: PostureConfig{
			Mode:            "paper",
			MaxExposureUSD:  1000,
			MaxDailyLossUSD: 50,
			MaxOpenOrders:   6,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    ":8080",
		},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("OPSCORE_HMAC_SECRET"); v != "" {
		c.HMACSecret = v
	}
	if v := os.Getenv("OPSCORE_STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if v := strings.TrimSpace(os.Getenv("OPSCORE_MODE")); v != "" {
		c.Posture.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("OPSCORE_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("OPSCORE_TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("OPSCORE_API_ADDR"); v != "" {
		c.API.Addr = v
	}
}
