// Package config loads application configuration from environment
// variables and an optional config.yaml.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"crous_bot/internal/filter"
)

// Config holds the application configuration.
type Config struct {
	SearchURLs       string
	TelegramBotToken string
	TelegramChatID   int64
	AllowedChatIDs   []int64

	PollInterval time.Duration
	PollJitter   time.Duration

	HTTPTimeout    time.Duration
	HTTPMaxRetries int
	UserAgent      string

	StateDBPath string
	LogLevel    string

	MaxPriceEUR     int
	IncludeKeywords []string

	HeartbeatInterval time.Duration
	AlertThreshold    int
	AlertCooldown     time.Duration
}

// SearchURLList returns the configured search URLs, trimmed, in order.
func (c *Config) SearchURLList() []string {
	var urls []string
	for _, s := range strings.Split(c.SearchURLs, ",") {
		if s = strings.TrimSpace(s); s != "" {
			urls = append(urls, s)
		}
	}
	return urls
}

// Load reads configuration from environment variables, with an optional
// config.yaml in the working directory, and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	allowed, err := parseChatIDs(v.GetString("allowed_chat_ids"))
	if err != nil {
		return nil, fmt.Errorf("invalid ALLOWED_CHAT_IDS: %w", err)
	}

	cfg := &Config{
		SearchURLs:        v.GetString("crous_search_urls"),
		TelegramBotToken:  v.GetString("telegram_bot_token"),
		TelegramChatID:    v.GetInt64("telegram_chat_id"),
		AllowedChatIDs:    allowed,
		PollInterval:      time.Duration(v.GetInt("poll_interval_seconds")) * time.Second,
		PollJitter:        time.Duration(v.GetInt("poll_jitter_seconds")) * time.Second,
		HTTPTimeout:       time.Duration(v.GetInt("http_timeout_seconds")) * time.Second,
		HTTPMaxRetries:    v.GetInt("http_max_retries"),
		UserAgent:         v.GetString("user_agent"),
		StateDBPath:       v.GetString("state_db_path"),
		LogLevel:          strings.ToLower(v.GetString("log_level")),
		MaxPriceEUR:       v.GetInt("max_price_eur"),
		IncludeKeywords:   filter.NormalizeKeywords(v.GetString("include_keywords")),
		HeartbeatInterval: time.Duration(v.GetInt("heartbeat_hours")) * time.Hour,
		AlertThreshold:    v.GetInt("failure_alert_threshold"),
		AlertCooldown:     time.Duration(v.GetInt("error_alert_cooldown_minutes")) * time.Minute,
	}

	if len(cfg.AllowedChatIDs) == 0 && cfg.TelegramChatID != 0 {
		cfg.AllowedChatIDs = []int64{cfg.TelegramChatID}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crous_search_urls", "")
	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("telegram_chat_id", 0)
	v.SetDefault("allowed_chat_ids", "")
	v.SetDefault("poll_interval_seconds", 180)
	v.SetDefault("poll_jitter_seconds", 20)
	v.SetDefault("http_timeout_seconds", 15)
	v.SetDefault("http_max_retries", 2)
	v.SetDefault("user_agent", "CROUS-BOT/1.0 (+personal-use; respectful polling)")
	v.SetDefault("state_db_path", "data/state.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_price_eur", 0)
	v.SetDefault("include_keywords", "")
	v.SetDefault("heartbeat_hours", 0)
	v.SetDefault("failure_alert_threshold", 3)
	v.SetDefault("error_alert_cooldown_minutes", 60)
}

func validate(cfg *Config) error {
	if len(cfg.SearchURLList()) == 0 {
		return fmt.Errorf("CROUS_SEARCH_URLS is required")
	}
	if cfg.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	if cfg.PollInterval < 30*time.Second {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be at least 30, got %d", int(cfg.PollInterval.Seconds()))
	}
	if cfg.PollJitter < 0 {
		return fmt.Errorf("POLL_JITTER_SECONDS must not be negative")
	}
	if cfg.HTTPTimeout < 5*time.Second {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be at least 5, got %d", int(cfg.HTTPTimeout.Seconds()))
	}
	if cfg.HTTPMaxRetries < 0 {
		return fmt.Errorf("HTTP_MAX_RETRIES must not be negative")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	if cfg.MaxPriceEUR < 0 {
		return fmt.Errorf("MAX_PRICE_EUR must not be negative")
	}
	if cfg.HeartbeatInterval < 0 {
		return fmt.Errorf("HEARTBEAT_HOURS must not be negative")
	}
	if cfg.AlertThreshold < 1 {
		return fmt.Errorf("FAILURE_ALERT_THRESHOLD must be at least 1, got %d", cfg.AlertThreshold)
	}
	if cfg.AlertCooldown < 0 {
		return fmt.Errorf("ERROR_ALERT_COOLDOWN_MINUTES must not be negative")
	}
	return nil
}

func parseChatIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat ID %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
