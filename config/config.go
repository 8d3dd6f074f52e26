// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Required credentials are checked by Validate, not Load, so status tooling can
// still construct a Config from a partial environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	// YouTube Data API
	APIKey     string
	ChannelID  string
	DailyQuota int

	// Webhook delivery
	WebhookURL    string
	WebhookSecret string

	// WebSub push notifications. Empty CallbackURL disables the subscription
	// and the monitor runs on polling alone.
	CallbackURL  string
	HubURL       string
	LeaseSeconds int

	// Monitor cadence
	PollInterval       time.Duration
	SearchInterval     time.Duration
	DisableIdlePolling bool

	// HTTP server
	Port string

	// Heartbeat. Empty RedisAddr disables it.
	RedisAddr         string
	HeartbeatInterval time.Duration

	// Storage
	DataDir   string
	StateFile string
}

// Load reads environment variables and applies defaults. It doesn't fail on
// missing credentials; call Validate before starting the monitor.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.APIKey = os.Getenv("YOUTUBE_API_KEY")
	cfg.ChannelID = os.Getenv("YOUTUBE_CHANNEL_ID")

	var err error
	cfg.DailyQuota, err = intEnv("YOUTUBE_DAILY_QUOTA", 10000)
	if err != nil {
		return nil, err
	}

	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")

	cfg.CallbackURL = os.Getenv("CALLBACK_URL")
	cfg.HubURL = os.Getenv("WEBSUB_HUB_URL")
	if cfg.HubURL == "" {
		cfg.HubURL = "https://pubsubhubbub.appspot.com/subscribe"
	}
	cfg.LeaseSeconds, err = intEnv("WEBSUB_LEASE_SECONDS", 864000)
	if err != nil {
		return nil, err
	}

	cfg.PollInterval, err = durationEnv("POLL_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.SearchInterval, err = durationEnv("SEARCH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.DisableIdlePolling = boolEnv("DISABLE_IDLE_POLLING")

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.HeartbeatInterval, err = durationEnv("HEARTBEAT_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	cfg.StateFile = os.Getenv("STATE_FILE")
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(cfg.DataDir, "state.json")
	}

	return cfg, nil
}

// Validate checks the fields the monitor cannot run without.
func (c *Config) Validate() error {
	if c.APIKey == "" || c.ChannelID == "" {
		return fmt.Errorf("missing youtube env: require YOUTUBE_API_KEY, YOUTUBE_CHANNEL_ID")
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("missing WEBHOOK_URL")
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL too small: %s", c.PollInterval)
	}
	if c.DailyQuota <= 0 {
		return fmt.Errorf("YOUTUBE_DAILY_QUOTA must be positive, got %d", c.DailyQuota)
	}
	return nil
}

// PushEnabled reports whether a WebSub subscription should be maintained.
func (c *Config) PushEnabled() bool { return c.CallbackURL != "" }

// HeartbeatEnabled reports whether the Redis heartbeat should run.
func (c *Config) HeartbeatEnabled() bool { return c.RedisAddr != "" }

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (integer): %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	// Accept bare seconds for compatibility with older deployments.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	return d, nil
}

func boolEnv(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "True", "yes":
		return true
	}
	return false
}
