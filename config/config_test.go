package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"YOUTUBE_API_KEY", "YOUTUBE_CHANNEL_ID", "YOUTUBE_DAILY_QUOTA",
		"WEBHOOK_URL", "WEBHOOK_SECRET", "CALLBACK_URL", "WEBSUB_HUB_URL",
		"WEBSUB_LEASE_SECONDS", "POLL_INTERVAL", "SEARCH_INTERVAL",
		"DISABLE_IDLE_POLLING", "PORT", "REDIS_ADDR", "HEARTBEAT_INTERVAL",
		"DATA_DIR", "STATE_FILE",
	} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v, want 1m", cfg.PollInterval)
	}
	if cfg.SearchInterval != 5*time.Minute {
		t.Errorf("SearchInterval = %v, want 5m", cfg.SearchInterval)
	}
	if cfg.DailyQuota != 10000 {
		t.Errorf("DailyQuota = %d, want 10000", cfg.DailyQuota)
	}
	if cfg.LeaseSeconds != 864000 {
		t.Errorf("LeaseSeconds = %d, want 864000", cfg.LeaseSeconds)
	}
	if cfg.HubURL != "https://pubsubhubbub.appspot.com/subscribe" {
		t.Errorf("unexpected HubURL %q", cfg.HubURL)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StateFile != filepath.Join("data", "state.json") {
		t.Errorf("StateFile = %q", cfg.StateFile)
	}
	if cfg.PushEnabled() {
		t.Error("push should be disabled without CALLBACK_URL")
	}
	if cfg.HeartbeatEnabled() {
		t.Error("heartbeat should be disabled without REDIS_ADDR")
	}
}

func TestDurationEnvFormats(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
		err   bool
	}{
		{"90", 90 * time.Second, false}, // bare seconds
		{"2m30s", 2*time.Minute + 30*time.Second, false},
		{"1h", time.Hour, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("POLL_INTERVAL", tt.value)
			cfg, err := Load()
			if tt.err {
				if err == nil {
					t.Fatalf("Load() accepted %q", tt.value)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.PollInterval != tt.want {
				t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("YOUTUBE_API_KEY", "key")
	t.Setenv("YOUTUBE_CHANNEL_ID", "UCabc")
	t.Setenv("WEBHOOK_URL", "https://example.com/hook")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.WebhookURL = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "WEBHOOK_URL") {
		t.Errorf("expected WEBHOOK_URL error, got %v", err)
	}

	cfg.WebhookURL = "https://example.com/hook"
	cfg.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when YOUTUBE_API_KEY missing")
	}
}

func TestInvalidQuota(t *testing.T) {
	t.Setenv("YOUTUBE_DAILY_QUOTA", "lots")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric quota")
	}

	t.Setenv("YOUTUBE_DAILY_QUOTA", "0")
	t.Setenv("YOUTUBE_API_KEY", "key")
	t.Setenv("YOUTUBE_CHANNEL_ID", "UCabc")
	t.Setenv("WEBHOOK_URL", "https://example.com/hook")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero quota")
	}
}

func TestBoolEnv(t *testing.T) {
	for _, v := range []string{"1", "true", "yes"} {
		t.Setenv("DISABLE_IDLE_POLLING", v)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if !cfg.DisableIdlePolling {
			t.Errorf("DisableIdlePolling false for %q", v)
		}
	}
	t.Setenv("DISABLE_IDLE_POLLING", "no")
	cfg, _ := Load()
	if cfg.DisableIdlePolling {
		t.Error("DisableIdlePolling true for \"no\"")
	}
}
