package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "signal url required",
			mutate: func(c *Config) { c.Signal.URL = "" },
			want:   "signal.url",
		},
		{
			name:   "max timeout below base",
			mutate: func(c *Config) { c.Session.MaxTimeout = time.Second },
			want:   "session.max_timeout",
		},
		{
			name:   "unknown default profile",
			mutate: func(c *Config) { c.Session.DefaultProfile = "ultra" },
			want:   "session.default_profile",
		},
		{
			name: "threshold references unknown profile",
			mutate: func(c *Config) {
				c.Quality.Thresholds = append(c.Quality.Thresholds, Threshold{Publishers: 12, Profile: "tiny"})
			},
			want: "unknown profile",
		},
		{
			name:   "connection levels out of order",
			mutate: func(c *Config) { c.ConnectionStatus.Danger = 100 * time.Millisecond },
			want:   "connection_status levels",
		},
		{
			name:   "unknown notify level",
			mutate: func(c *Config) { c.ConnectionStatus.NotifyFrom = "severe" },
			want:   "notify_from",
		},
		{
			name: "rate limit burst",
			mutate: func(c *Config) {
				c.HTTP.RateLimit.Enabled = true
				c.HTTP.RateLimit.Burst = 0
			},
			want: "http.rate_limit.burst",
		},
		{
			name: "redis without address",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
			want: "redis.address",
		},
		{
			name: "half port range",
			mutate: func(c *Config) {
				c.Media.PortMin = 50000
			},
			want: "media.port_min",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTP.RateLimit.Enabled = false
	cfg.HTTP.RateLimit.RequestsPerSecond = 0
	cfg.HTTP.RateLimit.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
signal:
  url: ws://relay.example.org/bbb-webrtc-sfu
session:
  base_timeout: 10s
  max_timeout: 40s
  meeting:
    meeting_id: m-1
    user_name: Alex
quality:
  thresholds:
    - publishers: 4
      profile: low
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SFULINK_USER_ID", "u-9")
	t.Setenv("SFULINK_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Signal.URL != "ws://relay.example.org/bbb-webrtc-sfu" {
		t.Errorf("signal.url = %q", cfg.Signal.URL)
	}
	if cfg.Session.BaseTimeout != 10*time.Second || cfg.Session.MaxTimeout != 40*time.Second {
		t.Errorf("session timeouts = %v/%v", cfg.Session.BaseTimeout, cfg.Session.MaxTimeout)
	}
	if cfg.Session.Meeting.MeetingID != "m-1" || cfg.Session.Meeting.UserID != "u-9" {
		t.Errorf("meeting = %+v", cfg.Session.Meeting)
	}
	if len(cfg.Quality.Thresholds) != 1 || cfg.Quality.Thresholds[0].Publishers != 4 {
		t.Errorf("thresholds = %+v", cfg.Quality.Thresholds)
	}
	if len(cfg.Quality.Profiles) != 3 {
		t.Errorf("default profiles lost: %+v", cfg.Quality.Profiles)
	}
	if !cfg.Redis.Enabled {
		t.Error("SFULINK_REDIS_ENABLED not applied")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.BaseTimeout != 15*time.Second {
		t.Errorf("base_timeout = %v", cfg.Session.BaseTimeout)
	}
}

func TestLoad_InvalidEnvBool(t *testing.T) {
	t.Setenv("SFULINK_TRACING_ENABLED", "maybe")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for invalid boolean override")
	}
}
