package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Profile struct {
	ID        string `yaml:"id"`
	Bitrate   int    `yaml:"bitrate"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FrameRate int    `yaml:"frame_rate"`
}

type Threshold struct {
	Publishers int    `yaml:"publishers"`
	Profile    string `yaml:"profile"`
}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Signal struct {
		URL            string        `yaml:"url"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		RedialInitial  time.Duration `yaml:"redial_initial"`
		RedialMax      time.Duration `yaml:"redial_max"`
		DialRate       float64       `yaml:"dial_rate"` // attempts per second, 0 = unlimited
		DialBurst      int           `yaml:"dial_burst"`
	} `yaml:"signal"`

	Session struct {
		BaseTimeout         time.Duration `yaml:"base_timeout"`
		MaxTimeout          time.Duration `yaml:"max_timeout"`
		PageChangeDebounce  time.Duration `yaml:"page_change_debounce"`
		PaginationEnabled   bool          `yaml:"pagination_enabled"`
		EventBuffer         int           `yaml:"event_buffer"`
		DefaultProfile      string        `yaml:"default_profile"`
		NotificationHistory int           `yaml:"notification_history"`

		Meeting struct {
			MeetingID   string `yaml:"meeting_id"`
			VoiceBridge string `yaml:"voice_bridge"`
			UserID      string `yaml:"user_id"`
			UserName    string `yaml:"user_name"`
			Record      bool   `yaml:"record"`
		} `yaml:"meeting"`
	} `yaml:"session"`

	Quality struct {
		Enabled        bool        `yaml:"enabled"`
		PrivilegeFloor bool        `yaml:"privilege_floor"`
		Profiles       []Profile   `yaml:"profiles"`
		Thresholds     []Threshold `yaml:"thresholds"`
	} `yaml:"quality"`

	ICE struct {
		CredentialsURL   string        `yaml:"credentials_url"`
		Timeout          time.Duration `yaml:"timeout"`
		RetryAttempts    int           `yaml:"retry_attempts"`
		BreakerThreshold int           `yaml:"breaker_threshold"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
		CacheTTL         time.Duration `yaml:"cache_ttl"`
		FallbackServers  []ICEServer   `yaml:"fallback_servers"`
	} `yaml:"ice"`

	Auth struct {
		JWTSecret         string        `yaml:"jwt_secret"`
		TokenTTL          time.Duration `yaml:"token_ttl"`
		RequireAdminToken bool          `yaml:"require_admin_token"`
	} `yaml:"auth"`

	ConnectionStatus struct {
		Warning         time.Duration `yaml:"warning"`
		Danger          time.Duration `yaml:"danger"`
		Critical        time.Duration `yaml:"critical"`
		RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
		NotifyFrom      string        `yaml:"notify_from"` // "", warning, danger or critical
	} `yaml:"connection_status"`

	HTTP struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

		RateLimit struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"rate_limit"`
	} `yaml:"http"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		Namespace           string        `yaml:"namespace"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Media struct {
		PortMin       uint16 `yaml:"port_min"`
		PortMax       uint16 `yaml:"port_max"`
		VideoMimeType string `yaml:"video_mime_type"`
		RecordingDir  string `yaml:"recording_dir"`
		SourceFile    string `yaml:"source_file"`
	} `yaml:"media"`

	Streams struct {
		File           string        `yaml:"file"`
		ReloadInterval time.Duration `yaml:"reload_interval"`
	} `yaml:"streams"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Signal
	if c.Signal.URL == "" {
		return fmt.Errorf("signal.url must not be empty")
	}
	if c.Signal.ConnectTimeout <= 0 {
		return fmt.Errorf("signal.connect_timeout must be > 0")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.DialRate < 0 {
		return fmt.Errorf("signal.dial_rate must be >= 0")
	}

	// Session
	if c.Session.BaseTimeout <= 0 {
		return fmt.Errorf("session.base_timeout must be > 0")
	}
	if c.Session.MaxTimeout < c.Session.BaseTimeout {
		return fmt.Errorf("session.max_timeout must be >= session.base_timeout")
	}
	if c.Session.PageChangeDebounce < 0 {
		return fmt.Errorf("session.page_change_debounce must be >= 0")
	}
	if c.Session.EventBuffer <= 0 {
		return fmt.Errorf("session.event_buffer must be > 0")
	}

	// Quality
	profiles := make(map[string]bool, len(c.Quality.Profiles))
	for _, p := range c.Quality.Profiles {
		if p.ID == "" {
			return fmt.Errorf("quality.profiles entries must have an id")
		}
		if p.Bitrate <= 0 {
			return fmt.Errorf("quality profile %q: bitrate must be > 0", p.ID)
		}
		profiles[p.ID] = true
	}
	if !profiles[c.Session.DefaultProfile] {
		return fmt.Errorf("session.default_profile %q is not a quality profile", c.Session.DefaultProfile)
	}
	for _, t := range c.Quality.Thresholds {
		if t.Publishers <= 0 {
			return fmt.Errorf("quality.thresholds publishers must be > 0")
		}
		if !profiles[t.Profile] {
			return fmt.Errorf("quality threshold references unknown profile %q", t.Profile)
		}
	}

	// ICE
	if c.ICE.RetryAttempts < 0 {
		return fmt.Errorf("ice.retry_attempts must be >= 0")
	}
	if c.ICE.CacheTTL < 0 {
		return fmt.Errorf("ice.cache_ttl must be >= 0")
	}
	for _, s := range c.ICE.FallbackServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice.fallback_servers entries must have urls")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	// Connection status
	cs := c.ConnectionStatus
	if cs.Warning <= 0 || cs.Danger <= cs.Warning || cs.Critical <= cs.Danger {
		return fmt.Errorf("connection_status levels must satisfy 0 < warning < danger < critical")
	}
	if cs.RecoveryTimeout <= 0 {
		return fmt.Errorf("connection_status.recovery_timeout must be > 0")
	}
	switch cs.NotifyFrom {
	case "", "warning", "danger", "critical":
	default:
		return fmt.Errorf("connection_status.notify_from must be one of warning, danger, critical")
	}

	// HTTP
	if c.HTTP.Enabled {
		if c.HTTP.Address == "" {
			return fmt.Errorf("http.address must not be empty when http.enabled=true")
		}
		if c.HTTP.ShutdownTimeout <= 0 {
			return fmt.Errorf("http.shutdown_timeout must be > 0")
		}
		if c.HTTP.RateLimit.Enabled {
			if c.HTTP.RateLimit.RequestsPerSecond <= 0 {
				return fmt.Errorf("http.rate_limit.requests_per_second must be > 0 when rate limiting is enabled")
			}
			if c.HTTP.RateLimit.Burst <= 0 {
				return fmt.Errorf("http.rate_limit.burst must be > 0 when rate limiting is enabled")
			}
			if c.HTTP.RateLimit.MaxConcurrent < 0 {
				return fmt.Errorf("http.rate_limit.max_concurrent must be >= 0 when rate limiting is enabled")
			}
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Media
	if c.Media.PortMin > 0 || c.Media.PortMax > 0 {
		if c.Media.PortMin == 0 || c.Media.PortMax == 0 {
			return fmt.Errorf("media.port_min and port_max must both be set when one is set")
		}
		if c.Media.PortMin >= c.Media.PortMax {
			return fmt.Errorf("media.port_min must be < port_max")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signal.URL = "ws://localhost:3008/bbb-webrtc-sfu"
	cfg.Signal.ConnectTimeout = 4 * time.Second
	cfg.Signal.PingInterval = 15 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.RedialInitial = time.Second
	cfg.Signal.RedialMax = 30 * time.Second
	cfg.Signal.DialBurst = 1

	cfg.Session.BaseTimeout = 15 * time.Second
	cfg.Session.MaxTimeout = 60 * time.Second
	cfg.Session.PageChangeDebounce = 500 * time.Millisecond
	cfg.Session.EventBuffer = 256
	cfg.Session.DefaultProfile = "medium"
	cfg.Session.NotificationHistory = 100

	cfg.Quality.Enabled = true
	cfg.Quality.PrivilegeFloor = true
	cfg.Quality.Profiles = []Profile{
		{ID: "low", Bitrate: 100, Width: 320, Height: 240, FrameRate: 15},
		{ID: "medium", Bitrate: 200, Width: 640, Height: 480, FrameRate: 15},
		{ID: "high", Bitrate: 500, Width: 1280, Height: 720, FrameRate: 30},
	}
	cfg.Quality.Thresholds = []Threshold{
		{Publishers: 8, Profile: "low"},
	}

	cfg.ICE.Timeout = 5 * time.Second
	cfg.ICE.RetryAttempts = 2
	cfg.ICE.BreakerThreshold = 5
	cfg.ICE.BreakerTimeout = 30 * time.Second
	cfg.ICE.FallbackServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = time.Hour

	cfg.ConnectionStatus.Warning = 500 * time.Millisecond
	cfg.ConnectionStatus.Danger = time.Second
	cfg.ConnectionStatus.Critical = 2 * time.Second
	cfg.ConnectionStatus.RecoveryTimeout = 20 * time.Second

	cfg.HTTP.Enabled = true
	cfg.HTTP.Address = ":8080"
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.HTTP.RateLimit.RequestsPerSecond = 20
	cfg.HTTP.RateLimit.Burst = 40

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.Namespace = "sfulink"
	cfg.Monitoring.HealthCheckInterval = 10 * time.Second

	cfg.Tracing.ServiceName = "sfulink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.Prefix = "sfulink"

	cfg.Media.RecordingDir = "recordings"

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	texts := map[string]*string{
		"SFULINK_SIGNAL_URL":          &c.Signal.URL,
		"SFULINK_HTTP_ADDRESS":        &c.HTTP.Address,
		"SFULINK_LOG_LEVEL":           &c.Logging.Level,
		"SFULINK_JWT_SECRET":          &c.Auth.JWTSecret,
		"SFULINK_REDIS_ADDRESS":       &c.Redis.Address,
		"SFULINK_REDIS_PASSWORD":      &c.Redis.Password,
		"SFULINK_ICE_CREDENTIALS_URL": &c.ICE.CredentialsURL,
		"SFULINK_MEETING_ID":          &c.Session.Meeting.MeetingID,
		"SFULINK_VOICE_BRIDGE":        &c.Session.Meeting.VoiceBridge,
		"SFULINK_USER_ID":             &c.Session.Meeting.UserID,
		"SFULINK_USER_NAME":           &c.Session.Meeting.UserName,
		"SFULINK_TRACING_JAEGER_URL":  &c.Tracing.JaegerURL,
		"SFULINK_MEDIA_RECORDING_DIR": &c.Media.RecordingDir,
		"SFULINK_MEDIA_SOURCE_FILE":   &c.Media.SourceFile,
		"SFULINK_STREAMS_FILE":        &c.Streams.File,
		"SFULINK_DEFAULT_PROFILE":     &c.Session.DefaultProfile,
	}
	for key, dst := range texts {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"SFULINK_REDIS_ENABLED":   &c.Redis.Enabled,
		"SFULINK_TRACING_ENABLED": &c.Tracing.Enabled,
		"SFULINK_HTTP_ENABLED":    &c.HTTP.Enabled,
	}
	for key, dst := range bools {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
	}
	return nil
}
