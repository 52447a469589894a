// Package config loads and validates the server's settings from an optional
// YAML file followed by environment variable overrides: file first, then
// env, then startup validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds every option named in the configuration surface. Load
// starts from the defaults; values from the YAML file and the environment
// then override them, explicit zeros included.
type Settings struct {
	MediaDir string `yaml:"media_dir"`
	CacheDir string `yaml:"cache_dir"`
	TranscoderPath string `yaml:"transcoder_path"`

	HLSSegmentSecs int `yaml:"hls_segment_secs"`
	HLSPlaylistLen int `yaml:"hls_playlist_len"`
	HLSLockTimeoutSecs int `yaml:"hls_lock_timeout_secs"`
	Transcode bool `yaml:"transcode"`

	DatabaseURL string `yaml:"database_url"`
	DBMaxConnections int `yaml:"db_max_connections"`

	Bind string `yaml:"bind"`

	MaxScanConcurrency int `yaml:"max_scan_concurrency"`
	MaxHLSConcurrency int `yaml:"max_hls_concurrency"`
	MaxInFlight int `yaml:"max_in_flight"`

	RateLimitUserPerMinute int `yaml:"rate_limit_user_per_minute"`
	RateLimitIPPerMinute int `yaml:"rate_limit_ip_per_minute"`
	RateLimitAllowUsers []string `yaml:"rate_limit_allow_users"`
	RateLimitBlockUsers []string `yaml:"rate_limit_block_users"`
	RateLimitAllowIPs []string `yaml:"rate_limit_allow_ips"`
	RateLimitBlockIPs []string `yaml:"rate_limit_block_ips"`

	JobWorkers int `yaml:"job_workers"`
	JobPollIntervalMS int `yaml:"job_poll_interval_ms"`
	JobMaxAttempts int `yaml:"job_max_attempts"`
	JobRetentionHours int `yaml:"job_retention_hours"`
	JobCleanupIntervalSecs int `yaml:"job_cleanup_interval_secs"`
	JobRunningTimeoutSecs int `yaml:"job_running_timeout_secs"`

	TokenTTLSecs int `yaml:"token_ttl_secs"`
	AdminUser string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
	InviteCode string `yaml:"invite_code"`
	JWTSecret string `yaml:"jwt_secret"`

	CatalogBaseURL string `yaml:"catalog_base_url"`
	RedisAddr string `yaml:"redis_addr"`

	IdempotencyStorePath string `yaml:"idempotency_store_path"`
	TracingEnabled bool `yaml:"tracing_enabled"`
	TracingSamplingRate float64 `yaml:"tracing_sampling_rate"`
}

// JobPollInterval returns the worker poll interval as a time.Duration.
func (s Settings) JobPollInterval() time.Duration {
	return time.Duration(s.JobPollIntervalMS) * time.Millisecond
}

func (s Settings) TokenTTL() time.Duration {
	return time.Duration(s.TokenTTLSecs) * time.Second
}

func defaults() Settings {
	return Settings{
		TranscoderPath: "ffmpeg",
		HLSSegmentSecs: 6,
		HLSPlaylistLen: 0,
		HLSLockTimeoutSecs: 3600,
		Transcode: false,
		DBMaxConnections: 5,
		Bind: "0.0.0.0:3000",
		MaxScanConcurrency: 1,
		MaxHLSConcurrency: 2,
		MaxInFlight: 256,
		JobWorkers: 2,
		JobPollIntervalMS: 500,
		JobMaxAttempts: 3,
		JobRetentionHours: 168,
		JobCleanupIntervalSecs: 3600,
		JobRunningTimeoutSecs: 3600,
		TokenTTLSecs: 3600,
		AdminUser: "admin",
		TracingSamplingRate: 1.0,
	}
}

// Load reads an optional YAML file at configPath (ignored if empty or
// missing), applies environment variable overrides, fills in defaults for
// unset fields, and validates the result.
func Load(configPath string) (Settings, error) {
	s := defaults()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := yaml.Unmarshal(data, &s); err != nil {
				return Settings{}, fmt.Errorf("config: parse %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Settings{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	applyEnv(&s)

	if err := validate(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func applyEnv(s *Settings) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			parts := strings.Split(v, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			*dst = parts
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	str("MEDIA_DIR", &s.MediaDir)
	str("CACHE_DIR", &s.CacheDir)
	str("TRANSCODER_PATH", &s.TranscoderPath)
	num("HLS_SEGMENT_SECS", &s.HLSSegmentSecs)
	num("HLS_PLAYLIST_LEN", &s.HLSPlaylistLen)
	num("HLS_LOCK_TIMEOUT_SECS", &s.HLSLockTimeoutSecs)
	boolean("TRANSCODE", &s.Transcode)
	str("DATABASE_URL", &s.DatabaseURL)
	num("DB_MAX_CONNECTIONS", &s.DBMaxConnections)
	str("BIND", &s.Bind)
	num("MAX_SCAN_CONCURRENCY", &s.MaxScanConcurrency)
	num("MAX_HLS_CONCURRENCY", &s.MaxHLSConcurrency)
	num("MAX_IN_FLIGHT", &s.MaxInFlight)
	num("RATE_LIMIT_USER_PER_MINUTE", &s.RateLimitUserPerMinute)
	num("RATE_LIMIT_IP_PER_MINUTE", &s.RateLimitIPPerMinute)
	list("RATE_LIMIT_ALLOW_USERS", &s.RateLimitAllowUsers)
	list("RATE_LIMIT_BLOCK_USERS", &s.RateLimitBlockUsers)
	list("RATE_LIMIT_ALLOW_IPS", &s.RateLimitAllowIPs)
	list("RATE_LIMIT_BLOCK_IPS", &s.RateLimitBlockIPs)
	num("JOB_WORKERS", &s.JobWorkers)
	num("JOB_POLL_INTERVAL_MS", &s.JobPollIntervalMS)
	num("JOB_MAX_ATTEMPTS", &s.JobMaxAttempts)
	num("JOB_RETENTION_HOURS", &s.JobRetentionHours)
	num("JOB_CLEANUP_INTERVAL_SECS", &s.JobCleanupIntervalSecs)
	num("JOB_RUNNING_TIMEOUT_SECS", &s.JobRunningTimeoutSecs)
	num("TOKEN_TTL_SECS", &s.TokenTTLSecs)
	str("ADMIN_USER", &s.AdminUser)
	str("ADMIN_PASSWORD", &s.AdminPassword)
	str("INVITE_CODE", &s.InviteCode)
	str("JWT_SECRET", &s.JWTSecret)
	str("CATALOG_BASE_URL", &s.CatalogBaseURL)
	str("REDIS_ADDR", &s.RedisAddr)
	str("IDEMPOTENCY_STORE_PATH", &s.IdempotencyStorePath)
	boolean("TRACING_ENABLED", &s.TracingEnabled)
	float("TRACING_SAMPLING_RATE", &s.TracingSamplingRate)
}

func validate(s Settings) error {
	if s.MediaDir == "" {
		return fmt.Errorf("config: media_dir is required")
	}
	if s.CacheDir == "" {
		return fmt.Errorf("config: cache_dir is required")
	}
	if s.DatabaseURL == "" {
		return fmt.Errorf("config: database_url is required")
	}
	if s.JWTSecret == "" {
		return fmt.Errorf("config: jwt_secret is required")
	}
	if len(s.JWTSecret) < 32 {
		return fmt.Errorf("config: jwt_secret must be at least 32 characters")
	}
	if s.AdminPassword == "" {
		return fmt.Errorf("config: admin_password is required")
	}
	if s.MaxScanConcurrency < 1 {
		return fmt.Errorf("config: max_scan_concurrency must be >= 1")
	}
	if s.MaxHLSConcurrency < 1 {
		return fmt.Errorf("config: max_hls_concurrency must be >= 1")
	}
	if s.JobWorkers < 1 {
		return fmt.Errorf("config: job_workers must be >= 1")
	}
	if s.JobMaxAttempts < 1 {
		return fmt.Errorf("config: job_max_attempts must be >= 1")
	}
	return nil
}
