package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces environment overrides, e.g. SWB_SERVER_PORT
const envPrefix = "SWB_"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server     ServerConfig     `koanf:"server"`
	Redis      RedisConfig      `koanf:"redis"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Velocity   VelocityConfig   `koanf:"velocity"`
	Audit      AuditConfig      `koanf:"audit"`
	Withdrawal WithdrawalConfig `koanf:"withdrawal"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// ThrottlePerSecond bounds requests per client IP at the HTTP edge
	ThrottlePerSecond float64 `koanf:"throttle_per_second"`
	ThrottleBurst     int     `koanf:"throttle_burst"`
}

// RedisConfig is optional; with an empty URL the in-memory stores are
// used instead
type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type RateLimitConfig struct {
	MaxPerHour               int           `koanf:"max_per_hour"`
	MaxPerDay                int           `koanf:"max_per_day"`
	MaxZatoshisPerWithdrawal int64         `koanf:"max_zatoshis_per_withdrawal"`
	MaxZatoshisPerDay        int64         `koanf:"max_zatoshis_per_day"`
	Cooldown                 time.Duration `koanf:"cooldown"`
	HourlyWindow             string        `koanf:"hourly_window"` // sliding or fixed
}

type VelocityConfig struct {
	MaxTxPerHour       int           `koanf:"max_tx_per_hour"`
	MaxTxPerDay        int           `koanf:"max_tx_per_day"`
	MaxZatoshisPerHour int64         `koanf:"max_zatoshis_per_hour"`
	MaxZatoshisPerDay  int64         `koanf:"max_zatoshis_per_day"`
	ViewingKeyValidity time.Duration `koanf:"viewing_key_validity"`
}

type AuditConfig struct {
	MinSeverity string `koanf:"min_severity"`
	MaxEvents   int    `koanf:"max_events"`
}

type WithdrawalConfig struct {
	SubmitTimeout time.Duration `koanf:"submit_timeout"`
	PollInterval  time.Duration `koanf:"poll_interval"`
	ResultTTL     time.Duration `koanf:"result_ttl"`
}

// Load resolves configuration from defaults, then an optional YAML
// file, then SWB_-prefixed environment variables, in that order
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:              8080,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			ThrottlePerSecond: 50,
			ThrottleBurst:     100,
		},
		RateLimit: RateLimitConfig{
			MaxPerHour:               10,
			MaxPerDay:                50,
			MaxZatoshisPerWithdrawal: 100_00000000,
			MaxZatoshisPerDay:        500_00000000,
			Cooldown:                 time.Minute,
			HourlyWindow:             "sliding",
		},
		Velocity: VelocityConfig{
			MaxTxPerHour:       10,
			MaxTxPerDay:        50,
			MaxZatoshisPerHour: 100_00000000,
			MaxZatoshisPerDay:  500_00000000,
			ViewingKeyValidity: 24 * time.Hour,
		},
		Audit: AuditConfig{
			MinSeverity: "info",
			MaxEvents:   10_000,
		},
		Withdrawal: WithdrawalConfig{
			SubmitTimeout: 2 * time.Minute,
			PollInterval:  time.Second,
			ResultTTL:     24 * time.Hour,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the services cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.RateLimit.HourlyWindow {
	case "sliding", "fixed":
	default:
		return fmt.Errorf("invalid hourly_window %q: must be sliding or fixed", c.RateLimit.HourlyWindow)
	}
	switch c.Audit.MinSeverity {
	case "info", "warning", "error", "critical":
	default:
		return fmt.Errorf("invalid audit min_severity: %q", c.Audit.MinSeverity)
	}
	if c.Audit.MaxEvents <= 0 {
		return fmt.Errorf("audit max_events must be positive")
	}
	if c.RateLimit.MaxZatoshisPerWithdrawal < 0 || c.RateLimit.MaxZatoshisPerDay < 0 {
		return fmt.Errorf("rate limit amounts must be non-negative")
	}
	if c.Withdrawal.SubmitTimeout <= 0 || c.Withdrawal.PollInterval <= 0 {
		return fmt.Errorf("withdrawal timeouts must be positive")
	}
	return nil
}
