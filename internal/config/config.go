// Package config loads application configuration from config.yaml and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/referral"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Accrual  AccrualConfig  `yaml:"accrual"`
	Referral ReferralConfig `yaml:"referral"`
	Activity ActivityConfig `yaml:"activity"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects and configures the backing store.
type StorageConfig struct {
	// Backend is one of "memory", "postgres", "supabase".
	Backend string `yaml:"backend"`

	PostgresDSN   string `yaml:"postgres_dsn"`
	MigrationsDir string `yaml:"migrations_dir"`

	SupabaseURL        string `yaml:"supabase_url"`
	SupabaseServiceKey string `yaml:"supabase_service_key"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// AccrualConfig holds the income sweep settings.
type AccrualConfig struct {
	CronSpec string `yaml:"cron_spec"`
}

// ReferralConfig holds the commission tier table and the accounts allowed to
// resolve referrals.
type ReferralConfig struct {
	Tiers  []referral.Tier `yaml:"tiers"`
	Admins []string        `yaml:"admins"`
}

// ActivityConfig tunes the synchronizer.
type ActivityConfig struct {
	Limit            int      `yaml:"limit"`
	SlowPollInterval Duration `yaml:"slow_poll_interval"`
	FastPollInterval Duration `yaml:"fast_poll_interval"`
	MinRefreshDelay  Duration `yaml:"min_refresh_delay"`
	NotifyCooldown   Duration `yaml:"notify_cooldown"`
	MaxRetries       int      `yaml:"max_retries"`
}

// Duration accepts YAML values in time.ParseDuration notation ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Log:     LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{Backend: "memory", MigrationsDir: "migrations"},
		Accrual: AccrualConfig{CronSpec: "@hourly"},
		Activity: ActivityConfig{
			Limit:            50,
			SlowPollInterval: Duration(time.Minute),
			FastPollInterval: Duration(5 * time.Second),
			MinRefreshDelay:  Duration(500 * time.Millisecond),
			NotifyCooldown:   Duration(10 * time.Second),
			MaxRetries:       3,
		},
	}
}

// Load reads the YAML file at path, falling back to defaults when the file
// is absent, then applies environment overrides. A .env file is honoured
// when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Server.Port <= 0 {
		return nil, fmt.Errorf("server port must be positive")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Storage.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_SERVICE_KEY"); v != "" {
		cfg.Storage.SupabaseServiceKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
}
