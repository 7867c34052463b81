package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Intervals are per-source poll intervals.
type Intervals struct {
	Trailers time.Duration `yaml:"trailers"`
	Network  time.Duration `yaml:"network"`
	JobSites time.Duration `yaml:"job_sites"`
	Actions  time.Duration `yaml:"actions"`
	Daily    time.Duration `yaml:"daily"`
}

// Status holds trailer status thresholds.
type Status struct {
	StaleAfter     time.Duration `yaml:"stale_after"`
	CriticalSOC    float64       `yaml:"critical_soc"`
	WarningSOC     float64       `yaml:"warning_soc"`
	WeakSignalBars int           `yaml:"weak_signal_bars"`
}

// Config is the process configuration.
type Config struct {
	HTTPAddr    string        `yaml:"http_addr"`
	APIBaseURL  string        `yaml:"api_base_url"`
	APIToken    string        `yaml:"api_token"`
	APITimeout  time.Duration `yaml:"api_timeout"`
	JWTSecret   string        `yaml:"jwt_secret"`
	DatabaseURL string        `yaml:"database_url"`
	DailyTable  string        `yaml:"daily_table"`
	WebhookURL  string        `yaml:"webhook_url"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	ActionLimit int           `yaml:"action_limit"`
	Intervals   Intervals     `yaml:"intervals"`
	Status      Status        `yaml:"status"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		APITimeout:  15 * time.Second,
		DailyTable:  "site_daily_metrics",
		LogLevel:    "info",
		LogFormat:   "json",
		ActionLimit: 10,
		Intervals: Intervals{
			Trailers: 30 * time.Second,
			Network:  30 * time.Second,
			JobSites: 60 * time.Second,
			Actions:  30 * time.Second,
			Daily:    5 * time.Minute,
		},
		Status: Status{
			StaleAfter:     15 * time.Minute,
			CriticalSOC:    10,
			WarningSOC:     25,
			WeakSignalBars: 1,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// FLEET_CONFIG, then environment variables.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("FLEET_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.APIBaseURL = getenvDefault("API_BASE_URL", cfg.APIBaseURL)
	cfg.APIToken = getenvDefault("API_TOKEN", cfg.APIToken)
	cfg.APITimeout = getenvDuration("API_TIMEOUT", cfg.APITimeout)
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.JWTSecret))
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.DailyTable = getenvDefault("DAILY_METRICS_TABLE", cfg.DailyTable)
	cfg.WebhookURL = getenvDefault("WEBHOOK_URL", cfg.WebhookURL)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.ActionLimit = getenvIntDefault("ACTION_LIMIT", cfg.ActionLimit)
	cfg.Intervals.Trailers = getenvDuration("POLL_TRAILERS_INTERVAL", cfg.Intervals.Trailers)
	cfg.Intervals.Network = getenvDuration("POLL_NETWORK_INTERVAL", cfg.Intervals.Network)
	cfg.Intervals.JobSites = getenvDuration("POLL_JOB_SITES_INTERVAL", cfg.Intervals.JobSites)
	cfg.Intervals.Actions = getenvDuration("POLL_ACTIONS_INTERVAL", cfg.Intervals.Actions)
	cfg.Intervals.Daily = getenvDuration("POLL_DAILY_INTERVAL", cfg.Intervals.Daily)
	cfg.Status.StaleAfter = getenvDuration("STALE_AFTER", cfg.Status.StaleAfter)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks required fields and intervals.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("config: API_BASE_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	for name, d := range map[string]time.Duration{
		"trailers":  c.Intervals.Trailers,
		"network":   c.Intervals.Network,
		"job_sites": c.Intervals.JobSites,
		"actions":   c.Intervals.Actions,
		"daily":     c.Intervals.Daily,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s interval must be positive", name)
		}
	}
	if c.Status.StaleAfter <= 0 {
		return errors.New("config: stale_after must be positive")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
