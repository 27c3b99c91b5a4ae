package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the reminder engine.
type Config struct {
	TelegramToken           string
	DatabaseURL             string
	FirebaseCredentialsFile string
	RedisURL                string
	HTTPAddr                string
	Timezone                string
	TickInterval            time.Duration
	DedupRetention          time.Duration
	PurgeInterval           time.Duration
	CallTimeout             time.Duration
	TickTimeout             time.Duration
	Workers                 int
	ChatRatePerSec          int
	LogLevel                string
	LogFormat               string
}

// fileConfig mirrors Config for the optional YAML file. Durations stay
// strings so they can be written as "1m" or "2h".
type fileConfig struct {
	TelegramToken           string `yaml:"telegram_token"`
	DatabaseURL             string `yaml:"database_url"`
	FirebaseCredentialsFile string `yaml:"firebase_credentials_file"`
	RedisURL                string `yaml:"redis_url"`
	HTTPAddr                string `yaml:"http_addr"`
	Timezone                string `yaml:"timezone"`
	TickInterval            string `yaml:"tick_interval"`
	DedupRetention          string `yaml:"dedup_retention"`
	PurgeInterval           string `yaml:"purge_interval"`
	CallTimeout             string `yaml:"call_timeout"`
	TickTimeout             string `yaml:"tick_timeout"`
	Workers                 int    `yaml:"workers"`
	ChatRatePerSec          int    `yaml:"chat_rate_per_sec"`
	LogLevel                string `yaml:"log_level"`
	LogFormat               string `yaml:"log_format"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		DatabaseURL:    "reminders.db",
		HTTPAddr:       ":8080",
		Timezone:       "UTC",
		TickInterval:   time.Minute,
		DedupRetention: 2 * time.Hour,
		PurgeInterval:  10 * time.Minute,
		CallTimeout:    10 * time.Second,
		TickTimeout:    50 * time.Second,
		Workers:        4,
		ChatRatePerSec: 25,
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load reads configuration from .env, an optional YAML file named by
// CONFIG_FILE and environment variables, in increasing precedence.
func Load() (Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks invariants the engine relies on.
func (c Config) Validate() error {
	if c.TickInterval <= 0 || c.TickInterval > time.Minute {
		return fmt.Errorf("tick interval %s must be within (0, 1m]", c.TickInterval)
	}
	if c.DedupRetention <= 0 {
		return errors.New("dedup retention must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the reference zone for time-of-day rules.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	lookup := func(key string) string {
		switch key {
		case "TELEGRAM_TOKEN":
			return fc.TelegramToken
		case "DATABASE_URL":
			return fc.DatabaseURL
		case "FIREBASE_CREDENTIALS_FILE":
			return fc.FirebaseCredentialsFile
		case "REDIS_URL":
			return fc.RedisURL
		case "HTTP_ADDR":
			return fc.HTTPAddr
		case "TIMEZONE":
			return fc.Timezone
		case "TICK_INTERVAL":
			return fc.TickInterval
		case "DEDUP_RETENTION":
			return fc.DedupRetention
		case "PURGE_INTERVAL":
			return fc.PurgeInterval
		case "CALL_TIMEOUT":
			return fc.CallTimeout
		case "TICK_TIMEOUT":
			return fc.TickTimeout
		case "WORKERS":
			if fc.Workers > 0 {
				return strconv.Itoa(fc.Workers)
			}
		case "CHAT_RATE_PER_SEC":
			if fc.ChatRatePerSec > 0 {
				return strconv.Itoa(fc.ChatRatePerSec)
			}
		case "LOG_LEVEL":
			return fc.LogLevel
		case "LOG_FORMAT":
			return fc.LogFormat
		}
		return ""
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overwrites cfg with every non-empty value returned by get.
func applyEnv(cfg *Config, get func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(get(key)); v != "" {
			*dst = v
		}
	}
	str("TELEGRAM_TOKEN", &cfg.TelegramToken)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("FIREBASE_CREDENTIALS_FILE", &cfg.FirebaseCredentialsFile)
	str("REDIS_URL", &cfg.RedisURL)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("TIMEZONE", &cfg.Timezone)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TICK_INTERVAL", &cfg.TickInterval},
		{"DEDUP_RETENTION", &cfg.DedupRetention},
		{"PURGE_INTERVAL", &cfg.PurgeInterval},
		{"CALL_TIMEOUT", &cfg.CallTimeout},
		{"TICK_TIMEOUT", &cfg.TickTimeout},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(get(d.key))
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil || v <= 0 {
			return fmt.Errorf("%s: invalid duration %q", d.key, raw)
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"WORKERS", &cfg.Workers},
		{"CHAT_RATE_PER_SEC", &cfg.ChatRatePerSec},
	}
	for _, n := range ints {
		raw := strings.TrimSpace(get(n.key))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return fmt.Errorf("%s: invalid positive integer %q", n.key, raw)
		}
		*n.dst = v
	}
	return nil
}
