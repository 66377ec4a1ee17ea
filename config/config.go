// Package config loads server settings.
//
// Precedence, lowest first: defaults, the YAML file, a .env file, the process
// environment. cmd/server applies command line flags on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	_ "time/tzdata"
)

// EnvFile is the optional dotenv file read by Load.
var EnvFile = ".env"

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`

	// Timezone is the IANA zone for template wall-clock times and calendar
	// export.
	Timezone string `yaml:"timezone"`

	// SyncCron schedules the periodic recurring event sync. Empty disables it.
	SyncCron string `yaml:"sync_cron"`

	// BaseURL prefixes join and registration links.
	BaseURL string `yaml:"base_url"`

	// CalendarProductID is the PRODID of exported calendars.
	CalendarProductID string        `yaml:"calendar_product_id"`
	CalendarCacheTTL  time.Duration `yaml:"calendar_cache_ttl"`

	// RedisURL enables the Redis calendar cache (redis://host:port/db).
	RedisURL string `yaml:"redis_url"`

	SMTP SMTPConfig `yaml:"smtp"`

	// CORSOrigins lists allowed browser origins for the API.
	CORSOrigins []string `yaml:"cors_origins"`
}

func Default() *Config {
	return &Config{
		Port:              "8080",
		DatabaseURL:       "clubportal.db",
		LogLevel:          "info",
		Timezone:          "America/New_York",
		SyncCron:          "@every 1h",
		BaseURL:           "http://localhost:8080",
		CalendarProductID: "-//Club Portal//Clubs//EN",
		CalendarCacheTTL:  time.Hour,
		SMTP:              SMTPConfig{Port: 587},
		CORSOrigins:       []string{"*"},
	}
}

// Load builds the configuration. A missing YAML file or .env file is not an
// error; path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Timezone, "TIMEZONE")
	setString(&c.BaseURL, "BASE_URL")
	setString(&c.CalendarProductID, "CALENDAR_PRODUCT_ID")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.SMTP.Host, "SMTP_HOST")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMTP.From, "SMTP_FROM")

	// SYNC_CRON may be set to the empty string to disable the scheduler.
	if v, ok := os.LookupEnv("SYNC_CRON"); ok {
		c.SyncCron = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		c.SMTP.Port = port
	}
	if v := os.Getenv("CALENDAR_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CALENDAR_CACHE_TTL: %w", err)
		}
		c.CalendarCacheTTL = ttl
	}
	return nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database url is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return errors.New("smtp.from is required when smtp.host is set")
	}
	return nil
}

// Location resolves Timezone. Empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
