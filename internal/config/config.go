package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	MessagesFilesPath string        `mapstructure:"messages_files_path"`
	DatabaseURL       string        `mapstructure:"database_url"`
	LogLevel          string        `mapstructure:"log_level"`
	NatsURL           string        `mapstructure:"nats_url"`
	NatsToken         string        `mapstructure:"nats_token"`
	DecodeContent     bool          `mapstructure:"decode_content"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffUnit       time.Duration `mapstructure:"backoff_unit"`
	Timezone          string        `mapstructure:"timezone"`
	Ignore            []string      `mapstructure:"ignore"`
	ReportPath        string        `mapstructure:"report_path"`
	InitSchema        bool          `mapstructure:"init_schema"`
}

var envKeys = map[string]string{
	"messages_files_path": "MESSAGES_FILES_PATH",
	"database_url":        "DATABASE_URL",
	"log_level":           "LOG_LEVEL",
	"nats_url":            "NATS_URL",
	"nats_token":          "NATS_TOKEN",
	"decode_content":      "CHATETL_DECODE_CONTENT",
	"max_attempts":        "CHATETL_MAX_ATTEMPTS",
	"backoff_unit":        "CHATETL_BACKOFF_UNIT",
	"timezone":            "CHATETL_TIMEZONE",
	"ignore":              "CHATETL_IGNORE",
	"report_path":         "CHATETL_REPORT_PATH",
	"init_schema":         "CHATETL_INIT_SCHEMA",
}

// Load reads defaults, then the config file at path, then the environment.
// An empty path skips the file; a path that does not exist is an error.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("decode_content", false)
	v.SetDefault("max_attempts", 5)
	v.SetDefault("backoff_unit", "1s")
	v.SetDefault("timezone", "Local")
	v.SetDefault("ignore", []string{".DS_Store"})
	v.SetDefault("init_schema", false)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Ignore = splitList(cfg.Ignore)
	return cfg, nil
}

// Validate reports missing or unusable settings.
func (c Config) Validate() error {
	var errs []error
	if c.MessagesFilesPath == "" {
		errs = append(errs, errors.New("MESSAGES_FILES_PATH is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.BackoffUnit < 0 {
		errs = append(errs, fmt.Errorf("backoff_unit must not be negative, got %s", c.BackoffUnit))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves Timezone. "Local" and "" mean the machine's zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// splitList flattens comma-separated entries, which is how list values
// arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
