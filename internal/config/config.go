package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Colors overrides the taxonomy palette, keyed by kind name.
type Colors struct {
	Nodes map[string]string `yaml:"nodes"`
	Edges map[string]string `yaml:"edges"`
}

type Config struct {
	HTTPAddr          string        `yaml:"http_addr"`
	LogLevel          string        `yaml:"log_level"`
	DatabaseURL       string        `yaml:"database_url"`
	DatabaseUserLabel string        `yaml:"database_user_label"`
	StoreTimeout      time.Duration `yaml:"store_timeout"`
	IngestTimeout     time.Duration `yaml:"ingest_timeout"`
	SessionIdleTTL    time.Duration `yaml:"session_idle_ttl"`
	OUIFile           string        `yaml:"oui_file"`
	OUIURL            string        `yaml:"oui_url"`
	Colors            Colors        `yaml:"colors"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:       ":8081",
		LogLevel:       "info",
		StoreTimeout:   10 * time.Second,
		IngestTimeout:  2 * time.Minute,
		SessionIdleTTL: 30 * time.Minute,
		OUIFile:        "data/oui.txt",
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, then environment variables. Environment wins.
func Load(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Defaults()

	if path := strings.TrimSpace(getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	envString(getenv, "HTTP_ADDR", &cfg.HTTPAddr)
	envString(getenv, "LOG_LEVEL", &cfg.LogLevel)
	envString(getenv, "DATABASE_URL", &cfg.DatabaseURL)
	envString(getenv, "DATABASE_USER_LABEL", &cfg.DatabaseUserLabel)
	envString(getenv, "OUI_FILE", &cfg.OUIFile)
	envString(getenv, "OUI_URL", &cfg.OUIURL)

	var errs []error
	errs = append(errs, envDuration(getenv, "STORE_TIMEOUT", &cfg.StoreTimeout))
	errs = append(errs, envDuration(getenv, "INGEST_TIMEOUT", &cfg.IngestTimeout))
	errs = append(errs, envDuration(getenv, "SESSION_IDLE_TTL", &cfg.SessionIdleTTL))
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) validate() error {
	switch {
	case strings.TrimSpace(c.HTTPAddr) == "":
		return errors.New("config: http_addr is empty")
	case c.StoreTimeout <= 0:
		return errors.New("config: store_timeout must be positive")
	case c.IngestTimeout <= 0:
		return errors.New("config: ingest_timeout must be positive")
	case c.SessionIdleTTL <= 0:
		return errors.New("config: session_idle_ttl must be positive")
	}
	return nil
}

func envString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func envDuration(getenv func(string) string, key string, dst *time.Duration) error {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
