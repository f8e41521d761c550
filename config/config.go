// Package config loads the dashboard configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHURNSIGHT_"

// Config is the full application configuration, one struct per YAML section.
type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		RateLimit      float64       `yaml:"rate_limit"`
		RateBurst      int           `yaml:"rate_burst"`
	} `yaml:"http"`
	Log struct {
		Level      string `yaml:"level"`
		Encoding   string `yaml:"encoding"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
	Model struct {
		Type            string        `yaml:"type"`
		Path            string        `yaml:"path"`
		FeaturesPath    string        `yaml:"features_path"`
		NumericFeatures []string      `yaml:"numeric_features"`
		Watch           bool          `yaml:"watch"`
		WatchDebounce   time.Duration `yaml:"watch_debounce"`
	} `yaml:"model"`
	Session struct {
		MaxSessions int           `yaml:"max_sessions"`
		TTL         time.Duration `yaml:"ttl"`
		CookieName  string        `yaml:"cookie_name"`
	} `yaml:"session"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Dashboard struct {
		Title          string  `yaml:"title"`
		ModelAUC       float64 `yaml:"model_auc"`
		DefaultRevenue float64 `yaml:"default_revenue"`
		DefaultChurn   int     `yaml:"default_churn"`
		ExplainTop     int     `yaml:"explain_top"`
	} `yaml:"dashboard"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	var c Config
	c.Http.Port = 8080
	c.Http.Timeout = 30 * time.Second
	c.Http.AllowedOrigins = []string{"*"}
	c.Http.RateLimit = 20
	c.Http.RateBurst = 40
	c.Log.Level = "info"
	c.Log.Encoding = "json"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 5
	c.Log.MaxAgeDays = 30
	c.Model.Type = "gbtree"
	c.Model.Path = "models/churn_model.json"
	c.Model.FeaturesPath = "models/model_features.json"
	c.Model.WatchDebounce = 500 * time.Millisecond
	c.Session.MaxSessions = 1024
	c.Session.TTL = 2 * time.Hour
	c.Session.CookieName = "churnsight_session"
	c.Dashboard.Title = "SaaS Retention Intelligence"
	c.Dashboard.ModelAUC = 0.89
	c.Dashboard.DefaultRevenue = 10000
	c.Dashboard.DefaultChurn = 20
	c.Dashboard.ExplainTop = 10
	return &c
}

// Load reads path over the defaults. A missing file is not an error when
// allowMissing is set; environment overrides are applied last.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && allowMissing:
		default:
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment if one exists.
func LoadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides fields from CHURNSIGHT_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v := getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := getenv(EnvPrefix + key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	integer("HTTP_PORT", &c.Http.Port)
	float("HTTP_RATE_LIMIT", &c.Http.RateLimit)
	if v := getenv(EnvPrefix + "HTTP_ALLOWED_ORIGINS"); v != "" {
		c.Http.AllowedOrigins = strings.Split(v, ",")
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_ENCODING", &c.Log.Encoding)
	str("LOG_FILE", &c.Log.File)
	str("MODEL_TYPE", &c.Model.Type)
	str("MODEL_PATH", &c.Model.Path)
	str("MODEL_FEATURES_PATH", &c.Model.FeaturesPath)
	boolean("MODEL_WATCH", &c.Model.Watch)
	str("DATABASE_PATH", &c.Database.Path)
	float("DASHBOARD_MODEL_AUC", &c.Dashboard.ModelAUC)
	return errors.Join(errs...)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Http.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.Http.RateLimit < 0 {
		return errors.New("http.rate_limit must not be negative")
	}
	if c.Model.Path == "" || c.Model.FeaturesPath == "" {
		return errors.New("model.path and model.features_path are required")
	}
	if c.Session.MaxSessions <= 0 {
		return errors.New("session.max_sessions must be positive")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session.ttl must be positive")
	}
	if c.Session.CookieName == "" {
		return errors.New("session.cookie_name is required")
	}
	if c.Dashboard.DefaultChurn < 0 || c.Dashboard.DefaultChurn > 100 {
		return fmt.Errorf("dashboard.default_churn %d outside 0..100", c.Dashboard.DefaultChurn)
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding %q must be json or console", c.Log.Encoding)
	}
	return nil
}
