// Package config loads service settings from config.yaml and the
// environment. Environment variables win over the file; defaults fill the
// rest.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/warp/coaching-engine/cadence"
	"github.com/warp/coaching-engine/factory"
)

const (
	defaultPort             = 8080
	defaultDBPath           = "./data/coaching.db"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultRolloverSchedule = "*/15 * * * *"
	defaultTimezone         = "UTC"
)

type Config struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json or console

	RolloverEnabled  *bool  `yaml:"rollover_enabled"`
	RolloverSchedule string `yaml:"rollover_schedule"`

	// DefaultTimezone is used by /api/policy when no tz is given.
	DefaultTimezone string `yaml:"default_timezone"`

	PolicyOffsets factory.OffsetsJSON `yaml:"policy_offsets"`

	Offsets  cadence.PolicyOffsets `yaml:"-"` // merged and validated from PolicyOffsets
	Location *time.Location        `yaml:"-"` // computed from DefaultTimezone
}

// RolloverOn reports whether the scheduled rollover should run.
func (c Config) RolloverOn() bool {
	return c.RolloverEnabled == nil || *c.RolloverEnabled
}

// Load reads path (or CONFIG_PATH, or config.yaml when both are empty).
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	var cfg Config

	configPath := path
	if configPath == "" {
		configPath = "config.yaml"
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			configPath = envPath
		}
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("error reading %s: %w", configPath, err)
	}

	if err := envOverrideInt(&cfg.Port, "PORT"); err != nil {
		return Config{}, err
	}
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")
	envOverride(&cfg.RolloverSchedule, "ROLLOVER_SCHEDULE")
	if err := envOverrideBool(&cfg.RolloverEnabled, "ROLLOVER_ENABLED"); err != nil {
		return Config{}, err
	}
	envOverride(&cfg.DefaultTimezone, "DEFAULT_TIMEZONE")

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
	if cfg.RolloverSchedule == "" {
		cfg.RolloverSchedule = defaultRolloverSchedule
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = defaultTimezone
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port '%d': must be 1-65535", c.Port)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be 'json' or 'console', got '%s'", c.LogFormat)
	}
	if _, err := cron.ParseStandard(c.RolloverSchedule); err != nil {
		return fmt.Errorf("invalid rollover_schedule '%s': %w", c.RolloverSchedule, err)
	}

	loc, err := cadence.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return fmt.Errorf("invalid default_timezone: %w", err)
	}
	c.Location = loc

	offsets, err := factory.NewOffsetFactory().FromJSON(c.PolicyOffsets)
	if err != nil {
		return fmt.Errorf("invalid policy_offsets: %w", err)
	}
	c.Offsets = offsets
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	val := strings.TrimSpace(os.Getenv(envKey))
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
	}
	*field = n
	return nil
}

func envOverrideBool(field **bool, envKey string) error {
	val := strings.TrimSpace(os.Getenv(envKey))
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
	}
	*field = &b
	return nil
}
