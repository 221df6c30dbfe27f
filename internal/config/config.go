// Package config loads the service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/newthinker/tradecore/internal/alert"
	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/broker"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/logger"
	"github.com/newthinker/tradecore/internal/notifier"
	"github.com/newthinker/tradecore/internal/router"
	"github.com/newthinker/tradecore/internal/storage/archive"
)

type Config struct {
	Log        logger.Options            `mapstructure:"log"`
	Server     ServerConfig              `mapstructure:"server"`
	Engine     EngineConfig              `mapstructure:"engine"`
	Backtest   backtest.Config           `mapstructure:"backtest"`
	Jobs       JobsConfig                `mapstructure:"jobs"`
	Strategies []StrategyConfig          `mapstructure:"strategies" validate:"dive"`
	Router     router.Config             `mapstructure:"router"`
	Execution  broker.Config             `mapstructure:"execution"`
	Notifiers  map[string]NotifierConfig `mapstructure:"notifiers"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Data       DataConfig                `mapstructure:"data"`
	Feed       FeedConfig                `mapstructure:"feed"`
	Metrics    MetricsConfig             `mapstructure:"metrics"`
	Alerts     AlertsConfig              `mapstructure:"alerts"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	// APIKey guards the HTTP API when set. /health stays open.
	APIKey string `mapstructure:"api_key"`
}

// AlertsConfig holds operational alert rules checked on the maintenance
// tick. Metric names are listed by App.AlertMetrics.
type AlertsConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
	Rules    []alert.Rule  `mapstructure:"rules" validate:"dive"`
}

// EngineConfig tunes live dispatch.
type EngineConfig struct {
	// Workers bounds how many strategies process one candle at a time.
	Workers int `mapstructure:"workers" validate:"gte=0"`
	// ContextFile is an optional YAML snapshot loaded into the shared
	// strategy context at startup.
	ContextFile string `mapstructure:"context_file"`
}

type JobsConfig struct {
	MaxJobs     int           `mapstructure:"max_jobs" validate:"gt=0"`
	TTL         time.Duration `mapstructure:"ttl" validate:"gt=0"`
	Concurrency int           `mapstructure:"concurrency" validate:"gt=0"`
}

// StrategyConfig declares a strategy instance created at startup.
type StrategyConfig struct {
	ID        string         `mapstructure:"id"`
	Type      string         `mapstructure:"type" validate:"required"`
	Name      string         `mapstructure:"name"`
	Enabled   bool           `mapstructure:"enabled"`
	Autostart bool           `mapstructure:"autostart"`
	Params    map[string]any `mapstructure:"params"`
}

type NotifierConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Params  map[string]any `mapstructure:",remain"`
}

type StorageConfig struct {
	Definitions DefinitionsConfig `mapstructure:"definitions"`
	Signals     SignalsConfig     `mapstructure:"signals"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
}

// DefinitionsConfig selects where strategy definitions are mirrored.
type DefinitionsConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory duckdb"`
	DSN    string `mapstructure:"dsn"`
}

type SignalsConfig struct {
	MaxSize int `mapstructure:"max_size" validate:"gt=0"`
}

// ArchiveConfig selects the backtest report archive. An empty type
// disables archiving.
type ArchiveConfig struct {
	Type string           `mapstructure:"type" validate:"omitempty,oneof=localfs s3"`
	Path string           `mapstructure:"path"`
	S3   archive.S3Config `mapstructure:"s3"`
}

// DataConfig locates the per-symbol candle files used for backtests.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// FeedConfig points the live loop at a candle file replayed at Interval.
type FeedConfig struct {
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file on top of Defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("reading config: %w", err))
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if ok && strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Log: logger.Options{Level: "info"},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Engine: EngineConfig{
			Workers: 4,
		},
		Backtest: backtest.DefaultConfig(),
		Jobs: JobsConfig{
			MaxJobs:     100,
			TTL:         time.Hour,
			Concurrency: 2,
		},
		Router:    router.DefaultConfig(),
		Execution: broker.DefaultConfig(),
		Storage: StorageConfig{
			Definitions: DefinitionsConfig{Driver: "memory"},
			Signals:     SignalsConfig{MaxSize: 1000},
		},
		Data: DataConfig{Dir: "data"},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Alerts: AlertsConfig{
			Cooldown: alert.DefaultCooldown,
		},
	}
}

var validate = validator.New()

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}

	seen := make(map[string]bool)
	for _, s := range c.Strategies {
		if s.ID == "" {
			continue
		}
		if seen[s.ID] {
			return core.Errorf(core.ErrConfigInvalid, "strategy id %q declared twice", s.ID)
		}
		seen[s.ID] = true
	}

	for name, n := range c.Notifiers {
		if !n.Enabled {
			continue
		}
		if err := validate.Struct(notifier.Config{Type: name}); err != nil {
			return core.Errorf(core.ErrConfigInvalid, "unknown notifier %q", name)
		}
	}

	for i := range c.Alerts.Rules {
		r := c.Alerts.Rules[i]
		if err := r.Compile(); err != nil {
			return err
		}
	}

	switch c.Storage.Archive.Type {
	case "localfs":
		if c.Storage.Archive.Path == "" {
			return core.WrapError(core.ErrConfigMissing, errors.New("archive path required for localfs"))
		}
	case "s3":
		if c.Storage.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing, errors.New("archive s3 bucket required"))
		}
	}

	return nil
}

// NotifierConfigs returns the enabled notifiers in a stable order
func (c *Config) NotifierConfigs() []notifier.Config {
	var out []notifier.Config
	for _, name := range []string{"webhook", "telegram", "websocket"} {
		if n, ok := c.Notifiers[name]; ok && n.Enabled {
			out = append(out, notifier.Config{Type: name, Params: n.Params})
		}
	}
	return out
}
