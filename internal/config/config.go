package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Solar   SolarConfig   `yaml:"solar" mapstructure:"solar"`
	PVWatts PVWattsConfig `yaml:"pvwatts" mapstructure:"pvwatts"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// SolarConfig configures the geometry-to-estimate pipeline.
type SolarConfig struct {
	DebounceMs       int     `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	ModuleEfficiency float64 `yaml:"module_efficiency" mapstructure:"module_efficiency"`
	MinCapacityKW    float64 `yaml:"min_capacity_kw" mapstructure:"min_capacity_kw"`
	MaxCapacityKW    float64 `yaml:"max_capacity_kw" mapstructure:"max_capacity_kw"`
}

// Debounce returns the quiescence window as a duration.
func (s SolarConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

// PVWattsConfig holds NREL PVWatts API settings and the siting defaults sent
// with every request.
type PVWattsConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ModuleType  int     `yaml:"module_type" mapstructure:"module_type"`
	ArrayType   int     `yaml:"array_type" mapstructure:"array_type"`
	Losses      float64 `yaml:"losses" mapstructure:"losses"`
	Tilt        float64 `yaml:"tilt" mapstructure:"tilt"`
	Azimuth     float64 `yaml:"azimuth" mapstructure:"azimuth"`
	Dataset     string  `yaml:"dataset" mapstructure:"dataset"`
}

// Timeout returns the per-request timeout.
func (p PVWattsConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// ServerConfig configures the session API server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	EditRatePerSec     float64  `yaml:"edit_rate_per_sec" mapstructure:"edit_rate_per_sec"`
	EditBurst          int      `yaml:"edit_burst" mapstructure:"edit_burst"`
	SessionIdleMinutes int      `yaml:"session_idle_minutes" mapstructure:"session_idle_minutes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SOLAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("solar.debounce_ms", 500)
	v.SetDefault("solar.module_efficiency", 0.15)
	v.SetDefault("solar.min_capacity_kw", 0.05)
	v.SetDefault("solar.max_capacity_kw", 500000)
	v.SetDefault("pvwatts.key", "DEMO_KEY")
	v.SetDefault("pvwatts.base_url", "https://developer.nrel.gov/api/pvwatts/v8.json")
	v.SetDefault("pvwatts.timeout_secs", 30)
	v.SetDefault("pvwatts.module_type", 0)
	v.SetDefault("pvwatts.array_type", 1)
	v.SetDefault("pvwatts.losses", 14)
	v.SetDefault("pvwatts.tilt", 20)
	v.SetDefault("pvwatts.azimuth", 180)
	v.SetDefault("pvwatts.dataset", "nsrdb")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.edit_rate_per_sec", 20)
	v.SetDefault("server.edit_burst", 40)
	v.SetDefault("server.session_idle_minutes", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode. The
// pipeline knobs are checked for every mode; "serve" also checks the server
// section. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "estimate", "validate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	s := c.Solar
	if s.ModuleEfficiency <= 0 || s.ModuleEfficiency > 1 {
		errs = append(errs, fmt.Sprintf("solar.module_efficiency must be in (0, 1], got %v", s.ModuleEfficiency))
	}
	if s.MinCapacityKW <= 0 {
		errs = append(errs, fmt.Sprintf("solar.min_capacity_kw must be > 0, got %v", s.MinCapacityKW))
	}
	if s.MaxCapacityKW <= s.MinCapacityKW {
		errs = append(errs, fmt.Sprintf("solar.max_capacity_kw (%v) must exceed solar.min_capacity_kw (%v)", s.MaxCapacityKW, s.MinCapacityKW))
	}
	if s.DebounceMs <= 0 {
		errs = append(errs, fmt.Sprintf("solar.debounce_ms must be > 0, got %d", s.DebounceMs))
	}

	if mode != "validate" {
		if c.PVWatts.BaseURL == "" {
			errs = append(errs, "pvwatts.base_url is required")
		}
		if c.PVWatts.TimeoutSecs <= 0 {
			errs = append(errs, fmt.Sprintf("pvwatts.timeout_secs must be > 0, got %d", c.PVWatts.TimeoutSecs))
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.EditRatePerSec <= 0 || c.Server.EditBurst <= 0 {
			errs = append(errs, "server.edit_rate_per_sec and server.edit_burst must be > 0")
		}
		if c.Server.SessionIdleMinutes <= 0 {
			errs = append(errs, "server.session_idle_minutes must be > 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
