// Package config loads computed.yaml settings with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/viper"
)

const (
	maxWalkDepth = 25
	envPrefix    = "COMPUTED"
)

// Config represents the configuration read from computed.yaml.
type Config struct {
	// SchemaDir holds the SDL files of the entity model. A relative path is
	// resolved against the directory of the config file.
	SchemaDir string `mapstructure:"schema_dir"`

	Engine  EngineConfig  `mapstructure:"engine"`
	Log     LogConfig     `mapstructure:"log"`
	Otel    OtelConfig    `mapstructure:"otel"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// EngineConfig holds scheduler settings.
type EngineConfig struct {
	MaxPasses int `mapstructure:"max_passes"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// OtelConfig holds tracing settings. An empty endpoint disables tracing.
type OtelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Service  string `mapstructure:"service"`
}

// MetricsConfig holds the Prometheus listener. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load discovers and loads configuration with precedence
// env > config file > defaults.
//
// It returns the config, the path of the config file (empty if none was
// found) and any error encountered.
func Load(explicitPath string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := findConfigFile(explicitPath)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, path, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, path, fmt.Errorf("unmarshaling config: %w", err)
	}
	if path != "" && cfg.SchemaDir != "" && !filepath.IsAbs(cfg.SchemaDir) {
		cfg.SchemaDir = filepath.Join(filepath.Dir(path), cfg.SchemaDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schema_dir", "schema")

	v.SetDefault("engine.max_passes", 10)

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.json", false)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service", "computed")

	v.SetDefault("metrics.addr", "")
}

// Validate reports settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.MaxPasses < 1 {
		errs = append(errs, fmt.Errorf("engine.max_passes must be at least 1, got %d", c.Engine.MaxPasses))
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("log.level %q is not a log level", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Logger builds the logger described by the log settings.
func (c *Config) Logger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(c.Log.Level),
		JSONFormat: c.Log.JSON,
		Output:     os.Stderr,
	})
}

// findConfigFile returns explicitPath if it exists. Otherwise it walks up from
// the working directory looking for computed.yaml or computed.yml, stopping at
// a .git entry or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"computed.yaml", "computed.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}
