// Package config loads rendition settings from an optional YAML file and
// RENDITION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/rendition/internal/logging"
	"github.com/andresmejia3/rendition/internal/profile"
	"github.com/andresmejia3/rendition/internal/worker"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RENDITION_DETECTOR_THRESHOLD.
const EnvPrefix = "RENDITION"

// FileName is the config file searched for when no path is given.
const FileName = "rendition"

type Detector struct {
	Python    string        `mapstructure:"python" default:"python3" validate:"required"`
	Script    string        `mapstructure:"script" default:"python/detect_worker.py" validate:"required"`
	Threshold float64       `mapstructure:"threshold" default:"0.9" validate:"gt=0,lte=1"`
	Timeout   time.Duration `mapstructure:"timeout" default:"30s" validate:"gt=0"`
}

// Worker converts the detector settings for the subprocess pool.
func (d Detector) Worker() worker.Config {
	return worker.Config{
		Python:             d.Python,
		Script:             d.Script,
		DetectionThreshold: d.Threshold,
		ReadTimeout:        d.Timeout,
	}
}

type Archive struct {
	Name     string   `mapstructure:"name" default:"processed_images.zip" validate:"required"`
	Profiles []string `mapstructure:"profiles" default:"[\"banner\"]" validate:"min=1"`
}

// Config is the full application configuration.
type Config struct {
	// Workers is the size of the image pool; 0 means one per CPU.
	Workers  int               `mapstructure:"workers" validate:"gte=0"`
	Margin   float64           `mapstructure:"margin" default:"0.2" validate:"gte=0,lte=1"`
	Detect   bool              `mapstructure:"detect"`
	Output   string            `mapstructure:"output" default:"./output" validate:"required"`
	Profiles []profile.Profile `mapstructure:"profiles" validate:"dive"`
	Detector Detector          `mapstructure:"detector"`
	Archive  Archive           `mapstructure:"archive"`
	Log      logging.Config    `mapstructure:"log"`
}

// Catalog returns the configured profiles, or the built-in catalog when the
// file does not define any.
func (c *Config) Catalog() []profile.Profile {
	if len(c.Profiles) == 0 {
		return profile.Catalog()
	}
	return c.Profiles
}

var validate = validator.New()

// Validate checks field constraints and that the archive only names known profiles.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(c.Profiles) > 0 {
		if err := profile.ValidateSet(c.Profiles); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if _, err := profile.Resolve(c.Catalog(), c.Archive.Profiles); err != nil {
		return fmt.Errorf("invalid configuration: archive: %w", err)
	}
	return nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	c := &Config{}
	_ = defaults.Set(c)
	return c
}

// Load reads path (or searches for rendition.yaml when path is empty),
// applies RENDITION_* environment overrides, fills defaults and validates.
// A missing file is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// AutomaticEnv only answers for keys viper already knows about.
	bindEnv(v)

	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", v.ConfigFileUsed(), err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"workers", "margin", "detect", "output",
		"detector.python", "detector.script", "detector.threshold", "detector.timeout",
		"archive.name", "archive.profiles",
		"log.level", "log.format", "log.file", "log.max_size", "log.max_backups", "log.max_age", "log.compress",
	} {
		_ = v.BindEnv(key)
	}
}
