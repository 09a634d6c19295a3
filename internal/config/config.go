// Package config loads the settings of the kmsdemo compositor.
//
// Settings are layered: built-in defaults, then an optional YAML file
// named by KMS_CONFIG, then the environment. A .env file in the
// working directory is read into the environment first, without
// replacing variables that are already set.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

// FileEnv is the environment variable naming the YAML file.
const FileEnv = "KMS_CONFIG"

// Config holds the settings. Fields have no default tags, so the
// environment only overrides the earlier layers for variables that are
// set.
type Config struct {
	Device      string `yaml:"device" env:"KMS_DEVICE"`
	TTY         string `yaml:"tty" env:"KMS_TTY"`
	Buffers     int    `yaml:"buffers" env:"KMS_BUFFERS"`
	Color       string `yaml:"color" env:"KMS_COLOR"`
	CursorTheme string `yaml:"cursor_theme" env:"KMS_CURSOR_THEME"`
	CursorSize  int    `yaml:"cursor_size" env:"KMS_CURSOR_SIZE"`
	LogLevel    string `yaml:"log_level" env:"KMS_LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"KMS_LOG_FORMAT"`
	MetricsAddr string `yaml:"metrics_addr" env:"KMS_METRICS_ADDR"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Device:     "/dev/dri/card0",
		TTY:        "/dev/tty",
		Buffers:    2,
		Color:      "#204060",
		CursorSize: 64,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Load reads the configuration from the locations described in the
// package documentation.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv(FileEnv), ".env")
}

// LoadFrom reads the configuration from the YAML file at path and the
// dotenv file at dotenv. Either may be empty to skip it. A missing
// dotenv file is not an error.
func LoadFrom(path, dotenv string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	if dotenv != "" {
		err := godotenv.Load(dotenv)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %q: %w", dotenv, err)
		}
	}

	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	logLevels  = []string{"trace", "debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Validate checks that every setting is usable.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Device == "" {
		errs = append(errs, errors.New("device is required"))
	}
	if (cfg.Buffers < 1) || (cfg.Buffers > 4) {
		errs = append(errs, fmt.Errorf("buffers must be between 1 and 4, got %v", cfg.Buffers))
	}
	if (cfg.CursorSize < 1) || (cfg.CursorSize > 256) {
		errs = append(errs, fmt.Errorf("cursor size must be between 1 and 256, got %v", cfg.CursorSize))
	}
	if !slices.Contains(logLevels, strings.ToLower(cfg.LogLevel)) {
		errs = append(errs, fmt.Errorf("unknown log level %q", cfg.LogLevel))
	}
	if !slices.Contains(logFormats, cfg.LogFormat) {
		errs = append(errs, fmt.Errorf("unknown log format %q", cfg.LogFormat))
	}
	if _, err := cfg.BackgroundColor(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BackgroundColor parses Color, which is written as #rrggbb.
func (cfg *Config) BackgroundColor() (color.RGBA, error) {
	var c color.RGBA
	n, err := fmt.Sscanf(cfg.Color, "#%02x%02x%02x", &c.R, &c.G, &c.B)
	if (err != nil) || (n != 3) || (len(cfg.Color) != 7) {
		return color.RGBA{}, fmt.Errorf("invalid color %q", cfg.Color)
	}
	c.A = 0xff
	return c, nil
}
