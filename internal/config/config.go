// Package config loads verification settings from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"go.ngs.io/forecast-verify/internal/adapter/interp"
	"go.ngs.io/forecast-verify/internal/domain"
)

// ModelConfig names one forecast file.
type ModelConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// RetryConfig bounds reference fetch retries.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// ReferenceConfig describes the ERA5 reference archive.
type ReferenceConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	// TimeTolerance allows matching the nearest archived time within this
	// distance. Zero requires exact matches.
	TimeTolerance time.Duration `yaml:"time_tolerance"`
	Retry         RetryConfig   `yaml:"retry"`
}

// Config holds all settings.
type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Models    []ModelConfig     `yaml:"models"`
	Reference ReferenceConfig   `yaml:"reference"`
	Aliases   domain.AliasTable `yaml:"aliases"`
	Region    *domain.Region    `yaml:"region"`

	Interpolation string        `yaml:"interpolation"`
	Workers       int           `yaml:"workers"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	RunOnStart    bool          `yaml:"run_on_start"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Port:      "8080",
		LogLevel:  "info",
		LogFormat: "json",
		Models: []ModelConfig{
			{Name: "AIFS"},
			{Name: "IFS"},
		},
		Reference: ReferenceConfig{
			Name: "ERA5",
			Retry: RetryConfig{
				Attempts:   3,
				Backoff:    200 * time.Millisecond,
				MaxBackoff: 5 * time.Second,
			},
		},
		Interpolation: string(interp.MethodBilinear),
		Workers:       1,
		RunTimeout:    30 * time.Minute,
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
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
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.Interpolation = getEnv("INTERP_METHOD", c.Interpolation)
	c.Reference.Path = getEnv("REFERENCE_PATH", c.Reference.Path)

	for len(c.Models) < 2 {
		c.Models = append(c.Models, ModelConfig{})
	}
	c.Models[0].Path = getEnv("MODEL_A_PATH", c.Models[0].Path)
	c.Models[0].Name = getEnv("MODEL_A_NAME", c.Models[0].Name)
	c.Models[1].Path = getEnv("MODEL_B_PATH", c.Models[1].Path)
	c.Models[1].Name = getEnv("MODEL_B_NAME", c.Models[1].Name)

	var err error
	if c.Workers, err = getEnvInt("WORKERS", c.Workers); err != nil {
		return err
	}
	if c.Reference.Retry.Attempts, err = getEnvInt("REFERENCE_RETRY_ATTEMPTS", c.Reference.Retry.Attempts); err != nil {
		return err
	}
	if c.Reference.Retry.Backoff, err = getEnvDuration("REFERENCE_RETRY_BACKOFF", c.Reference.Retry.Backoff); err != nil {
		return err
	}
	if c.Reference.Retry.MaxBackoff, err = getEnvDuration("REFERENCE_RETRY_MAX_BACKOFF", c.Reference.Retry.MaxBackoff); err != nil {
		return err
	}
	if c.Reference.TimeTolerance, err = getEnvDuration("REFERENCE_TIME_TOLERANCE", c.Reference.TimeTolerance); err != nil {
		return err
	}
	if c.RunTimeout, err = getEnvDuration("RUN_TIMEOUT", c.RunTimeout); err != nil {
		return err
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RUN_ON_START %q: %w", v, err)
		}
		c.RunOnStart = b
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Models) < 2 {
		return errors.New("at least two models are required")
	}
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model %d has no name", i+1)
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model name %q", m.Name)
		}
		seen[m.Name] = true
	}
	if _, err := interp.ParseMethod(c.Interpolation); err != nil {
		return fmt.Errorf("invalid INTERP_METHOD: %w", err)
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid WORKERS %d: must be at least 1", c.Workers)
	}
	if c.Reference.Retry.Attempts < 1 {
		return fmt.Errorf("invalid REFERENCE_RETRY_ATTEMPTS %d: must be at least 1", c.Reference.Retry.Attempts)
	}
	if c.Reference.Retry.Backoff < 0 {
		return errors.New("invalid REFERENCE_RETRY_BACKOFF: must not be negative")
	}
	if c.Reference.Retry.MaxBackoff < c.Reference.Retry.Backoff {
		return errors.New("invalid REFERENCE_RETRY_MAX_BACKOFF: must not be below REFERENCE_RETRY_BACKOFF")
	}
	if c.Reference.TimeTolerance < 0 {
		return errors.New("invalid REFERENCE_TIME_TOLERANCE: must not be negative")
	}
	if c.RunTimeout < 0 {
		return errors.New("invalid RUN_TIMEOUT: must not be negative")
	}
	if r := c.Region; r != nil && (r.North < r.South || r.North > 90 || r.South < -90) {
		return fmt.Errorf("invalid region %+v", *r)
	}
	return nil
}

// RequirePaths checks that every input file is configured.
func (c *Config) RequirePaths() error {
	for i, m := range c.Models {
		if m.Path == "" {
			env := ""
			switch i {
			case 0:
				env = " (MODEL_A_PATH)"
			case 1:
				env = " (MODEL_B_PATH)"
			}
			return fmt.Errorf("model %q has no path%s", m.Name, env)
		}
	}
	if c.Reference.Path == "" {
		return errors.New("reference path is required (REFERENCE_PATH)")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
