package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore: GHCONF_RETRY__MAX_RETRIES sets retry.max_retries.
const EnvPrefix = "GHCONF_"

// DefaultConfigPath is the configuration file location shown to users
const DefaultConfigPath = "~/.ghconf/config.yaml"

// Config represents the ghconf configuration
type Config struct {
	Organization string       `yaml:"organization" koanf:"organization"`
	GitHub       GitHubConfig `yaml:"github" koanf:"github"`

	// Modules are glob patterns of desired-state module files
	Modules     []string    `yaml:"modules" koanf:"modules"`
	Concurrency int         `yaml:"concurrency" koanf:"concurrency"`
	Retry       RetryConfig `yaml:"retry" koanf:"retry"`
	Rate        RateConfig  `yaml:"rate" koanf:"rate"`
}

// GitHubConfig represents GitHub API access
type GitHubConfig struct {
	Token string `yaml:"token,omitempty" koanf:"token"`

	// BaseURL targets a GitHub Enterprise Server instead of github.com
	BaseURL string `yaml:"base_url,omitempty" koanf:"base_url"`
}

// RetryConfig bounds the retries of failed changes
type RetryConfig struct {
	MaxRetries       uint64        `yaml:"max_retries" koanf:"max_retries"`
	InitialDelay     time.Duration `yaml:"initial_delay" koanf:"initial_delay"`
	MaxDelay         time.Duration `yaml:"max_delay" koanf:"max_delay"`
	MaxRateLimitWait time.Duration `yaml:"max_rate_limit_wait" koanf:"max_rate_limit_wait"`
}

// RateConfig throttles API usage
type RateConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" koanf:"requests_per_second"`
	Burst             int     `yaml:"burst" koanf:"burst"`

	// MinRemaining is the remaining budget below which calls slow down
	MinRemaining int `yaml:"min_remaining" koanf:"min_remaining"`

	// WritesPerSecond throttles mutating calls on top of the shared budget
	WritesPerSecond float64 `yaml:"writes_per_second" koanf:"writes_per_second"`
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() *Config {
	return &Config{
		Modules:     []string{"modules/**/*.yaml", "modules/**/*.yml", "modules/**/*.toml"},
		Concurrency: 8,
		Retry: RetryConfig{
			MaxRetries:       3,
			InitialDelay:     time.Second,
			MaxDelay:         30 * time.Second,
			MaxRateLimitWait: 5 * time.Minute,
		},
		Rate: RateConfig{
			RequestsPerSecond: 10,
			Burst:             10,
			MinRemaining:      100,
			WritesPerSecond:   5,
		},
	}
}

// LoadConfig loads configuration from the default location
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadConfigFromPath(configPath)
}

// LoadConfigFromPath loads defaults, then the YAML file at path if it exists,
// then environment overrides
func LoadConfigFromPath(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to access config file %s: %w", path, err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		if err := k.Set("github.token", token); err != nil {
			return nil, fmt.Errorf("failed to load GITHUB_TOKEN: %w", err)
		}
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// envKey maps GHCONF_GITHUB__BASE_URL to github.base_url. Lists are comma separated.
func envKey(key, value string) (string, interface{}) {
	name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	name = strings.ReplaceAll(name, "__", ".")

	if name == "modules" {
		var globs []string
		for _, g := range strings.Split(value, ",") {
			if g = strings.TrimSpace(g); g != "" {
				globs = append(globs, g)
			}
		}
		return name, globs
	}
	return name, value
}

// SaveConfig saves configuration to the default location
func (c *Config) SaveConfig() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	return c.SaveConfigToPath(configPath)
}

// SaveConfigToPath saves configuration to a specific path
func (c *Config) SaveConfigToPath(path string) error {
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// the file may hold a token
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(homeDir, ".ghconf", "config.yaml"), nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Organization) == "" {
		return fmt.Errorf("organization is required")
	}

	if len(c.Modules) == 0 {
		return fmt.Errorf("at least one module glob is required")
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}

	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 || c.Retry.MaxRateLimitWait < 0 {
		return fmt.Errorf("retry delays must be non-negative")
	}

	if c.Rate.RequestsPerSecond < 0 || c.Rate.WritesPerSecond < 0 {
		return fmt.Errorf("rate limits must be non-negative")
	}

	return nil
}
