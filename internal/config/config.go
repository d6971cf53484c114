// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"cozy/internal/site"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "COZY"

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Home            string `yaml:"home"`
	SiteName        string `yaml:"siteName"        split_words:"true"`
	DefaultCapacity int    `yaml:"defaultCapacity" split_words:"true"`
	MaxCapacity     int    `yaml:"maxCapacity"     split_words:"true"`
	Storage         string `yaml:"storage"`
	DatabaseURL     string `yaml:"databaseUrl"     envconfig:"DATABASE_URL"`
	BindAddr        string `yaml:"bindAddr"        split_words:"true"`
	Port            uint   `yaml:"port"`
	Debug           bool   `yaml:"debug"`
	// LogFile sends logs to <home>/logs/cozy.log instead of stderr.
	LogFile      bool    `yaml:"logFile"      split_words:"true"`
	OtelEndpoint string  `yaml:"otelEndpoint" envconfig:"OTEL_ENDPOINT"`
	RateLimit    float64 `yaml:"rateLimit"    split_words:"true"`
	RateBurst    int     `yaml:"rateBurst"    split_words:"true"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	home := ".cozy"
	if dir, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(dir, ".cozy")
	}
	return &Config{
		Home:            home,
		SiteName:        site.DefaultName,
		DefaultCapacity: site.DefaultCapacity,
		MaxCapacity:     site.MaxCapacity,
		Storage:         StorageFile,
		BindAddr:        "127.0.0.1",
		Port:            8080,
		RateLimit:       20,
		RateBurst:       40,
	}
}

// Load builds the configuration from defaults, then configFile when given,
// then COZY_* environment variables.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StorageFile:
		if c.Home == "" {
			return fmt.Errorf("%w: home is required for file storage", ErrInvalidConfig)
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: databaseUrl is required for postgres storage", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage %q (must be %q or %q)", ErrInvalidConfig, c.Storage, StorageFile, StoragePostgres)
	}
	if c.MaxCapacity < 1 || c.MaxCapacity > site.MaxCapacity {
		return fmt.Errorf("%w: maxCapacity %d out of range 1..%d", ErrInvalidConfig, c.MaxCapacity, site.MaxCapacity)
	}
	if c.DefaultCapacity < 0 {
		return fmt.Errorf("%w: defaultCapacity %d is negative", ErrInvalidConfig, c.DefaultCapacity)
	}
	if c.DefaultCapacity > c.MaxCapacity {
		return fmt.Errorf("%w: defaultCapacity %d exceeds maxCapacity %d", ErrInvalidConfig, c.DefaultCapacity, c.MaxCapacity)
	}
	if c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("%w: rate limit and burst must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ListenAddr is the host:port the HTTP adapter binds to.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + strconv.FormatUint(uint64(c.Port), 10)
}
