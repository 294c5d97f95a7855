// Package config loads the service configuration: built-in defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

var (
	ErrMissingSecret      = errors.New("config: payment secret is required")
	ErrMissingDatabaseURL = errors.New("config: database url is required for the postgres driver")
	ErrUnknownDriver      = errors.New("config: unknown store driver")
	ErrInvalid            = errors.New("config: invalid value")
)

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	HTTP      HTTPConfig      `yaml:"http"`
	Payment   PaymentConfig   `yaml:"payment"`
	Store     StoreConfig     `yaml:"store"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Log       LogConfig       `yaml:"log"`
	Inventory InventoryConfig `yaml:"inventory"`
}

type ServiceConfig struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PaymentConfig struct {
	// Secret is the key the gateway signs callbacks with.
	Secret string `yaml:"secret"`
}

type StoreConfig struct {
	Driver      string        `yaml:"driver"`
	DatabaseURL string        `yaml:"database_url"`
	Timeout     time.Duration `yaml:"timeout"`
	Migrate     bool          `yaml:"migrate"`
}

type LedgerConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type KafkaConfig struct {
	// Brokers is a comma separated list; empty disables the relay.
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type InventoryConfig struct {
	// Seed sets product stock at startup.
	Seed map[string]int `yaml:"seed"`
}

func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "minishop", Env: "dev"},
		HTTP:    HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Store: StoreConfig{
			Driver:  DriverMemory,
			Timeout: 3 * time.Second,
			Migrate: true,
		},
		Ledger: LedgerConfig{MaxAttempts: 2},
		Kafka:  KafkaConfig{Topic: "storefront.orders"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load parses args for --config, falling back to CONFIG_FILE, and returns the
// merged and validated configuration.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("minishop", pflag.ContinueOnError)
	path := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: flags: %w", err)
	}
	if *path == "" {
		*path = os.Getenv("CONFIG_FILE")
	}

	cfg := Default()
	if *path != "" {
		if err := loadFile(*path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	getenvDefault := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}

	cfg.Service.Name = getenvDefault("SERVICE_NAME", cfg.Service.Name)
	cfg.Service.Env = getenvDefault("ENV", cfg.Service.Env)
	cfg.HTTP.Addr = getenvDefault("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Payment.Secret = getenvDefault("PAYMENT_SECRET", cfg.Payment.Secret)
	cfg.Store.Driver = getenvDefault("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DatabaseURL = getenvDefault("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Kafka.Brokers = getenvDefault("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = getenvDefault("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getenvDefault("LOG_FILE", cfg.Log.File)

	var err error
	if cfg.HTTP.ShutdownTimeout, err = durationEnv(lookup, "HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout); err != nil {
		return err
	}
	if cfg.Store.Timeout, err = durationEnv(lookup, "STORE_TIMEOUT", cfg.Store.Timeout); err != nil {
		return err
	}
	if v, ok := lookup("STORE_MIGRATE"); ok && v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return fmt.Errorf("%w: STORE_MIGRATE=%q", ErrInvalid, v)
		}
		cfg.Store.Migrate = b
	}
	if v, ok := lookup("LEDGER_MAX_ATTEMPTS"); ok && v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return fmt.Errorf("%w: LEDGER_MAX_ATTEMPTS=%q", ErrInvalid, v)
		}
		cfg.Ledger.MaxAttempts = n
	}
	return nil
}

func durationEnv(lookup lookupFunc, key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	return d, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Payment.Secret) == "" {
		return ErrMissingSecret
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Store.Driver)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("%w: store timeout must be positive", ErrInvalid)
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalid)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("%w: ledger max attempts must be at least 1", ErrInvalid)
	}
	for product, n := range c.Inventory.Seed {
		if n < 0 {
			return fmt.Errorf("%w: seed for %s is negative", ErrInvalid, product)
		}
	}
	return nil
}
