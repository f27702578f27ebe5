// Package config loads process configuration from an optional YAML file
// and LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/currency"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
	BackendMemory   = "memory"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type BigQueryConfig struct {
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

type CurrencyConfig struct {
	Settlement string            `mapstructure:"settlement"`
	Lenient    bool              `mapstructure:"lenient"`
	Rates      map[string]string `mapstructure:"rates"`
}

type QueueConfig struct {
	Buffer     int `mapstructure:"buffer"`
	Workers    int `mapstructure:"workers"`
	MaxRetries int `mapstructure:"max_retries"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Currency CurrencyConfig `mapstructure:"currency"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.path", "ledger.db")
	v.SetDefault("bigquery.project", "")
	v.SetDefault("bigquery.dataset", "finance")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("currency.settlement", currency.Settlement)
	v.SetDefault("currency.lenient", false)
	v.SetDefault("currency.rates", currency.DefaultRates)
	v.SetDefault("queue.buffer", 100)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.max_retries", 3)
}

// Load reads configuration from path. An empty path looks for config.yaml
// in the working directory and tolerates its absence.
// Environment overrides use the LEDGER prefix, e.g. LEDGER_SERVER_PORT=9000.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects configurations no binary can start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendMemory:
	case BackendBigQuery:
		if c.BigQuery.Project == "" {
			return fmt.Errorf("config: bigquery.project is required for the bigquery backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("config: queue.workers must be at least 1")
	}
	// Rates are quoted against EUR and stored balances are EUR amounts.
	if code, err := currency.Normalize(c.Currency.Settlement); err != nil || code != currency.Settlement {
		return fmt.Errorf("config: currency.settlement must be %s, got %q", currency.Settlement, c.Currency.Settlement)
	}
	return nil
}

// Converter builds the static converter described by the currency section.
func (c *Config) Converter() (*currency.StaticConverter, error) {
	conv, err := currency.NewStaticConverter(c.Currency.Rates)
	if err != nil {
		return nil, fmt.Errorf("config: currency rates: %w", err)
	}
	conv.Lenient = c.Currency.Lenient
	return conv, nil
}
