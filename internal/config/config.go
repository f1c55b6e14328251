// Package config loads docqueue settings from flags, environment variables
// (prefixed DOCQUEUE_) and an optional config file through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mhpenta/docqueue"
	"github.com/mhpenta/docqueue/worker"
	"github.com/spf13/viper"
)

const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"

	EnvPrefix = "DOCQUEUE"
)

var (
	ErrUnknownDriver = errors.New("config: unknown driver")
	ErrMissingMongo  = errors.New("config: mongo.uri and mongo.database are required")
	ErrMissingSQLite = errors.New("config: sqlite.dsn is required")
)

// Config holds all configuration values for the CLI.
type Config struct {
	Driver string `mapstructure:"driver"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	SQLite struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"sqlite"`

	Queue struct {
		Connection string `mapstructure:"connection"`
		Collection string `mapstructure:"collection"`
		Name       string `mapstructure:"name"`
		// Expire is the reservation lease in seconds. Negative disables the sweep.
		Expire int `mapstructure:"expire"`
	} `mapstructure:"queue"`

	Failed struct {
		Collection string `mapstructure:"collection"`
	} `mapstructure:"failed"`

	Worker struct {
		Queues       []string      `mapstructure:"queues"`
		Concurrency  int           `mapstructure:"concurrency"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
		MaxBackoff   time.Duration `mapstructure:"max_backoff"`
		MaxTries     int           `mapstructure:"max_tries"`
		Backoff      time.Duration `mapstructure:"backoff"`
		Timeout      time.Duration `mapstructure:"timeout"`
		PollRate     float64       `mapstructure:"poll_rate"`
	} `mapstructure:"worker"`

	Scheduler struct {
		// RedisAddr shares key state between processes. Empty keeps it in memory.
		RedisAddr string `mapstructure:"redis_addr"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"scheduler"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	def := docqueue.DefaultConfig()

	v.SetDefault("driver", DriverMongo)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "docqueue")
	v.SetDefault("sqlite.dsn", "file:docqueue.db?_txlock=immediate")

	v.SetDefault("queue.connection", def.Connection)
	v.SetDefault("queue.collection", def.Collection)
	v.SetDefault("queue.name", def.Queue)
	v.SetDefault("queue.expire", int(def.Lease/time.Second))
	v.SetDefault("failed.collection", "failed_jobs")

	v.SetDefault("worker.queues", []string{})
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.max_backoff", 30*time.Second)
	v.SetDefault("worker.max_tries", 0)
	v.SetDefault("worker.backoff", time.Duration(0))
	v.SetDefault("worker.timeout", time.Duration(0))
	v.SetDefault("worker.poll_rate", 0.0)

	v.SetDefault("scheduler.redis_addr", "")
	v.SetDefault("scheduler.key_prefix", "docqueue:schedule:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
}

// BindEnv makes v read DOCQUEUE_* variables, e.g. DOCQUEUE_QUEUE_NAME for
// queue.name.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return ErrMissingMongo
		}
	case DriverSQLite:
		if c.SQLite.DSN == "" {
			return ErrMissingSQLite
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	if strings.TrimSpace(c.Queue.Collection) == "" {
		return docqueue.ErrEmptyCollection
	}
	if strings.TrimSpace(c.Failed.Collection) == "" {
		return fmt.Errorf("config: failed.collection: %w", docqueue.ErrEmptyCollection)
	}
	return nil
}

// QueueConfig returns the docqueue.Config described by c.
func (c *Config) QueueConfig() docqueue.Config {
	return docqueue.Config{
		Connection: c.Queue.Connection,
		Collection: c.Queue.Collection,
		Queue:      c.Queue.Name,
		Lease:      time.Duration(c.Queue.Expire) * time.Second,
	}
}

// WorkerConfig returns the worker.Config described by c.
func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{
		Connection:   c.Queue.Connection,
		Queues:       c.Worker.Queues,
		Concurrency:  c.Worker.Concurrency,
		PollInterval: c.Worker.PollInterval,
		MaxBackoff:   c.Worker.MaxBackoff,
		MaxTries:     c.Worker.MaxTries,
		Backoff:      c.Worker.Backoff,
		Timeout:      c.Worker.Timeout,
		PollRate:     c.Worker.PollRate,
	}
}
