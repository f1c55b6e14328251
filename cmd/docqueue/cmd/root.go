package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mhpenta/docqueue/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docqueue",
	Short: "docqueue manages job queues stored in a document database",
	Long: `docqueue is the command-line interface for queues kept in MongoDB or SQLite.

Jobs are documents in a single collection. Workers claim them with an atomic
find-and-modify, and a claim that is not settled within the lease is handed to
the next worker. Jobs that exhaust their attempts are archived in a separate
failed-jobs collection.

Common workflows:

  Push a job:
    docqueue push '{"user":42}' --queue emails

  Run a worker that pipes each payload to a program:
    docqueue work --queues emails --max-tries 3 -- ./send-email

  Inspect and retry failures:
    docqueue failed list
    docqueue failed retry <id>

Configuration:
  Settings come from flags, DOCQUEUE_* environment variables or a YAML config
  file, e.g. DOCQUEUE_DRIVER=sqlite DOCQUEUE_SQLITE_DSN=queue.db.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// cfg and logger are populated before any subcommand runs.
var (
	cfg    *config.Config
	logger *slog.Logger
)

// flagKeys maps persistent and local flag names to viper keys.
var flagKeys = map[string]string{
	"driver":         "driver",
	"mongo-uri":      "mongo.uri",
	"mongo-database": "mongo.database",
	"sqlite-dsn":     "sqlite.dsn",
	"connection":     "queue.connection",
	"collection":     "queue.collection",
	"expire":         "queue.expire",
	"log-level":      "log.level",
	"log-format":     "log.format",

	"concurrency":   "worker.concurrency",
	"queues":        "worker.queues",
	"max-tries":     "worker.max_tries",
	"backoff":       "worker.backoff",
	"timeout":       "worker.timeout",
	"poll-interval": "worker.poll_interval",
	"max-backoff":   "worker.max_backoff",
	"poll-rate":     "worker.poll_rate",
	"metrics-addr":  "metrics.addr",
	"redis-addr":    "scheduler.redis_addr",
}

// Execute runs the root command with output on stdout.
func Execute() error {
	rootCmd.SetOut(os.Stdout)
	return rootCmd.Execute()
}

func init() {
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	pf.String("driver", "", "store driver: mongo or sqlite")
	pf.String("mongo-uri", "", "MongoDB connection URI")
	pf.String("mongo-database", "", "MongoDB database name")
	pf.String("sqlite-dsn", "", "SQLite data source name")
	pf.String("connection", "", "connection name recorded on failed jobs")
	pf.String("collection", "", "job collection name")
	pf.Int("expire", 0, "reservation lease in seconds (negative disables the sweep)")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: text or json")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = loaded

	logger, err = newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	return err
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// queueFlag reads the --queue flag shared by most subcommands; empty means
// the configured default queue.
func queueFlag(cmd *cobra.Command) string {
	q, _ := cmd.Flags().GetString("queue")
	return q
}
