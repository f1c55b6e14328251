package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mhpenta/docqueue/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var workCmd = &cobra.Command{
	Use:   "work [flags] -- command [args...]",
	Short: "Process jobs by running a command per job",
	Long: `Poll the configured queues and run the given command for every claimed
job. The payload is written to the command's stdin; DOCQUEUE_JOB_ID,
DOCQUEUE_QUEUE and DOCQUEUE_ATTEMPTS are set in its environment. Exit status 0
deletes the job, anything else releases it for another attempt or, after
--max-tries attempts, moves it to the failed-jobs archive.

The worker stops on SIGINT or SIGTERM after in-flight jobs finish.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		handler, err := worker.NewCommandHandler(args)
		if err != nil {
			return err
		}
		once, _ := cmd.Flags().GetBool("once")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withStores(ctx, func(s *stores) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			metrics, err := worker.NewMetrics(reg)
			if err != nil {
				return err
			}

			w := worker.New(s.client, s.archive, handler, cfg.WorkerConfig(),
				worker.WithLogger(logger),
				worker.WithMetrics(metrics),
			)

			if once {
				processed, err := w.RunOnce(ctx)
				if err != nil {
					return err
				}
				if !processed {
					cmd.Println("no job available")
				}
				return nil
			}

			if cfg.Metrics.Addr != "" {
				stopMetrics := serveMetrics(cfg.Metrics.Addr, reg)
				defer stopMetrics()
			}
			return w.Run(ctx)
		})
	},
}

func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func init() {
	f := workCmd.Flags()
	f.String("queues", "", "comma-separated queues to poll in order (default from config)")
	f.Int("concurrency", 0, "number of poll loops")
	f.Int("max-tries", 0, "archive a job after this many failed attempts (0 retries forever)")
	f.Duration("backoff", 0, "delay before a failed job is retried")
	f.Duration("timeout", 0, "maximum run time per job")
	f.Duration("poll-interval", 0, "delay after an empty poll")
	f.Duration("max-backoff", 0, "cap for the idle delay")
	f.Float64("poll-rate", 0, "maximum pops per second")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.Bool("once", false, "process a single job and exit")
	rootCmd.AddCommand(workCmd)
}
