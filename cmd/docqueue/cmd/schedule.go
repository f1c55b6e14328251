package cmd

import (
	"errors"
	"time"

	"github.com/mhpenta/docqueue/scheduler"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var errMinGapNeedsRedis = errors.New("--min-gap needs shared key state: set --redis-addr")

var scheduleCmd = &cobra.Command{
	Use:   "schedule [payload]",
	Short: "Push a job spaced by a per-key policy",
	Long: `Push a job whose availability is computed from a policy for --key: a
minimum gap since the key's previous run, an optional cron expression and
random jitter. --min-gap compares against the key's previous run, which is only
known across invocations through Redis, so it requires --redis-addr (or
scheduler.redis_addr).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(cmd, args)
		if err != nil {
			return err
		}

		key, _ := cmd.Flags().GetString("key")
		minGap, _ := cmd.Flags().GetDuration("min-gap")
		jitter, _ := cmd.Flags().GetDuration("jitter")
		expr, _ := cmd.Flags().GetString("cron")

		if minGap > 0 && cfg.Scheduler.RedisAddr == "" {
			return errMinGapNeedsRedis
		}

		var store scheduler.KeyStateStore = scheduler.NewMemoryStore()
		if cfg.Scheduler.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Scheduler.RedisAddr})
			defer rdb.Close()
			store = scheduler.NewRedisStore(rdb, scheduler.WithKeyPrefix(cfg.Scheduler.KeyPrefix))
		}

		return withStores(cmd.Context(), func(s *stores) error {
			sched, err := scheduler.New(s.client, store)
			if err != nil {
				return err
			}

			id, runAt, err := sched.Push(cmd.Context(), scheduler.PushRequest{
				QueueName: queueFlag(cmd),
				JobKey:    key,
				Payload:   payload,
				Policy: scheduler.Policy{
					MinGap:    minGap,
					Schedule:  expr,
					MaxJitter: jitter,
				},
			})
			if err != nil {
				return err
			}
			cmd.Printf("%s\t%s\n", id, runAt.Format(time.RFC3339))
			return nil
		})
	},
}

func init() {
	scheduleCmd.Flags().StringP("queue", "q", "", "queue name (default from config)")
	scheduleCmd.Flags().String("key", "", "scheduling key the policy applies to")
	scheduleCmd.Flags().Duration("min-gap", 0, "minimum time between runs of the same key")
	scheduleCmd.Flags().Duration("jitter", 0, "maximum random delay added to the run time")
	scheduleCmd.Flags().String("cron", "", "five-field cron expression run times are aligned to")
	scheduleCmd.Flags().StringP("file", "f", "", `read the payload from a file ("-" for stdin)`)
	scheduleCmd.Flags().String("redis-addr", "", "Redis address for shared key state")
	_ = scheduleCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(scheduleCmd)
}
