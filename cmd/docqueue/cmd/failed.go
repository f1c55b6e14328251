package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Manage the failed-jobs archive",
	Long:  `Inspect, retry and prune jobs that were given up on after exhausting their attempts.`,
}

var failedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List failed jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(s *stores) error {
			failed, err := s.archive.All(cmd.Context())
			if err != nil {
				return err
			}
			if len(failed) == 0 {
				cmd.Println("No failed jobs.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tCONNECTION\tQUEUE\tFAILED AT\tEXCEPTION")
			for _, f := range failed {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					f.ID,
					f.Connection,
					f.Queue,
					f.FailedAt.UTC().Format(time.RFC3339),
					truncate(f.Exception, 50),
				)
			}
			return w.Flush()
		})
	},
}

var failedShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a failed job with its payload and full exception",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(s *stores) error {
			f, ok, err := s.archive.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("failed job %s not found", args[0])
			}
			cmd.Printf("ID:         %s\n", f.ID)
			cmd.Printf("Connection: %s\n", f.Connection)
			cmd.Printf("Queue:      %s\n", f.Queue)
			cmd.Printf("Failed at:  %s\n", f.FailedAt.UTC().Format(time.RFC3339))
			cmd.Printf("Exception:  %s\n", f.Exception)
			cmd.Printf("Payload:    %s\n", f.Payload)
			return nil
		})
	},
}

var failedForgetCmd = &cobra.Command{
	Use:   "forget [id]",
	Short: "Delete a failed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(s *stores) error {
			removed, err := s.archive.Forget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				cmd.Printf("failed job %s not found\n", args[0])
				return nil
			}
			cmd.Printf("forgot failed job %s\n", args[0])
			return nil
		})
	},
}

var failedFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Delete failed jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		return withStores(cmd.Context(), func(s *stores) error {
			n, err := s.archive.Flush(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			cmd.Printf("flushed %d failed jobs\n", n)
			return nil
		})
	},
}

var failedRetryCmd = &cobra.Command{
	Use:   "retry [id...]",
	Short: "Push failed jobs back onto their queues",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(s *stores) error {
			for _, id := range args {
				jobID, err := s.archive.Retry(cmd.Context(), s.client, id)
				if err != nil {
					return fmt.Errorf("retry %s: %w", id, err)
				}
				cmd.Printf("requeued %s as %s\n", id, jobID)
			}
			return nil
		})
	},
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	failedFlushCmd.Flags().Duration("older-than", 0, "only delete failures older than this (default all)")

	failedCmd.AddCommand(failedListCmd, failedShowCmd, failedForgetCmd, failedFlushCmd, failedRetryCmd)
	rootCmd.AddCommand(failedCmd)
}
