package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Show the number of jobs and reservations in a queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(s *stores) error {
			size, err := s.client.Size(cmd.Context(), queueFlag(cmd))
			if err != nil {
				return err
			}
			reserved, err := s.client.CountReserved(cmd.Context(), queueFlag(cmd))
			if err != nil {
				return err
			}
			cmd.Printf("jobs: %d\nreserved: %d\n", size, reserved)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in a queue, oldest available first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		return withStores(cmd.Context(), func(s *stores) error {
			jobs, err := s.client.ListJobs(cmd.Context(), queueFlag(cmd), limit, offset)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				cmd.Println("No jobs found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tQUEUE\tATTEMPTS\tRESERVED\tAVAILABLE AT")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
					j.ID(),
					j.Queue(),
					j.Attempts(),
					j.IsReserved(),
					j.AvailableAt().UTC().Format(time.RFC3339),
				)
			}
			return w.Flush()
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every job in a queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(s *stores) error {
			n, err := s.client.Clear(cmd.Context(), queueFlag(cmd))
			if err != nil {
				return err
			}
			cmd.Printf("cleared %d jobs\n", n)
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Release reservations whose lease has expired",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(s *stores) error {
			n, err := s.client.ReleaseExpired(cmd.Context(), queueFlag(cmd))
			if err != nil {
				return err
			}
			cmd.Printf("released %d expired reservations\n", n)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [job_id]",
	Short: "Delete a job by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(s *stores) error {
			n, err := s.client.Delete(cmd.Context(), queueFlag(cmd), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("deleted %d jobs\n", n)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{sizeCmd, listCmd, clearCmd, sweepCmd, deleteCmd} {
		c.Flags().StringP("queue", "q", "", "queue name (default from config)")
		rootCmd.AddCommand(c)
	}
	listCmd.Flags().Int("limit", 20, "maximum number of jobs to show")
	listCmd.Flags().Int("offset", 0, "number of jobs to skip")
}
