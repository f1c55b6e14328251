package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mhpenta/docqueue"
	"github.com/spf13/cobra"
)

var errNoPayload = errors.New("a payload argument or --file is required")

var pushCmd = &cobra.Command{
	Use:   "push [payload]",
	Short: "Push a job onto a queue",
	Long: `Push a job onto a queue and print its ID.

The payload is opaque bytes. Pass it as an argument, or with --file read it
from a file ("-" reads stdin).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(cmd, args)
		if err != nil {
			return err
		}

		var opts []docqueue.PushOption
		if delay, _ := cmd.Flags().GetDuration("delay"); delay > 0 {
			opts = append(opts, docqueue.WithDelay(delay))
		}
		if at, _ := cmd.Flags().GetString("at"); at != "" {
			t, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			opts = append(opts, docqueue.WithAvailableAt(t))
		}

		return withStores(cmd.Context(), func(s *stores) error {
			id, err := s.client.Push(cmd.Context(), queueFlag(cmd), payload, opts...)
			if err != nil {
				return err
			}
			cmd.Println(id)
			return nil
		})
	},
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	file, _ := cmd.Flags().GetString("file")
	switch {
	case len(args) == 1 && file != "":
		return nil, errors.New("pass the payload as an argument or with --file, not both")
	case len(args) == 1:
		return []byte(args[0]), nil
	case file == "-":
		return io.ReadAll(cmd.InOrStdin())
	case file != "":
		return os.ReadFile(file)
	default:
		return nil, errNoPayload
	}
}

func init() {
	pushCmd.Flags().StringP("queue", "q", "", "queue name (default from config)")
	pushCmd.Flags().Duration("delay", 0, "delay before the job becomes claimable")
	pushCmd.Flags().String("at", "", "RFC3339 time from which the job is claimable")
	pushCmd.Flags().StringP("file", "f", "", `read the payload from a file ("-" for stdin)`)
	rootCmd.AddCommand(pushCmd)
}
