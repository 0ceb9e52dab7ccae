package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qstation/qstation/internal/poll"
)

func newWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll task status until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			monitor := poll.New(client, poll.WithInterval(interval))
			monitor.Run(ctx)
			fmt.Println("watch stopped")
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 6*time.Second, "refresh interval")
	return cmd
}
