package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qstation/qstation/internal/api"
)

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Probe NAS connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			if client.TestConnection(cmd.Context()) {
				fmt.Println("connection OK")
				return nil
			}
			return fmt.Errorf("could not reach %s", client.BaseURL())
		},
	}
}

func newListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List download jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}

			result, err := client.QueryTasks(cmd.Context(), api.QueryParams{Status: status})
			if err != nil {
				return err
			}
			if len(result.Tasks) == 0 {
				fmt.Println("no download jobs")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATUS\tPROGRESS\tSIZE\tDOWN\tUP\tHASH")
			for _, t := range result.Tasks {
				fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\t%s\t%s\n",
					t.Name, t.Status, t.Progress,
					formatSize(t.SizeBytes),
					formatRate(t.DownSpeedBps), formatRate(t.UpSpeedBps),
					shortHash(t.Hash))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by vendor status (default all)")
	return cmd
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <hash>...",
		Short: "Resume download jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			for _, hash := range args {
				if err := client.StartTask(cmd.Context(), hash); err != nil {
					return err
				}
				fmt.Printf("started %s\n", hash)
			}
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <hash>...",
		Short: "Pause download jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			for _, hash := range args {
				if err := client.StopTask(cmd.Context(), hash); err != nil {
					return err
				}
				fmt.Printf("stopped %s\n", hash)
			}
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	var clean bool

	cmd := &cobra.Command{
		Use:   "remove <hash>...",
		Short: "Remove download jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			opts := api.RemoveTaskOptions{}
			if cmd.Flags().Changed("clean") {
				opts.Clean = &clean
			}
			for _, hash := range args {
				if err := client.RemoveTask(cmd.Context(), hash, opts); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", hash)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clean, "clean", false, "also delete downloaded data")
	return cmd
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
