package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qstation/qstation/internal/api"
	"github.com/qstation/qstation/internal/fetch"
)

func newAddCmd() *cobra.Command {
	var (
		savePath   string
		tempFolder string
		moveFolder string
	)

	cmd := &cobra.Command{
		Use:   "add <url-or-file>...",
		Short: "Add download jobs from URLs, magnet links or .torrent files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}

			opts := api.AddURLOptions{
				SavePath:   savePath,
				TempFolder: tempFolder,
				MoveFolder: moveFolder,
			}

			for _, arg := range args {
				if err := addOne(cmd, client, arg, opts); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&savePath, "save-path", "", "explicit save path on the NAS")
	cmd.Flags().StringVar(&tempFolder, "temp", "", "temp folder override")
	cmd.Flags().StringVar(&moveFolder, "move", "", "move-on-completion folder override")
	return cmd
}

func addOne(cmd *cobra.Command, client *api.Client, arg string, opts api.AddURLOptions) error {
	switch {
	case isLocalTorrent(arg):
		data, err := os.ReadFile(arg)
		if err != nil {
			return fmt.Errorf("read torrent file: %w", err)
		}
		return addTorrent(cmd, client, filepath.Base(arg), data)

	case !fetch.IsMagnet(arg) && fetch.IsTorrentURL(arg):
		data, name, err := fetch.Torrent(cmd.Context(), arg)
		if err != nil {
			return err
		}
		return addTorrent(cmd, client, name, data)

	default:
		if err := client.AddURL(cmd.Context(), arg, opts); err != nil {
			return err
		}
		fmt.Printf("added %s\n", arg)
		return nil
	}
}

func addTorrent(cmd *cobra.Command, client *api.Client, name string, data []byte) error {
	result, err := client.AddTorrent(cmd.Context(), name, data)
	if err != nil {
		return err
	}
	switch {
	case result.Added:
		fmt.Printf("added %s\n", name)
	case result.Duplicate:
		fmt.Printf("%s is already queued on the NAS\n", name)
	case result.Unsupported:
		return fmt.Errorf("this firmware exposes no torrent upload endpoint; add %s by URL instead", name)
	}
	return nil
}

func isLocalTorrent(arg string) bool {
	if !strings.HasSuffix(strings.ToLower(arg), ".torrent") {
		return false
	}
	_, err := os.Stat(arg)
	return err == nil
}
