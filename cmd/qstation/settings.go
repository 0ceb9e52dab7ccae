package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qstation/qstation/internal/config"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage persisted connection settings",
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd(), newSettingsResetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings()
			fmt.Printf("address:   %s\n", s.Address)
			fmt.Printf("port:      %s\n", s.Port)
			fmt.Printf("secure:    %t\n", s.Secure)
			fmt.Printf("login:     %s\n", s.Login)
			fmt.Printf("temp dir:  %s\n", s.TempDir)
			fmt.Printf("dest dir:  %s\n", s.DestDir)
			fmt.Printf("debug:     %t\n", s.Debug)
			if err := s.Validate(); err != nil {
				fmt.Printf("warning:   %v\n", err)
			}
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Persist the connection flags given on the command line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			return settingsStore().Update(func(s *config.Settings) {
				applyString(flags, "address", &s.Address)
				applyString(flags, "port", &s.Port)
				applyString(flags, "login", &s.Login)
				applyString(flags, "password", &s.Password)
				applyString(flags, "temp-dir", &s.TempDir)
				applyString(flags, "dest-dir", &s.DestDir)
				applyBool(flags, "secure", &s.Secure)
				applyBool(flags, "debug", &s.Debug)
			})
		},
	}
}

func newSettingsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := settingsStore().Reset(); err != nil {
				return err
			}
			fmt.Println("settings reset to defaults")
			return nil
		},
	}
}

type flagSet interface {
	Changed(name string) bool
	GetString(name string) (string, error)
	GetBool(name string) (bool, error)
}

func applyString(flags flagSet, name string, dst *string) {
	if flags.Changed(name) {
		if v, err := flags.GetString(name); err == nil {
			*dst = v
		}
	}
}

func applyBool(flags flagSet, name string, dst *bool) {
	if flags.Changed(name) {
		if v, err := flags.GetBool(name); err == nil {
			*dst = v
		}
	}
}
