// Command qstation manages download jobs on a QNAP Download Station.
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qstation/qstation/internal/api"
	"github.com/qstation/qstation/internal/config"
	"github.com/qstation/qstation/internal/log"
	"github.com/qstation/qstation/internal/store"
)

var (
	configDir   string
	clientCache = api.NewCache()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "qstation",
		Short:         "Manage Download Station jobs on a QNAP NAS",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configDir, "config-dir", "", "settings directory (default: OS config dir)")
	flags.String("address", "", "NAS hostname or IP")
	flags.String("port", "", "NAS HTTP port (numeric, empty for scheme default)")
	flags.Bool("secure", false, "connect over https")
	flags.String("login", "", "Download Station user")
	flags.String("password", "", "Download Station password")
	flags.String("temp-dir", "", "incomplete-download folder on the NAS")
	flags.String("dest-dir", "", "completed-download folder on the NAS")
	flags.Bool("debug", false, "verbose request logging")

	viper.SetEnvPrefix("QSTATION")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, key := range []string{
		"address", "port", "secure", "login", "password", "temp-dir", "dest-dir", "debug",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		newTestCmd(),
		newListCmd(),
		newAddCmd(),
		newStartCmd(),
		newStopCmd(),
		newRemoveCmd(),
		newWatchCmd(),
		newSettingsCmd(),
	)
	return root
}

func settingsStore() *store.Store {
	dir := configDir
	if dir == "" {
		if base, err := os.UserConfigDir(); err == nil {
			dir = filepath.Join(base, "qstation")
		} else {
			dir = "."
		}
	}
	return store.New(dir)
}

// loadSettings layers flag/env overrides on top of the persisted settings.
func loadSettings() config.Settings {
	settings := settingsStore().Load()

	if v := viper.GetString("address"); v != "" {
		settings.Address = v
	}
	if v := viper.GetString("port"); v != "" {
		settings.Port = v
	}
	if v := viper.GetString("login"); v != "" {
		settings.Login = v
	}
	if v := viper.GetString("password"); v != "" {
		settings.Password = v
	}
	if v := viper.GetString("temp-dir"); v != "" {
		settings.TempDir = v
	}
	if v := viper.GetString("dest-dir"); v != "" {
		settings.DestDir = v
	}
	if viper.GetBool("secure") {
		settings.Secure = true
	}
	if viper.GetBool("debug") {
		settings.Debug = true
	}
	return settings
}

func newClient() (*api.Client, config.Settings, error) {
	settings := loadSettings()
	log.SetDebug(settings.Debug)

	client, err := clientCache.Get(settings)
	if err != nil {
		return nil, settings, err
	}
	return client, settings, nil
}
