package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile   string
	outputFormat string
	remoteURL    string
	cacheBackend string
	cachePath    string
	logLevel     string
	offline      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cartsync",
		Short: "Cart and bookmark synchronization engine",
		Long: "Drive a cartsync engine from the command line (cart, bookmarks, login, offline queue)\n" +
			"or run the reference backend store with `cartsync serve`.",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to config file (YAML or JSON)")
	flags.StringVarP(&outputFormat, "output", "o", "table", "Output format: table, wide, json, yaml")
	flags.StringVar(&remoteURL, "remote", "", "Remote backend base URL")
	flags.StringVar(&cacheBackend, "cache-backend", "", "Local cache backend: memory, sqlite, redis, tiered")
	flags.StringVar(&cachePath, "cache-path", "", "SQLite local cache file")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&offline, "offline", false, "Start with the network marked unreachable")

	rootCmd.AddCommand(
		serveCmd(),
		cartCmd(),
		bookmarkCmd(),
		snapshotCmd(),
		sessionCmd(),
		loginCmd(),
		logoutCmd(),
		syncCmd(),
		queueCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
