// Command syncmaster runs the SyncMaster API server and command-line client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/justestif/syncmaster/internal/config"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	v = config.New()

	rootCmd = &cobra.Command{
		Use:   "syncmaster",
		Short: "SyncMaster - pitch music to sync licensing briefs",
		Long: `syncmaster talks to a Supabase project for accounts, briefs, tracks and
applications. When Supabase cannot be reached every operation falls back to a
local store, so the tool keeps working offline.

Run "syncmaster serve" for the JSON API, or use the subcommands directly.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/syncmaster.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().String("fallback", "", "fallback store backend (memory, file, sqlite, redis)")

	// Bind flags to viper
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("fallback.backend", rootCmd.PersistentFlags().Lookup("fallback"))
}

func initConfig() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if err := config.ReadFile(v, cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
