// Package cmd provides the CLI commands for bluquist.
package cmd

import (
	"fmt"
	"os"

	"github.com/bluquist/bluquist/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bluquist",
	Short: "bluquist - session authentication backend",
	Long: `bluquist serves user, team and session management over HTTP.

Sessions live in Redis and are shared by every instance; users and teams
live in PostgreSQL or SQLite.

Configuration:
  Config is loaded from bluquist.yaml in the current directory,
  $HOME/.bluquist/, or /etc/bluquist/.

  Environment variables override config values with the BLUQUIST_ prefix.
  Example: BLUQUIST_SERVER_ADDR=:9090

Commands:
  serve       Start the HTTP API
  seed        Create the test accounts
  assertion   Mint a service assertion for /user/login/service
  loadtest    Measure session store throughput
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./bluquist.yaml)")
}

func loadConfig() (*config.Config, string, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", err
	}
	return cfg, loader.ConfigFileUsed(), nil
}
