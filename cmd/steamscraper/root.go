package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version information, set at build time.
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "steamscraper",
	Short: "A resumable scraper for game catalog APIs",
	Long: `steamscraper walks a game catalog API page by page, fetches the full
record for every app it discovers, and appends the records to a JSONL
dataset on disk.

Progress is durable: every stored record is tracked in a completed log,
so an interrupted run can be restarted and picks up exactly where it
left off without refetching or duplicating anything. Requests are rate
limited and retried with exponential backoff.

Supported sources:
  steamspy  SteamSpy (https://steamspy.com), no API key needed
  rawg      RAWG (https://rawg.io), requires RAWG_API_KEY
  igdb      IGDB (https://igdb.com), requires IGDB_CLIENT_ID and
            IGDB_CLIENT_SECRET (Twitch developer credentials)`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .steamscraper.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")

	rootCmd.SetVersionTemplate(`steamscraper {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
