package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"steamscraper/pkg/config"
	"steamscraper/pkg/logger"
	"steamscraper/pkg/storage"
)

var (
	// Status command flags
	statusSource string
	statusOutput string
	statusDate   string
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress for a scrape location",
	Long: `Inspect the durable state of a scrape location: how many apps have
been stored, and the summary of the last run if one finished or was
interrupted there.`,
	Example: `  # Today's SteamSpy progress under the default output directory
  steamscraper status

  # A specific day and source
  steamscraper status --source rawg --date 2026-08-20`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusSource, "source", "s", "steamspy", "catalog source (steamspy, rawg, igdb)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "", "base output directory (default: Data)")
	statusCmd.Flags().StringVar(&statusDate, "date", "", "location date, YYYY-MM-DD (default: today)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := statusOutput
	if base == "" {
		base = config.DefaultConfig().Output.BaseDirectory
	}
	date := statusDate
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	location := filepath.Join(base, date, statusSource)

	store := storage.NewFileStore(location, logger.NewNop())
	defer store.Close()

	completed, err := store.LoadCompletedSet()
	if err != nil {
		return err
	}
	meta, err := store.ReadRunMetadata()
	if err != nil {
		return err
	}

	if len(completed) == 0 && meta == nil {
		fmt.Printf("No scrape data at %s\n", location)
		return nil
	}

	fmt.Printf("Location:  %s\n", location)
	fmt.Printf("Completed: %d apps\n", len(completed))

	if meta != nil {
		fmt.Printf("Last run:  %s, %d/%d pages, %d apps scraped, took %s\n",
			meta.StartTime.Format(time.RFC3339),
			meta.PagesFetched, meta.PagesRequested,
			meta.AppsScraped,
			meta.EndTime.Sub(meta.StartTime).Round(time.Second))
	} else {
		fmt.Println("Last run:  interrupted before a summary could be written")
	}
	return nil
}
