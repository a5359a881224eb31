package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"steamscraper/pkg/config"
	"steamscraper/pkg/igdb"
	"steamscraper/pkg/logger"
	"steamscraper/pkg/metrics"
	"steamscraper/pkg/rawg"
	"steamscraper/pkg/scraper"
	"steamscraper/pkg/steamspy"
	"steamscraper/pkg/storage"
)

var (
	// Scrape command flags
	sourceName     string
	pages          int
	pageDelay      time.Duration
	itemDelay      time.Duration
	concurrent     int
	maxAttempts    int
	requestTimeout time.Duration
	outputDir      string
)

// catalogSource is a scraper source that holds network resources.
type catalogSource interface {
	scraper.Source
	Close()
}

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape the catalog into a JSONL dataset",
	Long: `Walk the catalog's listing pages, fetch every discovered app's full
record, and append the records to data.jsonl under the output location.

The output location is <output>/<date>/<source>, so runs on the same
day share progress: rerunning after an interruption resumes from the
completed log instead of starting over. Pagination stops at the first
empty page even if the page cap has not been reached.`,
	Example: `  # Scrape 10 pages of SteamSpy with default pacing
  steamscraper scrape

  # A deeper SteamSpy crawl with more workers
  steamscraper scrape --pages 50 --concurrent 5

  # Scrape RAWG instead (requires RAWG_API_KEY)
  steamscraper scrape --source rawg --pages 20

  # Scrape IGDB (requires IGDB_CLIENT_ID and IGDB_CLIENT_SECRET)
  steamscraper scrape --source igdb --pages 20

  # Resume today's interrupted run: just run the same command again
  steamscraper scrape --pages 50`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVarP(&sourceName, "source", "s", "", "catalog source (steamspy, rawg, igdb)")
	scrapeCmd.Flags().IntVarP(&pages, "pages", "p", 0, "maximum number of listing pages to fetch")
	scrapeCmd.Flags().DurationVar(&pageDelay, "page-delay", 0, "minimum spacing between listing page requests")
	scrapeCmd.Flags().DurationVar(&itemDelay, "item-delay", 0, "minimum spacing between detail requests")
	scrapeCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent detail fetches")
	scrapeCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempts per request, including the first")
	scrapeCmd.Flags().DurationVar(&requestTimeout, "request-timeout", 0, "HTTP request timeout")
	scrapeCmd.Flags().StringVarP(&outputDir, "output", "o", "", "base output directory (default: Data)")
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logger.GetLogger().WithField("version", version)

	m := metrics.New()
	src, err := newSource(cfg, log, m)
	if err != nil {
		return err
	}
	defer src.Close()

	location := storage.DailyLocation(cfg.Output.BaseDirectory, src.Name())
	store := storage.NewFileStore(location, log)
	defer store.Close()

	engine := scraper.New(src, store, cfg, log, m)
	if !cfg.Scrape.SuppressProgress {
		engine.SetProgress(func(page, scraped, failed int) {
			fmt.Printf("\rpage %d | scraped %d | failed %d   ", page, scraped, failed)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.InfoWithFields("starting scrape", map[string]interface{}{
		"source":   src.Name(),
		"location": location,
		"pages":    cfg.Scrape.Pages,
	})

	meta, runErr := engine.Run(ctx)
	if !cfg.Scrape.SuppressProgress {
		fmt.Println()
	}

	if meta != nil {
		_, failed := engine.Counts()
		fmt.Printf("Scraped %d apps (%d failed) from %d pages in %s\n",
			meta.AppsScraped, failed, meta.PagesFetched,
			meta.EndTime.Sub(meta.StartTime).Round(time.Second))
		fmt.Printf("Dataset: %s\n", location)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Println("Interrupted. Progress is saved; run the same command to resume.")
		}
		return runErr
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := make(map[string]interface{})
	if cmd.Flags().Changed("source") {
		flags["source"] = sourceName
	}
	if cmd.Flags().Changed("pages") {
		flags["pages"] = pages
	}
	if cmd.Flags().Changed("page-delay") {
		flags["page-delay"] = pageDelay
	}
	if cmd.Flags().Changed("item-delay") {
		flags["item-delay"] = itemDelay
	}
	if cmd.Flags().Changed("concurrent") {
		flags["concurrency"] = concurrent
	}
	if cmd.Flags().Changed("max-attempts") {
		flags["max-attempts"] = maxAttempts
	}
	if cmd.Flags().Changed("request-timeout") {
		flags["request-timeout"] = requestTimeout
	}
	if cmd.Flags().Changed("output") {
		flags["output"] = outputDir
	}
	if quiet {
		flags["quiet"] = true
	}
	if cmd.Flags().Changed("log-level") {
		flags["log-level"] = logLevel
	}

	return config.Load(configFile, flags)
}

func newSource(cfg *config.Config, log logger.Logger, m *metrics.Metrics) (catalogSource, error) {
	switch cfg.Source.Name {
	case "steamspy":
		return steamspy.New(cfg, log, m), nil
	case "rawg":
		return rawg.New(cfg, log, m), nil
	case "igdb":
		return igdb.New(cfg, log, m), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source.Name)
	}
}
