package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the catalog scraper.
type Config struct {
	Scrape  ScrapeConfig  `yaml:"scrape" json:"scrape"`
	Source  SourceConfig  `yaml:"source" json:"source"`
	Output  OutputConfig  `yaml:"output" json:"output"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ScrapeConfig controls pagination, rate limiting and retries.
type ScrapeConfig struct {
	// Pages is a hard cap on listing pages. An empty page still ends
	// the run early regardless of this value.
	Pages            int           `yaml:"pages" json:"pages"`
	PageDelay        time.Duration `yaml:"page_delay" json:"page_delay"`
	ItemDelay        time.Duration `yaml:"item_delay" json:"item_delay"`
	Concurrency      int           `yaml:"concurrency" json:"concurrency"`
	MaxAttempts      int           `yaml:"max_attempts" json:"max_attempts"`
	RequestTimeout   time.Duration `yaml:"request_timeout" json:"request_timeout"`
	SuppressProgress bool          `yaml:"suppress_progress" json:"suppress_progress"`
}

// SourceConfig selects and parameterizes the catalog API.
type SourceConfig struct {
	Name             string `yaml:"name" json:"name"`
	BaseURL          string `yaml:"base_url" json:"base_url"`
	RAWGAPIKey       string `yaml:"rawg_api_key" json:"rawg_api_key"`
	IGDBClientID     string `yaml:"igdb_client_id" json:"igdb_client_id"`
	IGDBClientSecret string `yaml:"igdb_client_secret" json:"igdb_client_secret"`
}

// OutputConfig holds output location settings.
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scrape: ScrapeConfig{
			Pages:          10,
			PageDelay:      time.Second,
			ItemDelay:      100 * time.Millisecond,
			Concurrency:    3,
			MaxAttempts:    3,
			RequestTimeout: 30 * time.Second,
		},
		Source: SourceConfig{
			Name: "steamspy",
		},
		Output: OutputConfig{
			BaseDirectory: "Data",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then config file,
// then environment, then explicit flag overrides.
func Load(path string, flags map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(path); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	cfg.applyFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile merges a YAML config file into the config. An empty path
// falls back to the default locations; a missing file is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) findConfigFile() string {
	locations := []string{
		".steamscraper.yaml",
		".steamscraper.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "steamscraper", "config.yaml"),
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// LoadFromEnv merges environment variables into the config. A .env file
// in the working directory is loaded first if present.
func (c *Config) LoadFromEnv() error {
	_ = godotenv.Load()

	if v := os.Getenv("STEAMSCRAPER_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scrape.Pages = n
		}
	}
	if v := os.Getenv("STEAMSCRAPER_PAGE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scrape.PageDelay = d
		}
	}
	if v := os.Getenv("STEAMSCRAPER_ITEM_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scrape.ItemDelay = d
		}
	}
	if v := os.Getenv("STEAMSCRAPER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scrape.Concurrency = n
		}
	}
	if v := os.Getenv("STEAMSCRAPER_OUTPUT_DIR"); v != "" {
		c.Output.BaseDirectory = v
	}
	if v := os.Getenv("STEAMSCRAPER_SOURCE"); v != "" {
		c.Source.Name = v
	}
	if v := os.Getenv("STEAMSCRAPER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RAWG_API_KEY"); v != "" {
		c.Source.RAWGAPIKey = v
	}
	if v := os.Getenv("IGDB_CLIENT_ID"); v != "" {
		c.Source.IGDBClientID = v
	}
	if v := os.Getenv("IGDB_CLIENT_SECRET"); v != "" {
		c.Source.IGDBClientSecret = v
	}
	return nil
}

func (c *Config) applyFlags(flags map[string]interface{}) {
	for key, value := range flags {
		switch key {
		case "pages":
			if v, ok := value.(int); ok {
				c.Scrape.Pages = v
			}
		case "page-delay":
			if v, ok := value.(time.Duration); ok {
				c.Scrape.PageDelay = v
			}
		case "item-delay":
			if v, ok := value.(time.Duration); ok {
				c.Scrape.ItemDelay = v
			}
		case "concurrency":
			if v, ok := value.(int); ok {
				c.Scrape.Concurrency = v
			}
		case "max-attempts":
			if v, ok := value.(int); ok {
				c.Scrape.MaxAttempts = v
			}
		case "request-timeout":
			if v, ok := value.(time.Duration); ok {
				c.Scrape.RequestTimeout = v
			}
		case "output":
			if v, ok := value.(string); ok {
				c.Output.BaseDirectory = v
			}
		case "source":
			if v, ok := value.(string); ok {
				c.Source.Name = v
			}
		case "quiet":
			if v, ok := value.(bool); ok {
				c.Scrape.SuppressProgress = v
			}
		case "log-level":
			if v, ok := value.(string); ok {
				c.Logging.Level = v
			}
		}
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Scrape.Pages <= 0 {
		errs = append(errs, errors.New("pages must be positive"))
	}
	if c.Scrape.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Scrape.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be positive"))
	}
	if c.Scrape.PageDelay < 0 || c.Scrape.ItemDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if c.Scrape.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output base directory is required"))
	}
	switch c.Source.Name {
	case "steamspy":
	case "rawg":
		if c.Source.RAWGAPIKey == "" {
			errs = append(errs, errors.New("rawg source requires an API key (RAWG_API_KEY)"))
		}
	case "igdb":
		if c.Source.IGDBClientID == "" || c.Source.IGDBClientSecret == "" {
			errs = append(errs, errors.New("igdb source requires Twitch credentials (IGDB_CLIENT_ID, IGDB_CLIENT_SECRET)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source.Name))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
