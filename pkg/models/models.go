package models

import (
	"encoding/json"
	"time"
)

// Item is one fully fetched catalog record. Payload is the raw detail
// response body, kept opaque beyond being a valid JSON object.
type Item struct {
	ID      string
	Payload json.RawMessage
}

// CatalogPage is one page of the listing endpoint. It is consumed
// immediately to seed detail fetches and never persisted.
type CatalogPage struct {
	Index int
	IDs   []string
}

// Run tracks one scraping session from start to finish or interruption.
type Run struct {
	StartedAt      time.Time
	EndedAt        time.Time
	PagesRequested int
	PagesFetched   int
	ItemsScraped   int
	ItemsFailed    int
}

// RunMetadata is the summary record persisted once per run directory.
// Key names follow the metadata.json layout consumed by downstream tooling.
type RunMetadata struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	PagesRequested int       `json:"pages_requested"`
	PagesFetched   int       `json:"pages_fetched"`
	AppsScraped    int       `json:"apps_scraped"`
}
