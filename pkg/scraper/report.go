package scraper

import "steamscraper/pkg/models"

// BuildRunMetadata derives the persisted summary record from a run.
// Pure derivation; the caller decides when and whether to write it.
func BuildRunMetadata(run *models.Run) *models.RunMetadata {
	return &models.RunMetadata{
		StartTime:      run.StartedAt,
		EndTime:        run.EndedAt,
		PagesRequested: run.PagesRequested,
		PagesFetched:   run.PagesFetched,
		AppsScraped:    run.ItemsScraped,
	}
}
