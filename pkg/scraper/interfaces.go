package scraper

import (
	"context"

	"steamscraper/pkg/models"
)

// Source is a rate-limited catalog API: a paged listing endpoint plus a
// per-item detail endpoint. Implementations own their rate limiting and
// retry policy, so the engine stays source-agnostic.
//
// FetchDetail may return (nil, nil) for identifiers the source chooses
// to skip, such as records the publisher has hidden.
type Source interface {
	Name() string
	FetchPage(ctx context.Context, index int) (*models.CatalogPage, error)
	FetchDetail(ctx context.Context, id string) (*models.Item, error)
}

// Store is the durable state the engine runs against. storage.FileStore
// is the production implementation.
type Store interface {
	EnsureLocation() error
	LoadCompletedSet() (map[string]struct{}, error)
	AppendItem(item *models.Item) error
	MarkCompleted(id string) error
	AppendError(ref string, cause error) error
	WriteRunMetadata(meta *models.RunMetadata) error
}
