package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamscraper/pkg/config"
	errs "steamscraper/pkg/errors"
	"steamscraper/pkg/logger"
	"steamscraper/pkg/models"
	"steamscraper/pkg/storage"
)

type fakeSource struct {
	pages     [][]string
	failIDs   map[string]error
	skipIDs   map[string]bool
	failPages map[int]error
	delay     time.Duration

	mu        sync.Mutex
	fetched   []string
	pageCalls int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchPage(ctx context.Context, index int) (*models.CatalogPage, error) {
	f.mu.Lock()
	f.pageCalls++
	f.mu.Unlock()

	if err, ok := f.failPages[index]; ok {
		return nil, err
	}
	if index >= len(f.pages) {
		return &models.CatalogPage{Index: index}, nil
	}
	return &models.CatalogPage{Index: index, IDs: f.pages[index]}, nil
}

func (f *fakeSource) FetchDetail(ctx context.Context, id string) (*models.Item, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	f.mu.Unlock()

	if err, ok := f.failIDs[id]; ok {
		return nil, err
	}
	if f.skipIDs[id] {
		return nil, nil
	}
	return &models.Item{
		ID:      id,
		Payload: json.RawMessage(fmt.Sprintf(`{"appid": %s, "name": "app %s"}`, id, id)),
	}, nil
}

func (f *fakeSource) fetchedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func newTestEngine(t *testing.T, src Source, dir string, pages, workers int) (*Engine, *storage.FileStore) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Scrape.Pages = pages
	cfg.Scrape.Concurrency = workers

	store := storage.NewFileStore(dir, logger.NewNop())
	t.Cleanup(func() { store.Close() })

	return New(src, store, cfg, logger.NewNop(), nil), store
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func datasetIDs(t *testing.T, dir string) []string {
	t.Helper()

	var ids []string
	for _, line := range readLines(t, filepath.Join(dir, "data.jsonl")) {
		var record struct {
			AppID int `json:"appid"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		ids = append(ids, fmt.Sprintf("%d", record.AppID))
	}
	return ids
}

func TestRunPersistsSuccessesAndLogsFailures(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{
		pages:   [][]string{{"1", "2", "3"}},
		failIDs: map[string]error{"2": errs.Permanent("detail", "2", 404, nil)},
	}
	engine, _ := newTestEngine(t, src, dir, 1, 2)

	meta, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, meta)

	assert.ElementsMatch(t, []string{"1", "3"}, datasetIDs(t, dir))
	assert.ElementsMatch(t, []string{"1", "3"}, readLines(t, filepath.Join(dir, "completed.txt")))

	errLines := readLines(t, filepath.Join(dir, "errors.log"))
	require.Len(t, errLines, 1)
	assert.Contains(t, errLines[0], "app 2")

	assert.Equal(t, 1, meta.PagesRequested)
	assert.Equal(t, 1, meta.PagesFetched)
	assert.Equal(t, 2, meta.AppsScraped)
	assert.Equal(t, StateFinished, engine.State())
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{pages: [][]string{{"10", "20"}, {"30"}}}
	engine, store := newTestEngine(t, src, dir, 2, 2)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, src.fetchedIDs(), 3)
	store.Close()

	second := &fakeSource{pages: src.pages}
	engine2, _ := newTestEngine(t, second, dir, 2, 2)
	_, err = engine2.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, second.fetchedIDs(), "completed identifiers must not be refetched")
	assert.Len(t, datasetIDs(t, dir), 3, "dataset must not grow on a repeated run")
}

func TestRunResumesFromCompletedSet(t *testing.T) {
	dir := t.TempDir()

	prior := storage.NewFileStore(dir, logger.NewNop())
	require.NoError(t, prior.EnsureLocation())
	require.NoError(t, prior.AppendItem(&models.Item{ID: "1", Payload: json.RawMessage(`{"appid": 1}`)}))
	require.NoError(t, prior.MarkCompleted("1"))
	require.NoError(t, prior.Close())

	src := &fakeSource{pages: [][]string{{"1", "2", "3"}}}
	engine, _ := newTestEngine(t, src, dir, 1, 1)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"2", "3"}, src.fetchedIDs())
	assert.ElementsMatch(t, []string{"1", "2", "3"}, datasetIDs(t, dir))
}

func TestRunContainsPageFailure(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{
		pages:     [][]string{{"1"}, {"2"}},
		failPages: map[int]error{0: errs.Transient("page", "0", 500, nil)},
	}
	engine, _ := newTestEngine(t, src, dir, 2, 1)

	meta, err := engine.Run(context.Background())
	require.NoError(t, err, "a failed page must not abort the run")

	assert.ElementsMatch(t, []string{"2"}, datasetIDs(t, dir))
	assert.Equal(t, 1, meta.PagesFetched)
	assert.Equal(t, 2, meta.PagesRequested)

	errLines := readLines(t, filepath.Join(dir, "errors.log"))
	require.Len(t, errLines, 1)
	assert.Contains(t, errLines[0], "page 0")
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{pages: [][]string{{"1", "2"}}}
	engine, _ := newTestEngine(t, src, dir, 10, 2)

	meta, err := engine.Run(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	calls := src.pageCalls
	src.mu.Unlock()
	assert.Equal(t, 2, calls, "pagination must stop at the first empty page")
	assert.Equal(t, 2, meta.PagesFetched)
	assert.Equal(t, 2, meta.AppsScraped)
}

func TestRunSkipsHiddenItems(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{
		pages:   [][]string{{"1", "999999", "3"}},
		skipIDs: map[string]bool{"999999": true},
	}
	engine, _ := newTestEngine(t, src, dir, 1, 2)

	meta, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"1", "3"}, datasetIDs(t, dir))
	assert.NotContains(t, readLines(t, filepath.Join(dir, "completed.txt")), "999999")
	assert.Empty(t, readLines(t, filepath.Join(dir, "errors.log")))
	assert.Equal(t, 2, meta.AppsScraped)
}

func TestRunCompletedSetMatchesDataset(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{
		pages:   [][]string{{"1", "2", "3", "4", "5"}, {"6", "7", "8"}},
		failIDs: map[string]error{"4": errs.Transient("detail", "4", 502, nil)},
	}
	engine, _ := newTestEngine(t, src, dir, 2, 4)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	completed := readLines(t, filepath.Join(dir, "completed.txt"))
	assert.ElementsMatch(t, datasetIDs(t, dir), completed,
		"every completed identifier must have a dataset record")
}

func TestRunCancellation(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{
		pages: [][]string{{"1", "2", "3", "4", "5", "6", "7", "8"}},
		delay: 200 * time.Millisecond,
	}
	engine, _ := newTestEngine(t, src, dir, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	meta, err := engine.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, StateInterrupted, engine.State())

	// Fetches cut short by the cancellation are not fetch failures:
	// nothing in the error log, nothing in the failed count.
	assert.Empty(t, readLines(t, filepath.Join(dir, "errors.log")))
	_, failed := engine.Counts()
	assert.Zero(t, failed)

	// The summary record is still written so the session is inspectable
	// and resumable.
	require.NotNil(t, meta)
	onDisk, rerr := storage.NewFileStore(dir, logger.NewNop()).ReadRunMetadata()
	require.NoError(t, rerr)
	require.NotNil(t, onDisk)
	assert.False(t, onDisk.EndTime.IsZero())
}
