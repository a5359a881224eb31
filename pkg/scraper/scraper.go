package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"steamscraper/internal/dispatch"
	"steamscraper/pkg/config"
	errs "steamscraper/pkg/errors"
	"steamscraper/pkg/logger"
	"steamscraper/pkg/metrics"
	"steamscraper/pkg/models"
)

// State is the engine's position in its run lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StatePaginating  State = "paginating"
	StateDispatching State = "dispatching_items"
	StateDraining    State = "draining"
	StateFinished    State = "finished"
	StateInterrupted State = "interrupted"
)

// Progress is invoked as items complete. page is the index of the page
// the item came from, scraped and failed are run totals so far.
type Progress func(page, scraped, failed int)

// Engine orchestrates pagination, detail dispatch, progress tracking
// and resumption for one source and one output location.
//
// Pages are walked in increasing order by a single goroutine; detail
// fetches run on a bounded worker pool; a single consumer goroutine
// performs every durable write, so the store sees one writer and the
// append-item / mark-completed ordering holds per identifier.
type Engine struct {
	source     Source
	store      Store
	logger     logger.Logger
	metrics    *metrics.Metrics
	pages      int
	workers    int
	onProgress Progress

	mu      sync.Mutex
	state   State
	claimed map[string]struct{}
	run     *models.Run
}

// New creates an engine for the given source and store.
func New(source Source, store Store, cfg *config.Config, log logger.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Engine{
		source:  source,
		store:   store,
		logger:  log.WithField("source", source.Name()),
		metrics: m,
		pages:   cfg.Scrape.Pages,
		workers: cfg.Scrape.Concurrency,
		state:   StateIdle,
	}
}

// SetProgress installs a progress callback. A nil callback (the
// default) suppresses progress output entirely.
func (e *Engine) SetProgress(fn Progress) {
	e.onProgress = fn
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()

	if prev != s {
		e.logger.DebugWithFields("state transition", map[string]interface{}{
			"from": string(prev),
			"to":   string(s),
		})
	}
}

// Run executes one scraping session. It returns the run metadata that
// was written (best effort) and the fatal error, if any. Per-page and
// per-item fetch failures are contained: they are logged to the error
// log and reduce completeness, but only persistence failures and
// cancellation end the run early.
func (e *Engine) Run(ctx context.Context) (*models.RunMetadata, error) {
	run := &models.Run{
		StartedAt:      time.Now(),
		PagesRequested: e.pages,
	}

	e.mu.Lock()
	e.run = run
	e.claimed = make(map[string]struct{})
	e.mu.Unlock()

	if err := e.store.EnsureLocation(); err != nil {
		return nil, err
	}
	completed, err := e.store.LoadCompletedSet()
	if err != nil {
		return nil, err
	}

	e.logger.InfoWithFields("run starting", map[string]interface{}{
		"pages_requested":  e.pages,
		"already_complete": len(completed),
		"workers":          e.workers,
	})

	pool := dispatch.NewPool(e.workers, e.source, e.logger)

	g, gctx := errgroup.WithContext(ctx)
	pool.Start(gctx)

	g.Go(func() error {
		return e.consume(pool)
	})
	g.Go(func() error {
		defer pool.Stop()
		return e.paginate(gctx, pool, completed)
	})

	runErr := g.Wait()
	run.EndedAt = time.Now()

	if runErr == nil {
		e.setState(StateFinished)
	} else {
		e.setState(StateInterrupted)
	}

	meta := BuildRunMetadata(run)
	if werr := e.store.WriteRunMetadata(meta); werr != nil {
		e.logger.WithError(werr).Error("failed to write run metadata")
		if runErr == nil {
			runErr = werr
		}
	}

	e.logger.InfoWithFields("run ended", map[string]interface{}{
		"state":         string(e.State()),
		"pages_fetched": run.PagesFetched,
		"items_scraped": run.ItemsScraped,
		"items_failed":  run.ItemsFailed,
	})
	return meta, runErr
}

// paginate walks listing pages in order and submits undone identifiers
// to the pool. It is the only goroutine that advances pages.
func (e *Engine) paginate(ctx context.Context, pool *dispatch.Pool, completed map[string]struct{}) error {
	for index := 0; index < e.pages; index++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e.setState(StatePaginating)

		page, err := e.source.FetchPage(ctx, index)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			// A single bad page must not abort the run.
			e.metrics.IncError(kindLabel(err))
			e.logger.WarnWithFields("page fetch failed, skipping", map[string]interface{}{
				"page":  index,
				"error": err.Error(),
			})
			if lerr := e.store.AppendError(fmt.Sprintf("page %d", index), err); lerr != nil {
				return lerr
			}
			continue
		}

		e.addPageFetched()
		e.metrics.IncPages()

		if len(page.IDs) == 0 {
			// An empty page means the catalog is exhausted; the
			// configured page count is only a hard cap.
			e.logger.InfoWithFields("empty page, catalog exhausted", map[string]interface{}{
				"page": index,
			})
			break
		}

		e.setState(StateDispatching)

		for _, id := range page.IDs {
			if !e.claim(id, completed) {
				continue
			}
			if err := pool.Submit(dispatch.Job{ID: id, PageIndex: index}); err != nil {
				return err
			}
		}
	}

	e.setState(StateDraining)
	return nil
}

// consume is the single writer: it persists every successful fetch and
// records every failure. A persistence failure is fatal and cancels the
// rest of the run via the errgroup context.
func (e *Engine) consume(pool *dispatch.Pool) error {
	for res := range pool.Results() {
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				// The run is being torn down; in-flight fetches cut short
				// by our own cancellation are not fetch failures.
				continue
			}
			e.addItemFailed()
			e.metrics.IncError(kindLabel(res.Err))
			if lerr := e.store.AppendError(fmt.Sprintf("app %s", res.Job.ID), res.Err); lerr != nil {
				return lerr
			}
			e.reportProgress(res.Job.PageIndex)
			continue
		}
		if res.Item == nil {
			// Source chose to skip this identifier.
			continue
		}

		// Item first, identifier second. Never the other way around.
		if err := e.store.AppendItem(res.Item); err != nil {
			return err
		}
		if err := e.store.MarkCompleted(res.Item.ID); err != nil {
			return err
		}

		e.addItemScraped()
		e.metrics.IncItems()
		e.reportProgress(res.Job.PageIndex)
	}
	return nil
}

// claim reserves an identifier for this run. Returns false when the
// identifier was completed in a prior run or already claimed in this one.
func (e *Engine) claim(id string, completed map[string]struct{}) bool {
	if _, done := completed[id]; done {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, taken := e.claimed[id]; taken {
		return false
	}
	e.claimed[id] = struct{}{}
	return true
}

func (e *Engine) addPageFetched() {
	e.mu.Lock()
	e.run.PagesFetched++
	e.mu.Unlock()
}

func (e *Engine) addItemScraped() {
	e.mu.Lock()
	e.run.ItemsScraped++
	e.mu.Unlock()
}

func (e *Engine) addItemFailed() {
	e.mu.Lock()
	e.run.ItemsFailed++
	e.mu.Unlock()
}

// Counts returns the scraped and failed item totals so far.
func (e *Engine) Counts() (scraped, failed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run.ItemsScraped, e.run.ItemsFailed
}

func (e *Engine) reportProgress(page int) {
	if e.onProgress == nil {
		return
	}
	scraped, failed := e.Counts()
	e.onProgress(page, scraped, failed)
}

func kindLabel(err error) string {
	if kind := errs.KindOf(err); kind != "" {
		return string(kind)
	}
	return "unknown"
}
