package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"steamscraper/pkg/logger"
	"steamscraper/pkg/models"
)

// Job is a single detail fetch for an identifier discovered on a page.
type Job struct {
	ID        string
	PageIndex int
}

// Result is the outcome of a detail fetch. A nil Item with a nil Err
// means the source skipped the identifier (hidden or filtered records).
type Result struct {
	Job      Job
	Item     *models.Item
	Err      error
	Duration time.Duration
}

// DetailFetcher fetches one item's full record.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, id string) (*models.Item, error)
}

// Pool runs detail fetches on a bounded set of workers. Rate limiting
// lives in the fetcher, shared across workers, so pool size only caps
// in-flight requests.
type Pool struct {
	numWorkers int
	jobQueue   chan Job
	results    chan Result
	wg         sync.WaitGroup
	fetcher    DetailFetcher
	logger     logger.Logger

	ctx context.Context
}

// NewPool creates a worker pool with the given concurrency.
func NewPool(numWorkers int, fetcher DetailFetcher, log logger.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, numWorkers*2),
		results:    make(chan Result, numWorkers),
		fetcher:    fetcher,
		logger:     log,
	}
}

// Start launches the workers under ctx. Cancelling ctx makes workers
// abandon queued jobs and unblocks result delivery.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	p.logger.DebugWithFields("starting dispatch pool", map[string]interface{}{
		"workers": p.numWorkers,
	})

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues a detail fetch. Fails once the pool context is done.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("dispatch pool is shutting down: %w", p.ctx.Err())
	}
}

// Results returns the channel of fetch outcomes. It is closed by Stop
// once all workers have drained.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Stop signals that no more jobs will be submitted, waits for the
// workers to finish, and closes the result channel.
func (p *Pool) Stop() {
	close(p.jobQueue)
	p.wg.Wait()
	close(p.results)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		select {
		case <-p.ctx.Done():
			p.logger.DebugWithFields("worker stopping, context cancelled", map[string]interface{}{
				"worker_id": id,
			})
			return
		default:
		}

		result := p.process(job)

		select {
		case p.results <- result:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) process(job Job) Result {
	start := time.Now()

	item, err := p.fetcher.FetchDetail(p.ctx, job.ID)
	result := Result{
		Job:      job,
		Item:     item,
		Err:      err,
		Duration: time.Since(start),
	}

	if err != nil {
		p.logger.DebugWithFields("detail fetch failed", map[string]interface{}{
			"id":       job.ID,
			"page":     job.PageIndex,
			"error":    err.Error(),
			"duration": result.Duration,
		})
	}
	return result
}
