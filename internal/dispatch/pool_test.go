package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	errs "steamscraper/pkg/errors"
	"steamscraper/pkg/logger"
	"steamscraper/pkg/models"
)

type fakeFetcher struct {
	mu       sync.Mutex
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	failIDs  map[string]error
	skipIDs  map[string]bool
}

func (f *fakeFetcher) FetchDetail(ctx context.Context, id string) (*models.Item, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	if cur > f.maxSeen {
		f.maxSeen = cur
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err, ok := f.failIDs[id]; ok {
		return nil, err
	}
	if f.skipIDs[id] {
		return nil, nil
	}
	return &models.Item{
		ID:      id,
		Payload: json.RawMessage(fmt.Sprintf(`{"appid": %s}`, id)),
	}, nil
}

func TestPoolProcessesAllJobs(t *testing.T) {
	fetcher := &fakeFetcher{}
	pool := NewPool(3, fetcher, logger.NewNop())
	pool.Start(context.Background())

	const jobs = 10
	go func() {
		for i := 0; i < jobs; i++ {
			if err := pool.Submit(Job{ID: fmt.Sprintf("%d", i), PageIndex: 0}); err != nil {
				t.Errorf("submit failed: %v", err)
			}
		}
		pool.Stop()
	}()

	got := 0
	for res := range pool.Results() {
		if res.Err != nil {
			t.Errorf("unexpected error for %s: %v", res.Job.ID, res.Err)
		}
		if res.Item == nil {
			t.Errorf("expected item for %s", res.Job.ID)
		}
		got++
	}
	if got != jobs {
		t.Errorf("expected %d results, got %d", jobs, got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	fetcher := &fakeFetcher{delay: 20 * time.Millisecond}
	pool := NewPool(2, fetcher, logger.NewNop())
	pool.Start(context.Background())

	go func() {
		for i := 0; i < 8; i++ {
			_ = pool.Submit(Job{ID: fmt.Sprintf("%d", i)})
		}
		pool.Stop()
	}()

	for range pool.Results() {
	}

	if fetcher.maxSeen > 2 {
		t.Errorf("expected at most 2 concurrent fetches, saw %d", fetcher.maxSeen)
	}
}

func TestPoolReportsFailuresAndSkips(t *testing.T) {
	fetcher := &fakeFetcher{
		failIDs: map[string]error{"2": errs.Permanent("detail", "2", 404, nil)},
		skipIDs: map[string]bool{"3": true},
	}
	pool := NewPool(1, fetcher, logger.NewNop())
	pool.Start(context.Background())

	go func() {
		for _, id := range []string{"1", "2", "3"} {
			_ = pool.Submit(Job{ID: id})
		}
		pool.Stop()
	}()

	outcomes := make(map[string]Result)
	for res := range pool.Results() {
		outcomes[res.Job.ID] = res
	}

	if outcomes["1"].Err != nil || outcomes["1"].Item == nil {
		t.Error("expected item 1 to succeed")
	}
	if outcomes["2"].Err == nil {
		t.Error("expected item 2 to fail")
	}
	if outcomes["3"].Err != nil || outcomes["3"].Item != nil {
		t.Error("expected item 3 to be skipped with no error")
	}
}

func TestPoolCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{delay: time.Second}
	pool := NewPool(1, fetcher, logger.NewNop())
	pool.Start(ctx)

	_ = pool.Submit(Job{ID: "1"})
	cancel()

	// Once the queue buffer fills, Submit must fail instead of blocking.
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = pool.Submit(Job{ID: "9"})
	}
	if err == nil {
		t.Error("expected Submit to eventually fail after cancellation")
	}

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}
