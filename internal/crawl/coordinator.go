package crawl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ChuanYuanNotBoat/malody-api/internal/metrics"
)

// Sink receives successfully extracted record sets for persistence. A sink
// failure never blocks the read path.
type Sink interface {
	Persist(ctx context.Context, records RecordSet) error
}

// CoordinatorConfig controls Coordinator behavior.
type CoordinatorConfig struct {
	// BaseURL is the remote site root, e.g. https://m.mugzone.net.
	BaseURL string
	// FetchBudget bounds one shared fetch+extract run, independent of any
	// single caller's deadline.
	FetchBudget time.Duration
	// PersistBudget bounds the asynchronous sink hand-off.
	PersistBudget time.Duration
}

// Coordinator orchestrates the crawl pipeline: cache lookup, in-flight
// request collapsing, fetch, extraction, cache write and the asynchronous
// persistence hand-off. At most one fetch is in flight per resource
// identifier at any instant.
type Coordinator struct {
	cfg     CoordinatorConfig
	fetcher Fetcher
	cache   *Cache
	sink    Sink
	clock   Clock
	logger  *zap.Logger
	flight  singleflight.Group
}

// NewCoordinator constructs a Coordinator. The sink may be nil.
func NewCoordinator(
	cfg CoordinatorConfig,
	fetcher Fetcher,
	cache *Cache,
	sink Sink,
	clock Clock,
	logger *zap.Logger,
) *Coordinator {
	if cfg.FetchBudget == 0 {
		cfg.FetchBudget = time.Minute
	}
	if cfg.PersistBudget == 0 {
		cfg.PersistBudget = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:     cfg,
		fetcher: fetcher,
		cache:   cache,
		sink:    sink,
		clock:   clock,
		logger:  logger,
	}
}

// GetOrFetch serves the record set for a resource identifier, from cache when
// live, otherwise by joining or starting the single in-flight fetch for it.
// All concurrent callers for the same identifier share one result or one
// error; a caller whose context finishes abandons the wait without disturbing
// the shared fetch.
func (c *Coordinator) GetOrFetch(ctx context.Context, resource string) (RecordSet, error) {
	rid, err := ParseResourceID(resource)
	if err != nil {
		return RecordSet{}, err
	}
	key := rid.String()

	if records, ok := c.cache.Get(key); ok {
		metrics.ObserveCacheLookup(true)
		return records, nil
	}
	metrics.ObserveCacheLookup(false)

	// singleflight removes the key when the call completes, success or
	// failure, waking every waiter with the shared outcome.
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.crawl(rid)
	})

	select {
	case <-ctx.Done():
		return RecordSet{}, fmt.Errorf("awaiting crawl of %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Shared {
			metrics.ObserveCollapsedWait()
		}
		if res.Err != nil {
			return RecordSet{}, res.Err
		}
		return res.Val.(RecordSet), nil
	}
}

// crawl runs the shared fetch→extract→cache pipeline for one resource. It is
// detached from caller contexts: waiters come and go while the fetch runs on
// its own budget.
func (c *Coordinator) crawl(rid ResourceID) (RecordSet, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchBudget)
	defer cancel()

	kind := rid.Kind.String()
	page, err := c.fetcher.Fetch(ctx, rid.PageURL(c.cfg.BaseURL))
	if err != nil {
		metrics.ObserveCrawl(kind, "fetch_error")
		return RecordSet{}, err
	}

	records, err := Extract(page, rid)
	if err != nil {
		// Layout drift means downstream data is untrustworthy; never cached.
		metrics.ObserveCrawl(kind, "structure_mismatch")
		return RecordSet{}, err
	}
	records.ObservedAt = c.clock.Now()

	c.cache.Put(rid.String(), records)
	if records.Empty() {
		metrics.ObserveCrawl(kind, "empty")
	} else {
		metrics.ObserveCrawl(kind, "ok")
	}

	if c.sink != nil && !records.Empty() {
		go c.persist(records)
	}
	return records, nil
}

func (c *Coordinator) persist(records RecordSet) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistBudget)
	defer cancel()
	if err := c.sink.Persist(ctx, records); err != nil {
		c.logger.Warn("persist crawl result failed",
			zap.String("resource", records.Resource.String()),
			zap.Error(err),
		)
	}
}
