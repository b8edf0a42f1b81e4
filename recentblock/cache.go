package recentblock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Fetcher performs the live read behind the cache. found is false when the
// key does not exist upstream; such keys are not retried.
type Fetcher[K comparable, V any] interface {
	FetchValue(ctx context.Context, key K, block uint64) (value V, found bool, err error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[K comparable, V any] func(ctx context.Context, key K, block uint64) (V, bool, error)

func (f FetcherFunc[K, V]) FetchValue(ctx context.Context, key K, block uint64) (V, bool, error) {
	return f(ctx, key, block)
}

// BlockSource reports the current chain head.
type BlockSource interface {
	Current() uint64
}

// Entry is a cached value and the block it was read at. Degraded is set when
// the value is stale and could not be refreshed.
type Entry[V any] struct {
	Value    V
	Block    uint64
	Degraded bool
}

type flightResult[V any] struct {
	entry Entry[V]
	found bool
	// err is the last fetch error when every attempt failed.
	err error
}

// Cache serves values tagged with the block they were fetched at. A value
// is served from memory while it is within MaxAgeBlocks of the requested
// block, otherwise it is refetched. At most one fetch per key is in flight;
// concurrent requests for the same key wait for it.
type Cache[K comparable, V any] struct {
	name    string
	cfg     CacheConfig
	fetcher Fetcher[K, V]
	blocks  BlockSource
	logger  Logger
	metrics *Metrics

	mu      sync.RWMutex
	entries map[K]Entry[V]

	// recent tracks the most recently requested keys for RunMaintenance.
	recent  *lru.Cache[K, struct{}]
	flights singleflight.Group
}

func NewCache[K comparable, V any](
	name string,
	cfg CacheConfig,
	fetcher Fetcher[K, V],
	blocks BlockSource,
	logger Logger,
	metrics *Metrics,
) (*Cache[K, V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.New("recentblock: fetcher is required")
	}
	if blocks == nil {
		return nil, errors.New("recentblock: block source is required")
	}
	if logger == nil {
		return nil, errors.New("recentblock: logger is required")
	}
	if metrics == nil {
		return nil, errors.New("recentblock: metrics is required")
	}

	c := &Cache[K, V]{
		name:    name,
		cfg:     cfg,
		fetcher: fetcher,
		blocks:  blocks,
		logger:  logger,
		metrics: metrics,
		entries: make(map[K]Entry[V]),
	}
	if cfg.MaxRecentlyUsed > 0 {
		recent, err := lru.New[K, struct{}](cfg.MaxRecentlyUsed)
		if err != nil {
			return nil, fmt.Errorf("recentblock: %w", err)
		}
		c.recent = recent
	}
	return c, nil
}

// Resolve returns the height a Block refers to.
func (c *Cache[K, V]) Resolve(block Block) uint64 {
	if block.IsRecent() {
		return c.blocks.Current()
	}
	return block.Height()
}

// Fetch returns the entries for keys as of block. Keys that do not exist
// upstream, or that failed every retry with nothing cached, are left out.
// The returned error is only set when ctx ends first.
func (c *Cache[K, V]) Fetch(ctx context.Context, keys []K, block Block) ([]Entry[V], error) {
	at := c.Resolve(block)
	results := make([]*Entry[V], len(keys))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrentFetches)
	for i, key := range keys {
		if c.recent != nil {
			c.recent.Add(key, struct{}{})
		}
		if e, ok := c.fresh(key, at); ok {
			c.metrics.Hits.WithLabelValues(c.name).Inc()
			results[i] = &e
			continue
		}
		c.metrics.Misses.WithLabelValues(c.name).Inc()
		g.Go(func() error {
			res, err := c.refresh(gCtx, key, at)
			if err != nil {
				return err
			}
			if res.found {
				results[i] = &res.entry
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Entry[V], 0, len(keys))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// RunMaintenance refreshes the most recently requested keys whose entry is
// behind the current head. It returns the joined errors of keys whose
// refresh failed.
func (c *Cache[K, V]) RunMaintenance(ctx context.Context) error {
	if c.recent == nil {
		return nil
	}
	at := c.blocks.Current()

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrentFetches)
	for _, key := range c.recent.Keys() {
		if e, ok := c.Peek(key); ok && e.Block >= at {
			continue
		}
		g.Go(func() error {
			res, err := c.refresh(gCtx, key, at)
			if err != nil {
				return err
			}
			if res.err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("refresh %v at block %d: %w", key, at, res.err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// Peek returns the cached entry for key, fresh or not.
func (c *Cache[K, V]) Peek(key K) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Len returns the number of cached keys.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[K, V]) withinAge(cached, at uint64) bool {
	if cached > at {
		return cached-at <= c.cfg.MaxAgeBlocks
	}
	return at-cached <= c.cfg.MaxAgeBlocks
}

func (c *Cache[K, V]) fresh(key K, at uint64) (Entry[V], bool) {
	e, ok := c.Peek(key)
	if !ok || !c.withinAge(e.Block, at) {
		return Entry[V]{}, false
	}
	return e, true
}

// refresh waits for the in-flight fetch of key, starting one if needed. A
// request that joined a fetch started for a block outside its own window
// starts one more.
func (c *Cache[K, V]) refresh(ctx context.Context, key K, at uint64) (flightResult[V], error) {
	flightKey := fmt.Sprint(key)
	for joined := 0; ; joined++ {
		ch := c.flights.DoChan(flightKey, func() (any, error) {
			// The fetch outlives any single waiter.
			return c.load(context.WithoutCancel(ctx), key, at), nil
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return flightResult[V]{}, ctx.Err()
		case res = <-ch:
		}

		out := res.Val.(flightResult[V])
		if !res.Shared {
			return out, nil
		}
		c.metrics.SharedFlights.WithLabelValues(c.name).Inc()
		if !out.found || out.entry.Degraded || c.withinAge(out.entry.Block, at) || joined > 0 {
			return out, nil
		}
	}
}

// load fetches key at block with bounded retries and stores the result.
func (c *Cache[K, V]) load(ctx context.Context, key K, at uint64) flightResult[V] {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return flightResult[V]{err: ctx.Err()}
			}
		}

		value, found, err := c.fetcher.FetchValue(ctx, key, at)
		if err != nil {
			lastErr = err
			c.metrics.FetchFailures.WithLabelValues(c.name).Inc()
			c.logger.Debug("Live fetch failed", "cache", c.name, "key", key, "block", at, "attempt", attempt+1, "err", err)
			continue
		}
		if !found {
			return flightResult[V]{}
		}
		return flightResult[V]{entry: c.store(key, value, at), found: true}
	}

	if stale, ok := c.Peek(key); ok {
		c.metrics.DegradedServe.WithLabelValues(c.name).Inc()
		c.logger.Warn("Serving stale value after failed refresh", "cache", c.name, "key", key, "cached_block", stale.Block, "block", at, "err", lastErr)
		stale.Degraded = true
		return flightResult[V]{entry: stale, found: true, err: lastErr}
	}
	c.metrics.Dropped.WithLabelValues(c.name).Inc()
	c.logger.Error("Dropping key after failed fetch", "cache", c.name, "key", key, "block", at, "err", lastErr)
	return flightResult[V]{err: lastErr}
}

// store caches value unless a newer block is already cached, so the cached
// block of a key never moves backwards. The entry for block is returned
// either way.
func (c *Cache[K, V]) store(key K, value V, block uint64) Entry[V] {
	e := Entry[V]{Value: value, Block: block}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok && existing.Block > block {
		return e
	}
	c.entries[key] = e
	c.metrics.Entries.WithLabelValues(c.name).Set(float64(len(c.entries)))
	return e
}
