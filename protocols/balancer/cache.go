package balancer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-balancer-go/model"
	"github.com/defistate/defistate-balancer-go/recentblock"
	"github.com/ethereum/go-ethereum/common"
)

// MaintainedPoolFetching is a pool source with periodic work.
type MaintainedPoolFetching interface {
	PoolFetching
	Maintaining
}

// Cache keeps pool states fresh relative to the chain head. Pool discovery
// is always delegated to the inner fetcher; only pool states are cached.
type Cache struct {
	inner  MaintainedPoolFetching
	pools  *recentblock.Cache[common.Hash, Pool]
	logger Logger
}

func NewCache(
	inner MaintainedPoolFetching,
	cfg recentblock.CacheConfig,
	blocks recentblock.BlockSource,
	logger Logger,
	metrics *recentblock.Metrics,
) (*Cache, error) {
	if inner == nil {
		return nil, errors.New("cache: inner fetcher is required")
	}
	fetcher := recentblock.FetcherFunc[common.Hash, Pool](func(ctx context.Context, id common.Hash, block uint64) (Pool, bool, error) {
		pools, err := inner.PoolsByID(ctx, []common.Hash{id}, block)
		if err != nil {
			return Pool{}, false, err
		}
		if len(pools) == 0 {
			return Pool{}, false, nil
		}
		return pools[0], true, nil
	})
	pools, err := recentblock.NewCache[common.Hash, Pool]("balancer_pools", cfg, fetcher, blocks, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Cache{inner: inner, pools: pools, logger: logger}, nil
}

func (c *Cache) PoolIDsForTokenPairs(ctx context.Context, pairs mapset.Set[model.TokenPair]) (mapset.Set[common.Hash], error) {
	return c.inner.PoolIDsForTokenPairs(ctx, pairs)
}

func (c *Cache) PoolsByID(ctx context.Context, ids []common.Hash, block uint64) ([]Pool, error) {
	return c.get(ctx, ids, recentblock.Number(block))
}

// Fetch returns the pools holding any of the pairs as of block. Pools that
// could not be read and were not cached are left out.
func (c *Cache) Fetch(ctx context.Context, pairs mapset.Set[model.TokenPair], block recentblock.Block) ([]Pool, error) {
	ids, err := c.inner.PoolIDsForTokenPairs(ctx, pairs)
	if err != nil {
		return nil, err
	}
	sorted := ids.ToSlice()
	slices.SortFunc(sorted, func(a, b common.Hash) int { return a.Cmp(b) })
	return c.get(ctx, sorted, block)
}

func (c *Cache) get(ctx context.Context, ids []common.Hash, block recentblock.Block) ([]Pool, error) {
	entries, err := c.pools.Fetch(ctx, ids, block)
	if err != nil {
		return nil, err
	}
	pools := make([]Pool, 0, len(entries))
	for _, e := range entries {
		p := e.Value
		p.Block = e.Block
		p.Degraded = e.Degraded
		pools = append(pools, p)
	}
	return pools, nil
}

// RunMaintenance refreshes the hot pools and runs the inner maintenance
// concurrently.
func (c *Cache) RunMaintenance(ctx context.Context) error {
	var (
		wg                 sync.WaitGroup
		cacheErr, innerErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if cacheErr = c.pools.RunMaintenance(ctx); cacheErr != nil {
			cacheErr = fmt.Errorf("pool cache refresh: %w", cacheErr)
		}
	}()
	go func() {
		defer wg.Done()
		innerErr = c.inner.RunMaintenance(ctx)
	}()
	wg.Wait()
	return errors.Join(cacheErr, innerErr)
}
