package balancer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-balancer-go/model"
	"github.com/defistate/defistate-balancer-go/protocols/balancer/contracts"
	"github.com/defistate/defistate-balancer-go/recentblock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// Node is everything the pool pipeline reads from the chain.
// *ethclient.Client satisfies it.
type Node interface {
	contracts.Caller
	LogFilterer
	BlockNumberReader
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Config holds the configuration for the PoolFetcher.
type Config struct {
	Deployment           Deployment
	Node                 Node
	Blocks               recentblock.BlockSource
	Initializer          PoolInitializer
	Cache                recentblock.CacheConfig
	MaxBlockRange        uint64
	MaxConcurrentFetches int
	MaintenancePolicy    MaintenancePolicy
	Logger               Logger
	Registerer           prometheus.Registerer
}

func (c *Config) validate() error {
	if c.Deployment.Vault == (common.Address{}) {
		return errors.New("config: Deployment.Vault is required")
	}
	if len(c.Deployment.Factories) == 0 {
		return errors.New("config: Deployment.Factories is required")
	}
	if c.Node == nil {
		return errors.New("config: Node is required")
	}
	if c.Blocks == nil {
		return errors.New("config: Blocks is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer is required")
	}
	if c.Initializer == nil {
		c.Initializer = EmptyPoolInitializer{}
	}
	return nil
}

// PoolFetcher is the entry point of the pool pipeline: one registry per
// factory, unioned by an Aggregate, behind a block synchronized Cache.
type PoolFetcher struct {
	registries []*Registry
	aggregate  *Aggregate
	cache      *Cache
	logger     Logger
}

// NewPoolFetcher checks the configured contracts exist, loads the bootstrap
// snapshot and builds the pipeline. It fails rather than returning a
// partially built fetcher.
func NewPoolFetcher(ctx context.Context, cfg Config) (*PoolFetcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := requireCode(ctx, cfg.Node, "vault", cfg.Deployment.Vault); err != nil {
		return nil, err
	}
	for _, f := range cfg.Deployment.Factories {
		if err := requireCode(ctx, cfg.Node, f.Name+" factory", f.Address); err != nil {
			return nil, err
		}
	}

	snapshot, err := cfg.Initializer.InitializePools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pool snapshot: %w", err)
	}

	metrics := NewMetrics(cfg.Registerer)
	info := NewPoolInfoFetcher(cfg.Deployment.Vault, cfg.Node, NewTokenInfoFetcher(cfg.Node))

	registries := make([]*Registry, 0, len(cfg.Deployment.Factories))
	sources := make([]Source, 0, len(cfg.Deployment.Factories))
	for _, f := range cfg.Deployment.Factories {
		r, err := NewRegistry(RegistryConfig{
			Name:                 f.Name,
			Factory:              f.Address,
			Kind:                 f.Kind,
			DeploymentBlock:      f.Block,
			MaxBlockRange:        cfg.MaxBlockRange,
			MaxConcurrentFetches: cfg.MaxConcurrentFetches,
			Logs:                 cfg.Node,
			Head:                 cfg.Node,
			Info:                 info,
			Logger:               cfg.Logger,
			Metrics:              metrics,
		}, snapshot.ForFactory(f.Name), snapshot.FetchedBlockNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s registry: %w", f.Name, err)
		}
		registries = append(registries, r)
		sources = append(sources, r)
	}

	aggregate, err := NewAggregate(sources, cfg.MaintenancePolicy, cfg.Logger, metrics)
	if err != nil {
		return nil, err
	}
	cache, err := NewCache(aggregate, cfg.Cache, cfg.Blocks, cfg.Logger, recentblock.NewMetrics(cfg.Registerer))
	if err != nil {
		return nil, err
	}

	return &PoolFetcher{
		registries: registries,
		aggregate:  aggregate,
		cache:      cache,
		logger:     cfg.Logger,
	}, nil
}

func requireCode(ctx context.Context, node Node, what string, addr common.Address) error {
	code, err := node.CodeAt(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("failed to read code of %s %s: %w", what, addr.Hex(), err)
	}
	if len(code) == 0 {
		return fmt.Errorf("%s %s: %w", what, addr.Hex(), ErrMissingContract)
	}
	return nil
}

// Fetch returns the pools holding any of pairs as of block, split by kind.
func (f *PoolFetcher) Fetch(ctx context.Context, pairs mapset.Set[model.TokenPair], block recentblock.Block) (FetchedBalancerPools, error) {
	pools, err := f.cache.Fetch(ctx, pairs, block)
	if err != nil {
		return FetchedBalancerPools{}, err
	}
	return Partition(pools), nil
}

// RunMaintenance refreshes hot pools and syncs every registry. It is meant
// to be called on every new block.
func (f *PoolFetcher) RunMaintenance(ctx context.Context) error {
	return f.cache.RunMaintenance(ctx)
}

// Snapshot exports the registries so a later run can bootstrap from them.
// FetchedBlockNumber is the lowest registry cursor, so replaying from it
// never skips an event.
func (f *PoolFetcher) Snapshot() RegisteredPools {
	var out RegisteredPools
	for i, r := range f.registries {
		synced := r.SyncedBlock()
		if i == 0 || synced < out.FetchedBlockNumber {
			out.FetchedBlockNumber = synced
		}
		switch r.Name() {
		case WeightedFactory:
			out.WeightedPools = r.Pools()
		case WeightedTwoTokenFactory:
			out.Weighted2TokenPools = r.Pools()
		case StableFactory:
			out.StablePools = r.Pools()
		}
	}
	return out
}

// SyncedBlocks returns each registry's cursor, keyed by registry name.
func (f *PoolFetcher) SyncedBlocks() map[string]uint64 {
	out := make(map[string]uint64, len(f.registries))
	for _, r := range f.registries {
		out[r.Name()] = r.SyncedBlock()
	}
	return out
}
