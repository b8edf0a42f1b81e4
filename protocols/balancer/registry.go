package balancer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-balancer-go/model"
	"github.com/defistate/defistate-balancer-go/protocols/balancer/contracts"
	"github.com/defistate/defistate-balancer-go/protocols/tokenpoolregistry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxBlockRange        = 10_000
	defaultMaxConcurrentFetches = 16
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PoolFetching is implemented by every layer of the pool pipeline.
type PoolFetching interface {
	// PoolIDsForTokenPairs returns the pools holding both tokens of any of
	// the pairs. It only reads committed state.
	PoolIDsForTokenPairs(ctx context.Context, pairs mapset.Set[model.TokenPair]) (mapset.Set[common.Hash], error)
	// PoolsByID returns the state of the known pools among ids as of block.
	PoolsByID(ctx context.Context, ids []common.Hash, block uint64) ([]Pool, error)
}

// Maintaining is implemented by components that have periodic work to do.
type Maintaining interface {
	RunMaintenance(ctx context.Context) error
}

type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// RegistryConfig holds the configuration for a factory registry.
type RegistryConfig struct {
	Name    string
	Factory common.Address
	Kind    PoolKind
	// DeploymentBlock is where the sync starts when the bootstrap snapshot is
	// empty.
	DeploymentBlock      uint64
	MaxBlockRange        uint64
	MaxConcurrentFetches int

	Logs    LogFilterer
	Head    BlockNumberReader
	Info    *PoolInfoFetcher
	Logger  Logger
	Metrics *Metrics
}

func (c *RegistryConfig) validate() error {
	if c.Name == "" {
		return errors.New("config: Name is required")
	}
	if c.Factory == (common.Address{}) {
		return errors.New("config: Factory is required")
	}
	if c.Kind != Weighted && c.Kind != Stable {
		return fmt.Errorf("config: %w: %d", ErrUnknownPoolKind, c.Kind)
	}
	if c.Logs == nil {
		return errors.New("config: Logs is required")
	}
	if c.Head == nil {
		return errors.New("config: Head is required")
	}
	if c.Info == nil {
		return errors.New("config: Info is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Metrics == nil {
		return errors.New("config: Metrics is required")
	}
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = defaultMaxBlockRange
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = defaultMaxConcurrentFetches
	}
	return nil
}

// registryState is an immutable version of the registry contents. A new
// version is built for every committed batch and swapped in atomically.
type registryState struct {
	pools  map[common.Hash]PoolInfo
	byAddr map[common.Address]common.Hash
	graph  *tokenpoolregistry.TokenPoolRegistry
	synced uint64
}

func (s *registryState) clone() *registryState {
	c := &registryState{
		pools:  make(map[common.Hash]PoolInfo, len(s.pools)),
		byAddr: make(map[common.Address]common.Hash, len(s.byAddr)),
		graph:  s.graph.Clone(),
		synced: s.synced,
	}
	for k, v := range s.pools {
		c.pools[k] = v
	}
	for k, v := range s.byAddr {
		c.byAddr[k] = v
	}
	return c
}

func (s *registryState) insert(info PoolInfo) {
	if _, ok := s.pools[info.ID]; ok {
		return
	}
	s.pools[info.ID] = info
	s.byAddr[info.Address] = info.ID
	s.graph.Add(info.ID, info.Tokens)
}

// Registry indexes the pools created by one factory. Reads go through an
// atomically swapped snapshot and never wait for a sync. RunMaintenance is
// the only writer.
type Registry struct {
	name    string
	factory common.Address
	kind    PoolKind

	maxBlockRange        uint64
	maxConcurrentFetches int

	logs    LogFilterer
	head    BlockNumberReader
	info    *PoolInfoFetcher
	logger  Logger
	metrics *Metrics

	syncMu sync.Mutex
	state  atomic.Pointer[registryState]
}

// NewRegistry creates a registry holding the bootstrap pools, synced through
// syncedBlock. A zero syncedBlock starts the sync at the factory deployment.
func NewRegistry(cfg RegistryConfig, initial []PoolInfo, syncedBlock uint64) (*Registry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		name:                 cfg.Name,
		factory:              cfg.Factory,
		kind:                 cfg.Kind,
		maxBlockRange:        cfg.MaxBlockRange,
		maxConcurrentFetches: cfg.MaxConcurrentFetches,
		logs:                 cfg.Logs,
		head:                 cfg.Head,
		info:                 cfg.Info,
		logger:               cfg.Logger,
		metrics:              cfg.Metrics,
	}

	state := &registryState{
		pools:  make(map[common.Hash]PoolInfo, len(initial)),
		byAddr: make(map[common.Address]common.Hash, len(initial)),
		graph:  tokenpoolregistry.NewTokenPoolRegistry(),
		synced: syncedBlock,
	}
	if cfg.DeploymentBlock > 0 && state.synced < cfg.DeploymentBlock-1 {
		state.synced = cfg.DeploymentBlock - 1
	}
	for _, info := range initial {
		if info.Kind != cfg.Kind {
			return nil, fmt.Errorf("registry %s: bootstrap pool %s is %s, expected %s", cfg.Name, info.ID.Hex(), info.Kind, cfg.Kind)
		}
		if err := info.validate(); err != nil {
			return nil, fmt.Errorf("registry %s: bootstrap pool %s: %w", cfg.Name, info.ID.Hex(), err)
		}
		state.insert(info)
	}
	r.state.Store(state)
	r.recordState(state)

	r.logger.Info("Registry initialized", "registry", r.name, "pools", len(state.pools), "synced_block", state.synced)
	return r, nil
}

func (r *Registry) Name() string { return r.name }

// SyncedBlock returns the registry cursor.
func (r *Registry) SyncedBlock() uint64 {
	return r.state.Load().synced
}

// HasPool reports whether id was created by this registry's factory.
func (r *Registry) HasPool(id common.Hash) bool {
	_, ok := r.state.Load().pools[id]
	return ok
}

// Pools returns the metadata of every known pool ordered by creation block.
func (r *Registry) Pools() []PoolInfo {
	state := r.state.Load()
	out := make([]PoolInfo, 0, len(state.pools))
	for _, info := range state.pools {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockCreated != out[j].BlockCreated {
			return out[i].BlockCreated < out[j].BlockCreated
		}
		return out[i].ID.Cmp(out[j].ID) < 0
	})
	return out
}

func (r *Registry) PoolIDsForTokenPairs(ctx context.Context, pairs mapset.Set[model.TokenPair]) (mapset.Set[common.Hash], error) {
	state := r.state.Load()
	ids := mapset.NewThreadUnsafeSet[common.Hash]()
	pairs.Each(func(pair model.TokenPair) bool {
		a, b := pair.Get()
		for _, id := range state.graph.PoolsForPair(a, b) {
			ids.Add(id)
		}
		return false
	})
	return ids, nil
}

func (r *Registry) PoolsByID(ctx context.Context, ids []common.Hash, block uint64) ([]Pool, error) {
	state := r.state.Load()
	var infos []PoolInfo
	for _, id := range ids {
		if info, ok := state.pools[id]; ok {
			infos = append(infos, info)
		}
	}
	if len(infos) == 0 {
		return nil, nil
	}

	pools := make([]Pool, len(infos))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrentFetches)
	for i, info := range infos {
		g.Go(func() error {
			pool, err := r.info.FetchPoolState(gCtx, info, block)
			if err != nil {
				return err
			}
			pools[i] = pool
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.metrics.ErrorsTotal.WithLabelValues(r.name, "pool_state").Inc()
		return nil, fmt.Errorf("registry %s: %w", r.name, err)
	}
	return pools, nil
}

// RunMaintenance incorporates the PoolCreated events emitted after the
// cursor up to the current chain head. Each block range is committed on its
// own once every new pool in it has been loaded; a failure leaves the cursor
// on the last fully committed range, so the failing range is replayed on the
// next run.
func (r *Registry) RunMaintenance(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	start := time.Now()
	defer func() {
		r.metrics.SyncDuration.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
	}()

	head, err := r.head.BlockNumber(ctx)
	if err != nil {
		r.metrics.ErrorsTotal.WithLabelValues(r.name, "head").Inc()
		return fmt.Errorf("registry %s: failed to read chain head: %w", r.name, err)
	}

	for from := r.state.Load().synced + 1; from <= head; {
		to := min(from+r.maxBlockRange-1, head)
		if err := r.syncRange(ctx, from, to); err != nil {
			return err
		}
		from = to + 1
	}
	return nil
}

func (r *Registry) syncRange(ctx context.Context, from, to uint64) error {
	logs, err := r.logs.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{r.factory},
		Topics:    [][]common.Hash{{contracts.PoolCreatedTopic}},
	})
	if err != nil {
		r.metrics.ErrorsTotal.WithLabelValues(r.name, "filter_logs").Inc()
		return fmt.Errorf("registry %s: failed to filter logs in [%d, %d]: %w", r.name, from, to, err)
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	current := r.state.Load()

	type created struct {
		addr  common.Address
		block uint64
	}
	var fresh []created
	seen := make(map[common.Address]struct{})
	for _, l := range logs {
		if l.Removed {
			continue
		}
		addr, err := contracts.ParsePoolCreated(l)
		if err != nil {
			// Skipped so the cursor still advances past it.
			r.metrics.ErrorsTotal.WithLabelValues(r.name, "malformed_log").Inc()
			r.logger.Error("Skipping malformed PoolCreated log", "registry", r.name, "block", l.BlockNumber, "tx", l.TxHash, "err", err)
			continue
		}
		if _, known := current.byAddr[addr]; known {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		fresh = append(fresh, created{addr: addr, block: l.BlockNumber})
	}

	infos := make([]PoolInfo, len(fresh))
	errs := make([]error, len(fresh))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrentFetches)
	for i, c := range fresh {
		g.Go(func() error {
			infos[i], errs[i] = r.info.FetchPoolInfo(gCtx, r.kind, c.addr, c.block)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			r.metrics.ErrorsTotal.WithLabelValues(r.name, "discovery").Inc()
			return &DiscoveryError{Registry: r.name, Block: fresh[i].block, Pool: fresh[i].addr, Err: err}
		}
	}

	var next *registryState
	if len(infos) == 0 {
		next = &registryState{pools: current.pools, byAddr: current.byAddr, graph: current.graph}
	} else {
		next = current.clone()
		for _, info := range infos {
			next.insert(info)
			r.logger.Debug("Pool discovered", "registry", r.name, "pool", info.Address, "block", info.BlockCreated)
		}
		r.metrics.PoolsDiscovered.WithLabelValues(r.name).Add(float64(len(infos)))
	}
	next.synced = to
	r.state.Store(next)
	r.recordState(next)
	return nil
}

func (r *Registry) recordState(state *registryState) {
	r.metrics.SyncedBlock.WithLabelValues(r.name).Set(float64(state.synced))
	r.metrics.PoolsInRegistry.WithLabelValues(r.name).Set(float64(len(state.pools)))
}
