package ethereum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-balancer-go/chains"
	"github.com/defistate/defistate-balancer-go/model"
	"github.com/defistate/defistate-balancer-go/protocols/balancer"
	"github.com/defistate/defistate-balancer-go/recentblock"
	"github.com/defistate/defistate-balancer-go/streams/blocks"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrHeadStreamStopped is sent on Err when the block stream ends before the
// client's context.
var ErrHeadStreamStopped = errors.New("head stream stopped")

// PoolSource is the pool pipeline the client drives.
type PoolSource interface {
	Fetch(ctx context.Context, pairs mapset.Set[model.TokenPair], block recentblock.Block) (balancer.FetchedBalancerPools, error)
	RunMaintenance(ctx context.Context) error
	Snapshot() balancer.RegisteredPools
}

// Client runs pool maintenance on every new block and serves pool and gas
// price reads. Its lifecycle is bound to the context passed during Dial.
type Client struct {
	heads  chains.HeadStream
	pools  PoolSource
	gas    *GasPriceEstimator
	logger chains.Logger

	maintainedCh chan uint64
	errCh        chan error

	// Immutable settings (set via Options during Dial)
	deployment           *balancer.Deployment
	store                chains.SnapshotStore
	snapshotEvery        uint64
	cacheConfig          recentblock.CacheConfig
	maxBlockRange        uint64
	maxConcurrentFetches int
	policy               balancer.MaintenancePolicy
	nodeConfig           NodeConfig

	sinceSnapshot uint64

	// closers release the node connections once the loop exits.
	closers []func()

	ctx context.Context
	wg  sync.WaitGroup
}

// Option configures the Client.
// The interface method is unexported to prevent external modification after Dial.
type Option interface {
	apply(*Client)
}

type funcOption func(*Client)

func (f funcOption) apply(p *Client) {
	f(p)
}

func newOption(f func(*Client)) Option {
	return funcOption(f)
}

func defaultClient(logger chains.Logger) *Client {
	return &Client{
		logger:        logger,
		maintainedCh:  make(chan uint64, 1),
		errCh:         make(chan error, 1),
		snapshotEvery: 1,
		cacheConfig:   recentblock.DefaultCacheConfig(),
	}
}

// Dial connects to the node at url, which must accept subscriptions, builds
// the pool pipeline for the node's chain and starts the maintenance loop.
// The returned Client will remain active until the provided ctx is cancelled.
func Dial(
	ctx context.Context,
	url string,
	logger chains.Logger,
	prometheusRegistry prometheus.Registerer,
	opts ...Option,
) (*Client, error) {
	p := defaultClient(logger)
	for _, opt := range opts {
		opt.apply(p)
	}

	ethClient, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node: %w", err)
	}
	started := false
	defer func() {
		if !started {
			ethClient.Close()
		}
	}()
	node, err := NewNodeClient(ethClient, p.nodeConfig, NewNodeMetrics(prometheusRegistry))
	if err != nil {
		return nil, fmt.Errorf("failed to create node client: %w", err)
	}

	deployment := p.deployment
	if deployment == nil {
		chainID, err := node.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read chain id: %w", err)
		}
		d, err := balancer.DeploymentFor(chainID.Uint64())
		if err != nil {
			return nil, err
		}
		deployment = &d
	}

	tracker, err := blocks.NewTracker(ctx, blocks.Config{
		URL:        url,
		Logger:     logger,
		BufferSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start head tracker: %w", err)
	}

	var initializer balancer.PoolInitializer = balancer.EmptyPoolInitializer{}
	if p.store != nil {
		initializer = p.store
	}
	fetcher, err := balancer.NewPoolFetcher(ctx, balancer.Config{
		Deployment:           *deployment,
		Node:                 node,
		Blocks:               tracker,
		Initializer:          initializer,
		Cache:                p.cacheConfig,
		MaxBlockRange:        p.maxBlockRange,
		MaxConcurrentFetches: p.maxConcurrentFetches,
		MaintenancePolicy:    p.policy,
		Logger:               logger,
		Registerer:           prometheusRegistry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pool fetcher: %w", err)
	}

	p.gas = NewGasPriceEstimator(node)
	p.closers = append(p.closers, ethClient.Close)
	p.start(ctx, tracker, fetcher)
	started = true

	p.logger.Info("Client started", "url", url, "vault", deployment.Vault)
	return p, nil
}

func (p *Client) start(ctx context.Context, heads chains.HeadStream, pools PoolSource) {
	p.heads = heads
	p.pools = pools

	// Bind the Client's lifecycle to the user-provided context
	p.ctx = ctx
	p.wg.Add(1)
	go p.loop()
}

// Maintained publishes the blocks whose maintenance succeeded. It is
// best-effort; if the consumer is slow, blocks may be dropped.
func (p *Client) Maintained() <-chan uint64 {
	return p.maintainedCh
}

func (p *Client) Err() <-chan error {
	return p.errCh
}

// CurrentBlock returns the latest known chain head.
func (p *Client) CurrentBlock() uint64 {
	return p.heads.Current()
}

// Pools returns the pools holding any of pairs as of block.
func (p *Client) Pools(ctx context.Context, pairs mapset.Set[model.TokenPair], block recentblock.Block) (balancer.FetchedBalancerPools, error) {
	return p.pools.Fetch(ctx, pairs, block)
}

// Estimate returns the current gas price.
func (p *Client) Estimate(ctx context.Context) (model.GasPrice1559, error) {
	if p.gas == nil {
		return model.GasPrice1559{}, errors.New("client has no gas price estimator")
	}
	return p.gas.Estimate(ctx)
}

func (p *Client) loop() {
	defer p.wg.Done()
	defer func() {
		for _, closeFn := range p.closers {
			closeFn()
		}
		close(p.maintainedCh)
		close(p.errCh)
		p.logger.Info("Client stopped")
	}()

	for {
		select {
		case <-p.ctx.Done():
			return

		case <-p.heads.Done():
			p.logger.Error("Fatal client error", "err", ErrHeadStreamStopped)
			select {
			case p.errCh <- ErrHeadStreamStopped:
			case <-p.ctx.Done():
			}
			return

		case head := <-p.heads.Heads():
			if !p.maintain(head.Number) {
				continue
			}
			select {
			case p.maintainedCh <- head.Number:
			case <-p.ctx.Done():
				return
			default:
				p.logger.Warn("Maintained buffer full, discarding notification...", "block", head.Number)
			}
		}
	}
}

// maintain runs one maintenance pass and persists a snapshot when due. A
// failed pass is logged and retried on the next head.
func (p *Client) maintain(block uint64) bool {
	start := time.Now()
	if err := p.pools.RunMaintenance(p.ctx); err != nil {
		if p.ctx.Err() != nil {
			return false
		}
		p.logger.Error("Maintenance failed", "block", block, "err", err)
		return false
	}
	p.logger.Debug("Maintenance done", "block", block, "duration_ms", time.Since(start).Milliseconds())

	if p.store == nil {
		return true
	}
	p.sinceSnapshot++
	if p.sinceSnapshot < p.snapshotEvery {
		return true
	}
	snapshot := p.pools.Snapshot()
	if err := p.store.SavePools(p.ctx, snapshot); err != nil {
		p.logger.Error("Failed to save pool snapshot", "block", block, "err", err)
		return true
	}
	p.sinceSnapshot = 0
	p.logger.Info("Pool snapshot saved", "block", block, "fetched_block", snapshot.FetchedBlockNumber)
	return true
}

// Options Constructors for the Client

// WithDeployment overrides the deployment looked up by chain id.
func WithDeployment(d balancer.Deployment) Option {
	return newOption(func(p *Client) {
		p.deployment = &d
	})
}

// WithSnapshotStore bootstraps the registries from store and saves a
// snapshot to it after every `every` successful maintenance passes.
func WithSnapshotStore(store chains.SnapshotStore, every uint64) Option {
	return newOption(func(p *Client) {
		p.store = store
		p.snapshotEvery = max(every, 1)
	})
}

func WithCacheConfig(cfg recentblock.CacheConfig) Option {
	return newOption(func(p *Client) {
		p.cacheConfig = cfg
	})
}

func WithMaxBlockRange(n uint64) Option {
	return newOption(func(p *Client) {
		p.maxBlockRange = n
	})
}

func WithMaxConcurrentFetches(n int) Option {
	return newOption(func(p *Client) {
		p.maxConcurrentFetches = n
	})
}

func WithMaintenancePolicy(policy balancer.MaintenancePolicy) Option {
	return newOption(func(p *Client) {
		p.policy = policy
	})
}

func WithNodeConfig(cfg NodeConfig) Option {
	return newOption(func(p *Client) {
		p.nodeConfig = cfg
	})
}
