package balancer

import (
	"context"
	"testing"

	"github.com/defistate/defistate-balancer-go/protocols/balancer/contracts/contractstest"
	"github.com/defistate/defistate-balancer-go/recentblock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weightedFactoryAddr = common.HexToAddress("0xfac7000000000000000000000000000000000010")
	twoTokenFactoryAddr = common.HexToAddress("0xfac7000000000000000000000000000000000020")
	stableFactoryAddr   = common.HexToAddress("0xfac7000000000000000000000000000000000030")

	weightedPoolAddr = common.HexToAddress("0x2000000000000000000000000000000000000001")
	stablePoolAddr   = common.HexToAddress("0x3000000000000000000000000000000000000001")
)

type staticInitializer RegisteredPools

func (s staticInitializer) InitializePools(context.Context) (RegisteredPools, error) {
	return RegisteredPools(s), nil
}

func testDeployment(vault common.Address) Deployment {
	return Deployment{
		Vault: vault,
		Factories: []FactoryDeployment{
			{Name: WeightedFactory, Kind: Weighted, Address: weightedFactoryAddr, Block: 1},
			{Name: WeightedTwoTokenFactory, Kind: Weighted, Address: twoTokenFactoryAddr, Block: 1},
			{Name: StableFactory, Kind: Stable, Address: stableFactoryAddr, Block: 1},
		},
	}
}

// newSharedTokenChain deploys a weighted pool holding A, B and C and a stable
// pool holding A and B, both already known to the bootstrap snapshot at
// block 100.
func newSharedTokenChain(t *testing.T) (*contractstest.FakeChain, RegisteredPools) {
	t.Helper()
	ctx := context.Background()

	chain := newTestChain()
	for _, f := range []common.Address{weightedFactoryAddr, twoTokenFactoryAddr, stableFactoryAddr} {
		chain.AddContract(f)
	}
	chain.CreatePool(common.Address{}, 0, weightedPoolAddr, weightedFakePool(weightedPoolAddr,
		[]common.Address{tokenA, tokenB, tokenC}, "500000000000000000", "250000000000000000", "250000000000000000"))
	chain.CreatePool(common.Address{}, 0, stablePoolAddr, stableFakePool(stablePoolAddr,
		[]common.Address{tokenA, tokenB}))
	chain.SetHead(100)

	info := NewPoolInfoFetcher(testVault, chain, NewTokenInfoFetcher(chain))
	weighted, err := info.FetchPoolInfo(ctx, Weighted, weightedPoolAddr, 40)
	require.NoError(t, err)
	stable, err := info.FetchPoolInfo(ctx, Stable, stablePoolAddr, 60)
	require.NoError(t, err)

	return chain, RegisteredPools{
		FetchedBlockNumber: 100,
		WeightedPools:      []PoolInfo{weighted},
		StablePools:        []PoolInfo{stable},
	}
}

func newTestConfig(chain *contractstest.FakeChain, head *testHead, snapshot RegisteredPools) Config {
	return Config{
		Deployment:  testDeployment(testVault),
		Node:        chain,
		Blocks:      head,
		Initializer: staticInitializer(snapshot),
		Cache:       recentblock.DefaultCacheConfig(),
		Logger:      testLogger(),
		Registerer:  prometheus.NewRegistry(),
	}
}

func TestPoolFetcher_SharedTokenAcrossKinds(t *testing.T) {
	ctx := context.Background()
	chain, snapshot := newSharedTokenChain(t)
	head := newTestHead(100)

	fetcher, err := NewPoolFetcher(ctx, newTestConfig(chain, head, snapshot))
	require.NoError(t, err)

	pools, err := fetcher.Fetch(ctx, pairSet(t, [2]common.Address{tokenA, tokenB}), recentblock.Number(100))
	require.NoError(t, err)

	require.Len(t, pools.WeightedPools, 1)
	require.Len(t, pools.StablePools, 1)
	assert.Empty(t, pools.Degraded)
	assert.Equal(t, weightedPoolAddr, pools.WeightedPools[0].Common.Address)
	assert.Equal(t, stablePoolAddr, pools.StablePools[0].Common.Address)
	assert.Equal(t, "0.5", pools.WeightedPools[0].Reserves[tokenA].Weight.String())
	assert.Equal(t, "0.0004", pools.StablePools[0].Common.SwapFee.String())

	tokens := pools.RelevantTokens()
	assert.Equal(t, 3, tokens.Cardinality())
	assert.True(t, tokens.Contains(tokenA, tokenB, tokenC))

	t.Run("PairOutsideStablePool", func(t *testing.T) {
		pools, err := fetcher.Fetch(ctx, pairSet(t, [2]common.Address{tokenA, tokenC}), recentblock.Number(100))
		require.NoError(t, err)
		assert.Len(t, pools.WeightedPools, 1)
		assert.Empty(t, pools.StablePools)
	})

	t.Run("NoMatchingPool", func(t *testing.T) {
		pools, err := fetcher.Fetch(ctx, pairSet(t, [2]common.Address{tokenC, tokenD}), recentblock.Number(100))
		require.NoError(t, err)
		assert.Empty(t, pools.WeightedPools)
		assert.Empty(t, pools.StablePools)
	})
}

func TestPoolFetcher_MaintenanceAndSnapshot(t *testing.T) {
	ctx := context.Background()
	chain, snapshot := newSharedTokenChain(t)
	head := newTestHead(100)

	fetcher, err := NewPoolFetcher(ctx, newTestConfig(chain, head, snapshot))
	require.NoError(t, err)

	initial := fetcher.Snapshot()
	assert.Equal(t, uint64(100), initial.FetchedBlockNumber)
	assert.Len(t, initial.WeightedPools, 1)
	assert.Empty(t, initial.Weighted2TokenPools)
	assert.Len(t, initial.StablePools, 1)

	newStable := common.HexToAddress("0x3000000000000000000000000000000000000002")
	chain.CreatePool(stableFactoryAddr, 110, newStable, stableFakePool(newStable, []common.Address{tokenA, tokenB}))
	chain.SetHead(120)
	head.n.Store(120)

	require.NoError(t, fetcher.RunMaintenance(ctx))
	assert.Equal(t, map[string]uint64{
		WeightedFactory:         120,
		WeightedTwoTokenFactory: 120,
		StableFactory:           120,
	}, fetcher.SyncedBlocks())

	pools, err := fetcher.Fetch(ctx, pairSet(t, [2]common.Address{tokenA, tokenB}), recentblock.Recent())
	require.NoError(t, err)
	assert.Len(t, pools.WeightedPools, 1)
	assert.Len(t, pools.StablePools, 2)

	after := fetcher.Snapshot()
	assert.Equal(t, uint64(120), after.FetchedBlockNumber)
	require.Len(t, after.StablePools, 2)
	assert.Equal(t, newStable, after.StablePools[1].Address)

	t.Run("SnapshotBootstrapsAnEquivalentFetcher", func(t *testing.T) {
		restarted, err := NewPoolFetcher(ctx, newTestConfig(chain, head, after))
		require.NoError(t, err)
		assert.Equal(t, after, restarted.Snapshot())
	})
}

func TestNewPoolFetcher_Errors(t *testing.T) {
	ctx := context.Background()
	chain, snapshot := newSharedTokenChain(t)
	head := newTestHead(100)

	t.Run("MissingVault", func(t *testing.T) {
		cfg := newTestConfig(chain, head, snapshot)
		cfg.Deployment = testDeployment(common.HexToAddress("0x00000000000000000000000000000000000bad01"))
		_, err := NewPoolFetcher(ctx, cfg)
		assert.ErrorIs(t, err, ErrMissingContract)
	})

	t.Run("MissingFactory", func(t *testing.T) {
		cfg := newTestConfig(chain, head, snapshot)
		cfg.Deployment.Factories = append(cfg.Deployment.Factories, FactoryDeployment{
			Name: "unknown", Kind: Stable, Address: common.HexToAddress("0x00000000000000000000000000000000000bad02"), Block: 1,
		})
		_, err := NewPoolFetcher(ctx, cfg)
		assert.ErrorIs(t, err, ErrMissingContract)
	})

	t.Run("BootstrapKindMismatch", func(t *testing.T) {
		bad := snapshot
		bad.StablePools = snapshot.WeightedPools
		_, err := NewPoolFetcher(ctx, newTestConfig(chain, head, bad))
		assert.Error(t, err)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(*Config)
		}{
			{name: "NoNode", mutate: func(c *Config) { c.Node = nil }},
			{name: "NoBlocks", mutate: func(c *Config) { c.Blocks = nil }},
			{name: "NoLogger", mutate: func(c *Config) { c.Logger = nil }},
			{name: "NoRegisterer", mutate: func(c *Config) { c.Registerer = nil }},
			{name: "NoFactories", mutate: func(c *Config) { c.Deployment.Factories = nil }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				cfg := newTestConfig(chain, head, snapshot)
				tt.mutate(&cfg)
				_, err := NewPoolFetcher(ctx, cfg)
				assert.ErrorContains(t, err, "config:")
			})
		}
	})
}
