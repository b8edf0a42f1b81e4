package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/defistate/defistate-balancer-go/chains"
	"github.com/defistate/defistate-balancer-go/protocols/balancer"
	"github.com/defistate/defistate-balancer-go/protocols/balancer/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ chains.SnapshotStore = (*SnapshotStore)(nil)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func samplePools() balancer.RegisteredPools {
	tokenA := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	weighted := common.HexToAddress("0x2000000000000000000000000000000000000001")
	stable := common.HexToAddress("0x3000000000000000000000000000000000000001")
	half := fixedpoint.FromWei(uint256.NewInt(5e17))

	return balancer.RegisteredPools{
		FetchedBlockNumber: 15_000_000,
		WeightedPools: []balancer.PoolInfo{{
			ID:               common.HexToHash("0x2000000000000000000000000000000000000001000100000000000000000001"),
			Address:          weighted,
			Kind:             balancer.Weighted,
			Tokens:           []common.Address{tokenA, tokenB},
			ScalingExponents: []uint8{0, 12},
			Weights:          []fixedpoint.Bfp{half, half},
			BlockCreated:     12_272_146,
		}},
		StablePools: []balancer.PoolInfo{{
			ID:               common.HexToHash("0x3000000000000000000000000000000000000001000200000000000000000002"),
			Address:          stable,
			Kind:             balancer.Stable,
			Tokens:           []common.Address{tokenA, tokenB},
			ScalingExponents: []uint8{0, 0},
			BlockCreated:     13_000_000,
		}},
	}
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)

	store, err := NewSnapshotStore(client, "test:pools")
	require.NoError(t, err)

	empty, err := store.InitializePools(ctx)
	require.NoError(t, err)
	assert.Equal(t, balancer.RegisteredPools{}, empty, "missing key is an empty snapshot")

	pools := samplePools()
	require.NoError(t, store.SavePools(ctx, pools))
	assert.True(t, mr.Exists("test:pools"))

	loaded, err := store.InitializePools(ctx)
	require.NoError(t, err)
	assert.Equal(t, pools, loaded)
	assert.Equal(t, "0.5", loaded.WeightedPools[0].Weights[0].String())

	pools.FetchedBlockNumber++
	require.NoError(t, store.SavePools(ctx, pools))
	loaded, err = store.InitializePools(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(15_000_001), loaded.FetchedBlockNumber)
}

func TestSnapshotStore_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("NilClient", func(t *testing.T) {
		_, err := NewSnapshotStore(nil, "")
		assert.Error(t, err)
	})

	t.Run("DefaultKey", func(t *testing.T) {
		mr, client := setupTestRedis(t)
		store, err := NewSnapshotStore(client, "")
		require.NoError(t, err)
		require.NoError(t, store.SavePools(ctx, samplePools()))
		assert.True(t, mr.Exists(DefaultSnapshotKey))
	})

	t.Run("CorruptSnapshot", func(t *testing.T) {
		mr, client := setupTestRedis(t)
		require.NoError(t, mr.Set("test:pools", "{not-json"))
		store, err := NewSnapshotStore(client, "test:pools")
		require.NoError(t, err)
		_, err = store.InitializePools(ctx)
		assert.ErrorContains(t, err, "unmarshal snapshot")
	})

	t.Run("ServerDown", func(t *testing.T) {
		mr, client := setupTestRedis(t)
		store, err := NewSnapshotStore(client, "test:pools")
		require.NoError(t, err)
		mr.Close()
		_, err = store.InitializePools(ctx)
		assert.ErrorContains(t, err, "get snapshot")
		assert.ErrorContains(t, store.SavePools(ctx, samplePools()), "save snapshot")
	})
}
