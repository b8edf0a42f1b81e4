package ethereum

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-balancer-go/model"
	"github.com/defistate/defistate-balancer-go/protocols/balancer"
	"github.com/defistate/defistate-balancer-go/recentblock"
	"github.com/defistate/defistate-balancer-go/streams/blocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHeads struct {
	heads chan blocks.Head
	done  chan struct{}
}

func newMockHeads() *mockHeads {
	return &mockHeads{heads: make(chan blocks.Head), done: make(chan struct{})}
}

func (m *mockHeads) Current() uint64           { return 0 }
func (m *mockHeads) Heads() <-chan blocks.Head { return m.heads }
func (m *mockHeads) Done() <-chan struct{}     { return m.done }

type mockPools struct {
	mu       sync.Mutex
	runs     int
	failNext error
	synced   uint64
}

func (m *mockPools) Fetch(ctx context.Context, pairs mapset.Set[model.TokenPair], block recentblock.Block) (balancer.FetchedBalancerPools, error) {
	return balancer.FetchedBalancerPools{}, nil
}

func (m *mockPools) RunMaintenance(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.synced += 10
	return nil
}

func (m *mockPools) Snapshot() balancer.RegisteredPools {
	m.mu.Lock()
	defer m.mu.Unlock()
	return balancer.RegisteredPools{FetchedBlockNumber: m.synced}
}

func (m *mockPools) setFailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

type mockStore struct {
	mu    sync.Mutex
	saved []uint64
}

func (m *mockStore) InitializePools(context.Context) (balancer.RegisteredPools, error) {
	return balancer.RegisteredPools{}, nil
}

func (m *mockStore) SavePools(ctx context.Context, pools balancer.RegisteredPools) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, pools.FetchedBlockNumber)
	return nil
}

func (m *mockStore) Saved() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.saved...)
}

func newLoopClient(ctx context.Context, heads *mockHeads, pools *mockPools, opts ...Option) *Client {
	p := defaultClient(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	for _, opt := range opts {
		opt.apply(p)
	}
	p.start(ctx, heads, pools)
	return p
}

func expectMaintained(t *testing.T, c *Client, block uint64) {
	t.Helper()
	select {
	case got := <-c.Maintained():
		assert.Equal(t, block, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for maintenance of block %d", block)
	}
}

func TestClient_MaintainsOnEveryHead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heads, pools := newMockHeads(), &mockPools{}
	c := newLoopClient(ctx, heads, pools)

	for _, n := range []uint64{100, 101, 102} {
		heads.heads <- blocks.Head{Number: n}
		expectMaintained(t, c, n)
	}
	assert.Equal(t, 3, pools.runs)
}

func TestClient_FailedMaintenanceIsSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heads, pools, store := newMockHeads(), &mockPools{}, &mockStore{}
	c := newLoopClient(ctx, heads, pools, WithSnapshotStore(store, 1))

	pools.setFailNext(errors.New("registry weighted: failed to read chain head"))
	heads.heads <- blocks.Head{Number: 100}
	heads.heads <- blocks.Head{Number: 101}
	expectMaintained(t, c, 101)

	assert.Equal(t, []uint64{10}, store.Saved(), "no snapshot after a failed pass")
}

func TestClient_SnapshotInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heads, pools, store := newMockHeads(), &mockPools{}, &mockStore{}
	c := newLoopClient(ctx, heads, pools, WithSnapshotStore(store, 2))

	for _, n := range []uint64{1, 2, 3, 4, 5} {
		heads.heads <- blocks.Head{Number: n}
		expectMaintained(t, c, n)
	}
	assert.Equal(t, []uint64{20, 40}, store.Saved())
}

func TestClient_Shutdown(t *testing.T) {
	t.Run("HeadStreamStopped", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		heads := newMockHeads()
		c := newLoopClient(ctx, heads, &mockPools{})
		close(heads.done)

		select {
		case err := <-c.Err():
			assert.ErrorIs(t, err, ErrHeadStreamStopped)
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for fatal error")
		}
		_, open := <-c.Maintained()
		assert.False(t, open)
	})

	t.Run("ReleasesNodeConnection", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var closed atomic.Int32
		withCloser := newOption(func(c *Client) {
			c.closers = append(c.closers, func() { closed.Add(1) })
		})
		c := newLoopClient(ctx, newMockHeads(), &mockPools{}, withCloser)
		assert.Zero(t, closed.Load())
		cancel()

		select {
		case <-c.Err():
		case <-time.After(2 * time.Second):
			t.Fatal("Client did not stop after cancel")
		}
		assert.Equal(t, int32(1), closed.Load())
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		c := newLoopClient(ctx, newMockHeads(), &mockPools{})
		cancel()

		select {
		case _, open := <-c.Err():
			assert.False(t, open)
		case <-time.After(2 * time.Second):
			t.Fatal("Client did not stop after cancel")
		}
	})
}

func TestClient_EstimateWithoutNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newLoopClient(ctx, newMockHeads(), &mockPools{})
	_, err := c.Estimate(ctx)
	assert.Error(t, err)

	c.gas = NewGasPriceEstimator(&mockBackend{baseFee: big.NewInt(1), tip: big.NewInt(1)})
	price, err := c.Estimate(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(2), price.EffectiveGasPrice())
}
