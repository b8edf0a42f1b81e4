package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBackend answers every call from its fields. A non-nil block channel
// makes calls wait on it or on their context.
type mockBackend struct {
	number  uint64
	chainID int64
	baseFee *big.Int
	tip     *big.Int
	err     error
	block   chan struct{}
}

func (m *mockBackend) wait(ctx context.Context) error {
	if m.block == nil {
		return m.err
	}
	select {
	case <-m.block:
		return m.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return []byte{0x01}, nil
}

func (m *mockBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return []types.Log{{BlockNumber: 7}}, nil
}

func (m *mockBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return m.number, m.wait(ctx)
}

func (m *mockBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, m.wait(ctx)
}

func (m *mockBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(m.chainID), m.wait(ctx)
}

func (m *mockBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return &types.Header{Number: big.NewInt(int64(m.number)), BaseFee: m.baseFee}, nil
}

func (m *mockBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.tip, nil
}

func TestNodeClient(t *testing.T) {
	ctx := context.Background()

	t.Run("DelegatesAndCounts", func(t *testing.T) {
		metrics := NewNodeMetrics(prometheus.NewRegistry())
		node, err := NewNodeClient(&mockBackend{number: 42, chainID: 1}, NodeConfig{}, metrics)
		require.NoError(t, err)

		n, err := node.BlockNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), n)

		id, err := node.ChainID(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), id.Int64())

		logs, err := node.FilterLogs(ctx, ethereum.FilterQuery{})
		require.NoError(t, err)
		assert.Len(t, logs, 1)

		_, err = node.CallContract(ctx, ethereum.CallMsg{}, nil)
		require.NoError(t, err)
		_, err = node.CodeAt(ctx, common.Address{}, nil)
		require.NoError(t, err)

		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues("eth_blockNumber", "ok")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues("eth_call", "ok")))
	})

	t.Run("ErrorsAreCounted", func(t *testing.T) {
		boom := errors.New("missing trie node")
		metrics := NewNodeMetrics(prometheus.NewRegistry())
		node, err := NewNodeClient(&mockBackend{err: boom}, NodeConfig{}, metrics)
		require.NoError(t, err)

		_, err = node.CallContract(ctx, ethereum.CallMsg{}, big.NewInt(1))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues("eth_call", "error")))
	})

	t.Run("CallsAreBoundedByTimeout", func(t *testing.T) {
		backend := &mockBackend{block: make(chan struct{})}
		node, err := NewNodeClient(backend, NodeConfig{Timeout: 20 * time.Millisecond}, NewNodeMetrics(prometheus.NewRegistry()))
		require.NoError(t, err)

		start := time.Now()
		_, err = node.BlockNumber(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("RateLimited", func(t *testing.T) {
		metrics := NewNodeMetrics(prometheus.NewRegistry())
		node, err := NewNodeClient(&mockBackend{}, NodeConfig{RequestsPerSecond: 0.1, Burst: 1}, metrics)
		require.NoError(t, err)

		_, err = node.BlockNumber(ctx)
		require.NoError(t, err)

		// The next token is ten seconds away, past the caller's deadline.
		shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = node.BlockNumber(shortCtx)
		assert.Error(t, err)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues("eth_blockNumber", "throttled")))
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		_, err := NewNodeClient(&mockBackend{}, NodeConfig{RequestsPerSecond: -1}, NewNodeMetrics(prometheus.NewRegistry()))
		assert.ErrorContains(t, err, "config:")

		_, err = NewNodeClient(nil, NodeConfig{}, NewNodeMetrics(prometheus.NewRegistry()))
		assert.Error(t, err)
	})
}
