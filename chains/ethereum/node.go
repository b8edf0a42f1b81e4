package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

const defaultRPCTimeout = 10 * time.Second

// Backend is the subset of *ethclient.Client the node client wraps.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// NodeConfig bounds the load put on the node.
type NodeConfig struct {
	// RequestsPerSecond of zero disables rate limiting.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

func (c *NodeConfig) validate() error {
	if c.RequestsPerSecond < 0 {
		return errors.New("config: RequestsPerSecond must not be negative")
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultRPCTimeout
	}
	return nil
}

type NodeMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewNodeMetrics(reg prometheus.Registerer) *NodeMetrics {
	return &NodeMetrics{
		Requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "node",
			Name:      "requests_total",
			Help:      "JSON-RPC requests sent to the node, labeled by method and status.",
		}, []string{"method", "status"}),
		Duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "node",
			Name:      "request_duration_seconds",
			Help:      "JSON-RPC request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// NodeClient is a rate limited Backend whose every call is bounded by a
// timeout.
type NodeClient struct {
	backend Backend
	limiter *rate.Limiter
	timeout time.Duration
	metrics *NodeMetrics
}

func NewNodeClient(backend Backend, cfg NodeConfig, metrics *NodeMetrics) (*NodeClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("node: backend is required")
	}
	if metrics == nil {
		return nil, errors.New("node: metrics is required")
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &NodeClient{
		backend: backend,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		timeout: cfg.Timeout,
		metrics: metrics,
	}, nil
}

func (n *NodeClient) do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if err := n.limiter.Wait(ctx); err != nil {
		n.metrics.Requests.WithLabelValues(method, "throttled").Inc()
		return fmt.Errorf("%s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	n.metrics.Duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		n.metrics.Requests.WithLabelValues(method, "error").Inc()
		return err
	}
	n.metrics.Requests.WithLabelValues(method, "ok").Inc()
	return nil
}

func (n *NodeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) (out []byte, err error) {
	err = n.do(ctx, "eth_call", func(ctx context.Context) error {
		out, err = n.backend.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

func (n *NodeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) (logs []types.Log, err error) {
	err = n.do(ctx, "eth_getLogs", func(ctx context.Context) error {
		logs, err = n.backend.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

func (n *NodeClient) BlockNumber(ctx context.Context) (number uint64, err error) {
	err = n.do(ctx, "eth_blockNumber", func(ctx context.Context) error {
		number, err = n.backend.BlockNumber(ctx)
		return err
	})
	return number, err
}

func (n *NodeClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) (code []byte, err error) {
	err = n.do(ctx, "eth_getCode", func(ctx context.Context) error {
		code, err = n.backend.CodeAt(ctx, account, blockNumber)
		return err
	})
	return code, err
}

func (n *NodeClient) ChainID(ctx context.Context) (id *big.Int, err error) {
	err = n.do(ctx, "eth_chainId", func(ctx context.Context) error {
		id, err = n.backend.ChainID(ctx)
		return err
	})
	return id, err
}

func (n *NodeClient) HeaderByNumber(ctx context.Context, number *big.Int) (header *types.Header, err error) {
	err = n.do(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		header, err = n.backend.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

func (n *NodeClient) SuggestGasTipCap(ctx context.Context) (tip *big.Int, err error) {
	err = n.do(ctx, "eth_maxPriorityFeePerGas", func(ctx context.Context) error {
		tip, err = n.backend.SuggestGasTipCap(ctx)
		return err
	})
	return tip, err
}
