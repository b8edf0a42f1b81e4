package balancer

import (
	"io"
	"log/slog"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/defistate/defistate-balancer-go/protocols/balancer/contracts/contractstest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var (
	testVault   = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	testFactory = common.HexToAddress("0xfac7000000000000000000000000000000000001")

	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	tokenC = common.HexToAddress("0x000000000000000000000000000000000000000c")
	tokenD = common.HexToAddress("0x000000000000000000000000000000000000000d")
)

func testLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wei parses a decimal integer string.
func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer " + s)
	}
	return v
}

// idFor builds a Vault pool id for addr with the given nonce in the low bytes.
func idFor(addr common.Address, nonce byte) common.Hash {
	var id common.Hash
	copy(id[:common.AddressLength], addr.Bytes())
	id[31] = nonce
	return id
}

func weightedFakePool(addr common.Address, tokens []common.Address, weights ...string) contractstest.FakePool {
	p := contractstest.FakePool{
		ID:      idFor(addr, 1),
		Tokens:  tokens,
		SwapFee: wei("3000000000000000"),
	}
	for i := range tokens {
		p.Balances = append(p.Balances, big.NewInt(int64(1000*(i+1))))
		p.Weights = append(p.Weights, wei(weights[i]))
	}
	return p
}

func stableFakePool(addr common.Address, tokens []common.Address) contractstest.FakePool {
	p := contractstest.FakePool{
		ID:           idFor(addr, 2),
		Tokens:       tokens,
		SwapFee:      wei("400000000000000"),
		AmpFactor:    big.NewInt(200_000),
		AmpPrecision: big.NewInt(1_000),
	}
	for i := range tokens {
		p.Balances = append(p.Balances, big.NewInt(int64(5000*(i+1))))
	}
	return p
}

func newTestChain() *contractstest.FakeChain {
	chain := contractstest.NewFakeChain(testVault)
	for _, token := range []common.Address{tokenA, tokenB, tokenC, tokenD} {
		chain.AddToken(token, 18)
	}
	return chain
}

type registryOption func(*RegistryConfig)

func newTestRegistry(t *testing.T, chain *contractstest.FakeChain, kind PoolKind, initial []PoolInfo, synced uint64, opts ...registryOption) *Registry {
	t.Helper()
	cfg := RegistryConfig{
		Name:            kind.String(),
		Factory:         testFactory,
		Kind:            kind,
		DeploymentBlock: 10,
		MaxBlockRange:   1000,
		Logs:            chain,
		Head:            chain,
		Info:            NewPoolInfoFetcher(testVault, chain, NewTokenInfoFetcher(chain)),
		Logger:          testLogger(),
		Metrics:         NewMetrics(prometheus.NewRegistry()),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r, err := NewRegistry(cfg, initial, synced)
	require.NoError(t, err)
	return r
}

type testHead struct {
	n atomic.Uint64
}

func newTestHead(n uint64) *testHead {
	h := &testHead{}
	h.n.Store(n)
	return h
}

func (h *testHead) Current() uint64 { return h.n.Load() }
