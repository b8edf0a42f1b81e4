// Package contractstest provides an in-memory node serving the Balancer
// contracts for tests.
package contractstest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/defistate/defistate-balancer-go/protocols/balancer/contracts"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakePool is the on-chain state of a pool served by FakeChain.
type FakePool struct {
	ID           common.Hash
	Tokens       []common.Address
	Balances     []*big.Int
	SwapFee      *big.Int
	Paused       bool
	Weights      []*big.Int
	AmpFactor    *big.Int
	AmpPrecision *big.Int
}

// FakeChain is an in-memory node answering the calls, log filters and code
// lookups made against the Balancer contracts.
type FakeChain struct {
	mu       sync.Mutex
	vault    common.Address
	head     uint64
	logs     []types.Log
	pools    map[common.Address]*FakePool
	decimals map[common.Address]uint8
	code     map[common.Address]bool
	failing  map[common.Address]error
	logsErr  error
	calls    map[string]int
}

func NewFakeChain(vault common.Address) *FakeChain {
	return &FakeChain{
		vault:    vault,
		pools:    make(map[common.Address]*FakePool),
		decimals: make(map[common.Address]uint8),
		code:     map[common.Address]bool{vault: true},
		failing:  make(map[common.Address]error),
		calls:    make(map[string]int),
	}
}

func (f *FakeChain) SetHead(block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = block
}

func (f *FakeChain) AddToken(token common.Address, decimals uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decimals[token] = decimals
}

func (f *FakeChain) AddContract(addr common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[addr] = true
}

// CreatePool registers the pool state and, when factory is non zero, emits a
// PoolCreated log from factory at block.
func (f *FakeChain) CreatePool(factory common.Address, block uint64, addr common.Address, pool FakePool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := pool
	f.pools[addr] = &p
	f.code[addr] = true
	if factory == (common.Address{}) {
		return
	}
	f.code[factory] = true
	f.logs = append(f.logs, types.Log{
		Address:     factory,
		Topics:      []common.Hash{contracts.PoolCreatedTopic, common.BytesToHash(addr.Bytes())},
		BlockNumber: block,
		Index:       uint(len(f.logs)),
	})
}

// AddLog appends a raw log, for events CreatePool cannot express.
func (f *FakeChain) AddLog(l types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.Index = uint(len(f.logs))
	f.logs = append(f.logs, l)
}

// SetBalances replaces the balances returned for a pool.
func (f *FakeChain) SetBalances(addr common.Address, balances []*big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[addr].Balances = balances
}

// Fail makes every call to addr return err until cleared with a nil err.
func (f *FakeChain) Fail(addr common.Address, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failing, addr)
		return
	}
	f.failing[addr] = err
}

func (f *FakeChain) FailLogs(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logsErr = err
}

// Calls returns how many times method was called.
func (f *FakeChain) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *FakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.code[account] {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (f *FakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	var out []types.Log
	for _, l := range f.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && (len(l.Topics) == 0 || q.Topics[0][0] != l.Topics[0]) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *FakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("fakechain: malformed call")
	}
	to := *msg.To

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failing[to]; ok {
		return nil, err
	}

	switch {
	case to == f.vault:
		method, err := contracts.VaultABI.MethodById(msg.Data[:4])
		if err != nil {
			return nil, err
		}
		f.calls[method.Name]++
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		id := common.Hash(args[0].([32]byte))
		for _, p := range f.pools {
			if p.ID == id {
				return method.Outputs.Pack(p.Tokens, p.Balances, big.NewInt(0))
			}
		}
		return nil, fmt.Errorf("fakechain: unknown pool id %s", id.Hex())

	case f.hasToken(to):
		f.calls["decimals"]++
		return contracts.ERC20ABI.Methods["decimals"].Outputs.Pack(f.decimals[to])
	}

	pool, ok := f.pools[to]
	if !ok {
		return nil, fmt.Errorf("fakechain: no contract at %s", to.Hex())
	}
	method, err := contracts.PoolABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	f.calls[method.Name]++
	switch method.Name {
	case "getPoolId":
		return method.Outputs.Pack([32]byte(pool.ID))
	case "getSwapFeePercentage":
		return method.Outputs.Pack(pool.SwapFee)
	case "getPausedState":
		return method.Outputs.Pack(pool.Paused, big.NewInt(0), big.NewInt(0))
	case "getNormalizedWeights":
		if pool.Weights == nil {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(pool.Weights)
	case "getAmplificationParameter":
		if pool.AmpFactor == nil {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(pool.AmpFactor, false, pool.AmpPrecision)
	}
	return nil, fmt.Errorf("fakechain: unsupported method %s", method.Name)
}

func (f *FakeChain) hasToken(addr common.Address) bool {
	_, ok := f.decimals[addr]
	return ok
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}
