package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Caller is the eth_call capability the wrappers need. *ethclient.Client
// satisfies it.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// call packs method with args, executes it against to at block (nil for
// latest) and returns the unpacked outputs.
func call(ctx context.Context, c Caller, contract abi.ABI, to common.Address, block *big.Int, method string, args ...any) ([]any, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, block)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s on %s: %w", method, to.Hex(), err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s from %s: %w", method, to.Hex(), err)
	}
	return values, nil
}

// PoolID reads getPoolId() from a pool.
func PoolID(ctx context.Context, c Caller, pool common.Address, block *big.Int) (common.Hash, error) {
	out, err := call(ctx, c, PoolABI, pool, block, "getPoolId")
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(out[0].([32]byte)), nil
}

// PoolTokens reads Vault.getPoolTokens(id) and returns the token list and
// raw balances in the vault's order.
func PoolTokens(ctx context.Context, c Caller, vault common.Address, id common.Hash, block *big.Int) ([]common.Address, []*big.Int, error) {
	out, err := call(ctx, c, VaultABI, vault, block, "getPoolTokens", [32]byte(id))
	if err != nil {
		return nil, nil, err
	}
	tokens := out[0].([]common.Address)
	balances := out[1].([]*big.Int)
	if len(tokens) != len(balances) {
		return nil, nil, fmt.Errorf("getPoolTokens for %s returned %d tokens and %d balances", id.Hex(), len(tokens), len(balances))
	}
	return tokens, balances, nil
}

func SwapFeePercentage(ctx context.Context, c Caller, pool common.Address, block *big.Int) (*big.Int, error) {
	out, err := call(ctx, c, PoolABI, pool, block, "getSwapFeePercentage")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func Paused(ctx context.Context, c Caller, pool common.Address, block *big.Int) (bool, error) {
	out, err := call(ctx, c, PoolABI, pool, block, "getPausedState")
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func NormalizedWeights(ctx context.Context, c Caller, pool common.Address, block *big.Int) ([]*big.Int, error) {
	out, err := call(ctx, c, PoolABI, pool, block, "getNormalizedWeights")
	if err != nil {
		return nil, err
	}
	return out[0].([]*big.Int), nil
}

// AmplificationParameter returns the current (possibly ramping) factor and
// its precision.
func AmplificationParameter(ctx context.Context, c Caller, pool common.Address, block *big.Int) (factor, precision *big.Int, err error) {
	out, err := call(ctx, c, PoolABI, pool, block, "getAmplificationParameter")
	if err != nil {
		return nil, nil, err
	}
	return out[0].(*big.Int), out[2].(*big.Int), nil
}

func Decimals(ctx context.Context, c Caller, token common.Address) (uint8, error) {
	out, err := call(ctx, c, ERC20ABI, token, nil, "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

// ParsePoolCreated returns the pool address of a PoolCreated log.
func ParsePoolCreated(log types.Log) (common.Address, error) {
	if len(log.Topics) != 2 || log.Topics[0] != PoolCreatedTopic {
		return common.Address{}, errors.New("log is not a PoolCreated event")
	}
	return common.BytesToAddress(log.Topics[1].Bytes()), nil
}
