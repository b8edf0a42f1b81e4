package balancer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/defistate-balancer-go/protocols/balancer/contracts"
	"github.com/defistate/defistate-balancer-go/protocols/balancer/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRPCTimeout = 10 * time.Second

	// WeightSumTolerance is how far, in wei, the normalized weights of a pool
	// may sum away from 1.0.
	WeightSumTolerance = 1_000_000
)

// PoolInfo is the static metadata of a pool, fetched once at discovery.
type PoolInfo struct {
	ID               common.Hash      `json:"id"`
	Address          common.Address   `json:"address"`
	Kind             PoolKind         `json:"kind"`
	Tokens           []common.Address `json:"tokens"`
	ScalingExponents []uint8          `json:"scalingExponents"`
	Weights          []fixedpoint.Bfp `json:"weights,omitempty"`
	BlockCreated     uint64           `json:"blockCreated"`
}

// validate checks the consistency FetchPoolInfo guarantees, for metadata that
// comes from a stored snapshot instead.
func (p PoolInfo) validate() error {
	if derived := PoolAddressFromID(p.ID); derived != p.Address {
		return fmt.Errorf("pool id %s does not belong to %s", p.ID.Hex(), p.Address.Hex())
	}
	if len(p.Tokens) < 2 {
		return fmt.Errorf("pool %s has %d tokens", p.Address.Hex(), len(p.Tokens))
	}
	if len(p.ScalingExponents) != len(p.Tokens) {
		return fmt.Errorf("pool %s: %d scaling exponents for %d tokens", p.Address.Hex(), len(p.ScalingExponents), len(p.Tokens))
	}
	for i, exp := range p.ScalingExponents {
		if exp > 18 {
			return fmt.Errorf("pool %s: scaling exponent %d of token %s", p.Address.Hex(), exp, p.Tokens[i].Hex())
		}
	}
	switch p.Kind {
	case Weighted:
		if len(p.Weights) != len(p.Tokens) {
			return fmt.Errorf("pool %s: %d weights for %d tokens", p.Address.Hex(), len(p.Weights), len(p.Tokens))
		}
	case Stable:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownPoolKind, p.Kind)
	}
	return nil
}

// PoolInfoFetcher reads pool metadata and live pool state from the Vault and
// the pool contracts.
type PoolInfoFetcher struct {
	vault  common.Address
	caller contracts.Caller
	tokens *TokenInfoFetcher
}

func NewPoolInfoFetcher(vault common.Address, caller contracts.Caller, tokens *TokenInfoFetcher) *PoolInfoFetcher {
	return &PoolInfoFetcher{vault: vault, caller: caller, tokens: tokens}
}

// FetchPoolInfo loads the static metadata of the pool at addr.
func (f *PoolInfoFetcher) FetchPoolInfo(ctx context.Context, kind PoolKind, addr common.Address, blockCreated uint64) (PoolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()

	id, err := contracts.PoolID(ctx, f.caller, addr, nil)
	if err != nil {
		return PoolInfo{}, err
	}
	if derived := PoolAddressFromID(id); derived != addr {
		return PoolInfo{}, fmt.Errorf("pool id %s does not belong to %s", id.Hex(), addr.Hex())
	}

	tokens, _, err := contracts.PoolTokens(ctx, f.caller, f.vault, id, nil)
	if err != nil {
		return PoolInfo{}, err
	}
	if len(tokens) < 2 {
		return PoolInfo{}, fmt.Errorf("pool %s has %d tokens", addr.Hex(), len(tokens))
	}

	exponents := make([]uint8, len(tokens))
	for i, token := range tokens {
		if exponents[i], err = f.tokens.ScalingExponent(ctx, token); err != nil {
			return PoolInfo{}, err
		}
	}

	info := PoolInfo{
		ID:               id,
		Address:          addr,
		Kind:             kind,
		Tokens:           tokens,
		ScalingExponents: exponents,
		BlockCreated:     blockCreated,
	}

	switch kind {
	case Weighted:
		raw, err := contracts.NormalizedWeights(ctx, f.caller, addr, nil)
		if err != nil {
			return PoolInfo{}, err
		}
		if info.Weights, err = validateWeights(raw, len(tokens)); err != nil {
			return PoolInfo{}, fmt.Errorf("pool %s: %w", addr.Hex(), err)
		}
	case Stable:
		// Amplification ramps over time, it is read with the live state.
	default:
		return PoolInfo{}, fmt.Errorf("%w: %d", ErrUnknownPoolKind, kind)
	}
	return info, nil
}

func validateWeights(raw []*big.Int, tokenCount int) ([]fixedpoint.Bfp, error) {
	if len(raw) != tokenCount {
		return nil, fmt.Errorf("%d weights for %d tokens", len(raw), tokenCount)
	}
	weights := make([]fixedpoint.Bfp, len(raw))
	sum := fixedpoint.Zero()
	for i, w := range raw {
		v, overflow := uint256.FromBig(w)
		if overflow {
			return nil, fmt.Errorf("weight %s overflows", w)
		}
		weights[i] = fixedpoint.FromWei(v)
		var err error
		if sum, err = sum.Add(weights[i]); err != nil {
			return nil, err
		}
	}
	if sum.AbsDiff(fixedpoint.One()).Cmp(fixedpoint.FromWei(uint256.NewInt(WeightSumTolerance))) > 0 {
		return nil, fmt.Errorf("weights sum to %s", sum)
	}
	return weights, nil
}

// FetchPoolState reads the balances, fee, paused flag and, for stable pools,
// the amplification parameter of a known pool as of block. Static metadata
// comes from info.
func (f *PoolInfoFetcher) FetchPoolState(ctx context.Context, info PoolInfo, block uint64) (Pool, error) {
	if err := info.validate(); err != nil {
		return Pool{}, &PoolStateError{Pool: info.ID, Block: block, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()

	at := new(big.Int).SetUint64(block)
	var (
		tokens        []common.Address
		balances      []*big.Int
		swapFee       *big.Int
		paused        bool
		ampF, ampPrec *big.Int
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tokens, balances, err = contracts.PoolTokens(gCtx, f.caller, f.vault, info.ID, at)
		return err
	})
	g.Go(func() error {
		var err error
		swapFee, err = contracts.SwapFeePercentage(gCtx, f.caller, info.Address, at)
		return err
	})
	g.Go(func() error {
		var err error
		paused, err = contracts.Paused(gCtx, f.caller, info.Address, at)
		return err
	})
	if info.Kind == Stable {
		g.Go(func() error {
			var err error
			ampF, ampPrec, err = contracts.AmplificationParameter(gCtx, f.caller, info.Address, at)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Pool{}, &PoolStateError{Pool: info.ID, Block: block, Err: err}
	}

	if len(tokens) != len(info.Tokens) || len(balances) != len(tokens) {
		return Pool{}, &PoolStateError{Pool: info.ID, Block: block, Err: fmt.Errorf("vault returned %d tokens and %d balances, expected %d", len(tokens), len(balances), len(info.Tokens))}
	}
	fee, overflow := uint256.FromBig(swapFee)
	if overflow {
		return Pool{}, &PoolStateError{Pool: info.ID, Block: block, Err: fmt.Errorf("swap fee overflows")}
	}
	shared := CommonPoolState{
		ID:      info.ID,
		Address: info.Address,
		SwapFee: fixedpoint.FromWei(fee),
		Paused:  paused,
	}

	states := make([]TokenState, len(tokens))
	for i, token := range tokens {
		if token != info.Tokens[i] {
			return Pool{}, &PoolStateError{Pool: info.ID, Block: block, Err: fmt.Errorf("token %d is %s, expected %s", i, token.Hex(), info.Tokens[i].Hex())}
		}
		balance, overflow := uint256.FromBig(balances[i])
		if overflow {
			return Pool{}, &PoolStateError{Pool: info.ID, Block: block, Err: fmt.Errorf("balance of %s overflows", token.Hex())}
		}
		states[i] = TokenState{Balance: balance, ScalingExponent: info.ScalingExponents[i]}
	}

	pool := Pool{ID: info.ID, Kind: info.Kind, Block: block}
	switch info.Kind {
	case Weighted:
		reserves := make(map[common.Address]WeightedTokenState, len(tokens))
		for i, token := range tokens {
			reserves[token] = WeightedTokenState{TokenState: states[i], Weight: info.Weights[i]}
		}
		pool.Weighted = &WeightedPool{Common: shared, Reserves: reserves}
	case Stable:
		amp, err := NewAmplificationParameter(ampF, ampPrec)
		if err != nil {
			return Pool{}, &PoolStateError{Pool: info.ID, Block: block, Err: err}
		}
		reserves := make(map[common.Address]TokenState, len(tokens))
		for i, token := range tokens {
			reserves[token] = states[i]
		}
		pool.Stable = &StablePool{Common: shared, Reserves: reserves, AmplificationParameter: amp}
	default:
		return Pool{}, fmt.Errorf("%w: %d", ErrUnknownPoolKind, info.Kind)
	}
	return pool, nil
}
