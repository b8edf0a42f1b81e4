package balancer

import (
	"fmt"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-balancer-go/protocols/balancer/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolKind is the pool family a pool belongs to.
type PoolKind uint8

const (
	Weighted PoolKind = iota + 1
	Stable
)

func (k PoolKind) String() string {
	switch k {
	case Weighted:
		return "weighted"
	case Stable:
		return "stable"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

func (k PoolKind) MarshalText() ([]byte, error) {
	switch k {
	case Weighted, Stable:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownPoolKind, k)
}

func (k *PoolKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "weighted":
		*k = Weighted
	case "stable":
		*k = Stable
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPoolKind, text)
	}
	return nil
}

// PoolAddressFromID returns the pool address encoded in the leading 20 bytes
// of a Vault pool id.
func PoolAddressFromID(id common.Hash) common.Address {
	return common.BytesToAddress(id[:common.AddressLength])
}

// CommonPoolState is the state shared by every pool kind.
type CommonPoolState struct {
	ID      common.Hash
	Address common.Address
	SwapFee fixedpoint.Bfp
	Paused  bool
}

// TokenState is a single pool reserve. Balance is in the token's own
// decimals; ScalingExponent is 18 minus those decimals.
type TokenState struct {
	Balance         *uint256.Int
	ScalingExponent uint8
}

// Upscaled returns the balance normalized to 18 decimals.
func (t TokenState) Upscaled() (fixedpoint.Bfp, error) {
	factor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(t.ScalingExponent)))
	v, overflow := new(uint256.Int).MulOverflow(t.Balance, factor)
	if overflow {
		return fixedpoint.Bfp{}, fixedpoint.ErrOverflow
	}
	return fixedpoint.FromWei(v), nil
}

type WeightedTokenState struct {
	TokenState
	Weight fixedpoint.Bfp
}

// AmplificationParameter of a stable pool, as the rational Factor/Precision.
type AmplificationParameter struct {
	Factor    *uint256.Int
	Precision *uint256.Int
}

// NewAmplificationParameter validates and builds an amplification parameter.
func NewAmplificationParameter(factor, precision *big.Int) (AmplificationParameter, error) {
	if precision == nil || precision.Sign() == 0 {
		return AmplificationParameter{}, fmt.Errorf("amplification precision must be non-zero")
	}
	f, overflow := uint256.FromBig(factor)
	if overflow {
		return AmplificationParameter{}, fmt.Errorf("amplification factor overflows: %s", factor)
	}
	p, _ := uint256.FromBig(precision)
	return AmplificationParameter{Factor: f, Precision: p}, nil
}

// Value returns the effective amplification factor.
func (a AmplificationParameter) Value() *big.Rat {
	return new(big.Rat).SetFrac(a.Factor.ToBig(), a.Precision.ToBig())
}

type WeightedPool struct {
	Common   CommonPoolState
	Reserves map[common.Address]WeightedTokenState
}

type StablePool struct {
	Common                 CommonPoolState
	Reserves               map[common.Address]TokenState
	AmplificationParameter AmplificationParameter
}

// Pool is a snapshot of a pool's state valid as of Block. Exactly one of
// Weighted and Stable is set, matching Kind.
type Pool struct {
	ID       common.Hash
	Kind     PoolKind
	Block    uint64
	Degraded bool
	Weighted *WeightedPool
	Stable   *StablePool
}

// FetchedBalancerPools partitions a pool list by kind. Degraded lists the
// pools that were served from a stale snapshot after a failed refresh.
type FetchedBalancerPools struct {
	WeightedPools []WeightedPool
	StablePools   []StablePool
	Degraded      []common.Hash
}

// Partition splits pools into their kind buckets, preserving order.
func Partition(pools []Pool) FetchedBalancerPools {
	var out FetchedBalancerPools
	for _, p := range pools {
		if p.Degraded {
			out.Degraded = append(out.Degraded, p.ID)
		}
		switch p.Kind {
		case Weighted:
			if p.Weighted != nil {
				out.WeightedPools = append(out.WeightedPools, *p.Weighted)
			}
		case Stable:
			if p.Stable != nil {
				out.StablePools = append(out.StablePools, *p.Stable)
			}
		}
	}
	return out
}

// RelevantTokens returns every token held by any of the fetched pools.
func (f FetchedBalancerPools) RelevantTokens() mapset.Set[common.Address] {
	tokens := mapset.NewThreadUnsafeSet[common.Address]()
	for _, p := range f.WeightedPools {
		for t := range p.Reserves {
			tokens.Add(t)
		}
	}
	for _, p := range f.StablePools {
		for t := range p.Reserves {
			tokens.Add(t)
		}
	}
	return tokens
}
