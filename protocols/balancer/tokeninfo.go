package balancer

import (
	"context"
	"fmt"
	"sync"

	"github.com/defistate/defistate-balancer-go/protocols/balancer/contracts"
	"github.com/ethereum/go-ethereum/common"
)

// TokenInfoFetcher reads and caches ERC20 decimals. Decimals never change,
// so a successful read is kept for the life of the process.
type TokenInfoFetcher struct {
	caller contracts.Caller

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

func NewTokenInfoFetcher(caller contracts.Caller) *TokenInfoFetcher {
	return &TokenInfoFetcher{
		caller:   caller,
		decimals: make(map[common.Address]uint8),
	}
}

// Decimals returns the decimals of token.
func (f *TokenInfoFetcher) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	f.mu.RLock()
	d, ok := f.decimals[token]
	f.mu.RUnlock()
	if ok {
		return d, nil
	}

	d, err := contracts.Decimals(ctx, f.caller, token)
	if err != nil {
		return 0, fmt.Errorf("decimals of %s: %w", token.Hex(), err)
	}

	f.mu.Lock()
	f.decimals[token] = d
	f.mu.Unlock()
	return d, nil
}

// ScalingExponent returns 18 minus the token's decimals.
func (f *TokenInfoFetcher) ScalingExponent(ctx context.Context, token common.Address) (uint8, error) {
	d, err := f.Decimals(ctx, token)
	if err != nil {
		return 0, err
	}
	if d > 18 {
		return 0, fmt.Errorf("token %s has %d decimals, more than 18 is unsupported", token.Hex(), d)
	}
	return 18 - d, nil
}
