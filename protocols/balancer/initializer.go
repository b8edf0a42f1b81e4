package balancer

import (
	"context"
)

// RegisteredPools is a snapshot of every pool known to the three factory
// registries, valid through FetchedBlockNumber.
type RegisteredPools struct {
	FetchedBlockNumber  uint64     `json:"fetchedBlockNumber"`
	WeightedPools       []PoolInfo `json:"weightedPools"`
	Weighted2TokenPools []PoolInfo `json:"weighted2TokenPools"`
	StablePools         []PoolInfo `json:"stablePools"`
}

// ForFactory returns the pools of the named factory registry.
func (r RegisteredPools) ForFactory(name string) []PoolInfo {
	switch name {
	case WeightedFactory:
		return r.WeightedPools
	case WeightedTwoTokenFactory:
		return r.Weighted2TokenPools
	case StableFactory:
		return r.StablePools
	}
	return nil
}

// PoolInitializer provides the bootstrap snapshot the registries start from,
// so they do not have to replay the whole factory history.
type PoolInitializer interface {
	InitializePools(ctx context.Context) (RegisteredPools, error)
}

// EmptyPoolInitializer starts every registry from its factory deployment
// block with no pools.
type EmptyPoolInitializer struct{}

func (EmptyPoolInitializer) InitializePools(context.Context) (RegisteredPools, error) {
	return RegisteredPools{}, nil
}
