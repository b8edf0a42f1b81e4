package balancer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownPoolKind = errors.New("unknown pool kind")
	// ErrMissingContract is returned at construction when a configured
	// contract has no code on chain.
	ErrMissingContract = errors.New("contract not deployed")
)

// DiscoveryError is returned by a registry sync that could not load the
// metadata of a newly created pool. The registry cursor stays before Block
// until the pool can be loaded.
type DiscoveryError struct {
	Registry string
	Block    uint64
	Pool     common.Address
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("registry %s: block %d: failed to discover pool %s: %v", e.Registry, e.Block, e.Pool.Hex(), e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// PoolStateError is a failed live read of a pool's state.
type PoolStateError struct {
	Pool  common.Hash
	Block uint64
	Err   error
}

func (e *PoolStateError) Error() string {
	return fmt.Sprintf("block %d: failed to fetch state of pool %s: %v", e.Block, e.Pool.Hex(), e.Err)
}

func (e *PoolStateError) Unwrap() error {
	return e.Err
}

// MaintenanceError collects the per registry failures of an aggregate
// maintenance run.
type MaintenanceError struct {
	Failed map[string]error
}

func (e *MaintenanceError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failed[name]))
	}
	return "maintenance failed for " + strings.Join(parts, "; ")
}

func (e *MaintenanceError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}
