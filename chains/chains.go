package chains

import (
	"context"

	"github.com/defistate/defistate-balancer-go/protocols/balancer"
	"github.com/defistate/defistate-balancer-go/streams/blocks"
)

// Chain IDs with a known Balancer deployment.
const (
	Mainnet uint64 = 1
	Goerli  uint64 = 5
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// HeadStream defines the block stream a chain client depends on.
type HeadStream interface {
	Current() uint64
	Heads() <-chan blocks.Head
	Done() <-chan struct{}
}

// SnapshotStore persists the registry contents between runs.
type SnapshotStore interface {
	balancer.PoolInitializer
	SavePools(ctx context.Context, pools balancer.RegisteredPools) error
}
