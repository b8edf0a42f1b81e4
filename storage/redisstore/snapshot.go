package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/defistate/defistate-balancer-go/protocols/balancer"
	"github.com/redis/go-redis/v9"
)

const DefaultSnapshotKey = "balancer:registered_pools"

// SnapshotStore persists the registered pools under a single key, so a
// restarted fetcher only scans the blocks after the snapshot.
type SnapshotStore struct {
	client redis.Cmdable
	key    string
}

func NewSnapshotStore(client redis.Cmdable, key string) (*SnapshotStore, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SnapshotStore{client: client, key: key}, nil
}

// InitializePools loads the last saved snapshot. A missing key yields an
// empty snapshot, which makes the registries scan from their deployment
// blocks.
func (s *SnapshotStore) InitializePools(ctx context.Context) (balancer.RegisteredPools, error) {
	val, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return balancer.RegisteredPools{}, nil
	}
	if err != nil {
		return balancer.RegisteredPools{}, fmt.Errorf("get snapshot: %w", err)
	}

	var pools balancer.RegisteredPools
	if err := json.Unmarshal(val, &pools); err != nil {
		return balancer.RegisteredPools{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return pools, nil
}

// SavePools overwrites the stored snapshot.
func (s *SnapshotStore) SavePools(ctx context.Context, pools balancer.RegisteredPools) error {
	b, err := json.Marshal(pools)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
