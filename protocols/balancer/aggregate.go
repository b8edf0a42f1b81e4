package balancer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-balancer-go/model"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// MaintenancePolicy decides how the aggregate reports failed member
// maintenance.
type MaintenancePolicy uint8

const (
	// FailClosed fails the aggregate maintenance if any member failed.
	FailClosed MaintenancePolicy = iota
	// BestEffort logs the lagging members and reports success.
	BestEffort
)

func ParseMaintenancePolicy(s string) (MaintenancePolicy, error) {
	switch s {
	case "", "fail_closed":
		return FailClosed, nil
	case "best_effort":
		return BestEffort, nil
	}
	return 0, fmt.Errorf("unknown maintenance policy %q", s)
}

// Source is a member of an Aggregate.
type Source interface {
	PoolFetching
	Maintaining
	Name() string
	HasPool(id common.Hash) bool
}

// Aggregate unions several registries. Their pool id spaces are disjoint.
type Aggregate struct {
	sources []Source
	policy  MaintenancePolicy
	logger  Logger
	metrics *Metrics
}

func NewAggregate(sources []Source, policy MaintenancePolicy, logger Logger, metrics *Metrics) (*Aggregate, error) {
	if len(sources) == 0 {
		return nil, errors.New("aggregate: at least one source is required")
	}
	if logger == nil {
		return nil, errors.New("aggregate: logger is required")
	}
	if metrics == nil {
		return nil, errors.New("aggregate: metrics is required")
	}
	return &Aggregate{sources: sources, policy: policy, logger: logger, metrics: metrics}, nil
}

func (a *Aggregate) PoolIDsForTokenPairs(ctx context.Context, pairs mapset.Set[model.TokenPair]) (mapset.Set[common.Hash], error) {
	ids := mapset.NewThreadUnsafeSet[common.Hash]()
	for _, s := range a.sources {
		found, err := s.PoolIDsForTokenPairs(ctx, pairs)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", s.Name(), err)
		}
		found.Each(func(id common.Hash) bool {
			ids.Add(id)
			return false
		})
	}
	return ids, nil
}

// PoolsByID hands every id to the source that owns it and queries the
// sources concurrently. Ids no source owns are ignored.
func (a *Aggregate) PoolsByID(ctx context.Context, ids []common.Hash, block uint64) ([]Pool, error) {
	owned := make([][]common.Hash, len(a.sources))
	for _, id := range ids {
		for i, s := range a.sources {
			if s.HasPool(id) {
				owned[i] = append(owned[i], id)
				break
			}
		}
	}

	results := make([][]Pool, len(a.sources))
	g, gCtx := errgroup.WithContext(ctx)
	for i, s := range a.sources {
		if len(owned[i]) == 0 {
			continue
		}
		g.Go(func() error {
			pools, err := s.PoolsByID(gCtx, owned[i], block)
			results[i] = pools
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Pool
	for _, pools := range results {
		out = append(out, pools...)
	}
	return out, nil
}

// RunMaintenance runs every member's maintenance concurrently.
func (a *Aggregate) RunMaintenance(ctx context.Context) error {
	var (
		mu     sync.Mutex
		failed = make(map[string]error)
		wg     sync.WaitGroup
	)
	for _, s := range a.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.RunMaintenance(ctx); err != nil {
				mu.Lock()
				failed[s.Name()] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(failed) == 0 {
		return nil
	}
	if a.policy == BestEffort {
		for name, err := range failed {
			a.metrics.LaggingSources.WithLabelValues(name).Inc()
			a.logger.Warn("Source lagging after failed maintenance", "registry", name, "err", err)
		}
		return nil
	}
	return &MaintenanceError{Failed: failed}
}
