package auction

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/defistate/defistate-balancer-go/model"
	"github.com/defistate/defistate-balancer-go/protocols/balancer"
	"github.com/ethereum/go-ethereum/common"
)

// RunDuration is how long a solver run may take before its deadline.
const RunDuration = 15 * time.Second

// ErrNoUserOrders is returned for auctions without any valid user order.
var ErrNoUserOrders = errors.New("auction has no user orders")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// GasPriceEstimating provides the gas price an auction is solved with.
type GasPriceEstimating interface {
	Estimate(ctx context.Context) (model.GasPrice1559, error)
}

// Auction is the solver-facing form of an order book auction.
type Auction struct {
	ID     uint64
	Run    uint64
	Orders []LimitOrder
	// Liquidity is filled in by a later stage.
	Liquidity      balancer.FetchedBalancerPools
	GasPrice       float64
	Deadline       time.Time
	ExternalPrices ExternalPrices
}

// Converter turns order book auctions into solver auctions. Every call to
// ConvertAuction is a new run.
type Converter struct {
	orders      OrderConverter
	gas         GasPriceEstimating
	nativeToken common.Address
	logger      Logger
	now         func() time.Time
	run         atomic.Uint64
}

func NewConverter(nativeToken common.Address, gas GasPriceEstimating, feeObjectiveScalingFactor float64, logger Logger) (*Converter, error) {
	orders := OrderConverter{
		NativeToken:               nativeToken,
		FeeObjectiveScalingFactor: feeObjectiveScalingFactor,
	}
	if err := orders.validate(); err != nil {
		return nil, err
	}
	if gas == nil {
		return nil, errors.New("config: gas price estimator is required")
	}
	if logger == nil {
		return nil, errors.New("config: Logger is required")
	}
	return &Converter{
		orders:      orders,
		gas:         gas,
		nativeToken: nativeToken,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// ConvertAuction normalizes the orders of a, dropping malformed ones, and
// attaches the current gas price and external prices.
func (c *Converter) ConvertAuction(ctx context.Context, a model.Auction) (Auction, error) {
	run := c.run.Add(1) - 1

	orders := make([]LimitOrder, 0, len(a.Orders))
	userOrders := 0
	for _, o := range a.Orders {
		order, err := c.orders.NormalizeLimitOrder(o)
		if err != nil {
			c.logger.Error("Dropping order", "uid", o.Metadata.UID, "run", run, "err", err)
			continue
		}
		if !order.IsLiquidityOrder {
			userOrders++
		}
		orders = append(orders, order)
	}
	if userOrders == 0 {
		return Auction{}, ErrNoUserOrders
	}

	gasPrice, err := c.gas.Estimate(ctx)
	if err != nil {
		return Auction{}, fmt.Errorf("failed to estimate gas price: %w", err)
	}
	prices, err := NewExternalPrices(c.nativeToken, a.Prices)
	if err != nil {
		return Auction{}, fmt.Errorf("failed to convert external prices: %w", err)
	}

	c.logger.Debug("Auction converted",
		"id", a.NextSolverCompetition,
		"run", run,
		"orders", len(orders),
		"dropped", len(a.Orders)-len(orders),
	)
	return Auction{
		ID:             a.NextSolverCompetition,
		Run:            run,
		Orders:         orders,
		GasPrice:       gasPrice.EffectiveGasPrice(),
		Deadline:       c.now().Add(RunDuration),
		ExternalPrices: prices,
	}, nil
}
