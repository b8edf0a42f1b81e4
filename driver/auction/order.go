package auction

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/defistate/defistate-balancer-go/model"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidOrder = errors.New("invalid order")
	errZeroAmount   = fmt.Errorf("%w: zero amount", ErrInvalidOrder)
	errOverfilled   = fmt.Errorf("%w: executed amount exceeds order amount", ErrInvalidOrder)
)

// LimitOrder is a user order reduced to its remaining, unfilled part.
type LimitOrder struct {
	ID                string
	SellToken         common.Address
	BuyToken          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	Kind              model.OrderKind
	PartiallyFillable bool
	// ScaledUnsubsidizedFee is the remaining fee multiplied by the fee
	// objective scaling factor.
	ScaledUnsubsidizedFee *big.Int
	IsLiquidityOrder      bool
}

// OrderConverter normalizes order book orders into limit orders.
type OrderConverter struct {
	NativeToken               common.Address
	FeeObjectiveScalingFactor float64
}

func (c OrderConverter) validate() error {
	if c.NativeToken == (common.Address{}) {
		return errors.New("config: NativeToken is required")
	}
	f := c.FeeObjectiveScalingFactor
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return fmt.Errorf("config: FeeObjectiveScalingFactor must be positive, got %v", f)
	}
	return nil
}

// NormalizeLimitOrder computes the remaining amounts and fee of o. The filled
// fraction comes from the executed buy amount for buy orders and from the
// executed sell amount for sell orders.
func (c OrderConverter) NormalizeLimitOrder(o model.Order) (LimitOrder, error) {
	d, m := o.Data, o.Metadata

	sellAmount, buyAmount := orZero(d.SellAmount), orZero(d.BuyAmount)
	if sellAmount.Sign() == 0 || buyAmount.Sign() == 0 {
		return LimitOrder{}, errZeroAmount
	}
	executedBuy, executedSell := orZero(m.ExecutedBuyAmount), orZero(m.ExecutedSellAmount)
	if executedBuy.Cmp(buyAmount) > 0 || executedSell.Cmp(sellAmount) > 0 {
		return LimitOrder{}, errOverfilled
	}

	var total, executed *big.Int
	switch d.Kind {
	case model.OrderKindBuy:
		total, executed = buyAmount, executedBuy
	case model.OrderKindSell:
		total, executed = sellAmount, executedSell
	default:
		return LimitOrder{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidOrder, d.Kind)
	}
	remaining := new(big.Int).Sub(total, executed)

	buyToken := d.BuyToken
	if buyToken == model.BuyETHAddress {
		buyToken = c.NativeToken
	}

	return LimitOrder{
		ID:                    m.UID,
		SellToken:             d.SellToken,
		BuyToken:              buyToken,
		SellAmount:            mulDiv(sellAmount, remaining, total),
		BuyAmount:             mulDiv(buyAmount, remaining, total),
		Kind:                  d.Kind,
		PartiallyFillable:     d.PartiallyFillable,
		ScaledUnsubsidizedFee: scale(mulDiv(orZero(m.FullFeeAmount), remaining, total), c.FeeObjectiveScalingFactor),
		IsLiquidityOrder:      m.IsLiquidityOrder,
	}, nil
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// mulDiv returns x*num/den rounded down.
func mulDiv(x, num, den *big.Int) *big.Int {
	r := new(big.Int).Mul(x, num)
	return r.Quo(r, den)
}

func scale(x *big.Int, factor float64) *big.Int {
	f := new(big.Float).SetInt(x)
	f.Mul(f, big.NewFloat(factor))
	r, _ := f.Int(nil)
	return r
}
