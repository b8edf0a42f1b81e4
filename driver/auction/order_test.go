package auction

import (
	"math/big"
	"testing"

	"github.com/defistate/defistate-balancer-go/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderConverter_NormalizeLimitOrder(t *testing.T) {
	conv := OrderConverter{NativeToken: token(1), FeeObjectiveScalingFactor: 1.5}

	t.Run("SellOrderPartiallyFilled", func(t *testing.T) {
		o := model.Order{
			Data: model.OrderData{
				SellToken:  token(2),
				BuyToken:   token(3),
				SellAmount: big.NewInt(1000),
				BuyAmount:  big.NewInt(500),
				Kind:       model.OrderKindSell,
			},
			Metadata: model.OrderMetadata{
				UID:                "sell",
				FullFeeAmount:      big.NewInt(40),
				ExecutedSellAmount: big.NewInt(250),
			},
		}
		got, err := conv.NormalizeLimitOrder(o)
		require.NoError(t, err)
		assert.Equal(t, "750", got.SellAmount.String())
		assert.Equal(t, "375", got.BuyAmount.String())
		assert.Equal(t, "45", got.ScaledUnsubsidizedFee.String())
		assert.Equal(t, model.OrderKindSell, got.Kind)
	})

	t.Run("UnfilledOrderKeepsAmounts", func(t *testing.T) {
		o := buyOrder("fresh", token(2), token(3), 0)
		o.Metadata.ExecutedBuyAmount = nil
		got, err := conv.NormalizeLimitOrder(o)
		require.NoError(t, err)
		assert.Equal(t, "10", got.SellAmount.String())
		assert.Equal(t, "10", got.BuyAmount.String())
		assert.Equal(t, "150", got.ScaledUnsubsidizedFee.String())
	})

	t.Run("BuyETHMapsToNativeToken", func(t *testing.T) {
		got, err := conv.NormalizeLimitOrder(buyOrder("eth", token(2), model.BuyETHAddress, 0))
		require.NoError(t, err)
		assert.Equal(t, token(1), got.BuyToken)
		assert.Equal(t, token(2), got.SellToken)
	})

	t.Run("Invalid", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(*model.Order)
		}{
			{name: "ZeroBuyAmount", mutate: func(o *model.Order) { o.Data.BuyAmount = big.NewInt(0) }},
			{name: "MissingSellAmount", mutate: func(o *model.Order) { o.Data.SellAmount = nil }},
			{name: "OverfilledBuy", mutate: func(o *model.Order) { o.Metadata.ExecutedBuyAmount = big.NewInt(11) }},
			{name: "OverfilledSell", mutate: func(o *model.Order) { o.Metadata.ExecutedSellAmount = big.NewInt(11) }},
			{name: "UnknownKind", mutate: func(o *model.Order) { o.Data.Kind = "limit" }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				o := buyOrder("bad", token(2), token(3), 0)
				tt.mutate(&o)
				_, err := conv.NormalizeLimitOrder(o)
				assert.ErrorIs(t, err, ErrInvalidOrder)
			})
		}
	})
}

func TestNewExternalPrices(t *testing.T) {
	native := token(1)

	prices, err := NewExternalPrices(native, map[common.Address]*big.Int{
		token(2): big.NewInt(2e18),
		token(3): big.NewInt(5e17),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, prices.Len())

	p, ok := prices.Price(token(2))
	require.True(t, ok)
	assert.Equal(t, "2/1", p.String())
	p, ok = prices.Price(token(3))
	require.True(t, ok)
	assert.Equal(t, "1/2", p.String())

	_, ok = prices.Price(token(9))
	assert.False(t, ok)

	t.Run("ZeroPrice", func(t *testing.T) {
		_, err := NewExternalPrices(native, map[common.Address]*big.Int{token(2): big.NewInt(0)})
		assert.Error(t, err)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := NewExternalPrices(native, nil)
		assert.Error(t, err)
	})
}
