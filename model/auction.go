package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BuyETHAddress is the marker used by orders that want to receive native ether
// instead of the wrapped token.
var BuyETHAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// OrderKind tells which side of an order is fixed.
type OrderKind string

const (
	OrderKindSell OrderKind = "sell"
	OrderKindBuy  OrderKind = "buy"
)

// OrderData is the signed part of an order.
type OrderData struct {
	SellToken         common.Address `json:"sellToken"`
	BuyToken          common.Address `json:"buyToken"`
	Receiver          common.Address `json:"receiver"`
	SellAmount        *big.Int       `json:"sellAmount"`
	BuyAmount         *big.Int       `json:"buyAmount"`
	ValidTo           uint32         `json:"validTo"`
	FeeAmount         *big.Int       `json:"feeAmount"`
	Kind              OrderKind      `json:"kind"`
	PartiallyFillable bool           `json:"partiallyFillable"`
}

// OrderMetadata is the part of an order maintained by the order book.
type OrderMetadata struct {
	UID                string         `json:"uid"`
	Owner              common.Address `json:"owner"`
	FullFeeAmount      *big.Int       `json:"fullFeeAmount"`
	ExecutedBuyAmount  *big.Int       `json:"executedBuyAmount"`
	ExecutedSellAmount *big.Int       `json:"executedSellAmount"`
	IsLiquidityOrder   bool           `json:"isLiquidityOrder"`
}

// Order is an order as it comes from the order book.
type Order struct {
	Data     OrderData     `json:"data"`
	Metadata OrderMetadata `json:"metadata"`
}

// Auction is the raw order book snapshot handed to the driver.
type Auction struct {
	Block                 uint64                      `json:"block"`
	LatestSettlementBlock uint64                      `json:"latestSettlementBlock"`
	NextSolverCompetition uint64                      `json:"nextSolverCompetition"`
	Orders                []Order                     `json:"orders"`
	Prices                map[common.Address]*big.Int `json:"prices"`
}
