package auction

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-balancer-go/model"
	"github.com/ethereum/go-ethereum/common"
)

// nativeUnit is the number of wei in one native token. Auction prices are
// quoted in wei of the native token per token unit scaled by this.
var nativeUnit = big.NewInt(1e18)

// ExternalPrices maps tokens to their price in the native token.
type ExternalPrices struct {
	prices map[common.Address]*big.Rat
}

// NewExternalPrices converts auction prices. The native token and the
// BuyETH marker are always priced at 1.
func NewExternalPrices(nativeToken common.Address, auctionPrices map[common.Address]*big.Int) (ExternalPrices, error) {
	if len(auctionPrices) == 0 {
		return ExternalPrices{}, errors.New("auction has no prices")
	}

	prices := make(map[common.Address]*big.Rat, len(auctionPrices)+2)
	for token, amount := range auctionPrices {
		if amount == nil || amount.Sign() <= 0 {
			return ExternalPrices{}, fmt.Errorf("non-positive price for token %s", token)
		}
		prices[token] = new(big.Rat).SetFrac(amount, nativeUnit)
	}
	prices[nativeToken] = big.NewRat(1, 1)
	prices[model.BuyETHAddress] = big.NewRat(1, 1)
	return ExternalPrices{prices: prices}, nil
}

// Price returns the price of token in the native token.
func (p ExternalPrices) Price(token common.Address) (*big.Rat, bool) {
	r, ok := p.prices[token]
	if !ok {
		return nil, false
	}
	return new(big.Rat).Set(r), true
}

func (p ExternalPrices) Len() int {
	return len(p.prices)
}
