package model

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TokenPair is an unordered pair of two distinct tokens. The tokens are stored
// sorted so that a pair built from (a, b) and one built from (b, a) compare
// equal and can be used interchangeably as map or set keys.
type TokenPair struct {
	token0 common.Address
	token1 common.Address
}

// NewTokenPair returns the canonical pair for a and b. It returns false when
// both addresses are the same token.
func NewTokenPair(a, b common.Address) (TokenPair, bool) {
	switch bytes.Compare(a.Bytes(), b.Bytes()) {
	case -1:
		return TokenPair{token0: a, token1: b}, true
	case 1:
		return TokenPair{token0: b, token1: a}, true
	default:
		return TokenPair{}, false
	}
}

// Get returns the tokens of the pair in ascending order.
func (p TokenPair) Get() (common.Address, common.Address) {
	return p.token0, p.token1
}

func (p TokenPair) String() string {
	return fmt.Sprintf("(%s, %s)", p.token0.Hex(), p.token1.Hex())
}
