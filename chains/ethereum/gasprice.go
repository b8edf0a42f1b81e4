package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-balancer-go/model"
	"github.com/ethereum/go-ethereum/core/types"
)

// baseFeeHeadroom multiplies the base fee when deriving the max fee.
const baseFeeHeadroom = 2

type GasBackend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// GasPriceEstimator derives an EIP-1559 gas price from the latest header's
// base fee and the node's suggested tip.
type GasPriceEstimator struct {
	backend GasBackend
}

func NewGasPriceEstimator(backend GasBackend) *GasPriceEstimator {
	return &GasPriceEstimator{backend: backend}
}

func (e *GasPriceEstimator) Estimate(ctx context.Context) (model.GasPrice1559, error) {
	header, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return model.GasPrice1559{}, fmt.Errorf("failed to read latest header: %w", err)
	}
	if header.BaseFee == nil {
		return model.GasPrice1559{}, errors.New("latest header has no base fee")
	}
	tip, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return model.GasPrice1559{}, fmt.Errorf("failed to read suggested tip: %w", err)
	}

	baseFee := toFloat(header.BaseFee)
	priority := toFloat(tip)
	return model.GasPrice1559{
		BaseFeePerGas:        baseFee,
		MaxFeePerGas:         baseFee*baseFeeHeadroom + priority,
		MaxPriorityFeePerGas: priority,
	}, nil
}

func toFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
