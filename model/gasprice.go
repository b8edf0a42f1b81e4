package model

import "math"

// GasPrice1559 is an EIP-1559 gas price in wei.
type GasPrice1559 struct {
	BaseFeePerGas        float64 `json:"baseFeePerGas"`
	MaxFeePerGas         float64 `json:"maxFeePerGas"`
	MaxPriorityFeePerGas float64 `json:"maxPriorityFeePerGas"`
}

// EffectiveGasPrice is the price per gas a transaction would pay: the base
// fee plus the tip, capped at the max fee.
func (g GasPrice1559) EffectiveGasPrice() float64 {
	return math.Min(g.MaxFeePerGas, g.BaseFeePerGas+g.MaxPriorityFeePerGas)
}

