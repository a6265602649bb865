// Package costmodel provides pluggable calculators for the platform-specific
// cost add-on applied on top of metered execution cost. Which calculators a
// pool may use is policed by the tenant registry's oracle whitelist.
package costmodel

import (
	"math/big"
)

// Calculator estimates the external cost added by the hosting platform for a
// given calldata payload at the given execution unit price.
type Calculator interface {
	AddedCost(calldata []byte, unitPrice *big.Int) *big.Int
}

// NopCalculator adds no external cost. Used on platforms without a separate
// data-availability fee.
type NopCalculator struct{}

func (NopCalculator) AddedCost([]byte, *big.Int) *big.Int {
	return new(big.Int)
}

// RollupCalculator estimates a data-posting fee charged per calldata byte,
// scaled by a platform-configured scalar in basis points.
type RollupCalculator struct {
	PerByteUnits uint64
	ScalarBps    uint64
}

func (c RollupCalculator) AddedCost(calldata []byte, unitPrice *big.Int) *big.Int {
	if unitPrice == nil || unitPrice.Sign() == 0 || len(calldata) == 0 {
		return new(big.Int)
	}
	units := new(big.Int).SetUint64(c.PerByteUnits)
	units.Mul(units, big.NewInt(int64(len(calldata))))
	cost := units.Mul(units, unitPrice)
	cost.Mul(cost, new(big.Int).SetUint64(c.ScalarBps))
	return cost.Div(cost, big.NewInt(10_000))
}
