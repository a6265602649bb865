package costmodel

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNopCalculator(t *testing.T) {
	t.Parallel()
	require.Zero(t, NopCalculator{}.AddedCost([]byte{1, 2, 3}, big.NewInt(10)).Sign())
}

func TestRollupCalculator(t *testing.T) {
	t.Parallel()

	calc := RollupCalculator{PerByteUnits: 16, ScalarBps: 6_840}

	// 16 units x 10 bytes x price 2 x 0.684 = 218 (floored).
	got := calc.AddedCost(make([]byte, 10), big.NewInt(2))
	require.Equal(t, big.NewInt(218), got)

	require.Zero(t, calc.AddedCost(nil, big.NewInt(2)).Sign())
	require.Zero(t, calc.AddedCost(make([]byte, 10), nil).Sign())
	require.Zero(t, calc.AddedCost(make([]byte, 10), big.NewInt(0)).Sign())
}
