package types

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkItemContentHashDeterministic(t *testing.T) {
	t.Parallel()

	item := WorkItem{
		CheckGasLimit: 100_000,
		ExecGasLimit:  200_000,
		Value:         big.NewInt(42),
		CheckData:     []byte{0x01, 0x02},
		ExecData:      []byte{0x03},
	}

	require.Equal(t, item.ContentHash(), item.ContentHash())
	require.Equal(t, item.ContentHash(), item.Clone().ContentHash())

	changed := item.Clone()
	changed.ExecData = []byte{0x04}
	require.NotEqual(t, item.ContentHash(), changed.ContentHash())

	// Length-prefixed encoding: moving a byte across the field boundary
	// must change the hash.
	a := WorkItem{CheckData: []byte{0x01, 0x02}, ExecData: []byte{0x03}}
	b := WorkItem{CheckData: []byte{0x01}, ExecData: []byte{0x02, 0x03}}
	require.NotEqual(t, a.ContentHash(), b.ContentHash())
}

func TestConditionEval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cond Condition
		v    int64
		want bool
	}{
		{"eq hit", Condition{Op: CompareOpEq, Left: big.NewInt(5)}, 5, true},
		{"eq miss", Condition{Op: CompareOpEq, Left: big.NewInt(5)}, 6, false},
		{"ne", Condition{Op: CompareOpNe, Left: big.NewInt(5)}, 6, true},
		{"lt", Condition{Op: CompareOpLt, Left: big.NewInt(5)}, 4, true},
		{"le boundary", Condition{Op: CompareOpLe, Left: big.NewInt(5)}, 5, true},
		{"gt", Condition{Op: CompareOpGt, Left: big.NewInt(5)}, 6, true},
		{"ge boundary", Condition{Op: CompareOpGe, Left: big.NewInt(5)}, 5, true},
		{"between inside", Condition{Op: CompareOpBetween, Left: big.NewInt(3), Right: big.NewInt(7)}, 5, true},
		{"between low boundary", Condition{Op: CompareOpBetween, Left: big.NewInt(3), Right: big.NewInt(7)}, 3, true},
		{"between high boundary", Condition{Op: CompareOpBetween, Left: big.NewInt(3), Right: big.NewInt(7)}, 7, true},
		{"between outside", Condition{Op: CompareOpBetween, Left: big.NewInt(3), Right: big.NewInt(7)}, 8, false},
		{"unspecified op", Condition{}, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.cond.Eval(big.NewInt(tc.v)))
		})
	}
}

func TestBatchExistenceSentinel(t *testing.T) {
	t.Parallel()

	var b Batch
	require.False(t, b.Exists())

	b.Exec.AggregateGasLimit = 1
	require.True(t, b.Exists())
}

func TestSelectorFromData(t *testing.T) {
	t.Parallel()

	require.True(t, SelectorFromData([]byte{0x01}).IsZero())
	sel := SelectorFromData([]byte{0xde, 0xad, 0xbe, 0xef, 0x00})
	require.Equal(t, Selector{0xde, 0xad, 0xbe, 0xef}, sel)
}

func TestCloneDetaches(t *testing.T) {
	t.Parallel()

	b := Batch{
		Check: CheckSpec{Items: []WorkItem{{CheckData: []byte{1}, Value: big.NewInt(10)}}},
		Exec:  ExecSpec{AggregateGasLimit: 1, MaxUnitPrice: big.NewInt(7)},
	}
	c := b.Clone()
	c.Check.Items[0].CheckData[0] = 9
	c.Exec.MaxUnitPrice.SetInt64(99)

	require.Equal(t, byte(1), b.Check.Items[0].CheckData[0])
	require.Equal(t, int64(7), b.Exec.MaxUnitPrice.Int64())
}
