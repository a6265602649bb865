package aggregator

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/automaton-market/poolnode/x/types"
)

var (
	poolAddr   = common.HexToAddress("0x01")
	otherAddr  = common.HexToAddress("0x02")
	targetAddr = common.HexToAddress("0xaa")
)

func newTestEnv() *MemoryEnv {
	return NewMemoryEnv(big.NewInt(1), 0, 0)
}

func discard() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

func TestAggregateRejectsNonOwner(t *testing.T) {
	t.Parallel()

	agg := New(poolAddr, newTestEnv(), discard())
	_, err := agg.Aggregate(context.Background(), otherAddr, targetAddr, []types.Call{{}})
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestAggregateFailOpenRecordsFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.SetTarget(targetAddr, func(_ common.Address, input []byte, _ *big.Int) ([]byte, uint64, error) {
		if len(input) > 0 && input[0] == 0xff {
			return nil, 10, errors.New("revert")
		}
		return []byte{0x01}, 10, nil
	})

	agg := New(poolAddr, env, discard())
	results, err := agg.Aggregate(context.Background(), poolAddr, targetAddr, []types.Call{
		{AllowFailure: true, GasLimit: 100, Data: []byte{0xff}},
		{AllowFailure: true, GasLimit: 100, Data: []byte{0x00}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.False(t, results[0].Success)
	require.True(t, results[1].Success)
	require.Equal(t, uint64(10), results[1].GasUsed)
}

func TestAggregateFailClosedVoidsWhole(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.SetTarget(targetAddr, func(common.Address, []byte, *big.Int) ([]byte, uint64, error) {
		return nil, 5, errors.New("revert")
	})

	agg := New(poolAddr, env, discard())
	_, err := agg.Aggregate(context.Background(), poolAddr, targetAddr, []types.Call{
		{AllowFailure: false, GasLimit: 100},
	})
	require.ErrorIs(t, err, ErrCallFailed)
}

func TestMemoryEnvEnforcesGasCeiling(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.SetTarget(targetAddr, func(common.Address, []byte, *big.Int) ([]byte, uint64, error) {
		return []byte{0x01}, 1_000, nil
	})

	res := env.Call(context.Background(), poolAddr, targetAddr, types.Call{GasLimit: 500})
	require.False(t, res.Success)
	require.Equal(t, uint64(500), res.GasUsed)
}

func TestMemoryEnvUnknownTargetFails(t *testing.T) {
	t.Parallel()

	env := NewMemoryEnv(big.NewInt(1), 21_000, 16)
	res := env.Call(context.Background(), poolAddr, targetAddr, types.Call{Data: []byte{1, 2}})
	require.False(t, res.Success)
	require.Equal(t, uint64(21_000+2*16), res.GasUsed)
}
