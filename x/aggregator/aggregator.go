package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/automaton-market/poolnode/x/types"
)

var (
	// ErrNotOwner indicates the aggregate was requested by someone other than
	// the owning pool.
	ErrNotOwner = errors.New("aggregator: caller is not the owning pool")
	// ErrCallFailed indicates a fail-closed call failed, voiding the aggregate.
	ErrCallFailed = errors.New("aggregator: required call failed")
)

// executor implements Aggregator bound to a single owning pool identity.
type executor struct {
	logger zerolog.Logger
	owner  common.Address
	env    CallEnv
}

// New constructs an Aggregator owned by the given pool identity.
func New(owner common.Address, env CallEnv, logger zerolog.Logger) Aggregator {
	return &executor{
		logger: logger.With().Str("component", "aggregator").Logger(),
		owner:  owner,
		env:    env,
	}
}

// Aggregate executes the calls in order. Results are positional: results[i]
// corresponds to calls[i] even when an intermediate fail-open call failed.
func (e *executor) Aggregate(ctx context.Context, caller common.Address, target common.Address, calls []types.Call) ([]types.CallResult, error) {
	if caller != e.owner {
		return nil, ErrNotOwner
	}

	results := make([]types.CallResult, len(calls))
	for i, call := range calls {
		res := e.env.Call(ctx, e.owner, target, call)
		results[i] = res

		if !res.Success && !call.AllowFailure {
			e.logger.Debug().
				Int("index", i).
				Str("target", target.Hex()).
				Uint64("gas_limit", call.GasLimit).
				Msg("fail-closed call failed, voiding aggregate")
			return nil, fmt.Errorf("%w: index %d", ErrCallFailed, i)
		}
	}
	return results, nil
}
