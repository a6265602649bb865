package aggregator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/automaton-market/poolnode/x/types"
)

// Aggregator invokes an ordered list of calls against a target, each with its
// own gas ceiling and fail-open flag, and reports per-call outcomes.
type Aggregator interface {
	// Aggregate executes calls against target on behalf of caller.
	// It fails as a whole only when the caller is not the owning pool or when
	// a call with AllowFailure=false fails; individual failures of fail-open
	// calls are reported in the results.
	Aggregate(ctx context.Context, caller common.Address, target common.Address, calls []types.Call) ([]types.CallResult, error)
}

// CallEnv abstracts the external execution environment the aggregator runs
// calls in. Gas ceilings are enforced here; the aggregator never waits on
// wall-clock time.
type CallEnv interface {
	Call(ctx context.Context, caller common.Address, target common.Address, call types.Call) types.CallResult
	// UnitPrice returns the current price of one execution unit.
	UnitPrice() *big.Int
}
