package protocol

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/automaton-market/poolnode/x/batchstore"
	"github.com/automaton-market/poolnode/x/settlement"
	"github.com/automaton-market/poolnode/x/types"
)

// Perform executes a caller-selected worklist subset against the batch's
// execution target and settles the measured cost. Restriction and worklist
// staleness problems void the aggregate as skipped rather than failing, so
// the worker is still compensated for the gas already spent; only the ordered
// preconditions reject outright with no settlement and no state change.
func (e *Engine) Perform(ctx context.Context, worker common.Address, batchID types.BatchID, items []PerformItem, calls []types.Call) (PerformOutput, error) {
	// Ordered preconditions, each a distinct failure mode.
	if len(items) == 0 {
		return PerformOutput{}, ErrEmptyPerform
	}
	if len(items) != len(calls) {
		return PerformOutput{}, ErrLengthMismatch
	}
	if batchID == (types.BatchID{}) {
		return PerformOutput{}, ErrZeroBatchID
	}
	// Workers must not spend further gas chasing an already-drained pool.
	if e.wallet.Balance().Sign() == 0 {
		return PerformOutput{}, ErrInsufficientFunds
	}
	// Evaluated freshly: a closing pool is still served up to its deadline.
	if e.status() == types.PoolStatusClosed {
		return PerformOutput{}, ErrPoolClosed
	}

	var calldata []byte
	for _, call := range calls {
		calldata = append(calldata, call.Data...)
	}

	batch, err := e.store.Get(batchID)
	if err != nil {
		if errors.Is(err, batchstore.ErrBatchNotFound) {
			return e.skip(worker, batchID, SkipBatchGone, calldata), nil
		}
		return PerformOutput{}, err
	}

	// A stale or tampered worklist voids the entire aggregate.
	for _, call := range calls {
		if types.SelectorFromData(call.Data) != batch.Exec.Selector {
			return e.skip(worker, batchID, SkipSelectorMismatch, calldata), nil
		}
	}

	var weight uint64
	for _, item := range items {
		weight += uint64(item.AggregationCount)
	}
	if weight < uint64(batch.Exec.MinAggregation) ||
		(batch.Exec.MaxAggregation != 0 && weight > uint64(batch.Exec.MaxAggregation)) {
		return e.skip(worker, batchID, SkipAggregationBounds, calldata), nil
	}

	if err := e.checkRestrictions(batch); err != nil {
		return e.skip(worker, batchID, SkipRestriction, calldata), nil
	}

	results, err := e.aggregator.Aggregate(ctx, e.pool, batch.Exec.Target, calls)
	if err != nil {
		// The aggregator itself reverted: no per-item detail is available.
		return e.skip(worker, batchID, SkipAggregatorRevert, calldata), nil
	}

	out := PerformOutput{ItemSuccess: make([]bool, len(items))}
	anySuccess := false
	for i, res := range results {
		out.ItemSuccess[i] = res.Success
		out.GasUsed += res.GasUsed
		if res.Success {
			out.SuccessWeight += uint64(items[i].AggregationCount)
			anySuccess = true
		} else {
			out.FailureWeight += uint64(items[i].AggregationCount)
		}
	}
	if anySuccess {
		e.store.MarkExecuted(batchID, e.now())
	}

	out.Settlement = e.settle(worker, out.GasUsed, calldata)

	e.logger.Info().
		Str("batch_id", batchID.Hex()).
		Str("worker", worker.Hex()).
		Uint64("success_weight", out.SuccessWeight).
		Uint64("failure_weight", out.FailureWeight).
		Uint64("gas_used", out.GasUsed).
		Str("compensation", out.Settlement.Compensation.String()).
		Msg("perform completed")
	return out, nil
}

// skip settles a voided aggregate. No target calls ran, so only the intrinsic
// cost of the attempt is compensated.
func (e *Engine) skip(worker common.Address, batchID types.BatchID, reason SkipReason, calldata []byte) PerformOutput {
	out := PerformOutput{
		Skipped:    true,
		SkipReason: reason,
		Settlement: e.settle(worker, 0, calldata),
	}
	e.logger.Info().
		Str("batch_id", batchID.Hex()).
		Str("worker", worker.Hex()).
		Str("reason", reason.String()).
		Msg("perform skipped")
	return out
}

func (e *Engine) settle(worker common.Address, gasUsed uint64, calldata []byte) settlement.Outcome {
	out := e.ledger.Settle(settlement.SettleParams{
		Worker:      worker,
		GasUsed:     gasUsed,
		CalldataLen: len(calldata),
		Calldata:    calldata,
		UnitPrice:   e.env.UnitPrice(),
		Available:   e.wallet.Balance(),
	})
	if out.Paid.Sign() > 0 {
		// Paid never exceeds the balance checked above.
		_ = e.wallet.Debit(out.Paid)
	}
	return out
}
