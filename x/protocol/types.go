package protocol

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/automaton-market/poolnode/x/settlement"
	"github.com/automaton-market/poolnode/x/types"
)

// ItemRecord is the per-item result of a check invocation. TriggerData holds
// the trigger bytes actually sent to the target, off-chain data merged in.
type ItemRecord struct {
	Index          int
	ContentHash    common.Hash
	NeedsExecution bool
	CallSuccess    bool
	TriggerData    []byte
	RawResult      []byte
	ExecPayload    []byte
}

// CheckOutput is the result of a check invocation: how many items need
// execution, the full batch spec, and the per-item records.
type CheckOutput struct {
	CountNeeding int
	Batch        types.Batch
	Items        []ItemRecord
}

// PerformItem describes one selected worklist entry submitted to perform.
// AggregationCount is the number of logical work items represented by the
// paired call; TriggerBytes is carried for logging only.
type PerformItem struct {
	AggregationCount uint32
	ContentHash      common.Hash
	TriggerBytes     []byte
}

// SkipReason explains why a perform aggregate was voided without per-item
// execution. Skips are not failures: the worker is still compensated.
type SkipReason uint8

const (
	SkipNone SkipReason = iota
	// SkipSelectorMismatch: a call descriptor's selector does not match the
	// batch's configured execution selector (stale or tampered worklist).
	SkipSelectorMismatch
	// SkipAggregationBounds: the aggregate size lies outside the batch's
	// configured min/max aggregation.
	SkipAggregationBounds
	// SkipRestriction: a registry restriction or batch setting changed since
	// the worklist was built (disabled batch, price ceiling, min interval,
	// minimum balance).
	SkipRestriction
	// SkipAggregatorRevert: the execution aggregator itself reverted, so no
	// per-item detail is available.
	SkipAggregatorRevert
	// SkipBatchGone: the batch was unregistered since the worklist was built.
	SkipBatchGone
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipSelectorMismatch:
		return "selector-mismatch"
	case SkipAggregationBounds:
		return "aggregation-bounds"
	case SkipRestriction:
		return "restriction"
	case SkipAggregatorRevert:
		return "aggregator-revert"
	case SkipBatchGone:
		return "batch-gone"
	default:
		return "unknown"
	}
}

// PerformOutput is the result of a perform invocation.
type PerformOutput struct {
	Skipped    bool
	SkipReason SkipReason

	// ItemSuccess is positional with the submitted items; nil when skipped.
	ItemSuccess []bool
	// SuccessWeight and FailureWeight are aggregation-weighted totals.
	SuccessWeight uint64
	FailureWeight uint64
	GasUsed       uint64

	Settlement settlement.Outcome
}
