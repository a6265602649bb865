package protocol

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/automaton-market/poolnode/x/types"
)

// Check evaluates a batch's triggers and returns the worklist. offchain maps
// the keccak256 hash of an item's stored trigger payload to externally
// supplied data merged into the check call per the batch's merge policy.
// A key matching no stored trigger is a hard failure.
func (e *Engine) Check(ctx context.Context, batchID types.BatchID, offchain map[common.Hash][]byte) (CheckOutput, error) {
	batch, err := e.store.Get(batchID)
	if err != nil {
		return CheckOutput{}, err
	}
	if err := e.checkRestrictions(batch); err != nil {
		return CheckOutput{}, err
	}

	// Verify every supplied off-chain entry against the stored triggers
	// before any merging happens; a spoofed key voids the whole check.
	if len(offchain) > 0 {
		known := make(map[common.Hash]bool, len(batch.Check.Items))
		for _, item := range batch.Check.Items {
			known[item.TriggerHash()] = true
		}
		for key := range offchain {
			if !known[key] {
				return CheckOutput{}, fmt.Errorf("%w: key %s", ErrOffchainDataMismatch, key.Hex())
			}
		}
	}

	calls := make([]types.Call, len(batch.Check.Items))
	merged := make([][]byte, len(batch.Check.Items))
	for i, item := range batch.Check.Items {
		payload := mergePayload(batch.Check.MergePolicy, item.CheckData, offchain[item.TriggerHash()])
		merged[i] = payload
		calls[i] = types.Call{
			AllowFailure: true,
			GasLimit:     item.CheckGasLimit,
			Data:         append(batch.Check.TriggerSelector.Bytes(), payload...),
		}
	}

	results, err := e.aggregator.Aggregate(ctx, e.pool, batch.Check.Target, calls)
	if err != nil {
		return CheckOutput{}, fmt.Errorf("check aggregate: %w", err)
	}

	out := CheckOutput{Batch: batch, Items: make([]ItemRecord, len(batch.Check.Items))}
	for i, item := range batch.Check.Items {
		res := results[i]
		needs := interpretResult(batch.Check.ResultPolicy, item, res)

		rec := ItemRecord{
			Index:          i,
			ContentHash:    item.ContentHash(),
			NeedsExecution: needs,
			CallSuccess:    res.Success,
			TriggerData:    merged[i],
			RawResult:      res.ReturnData,
		}
		if needs {
			rec.ExecPayload = derivePayload(batch.Check.PayloadPolicy, item, merged[i], res)
			out.CountNeeding++
		}
		out.Items[i] = rec
	}

	e.logger.Debug().
		Str("batch_id", batchID.Hex()).
		Int("items", len(out.Items)).
		Int("needing", out.CountNeeding).
		Msg("check completed")
	return out, nil
}

func mergePayload(policy types.MergePolicy, check, offchain []byte) []byte {
	if len(offchain) == 0 {
		return append([]byte(nil), check...)
	}
	switch policy {
	case types.MergePolicyPrepend:
		return append(append([]byte(nil), offchain...), check...)
	case types.MergePolicyAppend:
		return append(append([]byte(nil), check...), offchain...)
	case types.MergePolicyReplace:
		return append([]byte(nil), offchain...)
	default:
		return append([]byte(nil), check...)
	}
}

// interpretResult applies the batch's call-result policy to one raw result.
func interpretResult(policy types.ResultPolicy, item types.WorkItem, res types.CallResult) bool {
	switch policy {
	case types.ResultPolicyAssumeSuccess:
		return res.Success
	case types.ResultPolicyAssumeFailure:
		return !res.Success
	case types.ResultPolicyDecodeBool:
		if !res.Success || len(res.ReturnData) < 32 {
			return false
		}
		return res.ReturnData[31] != 0
	case types.ResultPolicyCompare:
		if !res.Success || item.Condition == nil || len(res.ReturnData) < 32 {
			return false
		}
		v := common.BytesToHash(res.ReturnData[:32]).Big()
		return item.Condition.Eval(v)
	default:
		return false
	}
}

// derivePayload builds the outbound execution payload per the batch's
// execution-data policy.
func derivePayload(policy types.PayloadPolicy, item types.WorkItem, merged []byte, res types.CallResult) []byte {
	switch policy {
	case types.PayloadPolicyCheckResult:
		return res.ReturnData
	case types.PayloadPolicyExecData:
		return item.ExecData
	case types.PayloadPolicyTriggerData:
		return item.CheckData
	case types.PayloadPolicyRawCheckBytes:
		return merged
	case types.PayloadPolicyDecodedForward:
		if decoded, ok := decodeForward(res.ReturnData); ok {
			return decoded
		}
		return res.ReturnData
	default:
		return nil
	}
}

var bytesArgs = func() abi.Arguments {
	t, _ := abi.NewType("bytes", "", nil)
	return abi.Arguments{{Type: t}}
}()

// decodeForward unpacks an ABI-encoded dynamic bytes value and forwards its
// contents.
func decodeForward(data []byte) ([]byte, bool) {
	vals, err := bytesArgs.Unpack(data)
	if err != nil || len(vals) != 1 {
		return nil, false
	}
	out, ok := vals[0].([]byte)
	return out, ok
}
