package batchstore

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/automaton-market/poolnode/x/types"
)

// validate applies structural validation and the registry's current gas
// restrictions. full enables the duplicate-check-payload scan, which only
// runs on whole-batch registration and update. Restrictions are re-read on
// every call: they may have tightened since the batch was created, and a
// non-gas edit must not silently preserve a stale gas configuration.
func (s *Store) validate(check types.CheckSpec, exec types.ExecSpec, full bool) error {
	if check.Target == (common.Address{}) || exec.Target == (common.Address{}) {
		return ErrZeroTarget
	}
	if check.TriggerSelector.IsZero() {
		return ErrEmptyTriggerSelector
	}
	if !check.TriggerSource.Valid() {
		return fmt.Errorf("%w: trigger source %d", ErrInvalidPolicy, check.TriggerSource)
	}
	if !check.MergePolicy.Valid() {
		return fmt.Errorf("%w: merge policy %d", ErrInvalidPolicy, check.MergePolicy)
	}
	if !check.ResultPolicy.Valid() {
		return fmt.Errorf("%w: result policy %d", ErrInvalidPolicy, check.ResultPolicy)
	}
	if !check.PayloadPolicy.Valid() {
		return fmt.Errorf("%w: payload policy %d", ErrInvalidPolicy, check.PayloadPolicy)
	}
	if check.AggregateGasLimit == 0 || exec.AggregateGasLimit == 0 {
		return ErrZeroAggregateGas
	}
	if exec.MaxAggregation != 0 && exec.MinAggregation > exec.MaxAggregation {
		return ErrInvalidAggregationLen
	}

	for i, item := range check.Items {
		if item.CheckGasLimit > check.AggregateGasLimit {
			return fmt.Errorf("%w: item %d check gas %d", ErrItemGasOverAggregate, i, item.CheckGasLimit)
		}
		if item.ExecGasLimit > exec.AggregateGasLimit {
			return fmt.Errorf("%w: item %d exec gas %d", ErrItemGasOverAggregate, i, item.ExecGasLimit)
		}
		if item.Condition != nil && !item.Condition.Op.Valid() {
			return fmt.Errorf("%w: item %d condition op %d", ErrInvalidPolicy, i, item.Condition.Op)
		}
	}

	if full {
		seen := make(map[common.Hash]int, len(check.Items))
		for i, item := range check.Items {
			h := crypto.Keccak256Hash(item.CheckData)
			if prev, dup := seen[h]; dup {
				return fmt.Errorf("%w: items %d and %d", ErrDuplicateCheckData, prev, i)
			}
			seen[h] = i
		}
	}

	res := s.registry.Restrictions()
	if res.CheckGasLimit != 0 && check.AggregateGasLimit > res.CheckGasLimit {
		return fmt.Errorf("%w: check %d > %d", ErrGasCeilingOverLimit, check.AggregateGasLimit, res.CheckGasLimit)
	}
	if res.PerformGasLimit != 0 && exec.AggregateGasLimit > res.PerformGasLimit {
		return fmt.Errorf("%w: perform %d > %d", ErrGasCeilingOverLimit, exec.AggregateGasLimit, res.PerformGasLimit)
	}
	return nil
}
