package batchstore

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrZeroBatchID indicates the zero identifier sentinel was supplied.
	ErrZeroBatchID = errors.New("batchstore: zero batch id")
	// ErrBatchExists indicates a batch with the identifier is already registered.
	ErrBatchExists = errors.New("batchstore: batch already exists")
	// ErrBatchNotFound indicates no batch is registered under the identifier.
	ErrBatchNotFound = errors.New("batchstore: batch not found")
	// ErrCapacityExceeded indicates the pool is at or above its paid capacity.
	ErrCapacityExceeded = errors.New("batchstore: paid batch capacity exceeded")
	// ErrPoolNotOpen indicates the pool status does not admit batch mutation.
	ErrPoolNotOpen = errors.New("batchstore: pool is not open for mutation")
	// ErrIndexOutOfRange indicates an item index beyond the batch's item list.
	ErrIndexOutOfRange = errors.New("batchstore: item index out of range")

	// Structural validation failures.
	ErrZeroTarget            = errors.New("batchstore: zero target address")
	ErrEmptyTriggerSelector  = errors.New("batchstore: empty trigger selector")
	ErrInvalidPolicy         = errors.New("batchstore: unrecognized policy value")
	ErrZeroAggregateGas      = errors.New("batchstore: zero aggregate gas ceiling")
	ErrDuplicateCheckData    = errors.New("batchstore: duplicate item check payload")
	ErrItemGasOverAggregate  = errors.New("batchstore: item gas ceiling exceeds batch aggregate")
	ErrGasCeilingOverLimit   = errors.New("batchstore: aggregate gas ceiling exceeds registry limit")
	ErrInvalidAggregationLen = errors.New("batchstore: invalid min/max aggregation bounds")
)

// HashMismatchError reports a guarded item edit that lost a concurrent race.
// Both hashes are carried for diagnosis.
type HashMismatchError struct {
	Expected common.Hash
	Actual   common.Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("batchstore: stale item hash: expected %s, stored %s", e.Expected.Hex(), e.Actual.Hex())
}
