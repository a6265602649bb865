package types

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// BatchID identifies a registered batch. The zero value is the invalid sentinel.
type BatchID = common.Hash

// Selector is a 4-byte function selector.
type Selector [4]byte

func (s Selector) Bytes() []byte { return s[:] }

func (s Selector) IsZero() bool { return s == Selector{} }

// SelectorFromData extracts the leading selector from encoded calldata.
// Returns the zero selector if the data is too short.
func SelectorFromData(data []byte) Selector {
	var sel Selector
	if len(data) >= 4 {
		copy(sel[:], data[:4])
	}
	return sel
}

// Condition is a user-defined comparison expression evaluated against a
// decoded numeric check result. Right is only consulted for CompareOpBetween.
type Condition struct {
	Op    CompareOp
	Left  *big.Int
	Right *big.Int
}

// Eval applies the condition to the decoded result value.
func (c Condition) Eval(v *big.Int) bool {
	switch c.Op {
	case CompareOpEq:
		return v.Cmp(c.Left) == 0
	case CompareOpNe:
		return v.Cmp(c.Left) != 0
	case CompareOpLt:
		return v.Cmp(c.Left) < 0
	case CompareOpLe:
		return v.Cmp(c.Left) <= 0
	case CompareOpGt:
		return v.Cmp(c.Left) > 0
	case CompareOpGe:
		return v.Cmp(c.Left) >= 0
	case CompareOpBetween:
		return v.Cmp(c.Left) >= 0 && v.Cmp(c.Right) <= 0
	default:
		return false
	}
}

// WorkItem is a single check-trigger/execution-payload pair within a batch.
type WorkItem struct {
	CheckGasLimit uint64
	ExecGasLimit  uint64
	Value         *big.Int
	Condition     *Condition
	CheckData     []byte
	ExecData      []byte
}

// ContentHash returns the keccak256 hash of the item's canonical encoding.
// It is used as the optimistic-concurrency guard for item-level edits.
func (w WorkItem) ContentHash() common.Hash {
	var buf []byte
	var u64 [8]byte

	binary.BigEndian.PutUint64(u64[:], w.CheckGasLimit)
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], w.ExecGasLimit)
	buf = append(buf, u64[:]...)
	buf = append(buf, common.BigToHash(bigOrZero(w.Value)).Bytes()...)

	if w.Condition != nil {
		buf = append(buf, byte(w.Condition.Op))
		buf = append(buf, common.BigToHash(bigOrZero(w.Condition.Left)).Bytes()...)
		buf = append(buf, common.BigToHash(bigOrZero(w.Condition.Right)).Bytes()...)
	} else {
		buf = append(buf, 0)
	}

	binary.BigEndian.PutUint64(u64[:], uint64(len(w.CheckData)))
	buf = append(buf, u64[:]...)
	buf = append(buf, w.CheckData...)
	binary.BigEndian.PutUint64(u64[:], uint64(len(w.ExecData)))
	buf = append(buf, u64[:]...)
	buf = append(buf, w.ExecData...)

	return crypto.Keccak256Hash(buf)
}

// TriggerHash keys off-chain supplied data to the stored trigger payload.
func (w WorkItem) TriggerHash() common.Hash {
	return crypto.Keccak256Hash(w.CheckData)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// CheckSpec describes how due work is detected for a batch.
type CheckSpec struct {
	Target            common.Address
	TriggerSource     TriggerSource
	MergePolicy       MergePolicy
	ResultPolicy      ResultPolicy
	PayloadPolicy     PayloadPolicy
	AggregateGasLimit uint64
	MinInterval       time.Duration
	TriggerSelector   Selector
	Items             []WorkItem
}

// ExecSpec describes how due work is performed for a batch.
// A batch exists iff AggregateGasLimit is non-zero; that doubles as the
// existence sentinel, so a valid spec may never carry a zero ceiling.
type ExecSpec struct {
	Target            common.Address
	Selector          Selector
	AggregateGasLimit uint64
	Enabled           bool
	MaxUnitPrice      *big.Int
	MinAggregation    uint32
	MaxAggregation    uint32
}

// Batch is a registered unit of conditional work.
type Batch struct {
	ID             BatchID
	Check          CheckSpec
	Exec           ExecSpec
	CreatedAt      time.Time
	LastExecutedAt time.Time
}

// Exists reports whether the batch is registered, per the existence sentinel.
func (b Batch) Exists() bool {
	return b.Exec.AggregateGasLimit != 0
}

// Call is a single call descriptor submitted to the execution aggregator.
type Call struct {
	AllowFailure bool
	GasLimit     uint64
	Value        *big.Int
	Data         []byte
}

// CallResult is the per-call outcome returned by the execution aggregator.
type CallResult struct {
	Success    bool
	ReturnData []byte
	GasUsed    uint64
}

// Clone returns a deep copy of the batch, detaching all slices and big.Ints
// so that read accessors never hand out aliased mutable state.
func (b Batch) Clone() Batch {
	out := b
	out.Check.Items = make([]WorkItem, len(b.Check.Items))
	for i, it := range b.Check.Items {
		out.Check.Items[i] = it.Clone()
	}
	if b.Exec.MaxUnitPrice != nil {
		out.Exec.MaxUnitPrice = new(big.Int).Set(b.Exec.MaxUnitPrice)
	}
	return out
}

// Clone returns a deep copy of the work item.
func (w WorkItem) Clone() WorkItem {
	out := w
	if w.Value != nil {
		out.Value = new(big.Int).Set(w.Value)
	}
	if w.Condition != nil {
		cond := Condition{Op: w.Condition.Op}
		if w.Condition.Left != nil {
			cond.Left = new(big.Int).Set(w.Condition.Left)
		}
		if w.Condition.Right != nil {
			cond.Right = new(big.Int).Set(w.Condition.Right)
		}
		out.Condition = &cond
	}
	out.CheckData = append([]byte(nil), w.CheckData...)
	out.ExecData = append([]byte(nil), w.ExecData...)
	return out
}
