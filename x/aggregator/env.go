package aggregator

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/automaton-market/poolnode/x/types"
)

// TargetFunc simulates a deployed target: it receives the caller identity and
// raw input and returns output bytes, the execution units consumed, and an
// error when the call should revert.
type TargetFunc func(caller common.Address, input []byte, value *big.Int) (output []byte, gasUsed uint64, err error)

// MemoryEnv is an in-process CallEnv with programmable targets. Calls against
// unknown targets fail. Gas ceilings are enforced: a target consuming more
// than the call's limit is reported as failed with GasUsed clamped to the
// limit, mirroring an out-of-gas revert.
type MemoryEnv struct {
	mu      sync.RWMutex
	targets map[common.Address]TargetFunc
	price   *big.Int
	baseGas uint64
	byteGas uint64
}

// NewMemoryEnv constructs a MemoryEnv with the given unit price. baseGas and
// byteGas are added to every call's metered consumption, mirroring intrinsic
// call cost.
func NewMemoryEnv(unitPrice *big.Int, baseGas, byteGas uint64) *MemoryEnv {
	if unitPrice == nil {
		unitPrice = new(big.Int)
	}
	return &MemoryEnv{
		targets: make(map[common.Address]TargetFunc),
		price:   new(big.Int).Set(unitPrice),
		baseGas: baseGas,
		byteGas: byteGas,
	}
}

// SetTarget installs or replaces the handler for a target address.
func (m *MemoryEnv) SetTarget(addr common.Address, fn TargetFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[addr] = fn
}

// SetUnitPrice updates the current execution unit price.
func (m *MemoryEnv) SetUnitPrice(p *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = new(big.Int).Set(p)
}

func (m *MemoryEnv) UnitPrice() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.price)
}

func (m *MemoryEnv) Call(_ context.Context, caller common.Address, target common.Address, call types.Call) types.CallResult {
	m.mu.RLock()
	fn, ok := m.targets[target]
	m.mu.RUnlock()

	intrinsic := m.baseGas + m.byteGas*uint64(len(call.Data))
	if !ok {
		return types.CallResult{Success: false, GasUsed: intrinsic}
	}

	out, used, err := fn(caller, call.Data, call.Value)
	total := intrinsic + used

	if call.GasLimit != 0 && total > call.GasLimit {
		// Out of gas: the ceiling is consumed, the call reverts.
		return types.CallResult{Success: false, GasUsed: call.GasLimit}
	}
	if err != nil {
		return types.CallResult{Success: false, ReturnData: out, GasUsed: total}
	}
	return types.CallResult{Success: true, ReturnData: out, GasUsed: total}
}
