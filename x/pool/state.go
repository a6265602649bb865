package pool

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/automaton-market/poolnode/x/batchstore"
	"github.com/automaton-market/poolnode/x/billing"
	"github.com/automaton-market/poolnode/x/settlement"
)

// StateVersion is the current layout version of State.
const StateVersion uint32 = 1

// State is the pool's shared, versioned state passed by reference to every
// dispatch handler. Optional modules extend the pool through it instead of
// defining storage of their own.
//
// Layout discipline: new fields are appended at the end only; existing fields
// are never reordered, resized, or removed, so a module compiled against an
// older version keeps reading the bytes it expects.
type State struct {
	Version  uint32
	Identity common.Address
	Owner    common.Address
	Flags    uint64

	Store   *batchstore.Store
	Ledger  *settlement.Ledger
	Billing *billing.Engine
	Wallet  billing.Wallet
}

// wallet is the pool's funds book. It has its own lock so the billing engine
// and settlement path can consult it from within guarded operations.
type wallet struct {
	mu      sync.Mutex
	balance *big.Int
}

func newWallet() *wallet {
	return &wallet{balance: new(big.Int)}
}

func (w *wallet) Balance() *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return new(big.Int).Set(w.balance)
}

func (w *wallet) Debit(amount *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balance.Cmp(amount) < 0 {
		return billing.ErrInsufficientFunds
	}
	w.balance.Sub(w.balance, amount)
	return nil
}

func (w *wallet) credit(amount *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance.Add(w.balance, amount)
}
