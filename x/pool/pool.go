// Package pool is the tenant instance facade: it owns the pool's balance and
// lifecycle state and wires the work definition store, the check/perform
// protocol engine, the gas settlement ledger, the billing engine, and the
// module dispatch router into one logical instance.
package pool

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/automaton-market/poolnode/x/aggregator"
	"github.com/automaton-market/poolnode/x/batchstore"
	"github.com/automaton-market/poolnode/x/billing"
	"github.com/automaton-market/poolnode/x/costmodel"
	"github.com/automaton-market/poolnode/x/protocol"
	"github.com/automaton-market/poolnode/x/registry"
	"github.com/automaton-market/poolnode/x/settlement"
	"github.com/automaton-market/poolnode/x/types"
)

var (
	// ErrReentrantCall indicates a state-mutating entry point was invoked
	// while another invocation was still in progress.
	ErrReentrantCall = errors.New("pool: reentrant call")
	// ErrInsufficientFunds indicates a withdrawal below the pool's current
	// obligations.
	ErrInsufficientFunds = errors.New("pool: insufficient withdrawable funds")
	// ErrInvalidAmount indicates a nil, zero, or negative amount.
	ErrInvalidAmount = errors.New("pool: invalid amount")
	// ErrCostOracleNotAllowed indicates a cost calculator whose oracle address
	// is not on the registry's whitelist.
	ErrCostOracleNotAllowed = errors.New("pool: cost oracle not whitelisted by registry")
)

// Config captures the dependencies of a Pool.
type Config struct {
	Logger   zerolog.Logger
	Identity common.Address
	Owner    common.Address
	Registry registry.Registry
	Env      aggregator.CallEnv
	// CostCalc is an optional platform cost add-on calculator, identified by
	// the CostOracle address on the registry's whitelist. Nil means no
	// external cost oracle is consulted.
	CostCalc   costmodel.Calculator
	CostOracle common.Address
	Metrics    *Metrics
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) apply() error {
	if c.Registry == nil {
		return errors.New("pool: registry is required")
	}
	if c.Env == nil {
		return errors.New("pool: call environment is required")
	}
	if c.CostCalc != nil && !c.Registry.IsValidCostOracle(c.CostOracle) {
		return ErrCostOracleNotAllowed
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics()
	}
	return nil
}

// Pool is one tenant's automation pool instance.
type Pool struct {
	logger  zerolog.Logger
	metrics *Metrics

	identity common.Address
	owner    common.Address
	registry registry.Registry
	now      func() time.Time

	wallet  *wallet
	store   *batchstore.Store
	ledger  *settlement.Ledger
	billing *billing.Engine
	engine  *protocol.Engine
	router  ModuleRouter
	state   *State

	// Re-entrancy guard: set on entry, cleared on exit of every mutating
	// entry point. Overlapping invocations are rejected outright.
	entered atomic.Bool
}

// New constructs and wires a Pool.
func New(cfg Config) (*Pool, error) {
	if err := cfg.apply(); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With().Str("component", "pool").Str("pool", cfg.Identity.Hex()).Logger()
	p := &Pool{
		logger:   logger,
		metrics:  cfg.Metrics,
		identity: cfg.Identity,
		owner:    cfg.Owner,
		registry: cfg.Registry,
		now:      cfg.Now,
		wallet:   newWallet(),
		router:   NewModuleRouter(),
	}

	p.billing = billing.New(billing.Config{
		Logger:   cfg.Logger,
		Registry: cfg.Registry,
		Pool:     cfg.Identity,
		Now:      cfg.Now,
	})

	p.store = batchstore.New(batchstore.Config{
		Logger:       cfg.Logger,
		Registry:     cfg.Registry,
		PaidCapacity: p.billing.PaidCapacity,
		PoolStatus:   p.GetPoolStatus,
		Now:          cfg.Now,
	})

	p.ledger = settlement.New(settlement.Config{
		Logger:   cfg.Logger,
		Registry: cfg.Registry,
		CostCalc: cfg.CostCalc,
		Pool:     cfg.Identity,
	})

	p.engine = protocol.New(protocol.Config{
		Logger:     cfg.Logger,
		Store:      p.store,
		Aggregator: aggregator.New(cfg.Identity, cfg.Env, cfg.Logger),
		Env:        cfg.Env,
		Registry:   cfg.Registry,
		Ledger:     p.ledger,
		Wallet:     p.wallet,
		Pool:       cfg.Identity,
		Status:     p.GetPoolStatus,
		Now:        cfg.Now,
	})

	p.state = &State{
		Version:  StateVersion,
		Identity: cfg.Identity,
		Owner:    cfg.Owner,
		Store:    p.store,
		Ledger:   p.ledger,
		Billing:  p.billing,
		Wallet:   p.wallet,
	}

	return p, nil
}

func (p *Pool) enter() error {
	if !p.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (p *Pool) exit() {
	p.entered.Store(false)
}

// Identity returns the pool's own address.
func (p *Pool) Identity() common.Address { return p.identity }

// Balance returns the current pool balance.
func (p *Pool) Balance() *big.Int { return p.wallet.Balance() }

// GetPoolStatus derives the pool status from billing state and current time.
func (p *Pool) GetPoolStatus() types.PoolStatus {
	return p.billing.Status(p.now())
}

// GetBillingState returns a copy of the billing state.
func (p *Pool) GetBillingState() billing.State {
	return p.billing.State()
}

// DepositFunds credits the pool balance. If the resulting balance covers the
// entire outstanding gas debt, the debt is repaid in full atomically; a
// deposit that covers less is accepted with the debt left untouched.
func (p *Pool) DepositFunds(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	p.wallet.credit(amount)

	if rep, ok := p.ledger.RepayFromDeposit(p.wallet.Balance()); ok {
		// The repayment check guarantees the balance covers the total.
		_ = p.wallet.Debit(rep.Total)
		p.logger.Info().Str("repaid", rep.Total.String()).Msg("deposit cleared outstanding debt")
	}

	p.updateGauges()
	return nil
}

// WithdrawFunds releases amount to the given recipient. While the pool is not
// closed, the balance may not drop below the registry's minimum-balance
// obligation for the registered batches; after the closing period elapses,
// funds are freely withdrawable.
func (p *Pool) WithdrawFunds(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if p.GetPoolStatus() != types.PoolStatusClosed {
		floor := new(big.Int).Mul(
			p.registry.Restrictions().MinBalancePerBatch,
			big.NewInt(int64(p.store.Count())),
		)
		remaining := new(big.Int).Sub(p.wallet.Balance(), amount)
		if remaining.Cmp(floor) < 0 {
			return ErrInsufficientFunds
		}
	}

	if err := p.wallet.Debit(amount); err != nil {
		return ErrInsufficientFunds
	}
	p.logger.Info().Str("to", to.Hex()).Str("amount", amount.String()).Msg("funds withdrawn")
	p.updateGauges()
	return nil
}

// Check runs the check phase for a batch.
func (p *Pool) Check(ctx context.Context, batchID types.BatchID, offchain map[common.Hash][]byte) (protocol.CheckOutput, error) {
	if err := p.enter(); err != nil {
		return protocol.CheckOutput{}, err
	}
	defer p.exit()

	out, err := p.engine.Check(ctx, batchID, offchain)
	if err != nil {
		p.metrics.ChecksTotal.WithLabelValues("error").Inc()
		return out, err
	}
	p.metrics.ChecksTotal.WithLabelValues("ok").Inc()
	p.metrics.ItemsNeedingWork.Observe(float64(out.CountNeeding))
	return out, nil
}

// Perform runs the perform phase for a batch and settles its cost.
func (p *Pool) Perform(ctx context.Context, worker common.Address, batchID types.BatchID, items []protocol.PerformItem, calls []types.Call) (protocol.PerformOutput, error) {
	if err := p.enter(); err != nil {
		return protocol.PerformOutput{}, err
	}
	defer p.exit()

	out, err := p.engine.Perform(ctx, worker, batchID, items, calls)
	switch {
	case err != nil:
		p.metrics.PerformsTotal.WithLabelValues("error").Inc()
	case out.Skipped:
		p.metrics.PerformsTotal.WithLabelValues("skipped").Inc()
	case out.FailureWeight > 0:
		p.metrics.PerformsTotal.WithLabelValues("partial").Inc()
	default:
		p.metrics.PerformsTotal.WithLabelValues("ok").Inc()
	}
	if err == nil {
		p.metrics.GasUsed.Add(float64(out.GasUsed))
		paid, _ := new(big.Float).SetInt(out.Settlement.Paid).Float64()
		p.metrics.CompensationPaid.Add(paid)
	}
	p.updateGauges()
	return out, err
}

// SetCapacity changes the pool's batch capacity, charging the pro-rata fee on
// increases.
func (p *Pool) SetCapacity(newCapacity uint64) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()
	err := p.billing.SetCapacity(newCapacity, uint64(p.store.Count()), p.wallet)
	p.updateGauges()
	return err
}

// CalculateChangeCapacityFees quotes the fee for moving to newCapacity.
func (p *Pool) CalculateChangeCapacityFees(newCapacity uint64) *big.Int {
	return p.billing.CalculateChangeCapacityFees(newCapacity)
}

// CheckBillingWork reports whether billing maintenance is due. Callable by
// anyone; billing runs on its own schedule, independent of work execution.
func (p *Pool) CheckBillingWork() bool {
	return p.billing.CheckBillingWork()
}

// PerformBillingWork advances billing or transitions the pool toward closure.
func (p *Pool) PerformBillingWork() (billing.Action, error) {
	if err := p.enter(); err != nil {
		return billing.ActionNone, err
	}
	defer p.exit()
	action, err := p.billing.PerformBillingWork(uint64(p.store.Count()), p.wallet)
	p.metrics.BillingActions.WithLabelValues(action.String()).Inc()
	p.updateGauges()
	return action, err
}

// Close starts the closing period explicitly.
func (p *Pool) Close() error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()
	p.billing.Close()
	return nil
}

// RegisterBatch admits a new batch.
func (p *Pool) RegisterBatch(id types.BatchID, check types.CheckSpec, exec types.ExecSpec) (batchstore.ChangeRecord, error) {
	if err := p.enter(); err != nil {
		return batchstore.ChangeRecord{}, err
	}
	defer p.exit()
	rec, err := p.store.Register(id, check, exec)
	p.updateGauges()
	return rec, err
}

// UnregisterBatch destroys a batch.
func (p *Pool) UnregisterBatch(id types.BatchID) (batchstore.ChangeRecord, error) {
	if err := p.enter(); err != nil {
		return batchstore.ChangeRecord{}, err
	}
	defer p.exit()
	rec, err := p.store.Unregister(id)
	p.updateGauges()
	return rec, err
}

// UpdateBatch replaces a batch's specs wholesale.
func (p *Pool) UpdateBatch(id types.BatchID, check types.CheckSpec, exec types.ExecSpec) (batchstore.ChangeRecord, error) {
	if err := p.enter(); err != nil {
		return batchstore.ChangeRecord{}, err
	}
	defer p.exit()
	return p.store.Update(id, check, exec)
}

// PushItems appends items to a batch.
func (p *Pool) PushItems(id types.BatchID, items ...types.WorkItem) (batchstore.ChangeRecord, error) {
	if err := p.enter(); err != nil {
		return batchstore.ChangeRecord{}, err
	}
	defer p.exit()
	return p.store.AppendItems(id, items...)
}

// SetItemAt replaces the item at index, optionally guarded by the item hash
// the caller last observed.
func (p *Pool) SetItemAt(id types.BatchID, index int, item types.WorkItem, guard bool, expected common.Hash) (batchstore.ChangeRecord, error) {
	if err := p.enter(); err != nil {
		return batchstore.ChangeRecord{}, err
	}
	defer p.exit()
	return p.store.SetItemAt(id, index, item, guard, expected)
}

// RemoveItemAt removes the item at index, with the same optional guard.
func (p *Pool) RemoveItemAt(id types.BatchID, index int, guard bool, expected common.Hash) (batchstore.ChangeRecord, error) {
	if err := p.enter(); err != nil {
		return batchstore.ChangeRecord{}, err
	}
	defer p.exit()
	return p.store.RemoveItemAt(id, index, guard, expected)
}

// ListBatches returns the registered batch identifiers.
func (p *Pool) ListBatches() []types.BatchID { return p.store.List() }

// GetBatch returns a copy of a batch.
func (p *Pool) GetBatch(id types.BatchID) (types.Batch, error) { return p.store.Get(id) }

// GetAllBatches returns copies of all batches.
func (p *Pool) GetAllBatches() []types.Batch { return p.store.GetAll() }

// CountBatches returns the number of registered batches.
func (p *Pool) CountBatches() int { return p.store.Count() }

// BatchExists reports whether a batch is registered.
func (p *Pool) BatchExists(id types.BatchID) bool { return p.store.Exists(id) }

// Ledger exposes the settlement ledger for inspection.
func (p *Pool) Ledger() *settlement.Ledger { return p.ledger }

// Modules returns the dispatch router so optional modules can be wired.
func (p *Pool) Modules() ModuleRouter { return p.router }

// Metrics returns the pool's metrics for HTTP serving.
func (p *Pool) Metrics() *Metrics { return p.metrics }

// Dispatch forwards an operation the core pool does not recognize to its
// registered module, sharing the pool's state and authorization context.
func (p *Pool) Dispatch(ctx context.Context, caller common.Address, op string, payload []byte) ([]byte, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()
	return p.router.Dispatch(ctx, caller, op, payload, p.state)
}

func (p *Pool) updateGauges() {
	bal, _ := new(big.Float).SetInt(p.wallet.Balance()).Float64()
	p.metrics.BalanceGauge.Set(bal)
	debt, _ := new(big.Float).SetInt(p.ledger.TotalDebt()).Float64()
	p.metrics.DebtOutstanding.Set(debt)
	p.metrics.ActiveBatches.Set(float64(p.store.Count()))
}
