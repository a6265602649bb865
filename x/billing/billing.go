// Package billing tracks paid and requested batch capacity, advances billing
// cycles, and drives the pool's lifecycle toward closure on sustained
// non-payment. Pool status is never stored as truth: it is derived from the
// stored timestamps and the current time on every read.
package billing

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/automaton-market/poolnode/x/registry"
	"github.com/automaton-market/poolnode/x/types"
)

var (
	// ErrCapacityBelowActive indicates a requested capacity below the number
	// of currently active batches.
	ErrCapacityBelowActive = errors.New("billing: capacity below active batch count")
	// ErrCapacityOverMaximum indicates a requested capacity above the
	// registry's per-pool cap.
	ErrCapacityOverMaximum = errors.New("billing: capacity above registry maximum")
	// ErrInsufficientFunds indicates the pool balance cannot cover a fee.
	ErrInsufficientFunds = errors.New("billing: insufficient funds for fee")
)

// Wallet is the pool's funds surface consulted by the engine.
type Wallet interface {
	Balance() *big.Int
	// Debit removes amount from the balance, failing when it would go negative.
	Debit(amount *big.Int) error
}

// State is the pool's billing state. NextBillingTime of zero means billing
// has never started; once started it only advances by whole cycle durations.
type State struct {
	LastBillingTime   time.Time
	NextBillingTime   time.Time
	PaidCapacity      uint64
	RequestedCapacity uint64
	CloseStartedAt    time.Time

	// Terms snapshotted when the cycle last advanced.
	Interval      time.Duration
	GracePeriod   time.Duration
	ClosingPeriod time.Duration
	FeePerBatch   *big.Int
	FeeToken      common.Address
	LastCycleFee  *big.Int
}

// Action reports what PerformBillingWork did.
type Action uint8

const (
	ActionNone Action = iota
	ActionAdvanced
	ActionClosing
)

func (a Action) String() string {
	switch a {
	case ActionAdvanced:
		return "advanced"
	case ActionClosing:
		return "closing"
	default:
		return "none"
	}
}

// Config captures the dependencies of an Engine.
type Config struct {
	Logger   zerolog.Logger
	Registry registry.Registry
	Pool     common.Address
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the per-pool billing and capacity engine.
type Engine struct {
	mu     sync.Mutex
	logger zerolog.Logger

	registry registry.Registry
	pool     common.Address
	now      func() time.Time

	state State
}

// New constructs an Engine with zero capacity and billing not yet started.
func New(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		logger:   cfg.Logger.With().Str("component", "billing").Logger(),
		registry: cfg.Registry,
		pool:     cfg.Pool,
		now:      cfg.Now,
		state: State{
			FeePerBatch:  new(big.Int),
			LastCycleFee: new(big.Int),
		},
	}
}

// CalculateChangeCapacityFees returns the fee for moving to newCapacity.
// Decreases and no-ops are free. Increases pay the base per-batch fee for
// each added slot, pro-rated to the fraction of the current cycle remaining
// (100% when no cycle has started), rounded up.
func (e *Engine) CalculateChangeCapacityFees(newCapacity uint64) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changeFeeLocked(newCapacity, e.now())
}

func (e *Engine) changeFeeLocked(newCapacity uint64, now time.Time) *big.Int {
	if newCapacity <= e.state.PaidCapacity {
		return new(big.Int)
	}
	increase := new(big.Int).SetUint64(newCapacity - e.state.PaidCapacity)

	feePerBatch := e.state.FeePerBatch
	if e.state.NextBillingTime.IsZero() {
		feePerBatch = e.registry.BillingTerms().FeePerBatch
	}

	fee := new(big.Int).Mul(feePerBatch, increase)
	if e.state.NextBillingTime.IsZero() {
		return fee
	}

	remaining := e.state.NextBillingTime.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > e.state.Interval {
		remaining = e.state.Interval
	}

	// ceil(fee * remaining / interval)
	fee.Mul(fee, big.NewInt(int64(remaining)))
	interval := big.NewInt(int64(e.state.Interval))
	fee.Add(fee, new(big.Int).Sub(interval, big.NewInt(1)))
	return fee.Div(fee, interval)
}

// SetCapacity changes the pool's batch capacity. Decreases only lower the
// requested next-cycle capacity, floored at the active batch count, and are
// free. Increases charge the pro-rata fee immediately (transferred to the
// tenant registry) and raise paid capacity; the first increase also starts
// the first billing cycle with terms fetched fresh from the registry.
func (e *Engine) SetCapacity(newCapacity, activeBatches uint64, wallet Wallet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	if newCapacity <= e.state.PaidCapacity {
		if newCapacity < activeBatches {
			return ErrCapacityBelowActive
		}
		e.state.RequestedCapacity = newCapacity
		e.logger.Info().Uint64("requested", newCapacity).Msg("capacity decrease requested")
		return nil
	}

	if max := e.registry.Restrictions().MaxBatchesPerPool; max != 0 && newCapacity > max {
		return ErrCapacityOverMaximum
	}

	fee := e.changeFeeLocked(newCapacity, now)
	if fee.Sign() > 0 {
		if err := wallet.Debit(fee); err != nil {
			return err
		}
		e.registry.OnMaintenanceFeeCollected(e.pool, fee)
	}

	e.state.PaidCapacity = newCapacity
	e.state.RequestedCapacity = newCapacity

	if e.state.NextBillingTime.IsZero() {
		terms := e.registry.BillingTerms()
		e.snapshotTerms(terms)
		e.state.LastBillingTime = now
		e.state.NextBillingTime = now.Add(terms.Interval)
		e.logger.Info().
			Time("next_billing", e.state.NextBillingTime).
			Uint64("capacity", newCapacity).
			Msg("first billing cycle started")
	}

	e.logger.Info().Uint64("capacity", newCapacity).Str("fee", fee.String()).Msg("capacity increased")
	return nil
}

func (e *Engine) snapshotTerms(terms registry.BillingTerms) {
	e.state.Interval = terms.Interval
	e.state.GracePeriod = terms.GracePeriod
	e.state.ClosingPeriod = terms.ClosingPeriod
	e.state.FeePerBatch = new(big.Int).Set(terms.FeePerBatch)
	e.state.FeeToken = terms.FeeToken
}

// CheckBillingWork reports whether the current billing cycle has ended.
func (e *Engine) CheckBillingWork() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dueLocked(e.now())
}

func (e *Engine) dueLocked(now time.Time) bool {
	return !e.state.NextBillingTime.IsZero() && !now.Before(e.state.NextBillingTime)
}

// PerformBillingWork advances billing when due. Covered: the fee is charged,
// the cycle advances by its duration, and paid capacity resets to the
// requested capacity. Underfunded past grace: the pool transitions to
// closing, recording the close start, with no fee charged. Underfunded
// within grace: nothing happens; callers retry later.
func (e *Engine) PerformBillingWork(activeBatches uint64, wallet Wallet) (Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if !e.dueLocked(now) || !e.state.CloseStartedAt.IsZero() {
		return ActionNone, nil
	}

	capacity := e.state.RequestedCapacity
	if capacity < activeBatches {
		capacity = activeBatches
	}

	terms := e.registry.BillingTerms()
	fee := new(big.Int).Mul(terms.FeePerBatch, new(big.Int).SetUint64(capacity))

	if wallet.Balance().Cmp(fee) < 0 {
		graceEnd := e.state.NextBillingTime.Add(e.state.GracePeriod)
		if now.Before(graceEnd) {
			return ActionNone, nil
		}
		// Stamped at the grace deadline, not at maintenance time, so status
		// derived before the stamp never moves backward.
		e.state.CloseStartedAt = graceEnd
		e.logger.Warn().
			Time("close_started", graceEnd).
			Str("fee_due", fee.String()).
			Msg("billing unpaid past grace, pool closing")
		return ActionClosing, nil
	}

	if err := wallet.Debit(fee); err != nil {
		return ActionNone, err
	}
	e.registry.OnMaintenanceFeeCollected(e.pool, fee)

	e.state.LastBillingTime = e.state.NextBillingTime
	e.state.NextBillingTime = e.state.NextBillingTime.Add(terms.Interval)
	e.state.PaidCapacity = capacity
	e.state.RequestedCapacity = capacity
	e.state.LastCycleFee = fee
	e.snapshotTerms(terms)

	e.logger.Info().
		Time("next_billing", e.state.NextBillingTime).
		Uint64("capacity", capacity).
		Str("fee", fee.String()).
		Msg("billing cycle advanced")
	return ActionAdvanced, nil
}

// Close starts the closing period explicitly. When the grace deadline has
// already passed, closing is considered to have started then.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.CloseStartedAt.IsZero() {
		return
	}
	start := e.now()
	if !e.state.NextBillingTime.IsZero() {
		if graceEnd := e.state.NextBillingTime.Add(e.state.GracePeriod); graceEnd.Before(start) {
			start = graceEnd
		}
	}
	e.state.CloseStartedAt = start
}

// Status derives the pool status from stored timestamps and the given time.
func (e *Engine) Status(now time.Time) types.PoolStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	closeStart := e.state.CloseStartedAt
	if closeStart.IsZero() && !e.state.NextBillingTime.IsZero() {
		graceEnd := e.state.NextBillingTime.Add(e.state.GracePeriod)
		if !now.Before(graceEnd) {
			closeStart = graceEnd
		}
	}

	if !closeStart.IsZero() {
		if !now.Before(closeStart.Add(e.state.ClosingPeriod)) {
			return types.PoolStatusClosed
		}
		return types.PoolStatusClosing
	}
	if e.dueLocked(now) {
		return types.PoolStatusNotice
	}
	return types.PoolStatusOpen
}

// PaidCapacity returns the currently paid batch capacity.
func (e *Engine) PaidCapacity() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.PaidCapacity
}

// State returns a copy of the billing state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.state
	out.FeePerBatch = new(big.Int).Set(e.state.FeePerBatch)
	out.LastCycleFee = new(big.Int).Set(e.state.LastCycleFee)
	return out
}
