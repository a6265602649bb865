// Package protocol implements the two-phase check/perform work protocol.
// Check is read-only: it evaluates triggers and returns a worklist. Perform
// re-validates everything freshly, executes the chosen aggregate, and settles
// its cost. Nothing is persisted between the phases.
package protocol

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/automaton-market/poolnode/x/aggregator"
	"github.com/automaton-market/poolnode/x/batchstore"
	"github.com/automaton-market/poolnode/x/billing"
	"github.com/automaton-market/poolnode/x/registry"
	"github.com/automaton-market/poolnode/x/settlement"
	"github.com/automaton-market/poolnode/x/types"
)

var (
	// ErrOffchainDataMismatch indicates supplied off-chain data whose key does
	// not match any stored trigger payload hash. Hard failure, never a skip:
	// it points at spoofed or corrupted off-chain data.
	ErrOffchainDataMismatch = errors.New("protocol: off-chain data hash does not match stored trigger")
	// ErrBatchDisabled indicates the batch's execution spec is disabled.
	ErrBatchDisabled = errors.New("protocol: batch execution disabled")
	// ErrMinIntervalNotElapsed indicates the batch's minimum inter-execution
	// delay has not yet passed.
	ErrMinIntervalNotElapsed = errors.New("protocol: minimum execution interval not elapsed")
	// ErrBalanceBelowMinimum indicates the pool balance is under the
	// registry's per-batch minimum.
	ErrBalanceBelowMinimum = errors.New("protocol: balance below registry minimum")
	// ErrPriceOverCeiling indicates the current unit price exceeds the
	// batch's configured maximum.
	ErrPriceOverCeiling = errors.New("protocol: unit price above batch ceiling")

	// Perform preconditions, checked in order; each is a distinct failure.
	ErrEmptyPerform      = errors.New("protocol: empty perform input")
	ErrLengthMismatch    = errors.New("protocol: item and call arrays differ in length")
	ErrZeroBatchID       = errors.New("protocol: zero batch id")
	ErrInsufficientFunds = errors.New("protocol: pool balance is zero")
	ErrPoolClosed        = errors.New("protocol: pool is closed")
)

// Config captures the dependencies of an Engine.
type Config struct {
	Logger     zerolog.Logger
	Store      *batchstore.Store
	Aggregator aggregator.Aggregator
	Env        aggregator.CallEnv
	Registry   registry.Registry
	Ledger     *settlement.Ledger
	Wallet     billing.Wallet
	Pool       common.Address
	// Status returns the pool's freshly derived status.
	Status func() types.PoolStatus
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the check/perform protocol engine.
type Engine struct {
	logger zerolog.Logger

	store      *batchstore.Store
	aggregator aggregator.Aggregator
	env        aggregator.CallEnv
	registry   registry.Registry
	ledger     *settlement.Ledger
	wallet     billing.Wallet
	pool       common.Address
	status     func() types.PoolStatus
	now        func() time.Time
}

// New constructs an Engine. All config fields except Now are required.
func New(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		logger:     cfg.Logger.With().Str("component", "protocol").Logger(),
		store:      cfg.Store,
		aggregator: cfg.Aggregator,
		env:        cfg.Env,
		registry:   cfg.Registry,
		ledger:     cfg.Ledger,
		wallet:     cfg.Wallet,
		pool:       cfg.Pool,
		status:     cfg.Status,
		now:        cfg.Now,
	}
}

// checkRestrictions applies the restriction checks shared by both phases.
// The check path reports them synchronously; the perform path downgrades
// them to a skip so workers are not penalized for a manager's concurrent
// change.
func (e *Engine) checkRestrictions(batch types.Batch) error {
	if !batch.Exec.Enabled {
		return ErrBatchDisabled
	}
	if batch.Check.MinInterval > 0 && !batch.LastExecutedAt.IsZero() {
		if e.now().Sub(batch.LastExecutedAt) < batch.Check.MinInterval {
			return ErrMinIntervalNotElapsed
		}
	}
	res := e.registry.Restrictions()
	if res.MinBalancePerBatch.Sign() > 0 {
		required := new(big.Int).Mul(res.MinBalancePerBatch, big.NewInt(int64(e.store.Count())))
		if e.wallet.Balance().Cmp(required) < 0 {
			return ErrBalanceBelowMinimum
		}
	}
	if batch.Exec.MaxUnitPrice != nil && batch.Exec.MaxUnitPrice.Sign() > 0 {
		if e.env.UnitPrice().Cmp(batch.Exec.MaxUnitPrice) > 0 {
			return ErrPriceOverCeiling
		}
	}
	return nil
}
