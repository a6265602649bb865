package registry

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// MemoryRegistry is an in-process Registry used for wiring and tests. It
// records callback notifications so callers can assert on them.
type MemoryRegistry struct {
	mu      sync.RWMutex
	logger  zerolog.Logger
	cfg     Config
	oracles map[common.Address]bool

	// Accumulated callback totals.
	maintenanceCollected *big.Int
	debtRecovered        *big.Int
	workPerformedCalls   int
}

// NewMemoryRegistry constructs a MemoryRegistry from the config.
func NewMemoryRegistry(cfg Config, logger zerolog.Logger) (*MemoryRegistry, error) {
	if err := cfg.apply(); err != nil {
		return nil, err
	}
	oracles := make(map[common.Address]bool, len(cfg.CostOracles))
	for _, addr := range cfg.CostOracles {
		oracles[addr] = true
	}
	return &MemoryRegistry{
		logger:               logger.With().Str("component", "tenant-registry").Logger(),
		cfg:                  cfg,
		oracles:              oracles,
		maintenanceCollected: new(big.Int),
		debtRecovered:        new(big.Int),
	}, nil
}

func (r *MemoryRegistry) Restrictions() Restrictions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := r.cfg.Restrictions
	res.MinBalancePerBatch = new(big.Int).Set(r.cfg.Restrictions.MinBalancePerBatch)
	return res
}

func (r *MemoryRegistry) BillingTerms() BillingTerms {
	r.mu.RLock()
	defer r.mu.RUnlock()
	terms := r.cfg.Billing
	terms.FeePerBatch = new(big.Int).Set(r.cfg.Billing.FeePerBatch)
	return terms
}

func (r *MemoryRegistry) IsValidCostOracle(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.oracles[addr]
}

// SetRestrictions replaces the current restrictions. Used to model the
// registry tightening policy after batches were created.
func (r *MemoryRegistry) SetRestrictions(res Restrictions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Restrictions = res
}

// SetBillingTerms replaces the current billing terms.
func (r *MemoryRegistry) SetBillingTerms(terms BillingTerms) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Billing = terms
}

func (r *MemoryRegistry) OnMaintenanceFeeCollected(pool common.Address, amount *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maintenanceCollected.Add(r.maintenanceCollected, amount)
	r.logger.Info().Str("pool", pool.Hex()).Str("amount", amount.String()).Msg("maintenance fee collected")
}

func (r *MemoryRegistry) OnWorkPerformed(pool common.Address, worker common.Address, workerFee, registryFee, platformFee *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workPerformedCalls++
	r.logger.Info().
		Str("pool", pool.Hex()).
		Str("worker", worker.Hex()).
		Str("worker_fee", workerFee.String()).
		Str("registry_fee", registryFee.String()).
		Str("platform_fee", platformFee.String()).
		Msg("work performed")
}

func (r *MemoryRegistry) OnGasDebtRecovered(pool common.Address, amount *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debtRecovered.Add(r.debtRecovered, amount)
	r.logger.Info().Str("pool", pool.Hex()).Str("amount", amount.String()).Msg("gas debt recovered")
}

// MaintenanceCollected returns the total maintenance fees reported so far.
func (r *MemoryRegistry) MaintenanceCollected() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return new(big.Int).Set(r.maintenanceCollected)
}

// DebtRecovered returns the total recovered debt reported so far.
func (r *MemoryRegistry) DebtRecovered() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return new(big.Int).Set(r.debtRecovered)
}

// WorkPerformedCalls returns how many settled performs were reported.
func (r *MemoryRegistry) WorkPerformedCalls() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workPerformedCalls
}
