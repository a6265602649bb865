// Package settlement converts metered execution cost into worker compensation
// and tracks unfunded compensation as per-creditor debt. The ledger keeps a
// single invariant at all times: total tracked debt equals platform debt plus
// registry debt plus the sum of worker debts. Debt shrinks only through full
// repayment; no partial-repayment path exists.
package settlement

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/automaton-market/poolnode/x/costmodel"
	"github.com/automaton-market/poolnode/x/registry"
)

const bpsDenominator = 10_000

// WorkerDebt is one worker's outstanding owed amount. A worker appears at
// most once in the ledger.
type WorkerDebt struct {
	Worker common.Address
	Amount *big.Int
}

// Outcome reports a single settlement: the full computed compensation, the
// portion paid immediately, its three-way split, and any accrued shortfall.
type Outcome struct {
	Compensation *big.Int
	Paid         *big.Int
	Accrued      *big.Int

	WorkerPaid   *big.Int
	RegistryPaid *big.Int
	PlatformPaid *big.Int
}

// Repayment reports a full debt clearing triggered by a deposit.
type Repayment struct {
	Total        *big.Int
	PlatformPaid *big.Int
	RegistryPaid *big.Int
	Workers      []WorkerDebt
}

// Config captures the dependencies of a Ledger.
type Config struct {
	Logger   zerolog.Logger
	Registry registry.Registry
	CostCalc costmodel.Calculator
	Pool     common.Address
}

// Ledger is the per-pool gas settlement engine and debt book.
type Ledger struct {
	mu     sync.Mutex
	logger zerolog.Logger

	registry registry.Registry
	costCalc costmodel.Calculator
	pool     common.Address

	platformDebt *big.Int
	registryDebt *big.Int
	workerOrder  []common.Address
	workerDebt   map[common.Address]*big.Int
}

// New constructs a Ledger. A nil CostCalc defaults to the nop calculator.
func New(cfg Config) *Ledger {
	if cfg.CostCalc == nil {
		cfg.CostCalc = costmodel.NopCalculator{}
	}
	return &Ledger{
		logger:       cfg.Logger.With().Str("component", "settlement").Logger(),
		registry:     cfg.Registry,
		costCalc:     cfg.CostCalc,
		pool:         cfg.Pool,
		platformDebt: new(big.Int),
		registryDebt: new(big.Int),
		workerDebt:   make(map[common.Address]*big.Int),
	}
}

// SettleParams are the inputs of one settlement.
type SettleParams struct {
	Worker      common.Address
	GasUsed     uint64
	CalldataLen int
	Calldata    []byte
	UnitPrice   *big.Int
	// Available is the pool balance usable for this settlement. The ledger
	// does not mutate it; the caller deducts Outcome.Paid.
	Available *big.Int
}

// Settle computes the compensation for a perform invocation and either pays
// it in full from the available balance or pays what is available and accrues
// the remainder as tracked debt, split three ways by the registry's current
// fee percentages with rounding in the worker's favor.
func (l *Ledger) Settle(p SettleParams) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.registry.Restrictions()

	// Metered units: measured consumption plus intrinsic call cost, calldata
	// cost, and the configured overhead constant.
	units := new(big.Int).SetUint64(p.GasUsed)
	units.Add(units, new(big.Int).SetUint64(res.BaseCallCost))
	units.Add(units, new(big.Int).Mul(
		new(big.Int).SetUint64(res.CalldataByteCost),
		big.NewInt(int64(p.CalldataLen)),
	))
	units.Add(units, new(big.Int).SetUint64(res.GasOverhead))

	price := p.UnitPrice
	if price == nil {
		price = new(big.Int)
	}
	cost := new(big.Int).Mul(units, price)
	cost.Add(cost, l.costCalc.AddedCost(p.Calldata, price))

	premium := uint64(res.GasPremiumPercent)
	compensation := new(big.Int).Mul(cost, new(big.Int).SetUint64(100+premium))
	compensation.Div(compensation, big.NewInt(100))

	out := Outcome{
		Compensation: compensation,
		Paid:         new(big.Int),
		Accrued:      new(big.Int),
	}

	available := p.Available
	if available == nil {
		available = new(big.Int)
	}

	if available.Cmp(compensation) >= 0 {
		out.Paid.Set(compensation)
	} else {
		out.Paid.Set(available)
		out.Accrued.Sub(compensation, available)
		l.accrue(p.Worker, out.Accrued, premium, res)
	}

	out.PlatformPaid, out.RegistryPaid, out.WorkerPaid = split(out.Paid, res)

	l.registry.OnWorkPerformed(l.pool, p.Worker, out.WorkerPaid, out.RegistryPaid, out.PlatformPaid)

	l.logger.Debug().
		Str("worker", p.Worker.Hex()).
		Uint64("gas_used", p.GasUsed).
		Str("compensation", compensation.String()).
		Str("paid", out.Paid.String()).
		Str("accrued", out.Accrued.String()).
		Msg("settled perform")

	return out
}

// accrue records shortfall as debt. The premium portion is stripped pro-rata
// before computing the platform and registry shares so those fees never
// include premium; the worker receives the remainder, premium included.
func (l *Ledger) accrue(worker common.Address, shortfall *big.Int, premium uint64, res registry.Restrictions) {
	base := new(big.Int).Mul(shortfall, big.NewInt(100))
	base.Div(base, new(big.Int).SetUint64(100+premium))

	platform := new(big.Int).Mul(base, new(big.Int).SetUint64(uint64(res.PlatformFeeBps)))
	platform.Div(platform, big.NewInt(bpsDenominator))
	registryShare := new(big.Int).Mul(base, new(big.Int).SetUint64(uint64(res.RegistryFeeBps)))
	registryShare.Div(registryShare, big.NewInt(bpsDenominator))

	workerShare := new(big.Int).Sub(shortfall, platform)
	workerShare.Sub(workerShare, registryShare)

	l.platformDebt.Add(l.platformDebt, platform)
	l.registryDebt.Add(l.registryDebt, registryShare)

	if existing, ok := l.workerDebt[worker]; ok {
		existing.Add(existing, workerShare)
	} else {
		l.workerDebt[worker] = workerShare
		l.workerOrder = append(l.workerOrder, worker)
	}
}

// split divides an amount three ways by the registry fee percentages. Fees
// round down; the worker receives the remainder.
func split(amount *big.Int, res registry.Restrictions) (platform, registryShare, worker *big.Int) {
	platform = new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(res.PlatformFeeBps)))
	platform.Div(platform, big.NewInt(bpsDenominator))
	registryShare = new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(res.RegistryFeeBps)))
	registryShare.Div(registryShare, big.NewInt(bpsDenominator))
	worker = new(big.Int).Sub(amount, platform)
	worker.Sub(worker, registryShare)
	return platform, registryShare, worker
}

// RepayFromDeposit attempts a full-debt clearing against the balance reached
// after a deposit. If the balance covers the entire outstanding debt, every
// creditor is paid in full and the ledger clears atomically; otherwise
// nothing changes. Partial repayment is never attempted.
func (l *Ledger) RepayFromDeposit(balance *big.Int) (Repayment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.totalLocked()
	if total.Sign() == 0 || balance.Cmp(total) < 0 {
		return Repayment{}, false
	}

	rep := Repayment{
		Total:        total,
		PlatformPaid: new(big.Int).Set(l.platformDebt),
		RegistryPaid: new(big.Int).Set(l.registryDebt),
		Workers:      make([]WorkerDebt, 0, len(l.workerOrder)),
	}
	for _, w := range l.workerOrder {
		rep.Workers = append(rep.Workers, WorkerDebt{Worker: w, Amount: new(big.Int).Set(l.workerDebt[w])})
	}

	l.platformDebt = new(big.Int)
	l.registryDebt = new(big.Int)
	l.workerOrder = nil
	l.workerDebt = make(map[common.Address]*big.Int)

	l.registry.OnGasDebtRecovered(l.pool, rep.Total)
	l.logger.Info().
		Str("total", rep.Total.String()).
		Int("workers", len(rep.Workers)).
		Msg("gas debt fully repaid")

	return rep, true
}

// TotalDebt returns the total outstanding tracked debt.
func (l *Ledger) TotalDebt() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked()
}

func (l *Ledger) totalLocked() *big.Int {
	total := new(big.Int).Add(l.platformDebt, l.registryDebt)
	for _, w := range l.workerOrder {
		total.Add(total, l.workerDebt[w])
	}
	return total
}

// PlatformDebt returns the platform-owed amount.
func (l *Ledger) PlatformDebt() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.platformDebt)
}

// RegistryDebt returns the tenant-registry-owed amount.
func (l *Ledger) RegistryDebt() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.registryDebt)
}

// WorkerDebts returns the per-worker owed amounts in first-accrual order.
func (l *Ledger) WorkerDebts() []WorkerDebt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]WorkerDebt, 0, len(l.workerOrder))
	for _, w := range l.workerOrder {
		out = append(out, WorkerDebt{Worker: w, Amount: new(big.Int).Set(l.workerDebt[w])})
	}
	return out
}
