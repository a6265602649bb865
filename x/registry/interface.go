// Package registry defines the boundary to the tenant registry that issues
// pool instances and imposes global policy bounds. The pool only consumes
// restriction getters and notifies the registry through callbacks; the
// registry's own bookkeeping is out of scope here.
package registry

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BillingTerms are the recurring-billing parameters a pool snapshots when a
// cycle starts or advances.
type BillingTerms struct {
	Interval      time.Duration
	GracePeriod   time.Duration
	ClosingPeriod time.Duration
	FeePerBatch   *big.Int
	FeeToken      common.Address
}

// Restrictions are the registry-imposed bounds revalidated on every batch
// mutation and on every check/perform invocation.
type Restrictions struct {
	CheckGasLimit      uint64
	PerformGasLimit    uint64
	MinBalancePerBatch *big.Int
	MaxBatchesPerPool  uint64
	PlatformFeeBps     uint32
	RegistryFeeBps     uint32
	GasPremiumPercent  uint32
	GasOverhead        uint64
	BaseCallCost       uint64
	CalldataByteCost   uint64
}

// Registry is the tenant-registry surface consumed by a pool instance.
type Registry interface {
	Restrictions() Restrictions
	BillingTerms() BillingTerms
	IsValidCostOracle(addr common.Address) bool

	// OnMaintenanceFeeCollected notifies the registry that pool transferred a
	// capacity/maintenance fee to it.
	OnMaintenanceFeeCollected(pool common.Address, amount *big.Int)
	// OnWorkPerformed notifies the registry of a settled perform, carrying the
	// three-way compensation split.
	OnWorkPerformed(pool common.Address, worker common.Address, workerFee, registryFee, platformFee *big.Int)
	// OnGasDebtRecovered notifies the registry that previously tracked debt
	// was repaid in full.
	OnGasDebtRecovered(pool common.Address, amount *big.Int)
}
