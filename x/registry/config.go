package registry

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config captures the policy bounds a MemoryRegistry enforces.
type Config struct {
	Restrictions Restrictions
	Billing      BillingTerms
	CostOracles  []common.Address
}

// DefaultConfig returns a config with sensible defaults for local wiring.
func DefaultConfig() Config {
	return Config{
		Restrictions: Restrictions{
			CheckGasLimit:      6_000_000,
			PerformGasLimit:    5_000_000,
			MinBalancePerBatch: big.NewInt(1_000_000),
			MaxBatchesPerPool:  500,
			PlatformFeeBps:     1_000,
			RegistryFeeBps:     500,
			GasPremiumPercent:  20,
			GasOverhead:        80_000,
			BaseCallCost:       21_000,
			CalldataByteCost:   16,
		},
		Billing: BillingTerms{
			Interval:      30 * 24 * time.Hour,
			GracePeriod:   7 * 24 * time.Hour,
			ClosingPeriod: 14 * 24 * time.Hour,
			FeePerBatch:   big.NewInt(100),
		},
	}
}

func (c *Config) apply() error {
	if c.Restrictions.MinBalancePerBatch == nil {
		c.Restrictions.MinBalancePerBatch = new(big.Int)
	}
	if c.Billing.FeePerBatch == nil {
		return errors.New("registry: billing fee per batch is required")
	}
	if c.Billing.Interval <= 0 {
		return errors.New("registry: billing interval must be positive")
	}
	if c.Restrictions.PlatformFeeBps+c.Restrictions.RegistryFeeBps > 10_000 {
		return errors.New("registry: fee percentages exceed 100%")
	}
	return nil
}
