package registry

import (
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	logger := zerolog.New(io.Discard)

	cfg := DefaultConfig()
	cfg.Billing.FeePerBatch = nil
	_, err := NewMemoryRegistry(cfg, logger)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.Billing.Interval = 0
	_, err = NewMemoryRegistry(cfg, logger)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.Restrictions.PlatformFeeBps = 6_000
	cfg.Restrictions.RegistryFeeBps = 5_000
	_, err = NewMemoryRegistry(cfg, logger)
	require.Error(t, err)
}

func TestAccessorsReturnDetachedCopies(t *testing.T) {
	t.Parallel()

	reg, err := NewMemoryRegistry(DefaultConfig(), zerolog.New(io.Discard))
	require.NoError(t, err)

	res := reg.Restrictions()
	res.MinBalancePerBatch.SetInt64(0)
	require.Equal(t, big.NewInt(1_000_000), reg.Restrictions().MinBalancePerBatch)

	terms := reg.BillingTerms()
	terms.FeePerBatch.SetInt64(0)
	require.Equal(t, big.NewInt(100), reg.BillingTerms().FeePerBatch)
	require.Equal(t, 30*24*time.Hour, terms.Interval)
}

func TestCostOracleWhitelist(t *testing.T) {
	t.Parallel()

	oracle := common.HexToAddress("0x42")
	cfg := DefaultConfig()
	cfg.CostOracles = []common.Address{oracle}

	reg, err := NewMemoryRegistry(cfg, zerolog.New(io.Discard))
	require.NoError(t, err)
	require.True(t, reg.IsValidCostOracle(oracle))
	require.False(t, reg.IsValidCostOracle(common.HexToAddress("0x43")))
}

func TestCallbackTotalsAccumulate(t *testing.T) {
	t.Parallel()

	reg, err := NewMemoryRegistry(DefaultConfig(), zerolog.New(io.Discard))
	require.NoError(t, err)
	pool := common.HexToAddress("0x01")

	reg.OnMaintenanceFeeCollected(pool, big.NewInt(100))
	reg.OnMaintenanceFeeCollected(pool, big.NewInt(250))
	require.Equal(t, big.NewInt(350), reg.MaintenanceCollected())

	reg.OnGasDebtRecovered(pool, big.NewInt(40))
	require.Equal(t, big.NewInt(40), reg.DebtRecovered())

	reg.OnWorkPerformed(pool, common.HexToAddress("0x02"), big.NewInt(1), big.NewInt(2), big.NewInt(3))
	require.Equal(t, 1, reg.WorkPerformedCalls())
}
