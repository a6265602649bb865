package pool

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/automaton-market/poolnode/x/aggregator"
	"github.com/automaton-market/poolnode/x/batchstore"
	"github.com/automaton-market/poolnode/x/costmodel"
	"github.com/automaton-market/poolnode/x/protocol"
	"github.com/automaton-market/poolnode/x/registry"
	"github.com/automaton-market/poolnode/x/settlement"
	"github.com/automaton-market/poolnode/x/types"
)

const day = 24 * time.Hour

var (
	poolIdentity = common.HexToAddress("0x100")
	ownerAddr    = common.HexToAddress("0x101")
	checkTarget  = common.HexToAddress("0x200")
	execTarget   = common.HexToAddress("0x300")
	workerAddr   = common.HexToAddress("0x400")
)

type poolFixture struct {
	pool     *Pool
	env      *aggregator.MemoryEnv
	registry *registry.MemoryRegistry
	clock    time.Time
}

func newFixture(t *testing.T) *poolFixture {
	t.Helper()

	logger := zerolog.New(io.Discard)
	regCfg := registry.Config{
		Restrictions: registry.Restrictions{
			CheckGasLimit:      10_000_000,
			PerformGasLimit:    10_000_000,
			MinBalancePerBatch: big.NewInt(1_000),
			PlatformFeeBps:     1_000,
			RegistryFeeBps:     500,
		},
		Billing: registry.BillingTerms{
			Interval:      30 * day,
			GracePeriod:   7 * day,
			ClosingPeriod: 14 * day,
			FeePerBatch:   big.NewInt(100),
		},
	}
	reg, err := registry.NewMemoryRegistry(regCfg, logger)
	require.NoError(t, err)

	f := &poolFixture{
		registry: reg,
		env:      aggregator.NewMemoryEnv(big.NewInt(1), 0, 0),
		clock:    time.Unix(1_700_000_000, 0),
	}
	f.pool, err = New(Config{
		Logger:   logger,
		Identity: poolIdentity,
		Owner:    ownerAddr,
		Registry: reg,
		Env:      f.env,
		Now:      func() time.Time { return f.clock },
	})
	require.NoError(t, err)
	return f
}

func (f *poolFixture) fund(t *testing.T, amount int64, capacity uint64) {
	t.Helper()
	require.NoError(t, f.pool.DepositFunds(big.NewInt(amount)))
	require.NoError(t, f.pool.SetCapacity(capacity))
}

func batchSpecs() (types.CheckSpec, types.ExecSpec) {
	check := types.CheckSpec{
		Target:            checkTarget,
		TriggerSource:     types.TriggerSourceCondition,
		MergePolicy:       types.MergePolicyNone,
		ResultPolicy:      types.ResultPolicyAssumeSuccess,
		PayloadPolicy:     types.PayloadPolicyExecData,
		AggregateGasLimit: 1_000_000,
		TriggerSelector:   types.Selector{0xaa, 0xbb, 0xcc, 0xdd},
		Items:             []types.WorkItem{{CheckGasLimit: 50_000, ExecGasLimit: 90_000, CheckData: []byte{0x01}}},
	}
	exec := types.ExecSpec{
		Target:            execTarget,
		Selector:          types.Selector{0x11, 0x22, 0x33, 0x44},
		AggregateGasLimit: 1_000_000,
		Enabled:           true,
		MinAggregation:    1,
	}
	return check, exec
}

func TestCostOracleMustBeWhitelisted(t *testing.T) {
	t.Parallel()

	logger := zerolog.New(io.Discard)
	oracle := common.HexToAddress("0x500")

	regCfg := registry.DefaultConfig()
	reg, err := registry.NewMemoryRegistry(regCfg, logger)
	require.NoError(t, err)

	cfg := Config{
		Logger:     logger,
		Identity:   poolIdentity,
		Owner:      ownerAddr,
		Registry:   reg,
		Env:        aggregator.NewMemoryEnv(big.NewInt(1), 0, 0),
		CostCalc:   costmodel.RollupCalculator{PerByteUnits: 10, ScalarBps: 10_000},
		CostOracle: oracle,
	}
	_, err = New(cfg)
	require.ErrorIs(t, err, ErrCostOracleNotAllowed)

	regCfg.CostOracles = []common.Address{oracle}
	reg, err = registry.NewMemoryRegistry(regCfg, logger)
	require.NoError(t, err)
	cfg.Registry = reg
	_, err = New(cfg)
	require.NoError(t, err)
}

func TestDepositValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.ErrorIs(t, f.pool.DepositFunds(nil), ErrInvalidAmount)
	require.ErrorIs(t, f.pool.DepositFunds(big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, f.pool.DepositFunds(big.NewInt(-5)), ErrInvalidAmount)

	require.NoError(t, f.pool.DepositFunds(big.NewInt(500)))
	require.Equal(t, big.NewInt(500), f.pool.Balance())
}

func TestRegisterBoundByPaidCapacity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fund(t, 10_000, 1)
	check, exec := batchSpecs()

	_, err := f.pool.RegisterBatch(common.BytesToHash([]byte{1}), check, exec)
	require.NoError(t, err)
	require.Equal(t, 1, f.pool.CountBatches())

	check2, exec2 := batchSpecs()
	_, err = f.pool.RegisterBatch(common.BytesToHash([]byte{2}), check2, exec2)
	require.ErrorIs(t, err, batchstore.ErrCapacityExceeded)

	// Buying another slot lifts the bound.
	require.NoError(t, f.pool.SetCapacity(2))
	_, err = f.pool.RegisterBatch(common.BytesToHash([]byte{2}), check2, exec2)
	require.NoError(t, err)
}

func TestWithdrawRespectsMinBalanceFloor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fund(t, 10_000, 1)
	check, exec := batchSpecs()
	_, err := f.pool.RegisterBatch(common.BytesToHash([]byte{1}), check, exec)
	require.NoError(t, err)

	// Balance 9900 after the capacity fee; one batch holds a 1000 floor.
	require.Equal(t, big.NewInt(9_900), f.pool.Balance())
	err = f.pool.WithdrawFunds(ownerAddr, big.NewInt(9_000))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, f.pool.WithdrawFunds(ownerAddr, big.NewInt(8_900)))
	require.Equal(t, big.NewInt(1_000), f.pool.Balance())
}

func TestWithdrawUnrestrictedOnceClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fund(t, 10_000, 1)
	check, exec := batchSpecs()
	_, err := f.pool.RegisterBatch(common.BytesToHash([]byte{1}), check, exec)
	require.NoError(t, err)

	require.NoError(t, f.pool.Close())
	require.Equal(t, types.PoolStatusClosing, f.pool.GetPoolStatus())
	err = f.pool.WithdrawFunds(ownerAddr, big.NewInt(9_900))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	f.clock = f.clock.Add(14 * day)
	require.Equal(t, types.PoolStatusClosed, f.pool.GetPoolStatus())
	require.NoError(t, f.pool.WithdrawFunds(ownerAddr, big.NewInt(9_900)))
	require.Zero(t, f.pool.Balance().Sign())
}

func TestDepositClearsDebtWhenCovered(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// Accrue 1000 of unfunded compensation directly on the ledger.
	f.pool.Ledger().Settle(settlement.SettleParams{
		Worker:    workerAddr,
		GasUsed:   1_000,
		UnitPrice: big.NewInt(1),
		Available: big.NewInt(0),
	})
	require.Equal(t, big.NewInt(1_000), f.pool.Ledger().TotalDebt())

	// A deposit below the debt is held, not partially applied.
	require.NoError(t, f.pool.DepositFunds(big.NewInt(400)))
	require.Equal(t, big.NewInt(1_000), f.pool.Ledger().TotalDebt())
	require.Equal(t, big.NewInt(400), f.pool.Balance())

	// Topping up past the total clears everything and debits the wallet.
	require.NoError(t, f.pool.DepositFunds(big.NewInt(700)))
	require.Zero(t, f.pool.Ledger().TotalDebt().Sign())
	require.Equal(t, big.NewInt(100), f.pool.Balance())
	require.Equal(t, big.NewInt(1_000), f.registry.DebtRecovered())
}

func TestDispatchRoutesToRegisteredModule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pool.Dispatch(ctx, ownerAddr, "custom/echo", []byte("ping"))
	require.ErrorIs(t, err, ErrOperationNotFound)

	f.pool.Modules().Register("custom/echo", HandlerFunc(
		func(_ context.Context, caller common.Address, payload []byte, state *State) ([]byte, error) {
			require.Equal(t, ownerAddr, caller)
			require.Equal(t, poolIdentity, state.Identity)
			require.Equal(t, StateVersion, state.Version)
			return append([]byte("echo:"), payload...), nil
		}))

	out, err := f.pool.Dispatch(ctx, ownerAddr, "custom/echo", []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, []byte("echo:ping"), out)

	require.Equal(t, []string{"custom/echo"}, f.pool.Modules().Operations())

	f.pool.Modules().Unregister("custom/echo")
	_, err = f.pool.Dispatch(ctx, ownerAddr, "custom/echo", nil)
	require.ErrorIs(t, err, ErrOperationNotFound)
}

func TestDispatchedModuleCannotReenter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.pool.Modules().Register("custom/reenter", HandlerFunc(
		func(_ context.Context, _ common.Address, _ []byte, _ *State) ([]byte, error) {
			return nil, f.pool.DepositFunds(big.NewInt(1))
		}))

	_, err := f.pool.Dispatch(context.Background(), ownerAddr, "custom/reenter", nil)
	require.ErrorIs(t, err, ErrReentrantCall)
	require.Zero(t, f.pool.Balance().Sign())
}

func TestCheckAndPerformThroughFacade(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fund(t, 1_000_000, 1)

	f.env.SetTarget(checkTarget, func(_ common.Address, _ []byte, _ *big.Int) ([]byte, uint64, error) {
		return nil, 100, nil
	})
	f.env.SetTarget(execTarget, func(_ common.Address, _ []byte, _ *big.Int) ([]byte, uint64, error) {
		return nil, 1_000, nil
	})

	check, exec := batchSpecs()
	id := common.BytesToHash([]byte{1})
	_, err := f.pool.RegisterBatch(id, check, exec)
	require.NoError(t, err)

	out, err := f.pool.Check(context.Background(), id, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.CountNeeding)

	before := f.pool.Balance()
	items := []protocol.PerformItem{{AggregationCount: 1, ContentHash: out.Items[0].ContentHash}}
	calls := []types.Call{{
		AllowFailure: true,
		GasLimit:     90_000,
		Data:         append(exec.Selector.Bytes(), out.Items[0].ExecPayload...),
	}}
	perf, err := f.pool.Perform(context.Background(), workerAddr, id, items, calls)
	require.NoError(t, err)
	require.False(t, perf.Skipped)
	require.Less(t, f.pool.Balance().Cmp(before), 0)

	batch, err := f.pool.GetBatch(id)
	require.NoError(t, err)
	require.Equal(t, f.clock, batch.LastExecutedAt)
}
