package billing

import (
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/automaton-market/poolnode/x/registry"
	"github.com/automaton-market/poolnode/x/types"
)

const day = 24 * time.Hour

type fakeWallet struct {
	balance *big.Int
}

func (w *fakeWallet) Balance() *big.Int { return new(big.Int).Set(w.balance) }

func (w *fakeWallet) Debit(amount *big.Int) error {
	if w.balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	w.balance.Sub(w.balance, amount)
	return nil
}

type billingFixture struct {
	engine   *Engine
	registry *registry.MemoryRegistry
	wallet   *fakeWallet
	clock    time.Time
}

// newFixture uses a 30-day interval, 7-day grace, 14-day closing period and a
// per-batch fee of 100.
func newFixture(t *testing.T) *billingFixture {
	t.Helper()

	logger := zerolog.New(io.Discard)
	cfg := registry.Config{
		Restrictions: registry.Restrictions{MinBalancePerBatch: big.NewInt(0)},
		Billing: registry.BillingTerms{
			Interval:      30 * day,
			GracePeriod:   7 * day,
			ClosingPeriod: 14 * day,
			FeePerBatch:   big.NewInt(100),
		},
	}
	reg, err := registry.NewMemoryRegistry(cfg, logger)
	require.NoError(t, err)

	f := &billingFixture{
		registry: reg,
		wallet:   &fakeWallet{balance: big.NewInt(10_000)},
		clock:    time.Unix(1_700_000_000, 0),
	}
	f.engine = New(Config{
		Logger:   logger,
		Registry: reg,
		Pool:     common.HexToAddress("0x01"),
		Now:      func() time.Time { return f.clock },
	})
	return f
}

func (f *billingFixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func TestFirstIncreaseStartsCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	start := f.clock

	require.NoError(t, f.engine.SetCapacity(2, 0, f.wallet))

	// Two slots at the full fee: no cycle existed yet, so no pro-rating.
	require.Equal(t, big.NewInt(9_800), f.wallet.balance)
	require.Equal(t, big.NewInt(200), f.registry.MaintenanceCollected())
	require.Equal(t, uint64(2), f.engine.PaidCapacity())

	st := f.engine.State()
	require.Equal(t, start, st.LastBillingTime)
	require.Equal(t, start.Add(30*day), st.NextBillingTime)
	require.Equal(t, big.NewInt(100), st.FeePerBatch)
}

func TestMidCycleIncreaseProRatesRoundedUp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.engine.SetCapacity(2, 0, f.wallet))

	// Half the cycle remains: 3 added slots x 100 x 15/30 = 150.
	f.advance(15 * day)
	require.Equal(t, big.NewInt(150), f.engine.CalculateChangeCapacityFees(5))

	// One slot with 10 of 30 days remaining: 100/3 rounds up to 34.
	f.advance(5 * day)
	require.Equal(t, big.NewInt(34), f.engine.CalculateChangeCapacityFees(3))

	before := new(big.Int).Set(f.wallet.balance)
	require.NoError(t, f.engine.SetCapacity(3, 0, f.wallet))
	require.Equal(t, new(big.Int).Sub(before, big.NewInt(34)), f.wallet.balance)
	require.Equal(t, uint64(3), f.engine.PaidCapacity())
}

func TestDecreaseIsFreeAndFlooredAtActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.engine.SetCapacity(5, 0, f.wallet))
	before := new(big.Int).Set(f.wallet.balance)

	require.ErrorIs(t, f.engine.SetCapacity(2, 3, f.wallet), ErrCapacityBelowActive)

	require.NoError(t, f.engine.SetCapacity(3, 3, f.wallet))
	require.Equal(t, before, f.wallet.balance)

	// Paid capacity holds until the next cycle; only the request drops.
	require.Equal(t, uint64(5), f.engine.PaidCapacity())
	require.Equal(t, uint64(3), f.engine.State().RequestedCapacity)
}

func TestCycleAdvanceChargesRequestedCapacity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.engine.SetCapacity(5, 0, f.wallet))
	require.NoError(t, f.engine.SetCapacity(3, 3, f.wallet))
	next := f.engine.State().NextBillingTime

	f.advance(29 * day)
	require.False(t, f.engine.CheckBillingWork())
	act, err := f.engine.PerformBillingWork(3, f.wallet)
	require.NoError(t, err)
	require.Equal(t, ActionNone, act)

	f.advance(1 * day)
	require.True(t, f.engine.CheckBillingWork())
	before := new(big.Int).Set(f.wallet.balance)
	act, err = f.engine.PerformBillingWork(3, f.wallet)
	require.NoError(t, err)
	require.Equal(t, ActionAdvanced, act)

	require.Equal(t, new(big.Int).Sub(before, big.NewInt(300)), f.wallet.balance)
	st := f.engine.State()
	require.Equal(t, uint64(3), st.PaidCapacity)
	require.Equal(t, next, st.LastBillingTime)
	require.Equal(t, next.Add(30*day), st.NextBillingTime)
	require.Equal(t, big.NewInt(300), st.LastCycleFee)
}

func TestUnderfundedWithinGraceIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.engine.SetCapacity(2, 0, f.wallet))
	f.wallet.balance = big.NewInt(0)

	f.advance(31 * day)
	act, err := f.engine.PerformBillingWork(2, f.wallet)
	require.NoError(t, err)
	require.Equal(t, ActionNone, act)
	require.Equal(t, types.PoolStatusNotice, f.engine.Status(f.clock))
	require.True(t, f.engine.State().CloseStartedAt.IsZero())
}

func TestUnderfundedPastGraceStartsClosing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	start := f.clock
	require.NoError(t, f.engine.SetCapacity(2, 0, f.wallet))
	f.wallet.balance = big.NewInt(0)

	f.advance(38 * day)
	act, err := f.engine.PerformBillingWork(2, f.wallet)
	require.NoError(t, err)
	require.Equal(t, ActionClosing, act)

	// Closing counts from the grace deadline, not from maintenance time.
	st := f.engine.State()
	require.Equal(t, start.Add(37*day), st.CloseStartedAt)
	require.Equal(t, types.PoolStatusClosing, f.engine.Status(f.clock))

	// No fee was charged and no further billing happens.
	require.Zero(t, f.registry.MaintenanceCollected().Cmp(big.NewInt(200)))
	act, err = f.engine.PerformBillingWork(2, f.wallet)
	require.NoError(t, err)
	require.Equal(t, ActionNone, act)
}

func TestLateMaintenanceNeverReopensClosedPool(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	start := f.clock
	require.NoError(t, f.engine.SetCapacity(2, 0, f.wallet))
	f.wallet.balance = big.NewInt(0)

	// Grace (day 37) and closing (day 51) both elapsed before maintenance ran.
	f.advance(60 * day)
	require.Equal(t, types.PoolStatusClosed, f.engine.Status(f.clock))

	act, err := f.engine.PerformBillingWork(2, f.wallet)
	require.NoError(t, err)
	require.Equal(t, ActionClosing, act)
	require.Equal(t, start.Add(37*day), f.engine.State().CloseStartedAt)
	require.Equal(t, types.PoolStatusClosed, f.engine.Status(f.clock))

	// An explicit close after the fact keeps the pool closed too.
	f.engine.Close()
	require.Equal(t, types.PoolStatusClosed, f.engine.Status(f.clock))
}

func TestSetCapacityRejectsAboveRegistryMaximum(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.registry.Restrictions()
	res.MaxBatchesPerPool = 3
	f.registry.SetRestrictions(res)

	require.ErrorIs(t, f.engine.SetCapacity(4, 0, f.wallet), ErrCapacityOverMaximum)
	require.Equal(t, big.NewInt(10_000), f.wallet.balance)
	require.Zero(t, f.engine.PaidCapacity())

	require.NoError(t, f.engine.SetCapacity(3, 0, f.wallet))
	require.Equal(t, uint64(3), f.engine.PaidCapacity())
}

func TestStatusLadder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.Equal(t, types.PoolStatusOpen, f.engine.Status(f.clock))

	require.NoError(t, f.engine.SetCapacity(1, 0, f.wallet))
	start := f.clock
	require.Equal(t, types.PoolStatusOpen, f.engine.Status(start.Add(29*day)))
	require.Equal(t, types.PoolStatusNotice, f.engine.Status(start.Add(30*day)))
	require.Equal(t, types.PoolStatusNotice, f.engine.Status(start.Add(36*day)))

	// Without a stored close start, grace expiry implies one at next+grace.
	require.Equal(t, types.PoolStatusClosing, f.engine.Status(start.Add(37*day)))
	require.Equal(t, types.PoolStatusClosing, f.engine.Status(start.Add(50*day)))
	require.Equal(t, types.PoolStatusClosed, f.engine.Status(start.Add(51*day)))
}

func TestExplicitClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.engine.SetCapacity(1, 0, f.wallet))

	f.engine.Close()
	require.Equal(t, types.PoolStatusClosing, f.engine.Status(f.clock))
	require.Equal(t, types.PoolStatusClosed, f.engine.Status(f.clock.Add(14*day)))

	// Close is idempotent: a second call keeps the original start.
	started := f.engine.State().CloseStartedAt
	f.advance(5 * day)
	f.engine.Close()
	require.Equal(t, started, f.engine.State().CloseStartedAt)
}

func TestTermsResnapshotOnAdvance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.engine.SetCapacity(2, 0, f.wallet))

	// Registry raises the fee mid-cycle; the running cycle keeps its
	// snapshot, the next advance picks up the new terms.
	terms := f.registry.BillingTerms()
	terms.FeePerBatch = big.NewInt(250)
	f.registry.SetBillingTerms(terms)
	require.Equal(t, big.NewInt(100), f.engine.State().FeePerBatch)

	f.advance(30 * day)
	act, err := f.engine.PerformBillingWork(2, f.wallet)
	require.NoError(t, err)
	require.Equal(t, ActionAdvanced, act)
	require.Equal(t, big.NewInt(250), f.engine.State().FeePerBatch)
	require.Equal(t, big.NewInt(500), f.engine.State().LastCycleFee)
}
