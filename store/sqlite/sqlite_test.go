package sqlite_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vesting-engine/access"
	"github.com/warp/vesting-engine/allocator"
	"github.com/warp/vesting-engine/staking"
	"github.com/warp/vesting-engine/store/sqlite"
	"github.com/warp/vesting-engine/store/sqlite/migrations"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_MigratesSchema(t *testing.T) {
	store := newStore(t)

	version, dirty, err := migrations.Version(store.DB())
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// Running again is a no-op.
	require.NoError(t, migrations.MigrateUp(store.DB()))
}

func TestStore_PlanRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	plan := vesting.Plan{
		CliffMonths:         12,
		TotalDurationMonths: 48,
		IntervalUnit:        vesting.UnitMonth,
		IntervalLength:      3,
		DelegationAllowed:   true,
		Terminable:          false,
	}
	id, err := store.AppendPlan(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, vesting.PlanID(1), id)

	got, err := store.GetPlan(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	plan.ID = id
	assert.Equal(t, plan, *got)

	missing, err := store.GetPlan(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)

	plans, err := store.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestStore_BeneficiaryUpsert(t *testing.T) {
	// GIVEN: A pending beneficiary
	// WHEN: Saving it again with a new status and termination time
	// THEN: Status changes, immutable fields are kept

	ctx := context.Background()
	store := newStore(t)
	id, err := store.AppendPlan(ctx, vesting.Plan{CliffMonths: 0, TotalDurationMonths: 12, IntervalUnit: vesting.UnitMonth, IntervalLength: 1})
	require.NoError(t, err)

	b := vesting.Beneficiary{
		Address:       "alice",
		PlanID:        id,
		StartMonth:    time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		FullAmount:    token.MustParseAmount("123456789012345678901234567890"),
		CliffAmount:   token.NewAmount(0),
		Status:        vesting.StatusPendingConfirmation,
		EscrowAddress: "escrow-alice",
		CreatedAt:     time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveBeneficiary(ctx, b))

	terminated := time.Date(2024, time.June, 3, 12, 30, 0, 0, time.UTC)
	b.Status = vesting.StatusTerminated
	b.TerminatedAt = terminated
	require.NoError(t, store.SaveBeneficiary(ctx, b))

	got, err := store.GetBeneficiary(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, vesting.StatusTerminated, got.Status)
	assert.True(t, got.TerminatedAt.Equal(terminated))
	assert.Equal(t, "123456789012345678901234567890", got.FullAmount.String())
	assert.True(t, got.StartMonth.Equal(b.StartMonth))

	none, err := store.GetBeneficiary(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx vesting.Store) error {
		ledger := token.NewLedger(tx)
		require.NoError(t, ledger.Mint(ctx, "treasury", token.NewAmount(10), "genesis"))
		require.NoError(t, tx.SaveEscrow(ctx, vesting.EscrowState{Address: "e", Beneficiary: "alice", Withdrawn: token.Zero, Returned: token.Zero}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	txs, err := store.LoadTransactions(ctx, "treasury")
	require.NoError(t, err)
	assert.Empty(t, txs)
	e, err := store.GetEscrow(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestStore_TransactionsAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	ledger := token.NewLedger(store)
	require.NoError(t, ledger.Mint(ctx, "treasury", token.NewAmount(10), "genesis"))

	_, err := store.DB().ExecContext(ctx, `UPDATE transactions SET amount = '1000'`)
	assert.True(t, sqlite.IsAppendOnlyViolation(err), "got %v", err)

	_, err = store.DB().ExecContext(ctx, `DELETE FROM transactions`)
	assert.True(t, sqlite.IsAppendOnlyViolation(err), "got %v", err)

	b, err := ledger.BalanceOf(ctx, "treasury")
	require.NoError(t, err)
	assert.Equal(t, "10", b.String())
}

func TestStore_AllocatorLifecycle(t *testing.T) {
	// GIVEN: The allocator running on SQLite
	// WHEN: A beneficiary goes through connect, approve, start, retrieve, stop and settle
	// THEN: Every step commits and tokens are conserved

	ctx := context.Background()
	store := newStore(t)
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := clockFunc(func() time.Time { return now })

	roles := access.NewRoles("owner")
	a, err := allocator.New(allocator.Config{
		Store:    store,
		Roles:    roles,
		Treasury: "treasury",
		Clock:    clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	require.NoError(t, a.Ledger().Mint(ctx, "treasury", token.NewAmount(1_000_000), "genesis"))

	plan, err := a.AddPlan(ctx, "owner", vesting.Plan{
		CliffMonths: 6, TotalDurationMonths: 12, IntervalUnit: vesting.UnitMonth, IntervalLength: 1, Terminable: true,
	})
	require.NoError(t, err)
	_, err = a.ConnectBeneficiaryToPlan(ctx, "owner", allocator.ConnectRequest{
		Address: "alice", PlanID: plan.ID, StartMonth: now,
		FullAmount: token.NewAmount(600_000), CliffAmount: token.NewAmount(300_000),
	})
	require.NoError(t, err)
	require.NoError(t, a.Approve(ctx, "alice", "alice"))
	require.NoError(t, a.StartVesting(ctx, "owner", "alice"))

	escrow, err := a.Escrow(ctx, "alice")
	require.NoError(t, err)

	now = time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)
	paid, err := escrow.Retrieve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "350000", paid.String())

	require.NoError(t, a.StopVesting(ctx, "owner", "alice"))
	returned, err := escrow.RetrieveAfterTermination(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, "250000", returned.String())

	treasury, err := a.Ledger().BalanceOf(ctx, "treasury")
	require.NoError(t, err)
	assert.Equal(t, "650000", treasury.String())

	b, err := a.Beneficiary(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, vesting.StatusTerminated, b.Status)

	st, err := escrow.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "350000", st.Withdrawn.String())
	assert.Equal(t, "250000", st.Returned.String())
}

func TestStore_DelegationsSurviveRestart(t *testing.T) {
	// GIVEN: An escrow with 60 of 100 tokens delegated and a bounty accrued
	// WHEN: The process restarts on the same database file
	// THEN: The delegation can still be undelegated, ids keep counting and
	//       the bounty is still claimable

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vesting.db")

	store, err := sqlite.New(path)
	require.NoError(t, err)
	ledger := token.NewLedger(store)
	require.NoError(t, ledger.Mint(ctx, "escrow", token.NewAmount(100), "genesis"))
	require.NoError(t, ledger.Mint(ctx, "pool", token.NewAmount(10), "genesis"))

	ctrl := staking.NewController(store, "pool", nil)
	ctrl.RegisterValidator(1)
	id, err := ctrl.RequestDelegation(ctx, "escrow", 1, token.NewAmount(60), 6, "node-a")
	require.NoError(t, err)
	assert.Equal(t, staking.DelegationID(1), id)
	require.NoError(t, ctrl.AccrueBounty(ctx, 1, "escrow", token.NewAmount(7)))
	require.NoError(t, store.Close())

	store, err = sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()
	ledger = token.NewLedger(store)
	ctrl = staking.NewController(store, "pool", nil)
	ctrl.RegisterValidator(1)

	ds, err := ctrl.Delegations(ctx, "escrow")
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "60", ds[0].Amount.String())
	assert.Equal(t, "node-a", ds[0].Info)
	assert.Equal(t, staking.DelegationActive, ds[0].State)

	require.NoError(t, ctrl.RequestUndelegation(ctx, "escrow", id))
	b, err := ledger.Balances(ctx, "escrow")
	require.NoError(t, err)
	assert.True(t, b.Locked.IsZero())
	assert.Equal(t, "100", b.Free().String())

	next, err := ctrl.RequestDelegation(ctx, "escrow", 1, token.NewAmount(10), 2, "")
	require.NoError(t, err)
	assert.Equal(t, staking.DelegationID(2), next)

	paid, err := ctrl.ClaimBounty(ctx, 1, "escrow", "alice")
	require.NoError(t, err)
	assert.Equal(t, "7", paid.String())
	owed, err := ctrl.Bounty(ctx, 1, "escrow")
	require.NoError(t, err)
	assert.True(t, owed.IsZero())
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }
