package token_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vesting-engine/store/memory"
	"github.com/warp/vesting-engine/token"
)

func newLedger(t *testing.T) (*token.Ledger, context.Context) {
	t.Helper()
	ledger := token.NewLedger(memory.New())
	ctx := context.Background()
	require.NoError(t, ledger.Mint(ctx, "treasury", token.NewAmount(1000), "genesis"))
	return ledger, ctx
}

func TestLedger_Transfer(t *testing.T) {
	// GIVEN: A treasury holding 1000
	// WHEN: Transferring 300 to alice
	// THEN: Balances are replayed from history and the total is conserved

	ledger, ctx := newLedger(t)

	require.NoError(t, ledger.Transfer(ctx, "treasury", "alice", token.NewAmount(300), "grant"))

	treasury, err := ledger.BalanceOf(ctx, "treasury")
	require.NoError(t, err)
	alice, err := ledger.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "700", treasury.String())
	assert.Equal(t, "300", alice.String())

	history, err := ledger.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, token.TxTransfer, history[0].Type)
	assert.NotEmpty(t, history[0].ID)
}

func TestLedger_TransferInsufficient(t *testing.T) {
	ledger, ctx := newLedger(t)

	err := ledger.Transfer(ctx, "treasury", "alice", token.NewAmount(1001), "too much")
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)

	var ib *token.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, token.Address("treasury"), ib.Account)
	assert.Equal(t, "1000", ib.Available.String())

	history, err := ledger.History(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLedger_InvalidAmounts(t *testing.T) {
	ledger, ctx := newLedger(t)

	assert.ErrorIs(t, ledger.Transfer(ctx, "treasury", "alice", token.NewAmount(0), ""), token.ErrInvalidAmount)
	assert.ErrorIs(t, ledger.Transfer(ctx, "treasury", "alice", token.NewAmount(-5), ""), token.ErrInvalidAmount)
	assert.ErrorIs(t, ledger.Transfer(ctx, "treasury", "", token.NewAmount(5), ""), token.ErrInvalidAddress)
	assert.ErrorIs(t, ledger.Lock(ctx, "treasury", token.NewAmount(0), ""), token.ErrInvalidAmount)
}

func TestLedger_LockBlocksTransfer(t *testing.T) {
	// GIVEN: 600 of the treasury's 1000 locked for staking
	// WHEN: Transferring more than the free 400
	// THEN: The transfer fails until the lock is released

	ledger, ctx := newLedger(t)
	require.NoError(t, ledger.Lock(ctx, "treasury", token.NewAmount(600), "stake"))

	b, err := ledger.Balances(ctx, "treasury")
	require.NoError(t, err)
	assert.Equal(t, "1000", b.Total.String())
	assert.Equal(t, "600", b.Locked.String())
	assert.Equal(t, "400", b.Free().String())

	err = ledger.Transfer(ctx, "treasury", "alice", token.NewAmount(401), "")
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)
	err = ledger.Lock(ctx, "treasury", token.NewAmount(401), "")
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)

	assert.ErrorIs(t, ledger.Unlock(ctx, "treasury", token.NewAmount(601), ""), token.ErrInsufficientLocked)
	require.NoError(t, ledger.Unlock(ctx, "treasury", token.NewAmount(600), "unstake"))
	require.NoError(t, ledger.Transfer(ctx, "treasury", "alice", token.NewAmount(1000), ""))

	locked, err := ledger.LockedBalanceOf(ctx, "treasury")
	require.NoError(t, err)
	assert.True(t, locked.IsZero())
}

func TestLedger_ConcurrentTransfersNeverOverdraw(t *testing.T) {
	ledger, ctx := newLedger(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ledger.Transfer(ctx, "treasury", "alice", token.NewAmount(30), "") == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 33, succeeded)
	treasury, err := ledger.BalanceOf(ctx, "treasury")
	require.NoError(t, err)
	assert.Equal(t, "10", treasury.String())
}

// =============================================================================
// AMOUNT
// =============================================================================

func TestParseAmount(t *testing.T) {
	a, err := token.ParseAmount("123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", a.String())

	_, err = token.ParseAmount("-1")
	assert.ErrorIs(t, err, token.ErrInvalidAmount)
	_, err = token.ParseAmount("1.5")
	assert.ErrorIs(t, err, token.ErrInvalidAmount)
	_, err = token.ParseAmount("abc")
	assert.ErrorIs(t, err, token.ErrInvalidAmount)
}

func TestAmount_MulDivFloor(t *testing.T) {
	assert.Equal(t, "3", token.NewAmount(10).MulDivFloor(1, 3).String())
	assert.Equal(t, "6", token.NewAmount(10).MulDivFloor(2, 3).String())
	assert.Equal(t, "10", token.NewAmount(10).MulDivFloor(3, 3).String())
}

func TestAmount_JSON(t *testing.T) {
	var v struct {
		A token.Amount `json:"a"`
		B token.Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"2000000","b":15}`), &v))
	assert.Equal(t, "2000000", v.A.String())
	assert.Equal(t, "15", v.B.String())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"2000000","b":"15"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"a":"-3"}`), &v))
}
