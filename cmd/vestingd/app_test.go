package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vesting-engine/config"
	"github.com/warp/vesting-engine/factory"
	"github.com/warp/vesting-engine/token"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "vesting.db")
	cfg.Treasury.InitialSupply = "5000000"
	cfg.Rewards.InitialSupply = "25000"
	cfg.Roles.VestingManagers = []string{"ops"}
	cfg.Scheduler.Manager = "ops"
	cfg.SeedPlans = []factory.PlanJSON{{
		CliffMonths: 12, TotalDurationMonths: 36, IntervalUnit: "month", IntervalLength: 3, Terminable: true,
	}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewApp_GenesisAndSeedRunOnce(t *testing.T) {
	// GIVEN: A fresh SQLite database
	// WHEN: The app starts twice against it
	// THEN: Supply is minted and plans seeded only the first time

	ctx := context.Background()
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for range 2 {
		a, err := newApp(ctx, cfg, logger)
		require.NoError(t, err)

		balance, err := a.allocator.Ledger().BalanceOf(ctx, "treasury")
		require.NoError(t, err)
		assert.Equal(t, "5000000", balance.String())

		pool, err := a.allocator.Ledger().BalanceOf(ctx, "rewards-pool")
		require.NoError(t, err)
		assert.Equal(t, "25000", pool.String())

		plans, err := a.allocator.ListPlans(ctx)
		require.NoError(t, err)
		assert.Len(t, plans, 1)

		assert.True(t, a.roles.HasVestingManagerRole("ops"))
		require.NoError(t, a.Close())
	}
}

func TestNewApp_DelegationSurvivesRestart(t *testing.T) {
	// GIVEN: A delegation made through the served app on SQLite
	// WHEN: The app restarts
	// THEN: The delegation is still listed and can be undelegated

	ctx := context.Background()
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := newApp(ctx, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, a.allocator.Ledger().Mint(ctx, "escrow-x", token.NewAmount(100), "test"))
	id, err := a.staking.RequestDelegation(ctx, "escrow-x", 1, token.NewAmount(60), 6, "")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = newApp(ctx, cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	ds, err := a.staking.Delegations(ctx, "escrow-x")
	require.NoError(t, err)
	require.Len(t, ds, 1)
	require.NoError(t, a.staking.RequestUndelegation(ctx, "escrow-x", id))

	locked, err := a.allocator.Ledger().LockedBalanceOf(ctx, "escrow-x")
	require.NoError(t, err)
	assert.True(t, locked.IsZero())
}

func TestNewApp_Memory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "memory"
	cfg.Roles.Administrators = []string{"admin"}

	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.roles.IsAdministrator("admin"))
	assert.NotNil(t, a.handler)
	assert.Equal(t, cfg.Scheduler.Interval, a.scheduler.CheckInterval)
}

func TestScheduleCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"schedule",
		"--cliff", "12", "--total", "36", "--interval", "3",
		"--start", "2024-01", "--full", "3600000", "--cliff-amount", "1200000"})
	require.NoError(t, rootCmd.Execute())

	s := out.String()
	assert.Contains(t, s, "2025-01-01")
	assert.Contains(t, s, "1200000")
	assert.Contains(t, s, "2027-01-01")
	assert.Contains(t, s, "3600000")
}
