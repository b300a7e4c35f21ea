package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/vesting-engine/access"
	"github.com/warp/vesting-engine/allocator"
	"github.com/warp/vesting-engine/api"
	"github.com/warp/vesting-engine/config"
	"github.com/warp/vesting-engine/staking"
	"github.com/warp/vesting-engine/store/memory"
	"github.com/warp/vesting-engine/store/sqlite"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

// backend stores registry state, delegations and the token ledger together.
type backend interface {
	vesting.TxStore
	staking.TxStore
}

// app is the wired service. The caller must defer Close.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	store     backend
	roles     *access.Roles
	staking   *staking.Controller
	allocator *allocator.Allocator
	handler   *api.Handler
	scheduler *api.SettlementScheduler

	closeStore func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, closeStore: func() error { return nil }}

	switch cfg.Database.Driver {
	case "memory":
		a.store = memory.New()
	case "sqlite":
		s, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.store = s
		a.closeStore = s.Close
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	owner := token.Address(cfg.Roles.Owner)
	a.roles = access.NewRoles(owner)
	for _, addr := range cfg.Roles.Administrators {
		if err := a.roles.Grant(owner, access.CapAdministrator, token.Address(addr)); err != nil {
			a.Close()
			return nil, err
		}
	}
	for _, addr := range cfg.Roles.VestingManagers {
		if err := a.roles.Grant(owner, access.CapVestingManager, token.Address(addr)); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.staking = staking.NewController(a.store, token.Address(cfg.Rewards.PoolAddress), cfg.Staking.Periods)
	for _, v := range cfg.Staking.Validators {
		a.staking.RegisterValidator(staking.ValidatorID(v))
	}

	alloc, err := allocator.New(allocator.Config{
		Store:       a.store,
		Roles:       a.roles,
		Delegator:   a.staking,
		Distributor: a.staking,
		Treasury:    token.Address(cfg.Treasury.Address),
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.allocator = alloc

	if err := a.genesis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.seedPlans(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.handler = api.NewHandler(alloc, a.roles, a.staking, logger)
	a.scheduler = api.NewSettlementScheduler(alloc, token.Address(cfg.Scheduler.Manager), logger)
	a.scheduler.Enabled = cfg.Scheduler.Enabled
	if cfg.Scheduler.Interval > 0 {
		a.scheduler.CheckInterval = cfg.Scheduler.Interval
	}
	return a, nil
}

// genesis mints the treasury and rewards pool supplies once, while the
// account has no history.
func (a *app) genesis(ctx context.Context) error {
	if err := a.mintOnce(ctx, a.allocator.Treasury(), a.cfg.Treasury.InitialSupply); err != nil {
		return fmt.Errorf("treasury initial supply: %w", err)
	}
	if err := a.mintOnce(ctx, a.staking.RewardsPool(), a.cfg.Rewards.InitialSupply); err != nil {
		return fmt.Errorf("rewards initial supply: %w", err)
	}
	return nil
}

func (a *app) mintOnce(ctx context.Context, addr token.Address, initialSupply string) error {
	if initialSupply == "" {
		return nil
	}
	supply, err := token.ParseAmount(initialSupply)
	if err != nil {
		return err
	}
	if !supply.IsPositive() {
		return nil
	}

	ledger := a.allocator.Ledger()
	history, err := ledger.History(ctx, addr)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		return nil
	}
	if err := ledger.Mint(ctx, addr, supply, "genesis"); err != nil {
		return err
	}
	a.log.Info("genesis supply minted", "account", addr, "amount", supply)
	return nil
}

// seedPlans adds the configured plans when the registry is empty.
func (a *app) seedPlans(ctx context.Context) error {
	if len(a.cfg.SeedPlans) == 0 {
		return nil
	}
	existing, err := a.allocator.ListPlans(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for i, pj := range a.cfg.SeedPlans {
		plan, err := pj.ToPlan()
		if err != nil {
			return fmt.Errorf("seed plan %d: %w", i, err)
		}
		if plan, err = a.allocator.AddPlan(ctx, a.roles.Owner(), plan); err != nil {
			return fmt.Errorf("seed plan %d: %w", i, err)
		}
		a.log.Info("plan seeded", "plan", plan.String())
	}
	return nil
}

func (a *app) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	return a.closeStore()
}
